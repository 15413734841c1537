// Package sync owns the query/result/cache/selection lifecycle: it
// opens views by query key, drives their poll schedulers, funnels ready
// snapshots through flattening, caching, grouping, and selection
// reconciliation, and issues daemon commands followed by out-of-band
// refreshes.
package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/sjf/psyche-search/internal/metrics"
	"github.com/sjf/psyche-search/pkg/backoff"
	"github.com/sjf/psyche-search/pkg/daemon"
	"github.com/sjf/psyche-search/pkg/flatten"
	"github.com/sjf/psyche-search/pkg/models"
	"github.com/sjf/psyche-search/pkg/poller"
	"github.com/sjf/psyche-search/pkg/protocol"
	"github.com/sjf/psyche-search/pkg/resultcache"
)

// Kind identifies the flavor of a view.
type Kind string

const (
	KindSearch    Kind = "search"
	KindDownloads Kind = "downloads"
	KindBrowse    Kind = "browse"
	KindUser      Kind = "user"
)

// DownloadsKey is the fixed query key of the transfer queue view.
const DownloadsKey = "downloads"

// SearchKey builds the query key for a search term.
func SearchKey(term string) string { return "search/" + term }

// BrowseKey builds the query key for a file-browser filter.
func BrowseKey(filter string) string { return "files/" + filter }

// UserKey builds the query key for a remote user's share tree.
func UserKey(username string) string { return "users/" + username }

// Options configures an Engine. Zero values fall back to the system
// clock, the default backoff policy, and a 2s downloads cadence.
type Options struct {
	Client            *daemon.Client
	Cache             *resultcache.Cache
	Store             resultcache.Store
	Clock             poller.Clock
	Policy            backoff.Config
	DownloadsInterval time.Duration
	Logger            *zap.Logger
}

// Engine coordinates one daemon client, one result cache, and any
// number of per-key views.
type Engine struct {
	client            *daemon.Client
	cache             *resultcache.Cache
	store             resultcache.Store
	clock             poller.Clock
	policy            backoff.Config
	downloadsInterval time.Duration
	log               *zap.Logger
	baseCtx           context.Context

	mu    stdsync.Mutex
	views map[string]*View
}

// NewEngine creates an engine. ctx bounds all poll loops; cancelling it
// stops every scheduler.
func NewEngine(ctx context.Context, opts Options) *Engine {
	if opts.Cache == nil {
		opts.Cache = resultcache.New()
	}
	if opts.Clock == nil {
		opts.Clock = poller.SystemClock{}
	}
	if opts.Policy == (backoff.Config{}) {
		opts.Policy = backoff.DefaultConfig()
	}
	if opts.DownloadsInterval == 0 {
		opts.DownloadsInterval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		client:            opts.Client,
		cache:             opts.Cache,
		store:             opts.Store,
		clock:             opts.Clock,
		policy:            opts.Policy,
		downloadsInterval: opts.DownloadsInterval,
		log:               opts.Logger,
		baseCtx:           ctx,
		views:             make(map[string]*View),
	}
}

// Cache exposes the engine's result cache (read paths for the local API).
func (e *Engine) Cache() *resultcache.Cache { return e.cache }

// OpenSearch opens (or refreshes) the view for a search term. The
// daemon registers the search lazily on the first tree poll.
func (e *Engine) OpenSearch(term string) *View {
	return e.open(KindSearch, SearchKey(term), func(v *View) poller.FetchFunc {
		return e.treeFetch(v, func(ctx context.Context) (protocol.TreeSnapshot, error) {
			return e.client.SearchTree(ctx, term)
		})
	}, 0)
}

// OpenDownloads opens (or refreshes) the transfer queue view, polled on
// a fixed interval: the queue changes continuously rather than
// converging.
func (e *Engine) OpenDownloads() *View {
	return e.open(KindDownloads, DownloadsKey, func(v *View) poller.FetchFunc {
		return func(ctx context.Context) (protocol.TreeSnapshot, error) {
			start := time.Now()
			items, err := e.client.Downloads(ctx)
			e.observePoll(v, start, err)
			if err != nil {
				return protocol.TreeSnapshot{Status: protocol.StatusError}, err
			}
			v.setPending(flatten.FromDownloads(items))
			return protocol.TreeSnapshot{
				Status: protocol.StatusReady,
				Tree:   &protocol.SnapshotNode{Type: protocol.NodeRoot},
			}, nil
		}
	}, e.downloadsInterval)
}

// OpenBrowse opens (or refreshes) the local file browser view.
func (e *Engine) OpenBrowse(filter string) *View {
	return e.open(KindBrowse, BrowseKey(filter), func(v *View) poller.FetchFunc {
		return e.treeFetch(v, func(ctx context.Context) (protocol.TreeSnapshot, error) {
			return e.client.FilesTree(ctx, filter)
		})
	}, 0)
}

// OpenUser opens (or refreshes) a remote user's share tree view.
func (e *Engine) OpenUser(username string) *View {
	return e.open(KindUser, UserKey(username), func(v *View) poller.FetchFunc {
		return e.treeFetch(v, func(ctx context.Context) (protocol.TreeSnapshot, error) {
			return e.client.UserTree(ctx, username)
		})
	}, 0)
}

func (e *Engine) treeFetch(v *View, get func(context.Context) (protocol.TreeSnapshot, error)) poller.FetchFunc {
	return func(ctx context.Context) (protocol.TreeSnapshot, error) {
		start := time.Now()
		snap, err := get(ctx)
		e.observePoll(v, start, err)
		return snap, err
	}
}

func (e *Engine) observePoll(v *View, start time.Time, err error) {
	metrics.ObservePollDuration(string(v.Kind), time.Since(start))
	metrics.SetDaemonOnline(e.client.IsOnline())
	if err != nil {
		e.log.Debug("poll failed", zap.String("key", v.Key), zap.Error(err))
	}
}

func (e *Engine) open(kind Kind, key string, mkFetch func(*View) poller.FetchFunc, interval time.Duration) *View {
	e.mu.Lock()
	if v, ok := e.views[key]; ok {
		e.mu.Unlock()
		v.Refresh()
		return v
	}

	v := newView(e, kind, key)
	v.poller = poller.New(poller.Config{
		Key:      key,
		Fetch:    mkFetch(v),
		Policy:   e.policy,
		Clock:    e.clock,
		Interval: interval,
		OnUpdate: v.handleUpdate,
	})
	e.views[key] = v
	metrics.SetActiveViews(len(e.views))
	e.mu.Unlock()

	e.log.Info("view opened", zap.String("view_id", v.ID), zap.String("key", key))
	v.seedFromCache()
	v.poller.Activate(e.baseCtx)
	return v
}

// View returns the open view for key, if any.
func (e *Engine) View(key string) (*View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[key]
	return v, ok
}

// Views snapshots all open views.
func (e *Engine) Views() []ViewState {
	e.mu.Lock()
	views := make([]*View, 0, len(e.views))
	for _, v := range e.views {
		views = append(views, v)
	}
	e.mu.Unlock()

	states := make([]ViewState, 0, len(views))
	for _, v := range views {
		states = append(states, v.State())
	}
	return states
}

func (e *Engine) closeView(v *View) {
	v.poller.Cancel()
	e.mu.Lock()
	if current, ok := e.views[v.Key]; ok && current == v {
		delete(e.views, v.Key)
	}
	metrics.SetActiveViews(len(e.views))
	e.mu.Unlock()
	e.log.Info("view closed", zap.String("view_id", v.ID), zap.String("key", v.Key))
}

// Close cancels every scheduler and persists the cache one last time.
func (e *Engine) Close() {
	e.mu.Lock()
	views := make([]*View, 0, len(e.views))
	for _, v := range e.views {
		views = append(views, v)
	}
	e.views = make(map[string]*View)
	metrics.SetActiveViews(0)
	e.mu.Unlock()

	for _, v := range views {
		v.poller.Cancel()
	}
	e.persistCache()
}

func (e *Engine) cachePut(key string, rows []models.Row) {
	e.cache.Put(key, rows)
	metrics.SetCacheEntries(e.cache.Len())
	e.persistCache()
}

// persistCache is best-effort: a store failure must never break the
// poll loop.
func (e *Engine) persistCache() {
	if e.store == nil {
		return
	}
	if err := e.cache.Persist(e.store); err != nil {
		e.log.Warn("cache persist failed", zap.Error(err))
	}
}

// RestoreCache loads persisted entries so revisited views render
// instantly across sessions. Malformed stores are logged and ignored.
func (e *Engine) RestoreCache() {
	if e.store == nil {
		return
	}
	if err := e.cache.LoadFrom(e.store); err != nil {
		e.log.Warn("cache restore failed", zap.Error(err))
		return
	}
	metrics.SetCacheEntries(e.cache.Len())
}
