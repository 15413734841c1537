package sync

import (
	"fmt"
	stdsync "sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sjf/psyche-search/internal/metrics"
	"github.com/sjf/psyche-search/pkg/flatten"
	"github.com/sjf/psyche-search/pkg/grouping"
	"github.com/sjf/psyche-search/pkg/models"
	"github.com/sjf/psyche-search/pkg/poller"
	"github.com/sjf/psyche-search/pkg/protocol"
	"github.com/sjf/psyche-search/pkg/selection"
)

// View is the live projection of one query key: flattened rows, their
// grouped/sorted rendering, the tracked selection, and a status note.
type View struct {
	ID   string
	Kind Kind
	Key  string

	engine *Engine
	poller *poller.Poller

	mu         stdsync.Mutex
	sortKey    grouping.SortKey
	direction  grouping.Direction
	rows       []models.Row
	groups     []models.Group
	selection  *models.Row
	state      poller.State
	note       string
	fromCache  bool
	pending    []models.Row
	hasPending bool
}

// ViewState is an immutable snapshot of a view for rendering.
type ViewState struct {
	ID        string             `json:"id"`
	Kind      Kind               `json:"kind"`
	Key       string             `json:"key"`
	State     string             `json:"state"`
	Note      string             `json:"note,omitempty"`
	FromCache bool               `json:"from_cache"`
	SortKey   grouping.SortKey   `json:"sort_key"`
	Direction grouping.Direction `json:"direction"`
	Groups    []models.Group     `json:"groups"`
	Selection *models.Row        `json:"selection,omitempty"`
}

func newView(e *Engine, kind Kind, key string) *View {
	return &View{
		ID:        uuid.NewString(),
		Kind:      kind,
		Key:       key,
		engine:    e,
		sortKey:   grouping.SortByName,
		direction: grouping.Ascending,
		state:     poller.StateIdle,
	}
}

// Refresh re-arms the scheduler: a no-op while a fetch loop is already
// in flight (the pending wait is shortcut instead), a fresh loop after
// Ready, Exhausted, or Cancelled.
func (v *View) Refresh() {
	v.poller.Activate(v.engine.baseCtx)
}

// Close stops polling for this key. Cached rows survive so reopening
// the same key renders instantly.
func (v *View) Close() {
	v.engine.closeView(v)
}

// State snapshots the view. Groups share row backing arrays with the
// view; treat the result as read-only.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := ViewState{
		ID:        v.ID,
		Kind:      v.Kind,
		Key:       v.Key,
		State:     v.state.String(),
		Note:      v.note,
		FromCache: v.fromCache,
		SortKey:   v.sortKey,
		Direction: v.direction,
		Groups:    v.groups,
	}
	if v.selection != nil {
		sel := *v.selection
		st.Selection = &sel
	}
	return st
}

// Rows returns a copy of the current flat row set.
func (v *View) Rows() []models.Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	rows := make([]models.Row, len(v.rows))
	copy(rows, v.rows)
	return rows
}

// SetSort reorders the current rows without refetching.
func (v *View) SetSort(key grouping.SortKey, dir grouping.Direction) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sortKey = key
	v.direction = dir
	v.regroupLocked()
}

// Select marks the row with the given identity as selected. Returns
// false when no current row matches.
func (v *View) Select(key models.RowKey) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range v.rows {
		if r.Key() == key {
			row := r
			v.selection = &row
			return true
		}
	}
	return false
}

// ClearSelection drops the selection.
func (v *View) ClearSelection() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selection = nil
}

// Selected returns a copy of the selected row, if any.
func (v *View) Selected() *models.Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selection == nil {
		return nil
	}
	sel := *v.selection
	return &sel
}

// setPending hands the downloads fetch's projected rows to handleUpdate,
// which runs on the same scheduler goroutine right after the fetch
// returns.
func (v *View) setPending(rows []models.Row) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = rows
	v.hasPending = true
}

func (v *View) takePending() []models.Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	rows := v.pending
	v.pending = nil
	v.hasPending = false
	if rows == nil {
		rows = []models.Row{}
	}
	return rows
}

func (v *View) project(snap protocol.TreeSnapshot) []models.Row {
	if v.Kind == KindDownloads {
		return v.takePending()
	}
	return flatten.Rows(snap)
}

// handleUpdate runs once per completed poll attempt, strictly in
// attempt order for this key.
func (v *View) handleUpdate(u poller.Update) {
	metrics.RecordPoll(string(v.Kind), u.State.String())

	switch u.State {
	case poller.StateReady:
		rows := v.project(u.Snapshot)
		v.mu.Lock()
		v.state = u.State
		v.rows = rows
		v.fromCache = false
		v.selection = selection.Reconcile(v.selection, rows)
		v.note = readyNote(rows)
		v.regroupLocked()
		v.mu.Unlock()
		v.engine.cachePut(v.Key, rows)

	case poller.StateRetrying:
		// Previous rows stay on screen; only the note changes.
		v.mu.Lock()
		v.state = u.State
		v.selection = selection.Reconcile(v.selection, v.rows)
		v.note = retryNote(u)
		v.mu.Unlock()

	case poller.StateExhausted:
		v.mu.Lock()
		v.state = u.State
		if u.Snapshot.Status == protocol.StatusNotFound {
			v.note = "nothing shared under this key; showing last known results"
		} else {
			v.note = "daemon has no fresh data; showing last known results"
		}
		v.mu.Unlock()
		v.engine.log.Warn("poll attempts exhausted",
			zap.String("key", v.Key), zap.Int("attempts", u.Attempt))
	}
}

// seedFromCache pre-populates the view from the last good row set, so
// the user sees data immediately while the first poll is in flight.
func (v *View) seedFromCache() {
	entry, ok := v.engine.cache.Entry(v.Key)
	if !ok {
		return
	}
	rows := make([]models.Row, len(entry.Rows))
	copy(rows, entry.Rows)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.rows = rows
	v.fromCache = true
	v.selection = selection.Reconcile(v.selection, rows)
	v.note = "cached " + humanize.Time(entry.CapturedAt)
	v.regroupLocked()
}

// removeRow drops one row after the daemon confirmed its removal, and
// returns the remaining rows for the cache rewrite.
func (v *View) removeRow(key models.RowKey) []models.Row {
	v.mu.Lock()
	defer v.mu.Unlock()

	kept := v.rows[:0:0]
	for _, r := range v.rows {
		if r.Key() != key {
			kept = append(kept, r)
		}
	}
	v.rows = kept
	v.selection = selection.Reconcile(v.selection, kept)
	v.regroupLocked()

	rows := make([]models.Row, len(kept))
	copy(rows, kept)
	return rows
}

func (v *View) regroupLocked() {
	v.groups = grouping.GroupAndSort(v.rows, v.sortKey, v.direction)
}

func readyNote(rows []models.Row) string {
	var total int64
	for _, r := range rows {
		total += r.Size
	}
	return fmt.Sprintf("%s items, %s",
		humanize.Comma(int64(len(rows))), humanize.Bytes(uint64(total)))
}

func retryNote(u poller.Update) string {
	switch {
	case u.Err != nil:
		return fmt.Sprintf("daemon unreachable, retrying (attempt %d)", u.Attempt)
	case u.Snapshot.Status == protocol.StatusNotFound:
		return fmt.Sprintf("no results registered yet (attempt %d)", u.Attempt)
	default:
		return fmt.Sprintf("results still arriving (attempt %d)", u.Attempt)
	}
}
