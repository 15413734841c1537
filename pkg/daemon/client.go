// Package daemon provides the HTTP client for the file-sharing daemon's
// JSON interface. Reads are single-shot: retry policy belongs to the
// poll scheduler, and command POSTs must never auto-retry.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sjf/psyche-search/pkg/protocol"
)

// Client talks to one daemon instance.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.RWMutex
	online      bool
	lastContact time.Time
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New creates a daemon client. Redirects are not followed: the daemon
// answers form posts with 303s meant for browsers.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:    20,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		online: true,
	}
}

// IsOnline reports whether the last daemon contact succeeded.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	c.online = online
	c.lastContact = time.Now()
	c.mu.Unlock()
}

// Status fetches connectivity and session state.
func (c *Client) Status(ctx context.Context) (protocol.DaemonStatus, error) {
	var status protocol.DaemonStatus
	err := c.getJSON(ctx, "/status.json", &status)
	return status, err
}

// SearchTree polls one search snapshot. The daemon keeps answering 200
// with a status tag while results converge.
func (c *Client) SearchTree(ctx context.Context, term string) (protocol.TreeSnapshot, error) {
	var snap protocol.TreeSnapshot
	err := c.getJSON(ctx, "/search/"+url.PathEscape(term)+"/tree.json", &snap)
	return snap, err
}

// UserTree fetches a remote user's browsable share tree.
func (c *Client) UserTree(ctx context.Context, username string) (protocol.TreeSnapshot, error) {
	var snap protocol.TreeSnapshot
	err := c.getJSON(ctx, "/users/"+url.PathEscape(username)+"/tree.json", &snap)
	return snap, err
}

// FilesTree fetches the local file browser snapshot, optionally
// filtered.
func (c *Client) FilesTree(ctx context.Context, search string) (protocol.TreeSnapshot, error) {
	path := "/files/tree.json?search=" + url.QueryEscape(search)
	var snap protocol.TreeSnapshot
	err := c.getJSON(ctx, path, &snap)
	return snap, err
}

// Downloads fetches the transfer queue. The daemon returns it already
// flattened.
func (c *Client) Downloads(ctx context.Context) ([]protocol.DownloadItem, error) {
	var items []protocol.DownloadItem
	err := c.getJSON(ctx, "/downloads.json", &items)
	return items, err
}

// MediaMeta probes a local path before it is handed to the playback
// collaborator.
func (c *Client) MediaMeta(ctx context.Context, path string) (protocol.MediaMeta, error) {
	var meta protocol.MediaMeta
	err := c.getJSON(ctx, "/media/meta?path="+url.QueryEscape(path), &meta)
	return meta, err
}

// AudioMeta probes audio-specific metadata for a local path.
func (c *Client) AudioMeta(ctx context.Context, path string) (protocol.MediaMeta, error) {
	var meta protocol.MediaMeta
	err := c.getJSON(ctx, "/media/audio-meta?path="+url.QueryEscape(path), &meta)
	return meta, err
}

// RequestDownload queues a remote file for download.
func (c *Client) RequestDownload(ctx context.Context, user, path string, size int64) error {
	return c.postForm(ctx, "/download", url.Values{
		"user": {user},
		"path": {path},
		"size": {strconv.FormatInt(size, 10)},
	})
}

// PauseDownload pauses one transfer.
func (c *Client) PauseDownload(ctx context.Context, user, path string) error {
	return c.transferCommand(ctx, "pause", user, path)
}

// ResumeDownload resumes one transfer.
func (c *Client) ResumeDownload(ctx context.Context, user, path string) error {
	return c.transferCommand(ctx, "resume", user, path)
}

// CancelDownload aborts one transfer.
func (c *Client) CancelDownload(ctx context.Context, user, path string) error {
	return c.transferCommand(ctx, "cancel", user, path)
}

// ClearDownload removes one transfer from the queue.
func (c *Client) ClearDownload(ctx context.Context, user, path string) error {
	return c.transferCommand(ctx, "clear", user, path)
}

// ClearCompleted removes all finished transfers from the queue.
func (c *Client) ClearCompleted(ctx context.Context) error {
	return c.postForm(ctx, "/downloads/clear-completed", url.Values{})
}

func (c *Client) transferCommand(ctx context.Context, action, user, path string) error {
	return c.postForm(ctx, "/downloads/"+action, url.Values{
		"user": {user},
		"path": {path},
	})
}

// RenameFile renames a downloaded file on the daemon host. The optional
// download coordinates let the daemon keep its transfer record pointing
// at the renamed file.
func (c *Client) RenameFile(ctx context.Context, path, newName, downloadUser, downloadPath string) error {
	return c.postForm(ctx, "/files/rename", url.Values{
		"path":          {path},
		"name":          {newName},
		"download_user": {downloadUser},
		"download_path": {downloadPath},
	})
}

// DeleteFile removes a downloaded file on the daemon host.
func (c *Client) DeleteFile(ctx context.Context, path, downloadUser, downloadPath string) error {
	return c.postForm(ctx, "/files/delete", url.Values{
		"path":          {path},
		"download_user": {downloadUser},
		"download_path": {downloadPath},
	})
}

// StartSearch registers a search term with the daemon. The daemon
// answers with a browser redirect, which counts as success.
func (c *Client) StartSearch(ctx context.Context, term string) error {
	return c.postForm(ctx, "/search", url.Values{"term": {term}})
}

// RemoveSearch drops a search term (and its results) on the daemon.
func (c *Client) RemoveSearch(ctx context.Context, term string) error {
	return c.postForm(ctx, "/search/remove", url.Values{"term": {term}})
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return statusError(path, resp)
	}
	c.setOnline(true)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.setOnline(false)
		return statusError(path, resp)
	}
	c.setOnline(true)
	return nil
}

// StatusError reports a non-success daemon response, keeping the body
// text the daemon uses for human-readable failure reasons.
type StatusError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: daemon returned %d: %s", e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: daemon returned %d", e.Path, e.StatusCode)
}

func statusError(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
