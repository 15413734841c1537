package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/sjf/psyche-search/internal/metrics"
	"github.com/sjf/psyche-search/pkg/models"
	"github.com/sjf/psyche-search/pkg/protocol"
)

// Commands are single-shot: failures surface to the caller immediately
// and are never auto-retried. Successful mutations of the transfer
// queue kick an out-of-band refresh so the view reflects the change
// ahead of the next scheduled poll.

// Download queues a remote file. The row usually comes from a search or
// user view.
func (e *Engine) Download(ctx context.Context, row models.Row) error {
	err := e.client.RequestDownload(ctx, row.OwnerID, row.SourcePath, row.Size)
	e.finishCommand("download", err)
	return err
}

// Pause pauses the transfer behind row.
func (e *Engine) Pause(ctx context.Context, row models.Row) error {
	err := e.client.PauseDownload(ctx, row.OwnerID, row.SourcePath)
	e.finishCommand("pause", err)
	return err
}

// Resume resumes the transfer behind row.
func (e *Engine) Resume(ctx context.Context, row models.Row) error {
	err := e.client.ResumeDownload(ctx, row.OwnerID, row.SourcePath)
	e.finishCommand("resume", err)
	return err
}

// CancelTransfer aborts the transfer behind row.
func (e *Engine) CancelTransfer(ctx context.Context, row models.Row) error {
	err := e.client.CancelDownload(ctx, row.OwnerID, row.SourcePath)
	e.finishCommand("cancel", err)
	return err
}

// ClearTransfer removes the transfer behind row from the queue.
func (e *Engine) ClearTransfer(ctx context.Context, row models.Row) error {
	err := e.client.ClearDownload(ctx, row.OwnerID, row.SourcePath)
	e.finishCommand("clear", err)
	return err
}

// ClearCompleted removes every finished transfer from the queue.
func (e *Engine) ClearCompleted(ctx context.Context) error {
	err := e.client.ClearCompleted(ctx)
	e.finishCommand("clear_completed", err)
	return err
}

// Rename renames the local file behind row. Rows that came off the
// transfer queue carry their download coordinates so the daemon keeps
// the queue entry pointing at the new name.
func (e *Engine) Rename(ctx context.Context, v *View, row models.Row, newName string) error {
	path := row.LocalPath
	if path == "" {
		path = row.SourcePath
	}
	var user, downloadPath string
	if row.Status != "" {
		user, downloadPath = row.OwnerID, row.SourcePath
	}
	err := e.client.RenameFile(ctx, path, newName, user, downloadPath)
	metrics.RecordCommand("rename", err)
	if err != nil {
		return err
	}
	v.Refresh()
	return nil
}

// Delete removes the local file behind row. After the daemon confirms,
// the row is dropped from the view and its cached entry immediately —
// the next poll would only re-show a file that no longer exists.
func (e *Engine) Delete(ctx context.Context, v *View, row models.Row) error {
	path := row.LocalPath
	if path == "" {
		path = row.SourcePath
	}
	var user, downloadPath string
	if row.Status != "" {
		user, downloadPath = row.OwnerID, row.SourcePath
	}
	err := e.client.DeleteFile(ctx, path, user, downloadPath)
	metrics.RecordCommand("delete", err)
	if err != nil {
		return err
	}
	rows := v.removeRow(row.Key())
	e.cachePut(v.Key, rows)
	v.Refresh()
	return nil
}

// StartSearch registers a search term with the daemon without opening a
// view for it.
func (e *Engine) StartSearch(ctx context.Context, term string) error {
	err := e.client.StartSearch(ctx, term)
	metrics.RecordCommand("start_search", err)
	return err
}

// RemoveSearch drops a search term on the daemon, closes its view if
// one is open, and forgets its cached rows.
func (e *Engine) RemoveSearch(ctx context.Context, term string) error {
	err := e.client.RemoveSearch(ctx, term)
	metrics.RecordCommand("remove_search", err)
	if err != nil {
		return err
	}
	key := SearchKey(term)
	if v, ok := e.View(key); ok {
		v.Close()
	}
	e.cache.Invalidate(key)
	metrics.SetCacheEntries(e.cache.Len())
	e.persistCache()
	return nil
}

// ProbeMedia asks the daemon for playback metadata of a local path.
func (e *Engine) ProbeMedia(ctx context.Context, path string) (protocol.MediaMeta, error) {
	meta, err := e.client.MediaMeta(ctx, path)
	metrics.RecordCommand("probe_media", err)
	return meta, err
}

// ProbeAudioMeta asks the daemon for audio tag metadata of a local path.
func (e *Engine) ProbeAudioMeta(ctx context.Context, path string) (protocol.MediaMeta, error) {
	meta, err := e.client.AudioMeta(ctx, path)
	metrics.RecordCommand("probe_audio", err)
	return meta, err
}

// DaemonStatus fetches connectivity and session state.
func (e *Engine) DaemonStatus(ctx context.Context) (protocol.DaemonStatus, error) {
	return e.client.Status(ctx)
}

// finishCommand records the outcome and, on success, nudges the
// downloads view since every transfer command mutates the queue.
func (e *Engine) finishCommand(command string, err error) {
	metrics.RecordCommand(command, err)
	if err != nil {
		e.log.Warn("daemon command failed", zap.String("command", command), zap.Error(err))
		return
	}
	if v, ok := e.View(DownloadsKey); ok {
		v.Refresh()
	}
}
