// Package api provides the local HTTP surface the front end reads view
// state from and issues commands through.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sjf/psyche-search/internal/logging"
	"github.com/sjf/psyche-search/pkg/daemon"
	"github.com/sjf/psyche-search/pkg/grouping"
	"github.com/sjf/psyche-search/pkg/models"
	syncpkg "github.com/sjf/psyche-search/pkg/sync"
)

// Server exposes the engine over localhost JSON.
type Server struct {
	engine *syncpkg.Engine
}

// NewServer creates a new server.
func NewServer(engine *syncpkg.Engine) *Server {
	return &Server{engine: engine}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/views", s.handleViews)
	// Two registrations so the nameless downloads view works without a
	// trailing slash.
	mux.HandleFunc("GET /api/v1/views/{kind}", s.handleView)
	mux.HandleFunc("GET /api/v1/views/{kind}/{name...}", s.handleView)

	mux.HandleFunc("POST /api/v1/search", s.handleOpenSearch)
	mux.HandleFunc("DELETE /api/v1/search/{term}", s.handleRemoveSearch)
	mux.HandleFunc("POST /api/v1/downloads", s.handleDownload)
	mux.HandleFunc("POST /api/v1/downloads/{action}", s.handleTransferAction)

	return logging.Middleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.DaemonStatus(r.Context())
	resp := map[string]any{"status": "ok", "daemon": status}
	if err != nil {
		resp["daemon_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Views())
}

// handleView opens (or refreshes) a view and returns its current
// snapshot. Sort parameters apply before the snapshot is taken.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	name := r.PathValue("name")
	if name == "" && syncpkg.Kind(kind) != syncpkg.KindDownloads {
		http.Error(w, "view name is required", http.StatusBadRequest)
		return
	}

	var v *syncpkg.View
	switch syncpkg.Kind(kind) {
	case syncpkg.KindSearch:
		v = s.engine.OpenSearch(name)
	case syncpkg.KindDownloads:
		v = s.engine.OpenDownloads()
	case syncpkg.KindBrowse:
		v = s.engine.OpenBrowse(name)
	case syncpkg.KindUser:
		v = s.engine.OpenUser(name)
	default:
		http.Error(w, "unknown view kind", http.StatusNotFound)
		return
	}

	if sortParam := r.URL.Query().Get("sort"); sortParam != "" {
		dir := grouping.Ascending
		if r.URL.Query().Get("dir") == "desc" {
			dir = grouping.Descending
		}
		v.SetSort(grouping.ParseSortKey(sortParam), dir)
	}

	writeJSON(w, http.StatusOK, v.State())
}

func (s *Server) handleOpenSearch(w http.ResponseWriter, r *http.Request) {
	term := r.FormValue("term")
	if term == "" {
		http.Error(w, "term is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.StartSearch(r.Context(), term); err != nil {
		writeDaemonError(w, err)
		return
	}
	v := s.engine.OpenSearch(term)
	writeJSON(w, http.StatusOK, v.State())
}

func (s *Server) handleRemoveSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveSearch(r.Context(), r.PathValue("term")); err != nil {
		writeDaemonError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	size, _ := strconv.ParseInt(r.FormValue("size"), 10, 64)
	row := models.Row{
		OwnerID:    r.FormValue("user"),
		SourcePath: r.FormValue("path"),
		Size:       size,
	}
	if row.OwnerID == "" || row.SourcePath == "" {
		http.Error(w, "user and path are required", http.StatusBadRequest)
		return
	}
	if err := s.engine.Download(r.Context(), row); err != nil {
		writeDaemonError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransferAction(w http.ResponseWriter, r *http.Request) {
	row := models.Row{
		OwnerID:    r.FormValue("user"),
		SourcePath: r.FormValue("path"),
	}

	var err error
	switch r.PathValue("action") {
	case "pause":
		err = s.engine.Pause(r.Context(), row)
	case "resume":
		err = s.engine.Resume(r.Context(), row)
	case "cancel":
		err = s.engine.CancelTransfer(r.Context(), row)
	case "clear":
		err = s.engine.ClearTransfer(r.Context(), row)
	case "clear-completed":
		err = s.engine.ClearCompleted(r.Context())
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if err != nil {
		writeDaemonError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeDaemonError forwards the daemon's own status and message when it
// rejected the command, and reports 502 for transport failures.
func writeDaemonError(w http.ResponseWriter, err error) {
	var se *daemon.StatusError
	if errors.As(err, &se) {
		http.Error(w, se.Message, se.StatusCode)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
