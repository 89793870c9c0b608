package ops

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/securedataops/dataops-dashboard/dash"
	"github.com/securedataops/dataops-dashboard/dash/templates"
)

// backfillEntries is how many buffered entries a new log stream receives first.
const backfillEntries = 50

// Config holds configuration for creating a new ops Handler.
type Config struct {
	Monitor   *dash.Monitor // required
	LogBuffer *LogBuffer    // required
	Logger    *slog.Logger  // required
	Viewers   func() int    // optional, connected dashboard viewers
	APIBase   string
	Version   string
	StartTime time.Time
}

// Handler serves the ops page and API endpoints.
type Handler struct {
	monitor   *dash.Monitor
	logBuffer *LogBuffer
	logger    *slog.Logger
	viewers   func() int
	apiBase   string
	startTime time.Time
	version   string
}

// New creates a new ops Handler.
func New(cfg Config) *Handler {
	start := cfg.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	return &Handler{
		monitor:   cfg.Monitor,
		logBuffer: cfg.LogBuffer,
		logger:    cfg.Logger,
		viewers:   cfg.Viewers,
		apiBase:   cfg.APIBase,
		startTime: start,
		version:   cfg.Version,
	}
}

// RegisterRoutes mounts all ops routes under /admin/ops, wrapped by the provided middleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("/admin/ops", wrap(http.HandlerFunc(h.servePage)))
	mux.Handle("/admin/ops/api/overview", wrap(http.HandlerFunc(h.overview)))
	mux.Handle("/admin/ops/api/logs", wrap(http.HandlerFunc(h.logStream)))
}

// servePage serves the embedded ops.html page.
func (h *Handler) servePage(w http.ResponseWriter, r *http.Request) {
	data, err := templates.FS.ReadFile("ops.html")
	if err != nil {
		http.Error(w, "failed to load ops page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// overview returns the combined overview JSON.
func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(h.buildOverview())
}

// logStream serves an SSE stream of structured log entries.
func (h *Handler) logStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	listenerID := "ops-" + uuid.NewString()
	ch := h.logBuffer.AddListener(listenerID)
	defer h.logBuffer.RemoveListener(listenerID)

	for _, entry := range h.logBuffer.Recent(backfillEntries) {
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if data, err := json.Marshal(entry); err == nil {
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
