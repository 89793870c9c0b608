package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/securedataops/dataops-dashboard/dash/poller"
)

// keepaliveInterval is how often an idle stream sends an SSE comment.
const keepaliveInterval = 15 * time.Second

// ViewEvent is the SSE payload carrying a re-rendered view.
type ViewEvent struct {
	Status poller.Status `json:"status"`
	HTML   string        `json:"html"`
}

// serveStream pushes the rendered view as Server-Sent Events whenever monitor state changes.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	listenerID := "dashboard-" + uuid.NewString()
	changes := h.monitor.Subscribe(listenerID)
	defer h.monitor.Unsubscribe(listenerID)

	if err := h.viewers.acquire(h.ctx); err != nil {
		h.logger.Error("Failed to mount monitor for dashboard viewer", "error", err)
		http.Error(w, "Monitor unavailable", http.StatusServiceUnavailable)
		return
	}
	defer h.viewers.release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush() // Send headers immediately so browser's EventSource fires onopen

	h.logger.Info("Dashboard SSE stream started", "listener", listenerID, "viewers", h.viewers.count())

	send := func() bool {
		m := h.model()
		html, err := h.renderFragment(m)
		if err != nil {
			h.logger.Error("Failed to render dashboard view", "error", err)
			return true
		}
		data, err := json.Marshal(ViewEvent{Status: m.Status, HTML: html})
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("Dashboard SSE stream closed", "listener", listenerID)
			return

		case <-h.ctx.Done():
			return

		case <-changes:
			if !send() {
				return
			}

		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
