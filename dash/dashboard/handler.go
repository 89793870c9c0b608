package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/securedataops/dataops-dashboard/dash"
	"github.com/securedataops/dataops-dashboard/dash/templates"
	"github.com/securedataops/dataops-dashboard/dash/view"
)

// Config holds configuration for creating a new dashboard Handler.
type Config struct {
	Monitor  *dash.Monitor   // required
	Logger   *slog.Logger    // required
	Version  string
	Location *time.Location  // optional, defaults to time.Local
	Context  context.Context // optional, lifetime of pollers mounted on behalf of viewers
}

// Handler serves the live trade-rate dashboard.
type Handler struct {
	monitor *dash.Monitor
	logger  *slog.Logger
	version string
	loc     *time.Location
	ctx     context.Context
	tmpl    *template.Template

	viewers viewerSet
}

// PageData holds template data for the dashboard page.
type PageData struct {
	Version string
	Model   view.Model
}

var funcs = template.FuncMap{
	"num": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
}

// New creates a new dashboard Handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Monitor == nil {
		return nil, errors.New("monitor is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	tmpl, err := template.New("dashboard.html").Funcs(funcs).ParseFS(templates.FS, "dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h := &Handler{
		monitor: cfg.Monitor,
		logger:  cfg.Logger,
		version: cfg.Version,
		loc:     loc,
		ctx:     ctx,
		tmpl:    tmpl,
	}
	h.viewers.monitor = cfg.Monitor
	return h, nil
}

// RegisterRoutes registers all dashboard routes on the mux, each wrapped by wrap.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("/dashboard", wrap(http.HandlerFunc(h.serveDashboard)))
	mux.Handle("/api/dashboard/view", wrap(http.HandlerFunc(h.serveView)))
	mux.Handle("/api/dashboard/stream", wrap(http.HandlerFunc(h.serveStream)))

	h.logger.Info("Dashboard routes registered at /dashboard")
}

// Viewers reports how many stream clients are connected.
func (h *Handler) Viewers() int {
	return h.viewers.count()
}

// Close disconnects the monitor regardless of connected viewers.
func (h *Handler) Close() {
	h.viewers.reset()
}

func (h *Handler) model() view.Model {
	return view.Derive(h.monitor.Snapshot(), h.loc)
}

// serveDashboard renders the dashboard page with the current view.
func (h *Handler) serveDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, "dashboard", PageData{Version: h.version, Model: h.model()}); err != nil {
		h.logger.Error("Failed to execute dashboard template", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Error("Failed to write dashboard page", "error", err)
	}
}

// serveView returns the derived view model as JSON.
func (h *Handler) serveView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(h.model())
}

// renderFragment renders the inner view markup pushed to stream clients.
func (h *Handler) renderFragment(m view.Model) (string, error) {
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, "view", m); err != nil {
		return "", err
	}
	return buf.String(), nil
}
