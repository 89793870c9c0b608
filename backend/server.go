// Package backend serves the state files written by the SecureDataOps consumer:
// GET /health, GET /metrics and GET /alerts?limit=N.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

const (
	// DefaultStateDir is where the consumer writes metrics.json and alerts.ndjson.
	DefaultStateDir = "/tmp/securedataops_state"
	// DefaultAllowOrigins is the dev frontend origin.
	DefaultAllowOrigins = "http://localhost:5173"
	// DefaultAlertsLimit applies when /alerts has no limit parameter.
	DefaultAlertsLimit = 50
)

// Config holds configuration for creating a backend Server.
type Config struct {
	StateDir     string
	AllowOrigins []string
	Archive      *Archive // optional, serves /alerts from SQLite when set
	Logger       *slog.Logger
	Now          func() time.Time
}

// Server is the reference backend.
type Server struct {
	store   *Store
	archive *Archive
	origins map[string]bool
	logger  *slog.Logger
	now     func() time.Time
	router  *mux.Router
}

// New creates the state directory if needed and builds the router.
func New(cfg Config) (*Server, error) {
	dir := cfg.StateDir
	if dir == "" {
		dir = DefaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		store:   NewStore(dir),
		archive: cfg.Archive,
		origins: make(map[string]bool),
		logger:  logger,
		now:     now,
	}
	for _, o := range cfg.AllowOrigins {
		if o = strings.TrimSpace(o); o != "" {
			s.origins[o] = true
		}
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	})
	return s, nil
}

// ParseOrigins splits a comma-separated origin list.
func ParseOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	return s.cors(s.router)
}

// Store returns the state store backing the server.
func (s *Server) Store() *Store { return s.store }

// Archive returns the alert archive, or nil.
func (s *Server) Archive() *Archive { return s.archive }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": s.now().UnixMilli(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Metrics()
	if errors.Is(err, ErrMetricsNotReady) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "metrics not ready"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to read metrics", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal Server Error"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := DefaultAlertsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"detail": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	var (
		alerts []json.RawMessage
		err    error
	)
	if s.archive != nil {
		if _, err = s.archive.Ingest(s.store.AlertsPath()); err == nil {
			alerts, err = s.archive.Recent(limit)
		}
	} else {
		alerts, err = s.store.Alerts(limit)
	}
	if err != nil {
		s.logger.Error("Failed to read alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal Server Error"})
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// cors allows credentialed requests from the configured origins, with any method or header.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed := s.origins[origin]
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		w.Header().Add("Vary", "Origin")

		if preflight {
			if !allowed {
				http.Error(w, "Disallowed CORS origin", http.StatusBadRequest)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "DELETE, GET, HEAD, OPTIONS, PATCH, POST, PUT")
			if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
				h.Set("Access-Control-Allow-Headers", req)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusOK)
			return
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
