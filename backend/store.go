package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// State files written by the upstream consumer.
const (
	MetricsFile = "metrics.json"
	AlertsFile  = "alerts.ndjson"
)

// ErrMetricsNotReady is returned until the consumer has written metrics.json.
var ErrMetricsNotReady = errors.New("metrics not ready")

// Store reads the state directory. When a watcher keeps it warm, metrics are
// served from memory; otherwise every call reads the file.
type Store struct {
	dir string

	mu      sync.RWMutex
	cached  bool
	metrics []byte
}

// NewStore returns a Store over dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// MetricsPath returns the path of metrics.json.
func (s *Store) MetricsPath() string { return filepath.Join(s.dir, MetricsFile) }

// AlertsPath returns the path of alerts.ndjson.
func (s *Store) AlertsPath() string { return filepath.Join(s.dir, AlertsFile) }

// Metrics returns the raw metrics document.
func (s *Store) Metrics() ([]byte, error) {
	s.mu.RLock()
	if s.cached {
		data := s.metrics
		s.mu.RUnlock()
		if data == nil {
			return nil, ErrMetricsNotReady
		}
		return data, nil
	}
	s.mu.RUnlock()
	return s.readMetrics()
}

// Reload re-reads metrics.json into the in-memory cache and enables caching.
func (s *Store) Reload() error {
	data, err := s.readMetrics()
	if err != nil && !errors.Is(err, ErrMetricsNotReady) {
		return err
	}
	s.mu.Lock()
	s.cached = true
	s.metrics = data
	s.mu.Unlock()
	return nil
}

// Invalidate drops the cache so reads go back to the file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = false
	s.metrics = nil
	s.mu.Unlock()
}

func (s *Store) readMetrics() ([]byte, error) {
	data, err := os.ReadFile(s.MetricsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMetricsNotReady
	}
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("read metrics: %s is not valid JSON", MetricsFile)
	}
	return bytes.TrimSpace(data), nil
}

// Alerts returns the last limit alert lines, newest first. A limit of zero returns
// every line. A missing file yields an empty list. Blank or malformed lines are skipped.
func (s *Store) Alerts(limit int) ([]json.RawMessage, error) {
	f, err := os.Open(s.AlertsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open alerts: %w", err)
	}
	defer f.Close()

	var lines []json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		lines = append(lines, json.RawMessage(bytes.Clone(line)))
		if limit > 0 && len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan alerts: %w", err)
	}

	out := make([]json.RawMessage, len(lines))
	for i, l := range lines {
		out[len(lines)-1-i] = l
	}
	return out, nil
}
