// Package dash wires the metrics and alerts pollers into a single monitor that the
// dashboard and console views read from.
package dash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/securedataops/dataops-dashboard/dash/poller"
	"github.com/securedataops/dataops-dashboard/dash/view"
)

// Config holds configuration for creating a new Monitor
type Config struct {
	Source          poller.Source    // required
	Logger          *slog.Logger     // required
	MetricsInterval time.Duration    // optional, defaults to poller.DefaultMetricsInterval
	AlertsInterval  time.Duration    // optional, defaults to poller.DefaultAlertsInterval
	MaxPoints       int              // optional, defaults to series.MaxPoints
	Now             func() time.Time // optional, poll-time clock for points without a backend timestamp
}

// Stats summarizes the monitor for the ops overview.
type Stats struct {
	Mounted   bool         `json:"mounted"`
	MountedAt time.Time    `json:"mounted_at,omitzero"`
	Mounts    uint64       `json:"mounts"`
	Metrics   poller.Stats `json:"metrics"`
	Alerts    poller.Stats `json:"alerts"`
}

// Monitor owns one metrics poller and one alerts poller for the lifetime of a mount.
// Every mount starts from a fresh state.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	metrics   *poller.MetricsPoller
	alerts    *poller.AlertsPoller
	mounted   bool
	mountedAt time.Time
	mounts    uint64

	listenerMu sync.RWMutex
	listeners  map[string]chan struct{}
}

// New creates an unmounted Monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("source is required")
	}
	m := &Monitor{
		cfg:       cfg,
		logger:    cfg.Logger,
		listeners: make(map[string]chan struct{}),
	}
	m.metrics, m.alerts = m.newPollers()
	return m, nil
}

func (m *Monitor) newPollers() (*poller.MetricsPoller, *poller.AlertsPoller) {
	metrics := poller.NewMetrics(poller.MetricsConfig{
		Source:    m.cfg.Source,
		Interval:  m.cfg.MetricsInterval,
		MaxPoints: m.cfg.MaxPoints,
		Logger:    m.logger,
		Now:       m.cfg.Now,
		OnChange:  m.notify,
	})
	alerts := poller.NewAlerts(poller.AlertsConfig{
		Source:   m.cfg.Source,
		Interval: m.cfg.AlertsInterval,
		Logger:   m.logger,
		OnChange: m.notify,
	})
	return metrics, alerts
}

// Mount starts both pollers with fresh state. Mounting twice is a no-op.
func (m *Monitor) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return nil
	}

	metrics, alerts := m.newPollers()
	if err := metrics.Start(ctx); err != nil {
		return fmt.Errorf("start metrics poller: %w", err)
	}
	if err := alerts.Start(ctx); err != nil {
		metrics.Stop()
		return fmt.Errorf("start alerts poller: %w", err)
	}

	m.metrics, m.alerts = metrics, alerts
	m.mounted = true
	m.mountedAt = time.Now()
	m.mounts++
	m.logger.Info("Monitor mounted")
	m.notify()
	return nil
}

// Unmount stops both pollers. Once it returns no request is issued and no state changes.
func (m *Monitor) Unmount() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted {
		return
	}
	m.metrics.Stop()
	m.alerts.Stop()
	m.mounted = false
	m.logger.Info("Monitor unmounted", "uptime", time.Since(m.mountedAt).Truncate(time.Second))
}

// Mounted reports whether the pollers are running.
func (m *Monitor) Mounted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mounted
}

// Snapshot returns the current poller state as view input.
func (m *Monitor) Snapshot() view.State {
	m.mu.RLock()
	metrics, alerts := m.metrics, m.alerts
	m.mu.RUnlock()

	ms := metrics.State()
	return view.State{
		Status:   ms.Status,
		Snapshot: ms.Snapshot,
		Points:   ms.Points,
		Alerts:   alerts.Alerts(),
	}
}

// Stats returns counters from both pollers.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Mounted:   m.mounted,
		MountedAt: m.mountedAt,
		Mounts:    m.mounts,
		Metrics:   m.metrics.Stats(),
		Alerts:    m.alerts.Stats(),
	}
}

// Subscribe registers a change listener. Notifications coalesce: a listener that
// has not drained its channel sees a single pending signal.
func (m *Monitor) Subscribe(id string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.listenerMu.Lock()
	m.listeners[id] = ch
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener by id.
func (m *Monitor) Unsubscribe(id string) {
	m.listenerMu.Lock()
	delete(m.listeners, id)
	m.listenerMu.Unlock()
}

func (m *Monitor) notify() {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	for _, ch := range m.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
