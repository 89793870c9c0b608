package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/securedataops/dataops-dashboard/dash/feed"
	"github.com/securedataops/dataops-dashboard/dash/series"
)

// DefaultMetricsInterval is the metrics poll cadence.
const DefaultMetricsInterval = time.Second

// MetricsConfig holds configuration for creating a MetricsPoller.
type MetricsConfig struct {
	Source    Source
	Interval  time.Duration
	MaxPoints int
	Logger    *slog.Logger
	Now       func() time.Time // optional, defaults to time.Now
	OnChange  func()           // optional, called after every applied poll
}

// MetricsState is a consistent copy of the metrics poller's state.
type MetricsState struct {
	Status   Status
	Snapshot *feed.MetricsSnapshot
	Points   []series.Point
}

// MetricsPoller fetches /metrics on a fixed cadence, tracks connection status
// and keeps the rolling trades-per-second series.
type MetricsPoller struct {
	loop
	source   Source
	now      func() time.Time
	onChange func()

	status   Status
	snapshot *feed.MetricsSnapshot
	series   *series.Buffer
}

// NewMetrics creates an idle MetricsPoller.
func NewMetrics(cfg MetricsConfig) *MetricsPoller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	p := &MetricsPoller{
		source:   cfg.Source,
		now:      now,
		onChange: cfg.OnChange,
		status:   StatusIdle,
		series:   series.New(cfg.MaxPoints),
	}
	p.init("metrics", interval, cfg.Logger)
	return p
}

// Start fetches immediately and then on every interval until Stop or ctx is done.
func (p *MetricsPoller) Start(ctx context.Context) error {
	return p.start(ctx, p.tick)
}

// Stop halts the schedule. Responses still in flight are discarded when they arrive.
func (p *MetricsPoller) Stop() {
	p.stop()
}

// State returns the current status, latest snapshot and series.
func (p *MetricsPoller) State() MetricsState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return MetricsState{
		Status:   p.status,
		Snapshot: p.snapshot,
		Points:   p.series.Points(),
	}
}

func (p *MetricsPoller) tick(ctx context.Context, gen uint64) {
	t, ok := p.issue(gen)
	if !ok {
		return
	}

	snap, err := p.source.Metrics(ctx)

	p.mu.Lock()
	if !p.admit(t) {
		p.mu.Unlock()
		return
	}
	prev := p.status
	if err != nil {
		p.status = StatusError
		p.stats.Failed++
		p.stats.LastError = err.Error()
	} else {
		now := p.now()
		p.status = StatusOK
		p.snapshot = snap
		p.series.Append(snap.Point(now))
		p.stats.Succeeded++
		p.stats.LastSuccess = now
	}
	p.mu.Unlock()

	switch {
	case err != nil && prev != StatusError:
		p.logger.Warn("Metrics unavailable", "error", err)
	case err != nil:
		p.logger.Debug("Metrics poll failed", "error", err)
	case prev != StatusOK:
		p.logger.Info("Metrics connected", "previous", string(prev))
	}

	if p.onChange != nil {
		p.onChange()
	}
}
