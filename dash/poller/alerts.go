package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/securedataops/dataops-dashboard/dash/feed"
)

// DefaultAlertsInterval is the alerts poll cadence.
const DefaultAlertsInterval = 2 * time.Second

// AlertsConfig holds configuration for creating an AlertsPoller.
type AlertsConfig struct {
	Source   Source
	Interval time.Duration
	Logger   *slog.Logger
	OnChange func() // optional, called after every applied poll
}

// AlertsPoller fetches /alerts on a fixed cadence and replaces the list on every
// successful response. Failures leave the list untouched.
type AlertsPoller struct {
	loop
	source   Source
	onChange func()

	alerts []feed.AlertRecord
}

// NewAlerts creates an AlertsPoller with an empty list.
func NewAlerts(cfg AlertsConfig) *AlertsPoller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultAlertsInterval
	}
	p := &AlertsPoller{
		source:   cfg.Source,
		onChange: cfg.OnChange,
		alerts:   []feed.AlertRecord{},
	}
	p.init("alerts", interval, cfg.Logger)
	return p
}

// Start fetches immediately and then on every interval until Stop or ctx is done.
func (p *AlertsPoller) Start(ctx context.Context) error {
	return p.start(ctx, p.tick)
}

// Stop halts the schedule. Responses still in flight are discarded when they arrive.
func (p *AlertsPoller) Stop() {
	p.stop()
}

// Alerts returns a copy of the current list in backend order.
func (p *AlertsPoller) Alerts() []feed.AlertRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]feed.AlertRecord, len(p.alerts))
	copy(out, p.alerts)
	return out
}

func (p *AlertsPoller) tick(ctx context.Context, gen uint64) {
	t, ok := p.issue(gen)
	if !ok {
		return
	}

	list, err := p.source.Alerts(ctx)

	p.mu.Lock()
	if !p.admit(t) {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.stats.Failed++
		p.stats.LastError = err.Error()
		p.mu.Unlock()
		p.logger.Debug("Alerts poll failed", "error", err)
		return
	}
	if list == nil {
		list = []feed.AlertRecord{}
	}
	p.alerts = list
	p.stats.Succeeded++
	p.stats.LastSuccess = time.Now()
	p.mu.Unlock()

	if p.onChange != nil {
		p.onChange()
	}
}
