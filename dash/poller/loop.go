// Package poller runs the periodic metrics and alerts fetch loops behind the dashboard.
//
// Each poller fetches once on Start and then on every interval. A tick's fetch runs in
// its own goroutine so a slow response never delays the schedule. Completions are
// applied in issue order: a response that arrives after a newer tick was applied is
// discarded, and so is any response that arrives after Stop.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Status reflects the outcome of the most recent metrics poll.
type Status string

const (
	StatusIdle  Status = "idle"
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ErrRunning is returned by Start when the poller is already running.
var ErrRunning = errors.New("poller already running")

// Stats counts poll outcomes.
type Stats struct {
	Running     bool      `json:"running"`
	Interval    string    `json:"interval"`
	Issued      uint64    `json:"issued"`
	Succeeded   uint64    `json:"succeeded"`
	Failed      uint64    `json:"failed"`
	Stale       uint64    `json:"stale"`      // completed after Stop
	Superseded  uint64    `json:"superseded"` // completed after a newer tick was applied
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

type ticket struct {
	gen uint64
	seq uint64
}

// loop is the start/stop lifecycle shared by both pollers. mu also guards the
// embedding poller's own state so that admission and mutation happen atomically.
type loop struct {
	name     string
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	gen     uint64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	seq     uint64
	applied uint64
	stats   Stats
}

func (l *loop) init(name string, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	l.name = name
	l.interval = interval
	l.logger = logger.With("poller", name)
}

func (l *loop) start(ctx context.Context, tick func(context.Context, uint64)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	l.gen++
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(ctx, l.gen, l.done, tick)
	l.logger.Debug("Poller started", "interval", l.interval)
	return nil
}

func (l *loop) run(ctx context.Context, gen uint64, done chan struct{}, tick func(context.Context, uint64)) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	go tick(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go tick(ctx, gen)
		}
	}
}

func (l *loop) stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	// Bumping the generation before cancelling turns every outstanding tick stale.
	l.gen++
	l.running = false
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	cancel()
	<-done
	l.logger.Debug("Poller stopped")
}

// issue reserves a sequence number for a tick started under generation gen.
func (l *loop) issue(gen uint64) (ticket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.gen {
		return ticket{}, false
	}
	l.seq++
	l.stats.Issued++
	return ticket{gen: gen, seq: l.seq}, true
}

// admit reports whether a completed tick may update state. Caller holds l.mu.
func (l *loop) admit(t ticket) bool {
	if t.gen != l.gen {
		l.stats.Stale++
		return false
	}
	if t.seq <= l.applied {
		l.stats.Superseded++
		return false
	}
	l.applied = t.seq
	return true
}

// Running reports whether the poller's schedule is active.
func (l *loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stats returns a copy of the poll counters.
func (l *loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Running = l.running
	s.Interval = l.interval.String()
	return s
}
