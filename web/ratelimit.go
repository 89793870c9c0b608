// Package web holds HTTP middleware shared by the dashboard and the backend.
package web

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultEvery and DefaultBurst allow a browser to reload the dashboard and
	// reconnect its stream a few times in quick succession.
	DefaultEvery = 200 * time.Millisecond
	DefaultBurst = 20

	maxIdleTime     = time.Hour
	cleanupInterval = 30 * time.Minute
)

// limiterEntry holds a rate limiter and its last access time
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter enforces a per-client-IP token bucket.
type RateLimiter struct {
	every time.Duration
	burst int

	limiters       map[string]*limiterEntry
	mu             sync.Mutex
	cleanupCancel  context.CancelFunc
	cleanupRunning bool
}

// NewRateLimiter creates a limiter allowing one request per every, with the given burst.
// Non-positive values fall back to DefaultEvery and DefaultBurst.
func NewRateLimiter(every time.Duration, burst int) *RateLimiter {
	if every <= 0 {
		every = DefaultEvery
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &RateLimiter{
		every:    every,
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

func (m *RateLimiter) getLimiter(ip string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.limiters[ip]
	if !exists {
		entry = &limiterEntry{
			limiter:    rate.NewLimiter(rate.Every(m.every), m.burst),
			lastAccess: time.Now(),
		}
		m.limiters[ip] = entry

		if !m.cleanupRunning {
			m.startCleanup()
		}
	} else {
		entry.lastAccess = time.Now()
	}

	return entry.limiter
}

// Middleware returns a middleware that enforces rate limiting.
func (m *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.getLimiter(clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Clients returns the number of tracked client IPs.
func (m *RateLimiter) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// startCleanup starts the background cleanup goroutine. Caller holds m.mu.
func (m *RateLimiter) startCleanup() {
	if m.cleanupRunning {
		return
	}

	m.cleanupRunning = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cleanupCancel = cancel

	go m.cleanupRoutine(ctx)
}

// StopCleanup stops the background cleanup goroutine
func (m *RateLimiter) StopCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleanupCancel != nil {
		m.cleanupCancel()
		m.cleanupCancel = nil
		m.cleanupRunning = false
	}
}

// cleanupRoutine periodically removes inactive rate limiters
func (m *RateLimiter) cleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanupInactive(maxIdleTime)
		}
	}
}

// cleanupInactive removes rate limiters that haven't been used for the specified duration
func (m *RateLimiter) cleanupInactive(maxIdle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for ip, entry := range m.limiters {
		if now.Sub(entry.lastAccess) > maxIdle {
			delete(m.limiters, ip)
		}
	}

	// Nothing left to watch; the next new client restarts the routine.
	if len(m.limiters) == 0 && m.cleanupCancel != nil {
		m.cleanupCancel()
		m.cleanupCancel = nil
		m.cleanupRunning = false
	}
}
