// Package ratelimit provides per-endpoint-class, per-caller request admission
// under a fixed-window policy. Denials are immediate and side-effect free;
// nothing is ever queued.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config is the admission budget for one endpoint class.
type Config struct {
	Capacity int
	Window   time.Duration
}

// Result reports one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time

	now time.Time
}

// RetryAfter returns how long a denied caller should wait before retrying.
// Zero for allowed results.
func (r Result) RetryAfter() time.Duration {
	if r.Allowed {
		return 0
	}
	if d := r.ResetAt.Sub(r.now); d > 0 {
		return d
	}
	return 0
}

type bucket struct {
	windowStart time.Time
	count       int
	lastAccess  time.Time
}

// Limiter tracks fixed-window counters keyed by (class, caller). Counters are
// best-effort: they live in memory and reset on restart.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	classes  map[string]Config
	fallback Config
	enabled  bool

	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithDisabled turns the limiter into a pass-through that admits everything.
func WithDisabled() Option {
	return func(l *Limiter) { l.enabled = false }
}

// New builds a limiter with a fallback budget for classes without an explicit
// override.
func New(fallback Config, classes map[string]Config, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		classes:  classes,
		fallback: fallback,
		enabled:  true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit consumes one slot for caller under class. The check-and-increment runs
// under the lock, so two concurrent requests at the boundary can never both
// take the last slot.
func (l *Limiter) Admit(class, caller string) Result {
	cfg, ok := l.classes[class]
	if !ok {
		cfg = l.fallback
	}

	now := l.now()
	if !l.enabled || cfg.Capacity <= 0 || cfg.Window <= 0 {
		return Result{Allowed: true, Limit: cfg.Capacity, Remaining: cfg.Capacity, ResetAt: now, now: now}
	}

	key := class + ":" + caller

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}
	if now.Sub(b.windowStart) >= cfg.Window {
		b.windowStart = now
		b.count = 0
	}
	b.lastAccess = now

	resetAt := b.windowStart.Add(cfg.Window)
	if b.count >= cfg.Capacity {
		return Result{Allowed: false, Limit: cfg.Capacity, Remaining: 0, ResetAt: resetAt, now: now}
	}
	b.count++
	return Result{Allowed: true, Limit: cfg.Capacity, Remaining: cfg.Capacity - b.count, ResetAt: resetAt, now: now}
}

// Reset drops the counter for one (class, caller) pair.
func (l *Limiter) Reset(class, caller string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, class+":"+caller)
}

// Run evicts stale buckets until the context is cancelled. Suitable for a
// background goroutine next to the HTTP server.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.removeStale()
		}
	}
}

// Buckets idle for an hour are assumed abandoned; dropping them bounds memory
// without affecting active callers.
const staleThreshold = time.Hour

func (l *Limiter) removeStale() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastAccess) > staleThreshold {
			delete(l.buckets, key)
		}
	}
}
