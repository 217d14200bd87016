// Package ratelimit implements a fixed-window token bucket keyed by
// identifier and namespace, with a background sweep that expires idle
// windows.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults per the deployment configuration.
const (
	DefaultWindow      = 900_000 * time.Millisecond
	DefaultMaxRequests = 100
	sweepInterval      = 60 * time.Second
)

// Result is the outcome of one Consume call.
type Result struct {
	Allowed           bool
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks request counts per "namespace:identifier" key.
type Limiter struct {
	windowLen   time.Duration
	maxRequests int

	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// onDeny reports denials to metrics; nil-safe.
	onDeny func(namespace string)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithDenyObserver wires the denial callback (metrics).
func WithDenyObserver(onDeny func(namespace string)) Option {
	return func(l *Limiter) { l.onDeny = onDeny }
}

// New creates a limiter. Non-positive arguments fall back to defaults.
func New(windowLen time.Duration, maxRequests int, opts ...Option) *Limiter {
	if windowLen <= 0 {
		windowLen = DefaultWindow
	}
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	l := &Limiter{
		windowLen:   windowLen,
		maxRequests: maxRequests,
		windows:     make(map[string]*window),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consume takes one token for the identifier in the namespace. On
// depletion the result carries a positive retry_after_seconds.
func (l *Limiter) Consume(namespace, identifier string) Result {
	key := namespace + ":" + identifier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(l.windowLen)}
		l.windows[key] = w
	}

	if w.count >= l.maxRequests {
		retryAfter := int(w.resetAt.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		if l.onDeny != nil {
			l.onDeny(namespace)
		}
		return Result{
			Allowed:           false,
			Remaining:         0,
			ResetAt:           w.resetAt,
			RetryAfterSeconds: retryAfter,
		}
	}

	w.count++
	remaining := l.maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

// Start launches the 60-second sweep that drops expired windows.
func (l *Limiter) Start(ctx context.Context) {
	if l.cancel != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := l.sweep()
				if removed > 0 {
					slog.Debug("Rate limiter sweep removed expired windows", "removed", removed)
				}
			}
		}
	}()
}

// Stop terminates the sweep and waits for it.
func (l *Limiter) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
}

func (l *Limiter) sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
