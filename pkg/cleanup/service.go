// Package cleanup enforces session retention. Terminal sessions older
// than the configured retention window are evicted from the store on a
// periodic sweep. The sweep is idempotent and safe to restart.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/crucible-dev/crucible/pkg/store"
)

// Service periodically evicts terminal sessions past retention.
type Service struct {
	store    store.Store
	days     int
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service sweeping every interval and
// evicting terminal sessions older than days.
func NewService(st store.Store, days int, interval time.Duration) *Service {
	return &Service{
		store:    st,
		days:     days,
		interval: interval,
		now:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"retention_days", s.days,
		"interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single eviction pass and returns the evicted count.
func (s *Service) SweepOnce(ctx context.Context) int {
	cutoff := s.now().Add(-time.Duration(s.days) * 24 * time.Hour)
	evicted, err := s.store.EvictOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return 0
	}
	if evicted > 0 {
		slog.Info("Retention sweep evicted sessions",
			"evicted", evicted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return evicted
}
