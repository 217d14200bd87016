package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/pkg/models"
	"github.com/crucible-dev/crucible/pkg/store"
)

type sweepCountingStore struct {
	*store.MemoryStore
	sweeps atomic.Int32
}

func (s *sweepCountingStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.sweeps.Add(1)
	return s.MemoryStore.EvictOlderThan(ctx, cutoff)
}

type brokenStore struct {
	*store.MemoryStore
}

func (b *brokenStore) EvictOlderThan(context.Context, time.Time) (int, error) {
	return 0, errors.New("backend unavailable")
}

func seedSession(t *testing.T, st *store.MemoryStore, id string, state models.State) {
	t.Helper()
	session, err := st.Create(context.Background(), id)
	require.NoError(t, err)
	session.State = state
	require.NoError(t, st.Persist(context.Background(), session))
}

func TestSweepOnce(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	st := store.NewMemoryStore().WithClock(func() time.Time { return clock })

	seedSession(t, st, "old-converged", models.StateConverged)
	seedSession(t, st, "old-idle", models.StateIdle)

	clock = base.Add(40 * 24 * time.Hour)
	seedSession(t, st, "fresh-failed", models.StateFailed)

	svc := NewService(st, 30, time.Hour).WithClock(func() time.Time {
		return base.Add(40 * 24 * time.Hour)
	})

	evicted := svc.SweepOnce(context.Background())
	assert.Equal(t, 1, evicted)

	_, err := st.Load(context.Background(), "old-converged")
	assert.Error(t, err)

	// Non-terminal sessions survive retention regardless of age, and
	// terminal sessions inside the window stay.
	_, err = st.Load(context.Background(), "old-idle")
	assert.NoError(t, err)
	_, err = st.Load(context.Background(), "fresh-failed")
	assert.NoError(t, err)

	assert.Equal(t, 0, svc.SweepOnce(context.Background()))
}

func TestSweepOnceStoreError(t *testing.T) {
	st := &brokenStore{MemoryStore: store.NewMemoryStore()}
	svc := NewService(st, 30, time.Hour)

	assert.Equal(t, 0, svc.SweepOnce(context.Background()))
}

func TestStartStop(t *testing.T) {
	st := &sweepCountingStore{MemoryStore: store.NewMemoryStore()}
	svc := NewService(st, 30, 10*time.Millisecond)

	svc.Start(context.Background())
	// Start is idempotent.
	svc.Start(context.Background())

	assert.Eventually(t, func() bool {
		return st.sweeps.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	svc.Stop()

	settled := st.sweeps.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, st.sweeps.Load())
}

func TestStopWithoutStart(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), 30, time.Hour)
	assert.NotPanics(t, svc.Stop)
}
