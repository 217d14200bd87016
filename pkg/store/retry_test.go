package store

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
)

// flakyStore fails the first failCount Load calls with failErr.
type flakyStore struct {
	Store
	failCount int
	failErr   error
	calls     int
}

func (f *flakyStore) Load(ctx context.Context, sessionID string) (*models.SessionState, error) {
	f.calls++
	if f.calls <= f.failCount {
		return nil, f.failErr
	}
	return f.Store.Load(ctx, sessionID)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, isTransient(nil))
	assert.False(t, isTransient(errors.New("syntax error")))

	assert.True(t, isTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, isTransient(errors.New("i/o timeout on write")))
	assert.True(t, isTransient(&net.OpError{Op: "dial", Err: errors.New("down")}))

	assert.True(t, isTransient(&pgconn.PgError{Code: "08006"}), "connection exception class")
	assert.True(t, isTransient(&pgconn.PgError{Code: "57P01"}), "admin shutdown")
	assert.False(t, isTransient(&pgconn.PgError{Code: "23505"}), "unique violation is permanent")
}

func TestRetryingStorePermanentErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	r := WithRetry(inner)

	_, err := r.Load(ctx, "session-retry-missing")
	assert.True(t, crucerr.Is(err, crucerr.KindNotFound), "non-transient errors surface unchanged")
}

func TestRetryingStoreRecoversFromTransient(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	_, err := inner.Create(ctx, "session-retry-0001")
	require.NoError(t, err)

	retries := 0
	flaky := &flakyStore{Store: inner, failCount: 1, failErr: errors.New("connection reset by peer")}
	r := WithRetry(flaky).WithObserver(func() { retries++ })

	loaded, err := r.Load(ctx, "session-retry-0001")
	require.NoError(t, err)
	assert.Equal(t, "session-retry-0001", loaded.SessionID)
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, 1, retries)
}

func TestRetryingStoreContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	inner := NewMemoryStore()
	flaky := &flakyStore{Store: inner, failCount: 100, failErr: errors.New("connection refused")}
	r := WithRetry(flaky)

	_, err := r.Load(ctx, "session-retry-0002")
	require.Error(t, err, "cancellation stops the retry loop")
}
