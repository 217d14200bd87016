package store

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
)

// transientMarkers are backend error fragments treated as retryable.
var transientMarkers = []string{
	"unreachable",
	"timeout",
	"connection closed",
	"connection reset",
	"connection refused",
	"database timeout",
	"operations timed out",
}

// isTransient classifies a persistence error as retryable: network
// failures, context deadline on the backend side, and Postgres
// connection-class errors.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions; 57P0x is shutdown/crash.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") {
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryingStore decorates a Store with exponential backoff over
// transient errors: initial 1s, cap 10s, max 3 attempts. Non-transient
// errors pass through immediately; exhausted retries surface as
// StorageUnavailable.
type RetryingStore struct {
	inner Store

	// onRetry reports retry attempts to metrics; nil-safe.
	onRetry func()
}

// WithRetry wraps the given store.
func WithRetry(inner Store) *RetryingStore {
	return &RetryingStore{inner: inner}
}

// WithObserver wires a retry-attempt callback.
func (r *RetryingStore) WithObserver(onRetry func()) *RetryingStore {
	r.onRetry = onRetry
	return r
}

func (r *RetryingStore) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = RetryInitialInterval
	policy.MaxInterval = RetryMaxInterval

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("Transient storage error, retrying",
			"op", op, "attempt", attempts, "error", err)
		if r.onRetry != nil {
			r.onRetry()
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, RetryMaxAttempts-1), ctx))

	if err == nil {
		return nil
	}
	if isTransient(err) {
		return crucerr.Wrap(crucerr.KindStorageUnavailable,
			"persistence failed after retries: "+op, err)
	}
	return err
}

// Create implements Store.
func (r *RetryingStore) Create(ctx context.Context, sessionID string) (*models.SessionState, error) {
	var out *models.SessionState
	err := r.retry(ctx, "create", func() error {
		var err error
		out, err = r.inner.Create(ctx, sessionID)
		return err
	})
	return out, err
}

// Load implements Store.
func (r *RetryingStore) Load(ctx context.Context, sessionID string) (*models.SessionState, error) {
	var out *models.SessionState
	err := r.retry(ctx, "load", func() error {
		var err error
		out, err = r.inner.Load(ctx, sessionID)
		return err
	})
	return out, err
}

// Persist implements Store.
func (r *RetryingStore) Persist(ctx context.Context, session *models.SessionState) error {
	return r.retry(ctx, "persist", func() error {
		return r.inner.Persist(ctx, session)
	})
}

// AppendArtifact implements Store.
func (r *RetryingStore) AppendArtifact(ctx context.Context, sessionID string, artifact *models.Artifact) error {
	return r.retry(ctx, "append_artifact", func() error {
		return r.inner.AppendArtifact(ctx, sessionID, artifact)
	})
}

// List implements Store.
func (r *RetryingStore) List(ctx context.Context, limit, offset int) ([]*models.SessionState, error) {
	var out []*models.SessionState
	err := r.retry(ctx, "list", func() error {
		var err error
		out, err = r.inner.List(ctx, limit, offset)
		return err
	})
	return out, err
}

// EvictOlderThan implements Store.
func (r *RetryingStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var out int
	err := r.retry(ctx, "evict", func() error {
		var err error
		out, err = r.inner.EvictOlderThan(ctx, cutoff)
		return err
	})
	return out, err
}

// Ping implements Store (no retry; callers poll).
func (r *RetryingStore) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}

// Close implements Store.
func (r *RetryingStore) Close() error {
	return r.inner.Close()
}
