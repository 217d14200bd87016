// Package store provides the durable session store: a mapping from
// session id to SessionState with its ordered artifacts. Two
// implementations exist: Postgres for production and an in-memory
// store for tests. A retry decorator adds exponential backoff over
// transient backend failures.
package store

import (
	"context"
	"time"

	"github.com/crucible-dev/crucible/pkg/models"
)

// Store is the persistence contract. The orchestrator is the single
// writer per session; reads after a completed write observe the write.
type Store interface {
	// Create initializes a session with defaults (IDLE, iteration 0,
	// empty sequences). Fails with an already-exists validation error
	// if the id is taken.
	Create(ctx context.Context, sessionID string) (*models.SessionState, error)

	// Load returns the latest persisted snapshot including ordered
	// artifacts, or a not-found error.
	Load(ctx context.Context, sessionID string) (*models.SessionState, error)

	// Persist overwrites all mutable scalar fields and sequences.
	// Artifact inserts are append-only via AppendArtifact.
	Persist(ctx context.Context, session *models.SessionState) error

	// AppendArtifact durably appends one artifact to the session.
	AppendArtifact(ctx context.Context, sessionID string, artifact *models.Artifact) error

	// List returns sessions newest-first by creation time, without
	// artifacts loaded.
	List(ctx context.Context, limit, offset int) ([]*models.SessionState, error)

	// EvictOlderThan removes terminal sessions last updated before the
	// cutoff, returning the number removed.
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Retry discipline for transient persistence errors.
const (
	RetryInitialInterval = 1 * time.Second
	RetryMaxInterval     = 10 * time.Second
	RetryMaxAttempts     = 3
)
