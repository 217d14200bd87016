package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
)

// MemoryStore is an in-process Store used by unit tests and local
// development without Postgres. All returned sessions are deep copies.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionState
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.SessionState),
		now:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, sessionID string) (*models.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return nil, crucerr.Newf(crucerr.KindValidation, "session %s already exists", sessionID)
	}
	session := models.NewSessionState(sessionID, m.now())
	m.sessions[sessionID] = session.Clone()
	return session, nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*models.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, crucerr.Newf(crucerr.KindNotFound, "session %s not found", sessionID)
	}
	return session.Clone(), nil
}

// Persist implements Store. Artifacts already appended are retained;
// only scalar fields and sequences are overwritten.
func (m *MemoryStore) Persist(_ context.Context, session *models.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[session.SessionID]
	if !ok {
		return crucerr.Newf(crucerr.KindNotFound, "session %s not found", session.SessionID)
	}
	cp := session.Clone()
	cp.UpdatedAt = m.now()
	// Keep the append-only artifact list owned by the store.
	cp.Artifacts = existing.Artifacts
	cp.CreatedAt = existing.CreatedAt
	m.sessions[session.SessionID] = cp
	return nil
}

// AppendArtifact implements Store.
func (m *MemoryStore) AppendArtifact(_ context.Context, sessionID string, artifact *models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return crucerr.Newf(crucerr.KindNotFound, "session %s not found", sessionID)
	}
	session.Artifacts = append(session.Artifacts, artifact.Clone())
	// Maintain non-decreasing timestamp order with stable insertion.
	sort.SliceStable(session.Artifacts, func(i, j int) bool {
		return session.Artifacts[i].TimestampMS < session.Artifacts[j].TimestampMS
	})
	return nil
}

// List implements Store: newest-first by creation time, artifacts not
// loaded.
func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]*models.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*models.SessionState, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := s.Clone()
		cp.Artifacts = nil
		all = append(all, cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].SessionID < all[j].SessionID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []*models.SessionState{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// EvictOlderThan implements Store.
func (m *MemoryStore) EvictOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.State.IsTerminal() && s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
