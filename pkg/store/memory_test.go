package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
)

func TestMemoryStoreCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	created, err := m.Create(ctx, "session-mem-0001")
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, created.State)
	assert.Equal(t, 0, created.CurrentIteration)

	loaded, err := m.Load(ctx, "session-mem-0001")
	require.NoError(t, err)
	assert.Equal(t, "session-mem-0001", loaded.SessionID)

	_, err = m.Create(ctx, "session-mem-0001")
	assert.True(t, crucerr.Is(err, crucerr.KindValidation), "duplicate create rejected")

	_, err = m.Load(ctx, "session-mem-missing")
	assert.True(t, crucerr.Is(err, crucerr.KindNotFound))
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.Create(ctx, "session-mem-copy1")
	require.NoError(t, err)

	first, err := m.Load(ctx, "session-mem-copy1")
	require.NoError(t, err)
	first.State = models.StateGenerating
	first.ScoreHistory = append(first.ScoreHistory, 50)

	second, err := m.Load(ctx, "session-mem-copy1")
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, second.State, "mutating a loaded copy must not leak")
	assert.Empty(t, second.ScoreHistory)
}

func TestMemoryStorePersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	sess, err := m.Create(ctx, "session-mem-0002")
	require.NoError(t, err)

	sess.State = models.StateReviewing
	sess.CurrentIteration = 2
	score := 75
	sess.LastQualityScore = &score
	sess.ScoreHistory = []int{60, 75}
	sess.AddHash("digest-1")
	require.NoError(t, m.Persist(ctx, sess))

	loaded, err := m.Load(ctx, "session-mem-0002")
	require.NoError(t, err)
	assert.Equal(t, models.StateReviewing, loaded.State)
	assert.Equal(t, 2, loaded.CurrentIteration)
	assert.Equal(t, 75, *loaded.LastQualityScore)
	assert.Equal(t, []int{60, 75}, loaded.ScoreHistory)
	assert.True(t, loaded.HasHash("digest-1"))

	err = m.Persist(ctx, models.NewSessionState("session-mem-ghost", time.Now()))
	assert.True(t, crucerr.Is(err, crucerr.KindNotFound))
}

func TestMemoryStoreAppendArtifactOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.Create(ctx, "session-mem-0003")
	require.NoError(t, err)

	// Appended out of timestamp order; loads come back ordered.
	require.NoError(t, m.AppendArtifact(ctx, "session-mem-0003",
		&models.Artifact{ID: "artifact-b", Kind: models.ArtifactCode, TimestampMS: 200}))
	require.NoError(t, m.AppendArtifact(ctx, "session-mem-0003",
		&models.Artifact{ID: "artifact-a", Kind: models.ArtifactCode, TimestampMS: 100}))
	require.NoError(t, m.AppendArtifact(ctx, "session-mem-0003",
		&models.Artifact{ID: "artifact-c", Kind: models.ArtifactReview, TimestampMS: 200}))

	loaded, err := m.Load(ctx, "session-mem-0003")
	require.NoError(t, err)
	require.Len(t, loaded.Artifacts, 3)
	assert.Equal(t, "artifact-a", loaded.Artifacts[0].ID)
	assert.Equal(t, "artifact-b", loaded.Artifacts[1].ID)
	assert.Equal(t, "artifact-c", loaded.Artifacts[2].ID, "equal timestamps keep insertion order")

	err = m.AppendArtifact(ctx, "session-mem-ghost", &models.Artifact{ID: "artifact-x"})
	assert.True(t, crucerr.Is(err, crucerr.KindNotFound))
}

func TestMemoryStorePersistKeepsArtifacts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	sess, err := m.Create(ctx, "session-mem-0004")
	require.NoError(t, err)

	require.NoError(t, m.AppendArtifact(ctx, "session-mem-0004",
		&models.Artifact{ID: "artifact-keep", Kind: models.ArtifactCode, TimestampMS: 1}))

	// Persisting a snapshot without artifacts must not drop them.
	sess.State = models.StateGenerating
	require.NoError(t, m.Persist(ctx, sess))

	loaded, err := m.Load(ctx, "session-mem-0004")
	require.NoError(t, err)
	require.Len(t, loaded.Artifacts, 1)
	assert.Equal(t, "artifact-keep", loaded.Artifacts[0].ID)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	clock := base
	m := NewMemoryStore().WithClock(func() time.Time { return clock })

	for i, id := range []string{"session-list-a", "session-list-b", "session-list-c"} {
		clock = base.Add(time.Duration(i) * time.Second)
		_, err := m.Create(ctx, id)
		require.NoError(t, err)
	}

	all, err := m.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "session-list-c", all[0].SessionID, "newest first")

	page, err := m.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "session-list-b", page[0].SessionID)

	empty, err := m.List(ctx, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreEvictOlderThan(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	clock := base
	m := NewMemoryStore().WithClock(func() time.Time { return clock })

	old, err := m.Create(ctx, "session-evict-old")
	require.NoError(t, err)
	old.State = models.StateConverged
	require.NoError(t, m.Persist(ctx, old))

	clock = base.Add(48 * time.Hour)
	fresh, err := m.Create(ctx, "session-evict-new")
	require.NoError(t, err)
	fresh.State = models.StateFailed
	require.NoError(t, m.Persist(ctx, fresh))

	active, err := m.Create(ctx, "session-evict-act")
	require.NoError(t, err)
	active.State = models.StateReviewing
	require.NoError(t, m.Persist(ctx, active))

	removed, err := m.EvictOlderThan(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "only old terminal sessions go")

	_, err = m.Load(ctx, "session-evict-old")
	assert.True(t, crucerr.Is(err, crucerr.KindNotFound))
	_, err = m.Load(ctx, "session-evict-new")
	assert.NoError(t, err)
	_, err = m.Load(ctx, "session-evict-act")
	assert.NoError(t, err)
}
