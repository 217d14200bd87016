package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
)

func newSession(state models.State) *models.SessionState {
	s := models.NewSessionState("session-test-0001", time.Now())
	s.State = state
	return s
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.State
		want     bool
	}{
		{models.StateIdle, models.StateGenerating, true},
		{models.StateGenerating, models.StateReviewing, true},
		{models.StateGenerating, models.StateFailed, true},
		{models.StateReviewing, models.StateConverged, true},
		{models.StateReviewing, models.StateRevising, true},
		{models.StateReviewing, models.StateEscalated, true},
		{models.StateRevising, models.StateReviewing, true},
		{models.StateRevising, models.StateFailed, true},
		{models.StateConverged, models.StateIdle, true},
		{models.StateEscalated, models.StateRevising, true},
		{models.StateEscalated, models.StateIdle, true},
		{models.StateEscalated, models.StateFailed, true},
		{models.StateFailed, models.StateIdle, true},

		{models.StateIdle, models.StateReviewing, false},
		{models.StateIdle, models.StateConverged, false},
		{models.StateGenerating, models.StateRevising, false},
		{models.StateReviewing, models.StateFailed, false},
		{models.StateReviewing, models.StateIdle, false},
		{models.StateConverged, models.StateGenerating, false},
		{models.StateConverged, models.StateReviewing, false},
		{models.StateFailed, models.StateGenerating, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionIllegalMove(t *testing.T) {
	sess := newSession(models.StateIdle)
	m := New(sess)

	err := m.Transition(models.StateReviewing)
	require.Error(t, err)
	assert.Equal(t, crucerr.KindInvalidTransition, crucerr.KindOf(err))
	assert.Equal(t, models.StateIdle, sess.State, "failed transition must not change state")
}

func TestTransitionUnknownState(t *testing.T) {
	m := New(newSession(models.StateIdle))
	err := m.Transition(models.State("DREAMING"))
	require.Error(t, err)
	assert.Equal(t, crucerr.KindInvalidTransition, crucerr.KindOf(err))
}

func TestTransitionEnteringRevisingIncrementsIteration(t *testing.T) {
	sess := newSession(models.StateReviewing)
	sess.CurrentIteration = 1
	m := New(sess)

	require.NoError(t, m.Transition(models.StateRevising))
	assert.Equal(t, 2, sess.CurrentIteration)

	require.NoError(t, m.Transition(models.StateReviewing))
	assert.Equal(t, 2, sess.CurrentIteration, "leaving REVISING must not change the counter")
}

func TestTransitionIdleFromTerminalResets(t *testing.T) {
	sess := newSession(models.StateConverged)
	sess.CurrentIteration = 3
	score := 91
	sess.LastQualityScore = &score
	sess.ScoreHistory = []int{60, 75, 91}
	sess.TimePerIterationMS = []int64{1200, 1100, 900}
	sess.AddHash("h1")
	m := New(sess)

	require.NoError(t, m.Transition(models.StateIdle))

	assert.Equal(t, models.StateIdle, sess.State)
	assert.Equal(t, 0, sess.CurrentIteration)
	assert.Nil(t, sess.LastQualityScore)
	assert.Empty(t, sess.ScoreHistory)
	assert.Empty(t, sess.TimePerIterationMS)
	assert.Empty(t, sess.HashList())
}

func TestTransitionEscalatedResume(t *testing.T) {
	sess := newSession(models.StateEscalated)
	sess.CurrentIteration = 2
	m := New(sess)

	// Resuming from escalation re-enters the revise loop.
	require.NoError(t, m.Transition(models.StateRevising))
	assert.Equal(t, 3, sess.CurrentIteration)
}

func TestTransitionUpdatesTimestamp(t *testing.T) {
	sess := newSession(models.StateIdle)
	before := sess.UpdatedAt
	m := New(sess)

	time.Sleep(time.Millisecond)
	require.NoError(t, m.Transition(models.StateGenerating))
	assert.True(t, sess.UpdatedAt.After(before))
	assert.Equal(t, models.StateGenerating, m.State())
}
