// Package statemachine enforces the legal session state transitions
// and the side effects tied to them. No other writer may mutate
// SessionState.State.
package statemachine

import (
	"log/slog"
	"time"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
)

// legalTransitions is the session state graph. Any move not listed
// here fails with an invalid-transition error.
var legalTransitions = map[models.State][]models.State{
	models.StateIdle:       {models.StateGenerating},
	models.StateGenerating: {models.StateReviewing, models.StateFailed},
	models.StateReviewing:  {models.StateConverged, models.StateRevising, models.StateEscalated},
	models.StateRevising:   {models.StateReviewing, models.StateFailed},
	models.StateConverged:  {models.StateIdle},
	models.StateEscalated:  {models.StateRevising, models.StateIdle, models.StateFailed},
	models.StateFailed:     {models.StateIdle},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to models.State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine applies transitions to a single session. Transitions are
// synchronous with respect to the owning session; the orchestrator's
// single-task ownership guarantees no concurrent transitions.
type Machine struct {
	session *models.SessionState
}

// New creates a state machine bound to the given session.
func New(session *models.SessionState) *Machine {
	return &Machine{session: session}
}

// Transition moves the session to the target state, applying
// transition-specific side effects:
//   - entering REVISING increments current_iteration
//   - entering IDLE from a terminal state resets the session for reuse
func (m *Machine) Transition(to models.State) error {
	from := m.session.State
	if !to.Valid() {
		return crucerr.Newf(crucerr.KindInvalidTransition, "unknown state %q", to)
	}
	if !CanTransition(from, to) {
		return crucerr.Newf(crucerr.KindInvalidTransition,
			"illegal transition %s -> %s for session %s", from, to, m.session.SessionID)
	}

	switch {
	case to == models.StateRevising:
		m.session.CurrentIteration++
	case to == models.StateIdle && from.IsTerminal():
		m.session.CurrentIteration = 0
		m.session.ScoreHistory = []int{}
		m.session.TimePerIterationMS = []int64{}
		m.session.LastQualityScore = nil
		m.session.ClearHashes()
	}

	m.session.State = to
	m.session.UpdatedAt = time.Now()

	slog.Debug("Session state transition",
		"session_id", m.session.SessionID,
		"from", from,
		"to", to,
		"iteration", m.session.CurrentIteration)
	return nil
}

// State returns the current state.
func (m *Machine) State() models.State {
	return m.session.State
}
