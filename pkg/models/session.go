// Package models defines the domain entities shared across crucible:
// sessions, artifacts, review feedback, defects, task specs, and
// escalation messages.
package models

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session.
type State string

// Session states.
const (
	StateIdle       State = "IDLE"
	StateGenerating State = "GENERATING"
	StateReviewing  State = "REVIEWING"
	StateRevising   State = "REVISING"
	StateConverged  State = "CONVERGED"
	StateEscalated  State = "ESCALATED"
	StateFailed     State = "FAILED"
)

// IsTerminal reports whether the state ends an orchestration run.
// ESCALATED ends the loop but the session stays actionable: the client
// may resume via REVISING or reset via IDLE.
func (s State) IsTerminal() bool {
	return s == StateConverged || s == StateEscalated || s == StateFailed
}

// Valid reports whether s is a known state value.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateGenerating, StateReviewing, StateRevising,
		StateConverged, StateEscalated, StateFailed:
		return true
	}
	return false
}

var sessionIDPattern = regexp.MustCompile(`^session-[a-z0-9-]+$`)

// NewSessionID generates a fresh session identifier.
func NewSessionID() string {
	return "session-" + uuid.New().String()
}

// ValidateSessionID checks the session id format (session-<lowercase
// alphanumerics and hyphens>, 10-100 chars total).
func ValidateSessionID(id string) error {
	if len(id) < 10 || len(id) > 100 {
		return fmt.Errorf("session id must be 10-100 characters, got %d", len(id))
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session id %q does not match session-<lowercase-alphanum-hyphens>", id)
	}
	return nil
}

// SessionState is the primary aggregate: one orchestration's lifetime.
// It is mutated only by the state machine and the review pipeline,
// under the orchestrator's per-session ownership.
type SessionState struct {
	SessionID          string `json:"session_id"`
	State              State  `json:"state"`
	CurrentIteration   int    `json:"current_iteration"`
	MaxIterations      int    `json:"max_iterations"`
	QualityThreshold   int    `json:"quality_threshold"`
	TaskTimeoutMinutes int    `json:"task_timeout_minutes"`

	// StartTime is epoch milliseconds of orchestration start.
	StartTime int64 `json:"start_time"`

	// LastQualityScore is nil until the first review completes.
	LastQualityScore *int `json:"last_quality_score,omitempty"`

	// ScoreHistory holds one entry per completed review, aligned with
	// TimePerIterationMS.
	ScoreHistory       []int   `json:"score_history"`
	TimePerIterationMS []int64 `json:"time_per_iteration_ms"`

	// contentHashes is the set of digests of every code artifact
	// produced in this session. Unexported to preserve set semantics;
	// serialized as an ordered list at the persistence boundary via
	// HashList/SetHashes.
	contentHashes map[string]struct{}

	// Artifacts are ordered by timestamp, then insertion.
	Artifacts []*Artifact `json:"artifacts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionState initializes a session with store defaults: IDLE,
// iteration 0, empty sequences.
func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID:          sessionID,
		State:              StateIdle,
		CurrentIteration:   0,
		ScoreHistory:       []int{},
		TimePerIterationMS: []int64{},
		Artifacts:          []*Artifact{},
		contentHashes:      make(map[string]struct{}),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// ElapsedMS returns the wall-clock time since StartTime in milliseconds.
func (s *SessionState) ElapsedMS(now time.Time) int64 {
	if s.StartTime == 0 {
		return 0
	}
	return now.UnixMilli() - s.StartTime
}

// AddHash records a code-content digest. Returns false if the digest
// was already present (the oscillation signal).
func (s *SessionState) AddHash(digest string) bool {
	if s.contentHashes == nil {
		s.contentHashes = make(map[string]struct{})
	}
	if _, ok := s.contentHashes[digest]; ok {
		return false
	}
	s.contentHashes[digest] = struct{}{}
	return true
}

// HasHash reports whether the digest was already produced in this session.
func (s *SessionState) HasHash(digest string) bool {
	_, ok := s.contentHashes[digest]
	return ok
}

// ClearHashes empties the digest set (session reset to IDLE).
func (s *SessionState) ClearHashes() {
	s.contentHashes = make(map[string]struct{})
}

// HashList returns the digests as a sorted list for deterministic
// persistence.
func (s *SessionState) HashList() []string {
	out := make([]string, 0, len(s.contentHashes))
	for h := range s.contentHashes {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// SetHashes rehydrates the digest set from a persisted ordered list.
func (s *SessionState) SetHashes(list []string) {
	s.contentHashes = make(map[string]struct{}, len(list))
	for _, h := range list {
		s.contentHashes[h] = struct{}{}
	}
}

// AppendArtifact adds an artifact preserving timestamp-then-insertion
// order. Code artifact digests are tracked separately by the caller.
func (s *SessionState) AppendArtifact(a *Artifact) {
	s.Artifacts = append(s.Artifacts, a)
}

// ArtifactByID returns the artifact with the given id, or nil.
func (s *SessionState) ArtifactByID(id string) *Artifact {
	for _, a := range s.Artifacts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// CodeArtifacts returns the ordered list of code artifacts.
func (s *SessionState) CodeArtifacts() []*Artifact {
	var out []*Artifact
	for _, a := range s.Artifacts {
		if a.Kind == ArtifactCode {
			out = append(out, a)
		}
	}
	return out
}

// LatestArtifact returns the most recent artifact of the given kind,
// or nil.
func (s *SessionState) LatestArtifact(kind ArtifactKind) *Artifact {
	for i := len(s.Artifacts) - 1; i >= 0; i-- {
		if s.Artifacts[i].Kind == kind {
			return s.Artifacts[i]
		}
	}
	return nil
}

// Clone returns a deep copy suitable for read-only snapshots handed to
// the front-end while the orchestrator owns the live aggregate.
func (s *SessionState) Clone() *SessionState {
	cp := *s
	cp.ScoreHistory = append([]int(nil), s.ScoreHistory...)
	cp.TimePerIterationMS = append([]int64(nil), s.TimePerIterationMS...)
	if s.LastQualityScore != nil {
		v := *s.LastQualityScore
		cp.LastQualityScore = &v
	}
	cp.contentHashes = make(map[string]struct{}, len(s.contentHashes))
	for h := range s.contentHashes {
		cp.contentHashes[h] = struct{}{}
	}
	cp.Artifacts = make([]*Artifact, len(s.Artifacts))
	for i, a := range s.Artifacts {
		cp.Artifacts[i] = a.Clone()
	}
	return &cp
}
