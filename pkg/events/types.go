// Package events provides real-time progress delivery. Publishers in
// the orchestrator and review pipeline emit typed payloads onto an
// in-process bus; the WebSocket connection manager fans them out to
// subscribed clients.
//
// Channels:
//
//	sessions            all session lifecycle events
//	session:<id>        everything for one session
package events

import "github.com/crucible-dev/crucible/pkg/models"

// Event types.
const (
	EventTypeSessionStatus      = "session.status"
	EventTypeIterationCompleted = "iteration.completed"
	EventTypeReviewCompleted    = "review.completed"
	EventTypeArtifactCreated    = "artifact.created"
	EventTypeEscalationRaised   = "escalation.raised"
)

// ChannelSessions is the global lifecycle channel.
const ChannelSessions = "sessions"

// SessionChannel returns the per-session channel name.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	SessionID string `json:"session_id"`
	Payload   any    `json:"payload"`
}

// SessionStatusPayload announces a state transition.
type SessionStatusPayload struct {
	State     models.State `json:"state"`
	Iteration int          `json:"iteration"`
}

// IterationCompletedPayload announces one completed refinement cycle.
type IterationCompletedPayload struct {
	Iteration    int                   `json:"iteration"`
	QualityScore int                   `json:"quality_score"`
	DurationMS   int64                 `json:"duration_ms"`
	Verdict      models.Recommendation `json:"verdict"`
}

// ReviewCompletedPayload summarizes a finished review.
type ReviewCompletedPayload struct {
	ReviewID     string  `json:"review_id"`
	QualityScore int     `json:"quality_score"`
	DefectCount  int     `json:"defect_count"`
	TestCoverage float64 `json:"test_coverage"`
}

// ArtifactCreatedPayload announces a persisted artifact.
type ArtifactCreatedPayload struct {
	ArtifactID string              `json:"artifact_id"`
	Kind       models.ArtifactKind `json:"kind"`
	Iteration  int                 `json:"iteration"`
}

// EscalationRaisedPayload announces a handoff to a human operator.
type EscalationRaisedPayload struct {
	Reason         string `json:"reason"`
	FinalScore     *int   `json:"final_score,omitempty"`
	BestArtifactID string `json:"best_artifact_id,omitempty"`
}

// ClientMessage is what WebSocket clients send.
type ClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}
