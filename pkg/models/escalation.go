package models

// EscalationReason explains why the loop handed control back to the
// client. Beyond the loop-guard reasons, task_rejected covers invalid
// task specs and internal_error covers unhandled orchestration errors,
// so clients can distinguish them from a genuine iteration cap.
type EscalationReason string

// Escalation reasons.
const (
	ReasonMaxIterations   EscalationReason = "max_iterations_reached"
	ReasonStagnation      EscalationReason = "stagnation_detected"
	ReasonOscillation     EscalationReason = "oscillation_detected"
	ReasonTimeout         EscalationReason = "timeout_exceeded"
	ReasonDangerousOutput EscalationReason = "dangerous_output_detected"
	ReasonTaskRejected    EscalationReason = "task_rejected"
	ReasonInternalError   EscalationReason = "internal_error"
)

// IterationRecord pairs one completed review with its code artifact.
type IterationRecord struct {
	Iteration  int    `json:"iteration"`
	Score      int    `json:"score"`
	ArtifactID string `json:"artifact_id"`
}

// Escalation actions offered to the client, in fixed order.
var EscalationActions = []string{
	"switch_llm",
	"retry_with_constraints",
	"abort",
	"accept_best_effort",
}

// EscalationMessage is the curated summary handed back to the client
// when the loop terminates without convergence.
type EscalationMessage struct {
	SessionID        string            `json:"session_id"`
	Reason           EscalationReason  `json:"reason"`
	BestArtifact     *Artifact         `json:"best_artifact,omitempty"`
	IterationHistory []IterationRecord `json:"iteration_history"`
	FinalCritique    ReviewFeedback    `json:"final_critique"`
	AvailableActions []string          `json:"available_actions"`
}
