package orchestrator

import (
	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
	"github.com/crucible-dev/crucible/pkg/review"
)

// BuildEscalation assembles the handoff summary returned when the
// loop terminates without convergence.
//
// best_artifact is the code artifact at the iteration with the
// highest score, ties to the earliest. Sessions that never produced
// code (a rejected task spec, a pre-generation failure) carry no best
// artifact; for loop-guard reasons the absence is an internal error.
func BuildEscalation(session *models.SessionState, reason models.EscalationReason) (*models.EscalationMessage, error) {
	code := session.CodeArtifacts()

	var best *models.Artifact
	if len(code) > 0 {
		bestScore := -1
		for i, a := range code {
			if i >= len(session.ScoreHistory) {
				break
			}
			if session.ScoreHistory[i] > bestScore {
				bestScore = session.ScoreHistory[i]
				best = a
			}
		}
		if best == nil {
			// Code exists but no review completed yet.
			best = code[0]
		}
	} else if reason != models.ReasonTaskRejected && reason != models.ReasonInternalError {
		return nil, crucerr.Newf(crucerr.KindInternal,
			"session %s escalated with reason %s but has no code artifact", session.SessionID, reason)
	}

	history := make([]models.IterationRecord, 0, len(session.ScoreHistory))
	for i, score := range session.ScoreHistory {
		record := models.IterationRecord{Iteration: i, Score: score}
		if i < len(code) {
			record.ArtifactID = code[i].ID
		}
		history = append(history, record)
	}

	critique := finalCritique(session)

	return &models.EscalationMessage{
		SessionID:        session.SessionID,
		Reason:           reason,
		BestArtifact:     best,
		IterationHistory: history,
		FinalCritique:    critique,
		AvailableActions: models.EscalationActions,
	}, nil
}

// finalCritique parses the latest review artifact; with none, a
// minimal record carrying the last score stands in.
func finalCritique(session *models.SessionState) models.ReviewFeedback {
	if latest := session.LatestArtifact(models.ArtifactReview); latest != nil {
		if fb, err := review.ParseReviewContent(latest); err == nil {
			return *fb
		}
	}
	score := 0
	if session.LastQualityScore != nil {
		score = *session.LastQualityScore
	}
	return models.ReviewFeedback{
		QualityScore:    score,
		Defects:         []models.Defect{},
		Suggestions:     []string{},
		RequiredChanges: []string{},
	}
}
