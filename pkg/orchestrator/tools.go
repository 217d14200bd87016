package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/llm"
	"github.com/crucible-dev/crucible/pkg/models"
)

// Status is the snapshot returned by get_project_status.
type Status struct {
	SessionID        string       `json:"session_id"`
	State            models.State `json:"state"`
	Active           bool         `json:"active"`
	CurrentIteration int          `json:"current_iteration"`
	MaxIterations    int          `json:"max_iterations"`
	QualityThreshold int          `json:"quality_threshold"`
	LastQualityScore *int         `json:"last_quality_score,omitempty"`
	ArtifactCount    int          `json:"artifact_count"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// GetProjectStatus returns the persisted snapshot of one session.
func (s *Service) GetProjectStatus(ctx context.Context, sessionID string) (*Status, error) {
	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Status{
		SessionID:        session.SessionID,
		State:            session.State,
		Active:           s.runner.Active(sessionID),
		CurrentIteration: session.CurrentIteration,
		MaxIterations:    session.MaxIterations,
		QualityThreshold: session.QualityThreshold,
		LastQualityScore: session.LastQualityScore,
		ArtifactCount:    len(session.Artifacts),
		CreatedAt:        session.CreatedAt,
		UpdatedAt:        session.UpdatedAt,
	}, nil
}

// Summary is the get_progress_summary payload. The score and timing
// sequences are omitted at minimal verbosity.
type Summary struct {
	IterationsCompleted int          `json:"iterations_completed"`
	QualityScores       []int        `json:"quality_scores,omitempty"`
	TimePerIterationMS  []int64      `json:"time_per_iteration_ms,omitempty"`
	CurrentState        models.State `json:"current_state"`
	ConvergenceTrend    Trend        `json:"convergence_trend"`
}

// ProgressSummary reports iteration progress and the convergence
// trend over score_history.
func (s *Service) ProgressSummary(ctx context.Context, sessionID, verbosity string) (*Summary, error) {
	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cfg := s.guard.Config()
	summary := &Summary{
		IterationsCompleted: len(session.ScoreHistory),
		CurrentState:        session.State,
		ConvergenceTrend:    ConvergenceTrend(session.ScoreHistory, cfg.StagnationWindow, cfg.StagnationThreshold),
	}
	if verbosity != "minimal" {
		summary.QualityScores = session.ScoreHistory
		summary.TimePerIterationMS = session.TimePerIterationMS
	}
	return summary, nil
}

// RunCriticReview executes the review pipeline against one code
// artifact on demand, outside the refinement loop.
func (s *Service) RunCriticReview(ctx context.Context, sessionID, artifactID string, depth models.ReviewDepth) (*models.ReviewResult, error) {
	lock := s.runner.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	artifact := session.ArtifactByID(artifactID)
	if artifact == nil {
		return nil, crucerr.Newf(crucerr.KindNotFound, "artifact %s not found in session %s", artifactID, sessionID)
	}
	if artifact.Kind != models.ArtifactCode {
		return nil, crucerr.Newf(crucerr.KindValidation, "artifact %s is %s, not code", artifactID, artifact.Kind)
	}

	result, reviewArt, err := s.pipeline.Run(ctx, session, artifact, depth, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.persistArtifact(ctx, session, reviewArt); err != nil {
		return nil, err
	}
	return result, nil
}

// ReviseCode invokes the Coder with caller-supplied feedback and
// appends the resulting code artifact. No state transition occurs;
// the tool serves manual, out-of-loop revision.
func (s *Service) ReviseCode(ctx context.Context, sessionID string, feedback *models.ReviewFeedback) (*models.Artifact, error) {
	lock := s.runner.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	code := session.LatestArtifact(models.ArtifactCode)
	if code == nil {
		return nil, crucerr.Newf(crucerr.KindNotFound, "session %s has no code artifact to revise", sessionID)
	}

	revised, err := s.agents.Revise(ctx, code.Content, feedback, s.currentHints())
	if err != nil {
		return nil, err
	}
	iteration, _ := code.MetaInt(models.MetaIteration)
	return s.emitCode(ctx, session, llm.StripCode(revised), code.MetaString(models.MetaLanguage), iteration+1)
}

// GenerateTestSuite asks the Coder for a test suite covering one code
// artifact and appends it as a test_suite artifact linked by
// code_artifact_id.
func (s *Service) GenerateTestSuite(ctx context.Context, artifactID, framework string, coverageTarget int) (*models.Artifact, error) {
	session, code, err := s.findArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if code.Kind != models.ArtifactCode {
		return nil, crucerr.Newf(crucerr.KindValidation, "artifact %s is %s, not code", artifactID, code.Kind)
	}

	lock := s.runner.sessionLock(session.SessionID)
	lock.Lock()
	defer lock.Unlock()

	content, err := s.agents.GenerateTests(ctx, code.Content, code.MetaString(models.MetaLanguage), framework, coverageTarget)
	if err != nil {
		return nil, err
	}
	artifact := &models.Artifact{
		ID:          models.NewArtifactID(),
		SessionID:   session.SessionID,
		Kind:        models.ArtifactTestSuite,
		Description: fmt.Sprintf("Test suite for %s (%s)", code.ID, framework),
		TimestampMS: s.now().UnixMilli(),
		Content:     llm.StripCode(content),
		Metadata: map[string]any{
			models.MetaOriginArtifact: code.ID,
			models.MetaLanguage:       code.MetaString(models.MetaLanguage),
		},
	}
	session.AppendArtifact(artifact)
	if err := s.store.AppendArtifact(ctx, session.SessionID, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// findArtifact resolves an artifact id to its session. Sessions are
// scanned newest-first; artifact volume per deployment keeps this
// acceptable without a dedicated index.
func (s *Service) findArtifact(ctx context.Context, artifactID string) (*models.SessionState, *models.Artifact, error) {
	const page = 50
	for offset := 0; ; offset += page {
		sessions, err := s.store.List(ctx, page, offset)
		if err != nil {
			return nil, nil, err
		}
		if len(sessions) == 0 {
			break
		}
		for _, summary := range sessions {
			session, err := s.store.Load(ctx, summary.SessionID)
			if err != nil {
				return nil, nil, err
			}
			if artifact := session.ArtifactByID(artifactID); artifact != nil {
				return session, artifact, nil
			}
		}
	}
	return nil, nil, crucerr.Newf(crucerr.KindNotFound, "artifact %s not found", artifactID)
}

// Archive is the final_handoff_archive payload.
type Archive struct {
	ArchiveID      string                   `json:"archive_id"`
	SessionID      string                   `json:"session_id"`
	FinalArtifact  *models.Artifact         `json:"final_artifact"`
	TestSuite      *models.Artifact         `json:"test_suite,omitempty"`
	FinalScore     int                      `json:"final_score"`
	IterationCount int                      `json:"iteration_count"`
	AuditTrail     []models.IterationRecord `json:"audit_trail,omitempty"`
}

// FinalHandoffArchive packages the session's final code and test
// suite for handoff.
func (s *Service) FinalHandoffArchive(ctx context.Context, sessionID string, includeAudit bool) (*Archive, error) {
	lock := s.runner.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.buildArchive(ctx, session, includeAudit)
}

func (s *Service) buildArchive(ctx context.Context, session *models.SessionState, includeAudit bool) (*Archive, error) {
	final := session.LatestArtifact(models.ArtifactCode)
	if final == nil {
		return nil, crucerr.Newf(crucerr.KindNotFound, "session %s has no code artifact", session.SessionID)
	}

	archive := &Archive{
		ArchiveID:      "archive-" + uuid.New().String(),
		SessionID:      session.SessionID,
		FinalArtifact:  final,
		TestSuite:      session.LatestArtifact(models.ArtifactTestSuite),
		FinalScore:     s.finalScore(session),
		IterationCount: s.iterationCount(session),
	}

	if includeAudit {
		code := session.CodeArtifacts()
		for i, score := range session.ScoreHistory {
			record := models.IterationRecord{Iteration: i, Score: score}
			if i < len(code) {
				record.ArtifactID = code[i].ID
			}
			archive.AuditTrail = append(archive.AuditTrail, record)
		}
	}

	// The archive itself becomes an audit_trail artifact so the
	// handoff is durable.
	content, err := json.Marshal(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to encode archive: %w", err)
	}
	record := &models.Artifact{
		ID:          models.NewArtifactID(),
		SessionID:   session.SessionID,
		Kind:        models.ArtifactAuditTrail,
		Description: "Handoff archive " + archive.ArchiveID,
		TimestampMS: s.now().UnixMilli(),
		Content:     string(content),
		Metadata:    map[string]any{"archive_id": archive.ArchiveID},
	}
	session.AppendArtifact(record)
	if err := s.store.AppendArtifact(ctx, session.SessionID, record); err != nil {
		return nil, err
	}
	return archive, nil
}

// finalScore prefers live history; after the IDLE reset it falls back
// to the latest review artifact's metadata.
func (s *Service) finalScore(session *models.SessionState) int {
	if len(session.ScoreHistory) > 0 {
		return session.ScoreHistory[len(session.ScoreHistory)-1]
	}
	if latest := session.LatestArtifact(models.ArtifactReview); latest != nil {
		if score, ok := latest.MetaInt(models.MetaQualityScore); ok {
			return score
		}
	}
	return 0
}

func (s *Service) iterationCount(session *models.SessionState) int {
	if len(session.ScoreHistory) > 0 {
		return len(session.ScoreHistory)
	}
	count := 0
	for _, a := range session.Artifacts {
		if a.Kind == models.ArtifactReview {
			count++
		}
	}
	return count
}
