// Package orchestrator drives the closed-loop refinement between the
// Coder and Critic agents: generate, review, revise until the quality
// threshold is met or the loop guard refuses to continue.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/events"
	"github.com/crucible-dev/crucible/pkg/llm"
	"github.com/crucible-dev/crucible/pkg/loopguard"
	"github.com/crucible-dev/crucible/pkg/metrics"
	"github.com/crucible-dev/crucible/pkg/models"
	"github.com/crucible-dev/crucible/pkg/review"
	"github.com/crucible-dev/crucible/pkg/safety"
	"github.com/crucible-dev/crucible/pkg/statemachine"
	"github.com/crucible-dev/crucible/pkg/store"
)

// Defaults are the deployment-level knobs applied when a task spec
// does not override them.
type Defaults struct {
	MaxIterations      int
	QualityThreshold   int
	TaskTimeoutMinutes int
}

// Options are the per-task overrides accepted by execute_task_spec.
// Zero values fall back to the deployment defaults.
type Options struct {
	MaxIterations      int
	QualityThreshold   int
	TaskTimeoutMinutes int
}

// ExecuteResult is the immediate acknowledgment of a started task.
type ExecuteResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// RunResult is the terminal outcome of one orchestration: either an
// archive id on convergence or an escalation.
type RunResult struct {
	ArchiveID  string                    `json:"archive_id,omitempty"`
	Escalation *models.EscalationMessage `json:"escalation,omitempty"`
}

// patternHint is one injected alternative, applied to all subsequent
// revisions process-wide.
type patternHint struct {
	Pattern string
	Context string
}

// Service is the orchestrator. One instance per process; per-session
// write exclusivity is enforced through the runner's session locks.
type Service struct {
	store    store.Store
	agents   *llm.Manager
	pipeline *review.Pipeline
	guard    *loopguard.Guard
	detector *safety.Detector
	bus      *events.Bus
	metrics  *metrics.Metrics
	runner   *Runner
	defaults Defaults
	now      func() time.Time

	hintMu sync.Mutex
	hints  []patternHint
}

// NewService wires the orchestrator.
func NewService(st store.Store, agents *llm.Manager, pipeline *review.Pipeline, guardCfg loopguard.Config, detector *safety.Detector, bus *events.Bus, m *metrics.Metrics, defaults Defaults) *Service {
	return &Service{
		store:    st,
		agents:   agents,
		pipeline: pipeline,
		guard:    loopguard.New(guardCfg),
		detector: detector,
		bus:      bus,
		metrics:  m,
		runner:   NewRunner(),
		defaults: defaults,
		now:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.guard.WithClock(now)
	return s
}

// Runner exposes the task runner for lifecycle control.
func (s *Service) Runner() *Runner { return s.runner }

// Agents exposes the model manager for the configure/prompt tools.
func (s *Service) Agents() *llm.Manager { return s.agents }

// ExecuteTaskSpec creates a session and starts the refinement loop in
// the background. The outcome is observable through get_project_status
// and final_handoff_archive.
func (s *Service) ExecuteTaskSpec(ctx context.Context, spec *models.TaskSpec, opts Options) (*ExecuteResult, error) {
	sessionID := models.NewSessionID()
	if _, err := s.store.Create(ctx, sessionID); err != nil {
		return nil, err
	}

	started := s.runner.Launch(sessionID, func(runCtx context.Context) {
		if _, err := s.Run(runCtx, sessionID, spec, opts); err != nil {
			slog.Error("Orchestration failed", "session_id", sessionID, "error", err)
		}
	})
	if !started {
		return nil, crucerr.New(crucerr.KindInternal, "orchestrator is shutting down")
	}

	slog.Info("Task accepted", "session_id", sessionID, "language", spec.Language)
	return &ExecuteResult{SessionID: sessionID, Status: "started"}, nil
}

// Run executes the refinement loop synchronously for one session. It
// is the single writer for that session while it holds the session
// lock.
func (s *Service) Run(ctx context.Context, sessionID string, spec *models.TaskSpec, opts Options) (*RunResult, error) {
	lock := s.runner.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.applyOptions(session, opts)
	session.StartTime = s.now().UnixMilli()
	machine := statemachine.New(session)

	if err := s.recordTaskSpec(ctx, session, spec); err != nil {
		return nil, err
	}

	if err := spec.Validate(); err != nil {
		slog.Warn("Task spec rejected", "session_id", sessionID, "error", err)
		return s.escalate(ctx, session, models.ReasonTaskRejected)
	}

	if err := s.transition(ctx, machine, session, models.StateGenerating); err != nil {
		return nil, err
	}

	content, err := s.agents.Generate(ctx, spec)
	if err != nil {
		return s.fail(ctx, machine, session, err)
	}
	codeArt, err := s.emitCode(ctx, session, llm.StripCode(content), spec.Language, 0)
	if err != nil {
		return s.fail(ctx, machine, session, err)
	}
	if s.dangerous(codeArt) {
		return s.escalateDangerous(ctx, machine, session, codeArt)
	}

	for {
		if err := s.transition(ctx, machine, session, models.StateReviewing); err != nil {
			return s.fail(ctx, machine, session, err)
		}

		iterStart := s.now()
		result, reviewArt, err := s.pipeline.Run(ctx, session, codeArt, models.DepthStandard, iterStart)
		if err != nil {
			return s.fail(ctx, machine, session, err)
		}
		if err := s.persistArtifact(ctx, session, reviewArt); err != nil {
			return s.fail(ctx, machine, session, err)
		}
		s.bus.PublishToSession(sessionID, events.EventTypeReviewCompleted, events.ReviewCompletedPayload{
			ReviewID:     result.ReviewID,
			QualityScore: result.QualityScore,
			DefectCount:  len(result.AllDefects),
			TestCoverage: result.TestCoverage,
		})
		s.bus.PublishToSession(sessionID, events.EventTypeIterationCompleted, events.IterationCompletedPayload{
			Iteration:    session.CurrentIteration,
			QualityScore: result.QualityScore,
			DurationMS:   session.TimePerIterationMS[len(session.TimePerIterationMS)-1],
			Verdict:      result.Recommendation,
		})

		if result.Recommendation == models.RecommendApprove {
			session.AddHash(models.ContentDigest(codeArt.Content))
			if err := s.transition(ctx, machine, session, models.StateConverged); err != nil {
				return s.fail(ctx, machine, session, err)
			}
			archive, err := s.buildArchive(ctx, session, false)
			if err != nil {
				return s.fail(ctx, machine, session, err)
			}
			if err := s.transition(ctx, machine, session, models.StateIdle); err != nil {
				return nil, err
			}
			slog.Info("Session converged",
				"session_id", sessionID, "archive_id", archive.ArchiveID,
				"final_score", archive.FinalScore, "iterations", archive.IterationCount)
			return &RunResult{ArchiveID: archive.ArchiveID}, nil
		}

		verdict := s.guard.Check(session, codeArt.Content)
		if verdict.Terminate {
			// Late digests still land in content_hashes.
			session.AddHash(models.ContentDigest(codeArt.Content))
			if err := s.transition(ctx, machine, session, models.StateEscalated); err != nil {
				return nil, err
			}
			return s.escalate(ctx, session, verdict.Reason)
		}

		if err := s.transition(ctx, machine, session, models.StateRevising); err != nil {
			return s.fail(ctx, machine, session, err)
		}
		revised, err := s.agents.Revise(ctx, codeArt.Content, &result.Feedback, s.currentHints())
		if err != nil {
			return s.fail(ctx, machine, session, err)
		}
		codeArt, err = s.emitCode(ctx, session, llm.StripCode(revised), spec.Language, session.CurrentIteration)
		if err != nil {
			return s.fail(ctx, machine, session, err)
		}
		if s.dangerous(codeArt) {
			if err := s.transition(ctx, machine, session, models.StateReviewing); err != nil {
				return nil, err
			}
			return s.escalateDangerous(ctx, machine, session, codeArt)
		}
	}
}

// transition applies one state move, persists, and publishes it.
func (s *Service) transition(ctx context.Context, machine *statemachine.Machine, session *models.SessionState, to models.State) error {
	if err := machine.Transition(to); err != nil {
		return err
	}
	session.UpdatedAt = s.now()
	if err := s.store.Persist(ctx, session); err != nil {
		return err
	}
	s.bus.PublishSessionStatus(session.SessionID, events.SessionStatusPayload{
		State:     session.State,
		Iteration: session.CurrentIteration,
	})
	return nil
}

func (s *Service) applyOptions(session *models.SessionState, opts Options) {
	session.MaxIterations = s.defaults.MaxIterations
	session.QualityThreshold = s.defaults.QualityThreshold
	session.TaskTimeoutMinutes = s.defaults.TaskTimeoutMinutes
	if opts.MaxIterations > 0 {
		session.MaxIterations = opts.MaxIterations
	}
	if opts.QualityThreshold > 0 {
		session.QualityThreshold = opts.QualityThreshold
	}
	if opts.TaskTimeoutMinutes > 0 {
		session.TaskTimeoutMinutes = opts.TaskTimeoutMinutes
	}
}

// recordTaskSpec embeds the task spec in the session's first audit
// artifact. The spec has no table of its own; this entry is the only
// place a stored session can be traced back to the task that drove it,
// including on rejection and escalation paths.
func (s *Service) recordTaskSpec(ctx context.Context, session *models.SessionState, spec *models.TaskSpec) error {
	content, err := json.Marshal(spec)
	if err != nil {
		return crucerr.Wrap(crucerr.KindInternal, "failed to encode task spec", err)
	}
	artifact := &models.Artifact{
		ID:          models.NewArtifactID(),
		SessionID:   session.SessionID,
		Kind:        models.ArtifactAuditTrail,
		Description: "Task specification",
		TimestampMS: s.now().UnixMilli(),
		Content:     string(content),
		Metadata: map[string]any{
			models.MetaLanguage: spec.Language,
		},
	}
	session.AppendArtifact(artifact)
	return s.persistArtifact(ctx, session, artifact)
}

// emitCode records a new code artifact in the session and the store.
func (s *Service) emitCode(ctx context.Context, session *models.SessionState, content, language string, iteration int) (*models.Artifact, error) {
	artifact := &models.Artifact{
		ID:          models.NewArtifactID(),
		SessionID:   session.SessionID,
		Kind:        models.ArtifactCode,
		Description: fmt.Sprintf("Code, iteration %d", iteration),
		TimestampMS: s.now().UnixMilli(),
		Content:     content,
		Metadata: map[string]any{
			models.MetaLanguage:  language,
			models.MetaIteration: iteration,
		},
	}
	session.AppendArtifact(artifact)
	if err := s.store.AppendArtifact(ctx, session.SessionID, artifact); err != nil {
		return nil, err
	}
	if err := s.store.Persist(ctx, session); err != nil {
		return nil, err
	}
	s.bus.PublishToSession(session.SessionID, events.EventTypeArtifactCreated, events.ArtifactCreatedPayload{
		ArtifactID: artifact.ID,
		Kind:       artifact.Kind,
		Iteration:  iteration,
	})
	return artifact, nil
}

func (s *Service) persistArtifact(ctx context.Context, session *models.SessionState, artifact *models.Artifact) error {
	if err := s.store.AppendArtifact(ctx, session.SessionID, artifact); err != nil {
		return err
	}
	return s.store.Persist(ctx, session)
}

func (s *Service) dangerous(artifact *models.Artifact) bool {
	if s.detector == nil {
		return false
	}
	findings := s.detector.Scan(artifact.Content)
	if len(findings) == 0 {
		return false
	}
	for _, f := range findings {
		slog.Warn("Dangerous pattern in generated code",
			"session_id", artifact.SessionID, "artifact_id", artifact.ID,
			"pattern", f.Pattern, "category", f.Category)
	}
	return true
}

// escalateDangerous walks the session into ESCALATED from wherever the
// dangerous artifact surfaced.
func (s *Service) escalateDangerous(ctx context.Context, machine *statemachine.Machine, session *models.SessionState, artifact *models.Artifact) (*RunResult, error) {
	session.AddHash(models.ContentDigest(artifact.Content))
	if session.State == models.StateGenerating {
		if err := s.transition(ctx, machine, session, models.StateReviewing); err != nil {
			return nil, err
		}
	}
	if err := s.transition(ctx, machine, session, models.StateEscalated); err != nil {
		return nil, err
	}
	return s.escalate(ctx, session, models.ReasonDangerousOutput)
}

// escalate builds and records the handoff. The session must already
// be in its final state for this run.
func (s *Service) escalate(ctx context.Context, session *models.SessionState, reason models.EscalationReason) (*RunResult, error) {
	esc, err := BuildEscalation(session, reason)
	if err != nil {
		return nil, err
	}
	session.UpdatedAt = s.now()
	if err := s.store.Persist(ctx, session); err != nil {
		return nil, err
	}

	payload := events.EscalationRaisedPayload{Reason: string(reason)}
	if session.LastQualityScore != nil {
		payload.FinalScore = session.LastQualityScore
	}
	if esc.BestArtifact != nil {
		payload.BestArtifactID = esc.BestArtifact.ID
	}
	s.bus.PublishToSession(session.SessionID, events.EventTypeEscalationRaised, payload)
	if s.metrics != nil {
		s.metrics.Escalations.WithLabelValues(string(reason)).Inc()
	}
	slog.Info("Session escalated", "session_id", session.SessionID, "reason", reason)
	return &RunResult{Escalation: esc}, nil
}

// fail is the unhandled-error path: move to FAILED (via ESCALATED when
// the graph requires it) and hand back an internal_error escalation.
func (s *Service) fail(ctx context.Context, machine *statemachine.Machine, session *models.SessionState, cause error) (*RunResult, error) {
	slog.Error("Orchestration error", "session_id", session.SessionID,
		"state", session.State, "error", cause)

	// Digests of code already emitted must survive the failure so a
	// resumed session can still trip the oscillation check.
	if art := session.LatestArtifact(models.ArtifactCode); art != nil {
		session.AddHash(models.ContentDigest(art.Content))
	}

	if !statemachine.CanTransition(session.State, models.StateFailed) &&
		statemachine.CanTransition(session.State, models.StateEscalated) {
		if err := s.transition(ctx, machine, session, models.StateEscalated); err != nil {
			return nil, err
		}
	}
	if statemachine.CanTransition(session.State, models.StateFailed) {
		if err := s.transition(ctx, machine, session, models.StateFailed); err != nil {
			return nil, err
		}
	}
	return s.escalate(ctx, session, models.ReasonInternalError)
}

// InjectPattern records an alternative-pattern hint applied to all
// subsequent revisions.
func (s *Service) InjectPattern(pattern, context string) int {
	s.hintMu.Lock()
	defer s.hintMu.Unlock()
	s.hints = append(s.hints, patternHint{Pattern: pattern, Context: context})
	slog.Info("Alternative pattern injected", "total_hints", len(s.hints))
	return len(s.hints)
}

func (s *Service) currentHints() []string {
	s.hintMu.Lock()
	defer s.hintMu.Unlock()
	out := make([]string, 0, len(s.hints))
	for _, h := range s.hints {
		if h.Context != "" {
			out = append(out, h.Pattern+" ("+h.Context+")")
			continue
		}
		out = append(out, h.Pattern)
	}
	return out
}
