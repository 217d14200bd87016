// Package review implements the code review pipeline: critic call,
// test execution, static analysis, defect union, quality scoring, and
// review artifact emission.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/llm"
	"github.com/crucible-dev/crucible/pkg/metrics"
	"github.com/crucible-dev/crucible/pkg/models"
	"github.com/crucible-dev/crucible/pkg/policy"
)

// TestExecutor runs a test suite against a code artifact in an
// isolated workspace. External collaborator; implementations live
// outside the core.
type TestExecutor interface {
	Run(ctx context.Context, code, tests *models.Artifact) (*models.TestRunResult, error)
}

// StaticAnalyzer runs a language-appropriate linter over a code
// artifact. External collaborator.
type StaticAnalyzer interface {
	Analyze(ctx context.Context, code *models.Artifact, language string) ([]models.LintViolation, error)
}

// Default external-call timeouts.
const (
	DefaultTestTimeout     = 5 * time.Minute
	DefaultAnalyzerTimeout = 1 * time.Minute
)

// Pipeline drives one review of a code artifact. The executor and
// analyzer may be nil (no tests run / no analysis).
type Pipeline struct {
	llm      *llm.Manager
	executor TestExecutor
	analyzer StaticAnalyzer
	policies *policy.Service
	metrics  *metrics.Metrics

	testTimeout     time.Duration
	analyzerTimeout time.Duration
	now             func() time.Time
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(manager *llm.Manager, executor TestExecutor, analyzer StaticAnalyzer, policies *policy.Service, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		llm:             manager,
		executor:        executor,
		analyzer:        analyzer,
		policies:        policies,
		metrics:         m,
		testTimeout:     DefaultTestTimeout,
		analyzerTimeout: DefaultAnalyzerTimeout,
		now:             time.Now,
	}
}

// WithClock overrides the time source for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// WithTimeouts overrides the external-call timeouts.
func (p *Pipeline) WithTimeouts(test, analyzer time.Duration) *Pipeline {
	p.testTimeout = test
	p.analyzerTimeout = analyzer
	return p
}

// Run executes the review: critic, tests, static analysis, defect
// union, score, recommendation, review artifact. The session is
// mutated (score history, last score) and the review artifact is
// appended; persistence is the caller's responsibility.
//
// startedAt anchors the time_per_iteration entry appended alongside
// the score.
func (p *Pipeline) Run(ctx context.Context, session *models.SessionState, code *models.Artifact, depth models.ReviewDepth, startedAt time.Time) (*models.ReviewResult, *models.Artifact, error) {
	if !depth.Valid() {
		depth = models.DepthStandard
	}
	language := code.MetaString(models.MetaLanguage)

	// 1. Critic call. Model failures propagate: the orchestrator's
	// error path owns them.
	draft, err := p.llm.Critique(ctx, code.Content, language, depth)
	if err != nil {
		return nil, nil, fmt.Errorf("critic call failed: %w", err)
	}

	// 2. Test execution. Timeouts and failures degrade to zero
	// coverage with no test defects.
	var (
		coverage    *float64
		testDefects []models.Defect
	)
	if p.executor != nil {
		if tests := FindTestArtifact(session, code); tests != nil {
			testCtx, cancel := context.WithTimeout(ctx, p.testTimeout)
			result, err := p.executor.Run(testCtx, code, tests)
			cancel()
			switch {
			case err != nil:
				slog.Warn("Test execution failed, continuing without coverage",
					"session_id", session.SessionID, "artifact_id", code.ID, "error", err)
			default:
				coverage = &result.CoveragePercent
				for _, f := range result.Failures {
					testDefects = append(testDefects, models.Defect{
						Severity:     models.SeverityMajor,
						Category:     "test_failure",
						Location:     fmt.Sprintf("%s:%d", f.File, f.Line),
						Description:  "Test failed: " + f.Name,
						SuggestedFix: "Fix: " + f.ErrorMessage,
					})
				}
			}
		}
	}

	// 3. Static analysis. Same degradation policy as tests.
	var staticDefects []models.Defect
	if p.analyzer != nil {
		analyzeCtx, cancel := context.WithTimeout(ctx, p.analyzerTimeout)
		violations, err := p.analyzer.Analyze(analyzeCtx, code, language)
		cancel()
		if err != nil {
			slog.Warn("Static analysis failed, continuing without violations",
				"session_id", session.SessionID, "artifact_id", code.ID, "error", err)
		} else {
			for _, v := range violations {
				staticDefects = append(staticDefects, models.Defect{
					Severity:    v.Severity,
					Category:    "static_analysis",
					Location:    fmt.Sprintf("%s:%d", v.File, v.Line),
					Description: fmt.Sprintf("%s: %s", v.Rule, v.Message),
				})
			}
		}
	}

	// 4. Defect union, no deduplication: critique- and tool-originated
	// findings are distinct observations.
	allDefects := make([]models.Defect, 0, len(draft.Defects)+len(testDefects)+len(staticDefects))
	allDefects = append(allDefects, draft.Defects...)
	allDefects = append(allDefects, testDefects...)
	allDefects = append(allDefects, staticDefects...)

	// Org policy check. Static-analyzer output stays in all_defects;
	// policy_violations only reflects explicit organization rules.
	var policyViolations []string
	if p.policies != nil {
		if set, err := p.policies.Read(policy.TypeSecurity); err == nil {
			policyViolations = p.policies.CheckViolations(set.Rules, code.Content)
		}
	}

	// 5. Quality score.
	score := Score(allDefects, len(policyViolations), coverage)
	session.LastQualityScore = &score
	session.ScoreHistory = append(session.ScoreHistory, score)
	session.TimePerIterationMS = append(session.TimePerIterationMS, p.now().Sub(startedAt).Milliseconds())

	// 6. Recommendation.
	recommendation := Recommend(score, session.QualityThreshold,
		session.CurrentIteration, session.MaxIterations)

	coverageValue := 0.0
	if coverage != nil {
		coverageValue = *coverage
	}

	feedback := models.ReviewFeedback{
		QualityScore:    score,
		Defects:         allDefects,
		Suggestions:     draft.Suggestions,
		RequiredChanges: draft.RequiredChanges,
	}
	result := &models.ReviewResult{
		ReviewID:         models.NewArtifactID(),
		QualityScore:     score,
		Feedback:         feedback,
		TestCoverage:     coverageValue,
		TestDefects:      emptyIfNil(testDefects),
		AllDefects:       allDefects,
		PolicyViolations: emptyIfNilStrings(policyViolations),
		Recommendation:   recommendation,
		Depth:            depth,
	}

	// 7. Review artifact.
	artifact, err := p.emitArtifact(session, code, result)
	if err != nil {
		return nil, nil, err
	}

	if p.metrics != nil {
		p.metrics.Reviews.Inc()
		p.metrics.QualityScores.Observe(float64(score))
	}

	slog.Info("Review completed",
		"session_id", session.SessionID,
		"artifact_id", code.ID,
		"quality_score", score,
		"defects", len(allDefects),
		"recommendation", recommendation)

	return result, artifact, nil
}

func (p *Pipeline) emitArtifact(session *models.SessionState, code *models.Artifact, result *models.ReviewResult) (*models.Artifact, error) {
	content, err := json.Marshal(struct {
		models.ReviewFeedback
		TestCoverage float64         `json:"test_coverage"`
		TestDefects  []models.Defect `json:"test_defects"`
		AllDefects   []models.Defect `json:"all_defects"`
	}{
		ReviewFeedback: result.Feedback,
		TestCoverage:   result.TestCoverage,
		TestDefects:    result.TestDefects,
		AllDefects:     result.AllDefects,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode review artifact: %w", err)
	}

	artifact := &models.Artifact{
		ID:          result.ReviewID,
		SessionID:   session.SessionID,
		Kind:        models.ArtifactReview,
		Description: fmt.Sprintf("Review of %s", code.ID),
		TimestampMS: p.now().UnixMilli(),
		Content:     string(content),
		Metadata: map[string]any{
			models.MetaQualityScore:   result.QualityScore,
			models.MetaTestCoverage:   result.TestCoverage,
			models.MetaPolicyCount:    len(result.PolicyViolations),
			models.MetaReviewDepth:    string(result.Depth),
			models.MetaOriginArtifact: code.ID,
			models.MetaIteration:      session.CurrentIteration,
		},
	}
	session.AppendArtifact(artifact)
	return artifact, nil
}

// FindTestArtifact locates the test suite for a code artifact: first a
// test_suite declaring code_artifact_id == code.ID, then the most
// recent test_suite newer than the code artifact, else nil.
func FindTestArtifact(session *models.SessionState, code *models.Artifact) *models.Artifact {
	for i := len(session.Artifacts) - 1; i >= 0; i-- {
		a := session.Artifacts[i]
		if a.Kind == models.ArtifactTestSuite && a.MetaString(models.MetaOriginArtifact) == code.ID {
			return a
		}
	}
	for i := len(session.Artifacts) - 1; i >= 0; i-- {
		a := session.Artifacts[i]
		if a.Kind == models.ArtifactTestSuite && a.TimestampMS > code.TimestampMS {
			return a
		}
	}
	return nil
}

// ParseReviewContent decodes a review artifact's content back into
// feedback, for escalation construction.
func ParseReviewContent(artifact *models.Artifact) (*models.ReviewFeedback, error) {
	if artifact == nil || artifact.Kind != models.ArtifactReview {
		return nil, crucerr.New(crucerr.KindValidation, "not a review artifact")
	}
	var fb models.ReviewFeedback
	if err := json.Unmarshal([]byte(artifact.Content), &fb); err != nil {
		return nil, fmt.Errorf("failed to decode review content: %w", err)
	}
	return &fb, nil
}

func emptyIfNil(defects []models.Defect) []models.Defect {
	if defects == nil {
		return []models.Defect{}
	}
	return defects
}

func emptyIfNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
