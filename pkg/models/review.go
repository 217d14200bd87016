package models

// Severity grades a defect.
type Severity string

// Defect severities.
const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// Defect is a single observed problem in a code artifact. Critique,
// test-failure, and static-analysis defects share this shape and are
// unioned without deduplication: critique-originated and
// tool-originated findings count as distinct observations.
type Defect struct {
	Severity     Severity `json:"severity"`
	Category     string   `json:"category"`
	Location     string   `json:"location"`
	Description  string   `json:"description"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// ReviewFeedback is the structured record embedded in a review
// artifact's content.
type ReviewFeedback struct {
	QualityScore    int      `json:"quality_score"`
	Defects         []Defect `json:"defects"`
	Suggestions     []string `json:"suggestions"`
	RequiredChanges []string `json:"required_changes"`
}

// Recommendation is the review pipeline's verdict.
type Recommendation string

// Recommendations.
const (
	RecommendApprove  Recommendation = "approve"
	RecommendRevise   Recommendation = "revise"
	RecommendEscalate Recommendation = "escalate"
)

// ReviewDepth is the depth hint passed to the critic.
type ReviewDepth string

// Review depths.
const (
	DepthQuick         ReviewDepth = "quick"
	DepthStandard      ReviewDepth = "standard"
	DepthComprehensive ReviewDepth = "comprehensive"
)

// Valid reports whether d is a known review depth.
func (d ReviewDepth) Valid() bool {
	return d == DepthQuick || d == DepthStandard || d == DepthComprehensive
}

// ReviewResult is the full output of one review pipeline run: the
// feedback draft merged with test and static-analysis observations.
type ReviewResult struct {
	ReviewID         string         `json:"review_id"`
	QualityScore     int            `json:"quality_score"`
	Feedback         ReviewFeedback `json:"feedback"`
	TestCoverage     float64        `json:"test_coverage"`
	TestDefects      []Defect       `json:"test_defects"`
	AllDefects       []Defect       `json:"all_defects"`
	PolicyViolations []string       `json:"policy_violations"`
	Recommendation   Recommendation `json:"recommendation"`
	Depth            ReviewDepth    `json:"review_depth"`
}

// PolicyRule is one organization policy entry.
type PolicyRule struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Pattern     string   `json:"pattern,omitempty"`
}

// TestRunResult is what the TestExecutor collaborator reports.
type TestRunResult struct {
	Passed          int           `json:"passed"`
	Failed          int           `json:"failed"`
	CoveragePercent float64       `json:"coverage_percent"`
	Failures        []TestFailure `json:"failures"`
}

// TestFailure is a single failing test.
type TestFailure struct {
	Name         string `json:"name"`
	File         string `json:"file"`
	Line         int    `json:"line"`
	ErrorMessage string `json:"error_message"`
}

// LintViolation is what the StaticAnalyzer collaborator reports.
type LintViolation struct {
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Message  string   `json:"message"`
}
