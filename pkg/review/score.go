package review

import (
	"math"

	"github.com/crucible-dev/crucible/pkg/models"
)

// Per-defect deductions by severity. Unknown severities deduct 0.
var severityDeductions = map[models.Severity]float64{
	models.SeverityCritical: 25,
	models.SeverityMajor:    10,
	models.SeverityMinor:    3,
	models.SeverityInfo:     1,
}

// Flat deduction per policy violation.
const policyViolationDeduction = 5

// Score computes the quality score: start at 100, deduct per defect by
// severity, deduct per policy violation, then adjust for coverage
// (penalty below 80, bonus above). coverage is nil when no coverage
// number was produced. The result is clamped to [0, 100] and rounded
// to the nearest integer.
func Score(defects []models.Defect, policyViolations int, coverage *float64) int {
	score := 100.0

	for _, d := range defects {
		score -= severityDeductions[d.Severity]
	}

	score -= float64(policyViolations * policyViolationDeduction)

	if coverage != nil {
		if *coverage < 80 {
			score -= (80 - *coverage) / 5
		} else {
			score += (*coverage - 80) / 10
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(score))
}

// Recommend maps the score against the session's thresholds.
// At exactly the threshold the artifact is approved; below it, the
// session revises while iterations remain and escalates at the cap.
func Recommend(score, threshold, currentIteration, maxIterations int) models.Recommendation {
	if score >= threshold {
		return models.RecommendApprove
	}
	if currentIteration < maxIterations {
		return models.RecommendRevise
	}
	return models.RecommendEscalate
}
