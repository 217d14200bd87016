package review

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crucible-dev/crucible/pkg/models"
)

func coverage(v float64) *float64 { return &v }

func TestScoreDeductions(t *testing.T) {
	assert.Equal(t, 100, Score(nil, 0, nil), "clean review")

	defects := []models.Defect{
		{Severity: models.SeverityCritical},
		{Severity: models.SeverityMajor},
		{Severity: models.SeverityMinor},
		{Severity: models.SeverityInfo},
	}
	assert.Equal(t, 61, Score(defects, 0, nil), "25+10+3+1 deducted")

	assert.Equal(t, 90, Score(nil, 2, nil), "5 per policy violation")
}

func TestScoreCoverageAdjustment(t *testing.T) {
	// Below 80: penalty of (80-coverage)/5.
	assert.Equal(t, 94, Score(nil, 0, coverage(50)))
	// At 80 exactly: no adjustment.
	assert.Equal(t, 100, Score(nil, 0, coverage(80)))
	// Above 80: bonus of (coverage-80)/10, clamped at 100.
	assert.Equal(t, 100, Score(nil, 0, coverage(95)))

	defects := []models.Defect{{Severity: models.SeverityMajor}}
	assert.Equal(t, 91, Score(defects, 0, coverage(90)), "90 + 1.0 bonus")
}

func TestScoreNilCoverageNoAdjustment(t *testing.T) {
	defects := []models.Defect{{Severity: models.SeverityMinor}}
	assert.Equal(t, 97, Score(defects, 0, nil))
}

func TestScoreClamps(t *testing.T) {
	defects := make([]models.Defect, 6)
	for i := range defects {
		defects[i] = models.Defect{Severity: models.SeverityCritical}
	}
	assert.Equal(t, 0, Score(defects, 0, nil), "floor at 0")
	assert.Equal(t, 100, Score(nil, 0, coverage(100)), "ceiling at 100")
}

func TestScoreUnknownSeverityIgnored(t *testing.T) {
	defects := []models.Defect{{Severity: models.Severity("cosmic")}}
	assert.Equal(t, 100, Score(defects, 0, nil))
}

func TestScoreRounding(t *testing.T) {
	// 100 - (80-77)/5 = 99.4 -> 99
	assert.Equal(t, 99, Score(nil, 0, coverage(77)))
	// 100 - (80-72)/5 = 98.4 -> 98; with a minor defect 95.4 -> 95
	assert.Equal(t, 95, Score([]models.Defect{{Severity: models.SeverityMinor}}, 0, coverage(72)))
}

func TestRecommend(t *testing.T) {
	assert.Equal(t, models.RecommendApprove, Recommend(80, 80, 0, 5), "at threshold approves")
	assert.Equal(t, models.RecommendApprove, Recommend(95, 80, 4, 5))
	assert.Equal(t, models.RecommendRevise, Recommend(79, 80, 0, 5))
	assert.Equal(t, models.RecommendRevise, Recommend(50, 80, 4, 5))
	assert.Equal(t, models.RecommendEscalate, Recommend(50, 80, 5, 5), "cap reached")
}
