package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/crucible-dev/crucible/pkg/models"
)

// trailingScore matches a standalone number at the end of the text,
// the fallback when the model ignores the JSON contract.
var trailingScore = regexp.MustCompile(`([+-]?\d+)\s*$`)

// ParseFeedback decodes the Critic's response into ReviewFeedback.
// The primary path is the JSON contract; markdown fences are stripped
// first. When no JSON can be decoded, the last-line number (if any)
// becomes the score and the full text a single suggestion.
func ParseFeedback(text string) (*models.ReviewFeedback, error) {
	cleaned := stripFences(strings.TrimSpace(text))

	var fb models.ReviewFeedback
	if err := json.Unmarshal([]byte(cleaned), &fb); err == nil {
		clampFeedback(&fb)
		return &fb, nil
	}

	// Some models wrap the object in prose; try the outermost braces.
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &fb); err == nil {
			clampFeedback(&fb)
			return &fb, nil
		}
	}

	score, err := extractTrailingScore(cleaned)
	if err != nil {
		return nil, fmt.Errorf("critic response is neither JSON nor scored text: %w", err)
	}
	return &models.ReviewFeedback{
		QualityScore:    score,
		Defects:         []models.Defect{},
		Suggestions:     []string{cleaned},
		RequiredChanges: []string{},
	}, nil
}

// StripCode removes markdown fencing around generated code.
func StripCode(text string) string {
	return stripFences(strings.TrimSpace(text))
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	// Drop the opening fence (with optional language tag) and a
	// trailing fence if present.
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func extractTrailingScore(text string) (int, error) {
	text = strings.TrimRight(text, "\n\r ")
	if text == "" {
		return 0, fmt.Errorf("empty response")
	}
	lastLine := text
	if idx := strings.LastIndex(text, "\n"); idx >= 0 {
		lastLine = text[idx+1:]
	}
	match := trailingScore.FindStringSubmatch(lastLine)
	if match == nil {
		return 0, fmt.Errorf("no numeric score on last line %q", lastLine)
	}
	score, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("failed to parse score %q: %w", match[1], err)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

func clampFeedback(fb *models.ReviewFeedback) {
	if fb.QualityScore < 0 {
		fb.QualityScore = 0
	}
	if fb.QualityScore > 100 {
		fb.QualityScore = 100
	}
	if fb.Defects == nil {
		fb.Defects = []models.Defect{}
	}
	if fb.Suggestions == nil {
		fb.Suggestions = []string{}
	}
	if fb.RequiredChanges == nil {
		fb.RequiredChanges = []string{}
	}
}
