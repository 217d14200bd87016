package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    TaskSpec
		wantErr string
	}{
		{
			name: "valid",
			spec: TaskSpec{Description: "implement a ring buffer", Language: "go"},
		},
		{
			name:    "description too short",
			spec:    TaskSpec{Description: "short", Language: "go"},
			wantErr: "at least 10",
		},
		{
			name:    "description too long",
			spec:    TaskSpec{Description: strings.Repeat("x", 10001), Language: "go"},
			wantErr: "at most 10000",
		},
		{
			name:    "missing language",
			spec:    TaskSpec{Description: "implement a ring buffer"},
			wantErr: "language is required",
		},
		{
			name:    "unsupported language",
			spec:    TaskSpec{Description: "implement a ring buffer", Language: "cobol"},
			wantErr: "unsupported language",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSupportedLanguages(t *testing.T) {
	langs := SupportedLanguages()
	assert.Len(t, langs, 6)
	for _, l := range langs {
		assert.NoError(t, (&TaskSpec{Description: "implement a ring buffer", Language: l}).Validate())
	}
}
