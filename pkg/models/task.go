package models

import "fmt"

// Supported task languages.
var supportedLanguages = map[string]bool{
	"go":         true,
	"python":     true,
	"typescript": true,
	"javascript": true,
	"java":       true,
	"rust":       true,
}

// TaskSpec is the client's description of the work. It is not persisted
// as a distinct entity; it is embedded in the session's first audit
// artifact.
type TaskSpec struct {
	Description  string   `json:"description"`
	Language     string   `json:"language"`
	Constraints  []string `json:"constraints,omitempty"`
	Examples     []string `json:"examples,omitempty"`
	ContextFiles []string `json:"context_files,omitempty"`
}

// Validate enforces the task spec contract: description 10-10000 chars,
// language from the supported set.
func (t *TaskSpec) Validate() error {
	if len(t.Description) < 10 {
		return fmt.Errorf("description must be at least 10 characters")
	}
	if len(t.Description) > 10000 {
		return fmt.Errorf("description must be at most 10000 characters")
	}
	if t.Language == "" {
		return fmt.Errorf("language is required")
	}
	if !supportedLanguages[t.Language] {
		return fmt.Errorf("unsupported language %q", t.Language)
	}
	return nil
}

// SupportedLanguages returns the enumerated language set.
func SupportedLanguages() []string {
	return []string{"go", "python", "typescript", "javascript", "java", "rust"}
}
