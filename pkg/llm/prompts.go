package llm

import (
	"fmt"
	"strings"

	"github.com/crucible-dev/crucible/pkg/models"
)

// Agent types addressable by configure_endpoint / set_system_prompts.
const (
	AgentCoder  = "coder"
	AgentCritic = "critic"
)

// Prompt template keys.
const (
	PromptCoderSystem  = "coder_system"
	PromptCriticSystem = "critic_system"
)

// defaultCoderSystem instructs the Coder role.
const defaultCoderSystem = `You are an expert software engineer. Produce complete,
working code for the given task. Output only the code, with no
surrounding commentary or markdown fences.`

// defaultCriticSystem instructs the Critic role. The JSON contract is
// parsed by the review pipeline; the trailing-score fallback handles
// models that ignore it.
const defaultCriticSystem = `You are a rigorous code reviewer. Evaluate the code and
respond with a single JSON object of the shape:
{"quality_score": <0-100>, "defects": [{"severity": "critical|major|minor|info",
"category": "...", "location": "file:line or symbol", "description": "...",
"suggested_fix": "..."}], "suggestions": ["..."], "required_changes": ["..."]}
Respond with JSON only.`

// Prompts holds the mutable prompt templates for both agents.
type Prompts struct {
	templates map[string]string
}

// NewPrompts returns the built-in templates.
func NewPrompts() *Prompts {
	return &Prompts{templates: map[string]string{
		PromptCoderSystem:  defaultCoderSystem,
		PromptCriticSystem: defaultCriticSystem,
	}}
}

// Set replaces a template. Unknown keys are rejected.
func (p *Prompts) Set(key, value string) error {
	if _, ok := p.templates[key]; !ok {
		return fmt.Errorf("unknown prompt template %q", key)
	}
	p.templates[key] = value
	return nil
}

// Get returns a template.
func (p *Prompts) Get(key string) string {
	return p.templates[key]
}

// Keys returns the known template keys.
func (p *Prompts) Keys() []string {
	return []string{PromptCoderSystem, PromptCriticSystem}
}

// BuildGeneratePrompt renders the Coder's initial task prompt.
func BuildGeneratePrompt(spec *models.TaskSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nLanguage: %s\n", spec.Description, spec.Language)
	if len(spec.Constraints) > 0 {
		b.WriteString("\nConstraints:\n")
		for _, c := range spec.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(spec.Examples) > 0 {
		b.WriteString("\nExamples:\n")
		for _, e := range spec.Examples {
			fmt.Fprintf(&b, "%s\n", e)
		}
	}
	if len(spec.ContextFiles) > 0 {
		b.WriteString("\nRelevant files:\n")
		for _, f := range spec.ContextFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

// BuildRevisePrompt renders the Coder's revision prompt from the
// previous code and the Critic's feedback.
func BuildRevisePrompt(code string, feedback *models.ReviewFeedback, patternHints []string) string {
	var b strings.Builder
	b.WriteString("Revise the following code to address the review feedback.\n")
	b.WriteString("Output the complete revised code only.\n\n")
	fmt.Fprintf(&b, "Current code:\n%s\n", code)
	fmt.Fprintf(&b, "\nQuality score: %d\n", feedback.QualityScore)
	if len(feedback.Defects) > 0 {
		b.WriteString("\nDefects:\n")
		for _, d := range feedback.Defects {
			fmt.Fprintf(&b, "- [%s] %s at %s: %s\n", d.Severity, d.Category, d.Location, d.Description)
			if d.SuggestedFix != "" {
				fmt.Fprintf(&b, "  fix: %s\n", d.SuggestedFix)
			}
		}
	}
	if len(feedback.RequiredChanges) > 0 {
		b.WriteString("\nRequired changes:\n")
		for _, c := range feedback.RequiredChanges {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(feedback.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range feedback.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(patternHints) > 0 {
		b.WriteString("\nConsider these alternative patterns:\n")
		for _, h := range patternHints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	return b.String()
}

// BuildCritiquePrompt renders the Critic's review prompt. Depth tunes
// how much scrutiny the model is asked for.
func BuildCritiquePrompt(code, language string, depth models.ReviewDepth) string {
	var b strings.Builder
	switch depth {
	case models.DepthQuick:
		b.WriteString("Perform a quick review focusing on correctness-critical defects only.\n")
	case models.DepthComprehensive:
		b.WriteString("Perform a comprehensive review: correctness, security, performance, style, and maintainability.\n")
	default:
		b.WriteString("Review the code for correctness, security, and style.\n")
	}
	fmt.Fprintf(&b, "\nLanguage: %s\n\nCode:\n%s\n", language, code)
	return b.String()
}

// BuildTestSuitePrompt renders the prompt for generate_test_suite.
func BuildTestSuitePrompt(code, language, framework string, coverageTarget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s test suite for the following %s code.\n", framework, language)
	if coverageTarget > 0 {
		fmt.Fprintf(&b, "Target at least %d%% line coverage.\n", coverageTarget)
	}
	b.WriteString("Output only the test code.\n\n")
	b.WriteString(code)
	return b.String()
}
