// Package safety scans generated artifacts for critical heuristics:
// destructive file operations, SQL destruction, dynamic code
// execution, and shell injection risk. A match escalates the session
// with reason dangerous_output_detected.
package safety

import (
	"log/slog"
	"regexp"
)

// Finding is one matched heuristic.
type Finding struct {
	Pattern     string `json:"pattern"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Match       string `json:"match"`
}

// compiledPattern pairs a pre-compiled regex with its metadata.
type compiledPattern struct {
	name        string
	category    string
	description string
	regex       *regexp.Regexp
}

// Categories of dangerous output.
const (
	CategoryDestructiveFS = "destructive_file_ops"
	CategorySQLDestroy    = "sql_destruction"
	CategoryDynamicExec   = "dynamic_code_execution"
	CategoryShellRisk     = "shell_injection_risk"
)

var builtinPatterns = []struct {
	name        string
	category    string
	description string
	pattern     string
}{
	{
		name:        "recursive_force_remove",
		category:    CategoryDestructiveFS,
		description: "recursive forced removal of a filesystem tree",
		pattern:     `(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)[a-z]*\s+[/~]`,
	},
	{
		name:        "tree_removal_call",
		category:    CategoryDestructiveFS,
		description: "programmatic removal of a directory tree",
		pattern:     `(shutil\.rmtree|os\.RemoveAll|fs\.rmSync?\([^)]*recursive)`,
	},
	{
		name:        "device_overwrite",
		category:    CategoryDestructiveFS,
		description: "raw write to a block device",
		pattern:     `(?i)\bdd\s+[^\n]*of=/dev/`,
	},
	{
		name:        "sql_drop",
		category:    CategorySQLDestroy,
		description: "DROP DATABASE/TABLE statement",
		pattern:     `(?i)\bdrop\s+(database|table|schema)\b`,
	},
	{
		name:        "sql_truncate",
		category:    CategorySQLDestroy,
		description: "TRUNCATE statement",
		pattern:     `(?i)\btruncate\s+table\b`,
	},
	{
		name:        "sql_unbounded_delete",
		category:    CategorySQLDestroy,
		description: "DELETE FROM without a WHERE clause",
		pattern:     `(?i)\bdelete\s+from\s+\w+\s*;`,
	},
	{
		name:        "dynamic_eval",
		category:    CategoryDynamicExec,
		description: "dynamic evaluation of constructed code",
		pattern:     `(?i)\b(eval|exec)\s*\(`,
	},
	{
		name:        "function_constructor",
		category:    CategoryDynamicExec,
		description: "code construction via the Function constructor",
		pattern:     `\bnew\s+Function\s*\(`,
	},
	{
		name:        "unsafe_deserialize",
		category:    CategoryDynamicExec,
		description: "deserialization of untrusted data",
		pattern:     `(pickle\.loads|yaml\.load\s*\([^)]*\)(?:[^,]|$))`,
	},
	{
		name:        "shell_true",
		category:    CategoryShellRisk,
		description: "subprocess invocation with shell=True",
		pattern:     `subprocess\.[a-zA-Z_]+\([^)]*shell\s*=\s*True`,
	},
	{
		name:        "system_interpolation",
		category:    CategoryShellRisk,
		description: "shell command built from interpolated input",
		pattern:     `os\.system\s*\([^)]*(\+|%s|\{)`,
	},
}

// Detector applies the compiled pattern set to artifact content.
type Detector struct {
	patterns []compiledPattern
}

// NewDetector compiles the built-in patterns. Invalid patterns are
// logged and skipped rather than failing startup.
func NewDetector() *Detector {
	d := &Detector{}
	for _, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile safety pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		d.patterns = append(d.patterns, compiledPattern{
			name:        p.name,
			category:    p.category,
			description: p.description,
			regex:       compiled,
		})
	}
	return d
}

// Scan returns all heuristic matches in the content.
func (d *Detector) Scan(content string) []Finding {
	var findings []Finding
	for _, p := range d.patterns {
		if match := p.regex.FindString(content); match != "" {
			findings = append(findings, Finding{
				Pattern:     p.name,
				Category:    p.category,
				Description: p.description,
				Match:       match,
			})
		}
	}
	return findings
}

// Dangerous reports whether the content matches any critical heuristic.
func (d *Detector) Dangerous(content string) bool {
	for _, p := range d.patterns {
		if p.regex.MatchString(content) {
			return true
		}
	}
	return false
}
