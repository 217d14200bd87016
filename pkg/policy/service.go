// Package policy serves organization policy rules. Rules load from
// YAML files in the config directory when present; otherwise built-in
// defaults apply. The security default is a fixed OWASP Top-10
// baseline.
package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
)

// Policy types.
const (
	TypeStyle    = "style"
	TypeSecurity = "security"
	TypeCustom   = "custom"
)

// Rule sources.
const (
	SourceFile    = "file"
	SourceDefault = "default"
)

// Set is a loaded policy collection.
type Set struct {
	Type   string              `json:"policy_type"`
	Source string              `json:"source"`
	Rules  []models.PolicyRule `json:"rules"`
}

// Service loads policy sets and evaluates rule patterns against code.
type Service struct {
	configDir string
}

// NewService creates a policy service rooted at the config directory.
func NewService(configDir string) *Service {
	return &Service{configDir: configDir}
}

type policyFile struct {
	Rules []models.PolicyRule `yaml:"rules"`
}

// Read returns the policy set for the given type: from
// <configDir>/policies/<type>.yaml when it exists, otherwise the
// built-in default.
func (s *Service) Read(policyType string) (*Set, error) {
	switch policyType {
	case TypeStyle, TypeSecurity, TypeCustom:
	default:
		return nil, crucerr.Newf(crucerr.KindValidation, "unknown policy type %q", policyType)
	}

	if s.configDir != "" {
		path := filepath.Join(s.configDir, "policies", policyType+".yaml")
		if data, err := os.ReadFile(path); err == nil {
			var pf policyFile
			if err := yaml.Unmarshal(data, &pf); err != nil {
				return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
			}
			return &Set{Type: policyType, Source: SourceFile, Rules: pf.Rules}, nil
		}
	}

	return &Set{Type: policyType, Source: SourceDefault, Rules: defaultRules(policyType)}, nil
}

// CheckViolations applies the rules' patterns to the content and
// returns the ids of violated rules. Rules without a pattern are
// advisory and never match here.
func (s *Service) CheckViolations(rules []models.PolicyRule, content string) []string {
	var violated []string
	for _, rule := range rules {
		if rule.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			slog.Warn("Skipping policy rule with invalid pattern",
				"rule", rule.ID, "error", err)
			continue
		}
		if re.MatchString(content) {
			violated = append(violated, rule.ID)
		}
	}
	return violated
}

func defaultRules(policyType string) []models.PolicyRule {
	switch policyType {
	case TypeSecurity:
		return owaspBaseline()
	case TypeStyle:
		return []models.PolicyRule{
			{ID: "STYLE-001", Description: "Functions should not exceed 80 lines", Severity: models.SeverityMinor, Category: "style"},
			{ID: "STYLE-002", Description: "Exported identifiers require documentation", Severity: models.SeverityInfo, Category: "style"},
			{ID: "STYLE-003", Description: "No commented-out code blocks", Severity: models.SeverityInfo, Category: "style"},
		}
	default:
		return []models.PolicyRule{}
	}
}

// owaspBaseline is the fixed OWASP Top-10 (2021) rule set used when no
// security policy file is configured.
func owaspBaseline() []models.PolicyRule {
	return []models.PolicyRule{
		{ID: "A01", Description: "Broken Access Control: verify authorization on every request path", Severity: models.SeverityCritical, Category: "security"},
		{ID: "A02", Description: "Cryptographic Failures: no weak or home-grown cryptography", Severity: models.SeverityCritical, Category: "security", Pattern: `(?i)\b(md5|sha1)\s*\(`},
		{ID: "A03", Description: "Injection: parameterize all queries and escape output", Severity: models.SeverityCritical, Category: "security", Pattern: `(?i)(query|execute)\s*\(\s*["'][^"']*["']\s*(\+|%|\|\|)`},
		{ID: "A04", Description: "Insecure Design: threat-model security-sensitive flows", Severity: models.SeverityMajor, Category: "security"},
		{ID: "A05", Description: "Security Misconfiguration: no debug modes or default credentials", Severity: models.SeverityMajor, Category: "security", Pattern: `(?i)(debug\s*=\s*true|password\s*=\s*["'](admin|password|changeme)["'])`},
		{ID: "A06", Description: "Vulnerable and Outdated Components: pin and audit dependencies", Severity: models.SeverityMajor, Category: "security"},
		{ID: "A07", Description: "Identification and Authentication Failures: enforce strong session handling", Severity: models.SeverityMajor, Category: "security"},
		{ID: "A08", Description: "Software and Data Integrity Failures: verify untrusted deserialization", Severity: models.SeverityMajor, Category: "security", Pattern: `(pickle\.loads|unserialize\s*\()`},
		{ID: "A09", Description: "Security Logging and Monitoring Failures: log security events", Severity: models.SeverityMinor, Category: "security"},
		{ID: "A10", Description: "Server-Side Request Forgery: validate outbound request targets", Severity: models.SeverityMajor, Category: "security"},
	}
}
