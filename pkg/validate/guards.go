package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// Guard kinds recorded on rejection metrics.
const (
	GuardPath = "dangerous_path"
	GuardSQL  = "sql_injection"
	GuardXSS  = "xss"
)

// systemRoots are path prefixes never accepted as user input.
var systemRoots = []string{
	"/etc/", "/bin/", "/sbin/", "/usr/bin/", "/usr/sbin/",
	"/boot/", "/dev/", "/proc/", "/sys/", "/root/",
	"c:\\windows", "c:\\program files",
}

// substitutionMarkers are shell variable/command substitution tokens.
var substitutionMarkers = []string{"$(", "`", "${"}

// SanitizePath rejects traversal, home expansion, system roots, and
// shell substitution in a path argument.
func SanitizePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path must not contain '..'")
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		return fmt.Errorf("path must not reference the home directory")
	}
	lower := strings.ToLower(path)
	for _, root := range systemRoots {
		if strings.HasPrefix(lower, root) || lower == strings.TrimSuffix(root, "/") {
			return fmt.Errorf("path must not reference system directories")
		}
	}
	for _, marker := range substitutionMarkers {
		if strings.Contains(path, marker) {
			return fmt.Errorf("path must not contain substitution tokens")
		}
	}
	return nil
}

// Injection heuristics. These are deliberately coarse: inputs to the
// orchestrator are identifiers and prose, so SQL keywords combined
// with statement glue or script tags are a strong reject signal.
var (
	sqlPattern = regexp.MustCompile(`(?i)(\bunion\b\s+\bselect\b|\bdrop\s+table\b|\bdelete\s+from\b|\binsert\s+into\b|--\s*$|;\s*(drop|delete|update)\b|'\s*or\s+'?1'?\s*=\s*'?1)`)
	xssPattern = regexp.MustCompile(`(?i)(<script\b|javascript:|\bon(error|load|click)\s*=|<iframe\b|document\.cookie)`)
)

// Sniff checks a string for SQL/XSS injection heuristics. Returns the
// guard kind and true on a match.
func Sniff(value string) (string, bool) {
	if sqlPattern.MatchString(value) {
		return GuardSQL, true
	}
	if xssPattern.MatchString(value) {
		return GuardXSS, true
	}
	return "", false
}
