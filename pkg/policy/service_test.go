package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
)

func TestReadDefaults(t *testing.T) {
	svc := NewService(t.TempDir())

	security, err := svc.Read(TypeSecurity)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, security.Source)
	require.Len(t, security.Rules, 10)
	assert.Equal(t, "A01", security.Rules[0].ID)

	style, err := svc.Read(TypeStyle)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, style.Source)
	assert.Len(t, style.Rules, 3)

	custom, err := svc.Read(TypeCustom)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, custom.Source)
	assert.Empty(t, custom.Rules)
}

func TestReadUnknownType(t *testing.T) {
	svc := NewService(t.TempDir())

	_, err := svc.Read("compliance")
	require.Error(t, err)
	assert.Equal(t, crucerr.KindValidation, crucerr.KindOf(err))
}

func TestReadFromFile(t *testing.T) {
	dir := t.TempDir()
	policyDir := filepath.Join(dir, "policies")
	require.NoError(t, os.MkdirAll(policyDir, 0o755))

	content := `rules:
  - id: ORG-001
    description: No fmt.Println in production code
    severity: minor
    category: style
    pattern: 'fmt\.Println'
`
	require.NoError(t, os.WriteFile(filepath.Join(policyDir, "style.yaml"), []byte(content), 0o644))

	svc := NewService(dir)
	set, err := svc.Read(TypeStyle)
	require.NoError(t, err)
	assert.Equal(t, SourceFile, set.Source)
	require.Len(t, set.Rules, 1)
	assert.Equal(t, "ORG-001", set.Rules[0].ID)
	assert.Equal(t, models.SeverityMinor, set.Rules[0].Severity)
	assert.Equal(t, `fmt\.Println`, set.Rules[0].Pattern)
}

func TestReadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	policyDir := filepath.Join(dir, "policies")
	require.NoError(t, os.MkdirAll(policyDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(policyDir, "security.yaml"), []byte("rules: [broken"), 0o644))

	svc := NewService(dir)
	_, err := svc.Read(TypeSecurity)
	assert.Error(t, err)
}

func TestCheckViolations(t *testing.T) {
	svc := NewService("")

	rules := []models.PolicyRule{
		{ID: "A02", Pattern: `(?i)\b(md5|sha1)\s*\(`},
		{ID: "A04"}, // advisory, no pattern
		{ID: "BAD", Pattern: `([`},
		{ID: "A08", Pattern: `(pickle\.loads|unserialize\s*\()`},
	}

	content := `digest := md5(data)
obj = pickle.loads(blob)
`
	violated := svc.CheckViolations(rules, content)
	assert.Equal(t, []string{"A02", "A08"}, violated)
}

func TestCheckViolationsClean(t *testing.T) {
	svc := NewService("")

	security, err := svc.Read(TypeSecurity)
	require.NoError(t, err)

	clean := `sum := sha256.Sum256(data)
rows, err := db.QueryContext(ctx, "SELECT id FROM users WHERE org = $1", org)
`
	assert.Empty(t, svc.CheckViolations(security.Rules, clean))
}
