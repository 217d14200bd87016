package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanCleanCode(t *testing.T) {
	d := NewDetector()

	code := `package main

import "fmt"

func main() {
	fmt.Println("hello")
}
`
	assert.Empty(t, d.Scan(code))
	assert.False(t, d.Dangerous(code))
}

func TestScanDangerousContent(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name     string
		content  string
		category string
	}{
		{"rm rf root", "cleanup() { rm -rf /var/data; }", CategoryDestructiveFS},
		{"rmtree", "shutil.rmtree(workdir)", CategoryDestructiveFS},
		{"remove all", "os.RemoveAll(dir)", CategoryDestructiveFS},
		{"dd to device", "dd if=image.iso of=/dev/sda", CategoryDestructiveFS},
		{"drop table", "DROP TABLE sessions", CategorySQLDestroy},
		{"truncate", "TRUNCATE TABLE events", CategorySQLDestroy},
		{"unbounded delete", "DELETE FROM users;", CategorySQLDestroy},
		{"eval", "result = eval(user_input)", CategoryDynamicExec},
		{"function constructor", "const f = new Function(body)", CategoryDynamicExec},
		{"pickle", "obj = pickle.loads(blob)", CategoryDynamicExec},
		{"shell true", "subprocess.run(cmd, shell=True)", CategoryShellRisk},
		{"system interpolation", `os.system("ls " + path)`, CategoryShellRisk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := d.Scan(tt.content)
			require.NotEmpty(t, findings)
			assert.Equal(t, tt.category, findings[0].Category)
			assert.NotEmpty(t, findings[0].Match)
			assert.True(t, d.Dangerous(tt.content))
		})
	}
}

func TestScanMultipleFindings(t *testing.T) {
	d := NewDetector()

	content := `DROP TABLE users;
eval(payload)
`
	findings := d.Scan(content)
	require.Len(t, findings, 2)

	categories := map[string]bool{}
	for _, f := range findings {
		categories[f.Category] = true
	}
	assert.True(t, categories[CategorySQLDestroy])
	assert.True(t, categories[CategoryDynamicExec])
}

func TestBoundedDeleteNotFlagged(t *testing.T) {
	d := NewDetector()

	assert.False(t, d.Dangerous("DELETE FROM users WHERE id = $1"))
}
