package orchestrator

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crucible-dev/crucible/pkg/crucerr"
)

// RepoNode is one entry in the hierarchical repository structure.
type RepoNode struct {
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	SizeBytes int64       `json:"size_bytes,omitempty"`
	Children  []*RepoNode `json:"children,omitempty"`
}

// RepoMap is the get_repo_map result. Token counts are estimated at
// four bytes per token.
type RepoMap struct {
	Structure            *RepoNode `json:"structure"`
	TotalFiles           int       `json:"total_files"`
	TotalTokensEstimated int64     `json:"total_tokens_estimated"`
}

const bytesPerToken = 4

// Directories never worth mapping.
var skippedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"target":       true,
}

var testDirs = map[string]bool{
	"test":      true,
	"tests":     true,
	"testdata":  true,
	"__tests__": true,
}

// GetRepoMap walks repoPath and returns its structure with size-based
// token estimates. The caller sanitizes the path before dispatch.
func GetRepoMap(repoPath string, includeTests bool) (*RepoMap, error) {
	info, err := os.Stat(repoPath)
	if err != nil {
		return nil, crucerr.Newf(crucerr.KindNotFound, "repo path %s not accessible", repoPath)
	}
	if !info.IsDir() {
		return nil, crucerr.Newf(crucerr.KindValidation, "repo path %s is not a directory", repoPath)
	}

	m := &RepoMap{}
	root, err := mapDir(repoPath, filepath.Base(repoPath), includeTests, m)
	if err != nil {
		return nil, err
	}
	m.Structure = root
	return m, nil
}

func mapDir(path, name string, includeTests bool, m *RepoMap) (*RepoNode, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	node := &RepoNode{Name: name, Type: "directory"}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		child := entry.Name()
		if strings.HasPrefix(child, ".") || skippedDirs[child] {
			continue
		}
		if entry.IsDir() {
			if !includeTests && testDirs[child] {
				continue
			}
			sub, err := mapDir(filepath.Join(path, child), child, includeTests, m)
			if err != nil {
				continue
			}
			if len(sub.Children) > 0 {
				node.Children = append(node.Children, sub)
			}
			continue
		}
		if !includeTests && isTestFile(child) {
			continue
		}
		size := fileSize(entry)
		node.Children = append(node.Children, &RepoNode{
			Name:      child,
			Type:      "file",
			SizeBytes: size,
		})
		m.TotalFiles++
		m.TotalTokensEstimated += size / bytesPerToken
	}
	return node, nil
}

func isTestFile(name string) bool {
	return strings.HasSuffix(name, "_test.go") ||
		strings.HasPrefix(name, "test_") ||
		strings.Contains(name, ".test.") ||
		strings.Contains(name, ".spec.")
}

func fileSize(entry fs.DirEntry) int64 {
	info, err := entry.Info()
	if err != nil {
		return 0
	}
	return info.Size()
}
