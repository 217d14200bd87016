package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// ArtifactKind categorizes an artifact.
type ArtifactKind string

// Artifact kinds.
const (
	ArtifactCode       ArtifactKind = "code"
	ArtifactTestSuite  ArtifactKind = "test_suite"
	ArtifactReview     ArtifactKind = "review"
	ArtifactLog        ArtifactKind = "log"
	ArtifactAuditTrail ArtifactKind = "audit_trail"
)

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactCode, ArtifactTestSuite, ArtifactReview, ArtifactLog, ArtifactAuditTrail:
		return true
	}
	return false
}

// Well-known artifact metadata keys.
const (
	MetaLanguage       = "language"
	MetaFramework      = "framework"
	MetaIteration      = "iteration"
	MetaOriginArtifact = "code_artifact_id"
	MetaQualityScore   = "quality_score"
	MetaTestCoverage   = "test_coverage"
	MetaPolicyCount    = "policy_violations"
	MetaReviewDepth    = "review_depth"
)

var artifactIDPattern = regexp.MustCompile(`^artifact-[a-z0-9-]+$`)

// NewArtifactID generates a fresh artifact identifier.
func NewArtifactID() string {
	return "artifact-" + uuid.New().String()
}

// ValidateArtifactID checks the artifact id format.
func ValidateArtifactID(id string) error {
	if !artifactIDPattern.MatchString(id) {
		return fmt.Errorf("artifact id %q does not match artifact-<lowercase-alphanum-hyphens>", id)
	}
	return nil
}

// Artifact is an immutable record of a stage's output. Once produced it
// is never mutated; sessions in a terminal state freeze their artifact
// list except for archival metadata.
type Artifact struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Kind        ArtifactKind   `json:"kind"`
	Description string         `json:"description"`
	TimestampMS int64          `json:"timestamp_ms"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy with its own metadata map.
func (a *Artifact) Clone() *Artifact {
	cp := *a
	if a.Metadata != nil {
		cp.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// MetaString returns a metadata value as a string, or "".
func (a *Artifact) MetaString(key string) string {
	if a.Metadata == nil {
		return ""
	}
	if v, ok := a.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaInt returns a metadata value as an int. JSON round-trips store
// numbers as float64, so both are accepted.
func (a *Artifact) MetaInt(key string) (int, bool) {
	if a.Metadata == nil {
		return 0, false
	}
	switch v := a.Metadata[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// ContentDigest computes the SHA-256 digest over the exact content
// bytes, hex encoded. Used for oscillation detection.
func ContentDigest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
