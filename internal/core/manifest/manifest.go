// Package manifest builds the RUNTIME_MANIFEST.json document, quarantine
// error reports and content digests.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/artpar/layerpack/internal/core/domain"
)

// DigestPrefix names the hash used in digests.
const DigestPrefix = "blake2b-256:"

// =============================================================================
// Runtime Manifest
// =============================================================================

// FileRecord describes one file placed into RUNTIME.
type FileRecord struct {
	Path           string                `json:"path"`
	Source         domain.Winner         `json:"source"`
	Classification domain.Classification `json:"classification"`
	Size           int64                 `json:"size"`
	Digest         string                `json:"digest"`
}

// Runtime is the RUNTIME_MANIFEST.json document. It holds metadata about a
// merge pass and nothing that differs between two passes over unchanged
// inputs, except GeneratedAt.
type Runtime struct {
	GeneratedAt time.Time           `json:"generatedAt"`
	Tenant      string              `json:"tenant"`
	BaseVersion string              `json:"baseVersion,omitempty"`
	Summary     domain.MergeSummary `json:"summary"`
	FailedFiles []domain.FailedFile `json:"failedFiles"`
	Warnings    []string            `json:"warnings"`
	Files       []FileRecord        `json:"files"`
}

// Build creates the manifest for a finished pass. Files are sorted by path
// and nil slices become empty arrays.
func Build(result *domain.MergeResult, files []FileRecord, generatedAt time.Time) Runtime {
	m := Runtime{
		GeneratedAt: generatedAt.UTC(),
		Tenant:      result.Tenant,
		BaseVersion: result.BaseVersion,
		Summary:     result.Summary,
		FailedFiles: append([]domain.FailedFile{}, result.FailedFiles...),
		Warnings:    append([]string{}, result.Warnings...),
		Files:       append([]FileRecord{}, files...),
	}
	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].Path < m.Files[j].Path
	})
	return m
}

// Marshal encodes the manifest as indented JSON with a trailing newline.
func (m Runtime) Marshal() ([]byte, error) {
	return marshal(m)
}

// Parse decodes a manifest.
func Parse(data []byte) (Runtime, error) {
	var m Runtime
	err := json.Unmarshal(data, &m)
	return m, err
}

// NewFileRecord describes a file about to be written.
func NewFileRecord(r domain.Resolution, content []byte) FileRecord {
	return FileRecord{
		Path:           r.Path,
		Source:         r.Winner,
		Classification: r.Classification,
		Size:           int64(len(content)),
		Digest:         Digest(content),
	}
}

// =============================================================================
// Error Report
// =============================================================================

// MarshalErrorReport encodes a quarantine error report.
func MarshalErrorReport(r domain.ErrorReport) ([]byte, error) {
	r.Timestamp = r.Timestamp.UTC()
	return marshal(r)
}

// ParseErrorReport decodes a quarantine error report.
func ParseErrorReport(data []byte) (domain.ErrorReport, error) {
	var r domain.ErrorReport
	err := json.Unmarshal(data, &r)
	return r, err
}

// =============================================================================
// Digests
// =============================================================================

// Digest returns the BLAKE2b-256 digest of content.
func Digest(content []byte) string {
	sum := blake2b.Sum256(content)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// TreeDigest folds per-file digests into one digest for a whole tree. The
// result depends only on the set of (path, digest) pairs.
func TreeDigest(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(p)
		b.WriteByte(0)
		b.WriteString(files[p])
		b.WriteByte('\n')
	}
	return Digest([]byte(b.String()))
}

func marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
