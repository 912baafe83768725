package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// =============================================================================
// Snapshot Identifiers
// =============================================================================

// versionSeparator sits between the base version and the increment.
const versionSeparator = "-custom."

// versionPattern matches "{baseVersion}-custom.{N}". The base version is
// greedy so a base version containing "-custom." still parses on the last
// separator.
var versionPattern = regexp.MustCompile(`^(.+)-custom\.(\d+)$`)

// FormatVersion builds a snapshot identifier.
//
// Example:
//
//	FormatVersion("1.2.0", 3) // "1.2.0-custom.3"
func FormatVersion(baseVersion string, increment int) string {
	return baseVersion + versionSeparator + strconv.Itoa(increment)
}

// ParseVersion splits a snapshot identifier into its base version and
// increment. The increment must be a positive integer.
func ParseVersion(version string) (baseVersion string, increment int, err error) {
	m := versionPattern.FindStringSubmatch(version)
	if m == nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("%w: %q has no positive increment", ErrInvalidVersion, version)
	}
	return m[1], n, nil
}

// IncrementFor returns the increment of version when it belongs to
// baseVersion. ok is false for identifiers of any other base version and
// for malformed identifiers.
func IncrementFor(version, baseVersion string) (increment int, ok bool) {
	if !strings.HasPrefix(version, baseVersion+versionSeparator) {
		return 0, false
	}
	base, n, err := ParseVersion(version)
	if err != nil || base != baseVersion {
		return 0, false
	}
	return n, true
}

// NextVersion computes the identifier that follows the existing ones for
// baseVersion: max(increment)+1, or 1 when baseVersion has no history.
// Identifiers of other base versions are ignored.
//
// This is a pure function.
func NextVersion(existing []string, baseVersion string) string {
	highest := 0
	for _, v := range existing {
		if n, ok := IncrementFor(v, baseVersion); ok && n > highest {
			highest = n
		}
	}
	return FormatVersion(baseVersion, highest+1)
}

// ValidateBaseVersion rejects base versions that cannot be used as a
// directory name.
func ValidateBaseVersion(baseVersion string) error {
	if baseVersion == "" {
		return fmt.Errorf("%w: base version is required", ErrInvalidVersion)
	}
	if strings.ContainsAny(baseVersion, `/\`) || baseVersion == "." || baseVersion == ".." {
		return fmt.Errorf("%w: base version %q is not a valid path segment", ErrInvalidVersion, baseVersion)
	}
	if strings.HasPrefix(baseVersion, ".") {
		return fmt.Errorf("%w: base version %q must not start with a dot", ErrInvalidVersion, baseVersion)
	}
	return nil
}

// CompareBaseVersions orders base versions semantically when both look like
// semantic versions ("1.10.0" > "1.9.0") and lexically otherwise. Semantic
// versions sort above non-semantic ones so the order is total.
func CompareBaseVersions(a, b string) int {
	va, vb := "v"+a, "v"+b
	okA, okB := semver.IsValid(va), semver.IsValid(vb)
	switch {
	case okA && okB:
		if c := semver.Compare(va, vb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case okA:
		return 1
	case okB:
		return -1
	}
	return strings.Compare(a, b)
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable copy of a completed RUNTIME tree.
type Snapshot struct {
	Version     string    `json:"version"`
	BaseVersion string    `json:"baseVersion"`
	Increment   int       `json:"increment"`
	Tenant      string    `json:"tenant"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"createdAt"`
	Files       int       `json:"files"`
	Bytes       int64     `json:"bytes"`
	Digest      string    `json:"digest,omitempty"`
}

// SortSnapshots orders snapshots by base version descending, then increment
// descending.
func SortSnapshots(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if c := CompareBaseVersions(snaps[i].BaseVersion, snaps[j].BaseVersion); c != 0 {
			return c > 0
		}
		return snaps[i].Increment > snaps[j].Increment
	})
}

// SortSnapshotsByAge orders snapshots newest first by creation time. Ties
// fall back to the SortSnapshots order so the result is deterministic.
func SortSnapshotsByAge(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		if c := CompareBaseVersions(snaps[i].BaseVersion, snaps[j].BaseVersion); c != 0 {
			return c > 0
		}
		return snaps[i].Increment > snaps[j].Increment
	})
}
