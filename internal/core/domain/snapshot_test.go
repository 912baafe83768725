package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Version Identifier Tests
// =============================================================================

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "1.2.0-custom.3", FormatVersion("1.2.0", 3))
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		wantBase  string
		wantInc   int
		wantError bool
	}{
		{name: "simple", version: "1.2.0-custom.3", wantBase: "1.2.0", wantInc: 3},
		{name: "multi digit", version: "2.0.0-custom.42", wantBase: "2.0.0", wantInc: 42},
		{name: "base with separator", version: "1.0-custom.2-custom.7", wantBase: "1.0-custom.2", wantInc: 7},
		{name: "prerelease base", version: "1.0.0-rc.1-custom.1", wantBase: "1.0.0-rc.1", wantInc: 1},
		{name: "zero increment", version: "1.0.0-custom.0", wantError: true},
		{name: "missing increment", version: "1.0.0-custom.", wantError: true},
		{name: "non numeric", version: "1.0.0-custom.x", wantError: true},
		{name: "no separator", version: "1.0.0", wantError: true},
		{name: "empty base", version: "-custom.1", wantError: true},
		{name: "hidden temp dir", version: ".tmp-1.0.0-custom.1", wantBase: ".tmp-1.0.0", wantInc: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, inc, err := ParseVersion(tt.version)
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidVersion))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBase, base)
			assert.Equal(t, tt.wantInc, inc)
		})
	}
}

func TestIncrementFor(t *testing.T) {
	n, ok := IncrementFor("1.0.0-custom.4", "1.0.0")
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	_, ok = IncrementFor("1.0.0-custom.4", "1.0")
	assert.False(t, ok, "1.0 must not claim 1.0.0 snapshots")

	_, ok = IncrementFor("1.1.0-custom.1", "1.0.0")
	assert.False(t, ok)

	_, ok = IncrementFor("1.0.0-custom.abc", "1.0.0")
	assert.False(t, ok)
}

// =============================================================================
// NextVersion Tests
// =============================================================================

func TestNextVersion_NoHistory(t *testing.T) {
	assert.Equal(t, "1.0.0-custom.1", NextVersion(nil, "1.0.0"))
}

func TestNextVersion_Monotonic(t *testing.T) {
	existing := []string{}

	v1 := NextVersion(existing, "1.0.0")
	assert.Equal(t, "1.0.0-custom.1", v1)
	existing = append(existing, v1)

	v2 := NextVersion(existing, "1.0.0")
	assert.Equal(t, "1.0.0-custom.2", v2)
	existing = append(existing, v2)

	// A new base version starts over regardless of 1.0.0 history.
	assert.Equal(t, "1.1.0-custom.1", NextVersion(existing, "1.1.0"))
}

func TestNextVersion_UsesMaxNotCount(t *testing.T) {
	// Gaps left by retention never cause an increment to repeat.
	existing := []string{"1.0.0-custom.2", "1.0.0-custom.9", "1.0.0-custom.5"}
	assert.Equal(t, "1.0.0-custom.10", NextVersion(existing, "1.0.0"))
}

func TestNextVersion_IgnoresForeignAndMalformed(t *testing.T) {
	existing := []string{"2.0.0-custom.8", "1.0.0-custom.x", "notes", "1.0.0-custom.1"}
	assert.Equal(t, "1.0.0-custom.2", NextVersion(existing, "1.0.0"))
}

func TestValidateBaseVersion(t *testing.T) {
	assert.NoError(t, ValidateBaseVersion("1.2.0"))
	assert.NoError(t, ValidateBaseVersion("2024.10-lts"))
	assert.Error(t, ValidateBaseVersion(""))
	assert.Error(t, ValidateBaseVersion("1.0/evil"))
	assert.Error(t, ValidateBaseVersion(".."))
	assert.Error(t, ValidateBaseVersion(".hidden"))
}

// =============================================================================
// Ordering Tests
// =============================================================================

func TestCompareBaseVersions(t *testing.T) {
	assert.Equal(t, 1, CompareBaseVersions("1.10.0", "1.9.0"))
	assert.Equal(t, -1, CompareBaseVersions("1.2.0", "1.2.1"))
	assert.Equal(t, 0, CompareBaseVersions("1.2.0", "1.2.0"))
	// Semantic versions sort above free-form names.
	assert.Equal(t, 1, CompareBaseVersions("0.1.0", "nightly"))
	assert.Equal(t, -1, CompareBaseVersions("alpha", "beta"))
}

func TestSortSnapshots(t *testing.T) {
	snaps := []Snapshot{
		{Version: "1.9.0-custom.1", BaseVersion: "1.9.0", Increment: 1},
		{Version: "1.10.0-custom.1", BaseVersion: "1.10.0", Increment: 1},
		{Version: "1.9.0-custom.3", BaseVersion: "1.9.0", Increment: 3},
		{Version: "1.10.0-custom.2", BaseVersion: "1.10.0", Increment: 2},
	}
	SortSnapshots(snaps)

	got := make([]string, len(snaps))
	for i, s := range snaps {
		got[i] = s.Version
	}
	assert.Equal(t, []string{
		"1.10.0-custom.2",
		"1.10.0-custom.1",
		"1.9.0-custom.3",
		"1.9.0-custom.1",
	}, got)
}

func TestSortSnapshotsByAge(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		{Version: "a", BaseVersion: "1.0.0", Increment: 1, CreatedAt: t0},
		{Version: "c", BaseVersion: "1.0.0", Increment: 3, CreatedAt: t0.Add(2 * time.Hour)},
		{Version: "b", BaseVersion: "1.0.0", Increment: 2, CreatedAt: t0.Add(time.Hour)},
	}
	SortSnapshotsByAge(snaps)
	assert.Equal(t, "c", snaps[0].Version)
	assert.Equal(t, "b", snaps[1].Version)
	assert.Equal(t, "a", snaps[2].Version)
}
