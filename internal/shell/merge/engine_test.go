package merge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/layerpack/internal/core/domain"
	"github.com/artpar/layerpack/internal/core/manifest"
	"github.com/artpar/layerpack/internal/shell/quarantine"
	"github.com/artpar/layerpack/internal/shell/storage"
	"github.com/artpar/layerpack/internal/testutil"
)

// =============================================================================
// Test Helpers
// =============================================================================

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	backend *testutil.FaultyBackend
	engine  *Engine
	clock   *testutil.Clock
	paths   domain.TenantPaths
}

func setupEngine(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	b := testutil.NewFaultyBackend(storage.NewMemoryBackend())
	clock := testutil.NewClock(start)

	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.NewRunID = func() string { return "run-test" }
	if mutate != nil {
		mutate(&cfg)
	}
	q := quarantine.NewManager(b, quarantine.Config{Now: clock.Now})

	paths, err := domain.DefaultConfig().Paths("acme")
	require.NoError(t, err)

	return &fixture{
		backend: b,
		engine:  NewEngine(b, q, cfg),
		clock:   clock,
		paths:   paths,
	}
}

func (f *fixture) merge(t *testing.T) *domain.MergeResult {
	t.Helper()
	result, err := f.engine.Merge(context.Background(), Request{Paths: f.paths, BaseVersion: "1.0.0"})
	require.NoError(t, err)
	require.True(t, result.Success)
	return result
}

func (f *fixture) runtime(t *testing.T) map[string]string {
	t.Helper()
	return testutil.ReadTree(t, f.backend, f.paths.Runtime)
}

func seedLayers(t *testing.T, f *fixture) {
	testutil.WriteFiles(t, f.backend, map[string]string{
		"base/Dockerfile":                  "FROM alpine:3.20\n",
		"base/config/app.json":             `{"theme": "default"}`,
		"base/config/db.sql":               "CREATE TABLE t (id INT);",
		"acme/customadhoc/config/app.json": `{"theme": "acme"}`,
		"acme/customadhoc/extra/.env":      "# tenant\nFEATURE=on\n",
	})
}

func decodeManifest(t *testing.T, data string) manifest.Runtime {
	t.Helper()
	m, err := manifest.Parse([]byte(data))
	require.NoError(t, err)
	return m
}

// =============================================================================
// Layering
// =============================================================================

func TestMerge_LayeringRules(t *testing.T) {
	f := setupEngine(t, nil)
	seedLayers(t, f)

	result := f.merge(t)
	tree := f.runtime(t)

	// Override wins.
	assert.Equal(t, `{"theme": "acme"}`, tree["config/app.json"])
	// Add-on passthrough.
	assert.Equal(t, "# tenant\nFEATURE=on\n", tree["extra/.env"])
	// Default passthrough.
	assert.Equal(t, "FROM alpine:3.20\n", tree["Dockerfile"])
	assert.Equal(t, "CREATE TABLE t (id INT);", tree["config/db.sql"])

	assert.Equal(t, domain.MergeSummary{
		FilesProcessed:  4,
		FilesFromBase:   2,
		FilesFromCustom: 2,
		FilesOverridden: 1,
		FilesFailed:     0,
	}, result.Summary)
	assert.True(t, result.Summary.Balanced())
	assert.Equal(t, "run-test", result.RunID)
	assert.Equal(t, "acme/runtime", result.RuntimePath)
	assert.Empty(t, result.FailedFiles)
}

func TestMerge_MissingLayersAreEmpty(t *testing.T) {
	f := setupEngine(t, nil)

	result := f.merge(t)

	assert.Equal(t, domain.MergeSummary{}, result.Summary)
	assert.Equal(t, []string{domain.ManifestFileName}, testutil.Paths(f.runtime(t)))
}

func TestMerge_OnlyCustom(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{"acme/customadhoc/notes.txt": "hi"})

	result := f.merge(t)

	assert.Equal(t, 1, result.Summary.FilesFromCustom)
	assert.Equal(t, 0, result.Summary.FilesOverridden)
	assert.Equal(t, "hi", f.runtime(t)["notes.txt"])
}

// =============================================================================
// Quarantine
// =============================================================================

func TestMerge_QuarantinesInvalidFile(t *testing.T) {
	f := setupEngine(t, nil)
	seedLayers(t, f)
	testutil.WriteFiles(t, f.backend, map[string]string{"acme/customadhoc/config.json": "{not json"})

	result := f.merge(t)

	assert.NotContains(t, f.runtime(t), "config.json")

	rework := testutil.ReadTree(t, f.backend, f.paths.Rework)
	assert.Equal(t, "{not json", rework["config.json"])
	require.Contains(t, rework, "config.json.error.json")
	report, err := manifest.ParseErrorReport([]byte(rework["config.json.error.json"]))
	require.NoError(t, err)
	assert.Contains(t, report.Reason, "invalid JSON")
	assert.Equal(t, "acme/customadhoc/config.json", report.OriginalPath)

	require.Len(t, result.FailedFiles, 1)
	assert.Equal(t, "config.json", result.FailedFiles[0].FileName)
	assert.True(t, result.FailedFiles[0].MovedToRework)
	assert.Equal(t, 5, result.Summary.FilesProcessed)
	assert.Equal(t, 1, result.Summary.FilesFailed)
	assert.True(t, result.Summary.Balanced())
	assert.True(t, result.Success)
}

func TestMerge_FixedFileLeavesRework(t *testing.T) {
	f := setupEngine(t, nil)
	seedLayers(t, f)
	testutil.WriteFiles(t, f.backend, map[string]string{
		"acme/customadhoc/config.json": "{not json",
		"acme/customadhoc/other.json":  "{",
	})
	f.merge(t)

	testutil.WriteFiles(t, f.backend, map[string]string{"acme/customadhoc/config.json": `{"fixed": true}`})
	result := f.merge(t)

	assert.Equal(t, 1, result.Summary.FilesFailed)
	assert.Equal(t, `{"fixed": true}`, f.runtime(t)["config.json"])

	rework := testutil.ReadTree(t, f.backend, f.paths.Rework)
	assert.NotContains(t, rework, "config.json")
	assert.NotContains(t, rework, "config.json.error.json")
	assert.Contains(t, rework, "other.json.error.json")
}

func TestMerge_InvalidOverrideDoesNotFallBackToBase(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{
		"base/app.json":             `{"ok": true}`,
		"acme/customadhoc/app.json": ``,
	})

	result := f.merge(t)

	assert.NotContains(t, f.runtime(t), "app.json")
	assert.Equal(t, 1, result.Summary.FilesFailed)
	assert.Equal(t, 0, result.Summary.FilesOverridden)
}

func TestMerge_QuarantineFailureDoesNotAbort(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{
		"base/bad.json":  "{",
		"base/good.json": "{}",
	})
	f.backend.Fail("Write", "acme/rework_required/bad.json")

	result := f.merge(t)

	require.Len(t, result.FailedFiles, 1)
	assert.False(t, result.FailedFiles[0].MovedToRework)
	assert.Contains(t, result.FailedFiles[0].Reason, "invalid JSON")
	assert.Equal(t, "{}", f.runtime(t)["good.json"])
	assert.NotEmpty(t, result.Warnings)
}

func TestMerge_UnreadableSourceIsFailedFile(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{
		"base/a.txt": "a",
		"base/b.txt": "b",
	})
	f.backend.Fail("Read", "base/a.txt")

	result := f.merge(t)

	require.Len(t, result.FailedFiles, 1)
	assert.Equal(t, "a.txt", result.FailedFiles[0].FileName)
	assert.Contains(t, result.FailedFiles[0].Reason, "read failed")
	assert.True(t, result.Summary.Balanced())
}

// =============================================================================
// Re-runs and Manifest
// =============================================================================

func TestMerge_IdempotentRuntime(t *testing.T) {
	f := setupEngine(t, nil)
	seedLayers(t, f)
	testutil.WriteFiles(t, f.backend, map[string]string{"acme/customadhoc/broken.json": "{"})

	f.merge(t)
	first := f.runtime(t)
	f.clock.Advance(time.Hour)
	f.merge(t)
	second := f.runtime(t)

	m1 := decodeManifest(t, first[domain.ManifestFileName])
	m2 := decodeManifest(t, second[domain.ManifestFileName])
	assert.True(t, m2.GeneratedAt.After(m1.GeneratedAt))
	m1.GeneratedAt, m2.GeneratedAt = time.Time{}, time.Time{}
	assert.Equal(t, m1, m2)

	delete(first, domain.ManifestFileName)
	delete(second, domain.ManifestFileName)
	assert.Equal(t, first, second)
}

func TestMerge_StaleRuntimeFilesRemoved(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{
		"base/keep.txt":         "k",
		"acme/runtime/old.txt":  "stale",
		"acme/runtime/dir/x.md": "stale",
	})

	f.merge(t)

	assert.Equal(t, []string{domain.ManifestFileName, "keep.txt"}, testutil.Paths(f.runtime(t)))
}

func TestMerge_ManifestContents(t *testing.T) {
	f := setupEngine(t, nil)
	seedLayers(t, f)
	testutil.WriteFiles(t, f.backend, map[string]string{"base/bad.yaml": "no separator"})

	result := f.merge(t)
	m := decodeManifest(t, f.runtime(t)[domain.ManifestFileName])

	assert.Equal(t, "acme", m.Tenant)
	assert.Equal(t, "1.0.0", m.BaseVersion)
	assert.Equal(t, result.Summary, m.Summary)
	assert.Equal(t, result.FailedFiles, m.FailedFiles)
	require.Len(t, m.Files, 4)
	assert.Equal(t, "Dockerfile", m.Files[0].Path)
	assert.Equal(t, domain.WinnerCustom, m.Files[1].Source)
	assert.Equal(t, domain.ClassOverride, m.Files[1].Classification)
	assert.Equal(t, manifest.Digest([]byte(`{"theme": "acme"}`)), m.Files[1].Digest)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.runtime(t)[domain.ManifestFileName]), &raw))
	assert.NotContains(t, raw, "runId")
}

func TestMerge_ReservedManifestNameWarns(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{"acme/customadhoc/RUNTIME_MANIFEST.json": `{"fake": true}`})

	result := f.merge(t)

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "replaced by the generated manifest")
	m := decodeManifest(t, f.runtime(t)[domain.ManifestFileName])
	assert.Equal(t, "acme", m.Tenant)
}

func TestMerge_ManifestWriteFailureIsWarning(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{"base/a.txt": "a"})
	f.backend.Fail("Write", "acme/.runtime-staging/"+domain.ManifestFileName)

	result := f.merge(t)

	assert.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "failed to write")
	assert.Equal(t, []string{"a.txt"}, testutil.Paths(f.runtime(t)))
}

// =============================================================================
// Structural Failures
// =============================================================================

func TestMerge_ReworkRootFailureAborts(t *testing.T) {
	f := setupEngine(t, nil)
	f.backend.Fail("MkdirAll", "acme/rework_required")

	result, err := f.engine.Merge(context.Background(), Request{Paths: f.paths})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStructural)
	var mergeErr *domain.MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "acme", mergeErr.Tenant)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Warnings)
}

func TestMerge_SwapFailureKeepsPreviousRuntime(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{"base/a.txt": "v1"})
	f.merge(t)

	testutil.WriteFiles(t, f.backend, map[string]string{"base/a.txt": "v2"})
	f.backend.Fail("Rename", f.paths.Staging)

	result, err := f.engine.Merge(context.Background(), Request{Paths: f.paths})

	require.ErrorIs(t, err, domain.ErrStructural)
	assert.False(t, result.Success)
	assert.Equal(t, "v1", f.runtime(t)["a.txt"])

	_, statErr := f.backend.Stat(context.Background(), f.paths.Staging)
	assert.ErrorIs(t, statErr, storage.ErrNotFound)
}

func TestMerge_IndexFailureAborts(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{"base/a.txt": "a"})
	f.backend.Fail("List", "base")

	result, err := f.engine.Merge(context.Background(), Request{Paths: f.paths})

	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestMerge_CancelledContext(t *testing.T) {
	f := setupEngine(t, nil)
	testutil.WriteFiles(t, f.backend, map[string]string{"base/a.txt": "a", "base/b.txt": "b"})
	f.merge(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := f.engine.Merge(ctx, Request{Paths: f.paths})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Success)
	assert.Equal(t, "a", f.runtime(t)["a.txt"])
}

// =============================================================================
// Modes
// =============================================================================

func TestMerge_InPlaceMode(t *testing.T) {
	f := setupEngine(t, func(c *Config) { c.AtomicSwap = false })
	seedLayers(t, f)
	testutil.WriteFiles(t, f.backend, map[string]string{"acme/runtime/stale.txt": "x"})

	result := f.merge(t)

	tree := f.runtime(t)
	assert.NotContains(t, tree, "stale.txt")
	assert.Equal(t, `{"theme": "acme"}`, tree["config/app.json"])
	assert.Equal(t, 4, result.Summary.FilesProcessed)

	_, err := f.backend.Stat(context.Background(), f.paths.Staging)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMerge_ParallelMatchesSequential(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files["base/"+name+".json"] = `{"n": "` + name + `"}`
		files["acme/customadhoc/"+name+".yaml"] = "k: " + name
	}
	files["base/bad.json"] = "{"

	seq := setupEngine(t, nil)
	testutil.WriteFiles(t, seq.backend, files)
	par := setupEngine(t, func(c *Config) { c.Workers = 4 })
	testutil.WriteFiles(t, par.backend, files)

	r1 := seq.merge(t)
	r2 := par.merge(t)

	assert.Equal(t, r1.Summary, r2.Summary)
	assert.Equal(t, r1.FailedFiles, r2.FailedFiles)
	assert.Equal(t, seq.runtime(t), par.runtime(t))
}

func TestMerge_StrictMode(t *testing.T) {
	files := map[string]string{"base/values.yaml": "key: [unclosed\n"}

	lenient := setupEngine(t, nil)
	testutil.WriteFiles(t, lenient.backend, files)
	assert.Equal(t, 0, lenient.merge(t).Summary.FilesFailed)

	strict := setupEngine(t, func(c *Config) { c.Strict = true })
	testutil.WriteFiles(t, strict.backend, files)
	assert.Equal(t, 1, strict.merge(t).Summary.FilesFailed)
}

func TestPlan(t *testing.T) {
	f := setupEngine(t, nil)
	seedLayers(t, f)

	plan, err := f.engine.Plan(context.Background(), f.paths)
	require.NoError(t, err)

	require.Len(t, plan, 4)
	assert.Equal(t, "Dockerfile", plan[0].Path)
	assert.Equal(t, domain.ClassOverride, plan[1].Classification)
	assert.Equal(t, "acme/customadhoc/config/app.json", plan[1].Location)

	// Nothing written.
	_, err = f.backend.Stat(context.Background(), f.paths.Runtime)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
