// Package merge composes BASE and CUSTOM into a tenant's RUNTIME tree.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/layerpack/internal/core/domain"
	"github.com/artpar/layerpack/internal/core/layers"
	"github.com/artpar/layerpack/internal/core/manifest"
	"github.com/artpar/layerpack/internal/core/validation"
	"github.com/artpar/layerpack/internal/shell/quarantine"
	"github.com/artpar/layerpack/internal/shell/storage"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures an Engine.
type Config struct {
	// Workers is the number of files validated and copied concurrently.
	// Values below 2 process files sequentially.
	Workers int
	// AtomicSwap builds RUNTIME in a staging directory and swaps it in when
	// the pass completes. Without it RUNTIME is cleared and rebuilt in place.
	AtomicSwap bool
	// Strict enables the full parsers in file validation.
	Strict bool

	Logger   *slog.Logger
	Now      func() time.Time
	NewRunID func() string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Workers:    1,
		AtomicSwap: true,
	}
}

// Engine runs merge passes.
type Engine struct {
	backend    storage.Backend
	quarantine *quarantine.Manager
	workers    int
	atomicSwap bool
	validate   validation.Options
	logger     *slog.Logger
	now        func() time.Time
	newRunID   func() string
}

// NewEngine creates a merge engine.
func NewEngine(backend storage.Backend, q *quarantine.Manager, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newRunID := cfg.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		backend:    backend,
		quarantine: q,
		workers:    workers,
		atomicSwap: cfg.AtomicSwap,
		validate:   validation.Options{Strict: cfg.Strict},
		logger:     logger.With("component", "merge"),
		now:        now,
		newRunID:   newRunID,
	}
}

// Request names the tenant and the trees of one pass.
type Request struct {
	Paths       domain.TenantPaths
	BaseVersion string
}

// =============================================================================
// Plan
// =============================================================================

// Plan indexes BASE and CUSTOM and returns the resolution plan without
// writing anything.
func (e *Engine) Plan(ctx context.Context, paths domain.TenantPaths) ([]domain.Resolution, error) {
	base, err := storage.Index(ctx, e.backend, paths.Base)
	if err != nil {
		return nil, fmt.Errorf("index base: %w", err)
	}
	custom, err := storage.Index(ctx, e.backend, paths.Custom)
	if err != nil {
		return nil, fmt.Errorf("index custom: %w", err)
	}
	return layers.Resolve(base, custom), nil
}

// =============================================================================
// Merge
// =============================================================================

// fileResult is the outcome of one resolution, aggregated in plan order.
type fileResult struct {
	placed  bool
	record  manifest.FileRecord
	failed  *domain.FailedFile
	warning string
}

// Merge runs one full pass. It always returns a result; the error is
// non-nil only when the pass was aborted, in which case result.Success is
// false. Per-file problems are reported in result.FailedFiles.
func (e *Engine) Merge(ctx context.Context, req Request) (*domain.MergeResult, error) {
	paths := req.Paths
	result := domain.NewMergeResult(e.newRunID(), paths.Tenant, e.now())
	result.BaseVersion = req.BaseVersion
	result.RuntimePath = paths.Runtime

	log := e.logger.With("tenant", paths.Tenant, "run_id", result.RunID)
	log.Info("merge started", "base", paths.Base, "custom", paths.Custom, "atomic_swap", e.atomicSwap)

	abort := func(err error) (*domain.MergeResult, error) {
		result.Fail(err.Error())
		result.FinishedAt = e.now()
		if e.atomicSwap {
			if delErr := e.backend.Delete(ctx, paths.Staging); delErr != nil {
				log.Warn("failed to remove staging tree", "error", delErr)
			}
		}
		log.Error("merge aborted", "error", err)
		return result, err
	}

	// Steps 1-2: prepare the roots and an empty target.
	target, err := e.prepare(ctx, paths)
	if err != nil {
		return abort(err)
	}

	// Steps 3-4: index both layers and resolve.
	plan, err := e.Plan(ctx, paths)
	if err != nil {
		return abort(domain.NewMergeError("index", paths.Tenant, "", err))
	}

	// Step 5: validate and place every file.
	results, err := e.processAll(ctx, plan, paths, target)
	if err != nil {
		return abort(domain.NewMergeError("process", paths.Tenant, "", err))
	}

	records := make([]manifest.FileRecord, 0, len(plan))
	for i, r := range results {
		result.Summary.FilesProcessed++
		if r.warning != "" {
			result.Warn(r.warning)
		}
		if !r.placed {
			result.Summary.FilesFailed++
			result.FailedFiles = append(result.FailedFiles, *r.failed)
			continue
		}
		records = append(records, r.record)
		if plan[i].Winner == domain.WinnerCustom {
			result.Summary.FilesFromCustom++
		} else {
			result.Summary.FilesFromBase++
		}
		if plan[i].Classification == domain.ClassOverride {
			result.Summary.FilesOverridden++
		}
	}

	// Step 6: manifest.
	e.writeManifest(ctx, result, records, target, log)

	// Step 7: publish.
	if e.atomicSwap {
		if err := e.swap(ctx, paths); err != nil {
			return abort(err)
		}
	}

	result.FinishedAt = e.now()
	log.Info("merge completed",
		"processed", result.Summary.FilesProcessed,
		"from_base", result.Summary.FilesFromBase,
		"from_custom", result.Summary.FilesFromCustom,
		"overridden", result.Summary.FilesOverridden,
		"failed", result.Summary.FilesFailed,
		"duration", result.FinishedAt.Sub(result.StartedAt),
	)
	return result, nil
}

// prepare ensures RUNTIME and REWORK exist and returns an empty directory
// to build into.
func (e *Engine) prepare(ctx context.Context, paths domain.TenantPaths) (string, error) {
	structural := func(op, p string, err error) error {
		return domain.NewMergeError(op, paths.Tenant, p, fmt.Errorf("%w: %w", domain.ErrStructural, err))
	}

	for _, dir := range []string{paths.Runtime, paths.Rework} {
		if err := e.backend.MkdirAll(ctx, dir); err != nil {
			return "", structural("prepare", dir, err)
		}
	}

	if e.atomicSwap {
		if err := e.backend.Delete(ctx, paths.Staging); err != nil {
			return "", structural("clear staging", paths.Staging, err)
		}
		if err := e.backend.MkdirAll(ctx, paths.Staging); err != nil {
			return "", structural("prepare staging", paths.Staging, err)
		}
		return paths.Staging, nil
	}

	entries, err := e.backend.List(ctx, paths.Runtime)
	if err != nil {
		return "", structural("clear runtime", paths.Runtime, err)
	}
	for _, entry := range entries {
		if err := e.backend.Delete(ctx, entry.Path); err != nil {
			return "", structural("clear runtime", entry.Path, err)
		}
	}
	return paths.Runtime, nil
}

// processAll handles every resolution, concurrently when configured.
// Results are indexed by plan position.
func (e *Engine) processAll(ctx context.Context, plan []domain.Resolution, paths domain.TenantPaths, target string) ([]fileResult, error) {
	results := make([]fileResult, len(plan))

	if e.workers < 2 || len(plan) < 2 {
		for i, r := range plan {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = e.processFile(ctx, r, paths, target)
		}
		return results, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = e.processFile(ctx, plan[i], paths, target)
			}
		}()
	}

	var err error
feed:
	for i := range plan {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err != nil {
		return nil, err
	}
	return results, nil
}

// processFile reads, validates and places one file. A file that cannot be
// read or written is recorded as failed; invalid files are quarantined.
func (e *Engine) processFile(ctx context.Context, r domain.Resolution, paths domain.TenantPaths, target string) fileResult {
	content, err := e.backend.Read(ctx, r.Location)
	if err != nil {
		e.logger.Error("failed to read source file", "tenant", paths.Tenant, "file", r.Path, "error", err)
		return fileResult{failed: &domain.FailedFile{
			FileName: r.Path,
			Reason:   fmt.Sprintf("read failed: %v", err),
		}}
	}

	check := validation.ValidateWith(r.Path, content, e.validate)
	if !check.IsValid {
		return e.quarantined(ctx, r, paths, content, check.Reason())
	}

	if err := e.backend.Write(ctx, domain.JoinPath(target, r.Path), content); err != nil {
		e.logger.Error("failed to write runtime file", "tenant", paths.Tenant, "file", r.Path, "error", err)
		return e.quarantined(ctx, r, paths, content, fmt.Sprintf("write failed: %v", err))
	}

	res := fileResult{placed: true, record: manifest.NewFileRecord(r, content)}
	if r.Path == domain.ManifestFileName {
		res.warning = fmt.Sprintf("%s from %s layer is replaced by the generated manifest", r.Path, r.Winner)
	}
	if _, err := e.quarantine.Clear(ctx, paths.Rework, r.Path); err != nil {
		e.logger.Warn("failed to clear rework entry", "tenant", paths.Tenant, "file", r.Path, "error", err)
		if res.warning == "" {
			res.warning = fmt.Sprintf("stale rework entry for %s not cleared: %v", r.Path, err)
		}
	}
	return res
}

func (e *Engine) quarantined(ctx context.Context, r domain.Resolution, paths domain.TenantPaths, content []byte, reason string) fileResult {
	out := e.quarantine.QuarantineContent(ctx, r.Path, r.Location, content, paths.Rework, reason)
	res := fileResult{failed: &domain.FailedFile{
		FileName:      r.Path,
		Reason:        reason,
		MovedToRework: out.MovedToRework,
	}}
	if out.Err != nil {
		res.warning = fmt.Sprintf("quarantine of %s incomplete: %v", r.Path, out.Err)
	}
	return res
}

// writeManifest writes RUNTIME_MANIFEST.json into target. A failure is a
// warning: the composed files are still usable.
func (e *Engine) writeManifest(ctx context.Context, result *domain.MergeResult, records []manifest.FileRecord, target string, log *slog.Logger) {
	// Warnings recorded after this point do not reach the manifest.
	data, err := manifest.Build(result, records, e.now()).Marshal()
	if err == nil {
		err = e.backend.Write(ctx, domain.JoinPath(target, domain.ManifestFileName), data)
	}
	if err != nil {
		log.Error("failed to write runtime manifest", "error", err)
		result.Warn(fmt.Sprintf("failed to write %s: %v", domain.ManifestFileName, err))
	}
}

// swap publishes the staging tree as RUNTIME. The old tree is parked at
// Previous and restored if the second rename fails.
func (e *Engine) swap(ctx context.Context, paths domain.TenantPaths) error {
	structural := func(op string, err error) error {
		return domain.NewMergeError(op, paths.Tenant, paths.Runtime, fmt.Errorf("%w: %w", domain.ErrStructural, err))
	}

	if err := e.backend.Delete(ctx, paths.Previous); err != nil {
		return structural("swap", err)
	}
	if err := e.backend.Rename(ctx, paths.Runtime, paths.Previous); err != nil {
		return structural("swap", err)
	}
	if err := e.backend.Rename(ctx, paths.Staging, paths.Runtime); err != nil {
		if restoreErr := e.backend.Rename(ctx, paths.Previous, paths.Runtime); restoreErr != nil {
			e.logger.Error("failed to restore previous runtime", "tenant", paths.Tenant, "error", restoreErr)
		}
		return structural("swap", err)
	}
	if err := e.backend.Delete(ctx, paths.Previous); err != nil {
		e.logger.Warn("failed to remove previous runtime", "tenant", paths.Tenant, "error", err)
	}
	return nil
}
