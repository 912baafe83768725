// Package retention applies retention plans to a tenant's snapshots.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/artpar/layerpack/internal/core/domain"
	"github.com/artpar/layerpack/internal/core/retention"
)

// SnapshotStore is the part of the snapshot versioner retention needs.
type SnapshotStore interface {
	List(ctx context.Context, paths domain.TenantPaths) ([]domain.Snapshot, error)
	Delete(ctx context.Context, paths domain.TenantPaths, version string) error
}

// Config configures an Engine.
type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Engine deletes the snapshots a retention plan marks for deletion.
type Engine struct {
	store  SnapshotStore
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a retention engine.
func NewEngine(store SnapshotStore, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:  store,
		logger: logger.With("component", "retention"),
		now:    now,
	}
}

// Plan computes what Apply would do without deleting anything.
func (e *Engine) Plan(ctx context.Context, paths domain.TenantPaths, policy domain.RetentionPolicy) (retention.Plan, error) {
	if err := policy.Validate(); err != nil {
		return retention.Plan{}, err
	}
	snaps, err := e.store.List(ctx, paths)
	if err != nil {
		return retention.Plan{}, fmt.Errorf("list snapshots: %w", err)
	}
	return retention.Compute(snaps, policy, e.now()), nil
}

// Apply runs one retention pass for a tenant. Every decision is taken
// before the first deletion. A snapshot that cannot be deleted is logged,
// reported as kept and noted in the warnings; it does not fail the pass.
func (e *Engine) Apply(ctx context.Context, paths domain.TenantPaths, policy domain.RetentionPolicy) (*domain.RetentionResult, error) {
	plan, err := e.Plan(ctx, paths, policy)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("tenant", paths.Tenant)

	result := &domain.RetentionResult{
		Deleted: []string{},
		Kept:    plan.KeepVersions(),
	}

	var errs error
	for _, d := range plan.Delete {
		version := d.Snapshot.Version
		if err := e.store.Delete(ctx, paths, version); err != nil {
			log.Error("failed to delete snapshot", "version", version, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("delete %s: %w", version, err))
			result.Kept = append(result.Kept, version)
			continue
		}
		log.Info("snapshot deleted", "version", version, "reasons", d.Reasons)
		result.Deleted = append(result.Deleted, version)
	}

	for _, err := range multierr.Errors(errs) {
		result.Warnings = append(result.Warnings, err.Error())
	}
	if errs != nil {
		log.Warn("retention pass incomplete", "failed", len(multierr.Errors(errs)))
	}

	log.Info("retention applied", "deleted", len(result.Deleted), "kept", len(result.Kept))
	return result, nil
}
