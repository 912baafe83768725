// Package composer exposes the public operations of the composition engine
// and serialises them per tenant.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/artpar/layerpack/internal/core/domain"
	"github.com/artpar/layerpack/internal/core/layers"
	"github.com/artpar/layerpack/internal/core/manifest"
	coreretention "github.com/artpar/layerpack/internal/core/retention"
	"github.com/artpar/layerpack/internal/shell/merge"
	"github.com/artpar/layerpack/internal/shell/quarantine"
	"github.com/artpar/layerpack/internal/shell/retention"
	"github.com/artpar/layerpack/internal/shell/snapshot"
	"github.com/artpar/layerpack/internal/shell/storage"
)

// =============================================================================
// Types
// =============================================================================

// Options configures a Service.
type Options struct {
	Layout domain.Config
	Merge  merge.Config
	Logger *slog.Logger
	Now    func() time.Time
}

// MergeRequest is the input of Merge.
type MergeRequest struct {
	Tenant string `json:"tenant"`
	// BaseVersion is the BASE release being composed. A snapshot is only
	// taken when it is set.
	BaseVersion string `json:"baseVersion,omitempty"`
	// Policy overrides the configured retention policy for this call.
	Policy *domain.PolicyOverrides `json:"policy,omitempty"`

	SkipSnapshot  bool `json:"skipSnapshot,omitempty"`
	SkipRetention bool `json:"skipRetention,omitempty"`
}

// RuntimePackage locates a tenant's composed tree.
type RuntimePackage struct {
	Tenant string `json:"tenant"`
	// Path is the backend path of the RUNTIME tree.
	Path string `json:"path"`
	// LocalPath is the OS path for local backends.
	LocalPath string           `json:"localPath,omitempty"`
	Manifest  manifest.Runtime `json:"manifest"`
}

// PlanResult is a dry run of a merge.
type PlanResult struct {
	Tenant      string              `json:"tenant"`
	Summary     layers.PlanSummary  `json:"summary"`
	Resolutions []domain.Resolution `json:"resolutions"`
}

// =============================================================================
// Service
// =============================================================================

// Service implements the public operations. A merge, its snapshot and its
// retention pass hold the tenant's lock, as do retention runs on their own.
type Service struct {
	layout     domain.Config
	backend    storage.Backend
	merger     *merge.Engine
	quarantine *quarantine.Manager
	snapshots  *snapshot.Versioner
	retention  *retention.Engine
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires a Service over backend.
func New(backend storage.Backend, opts Options) (*Service, error) {
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	q := quarantine.NewManager(backend, quarantine.Config{Logger: logger, Now: now})
	mergeCfg := opts.Merge
	mergeCfg.Logger = logger
	mergeCfg.Now = now
	versioner := snapshot.NewVersioner(backend, snapshot.Config{Logger: logger, Now: now})

	return &Service{
		layout:     opts.Layout,
		backend:    backend,
		merger:     merge.NewEngine(backend, q, mergeCfg),
		quarantine: q,
		snapshots:  versioner,
		retention:  retention.NewEngine(versioner, retention.Config{Logger: logger, Now: now}),
		logger:     logger.With("component", "composer"),
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// Layout returns the directory layout in use.
func (s *Service) Layout() domain.Config {
	return s.layout
}

// lock acquires the tenant's lock and returns its release function.
func (s *Service) lock(tenant string) func() {
	s.mu.Lock()
	l, ok := s.locks[tenant]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tenant] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// =============================================================================
// Merge
// =============================================================================

// Merge composes the tenant's RUNTIME, then snapshots it and applies
// retention when a base version is given.
//
// The returned error is non-nil for invalid input and for aborted passes; in
// the latter case the result is returned too, with Success false. Snapshot
// and retention problems never fail a merge that succeeded; they are added
// to the result's warnings.
func (s *Service) Merge(ctx context.Context, req MergeRequest) (*domain.MergeResult, error) {
	paths, err := s.layout.Paths(req.Tenant)
	if err != nil {
		return nil, err
	}
	if req.BaseVersion != "" {
		if err := domain.ValidateBaseVersion(req.BaseVersion); err != nil {
			return nil, err
		}
	}
	policy := s.layout.Retention.Apply(req.Policy)
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	unlock := s.lock(req.Tenant)
	defer unlock()

	result, err := s.merger.Merge(ctx, merge.Request{Paths: paths, BaseVersion: req.BaseVersion})
	if err != nil {
		return result, err
	}

	if req.BaseVersion == "" || req.SkipSnapshot {
		return result, nil
	}

	snap, err := s.snapshots.Create(ctx, paths, req.BaseVersion)
	if err != nil {
		s.logger.Warn("snapshot failed", "tenant", req.Tenant, "run_id", result.RunID, "error", err)
		result.Warn(fmt.Sprintf("snapshot failed: %v", err))
		return result, nil
	}
	result.Snapshot = snap

	if req.SkipRetention {
		return result, nil
	}
	ret, err := s.retention.Apply(ctx, paths, policy)
	if err != nil {
		result.Warn(fmt.Sprintf("retention failed: %v", err))
		return result, nil
	}
	result.Retention = ret
	for _, w := range ret.Warnings {
		result.Warn(w)
	}
	return result, nil
}

// Plan resolves BASE and CUSTOM for the tenant without writing anything.
func (s *Service) Plan(ctx context.Context, tenant string) (*PlanResult, error) {
	paths, err := s.layout.Paths(tenant)
	if err != nil {
		return nil, err
	}
	plan, err := s.merger.Plan(ctx, paths)
	if err != nil {
		return nil, err
	}
	return &PlanResult{
		Tenant:      tenant,
		Summary:     layers.Summarize(plan),
		Resolutions: plan,
	}, nil
}

// =============================================================================
// Queries
// =============================================================================

// GetRuntimePackage locates the tenant's RUNTIME tree. It returns
// domain.ErrNoRuntime when no merge has completed for the tenant.
func (s *Service) GetRuntimePackage(ctx context.Context, tenant string) (*RuntimePackage, error) {
	paths, err := s.layout.Paths(tenant)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(tenant)
	defer unlock()

	data, err := s.backend.Read(ctx, domain.JoinPath(paths.Runtime, domain.ManifestFileName))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoRuntime, tenant)
	}
	if err != nil {
		return nil, err
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", domain.ManifestFileName, err)
	}

	pkg := &RuntimePackage{Tenant: tenant, Path: paths.Runtime, Manifest: m}
	if loc, ok := s.backend.(storage.Locator); ok {
		pkg.LocalPath, _ = loc.RealPath(paths.Runtime)
	}
	return pkg, nil
}

// ListReworkFiles returns the tenant's quarantined files.
func (s *Service) ListReworkFiles(ctx context.Context, tenant string) ([]domain.ReworkFile, error) {
	paths, err := s.layout.Paths(tenant)
	if err != nil {
		return nil, err
	}
	return s.quarantine.List(ctx, paths.Rework)
}

// ResolveRework discards one quarantined file and its report.
func (s *Service) ResolveRework(ctx context.Context, tenant, relativePath string) error {
	paths, err := s.layout.Paths(tenant)
	if err != nil {
		return err
	}
	unlock := s.lock(tenant)
	defer unlock()
	return s.quarantine.Resolve(ctx, paths.Rework, relativePath)
}

// ListSnapshots returns the tenant's snapshots, newest base version first.
func (s *Service) ListSnapshots(ctx context.Context, tenant string) ([]domain.Snapshot, error) {
	paths, err := s.layout.Paths(tenant)
	if err != nil {
		return nil, err
	}
	return s.snapshots.List(ctx, paths)
}

// GetSnapshot returns one snapshot.
func (s *Service) GetSnapshot(ctx context.Context, tenant, version string) (domain.Snapshot, error) {
	paths, err := s.layout.Paths(tenant)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return s.snapshots.Get(ctx, paths, version)
}

// =============================================================================
// Retention
// =============================================================================

// ApplyRetention runs a retention pass for the tenant.
func (s *Service) ApplyRetention(ctx context.Context, tenant string, overrides *domain.PolicyOverrides) (*domain.RetentionResult, error) {
	paths, err := s.layout.Paths(tenant)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(tenant)
	defer unlock()
	return s.retention.Apply(ctx, paths, s.layout.Retention.Apply(overrides))
}

// PlanRetention reports what ApplyRetention would delete.
func (s *Service) PlanRetention(ctx context.Context, tenant string, overrides *domain.PolicyOverrides) (coreretention.Plan, error) {
	paths, err := s.layout.Paths(tenant)
	if err != nil {
		return coreretention.Plan{}, err
	}
	return s.retention.Plan(ctx, paths, s.layout.Retention.Apply(overrides))
}

// =============================================================================
// Tenants
// =============================================================================

// ListTenants returns the tenants present in storage, sorted.
func (s *Service) ListTenants(ctx context.Context) ([]string, error) {
	root, ok := s.layout.TenantRoot()
	if !ok {
		return nil, fmt.Errorf("%w: custom path %q does not name the tenant as a directory", domain.ErrInvalidConfig, s.layout.CustomPath)
	}
	names, err := storage.ListDirs(ctx, s.backend, root)
	if err != nil {
		return nil, err
	}

	tenants := []string{}
	for _, name := range names {
		if _, err := s.layout.Paths(name); err != nil {
			continue
		}
		tenants = append(tenants, name)
	}
	sort.Strings(tenants)
	return tenants, nil
}
