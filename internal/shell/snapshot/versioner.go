// Package snapshot records completed RUNTIME trees as immutable, versioned
// copies and lists them back.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/layerpack/internal/core/domain"
	"github.com/artpar/layerpack/internal/core/manifest"
	"github.com/artpar/layerpack/internal/shell/storage"
)

// tmpPrefix marks snapshot directories still being copied.
const tmpPrefix = ".tmp-"

// Config configures a Versioner.
type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Versioner computes snapshot versions and copies RUNTIME trees.
type Versioner struct {
	backend storage.Backend
	logger  *slog.Logger
	now     func() time.Time
}

// NewVersioner creates a snapshot versioner.
func NewVersioner(backend storage.Backend, cfg Config) *Versioner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Versioner{
		backend: backend,
		logger:  logger.With("component", "snapshot"),
		now:     now,
	}
}

// =============================================================================
// Versions
// =============================================================================

// NextVersion returns the identifier the next snapshot of baseVersion would
// get for the tenant.
func (v *Versioner) NextVersion(ctx context.Context, paths domain.TenantPaths, baseVersion string) (string, error) {
	if err := domain.ValidateBaseVersion(baseVersion); err != nil {
		return "", err
	}
	names, err := storage.ListDirs(ctx, v.backend, paths.Snapshots)
	if err != nil {
		return "", err
	}
	return domain.NextVersion(names, baseVersion), nil
}

// Create snapshots the tenant's RUNTIME under the next version of
// baseVersion. Callers must hold the tenant lock; two concurrent callers
// would compute the same version and the second would fail with
// domain.ErrDuplicateSnapshot.
func (v *Versioner) Create(ctx context.Context, paths domain.TenantPaths, baseVersion string) (*domain.Snapshot, error) {
	version, err := v.NextVersion(ctx, paths, baseVersion)
	if err != nil {
		return nil, err
	}
	return v.Snapshot(ctx, paths, version)
}

// Snapshot copies RUNTIME into snapshots/{version}. The copy is built in a
// temporary directory and renamed into place, so a snapshot directory is
// either complete or absent. An existing version is never overwritten.
func (v *Versioner) Snapshot(ctx context.Context, paths domain.TenantPaths, version string) (*domain.Snapshot, error) {
	baseVersion, increment, err := domain.ParseVersion(version)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateBaseVersion(baseVersion); err != nil {
		return nil, err
	}
	log := v.logger.With("tenant", paths.Tenant, "version", version)

	target := domain.JoinPath(paths.Snapshots, version)
	if _, err := v.backend.Stat(ctx, target); err == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateSnapshot, version)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if _, err := v.backend.Stat(ctx, paths.Runtime); errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrNoRuntime
	} else if err != nil {
		return nil, err
	}

	tmp := domain.JoinPath(paths.Snapshots, tmpPrefix+version)
	if err := v.backend.Delete(ctx, tmp); err != nil {
		return nil, err
	}
	cleanup := func() {
		if err := v.backend.Delete(ctx, tmp); err != nil {
			log.Warn("failed to remove temporary snapshot", "path", tmp, "error", err)
		}
	}

	stats, err := storage.CopyTree(ctx, v.backend, paths.Runtime, tmp, manifest.Digest)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("copy runtime: %w", err)
	}

	if err := v.backend.Rename(ctx, tmp, target); err != nil {
		cleanup()
		if errors.Is(err, storage.ErrExists) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateSnapshot, version)
		}
		return nil, err
	}

	snap := &domain.Snapshot{
		Version:     version,
		BaseVersion: baseVersion,
		Increment:   increment,
		Tenant:      paths.Tenant,
		Path:        target,
		CreatedAt:   v.now().UTC(),
		Files:       len(stats.Digests),
		Bytes:       stats.Bytes,
		Digest:      manifest.TreeDigest(stats.Digests),
	}
	// The tree is already in place; without its record, load falls back
	// to the directory mtime.
	meta, err := json.MarshalIndent(snap, "", "  ")
	if err == nil {
		err = v.backend.Write(ctx, metaPath(paths, version), append(meta, '\n'))
	}
	if err != nil {
		log.Warn("failed to write snapshot metadata", "error", err)
	}

	log.Info("snapshot created", "files", snap.Files, "bytes", snap.Bytes)
	return snap, nil
}

// =============================================================================
// Listing
// =============================================================================

// List returns the tenant's snapshots sorted by base version descending,
// then increment descending. Directories that are not snapshot identifiers
// are ignored.
func (v *Versioner) List(ctx context.Context, paths domain.TenantPaths) ([]domain.Snapshot, error) {
	names, err := storage.ListDirs(ctx, v.backend, paths.Snapshots)
	if err != nil {
		return nil, err
	}

	snaps := []domain.Snapshot{}
	for _, name := range names {
		if strings.HasPrefix(name, ".") {
			continue
		}
		snap, err := v.load(ctx, paths, name)
		if errors.Is(err, domain.ErrInvalidVersion) {
			v.logger.Debug("ignoring foreign snapshot directory", "tenant", paths.Tenant, "name", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	domain.SortSnapshots(snaps)
	return snaps, nil
}

// Get returns one snapshot.
func (v *Versioner) Get(ctx context.Context, paths domain.TenantPaths, version string) (domain.Snapshot, error) {
	snap, err := v.load(ctx, paths, version)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Snapshot{}, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, version)
	}
	return snap, err
}

// load builds a Snapshot from its directory name and metadata record. The
// directory name is authoritative for the version; when the record is
// missing or unreadable, the directory's modification time stands in for
// the creation time.
func (v *Versioner) load(ctx context.Context, paths domain.TenantPaths, name string) (domain.Snapshot, error) {
	baseVersion, increment, err := domain.ParseVersion(name)
	if err != nil {
		return domain.Snapshot{}, err
	}
	dir := domain.JoinPath(paths.Snapshots, name)
	info, err := v.backend.Stat(ctx, dir)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap := domain.Snapshot{}
	if data, err := v.backend.Read(ctx, metaPath(paths, name)); err == nil {
		if err := json.Unmarshal(data, &snap); err != nil {
			v.logger.Warn("unreadable snapshot metadata", "tenant", paths.Tenant, "version", name, "error", err)
			snap = domain.Snapshot{}
		}
	}

	snap.Version = name
	snap.BaseVersion = baseVersion
	snap.Increment = increment
	snap.Tenant = paths.Tenant
	snap.Path = dir
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = info.ModTime
	}
	return snap, nil
}

// Delete removes one snapshot. Only retention should call this.
func (v *Versioner) Delete(ctx context.Context, paths domain.TenantPaths, version string) error {
	if _, _, err := domain.ParseVersion(version); err != nil {
		return err
	}
	dir := domain.JoinPath(paths.Snapshots, version)
	if _, err := v.backend.Stat(ctx, dir); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, version)
		}
		return err
	}
	if err := v.backend.Delete(ctx, dir); err != nil {
		return err
	}
	if err := v.backend.Delete(ctx, metaPath(paths, version)); err != nil {
		v.logger.Warn("failed to remove snapshot metadata", "tenant", paths.Tenant, "version", version, "error", err)
	}
	return nil
}

// metaPath is where the record of one snapshot lives.
func metaPath(paths domain.TenantPaths, version string) string {
	return domain.JoinPath(paths.Snapshots, domain.SnapshotMetaDir, version+".json")
}
