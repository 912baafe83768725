package workers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/artpar/layerpack/internal/core/domain"
	"github.com/artpar/layerpack/internal/shell/composer"
	"github.com/artpar/layerpack/internal/shell/storage"
)

// allTenants marks the BASE root: a change there re-merges every tenant.
const allTenants = "*"

// MergeTarget is what the watcher needs from the composer.
type MergeTarget interface {
	Layout() domain.Config
	ListTenants(ctx context.Context) ([]string, error)
	Merge(ctx context.Context, req composer.MergeRequest) (*domain.MergeResult, error)
}

// WatcherConfig configures the CUSTOM watcher.
type WatcherConfig struct {
	// Debounce is how long a tenant must stay quiet before it is merged.
	// Default: 500ms.
	Debounce time.Duration

	// MergeTimeout bounds a single triggered merge.
	// Default: 5 minutes.
	MergeTimeout time.Duration

	// WatchBase re-merges every tenant when BASE changes.
	WatchBase bool

	// OnMerge, when set, receives every triggered merge result.
	OnMerge func(*domain.MergeResult, error)
}

// Watcher re-merges a tenant when files under its CUSTOM tree change. It
// needs a backend that maps to the OS filesystem.
type Watcher struct {
	target  MergeTarget
	locator storage.Locator
	config  WatcherConfig
	logger  *slog.Logger

	fw *fsnotify.Watcher

	mu    sync.Mutex
	roots map[string]string // OS directory -> tenant

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher. backend must implement storage.Locator.
func NewWatcher(target MergeTarget, backend storage.Backend, config WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	loc, ok := backend.(storage.Locator)
	if ok {
		_, ok = loc.RealPath("")
	}
	if !ok {
		return nil, fmt.Errorf("watch requires a local storage backend, got %s", backend)
	}
	if config.Debounce == 0 {
		config.Debounce = 500 * time.Millisecond
	}
	if config.MergeTimeout == 0 {
		config.MergeTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		target:  target,
		locator: loc,
		config:  config,
		logger:  logger.With("component", "watcher"),
		roots:   make(map[string]string),
	}, nil
}

// Start registers watches for BASE, the tenant root and every tenant's
// CUSTOM tree, then begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.fw = fw
	w.ctx, w.cancel = context.WithCancel(ctx)

	layout := w.target.Layout()
	if w.config.WatchBase {
		w.addTree(w.realPath(domain.CleanPath(layout.BasePath)), allTenants)
	}
	if _, ok := layout.TenantRoot(); ok {
		// New tenant directories appear here.
		if rootOS := w.tenantRootOS(); w.ensureDir(rootOS) == nil {
			if err := fw.Add(rootOS); err != nil {
				w.logger.Warn("cannot watch tenant root", "path", rootOS, "error", err)
			}
		}
	}

	tenants, err := w.target.ListTenants(w.ctx)
	if err != nil {
		fw.Close()
		w.cancel()
		return fmt.Errorf("list tenants: %w", err)
	}
	for _, tenant := range tenants {
		w.addTenant(tenant)
	}

	w.wg.Add(1)
	go w.loop()

	w.logger.Info("watcher started", "tenants", len(tenants), "debounce", w.config.Debounce)
	return nil
}

// Stop closes the watcher and waits for an in-flight merge to finish.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.fw != nil {
		w.fw.Close()
	}
	w.wg.Wait()
	w.logger.Info("watcher stopped")
}

func (w *Watcher) ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return storage.ErrNotDir
	}
	return nil
}

func (w *Watcher) addTenant(tenant string) {
	paths, err := w.target.Layout().Paths(tenant)
	if err != nil {
		return
	}
	custom := filepath.Clean(w.realPath(paths.Custom))
	if w.ensureDir(custom) == nil {
		w.addTree(custom, tenant)
		return
	}
	// Watch the closest existing ancestor so the creation of the CUSTOM
	// tree is seen.
	rootOS := w.tenantRootOS()
	for dir := filepath.Dir(custom); len(dir) > len(rootOS); dir = filepath.Dir(dir) {
		if w.ensureDir(dir) == nil {
			if err := w.fw.Add(dir); err != nil {
				w.logger.Warn("cannot watch directory", "path", dir, "error", err)
			}
			return
		}
	}
}

func (w *Watcher) realPath(p string) string {
	real, _ := w.locator.RealPath(p)
	return real
}

func (w *Watcher) tenantRootOS() string {
	root, _ := w.target.Layout().TenantRoot()
	return filepath.Clean(w.realPath(root))
}

// addTree watches dir and every directory below it. fsnotify watches are
// not recursive.
func (w *Watcher) addTree(dir, tenant string) {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fw.Add(p); err != nil {
			w.logger.Warn("cannot watch directory", "path", p, "error", err)
			return nil
		}
		w.mu.Lock()
		w.roots[p] = tenant
		w.mu.Unlock()
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("cannot watch tree", "path", dir, "tenant", tenant, "error", err)
	}
}

// tenantFor returns the tenant owning an event path, walking up to the
// closest watched directory.
func (w *Watcher) tenantFor(p string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := p; ; {
		if tenant, ok := w.roots[dir]; ok {
			return tenant, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.config.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event, pending)

		case <-ticker.C:
			now := time.Now()
			for tenant, t := range pending {
				if now.Sub(t) >= w.config.Debounce {
					delete(pending, tenant)
					w.trigger(tenant)
				}
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, pending map[string]time.Time) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if tenant, appeared := w.watchCreatedDir(event.Name); appeared {
				w.logger.Info("custom tree appeared", "tenant", tenant)
				pending[tenant] = time.Now()
				return
			}
		}
	}

	tenant, ok := w.tenantFor(event.Name)
	if !ok {
		return
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") && tenant != allTenants {
		// Editor swap files and the like.
		return
	}
	w.logger.Debug("change detected", "tenant", tenant, "path", event.Name, "op", event.Op.String())
	pending[tenant] = time.Now()
}

// watchCreatedDir picks up new directories inside a watched tree and the
// directories leading to a tenant's CUSTOM tree. It reports the tenant
// whose CUSTOM tree appeared, if any.
func (w *Watcher) watchCreatedDir(dir string) (string, bool) {
	if tenant, ok := w.tenantFor(dir); ok {
		w.addTree(dir, tenant)
		return "", false
	}
	if _, ok := w.target.Layout().TenantRoot(); !ok {
		return "", false
	}
	rel, err := filepath.Rel(w.tenantRootOS(), dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	tenant := strings.Split(filepath.ToSlash(rel), "/")[0]
	paths, err := w.target.Layout().Paths(tenant)
	if err != nil {
		return "", false
	}
	custom := filepath.Clean(w.realPath(paths.Custom))
	if dir != custom && !strings.HasPrefix(custom, dir+string(filepath.Separator)) {
		return "", false
	}
	w.addTenant(tenant)
	// MkdirAll may have created the whole chain before this event arrived.
	return tenant, w.ensureDir(custom) == nil
}

func (w *Watcher) trigger(tenant string) {
	tenants := []string{tenant}
	if tenant == allTenants {
		list, err := w.target.ListTenants(w.ctx)
		if err != nil {
			w.logger.Error("failed to list tenants", "error", err)
			return
		}
		tenants = list
	}

	for _, t := range tenants {
		ctx, cancel := context.WithTimeout(w.ctx, w.config.MergeTimeout)
		result, err := w.target.Merge(ctx, composer.MergeRequest{Tenant: t, SkipRetention: true})
		cancel()

		if err != nil {
			w.logger.Error("triggered merge failed", "tenant", t, "error", err)
		} else {
			w.logger.Info("triggered merge completed",
				"tenant", t,
				"run_id", result.RunID,
				"files", result.Summary.FilesProcessed,
				"failed", result.Summary.FilesFailed,
			)
		}
		if w.config.OnMerge != nil {
			w.config.OnMerge(result, err)
		}
	}
}
