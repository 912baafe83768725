package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/artpar/layerpack/internal/core/domain"
)

// RetentionTarget is what the sweeper needs from the composer.
type RetentionTarget interface {
	ListTenants(ctx context.Context) ([]string, error)
	ApplyRetention(ctx context.Context, tenant string, overrides *domain.PolicyOverrides) (*domain.RetentionResult, error)
}

// RetentionSweeperConfig configures the retention sweeper worker.
type RetentionSweeperConfig struct {
	// Interval is the time between sweeps.
	// Default: 1 hour.
	Interval time.Duration

	// TenantTimeout bounds the retention pass of a single tenant.
	// Default: 1 minute.
	TenantTimeout time.Duration

	// MaxConcurrent is the maximum number of tenants swept concurrently.
	// Default: 4.
	MaxConcurrent int
}

// DefaultRetentionSweeperConfig returns the default configuration.
func DefaultRetentionSweeperConfig() RetentionSweeperConfig {
	return RetentionSweeperConfig{
		Interval:      time.Hour,
		TenantTimeout: time.Minute,
		MaxConcurrent: 4,
	}
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Tenants int
	Deleted int
	Kept    int
}

// RetentionSweeper periodically applies the configured retention policy to
// every tenant found in storage.
type RetentionSweeper struct {
	target RetentionTarget
	config RetentionSweeperConfig
	logger *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionSweeper creates a new retention sweeper worker.
func NewRetentionSweeper(target RetentionTarget, config RetentionSweeperConfig, logger *slog.Logger) *RetentionSweeper {
	defaults := DefaultRetentionSweeperConfig()
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.TenantTimeout == 0 {
		config.TenantTimeout = defaults.TenantTimeout
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetentionSweeper{
		target: target,
		config: config,
		logger: logger.With("component", "retention_sweeper"),
	}
}

// Start begins the sweeper background goroutine. The first sweep runs
// immediately.
func (s *RetentionSweeper) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()

	s.logger.Info("retention sweeper started",
		"interval", s.config.Interval,
		"max_concurrent", s.config.MaxConcurrent,
	)
}

// Stop cancels the sweeper and waits for an in-progress sweep to finish.
func (s *RetentionSweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

func (s *RetentionSweeper) run() {
	defer s.wg.Done()

	s.runCycle()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runCycle()
		}
	}
}

func (s *RetentionSweeper) runCycle() {
	report, err := s.SweepNow(s.ctx)
	if err != nil {
		s.logger.Error("retention sweep incomplete", "error", err)
	}
	if report.Deleted > 0 {
		s.logger.Info("retention sweep completed",
			"tenants", report.Tenants,
			"deleted", report.Deleted,
			"kept", report.Kept,
		)
	}
}

// SweepNow runs one sweep over all tenants. A tenant whose pass fails does
// not stop the others; the failures are combined into the returned error.
func (s *RetentionSweeper) SweepNow(ctx context.Context) (SweepReport, error) {
	tenants, err := s.target.ListTenants(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list tenants: %w", err)
	}
	if len(tenants) == 0 {
		s.logger.Debug("no tenants to sweep")
		return SweepReport{}, nil
	}

	var (
		mu     sync.Mutex
		report = SweepReport{Tenants: len(tenants)}
		errs   error
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, s.config.MaxConcurrent)

	for _, tenant := range tenants {
		wg.Add(1)
		go func(tenant string) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", tenant, ctx.Err()))
				mu.Unlock()
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			tctx, cancel := context.WithTimeout(ctx, s.config.TenantTimeout)
			defer cancel()

			result, err := s.target.ApplyRetention(tctx, tenant, nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("retention failed", "tenant", tenant, "error", err)
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", tenant, err))
				return
			}
			report.Deleted += len(result.Deleted)
			report.Kept += len(result.Kept)
			for _, w := range result.Warnings {
				s.logger.Warn("retention warning", "tenant", tenant, "warning", w)
			}
		}(tenant)
	}

	wg.Wait()
	return report, errs
}
