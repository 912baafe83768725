package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/layerpack/internal/core/domain"
	"github.com/artpar/layerpack/internal/shell/composer"
	"github.com/artpar/layerpack/internal/shell/storage"
)

// =============================================================================
// Merge and Plan
// =============================================================================

func newMergeCmd(a *app) *cobra.Command {
	var (
		req    composer.MergeRequest
		policy policyFlags
	)
	cmd := &cobra.Command{
		Use:   "merge <tenant>",
		Short: "Compose a tenant's RUNTIME from BASE and CUSTOM",
		Long:  "Merge validates every file of the tenant's BASE and CUSTOM layers, writes the winners to RUNTIME and quarantines invalid files to REWORK. With --base-version a snapshot is taken and retention applied.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}
			defer backend.Close()

			req.Tenant = args[0]
			req.Policy = policy.overrides(cmd)
			result, err := svc.Merge(cmd.Context(), req)
			if result != nil {
				if rErr := a.render(mergeTemplate, result); rErr != nil {
					return rErr
				}
			}
			if err != nil {
				return &CommandError{Op: "Merge", Err: err, ExitCode: exitCodeFor(err, ExitMergeError)}
			}
			if !result.Success {
				return &CommandError{Op: "Merge", Err: fmt.Errorf("merge of %s failed", req.Tenant), ExitCode: ExitMergeError}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.BaseVersion, "base-version", "", "BASE release being composed; enables snapshotting")
	cmd.Flags().BoolVar(&req.SkipSnapshot, "skip-snapshot", false, "do not snapshot RUNTIME")
	cmd.Flags().BoolVar(&req.SkipRetention, "skip-retention", false, "do not apply retention after snapshotting")
	policy.register(cmd)
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <tenant>",
		Short: "Show which layer wins for every file without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}
			defer backend.Close()

			plan, err := svc.Plan(cmd.Context(), args[0])
			if err != nil {
				return &CommandError{Op: "Plan", Err: err, ExitCode: exitCodeFor(err, ExitStorageError)}
			}
			return a.render(planTemplate, plan)
		},
	}
}

func newRuntimeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runtime <tenant>",
		Short: "Show the tenant's composed RUNTIME package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}
			defer backend.Close()

			pkg, err := svc.GetRuntimePackage(cmd.Context(), args[0])
			if err != nil {
				return &CommandError{Op: "GetRuntimePackage", Err: err, ExitCode: exitCodeFor(err, ExitStorageError)}
			}
			return a.render(runtimeTemplate, pkg)
		},
	}
}

// =============================================================================
// Rework
// =============================================================================

func newReworkCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rework",
		Short: "Inspect and resolve quarantined files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <tenant>",
		Short: "List the tenant's quarantined files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}
			defer backend.Close()

			files, err := svc.ListReworkFiles(cmd.Context(), args[0])
			if err != nil {
				return &CommandError{Op: "ListReworkFiles", Err: err, ExitCode: exitCodeFor(err, ExitStorageError)}
			}
			return a.render(reworkTemplate, files)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <tenant> <path>",
		Short: "Remove a quarantined file and its error report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := svc.ResolveRework(cmd.Context(), args[0], args[1]); err != nil {
				return &CommandError{Op: "ResolveRework", Err: err, ExitCode: exitCodeFor(err, ExitStorageError)}
			}
			a.logger.Info("rework resolved", "tenant", args[0], "file", args[1])
			return nil
		},
	})
	return cmd
}

// =============================================================================
// Snapshots and Retention
// =============================================================================

func newSnapshotsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect RUNTIME snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <tenant>",
		Short: "List snapshots, newest base version first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}
			defer backend.Close()

			snaps, err := svc.ListSnapshots(cmd.Context(), args[0])
			if err != nil {
				return &CommandError{Op: "ListSnapshots", Err: err, ExitCode: exitCodeFor(err, ExitStorageError)}
			}
			return a.render(snapshotsTemplate, snaps)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <tenant> <version>",
		Short: "Show one snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}
			defer backend.Close()

			snap, err := svc.GetSnapshot(cmd.Context(), args[0], args[1])
			if err != nil {
				return &CommandError{Op: "GetSnapshot", Err: err, ExitCode: exitCodeFor(err, ExitStorageError)}
			}
			return a.render(snapshotTemplate, snap)
		},
	})
	return cmd
}

func newRetentionCmd(a *app) *cobra.Command {
	var (
		dryRun bool
		policy policyFlags
	)
	cmd := &cobra.Command{
		Use:   "retention <tenant>",
		Short: "Apply the retention policy to a tenant's snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}
			defer backend.Close()

			overrides := policy.overrides(cmd)
			if dryRun {
				plan, err := svc.PlanRetention(cmd.Context(), args[0], overrides)
				if err != nil {
					return &CommandError{Op: "PlanRetention", Err: err, ExitCode: exitCodeFor(err, ExitStorageError)}
				}
				return a.render(retentionPlanTemplate, plan.All())
			}

			result, err := svc.ApplyRetention(cmd.Context(), args[0], overrides)
			if err != nil {
				return &CommandError{Op: "ApplyRetention", Err: err, ExitCode: exitCodeFor(err, ExitStorageError)}
			}
			return a.render(retentionTemplate, result)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show decisions without deleting")
	policy.register(cmd)
	return cmd
}

// =============================================================================
// Tenants, Serve, Version
// =============================================================================

func newTenantsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tenants",
		Short: "List tenants present in storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}
			defer backend.Close()

			tenants, err := svc.ListTenants(cmd.Context())
			if err != nil {
				return &CommandError{Op: "ListTenants", Err: err, ExitCode: exitCodeFor(err, ExitStorageError)}
			}
			return a.render(tenantsTemplate, tenants)
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, backend, err := a.open()
			if err != nil {
				return err
			}

			a.logger.Info("starting layerpack",
				"version", Version,
				"config", a.configPath,
				"storage", backend.String(),
			)

			server, err := NewServer(a.cfg, backend, svc, a.logger)
			if err != nil {
				backend.Close()
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return server.Start(ctx)
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "layerpack %s (built %s)\n", Version, BuildTime)
		},
	}
}

// =============================================================================
// Helpers
// =============================================================================

// policyFlags exposes per-call retention overrides. Only flags the user set
// override the configured policy.
type policyFlags struct {
	maxSnapshots      int
	minSnapshots      int
	maxAgeDays        int
	keepLatestPerBase int
}

func (p *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.maxSnapshots, "max-snapshots", 0, "override retention.max_snapshots (0 disables the cap)")
	cmd.Flags().IntVar(&p.minSnapshots, "min-snapshots", 0, "override retention.min_snapshots")
	cmd.Flags().IntVar(&p.maxAgeDays, "max-age-days", 0, "override retention.max_age_days (0 disables expiry)")
	cmd.Flags().IntVar(&p.keepLatestPerBase, "keep-latest-per-base", 0, "override retention.keep_latest_per_base")
}

func (p *policyFlags) overrides(cmd *cobra.Command) *domain.PolicyOverrides {
	var o domain.PolicyOverrides
	set := false
	pick := func(name string, v int, dst **int) {
		if cmd.Flags().Changed(name) {
			val := v
			*dst = &val
			set = true
		}
	}
	pick("max-snapshots", p.maxSnapshots, &o.MaxSnapshots)
	pick("min-snapshots", p.minSnapshots, &o.MinSnapshots)
	pick("max-age-days", p.maxAgeDays, &o.MaxAgeDays)
	pick("keep-latest-per-base", p.keepLatestPerBase, &o.KeepLatestPerBase)
	if !set {
		return nil
	}
	return &o
}

// exitCodeFor maps caller mistakes to ExitUsageError and everything else
// to fallback.
func exitCodeFor(err error, fallback int) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTenant),
		errors.Is(err, domain.ErrInvalidVersion),
		errors.Is(err, domain.ErrInvalidPolicy),
		errors.Is(err, domain.ErrNoRuntime),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrInvalidPath):
		return ExitUsageError
	}
	return fallback
}
