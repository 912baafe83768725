// Command layerpack composes tenant deployment packages from a shared BASE
// layer and per-tenant CUSTOM layers.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/layerpack/internal/shell/composer"
	"github.com/artpar/layerpack/internal/shell/storage"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}

	var cErr *CommandError
	if errors.As(err, &cErr) {
		fmt.Fprintf(stderr, "error: %v\n", cErr.Err)
		return cErr.ExitCode
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitUsageError
}

// app carries the state shared by all subcommands.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	output     string
	logLevel   string

	cfg    *Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "layerpack",
		Short:         "Compose tenant deployment packages from BASE and CUSTOM layers",
		Long:          "layerpack merges a shared BASE layer with a tenant's CUSTOM layer into a validated RUNTIME package, quarantines invalid files to REWORK and keeps versioned snapshots.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (YAML or TOML)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "output format: text or json")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newMergeCmd(a),
		newPlanCmd(a),
		newRuntimeCmd(a),
		newReworkCmd(a),
		newSnapshotsCmd(a),
		newRetentionCmd(a),
		newTenantsCmd(a),
		newServeCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load reads the configuration and builds the logger. Logs go to stderr so
// command output on stdout stays parseable.
func (a *app) load() error {
	if a.output != "text" && a.output != "json" {
		return fmt.Errorf("unknown output format %q", a.output)
	}
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return &CommandError{Op: "LoadConfig", Err: err, ExitCode: ExitConfigError}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = SetupLogger(cfg, a.stderr)
	return nil
}

// open connects to storage and builds the service. The caller closes the
// backend.
func (a *app) open() (*composer.Service, storage.Backend, error) {
	backend, err := storage.Open(a.cfg.Storage)
	if err != nil {
		return nil, nil, &CommandError{Op: "OpenStorage", Err: err, ExitCode: ExitStorageError}
	}

	svc, err := composer.New(backend, composer.Options{
		Layout: a.cfg.DomainConfig(),
		Merge:  a.cfg.MergeEngineConfig(),
		Logger: a.logger,
	})
	if err != nil {
		backend.Close()
		return nil, nil, &CommandError{Op: "NewService", Err: err, ExitCode: ExitConfigError}
	}
	return svc, backend, nil
}
