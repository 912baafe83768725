package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/layerpack/internal/shell/api"
	"github.com/artpar/layerpack/internal/shell/composer"
	"github.com/artpar/layerpack/internal/shell/storage"
	"github.com/artpar/layerpack/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitStorageError    = 2
	ExitMergeError      = 3
	ExitHTTPServerError = 4
	ExitUsageError      = 64
)

// =============================================================================
// Server
// =============================================================================

// Server runs the HTTP API and the background workers.
type Server struct {
	config     *Config
	httpServer *http.Server
	backend    storage.Backend
	composer   *composer.Service
	sweeper    *workers.RetentionSweeper
	watcher    *workers.Watcher
	logger     *slog.Logger
}

// NewServer creates a new server over an opened backend and service.
func NewServer(cfg *Config, backend storage.Backend, svc *composer.Service, logger *slog.Logger) (*Server, error) {
	handler := api.NewHandler(svc, api.Config{
		Storage: backend.String(),
		Token:   cfg.Server.Token,
		Logger:  logger,
	})

	var sweeper *workers.RetentionSweeper
	if cfg.Retention.Interval > 0 {
		sweeper = workers.NewRetentionSweeper(svc, workers.RetentionSweeperConfig{
			Interval: cfg.Retention.Interval,
		}, logger)
	}

	var watcher *workers.Watcher
	if cfg.Watch.Enabled {
		w, err := workers.NewWatcher(svc, backend, workers.WatcherConfig{
			Debounce:  cfg.Watch.Debounce,
			WatchBase: cfg.Watch.Base,
		}, logger)
		if err != nil {
			return nil, &CommandError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitConfigError,
			}
		}
		watcher = w
	}

	if cfg.Server.Token == "" {
		logger.Warn("server.token is empty; mutating endpoints are unauthenticated")
	}

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		backend:  backend,
		composer: svc,
		sweeper:  sweeper,
		watcher:  watcher,
		logger:   logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if s.sweeper != nil {
		s.sweeper.Start()
	}

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.logger.Error("watcher disabled", "error", err)
			s.watcher = nil
		}
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address(),
			"storage", s.backend.String())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &CommandError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.watcher != nil {
		s.watcher.Stop()
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	if err := s.backend.Close(); err != nil {
		s.logger.Error("storage close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Command Error
// =============================================================================

// CommandError carries the exit code of a failed command.
type CommandError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *CommandError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
