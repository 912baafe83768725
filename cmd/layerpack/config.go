package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/layerpack/internal/core/domain"
	"github.com/artpar/layerpack/internal/shell/merge"
	"github.com/artpar/layerpack/internal/shell/storage"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Storage   storage.Options `mapstructure:"storage"`
	Layout    LayoutConfig    `mapstructure:"layout"`
	Retention RetentionConfig `mapstructure:"retention"`
	Merge     MergeConfig     `mapstructure:"merge"`
	Server    ServerConfig    `mapstructure:"server"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Log       LogConfig       `mapstructure:"log"`
}

// LayoutConfig holds the layer path templates. "{tenant}" is replaced with
// the tenant name.
type LayoutConfig struct {
	BasePath      string `mapstructure:"base_path"`
	CustomPath    string `mapstructure:"custom_path"`
	RuntimePath   string `mapstructure:"runtime_path"`
	ReworkPath    string `mapstructure:"rework_path"`
	SnapshotsPath string `mapstructure:"snapshots_path"`
}

// RetentionConfig holds the snapshot retention policy and the sweeper
// schedule used by serve.
type RetentionConfig struct {
	domain.RetentionPolicy `mapstructure:",squash"`

	// Interval between sweeps. Zero disables the sweeper.
	Interval time.Duration `mapstructure:"interval"`
}

// MergeConfig holds merge engine tuning.
type MergeConfig struct {
	Workers    int  `mapstructure:"workers"`
	AtomicSwap bool `mapstructure:"atomic_swap"`
	Strict     bool `mapstructure:"strict"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Token           string        `mapstructure:"token"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WatchConfig holds the CUSTOM watcher configuration.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Base     bool          `mapstructure:"base"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DomainConfig returns the engine layout with the retention policy.
func (c *Config) DomainConfig() domain.Config {
	return domain.Config{
		BasePath:      c.Layout.BasePath,
		CustomPath:    c.Layout.CustomPath,
		RuntimePath:   c.Layout.RuntimePath,
		ReworkPath:    c.Layout.ReworkPath,
		SnapshotsPath: c.Layout.SnapshotsPath,
		Retention:     c.Retention.RetentionPolicy,
	}
}

// MergeEngineConfig returns the merge engine configuration.
func (c *Config) MergeEngineConfig() merge.Config {
	return merge.Config{
		Workers:    c.Merge.Workers,
		AtomicSwap: c.Merge.AtomicSwap,
		Strict:     c.Merge.Strict,
	}
}

// Validate checks the parts of the configuration that viper cannot.
func (c *Config) Validate() error {
	if err := c.DomainConfig().Validate(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case storage.DriverLocal:
		if c.Storage.Root == "" {
			return fmt.Errorf("%w: storage.root is required for the local driver", domain.ErrInvalidConfig)
		}
	case storage.DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for the sqlite driver", domain.ErrInvalidConfig)
		}
	case storage.DriverMemory:
	default:
		return fmt.Errorf("%w: unknown storage driver %q", domain.ErrInvalidConfig, c.Storage.Driver)
	}
	if c.Merge.Workers < 1 {
		return fmt.Errorf("%w: merge.workers must be at least 1", domain.ErrInvalidConfig)
	}
	if c.Watch.Enabled && c.Storage.Driver != storage.DriverLocal {
		return fmt.Errorf("%w: watch requires the local storage driver", domain.ErrInvalidConfig)
	}
	return nil
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("storage.driver", storage.DriverLocal)
	v.SetDefault("storage.root", "./data")
	v.SetDefault("storage.dsn", "./data/layerpack.db")
	v.SetDefault("layout.base_path", domain.DefaultBasePath)
	v.SetDefault("layout.custom_path", domain.DefaultCustomPath)
	v.SetDefault("layout.runtime_path", domain.DefaultRuntimePath)
	v.SetDefault("layout.rework_path", domain.DefaultReworkPath)
	v.SetDefault("layout.snapshots_path", domain.DefaultSnapshotsPath)
	v.SetDefault("retention.max_snapshots", domain.DefaultMaxSnapshots)
	v.SetDefault("retention.min_snapshots", domain.DefaultMinSnapshots)
	v.SetDefault("retention.max_age_days", domain.DefaultMaxAgeDays)
	v.SetDefault("retention.keep_latest_per_base", domain.DefaultKeepLatestPerBase)
	v.SetDefault("retention.interval", "1h")
	v.SetDefault("merge.workers", 1)
	v.SetDefault("merge.atomic_swap", true)
	v.SetDefault("merge.strict", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.token", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m") // merges of large trees run inside the request
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.base", false)
	v.SetDefault("watch.debounce", "500ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a broken one does not.
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("LAYERPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
