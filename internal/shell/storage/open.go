package storage

import "fmt"

// Storage drivers.
const (
	DriverLocal  = "local"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Driver string `mapstructure:"driver"`
	Root   string `mapstructure:"root"`
	DSN    string `mapstructure:"dsn"`
}

// Open creates the backend named by opts.Driver.
func Open(opts Options) (Backend, error) {
	switch opts.Driver {
	case DriverLocal, "":
		return NewLocalBackend(opts.Root)
	case DriverMemory:
		return NewMemoryBackend(), nil
	case DriverSQLite:
		return NewSQLiteBackend(opts.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q (want %s, %s or %s)", opts.Driver, DriverLocal, DriverMemory, DriverSQLite)
	}
}
