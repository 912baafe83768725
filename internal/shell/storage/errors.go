// Package storage provides the hierarchical blob tree every layer lives in.
package storage

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a path does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrExists is returned when a rename target already exists.
	ErrExists = errors.New("path already exists")

	// ErrNotDir is returned when a directory operation hits a file.
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir is returned when a file operation hits a directory.
	ErrIsDir = errors.New("is a directory")

	// ErrInvalidPath is returned for operations that would touch the root or
	// move a tree into itself.
	ErrInvalidPath = errors.New("invalid path")

	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when schema migration fails.
	ErrMigrationFailed = errors.New("database migration failed")

	// ErrTxFailed is returned when a transaction cannot begin or commit.
	ErrTxFailed = errors.New("transaction failed")
)

// BackendError wraps errors with the operation and path involved.
type BackendError struct {
	Op      string // Operation that failed (e.g., "Write")
	Path    string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError creates a new BackendError.
func NewBackendError(op, path, message string, err error) *BackendError {
	return &BackendError{
		Op:      op,
		Path:    path,
		Message: message,
		Err:     err,
	}
}
