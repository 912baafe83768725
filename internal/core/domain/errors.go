package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidTenant is returned for tenant names that are not a single
	// safe path segment.
	ErrInvalidTenant = errors.New("invalid tenant")

	// ErrInvalidVersion is returned for malformed snapshot identifiers or
	// base versions.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidPolicy is returned for retention policies that contradict
	// themselves.
	ErrInvalidPolicy = errors.New("invalid retention policy")

	// ErrInvalidConfig is returned when a layout template is unusable.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDuplicateSnapshot is returned when a snapshot version already exists.
	// Snapshots are immutable and are never overwritten.
	ErrDuplicateSnapshot = errors.New("snapshot already exists")

	// ErrNoRuntime is returned when a tenant has never been merged.
	ErrNoRuntime = errors.New("no runtime package: tenant has never been merged")

	// ErrSnapshotNotFound is returned when a snapshot version does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrStructural marks a failure to prepare the RUNTIME or REWORK roots.
	// It aborts the merge pass.
	ErrStructural = errors.New("structural I/O failure")
)

// MergeError wraps a failure that aborted a merge pass.
type MergeError struct {
	Op     string // step that failed, e.g. "prepare runtime"
	Tenant string
	Path   string
	Err    error
}

func (e *MergeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("merge %s: %s %s: %v", e.Tenant, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("merge %s: %s: %v", e.Tenant, e.Op, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// NewMergeError creates a MergeError.
func NewMergeError(op, tenant, path string, err error) *MergeError {
	return &MergeError{
		Op:     op,
		Tenant: tenant,
		Path:   path,
		Err:    err,
	}
}
