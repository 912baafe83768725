// Package compose checks Docker Compose files found in a deployment package.
// Everything here is pure: content goes in, an error comes out.
package compose

import (
	"errors"
	"fmt"
)

// Errors returned by Check. Match them with errors.Is.
var (
	ErrInvalidYAML        = errors.New("invalid YAML syntax")
	ErrNoServices         = errors.New("compose file must define at least one service")
	ErrServiceNoImage     = errors.New("service must have image or build")
	ErrServiceInvalidPort = errors.New("invalid port configuration")
	ErrCircularDependency = errors.New("circular dependency detected")
)

// CheckError locates a failed check inside the compose document.
type CheckError struct {
	Field   string // services.web.ports[0]
	Message string
	Err     error
}

func (e *CheckError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *CheckError) Unwrap() error { return e.Err }

// NewCheckError creates a CheckError.
func NewCheckError(field, message string, err error) *CheckError {
	return &CheckError{Field: field, Message: message, Err: err}
}
