package tools

import (
	"errors"
	"fmt"

	pkgerrors "github.com/AltairaLabs/rtsession/pkg/errors"
)

// Sentinel errors for tool operations.
var (
	// ErrToolNotFound is returned when a requested tool is not found in the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNameRequired is returned when registering a tool without a name.
	ErrToolNameRequired = errors.New("tool name is required")

	// ErrToolFuncRequired is returned when registering a tool without a function.
	ErrToolFuncRequired = errors.New("tool function is required")
)

// ValidationError reports arguments that do not match a tool's parameter schema.
type ValidationError struct {
	Tool   string
	Detail string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Detail)
}

// InvocationError wraps a failure inside a tool call.
type InvocationError struct {
	Tool   string
	CallID string
	Err    error
}

// Error implements error.
func (e *InvocationError) Error() string {
	return fmt.Sprintf("tool %s (call %s) failed: %v", e.Tool, e.CallID, e.Err)
}

// Unwrap returns the underlying error.
func (e *InvocationError) Unwrap() error { return e.Err }

// ErrorKind implements errors.Kinded.
func (e *InvocationError) ErrorKind() pkgerrors.Kind { return pkgerrors.KindToolInvocation }
