// Package errors provides the error types shared by the realtime session packages.
//
// ContextualError captures the component and operation that failed, an optional
// status code and details, and a Kind that classifies the failure. Components
// define their own typed errors and report their Kind through ErrorKind, so
// callers can classify any wrapped error with KindOf:
//
//	err := errors.New("credentials", "GetToken", cause).WithKind(errors.KindCredential)
//	if errors.KindOf(err) == errors.KindCredential {
//	    // terminal for the session
//	}
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure for the session's propagation policy.
type Kind string

// Error kinds.
const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = ""

	// KindCredential covers failures acquiring an ephemeral credential.
	// The session treats them as terminal.
	KindCredential Kind = "credential"

	// KindNegotiation covers transport handshake failures.
	// The session retries them with backoff up to its attempt cap.
	KindNegotiation Kind = "negotiation"

	// KindCapture covers microphone capture failures, including permission denial.
	// They are recoverable and do not affect the other modality.
	KindCapture Kind = "capture"

	// KindProtocolParse covers malformed inbound control-channel messages.
	// They are logged and swallowed per message.
	KindProtocolParse Kind = "protocol_parse"

	// KindToolInvocation covers failures inside a registered tool.
	// They are reported back over the channel as a failed tool result.
	KindToolInvocation Kind = "tool_invocation"
)

// Kinded is implemented by errors that know their Kind.
type Kinded interface {
	ErrorKind() Kind
}

// KindOf returns the Kind of the first error in err's chain that reports one.
func KindOf(err error) Kind {
	var k Kinded
	if stderrors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ContextualError is a structured error type that provides consistent context
// about where and why an error occurred.
type ContextualError struct {
	// Component identifies the package that produced the error (e.g. "session", "transport").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Kind classifies the failure.
	Kind Kind

	// StatusCode is an optional HTTP or application-level status code.
	StatusCode int

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)

	if e.StatusCode != 0 {
		base += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// ErrorKind returns the error's own Kind, falling back to the cause's Kind.
func (e *ContextualError) ErrorKind() Kind {
	if e.Kind != KindUnknown {
		return e.Kind
	}
	return KindOf(e.Cause)
}

// WithKind sets the Kind and returns the same error for chaining.
func (e *ContextualError) WithKind(kind Kind) *ContextualError {
	e.Kind = kind
	return e
}

// WithStatusCode sets the status code and returns the same error for chaining.
func (e *ContextualError) WithStatusCode(code int) *ContextualError {
	e.StatusCode = code
	return e
}

// WithDetails sets the details map and returns the same error for chaining.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}
