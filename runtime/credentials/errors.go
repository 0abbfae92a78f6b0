package credentials

import (
	"errors"
	"fmt"

	pkgerrors "github.com/AltairaLabs/rtsession/pkg/errors"
)

// Reason distinguishes why a fetch failed.
type Reason string

// Fetch failure reasons.
const (
	// ReasonUnreachable means the endpoint could not be reached.
	ReasonUnreachable Reason = "unreachable"
	// ReasonRejected means the endpoint answered with a non-success status.
	ReasonRejected Reason = "rejected"
	// ReasonInvalidResponse means the endpoint answered without a usable token.
	ReasonInvalidResponse Reason = "invalid_response"
)

var (
	// ErrUnreachable matches fetch errors with ReasonUnreachable.
	ErrUnreachable = errors.New("credential endpoint unreachable")
	// ErrRejected matches fetch errors with ReasonRejected.
	ErrRejected = errors.New("credential request rejected")
	// ErrInvalidResponse matches fetch errors with ReasonInvalidResponse.
	ErrInvalidResponse = errors.New("credential response invalid")
)

// FetchError reports a failed credential fetch.
type FetchError struct {
	Modality   string
	Reason     Reason
	StatusCode int
	Err        error
}

// Error implements error.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("credential fetch for %q failed (%s)", e.Modality, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's Reason.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Reason == ReasonUnreachable
	case ErrRejected:
		return e.Reason == ReasonRejected
	case ErrInvalidResponse:
		return e.Reason == ReasonInvalidResponse
	}
	return false
}

// ErrorKind implements errors.Kinded.
func (e *FetchError) ErrorKind() pkgerrors.Kind { return pkgerrors.KindCredential }

// UserMessage returns a short description suitable for a status line.
func (e *FetchError) UserMessage() string {
	switch e.Reason {
	case ReasonUnreachable:
		return "Could not reach the credential service"
	case ReasonRejected:
		return "The credential service rejected the request"
	default:
		return "The credential service returned an invalid response"
	}
}
