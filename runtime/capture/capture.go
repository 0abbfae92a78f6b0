// Package capture abstracts the local audio devices: microphone sources for
// outgoing voice and speaker sinks for remote audio.
package capture

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/AltairaLabs/rtsession/pkg/errors"
	"github.com/AltairaLabs/rtsession/runtime/media"
)

var (
	// ErrPermissionDenied is returned when the user or OS refuses microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrDeviceUnavailable is returned when no usable input device exists.
	ErrDeviceUnavailable = errors.New("capture: no input device available")
	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("capture: source closed")
)

// Source is an open microphone. Read blocks for one frame.
type Source interface {
	Read(ctx context.Context) (media.Frame, error)
	Close() error
}

// Device opens microphone sources.
type Device interface {
	Open(ctx context.Context, format media.Format) (Source, error)
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(ctx context.Context, format media.Format) (Source, error)

// Open calls f.
func (f DeviceFunc) Open(ctx context.Context, format media.Format) (Source, error) {
	return f(ctx, format)
}

// Sink plays remote audio.
type Sink interface {
	Write(frame media.Frame) error
	Close() error
}

// Error reports a failed capture operation. Its Kind is always capture.
type Error struct {
	Op  string
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// ErrorKind implements errors.Kinded.
func (e *Error) ErrorKind() pkgerrors.Kind { return pkgerrors.KindCapture }

// IsPermissionDenied reports whether err means the microphone may not be used.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable)
}

// Unavailable is a Device that always fails with ErrDeviceUnavailable.
// It is used when the binary is built without audio support.
var Unavailable Device = DeviceFunc(func(context.Context, media.Format) (Source, error) {
	return nil, &Error{Op: "open", Err: ErrDeviceUnavailable}
})
