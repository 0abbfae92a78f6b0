package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/rtsession/runtime/audio"
	"github.com/AltairaLabs/rtsession/runtime/capture"
	"github.com/AltairaLabs/rtsession/runtime/events"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/protocol"
	"github.com/AltairaLabs/rtsession/runtime/tools"
	"github.com/AltairaLabs/rtsession/runtime/transport"
)

// Default timing.
const (
	DefaultConnectTimeout  = 15 * time.Second
	DefaultConnectDebounce = 300 * time.Millisecond
	DefaultPublishInterval = time.Second
	DefaultMaxAttempts     = 3
	DefaultBackoffBase     = time.Second
	DefaultBackoffMax      = 10 * time.Second
	DefaultModel           = "gpt-4o-realtime-preview"
)

var (
	// ErrInvalidModality is returned for an unknown modality.
	ErrInvalidModality = errors.New("session: invalid modality")
	// ErrNotConnected is returned when the control channel is not open.
	ErrNotConnected = errors.New("session: not connected")
	// ErrEmptyText is returned by SendText for blank input.
	ErrEmptyText = errors.New("session: empty text")
	// ErrConnectTimeout is the failure recorded when the transport does not connect in time.
	ErrConnectTimeout = errors.New("session: connect timeout")
	// ErrTransportClosed is the failure recorded when the transport goes away on its own.
	ErrTransportClosed = errors.New("session: transport closed")
)

// TokenSource supplies ephemeral credentials per modality. *credentials.Cache implements it.
type TokenSource interface {
	GetToken(ctx context.Context, modality string) (string, error)
}

// tokenInvalidator is implemented by token sources that can drop a cached token
// after the realtime service rejected it.
type tokenInvalidator interface {
	Invalidate(modality string)
}

// Config holds the controller's tunables.
type Config struct {
	Model           string
	InitialModality Modality

	ConnectTimeout  time.Duration
	ConnectDebounce time.Duration
	PublishInterval time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration

	Session       protocol.SessionOptions
	Gate          audio.GateConfig
	GateTick      time.Duration
	CaptureFormat media.Format
	// RemoteStaleAfter is how long the remote meter holds its last level without new audio.
	RemoteStaleAfter time.Duration
}

// DefaultConfig returns the standard timing, a text session and an enabled gate.
func DefaultConfig() Config {
	return Config{
		Model:            DefaultModel,
		InitialModality:  ModalityText,
		ConnectTimeout:   DefaultConnectTimeout,
		ConnectDebounce:  DefaultConnectDebounce,
		PublishInterval:  DefaultPublishInterval,
		MaxAttempts:      DefaultMaxAttempts,
		BackoffBase:      DefaultBackoffBase,
		BackoffMax:       DefaultBackoffMax,
		Session:          protocol.DefaultSessionOptions(),
		Gate:             audio.DefaultGateConfig(),
		GateTick:         audio.DefaultTickInterval,
		CaptureFormat:    media.DefaultFormat,
		RemoteStaleAfter: audio.DefaultStaleAfter,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.InitialModality == "" {
		c.InitialModality = def.InitialModality
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ConnectDebounce <= 0 {
		c.ConnectDebounce = def.ConnectDebounce
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = def.PublishInterval
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}
	if c.GateTick <= 0 {
		c.GateTick = def.GateTick
	}
	if c.CaptureFormat.SampleRate == 0 {
		c.CaptureFormat = def.CaptureFormat
	}
	if c.RemoteStaleAfter <= 0 {
		c.RemoteStaleAfter = def.RemoteStaleAfter
	}
}

func (c *Config) validate() error {
	if !c.InitialModality.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidModality, c.InitialModality)
	}
	if err := c.CaptureFormat.Validate(); err != nil {
		return fmt.Errorf("capture format: %w", err)
	}
	return nil
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	// Credentials is required.
	Credentials TokenSource
	// Negotiator is required.
	Negotiator transport.Negotiator
	// Capture opens the microphone. Nil means voice mode is unavailable.
	Capture capture.Device
	// Speaker plays remote audio. Optional.
	Speaker capture.Sink
	// Tools is shared with the caller when set; otherwise the controller creates one.
	Tools *tools.Registry
	// Bus receives the controller's events. The controller creates and owns one when nil.
	Bus *events.EventBus
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(c *Controller) { c.id = id }
}

// WithTracerProvider sets the tracer provider for negotiation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Controller) { c.tracer = tp.Tracer(tracerName) }
}
