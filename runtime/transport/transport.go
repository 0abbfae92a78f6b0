// Package transport defines the negotiated realtime connection: a control
// channel for protocol messages plus an outbound audio path whose track can be
// replaced without renegotiating.
package transport

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/AltairaLabs/rtsession/pkg/errors"
	"github.com/AltairaLabs/rtsession/runtime/media"
)

// ConnState is a transport-level connectivity state.
type ConnState string

// Connectivity states.
const (
	StateNew          ConnState = "new"
	StateChecking     ConnState = "checking"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateFailed       ConnState = "failed"
	StateClosed       ConnState = "closed"
)

// Terminal reports whether no further transitions will follow.
func (s ConnState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Negotiation phases reported in NegotiationError.
const (
	PhaseCreatePeer  = "create_peer"
	PhaseAddTrack    = "add_track"
	PhaseDataChannel = "data_channel"
	PhaseCreateOffer = "create_offer"
	PhaseSetLocal    = "set_local"
	PhaseGather      = "gather"
	PhaseExchange    = "exchange"
	PhaseSetRemote   = "set_remote"
	PhaseDial        = "dial"
)

// Sentinel errors.
var (
	// ErrChannelClosed is returned by Send when the control channel is not open.
	ErrChannelClosed = errors.New("control channel is not open")

	// ErrConnClosed is returned by operations on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrNoToken is returned when a negotiation is requested without a credential.
	ErrNoToken = errors.New("negotiation requires an ephemeral credential")
)

// NegotiationError reports a failed handshake and the phase that failed.
// Nothing from a failed negotiation is retained.
type NegotiationError struct {
	Transport  string
	Phase      string
	StatusCode int
	Err        error
}

// Error implements error.
func (e *NegotiationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s negotiation failed at %s (status %d): %v", e.Transport, e.Phase, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s negotiation failed at %s: %v", e.Transport, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *NegotiationError) Unwrap() error { return e.Err }

// ErrorKind implements errors.Kinded.
func (e *NegotiationError) ErrorKind() pkgerrors.Kind { return pkgerrors.KindNegotiation }

// Rejected reports whether the remote service refused the credential.
func (e *NegotiationError) Rejected() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// PhaseOf returns the failed phase of a negotiation error, or "".
func PhaseOf(err error) string {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.Phase
	}
	return ""
}

// Request carries what a single negotiation needs.
type Request struct {
	// Token is the ephemeral credential presented to the remote service.
	Token string
	// Model selects the remote model.
	Model string
	// Track is the initial outbound audio track, live or silent.
	Track media.Track
}

// Negotiator performs one offer/answer handshake. The caller imposes timeouts
// through ctx.
type Negotiator interface {
	Name() string
	Negotiate(ctx context.Context, req Request) (Conn, error)
}

// RemoteAudioHandler receives decoded remote-party audio.
type RemoteAudioHandler func(frame media.Frame)

// Conn is an established transport.
type Conn interface {
	// Send writes one control-channel message. It returns ErrChannelClosed
	// while the channel is not open.
	Send(ctx context.Context, payload []byte) error
	// Messages delivers inbound control-channel messages in arrival order.
	// It is closed when the connection closes.
	Messages() <-chan []byte
	// States delivers connectivity transitions. It is closed when the connection closes.
	States() <-chan ConnState
	// ChannelOpened is closed once the control channel is open.
	ChannelOpened() <-chan struct{}
	// ReplaceTrack swaps the outbound track. The caller owns and releases the old track.
	ReplaceTrack(track media.Track) error
	// SetRemoteAudioHandler installs the sink for remote-party audio.
	SetRemoteAudioHandler(h RemoteAudioHandler)
	// Close tears everything down. It is safe to call more than once.
	Close() error
}
