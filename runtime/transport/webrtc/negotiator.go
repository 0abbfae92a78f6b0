// Package webrtc negotiates the realtime session over WebRTC: an SDP offer is
// POSTed to the realtime endpoint with the ephemeral credential, the control
// channel is the "oai-events" data channel, and outbound audio is an Opus track.
package webrtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pion/webrtc/v4"

	"github.com/AltairaLabs/rtsession/pkg/httputil"
	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/transport"
)

const (
	// Name identifies this transport in logs, events and errors.
	Name = "webrtc"

	// DefaultEndpoint is the realtime SDP exchange endpoint.
	DefaultEndpoint = "https://api.openai.com/v1/realtime"

	// ControlChannelLabel is the data channel carrying protocol events.
	ControlChannelLabel = "oai-events"

	contentTypeSDP = "application/sdp"
	maxAnswerBytes = 1 << 20
)

// ErrNoCodec is returned when the negotiator has no audio codec configured.
var ErrNoCodec = errors.New("webrtc: no audio codec configured")

// Negotiator implements transport.Negotiator over pion/webrtc.
type Negotiator struct {
	endpoint string
	client   *http.Client
	config   webrtc.Configuration
	codec    media.Codec
	format   media.Format
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithHTTPClient sets the client used for the SDP exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Negotiator) { n.client = c }
}

// WithICEServers sets STUN/TURN server URLs.
func WithICEServers(urls ...string) Option {
	return func(n *Negotiator) {
		if len(urls) > 0 {
			n.config.ICEServers = []webrtc.ICEServer{{URLs: urls}}
		}
	}
}

// WithCodec sets the codec for the outbound and remote audio tracks.
func WithCodec(c media.Codec) Option {
	return func(n *Negotiator) { n.codec = c }
}

// WithFormat sets the audio format of the media path. The default is 48 kHz mono, 20 ms frames.
func WithFormat(f media.Format) Option {
	return func(n *Negotiator) { n.format = f }
}

// New creates a Negotiator for endpoint. An empty endpoint uses DefaultEndpoint.
func New(endpoint string, opts ...Option) *Negotiator {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	n := &Negotiator{
		endpoint: endpoint,
		client:   httputil.NewHTTPClient(httputil.DefaultSDPTimeout),
		format:   media.DefaultFormat,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns "webrtc".
func (n *Negotiator) Name() string { return Name }

func fail(phase string, err error) error {
	return &transport.NegotiationError{Transport: Name, Phase: phase, Err: err}
}

// Negotiate runs one offer/answer exchange. On failure the peer connection is
// closed and nothing is retained.
func (n *Negotiator) Negotiate(ctx context.Context, req transport.Request) (_ transport.Conn, err error) {
	if req.Token == "" {
		return nil, fail(transport.PhaseExchange, transport.ErrNoToken)
	}
	if n.codec == nil {
		return nil, fail(transport.PhaseAddTrack, ErrNoCodec)
	}

	pc, err := webrtc.NewPeerConnection(n.config)
	if err != nil {
		return nil, fail(transport.PhaseCreatePeer, err)
	}
	c := newConn(pc, n.codec, n.format)
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if err := c.attachAudio(req.Track); err != nil {
		return nil, fail(transport.PhaseAddTrack, err)
	}
	if err := c.openControlChannel(); err != nil {
		return nil, fail(transport.PhaseDataChannel, err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fail(transport.PhaseCreateOffer, err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fail(transport.PhaseSetLocal, err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, fail(transport.PhaseGather, ctx.Err())
	}

	answer, err := n.exchange(ctx, req, pc.LocalDescription().SDP)
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return nil, fail(transport.PhaseSetRemote, err)
	}

	c.start()
	return c, nil
}

// exchange POSTs the offer and returns the answer SDP.
func (n *Negotiator) exchange(ctx context.Context, req transport.Request, offer string) (string, error) {
	u, err := url.Parse(n.endpoint)
	if err != nil {
		return "", fail(transport.PhaseExchange, err)
	}
	if req.Model != "" {
		q := u.Query()
		q.Set("model", req.Model)
		u.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBufferString(offer))
	if err != nil {
		return "", fail(transport.PhaseExchange, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	httpReq.Header.Set("Content-Type", contentTypeSDP)

	logger.APIRequest(Name, http.MethodPost, u.String(), map[string]string{"Authorization": "Bearer " + req.Token})
	resp, err := n.client.Do(httpReq)
	if err != nil {
		logger.APIResponse(Name, 0, "", err)
		return "", fail(transport.PhaseExchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return "", fail(transport.PhaseExchange, err)
	}
	logger.APIResponse(Name, resp.StatusCode, "", nil)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &transport.NegotiationError{
			Transport:  Name,
			Phase:      transport.PhaseExchange,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("sdp exchange rejected: %s", logger.RedactSensitiveData(string(body))),
		}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", fail(transport.PhaseExchange, errors.New("empty answer"))
	}
	return string(body), nil
}
