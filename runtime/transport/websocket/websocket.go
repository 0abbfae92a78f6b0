// Package websocket negotiates the realtime session over a single websocket.
// The socket is the control channel; outbound microphone audio is sent as
// base64 PCM16 input_audio_buffer.append events and remote audio arrives as
// response.audio.delta events on the same channel.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/protocol"
	"github.com/AltairaLabs/rtsession/runtime/transport"
)

const (
	// Name identifies this transport in logs, events and errors.
	Name = "websocket"

	// DefaultURL is the realtime websocket endpoint.
	DefaultURL = "wss://api.openai.com/v1/realtime"

	betaHeader = "realtime=v1"

	dialTimeout       = 10 * time.Second
	writeWait         = 10 * time.Second
	closeGracePeriod  = 5 * time.Second
	maxMessageSize    = 64 * 1024 * 1024
	heartbeatInterval = 30 * time.Second
	messageBuffer     = 64
)

// Negotiator implements transport.Negotiator with gorilla/websocket.
type Negotiator struct {
	url       string
	dialer    *websocket.Dialer
	format    media.Format
	heartbeat time.Duration
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(n *Negotiator) { n.dialer = d }
}

// WithHeartbeat sets the ping interval. Zero disables pings.
func WithHeartbeat(d time.Duration) Option {
	return func(n *Negotiator) { n.heartbeat = d }
}

// New creates a Negotiator for rawURL. An empty URL uses DefaultURL.
func New(rawURL string, opts ...Option) *Negotiator {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	n := &Negotiator{
		url:       rawURL,
		dialer:    &websocket.Dialer{HandshakeTimeout: dialTimeout},
		format:    media.Format{SampleRate: media.SampleRate24kHz, Channels: 1, FrameSamples: 480},
		heartbeat: heartbeatInterval,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns "websocket".
func (n *Negotiator) Name() string { return Name }

// Negotiate dials the realtime endpoint with the ephemeral credential.
func (n *Negotiator) Negotiate(ctx context.Context, req transport.Request) (transport.Conn, error) {
	if req.Token == "" {
		return nil, &transport.NegotiationError{Transport: Name, Phase: transport.PhaseDial, Err: transport.ErrNoToken}
	}
	u, err := url.Parse(n.url)
	if err != nil {
		return nil, &transport.NegotiationError{Transport: Name, Phase: transport.PhaseDial, Err: err}
	}
	if req.Model != "" {
		q := u.Query()
		q.Set("model", req.Model)
		u.RawQuery = q.Encode()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+req.Token)
	headers.Set("OpenAI-Beta", betaHeader)

	logger.Debug("websocket: connecting", "url", u.String())
	ws, resp, err := n.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		ne := &transport.NegotiationError{Transport: Name, Phase: transport.PhaseDial, Err: err}
		if resp != nil {
			ne.StatusCode = resp.StatusCode
			_ = resp.Body.Close()
		}
		return nil, ne
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	ws.SetReadLimit(maxMessageSize)

	c := newConn(ws, n.format, req.Track)
	c.start(n.heartbeat)
	return c, nil
}

type conn struct {
	ws     *websocket.Conn
	format media.Format
	pump   *transport.TrackPump

	writeMu sync.Mutex

	states   *transport.StateFeed
	messages chan []byte
	opened   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

var _ transport.Conn = (*conn)(nil)

func newConn(ws *websocket.Conn, format media.Format, track media.Track) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:       ws,
		format:   format,
		states:   transport.NewStateFeed(),
		messages: make(chan []byte, messageBuffer),
		opened:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.pump = transport.NewTrackPump(track, c.writeFrame)
	return c
}

// start marks the socket connected and begins the read, heartbeat and audio loops.
func (c *conn) start(heartbeat time.Duration) {
	c.states.Set(transport.StateConnected)
	close(c.opened)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.pump.Run(c.ctx)
	}()
	if heartbeat > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.heartbeatLoop(heartbeat)
		}()
	}
}

func (c *conn) readLoop() {
	defer close(c.messages)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case c.ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.states.Set(transport.StateDisconnected)
			default:
				logger.Warn("websocket: read failed", "error", err)
				c.states.Set(transport.StateFailed)
			}
			return
		}
		select {
		case c.messages <- data:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				logger.Warn("websocket: ping failed", "error", err)
				return
			}
		}
	}
}

// writeFrame sends microphone audio. Silent placeholder frames are not sent:
// in text mode the channel carries no audio at all.
func (c *conn) writeFrame(ctx context.Context, track media.Track, frame media.Frame) error {
	if track.Kind() == media.TrackSilent {
		return nil
	}
	samples := frame.Samples
	if frame.SampleRate != 0 && frame.SampleRate != c.format.SampleRate {
		var err error
		if samples, err = media.Resample(samples, frame.SampleRate, c.format.SampleRate); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(protocol.NewAudioBufferAppend(media.Int16ToBytes(samples)))
	if err != nil {
		return err
	}
	return c.Send(ctx, payload)
}

// Send writes one text message.
func (c *conn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *conn) Messages() <-chan []byte { return c.messages }

func (c *conn) States() <-chan transport.ConnState { return c.states.C() }

func (c *conn) ChannelOpened() <-chan struct{} { return c.opened }

func (c *conn) ReplaceTrack(track media.Track) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrConnClosed
	}
	c.pump.Replace(track)
	return nil
}

// SetRemoteAudioHandler is a no-op: remote audio arrives as
// response.audio.delta on the control channel and is handled by the protocol router.
func (c *conn) SetRemoteAudioHandler(transport.RemoteAudioHandler) {}

// Close sends a close frame and tears the socket down. The outbound track is not closed.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(closeGracePeriod))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.ws.WriteMessage(websocket.CloseMessage, msg); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			logger.Debug("websocket: close frame not sent", "error", werr)
		}
		c.writeMu.Unlock()

		err = c.ws.Close()
		c.wg.Wait()
		c.states.Close()
	})
	return err
}
