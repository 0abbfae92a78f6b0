package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/rtsession/pkg/testutil"
	"github.com/AltairaLabs/rtsession/runtime/capture"
	"github.com/AltairaLabs/rtsession/runtime/events"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeConn is an in-memory transport.Conn.
type fakeConn struct {
	states   *transport.StateFeed
	messages chan []byte
	opened   chan struct{}

	mu        sync.Mutex
	sent      [][]byte
	track     media.Track
	replaced  []media.Track
	onRemote  transport.RemoteAudioHandler
	closed    bool
	openOnce  sync.Once
	closeOnce sync.Once

	// closeErr and closePanic make Close fail after releasing the conn.
	closeErr   error
	closePanic any
}

func newFakeConn(track media.Track) *fakeConn {
	return &fakeConn{
		states:   transport.NewStateFeed(),
		messages: make(chan []byte, 64),
		opened:   make(chan struct{}),
		track:    track,
	}
}

// up reports connected and opens the control channel.
func (f *fakeConn) up() {
	f.states.Set(transport.StateConnected)
	f.open()
}

func (f *fakeConn) open() {
	f.openOnce.Do(func() { close(f.opened) })
}

func (f *fakeConn) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrConnClosed
	}
	select {
	case <-f.opened:
	default:
		return transport.ErrChannelClosed
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeConn) Messages() <-chan []byte           { return f.messages }
func (f *fakeConn) States() <-chan transport.ConnState { return f.states.C() }
func (f *fakeConn) ChannelOpened() <-chan struct{}     { return f.opened }

func (f *fakeConn) ReplaceTrack(t media.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track = t
	f.replaced = append(f.replaced, t)
	return nil
}

func (f *fakeConn) SetRemoteAudioHandler(h transport.RemoteAudioHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRemote = h
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.states.Close()
		close(f.messages)
	})
	if f.closePanic != nil {
		panic(f.closePanic)
	}
	return f.closeErr
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) currentTrack() media.Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.track
}

func (f *fakeConn) replacements() []media.Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.Track(nil), f.replaced...)
}

// sentTypes returns the "type" field of every sent message.
func (f *fakeConn) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, raw := range f.sent {
		var h struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &h)
		out = append(out, h.Type)
	}
	return out
}

// lastSessionModalities decodes the modalities of the newest session.update.
func (f *fakeConn) lastSessionModalities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		var ev struct {
			Type    string `json:"type"`
			Session struct {
				Modalities []string `json:"modalities"`
			} `json:"session"`
		}
		if json.Unmarshal(f.sent[i], &ev) == nil && ev.Type == "session.update" {
			return ev.Session.Modalities
		}
	}
	return nil
}

func (f *fakeConn) remote(frame media.Frame) {
	f.mu.Lock()
	h := f.onRemote
	f.mu.Unlock()
	if h != nil {
		h(frame)
	}
}

// fakeNegotiator hands out fakeConns. By default each conn comes up at once.
type fakeNegotiator struct {
	mu       sync.Mutex
	requests []transport.Request
	conns    []*fakeConn
	// negotiate overrides the default behaviour for call n (0-based).
	negotiate func(ctx context.Context, n int, req transport.Request) (transport.Conn, error)
}

func (f *fakeNegotiator) Name() string { return "fake" }

func (f *fakeNegotiator) Negotiate(ctx context.Context, req transport.Request) (transport.Conn, error) {
	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	override := f.negotiate
	f.mu.Unlock()

	if override != nil {
		conn, err := override(ctx, n, req)
		if fc, ok := conn.(*fakeConn); ok {
			f.record(fc)
		}
		return conn, err
	}
	conn := newFakeConn(req.Track)
	f.record(conn)
	conn.up()
	return conn, nil
}

func (f *fakeNegotiator) record(c *fakeConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns = append(f.conns, c)
}

func (f *fakeNegotiator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeNegotiator) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.conns) {
		return nil
	}
	return f.conns[i]
}

func (f *fakeNegotiator) lastConn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// fakeTokens is a TokenSource with an optional fixed error.
type fakeTokens struct {
	mu          sync.Mutex
	err         error
	requests    []string
	invalidated []string
}

func (f *fakeTokens) GetToken(_ context.Context, modality string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, modality)
	if f.err != nil {
		return "", f.err
	}
	return "ek_0123456789abcdef0123", nil
}

func (f *fakeTokens) Invalidate(modality string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, modality)
}

func (f *fakeTokens) invalidations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

// fakeDevice opens fakeSources, or fails with err.
type fakeDevice struct {
	mu      sync.Mutex
	err     error
	sources []*fakeSource
}

func (d *fakeDevice) Open(_ context.Context, format media.Format) (capture.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeSource{format: format, done: make(chan struct{})}
	d.sources = append(d.sources, s)
	return s, nil
}

func (d *fakeDevice) opened() []*fakeSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSource(nil), d.sources...)
}

type fakeSource struct {
	format    media.Format
	done      chan struct{}
	closeOnce sync.Once
}

func (s *fakeSource) Read(ctx context.Context) (media.Frame, error) {
	select {
	case <-s.done:
		return media.Frame{}, capture.ErrClosed
	case <-ctx.Done():
		return media.Frame{}, ctx.Err()
	case <-time.After(s.format.FrameDuration()):
		return media.Frame{Samples: make([]int16, s.format.FrameSamples), SampleRate: s.format.SampleRate}, nil
	}
}

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSource) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.ConnectDebounce = 10 * time.Millisecond
	cfg.PublishInterval = 20 * time.Millisecond
	cfg.BackoffBase = 20 * time.Millisecond
	cfg.BackoffMax = 80 * time.Millisecond
	cfg.GateTick = 5 * time.Millisecond
	return cfg
}

type fixture struct {
	ctrl   *Controller
	neg    *fakeNegotiator
	tokens *fakeTokens
	device *fakeDevice
	log    *testutil.EventLog
}

func newFixture(t *testing.T, cfg Config, configure ...func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		neg:    &fakeNegotiator{},
		tokens: &fakeTokens{},
		device: &fakeDevice{},
		log:    &testutil.EventLog{},
	}
	for _, fn := range configure {
		fn(f)
	}
	ctrl, err := New(cfg, Deps{
		Credentials: f.tokens,
		Negotiator:  f.neg,
		Capture:     f.device,
	}, WithSessionID("sess-test"))
	require.NoError(t, err)
	f.ctrl = ctrl
	ctrl.Subscribe(f.log.Record)
	t.Cleanup(func() { _ = ctrl.Close() })
	return f
}

// gateLoopRunning reports whether gate updates keep arriving over several ticks.
func (f *fixture) gateLoopRunning(t *testing.T, gateTick time.Duration) bool {
	t.Helper()
	time.Sleep(4 * gateTick)
	f.ctrl.Events().Flush()
	before := len(f.log.OfType(events.EventGateUpdated))
	time.Sleep(10 * gateTick)
	f.ctrl.Events().Flush()
	return len(f.log.OfType(events.EventGateUpdated)) > before
}

func (f *fixture) startConnected(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, f.ctrl.Start(context.Background()))
	require.Eventually(t, func() bool { return f.ctrl.State() == StateConnected }, waitFor, tick)
	conn := f.neg.lastConn()
	require.NotNil(t, conn)
	require.Eventually(t, func() bool { return len(conn.lastSessionModalities()) > 0 }, waitFor, tick)
	return conn
}
