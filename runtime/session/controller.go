// Package session implements the realtime session controller: the connection
// state machine with retry and backoff, the modality switch between text and
// voice, and the audio graph that feeds the transport.
//
// A Controller owns exactly one logical session. Callers drive it with Start,
// Stop, SendText and SwitchModality and observe it through State, Conversation
// and the event bus returned by Subscribe.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/rtsession/runtime/audio"
	"github.com/AltairaLabs/rtsession/runtime/capture"
	"github.com/AltairaLabs/rtsession/runtime/credentials"
	"github.com/AltairaLabs/rtsession/runtime/events"
	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/protocol"
	"github.com/AltairaLabs/rtsession/runtime/tools"
	"github.com/AltairaLabs/rtsession/runtime/transport"

	pkgerrors "github.com/AltairaLabs/rtsession/pkg/errors"
)

const tracerName = "github.com/AltairaLabs/rtsession/runtime/session"

// channelAudioRate is the sample rate of response.audio.delta payloads.
const channelAudioRate = media.SampleRate24kHz

// Controller is the session state machine.
type Controller struct {
	id         string
	cfg        Config
	creds      TokenSource
	negotiator transport.Negotiator
	device     capture.Device
	speaker    capture.Sink
	registry   *tools.Registry
	bus        *events.EventBus
	ownsBus    bool
	emitter    *events.Emitter
	conv       *protocol.Conversation
	tracer     trace.Tracer
	publisher  *statePublisher

	micMeter    *audio.SignalMeter
	remoteMeter *audio.SignalMeter
	gate        *audio.GateController
	stages      []audio.Attenuator

	// switchMu serializes track construction and modality switches.
	switchMu sync.Mutex

	mu            sync.Mutex
	state         State
	status        string
	modality      Modality
	attemptLock   bool
	gen           uint64
	attempts      int
	backoff       *backoff.ExponentialBackOff
	runCtx        context.Context
	runCancel     context.CancelFunc
	link          *link
	track         media.Track
	gateCancel    context.CancelFunc
	pendingConfig bool
	timeoutTimer  *time.Timer
	settleTimer   *time.Timer
	retryTimer    *time.Timer
}

// link is one negotiated connection and the protocol machinery bound to it.
type link struct {
	conn   transport.Conn
	out    *protocol.Outbox
	router *protocol.Router
	ctx    context.Context
	cancel context.CancelFunc

	// transportState is guarded by Controller.mu.
	transportState transport.ConnState
	channelOpen    atomic.Bool
}

// New creates an idle controller.
func New(cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	if deps.Credentials == nil {
		return nil, errors.New("session: credentials are required")
	}
	if deps.Negotiator == nil {
		return nil, errors.New("session: negotiator is required")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:        cfg,
		creds:      deps.Credentials,
		negotiator: deps.Negotiator,
		device:     deps.Capture,
		speaker:    deps.Speaker,
		registry:   deps.Tools,
		bus:        deps.Bus,
		tracer:     otel.Tracer(tracerName),
		state:      StateIdle,
		modality:   cfg.InitialModality,
		status:     "Disconnected",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.bus == nil {
		c.bus = events.NewEventBus()
		c.ownsBus = true
	}
	if c.registry == nil {
		c.registry = tools.NewRegistry()
	}
	c.emitter = events.NewEmitter(c.bus, c.id)
	c.conv = protocol.NewConversation(c.emitter)

	c.backoff = backoff.NewExponentialBackOff()
	c.backoff.InitialInterval = cfg.BackoffBase
	c.backoff.MaxInterval = cfg.BackoffMax
	c.backoff.Multiplier = 2
	c.backoff.RandomizationFactor = 0
	c.backoff.Reset()

	c.micMeter = audio.NewSignalMeter(cfg.RemoteStaleAfter)
	c.remoteMeter = audio.NewSignalMeter(cfg.RemoteStaleAfter)
	c.stages = []audio.Attenuator{audio.NewGainStage(), audio.NewGainStage()}
	c.gate = audio.NewGateController(c.micMeter, c.remoteMeter, cfg.Gate, c.stages...)
	c.gate.OnUpdate(c.onGateUpdate)

	c.publisher = newStatePublisher(cfg.PublishInterval, StateIdle, func(from, to State, reason string) {
		c.emitter.StateChanged(string(from), string(to), reason)
	})
	return c, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// Start begins connecting. It returns immediately; progress is observable through
// State and the event bus. Calling Start while an attempt is in flight or the
// session is connected does nothing. Start from failed is a manual restart and
// clears the attempt count.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.attemptLock || c.state.Active() {
		state := c.state
		c.mu.Unlock()
		logger.DebugContext(ctx, "Start ignored, session already active", "session_id", c.id, "state", state)
		return nil
	}
	stopTimer(&c.retryTimer)
	c.attempts = 0
	c.backoff.Reset()
	if c.runCtx == nil {
		base := logger.WithSessionID(context.WithoutCancel(ctx), c.id)
		c.runCtx, c.runCancel = context.WithCancel(base)
	}
	gen := c.beginAttemptLocked("start")
	c.mu.Unlock()

	go c.attempt(gen)
	return nil
}

// beginAttemptLocked takes the attempt lock and moves to connecting.
func (c *Controller) beginAttemptLocked(reason string) uint64 {
	c.attemptLock = true
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting, reason)
	c.setStatusLocked("Connecting...")
	c.timeoutTimer = time.AfterFunc(c.cfg.ConnectTimeout, func() { c.onTimeout(gen) })
	return gen
}

// attempt runs one credential fetch and negotiation for generation gen.
func (c *Controller) attempt(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	attemptNo := c.attempts + 1
	modality := c.modality
	runCtx := c.runCtx
	c.mu.Unlock()

	name := c.negotiator.Name()
	ctx, cancel := context.WithTimeout(runCtx, c.cfg.ConnectTimeout)
	defer cancel()
	ctx = logger.WithLoggingContext(ctx, &logger.LoggingFields{
		Attempt:   strconv.Itoa(attemptNo),
		Modality:  string(modality),
		Transport: name,
	})
	ctx, span := c.tracer.Start(ctx, "session.negotiate", trace.WithAttributes(
		attribute.String("session.id", c.id),
		attribute.String("transport", name),
		attribute.String("modality", string(modality)),
		attribute.Int("attempt", attemptNo),
	))
	defer span.End()

	start := time.Now()
	c.emitter.NegotiationStarted(name, attemptNo)

	fail := func(phase string, err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, phase)
		elapsed := time.Since(start)
		logger.Negotiation(ctx, name, attemptNo, elapsed, err)
		c.emitter.NegotiationFailed(name, attemptNo, phase, elapsed, err)
	}

	token, err := c.creds.GetToken(ctx, string(modality))
	if err != nil {
		fail("credential", err)
		if pkgerrors.IsKind(err, pkgerrors.KindCredential) {
			c.failTerminal(gen, credentialMessage(err), err)
			return
		}
		c.attemptFailed(gen, err)
		return
	}

	track, err := c.ensureTrack(ctx, gen)
	if err != nil {
		// Only a stale generation reaches here; Stop already cleaned up.
		return
	}

	conn, err := c.negotiator.Negotiate(ctx, transport.Request{
		Token: token,
		Model: c.cfg.Model,
		Track: track,
	})
	if err != nil {
		var ne *transport.NegotiationError
		if errors.As(err, &ne) && ne.Rejected() {
			if inv, ok := c.creds.(tokenInvalidator); ok {
				inv.Invalidate(string(modality))
			}
		}
		fail(transport.PhaseOf(err), err)
		c.attemptFailed(gen, err)
		return
	}

	elapsed := time.Since(start)
	span.SetStatus(codes.Ok, "")
	logger.Negotiation(ctx, name, attemptNo, elapsed, nil)
	c.emitter.NegotiationCompleted(name, attemptNo, elapsed)

	if !c.install(gen, conn) {
		logger.DebugContext(ctx, "Discarding negotiation result for a stopped attempt")
		_ = conn.Close()
	}
}

// install binds conn to generation gen. It returns false when gen is stale.
func (c *Controller) install(gen uint64, conn transport.Conn) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	lctx, lcancel := context.WithCancel(c.runCtx)
	l := &link{
		conn:           conn,
		ctx:            lctx,
		cancel:         lcancel,
		transportState: transport.StateNew,
	}
	l.out = protocol.NewOutbox(conn)
	l.router = protocol.NewRouter(c.conv, c.registry, l.out,
		protocol.WithEmitter(c.emitter),
		protocol.WithAudioHandler(c.onChannelAudio),
	)
	c.link = l
	c.mu.Unlock()

	conn.SetRemoteAudioHandler(c.onRemoteAudio)
	go c.readLoop(l)
	go c.watch(gen, l)
	go c.awaitChannel(gen, l)
	return true
}

// readLoop feeds inbound messages to the router in arrival order.
func (c *Controller) readLoop(l *link) {
	for data := range l.conn.Messages() {
		_ = l.router.Handle(l.ctx, data)
	}
}

// watch follows the transport's connectivity states.
func (c *Controller) watch(gen uint64, l *link) {
	for s := range l.conn.States() {
		c.onTransportState(gen, l, s)
	}
	c.attemptFailed(gen, ErrTransportClosed)
}

func (c *Controller) onTransportState(gen uint64, l *link, s transport.ConnState) {
	c.mu.Lock()
	if gen != c.gen || c.link != l {
		c.mu.Unlock()
		return
	}
	l.transportState = s
	logger.DebugContext(l.ctx, "Transport state", "state", s, "session", c.state)

	switch s {
	case transport.StateConnected:
		stopTimer(&c.settleTimer)
		c.settleTimer = time.AfterFunc(c.cfg.ConnectDebounce, func() { c.onSettled(gen, l) })
		c.mu.Unlock()
	case transport.StateDisconnected:
		stopTimer(&c.settleTimer)
		if c.state == StateConnected {
			c.attemptLock = true
			c.setStateLocked(StateReconnecting, "transport disconnected")
			c.setStatusLocked("Connection lost, reconnecting...")
			c.timeoutTimer = time.AfterFunc(c.cfg.ConnectTimeout, func() { c.onTimeout(gen) })
		}
		c.mu.Unlock()
	case transport.StateFailed, transport.StateClosed:
		stopTimer(&c.settleTimer)
		c.mu.Unlock()
		c.attemptFailed(gen, fmt.Errorf("%w: %s", ErrTransportClosed, s))
	default:
		c.mu.Unlock()
	}
}

// onSettled fires when the transport stayed connected for the debounce window.
func (c *Controller) onSettled(gen uint64, l *link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.link != l || l.transportState != transport.StateConnected {
		return
	}
	c.settleTimer = nil
	stopTimer(&c.timeoutTimer)
	c.attemptLock = false
	c.attempts = 0
	c.backoff.Reset()
	c.setStateLocked(StateConnected, "transport connected")
	c.setStatusLocked("Connected")
}

// awaitChannel sends the session configuration once the control channel opens.
func (c *Controller) awaitChannel(gen uint64, l *link) {
	select {
	case <-l.conn.ChannelOpened():
	case <-l.ctx.Done():
		return
	}
	l.channelOpen.Store(true)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	modality := c.modality
	c.pendingConfig = false
	c.mu.Unlock()

	logger.DebugContext(l.ctx, "Control channel open")
	c.configure(l, modality)
}

// configure sends session.update for modality. A failed send is retried on the
// next channel open.
func (c *Controller) configure(l *link, modality Modality) bool {
	update := protocol.NewSessionUpdate(c.cfg.Session, modality.Voice(), c.registry.Definitions())
	if err := l.out.Send(l.ctx, update); err != nil {
		logger.WarnContext(l.ctx, "Session update not sent", "modality", modality, "error", err)
		c.mu.Lock()
		c.pendingConfig = true
		c.mu.Unlock()
		return false
	}
	return true
}

func (c *Controller) onTimeout(gen uint64) {
	c.attemptFailed(gen, ErrConnectTimeout)
}

// attemptFailed tears down the current link, moves to failed and schedules a
// retry while attempts remain. Once they are exhausted the microphone and gate
// loop are released as well.
func (c *Controller) attemptFailed(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	l := c.detachLocked()
	c.attemptLock = false
	c.setStateLocked(StateFailed, cause.Error())

	var held mediaHandles
	terminal := c.attempts >= c.cfg.MaxAttempts
	if !terminal {
		delay := c.backoff.NextBackOff()
		c.attempts++
		attempt := c.attempts
		retryGen := c.gen
		c.setStatusLocked(fmt.Sprintf("Connection failed, retrying in %s (attempt %d of %d)",
			delay.Round(100*time.Millisecond), attempt, c.cfg.MaxAttempts))
		c.retryTimer = time.AfterFunc(delay, func() { c.retry(retryGen) })
		c.emitter.RetryScheduled(attempt, delay)
	} else {
		c.setStatusLocked(fmt.Sprintf("Connection failed after %d attempts", c.attempts+1))
		held = c.takeMediaLocked()
	}
	c.mu.Unlock()

	logger.Warn("Session attempt failed", "session_id", c.id, "error", logger.RedactSensitiveData(cause.Error()))
	if l != nil {
		_ = closeLink(l)
	}
	if !terminal {
		return
	}
	if err := errors.Join(c.releaseMedia(held)...); err != nil {
		logger.Warn("Session release finished with errors", "session_id", c.id, "error", err)
	}
}

// failTerminal moves to failed without scheduling a retry and releases the
// microphone and gate loop.
func (c *Controller) failTerminal(gen uint64, message string, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	l := c.detachLocked()
	c.attemptLock = false
	c.setStateLocked(StateFailed, cause.Error())
	c.setStatusLocked(message)
	held := c.takeMediaLocked()
	c.mu.Unlock()

	logger.Error("Session failed", "session_id", c.id, "error", logger.RedactSensitiveData(cause.Error()))
	if l != nil {
		_ = closeLink(l)
	}
	if err := errors.Join(c.releaseMedia(held)...); err != nil {
		logger.Warn("Session release finished with errors", "session_id", c.id, "error", err)
	}
}

func (c *Controller) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.attemptLock || c.state != StateFailed {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	next := c.beginAttemptLocked(fmt.Sprintf("retry %d", c.attempts))
	c.mu.Unlock()
	c.attempt(next)
}

// detachLocked stops attempt timers and unbinds the current link.
func (c *Controller) detachLocked() *link {
	stopTimer(&c.timeoutTimer)
	stopTimer(&c.settleTimer)
	l := c.link
	c.link = nil
	return l
}

func closeLink(l *link) error {
	l.cancel()
	err := l.conn.Close()
	l.router.Wait()
	return err
}

// Stop tears down the transport, the audio graph and every timer regardless of
// the current state, then leaves the controller idle. A negotiation in flight
// is abandoned and its result discarded. Cleanup failures are collected, not
// short-circuited.
func (c *Controller) Stop() error {
	c.mu.Lock()
	c.gen++
	stopTimer(&c.retryTimer)
	l := c.detachLocked()
	held := c.takeMediaLocked()
	c.attemptLock = false
	c.pendingConfig = false
	c.setStateLocked(StateDisconnected, "stopped")
	c.mu.Unlock()

	var errs []error
	if l != nil {
		errs = append(errs, safeClose("transport", func() error { return closeLink(l) }))
	}
	errs = append(errs, c.releaseMedia(held)...)

	c.mu.Lock()
	c.setStateLocked(StateIdle, "stopped")
	c.setStatusLocked("Disconnected")
	c.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		logger.Warn("Session stop finished with errors", "session_id", c.id, "error", err)
	}
	return err
}

// mediaHandles are the resources a session holds beyond its transport.
type mediaHandles struct {
	track      media.Track
	gateCancel context.CancelFunc
	runCancel  context.CancelFunc
}

// takeMediaLocked detaches the outbound track, the gate loop and the run context.
func (c *Controller) takeMediaLocked() mediaHandles {
	h := mediaHandles{track: c.track, gateCancel: c.gateCancel, runCancel: c.runCancel}
	c.track = nil
	c.gateCancel = nil
	c.runCtx, c.runCancel = nil, nil
	return h
}

// releaseMedia closes the track, stops the gate loop and resets the gate and
// meters. Each step runs even when an earlier one fails.
func (c *Controller) releaseMedia(h mediaHandles) []error {
	var errs []error
	if h.track != nil {
		errs = append(errs, safeClose("track", h.track.Close))
	}
	if h.gateCancel != nil {
		h.gateCancel()
	}
	errs = append(errs, safeClose("gate", func() error {
		c.gate.Reset()
		return nil
	}))
	if h.runCancel != nil {
		h.runCancel()
	}
	c.micMeter.Reset()
	c.remoteMeter.Reset()
	return errs
}

// Reset returns a failed or disconnected controller to idle, releases anything
// still held (a failed session waiting to retry keeps its microphone) and clears
// the attempt count.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.state != StateFailed && c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.gen++
	stopTimer(&c.retryTimer)
	held := c.takeMediaLocked()
	c.attempts = 0
	c.backoff.Reset()
	c.setStateLocked(StateIdle, "reset")
	c.setStatusLocked("Disconnected")
	c.mu.Unlock()

	if err := errors.Join(c.releaseMedia(held)...); err != nil {
		logger.Warn("Session reset finished with errors", "session_id", c.id, "error", err)
	}
}

// Close stops the session and closes the event bus if the controller created it.
func (c *Controller) Close() error {
	err := c.Stop()
	c.publisher.stop()
	if c.ownsBus {
		c.bus.Close()
	}
	return err
}

// SendText adds a user message to the conversation and asks the remote party to respond.
func (c *Controller) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil || !l.channelOpen.Load() {
		return ErrNotConnected
	}
	if err := l.out.Send(ctx, protocol.NewUserText(text)); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	c.conv.AddUserText(text)
	if err := l.out.Send(ctx, protocol.NewResponseCreate()); err != nil {
		return fmt.Errorf("request response: %w", err)
	}
	return nil
}

// RegisterTool makes fn callable by the remote party. When the control channel
// is open the updated tool list is sent right away.
func (c *Controller) RegisterTool(name string, fn tools.Func, opts ...tools.Option) error {
	if err := c.registry.Register(name, fn, opts...); err != nil {
		return err
	}
	c.mu.Lock()
	l := c.link
	modality := c.modality
	c.mu.Unlock()
	if l != nil && l.channelOpen.Load() {
		c.configure(l, modality)
	}
	return nil
}

// Tools returns the tool registry.
func (c *Controller) Tools() *tools.Registry { return c.registry }

// SetGateThresholds updates the mic and remote thresholds in dBFS.
func (c *Controller) SetGateThresholds(micDB, remoteDB float64) {
	c.gate.SetThresholds(micDB, remoteDB)
}

// SetGateEnabled turns gating on or off. A disabled gate passes all mic audio.
func (c *Controller) SetGateEnabled(enabled bool) {
	c.gate.SetEnabled(enabled)
}

// State returns the current state. Listeners see a rate-limited view of it.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StatusMessage returns the latest user-facing status line.
func (c *Controller) StatusMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Modality returns the active modality.
func (c *Controller) Modality() Modality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modality
}

// Attempts returns the number of retries scheduled since the last success.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Conversation returns a snapshot of the conversation.
func (c *Controller) Conversation() []protocol.Message {
	return c.conv.Messages()
}

// CurrentVolume returns the remote party's linear RMS level in [0, 1].
func (c *Controller) CurrentVolume() float64 {
	return c.remoteMeter.RMS()
}

// GateState returns the gate's latest evaluation.
func (c *Controller) GateState() audio.GateState {
	return c.gate.State()
}

// Subscribe registers listener for every event and returns its unsubscribe func.
func (c *Controller) Subscribe(listener events.Listener) func() {
	return c.bus.SubscribeAll(listener)
}

// Events returns the bus the controller publishes to.
func (c *Controller) Events() *events.EventBus { return c.bus }

func (c *Controller) setStateLocked(to State, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	logger.StateTransition(logger.WithSessionID(context.Background(), c.id), string(from), string(to), reason)
	c.publisher.publish(to, reason)
}

func (c *Controller) setStatusLocked(text string) {
	if c.status == text {
		return
	}
	c.status = text
	c.emitter.StatusMessage(text)
}

func (c *Controller) onRemoteAudio(frame media.Frame) {
	c.remoteMeter.ObservePCM(frame.Samples)
	if c.speaker != nil {
		if err := c.speaker.Write(frame); err != nil {
			logger.Debug("Speaker write failed", "error", err)
		}
	}
}

func (c *Controller) onChannelAudio(samples []int16) {
	c.onRemoteAudio(media.Frame{Samples: samples, SampleRate: channelAudioRate})
}

func (c *Controller) onGateUpdate(s audio.GateState) {
	c.emitter.GateUpdated(events.GateUpdatedData{
		MicLevelDB:        s.MicLevelDB,
		DisplayLevelDB:    s.DisplayLevelDB,
		RemoteLevelDB:     s.RemoteLevelDB,
		MicThresholdDB:    s.MicThresholdDB,
		RemoteThresholdDB: s.RemoteThresholdDB,
		Open:              s.Open,
		Enabled:           s.Enabled,
	})
}

func credentialMessage(err error) string {
	var fe *credentials.FetchError
	if errors.As(err, &fe) {
		return fe.UserMessage()
	}
	return "Could not obtain a session credential"
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// safeClose runs fn, converting a panic into an error so one resource cannot
// block the release of the others.
func safeClose(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close %s: panic: %v", what, r)
		}
	}()
	if cerr := fn(); cerr != nil {
		return fmt.Errorf("close %s: %w", what, cerr)
	}
	return nil
}
