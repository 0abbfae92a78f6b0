package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/rtsession/runtime/events"
)

// Span names.
const (
	SessionSpanName = "rtsession.session"
	toolSpanPrefix  = "rtsession.tool."
)

// spanEntry tracks an in-flight span.
type spanEntry struct {
	span trace.Span
}

// sessionState tracks the root span for a session.
type sessionState struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// OTelEventListener converts session events into OTel spans in real time.
// Each session gets a root span; tool calls become child spans and the
// remaining lifecycle events are recorded as span events on the root.
// It is safe for concurrent use.
type OTelEventListener struct {
	tracer trace.Tracer

	mu       sync.Mutex
	sessions map[string]*sessionState // sessionID → root span + ctx
	inflight map[string]*spanEntry    // "tool:<callID>" → span
}

// NewOTelEventListener creates a listener that creates OTel spans from session events.
func NewOTelEventListener(tracer trace.Tracer) *OTelEventListener {
	return &OTelEventListener{
		tracer:   tracer,
		sessions: make(map[string]*sessionState),
		inflight: make(map[string]*spanEntry),
	}
}

// StartSession creates a root span for the given session, optionally parented
// under the span context in parentCtx.
func (l *OTelEventListener) StartSession(parentCtx context.Context, sessionID string) {
	ctx, span := l.tracer.Start(parentCtx, SessionSpanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	l.mu.Lock()
	l.sessions[sessionID] = &sessionState{span: span, ctx: ctx}
	l.mu.Unlock()
}

// EndSession ends the root span for the given session along with any tool
// spans still in flight.
func (l *OTelEventListener) EndSession(sessionID string) {
	l.mu.Lock()
	ss, ok := l.sessions[sessionID]
	if ok {
		delete(l.sessions, sessionID)
	}
	orphans := l.inflight
	l.inflight = make(map[string]*spanEntry)
	l.mu.Unlock()

	for _, entry := range orphans {
		entry.span.SetStatus(codes.Error, "session ended")
		entry.span.End()
	}
	if ok {
		ss.span.End()
	}
}

// OnEvent handles a single session event. It can be passed to EventBus.SubscribeAll.
func (l *OTelEventListener) OnEvent(evt *events.Event) {
	if evt == nil {
		return
	}
	//nolint:exhaustive // Only handling span-producing events
	switch data := evt.Data.(type) {
	case events.ToolCallStartedData:
		l.startTool(evt.SessionID, data)
	case events.ToolCallCompletedData:
		l.endSpan("tool:"+data.CallID,
			attribute.Int64("tool.duration_ms", data.Duration.Milliseconds()),
		)
	case events.ToolCallFailedData:
		l.failSpan("tool:"+data.CallID, errText(data.Error),
			attribute.Int64("tool.duration_ms", data.Duration.Milliseconds()),
		)
	case events.StateChangedData:
		l.addEvent(evt.SessionID, "state_changed",
			attribute.String("state.from", data.From),
			attribute.String("state.to", data.To),
			attribute.String("state.reason", data.Reason),
		)
		l.markRoot(evt.SessionID, data.To)
	case events.ModalityChangedData:
		l.addEvent(evt.SessionID, "modality_changed",
			attribute.String("modality.from", data.From),
			attribute.String("modality.to", data.To),
		)
	case events.RetryScheduledData:
		l.addEvent(evt.SessionID, "retry_scheduled",
			attribute.Int("retry.attempt", data.Attempt),
			attribute.Int64("retry.delay_ms", data.Delay.Milliseconds()),
		)
	case events.NegotiationCompletedData:
		l.addEvent(evt.SessionID, "negotiation_completed",
			attribute.String("transport", data.Transport),
			attribute.Int("negotiation.attempt", data.Attempt),
			attribute.Int64("negotiation.duration_ms", data.Duration.Milliseconds()),
		)
	case events.NegotiationFailedData:
		l.addEvent(evt.SessionID, "negotiation_failed",
			attribute.String("transport", data.Transport),
			attribute.Int("negotiation.attempt", data.Attempt),
			attribute.String("negotiation.phase", data.Phase),
			attribute.String("error", errText(data.Error)),
		)
	case events.CredentialFailedData:
		l.addEvent(evt.SessionID, "credential_failed",
			attribute.String("credential.modality", data.Modality),
			attribute.String("credential.reason", data.Reason),
		)
	case events.ServerErrorData:
		l.addEvent(evt.SessionID, "server_error",
			attribute.String("error.type", data.Type),
			attribute.String("error.code", data.Code),
			attribute.String("error.message", data.Message),
		)
	case events.ParseErrorData:
		l.addEvent(evt.SessionID, "parse_error",
			attribute.String("error", errText(data.Error)),
		)
	}
}

// Listener returns OnEvent as an events.Listener.
func (l *OTelEventListener) Listener() events.Listener {
	return l.OnEvent
}

func (l *OTelEventListener) root(sessionID string) (*sessionState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ss, ok := l.sessions[sessionID]
	return ss, ok
}

// sessionCtx returns the context for the session (to parent child spans).
// Falls back to context.Background() if the session is unknown.
func (l *OTelEventListener) sessionCtx(sessionID string) context.Context {
	if ss, ok := l.root(sessionID); ok {
		return ss.ctx
	}
	return context.Background()
}

func (l *OTelEventListener) addEvent(sessionID, name string, attrs ...attribute.KeyValue) {
	if ss, ok := l.root(sessionID); ok {
		ss.span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// markRoot records a terminal failure on the root span. A later recovery
// (manual restart) resets it.
func (l *OTelEventListener) markRoot(sessionID, state string) {
	ss, ok := l.root(sessionID)
	if !ok {
		return
	}
	switch state {
	case "failed":
		ss.span.SetStatus(codes.Error, "connection failed")
	case "connected":
		ss.span.SetStatus(codes.Ok, "")
	}
}

func (l *OTelEventListener) startTool(sessionID string, data events.ToolCallStartedData) {
	_, span := l.tracer.Start(l.sessionCtx(sessionID), toolSpanPrefix+data.ToolName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool.name", data.ToolName),
			attribute.String("tool.call_id", data.CallID),
		),
	)
	l.mu.Lock()
	l.inflight["tool:"+data.CallID] = &spanEntry{span: span}
	l.mu.Unlock()
}

func (l *OTelEventListener) take(key string) (*spanEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.inflight[key]
	if ok {
		delete(l.inflight, key)
	}
	return entry, ok
}

// endSpan ends an inflight span with an OK status.
func (l *OTelEventListener) endSpan(key string, attrs ...attribute.KeyValue) {
	entry, ok := l.take(key)
	if !ok {
		return
	}
	entry.span.SetAttributes(attrs...)
	entry.span.SetStatus(codes.Ok, "")
	entry.span.End()
}

// failSpan ends an inflight span with an error status.
func (l *OTelEventListener) failSpan(key, errMsg string, attrs ...attribute.KeyValue) {
	entry, ok := l.take(key)
	if !ok {
		return
	}
	entry.span.SetAttributes(attrs...)
	entry.span.SetStatus(codes.Error, errMsg)
	entry.span.End()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
