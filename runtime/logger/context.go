package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// Values stored under these keys are added to every record logged with the context.
const (
	// ContextKeySessionID identifies the realtime session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyAttempt identifies the negotiation attempt within a session.
	ContextKeyAttempt contextKey = "attempt"

	// ContextKeyModality is the session's modality when the record was logged.
	ContextKeyModality contextKey = "modality"

	// ContextKeyTransport names the transport in use (webrtc, websocket).
	ContextKeyTransport contextKey = "transport"

	// ContextKeyCallID identifies a tool call.
	ContextKeyCallID contextKey = "call_id"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyAttempt,
	ContextKeyModality,
	ContextKeyTransport,
	ContextKeyCallID,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithAttempt returns a new context with the attempt identifier set.
func WithAttempt(ctx context.Context, attempt string) context.Context {
	return context.WithValue(ctx, ContextKeyAttempt, attempt)
}

// WithModality returns a new context with the modality set.
func WithModality(ctx context.Context, modality string) context.Context {
	return context.WithValue(ctx, ContextKeyModality, modality)
}

// WithTransport returns a new context with the transport name set.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, ContextKeyTransport, transport)
}

// WithCallID returns a new context with the tool call ID set.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, ContextKeyCallID, callID)
}

// LoggingFields holds all standard logging context fields.
type LoggingFields struct {
	SessionID string
	Attempt   string
	Modality  string
	Transport string
	CallID    string
}

// WithLoggingContext returns a new context with every non-empty field set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.SessionID != "" {
		ctx = WithSessionID(ctx, fields.SessionID)
	}
	if fields.Attempt != "" {
		ctx = WithAttempt(ctx, fields.Attempt)
	}
	if fields.Modality != "" {
		ctx = WithModality(ctx, fields.Modality)
	}
	if fields.Transport != "" {
		ctx = WithTransport(ctx, fields.Transport)
	}
	if fields.CallID != "" {
		ctx = WithCallID(ctx, fields.CallID)
	}
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	fields := LoggingFields{}
	fields.SessionID, _ = ctx.Value(ContextKeySessionID).(string)
	fields.Attempt, _ = ctx.Value(ContextKeyAttempt).(string)
	fields.Modality, _ = ctx.Value(ContextKeyModality).(string)
	fields.Transport, _ = ctx.Value(ContextKeyTransport).(string)
	fields.CallID, _ = ctx.Value(ContextKeyCallID).(string)
	return fields
}
