package events

import (
	"time"
)

// EventType identifies the type of event emitted by a session.
type EventType string

const (
	// EventStateChanged marks a published session state change.
	EventStateChanged EventType = "session.state_changed"
	// EventModalityChanged marks a completed modality switch.
	EventModalityChanged EventType = "session.modality_changed"
	// EventStatusMessage carries a user-facing notice (e.g. microphone unavailable).
	EventStatusMessage EventType = "session.status_message"
	// EventRetryScheduled marks a scheduled reconnection attempt.
	EventRetryScheduled EventType = "session.retry_scheduled"

	// EventConversationUpdated marks a change to the conversation log.
	EventConversationUpdated EventType = "conversation.updated"

	// EventGateUpdated carries the gate controller's latest levels and decision.
	EventGateUpdated EventType = "gate.updated"

	// EventCredentialFetched marks a credential served from the cache or the endpoint.
	EventCredentialFetched EventType = "credential.fetched"
	// EventCredentialFailed marks a failed credential fetch.
	EventCredentialFailed EventType = "credential.failed"

	// EventNegotiationStarted marks the start of a transport negotiation.
	EventNegotiationStarted EventType = "negotiation.started"
	// EventNegotiationCompleted marks a successful negotiation.
	EventNegotiationCompleted EventType = "negotiation.completed"
	// EventNegotiationFailed marks a failed or timed-out negotiation.
	EventNegotiationFailed EventType = "negotiation.failed"

	// EventToolCallStarted marks tool call start.
	EventToolCallStarted EventType = "tool.call.started"
	// EventToolCallCompleted marks tool call completion.
	EventToolCallCompleted EventType = "tool.call.completed"
	// EventToolCallFailed marks tool call failure.
	EventToolCallFailed EventType = "tool.call.failed"

	// EventServerError marks an error event sent by the remote service.
	EventServerError EventType = "protocol.server_error"
	// EventParseError marks an inbound message that could not be parsed.
	EventParseError EventType = "protocol.parse_error"

	eventFlush EventType = "bus.flush"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a session event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      EventData

	flushed chan struct{}
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// StateChangedData contains data for state change events.
type StateChangedData struct {
	baseEventData
	From   string
	To     string
	Reason string
}

// ModalityChangedData contains data for modality switch events.
type ModalityChangedData struct {
	baseEventData
	From string
	To   string
}

// StatusMessageData contains a user-facing notice.
type StatusMessageData struct {
	baseEventData
	Text string
}

// RetryScheduledData contains data for a scheduled reconnection.
type RetryScheduledData struct {
	baseEventData
	Attempt int
	Delay   time.Duration
}

// MessageData is a snapshot of one conversation entry.
type MessageData struct {
	ID        string
	Role      string
	Text      string
	ItemID    string
	Status    string
	IsFinal   bool
	Timestamp time.Time
}

// ConversationUpdatedData carries the entry that changed.
type ConversationUpdatedData struct {
	baseEventData
	Message MessageData
	Removed bool
}

// GateUpdatedData carries one gate evaluation.
type GateUpdatedData struct {
	baseEventData
	MicLevelDB        float64
	DisplayLevelDB    float64
	RemoteLevelDB     float64
	MicThresholdDB    float64
	RemoteThresholdDB float64
	Open              bool
	Enabled           bool
}

// CredentialFetchedData contains data for credential fetch events.
type CredentialFetchedData struct {
	baseEventData
	Modality string
	Cached   bool
	Duration time.Duration
}

// CredentialFailedData contains data for credential failures.
type CredentialFailedData struct {
	baseEventData
	Modality string
	Reason   string
	Error    error
}

// NegotiationStartedData contains data for negotiation start events.
type NegotiationStartedData struct {
	baseEventData
	Transport string
	Attempt   int
}

// NegotiationCompletedData contains data for successful negotiations.
type NegotiationCompletedData struct {
	baseEventData
	Transport string
	Attempt   int
	Duration  time.Duration
}

// NegotiationFailedData contains data for failed negotiations.
type NegotiationFailedData struct {
	baseEventData
	Transport string
	Attempt   int
	Phase     string
	Duration  time.Duration
	Error     error
}

// ToolCallStartedData contains data for tool call start events.
type ToolCallStartedData struct {
	baseEventData
	ToolName string
	CallID   string
}

// ToolCallCompletedData contains data for tool call completion events.
type ToolCallCompletedData struct {
	baseEventData
	ToolName string
	CallID   string
	Duration time.Duration
}

// ToolCallFailedData contains data for tool call failures.
type ToolCallFailedData struct {
	baseEventData
	ToolName string
	CallID   string
	Duration time.Duration
	Error    error
}

// ServerErrorData contains an error reported by the remote service.
type ServerErrorData struct {
	baseEventData
	Type    string
	Code    string
	Message string
	EventID string
}

// ParseErrorData contains data for unparseable inbound messages.
type ParseErrorData struct {
	baseEventData
	Raw   string
	Error error
}
