package events

import "time"

// Emitter publishes events stamped with a session ID.
// A nil Emitter, or one without a bus, drops everything.
type Emitter struct {
	bus       *EventBus
	sessionID string
	now       func() time.Time
}

// NewEmitter creates a new event emitter.
func NewEmitter(bus *EventBus, sessionID string) *Emitter {
	return &Emitter{bus: bus, sessionID: sessionID, now: time.Now}
}

// Bus returns the underlying bus.
func (e *Emitter) Bus() *EventBus {
	if e == nil {
		return nil
	}
	return e.bus
}

func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.Publish(&Event{
		Type:      eventType,
		Timestamp: e.now(),
		SessionID: e.sessionID,
		Data:      data,
	})
}

// StateChanged emits the session.state_changed event.
func (e *Emitter) StateChanged(from, to, reason string) {
	e.emit(EventStateChanged, StateChangedData{From: from, To: to, Reason: reason})
}

// ModalityChanged emits the session.modality_changed event.
func (e *Emitter) ModalityChanged(from, to string) {
	e.emit(EventModalityChanged, ModalityChangedData{From: from, To: to})
}

// StatusMessage emits a user-facing notice.
func (e *Emitter) StatusMessage(text string) {
	e.emit(EventStatusMessage, StatusMessageData{Text: text})
}

// RetryScheduled emits the session.retry_scheduled event.
func (e *Emitter) RetryScheduled(attempt int, delay time.Duration) {
	e.emit(EventRetryScheduled, RetryScheduledData{Attempt: attempt, Delay: delay})
}

// ConversationUpdated emits the conversation.updated event.
func (e *Emitter) ConversationUpdated(msg MessageData) {
	e.emit(EventConversationUpdated, ConversationUpdatedData{Message: msg})
}

// ConversationRemoved emits a conversation.updated event for a discarded entry.
func (e *Emitter) ConversationRemoved(msg MessageData) {
	e.emit(EventConversationUpdated, ConversationUpdatedData{Message: msg, Removed: true})
}

// GateUpdated emits the gate.updated event.
func (e *Emitter) GateUpdated(data GateUpdatedData) {
	e.emit(EventGateUpdated, data)
}

// CredentialFetched emits the credential.fetched event.
func (e *Emitter) CredentialFetched(modality string, cached bool, duration time.Duration) {
	e.emit(EventCredentialFetched, CredentialFetchedData{Modality: modality, Cached: cached, Duration: duration})
}

// CredentialFailed emits the credential.failed event.
func (e *Emitter) CredentialFailed(modality, reason string, err error) {
	e.emit(EventCredentialFailed, CredentialFailedData{Modality: modality, Reason: reason, Error: err})
}

// NegotiationStarted emits the negotiation.started event.
func (e *Emitter) NegotiationStarted(transport string, attempt int) {
	e.emit(EventNegotiationStarted, NegotiationStartedData{Transport: transport, Attempt: attempt})
}

// NegotiationCompleted emits the negotiation.completed event.
func (e *Emitter) NegotiationCompleted(transport string, attempt int, duration time.Duration) {
	e.emit(EventNegotiationCompleted, NegotiationCompletedData{
		Transport: transport,
		Attempt:   attempt,
		Duration:  duration,
	})
}

// NegotiationFailed emits the negotiation.failed event.
func (e *Emitter) NegotiationFailed(transport string, attempt int, phase string, duration time.Duration, err error) {
	e.emit(EventNegotiationFailed, NegotiationFailedData{
		Transport: transport,
		Attempt:   attempt,
		Phase:     phase,
		Duration:  duration,
		Error:     err,
	})
}

// ToolCallStarted emits the tool.call.started event.
func (e *Emitter) ToolCallStarted(toolName, callID string) {
	e.emit(EventToolCallStarted, ToolCallStartedData{ToolName: toolName, CallID: callID})
}

// ToolCallCompleted emits the tool.call.completed event.
func (e *Emitter) ToolCallCompleted(toolName, callID string, duration time.Duration) {
	e.emit(EventToolCallCompleted, ToolCallCompletedData{ToolName: toolName, CallID: callID, Duration: duration})
}

// ToolCallFailed emits the tool.call.failed event.
func (e *Emitter) ToolCallFailed(toolName, callID string, duration time.Duration, err error) {
	e.emit(EventToolCallFailed, ToolCallFailedData{ToolName: toolName, CallID: callID, Duration: duration, Error: err})
}

// ServerError emits the protocol.server_error event.
func (e *Emitter) ServerError(errType, code, message, eventID string) {
	e.emit(EventServerError, ServerErrorData{Type: errType, Code: code, Message: message, EventID: eventID})
}

// ParseError emits the protocol.parse_error event.
func (e *Emitter) ParseError(raw string, err error) {
	e.emit(EventParseError, ParseErrorData{Raw: raw, Error: err})
}
