package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/AltairaLabs/rtsession/pkg/errors"
)

// Server event types handled by the Router.
const (
	TypeError                  = "error"
	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeSpeechStopped          = "input_audio_buffer.speech_stopped"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"
	TypeTextDelta              = "response.text.delta"
	TypeTextDone               = "response.text.done"
	TypeTranscriptDelta        = "response.audio_transcript.delta"
	TypeTranscriptDone         = "response.audio_transcript.done"
	TypeAudioDelta             = "response.audio.delta"
	TypeFunctionCallDone       = "response.function_call_arguments.done"
	TypeResponseDone           = "response.done"
	TypeRateLimitsUpdated      = "rate_limits.updated"
)

// ServerEvent is the common part of every inbound event.
type ServerEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// Kind returns the event type.
func (e *ServerEvent) Kind() string { return e.Type }

// Inbound is implemented by every parsed server event.
type Inbound interface {
	Kind() string
}

// ErrorDetail describes a server-side error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// ErrorEvent reports a server-side error. It does not end the session.
type ErrorEvent struct {
	ServerEvent
	Error ErrorDetail `json:"error"`
}

// SessionEvent is session.created or session.updated.
type SessionEvent struct {
	ServerEvent
	Session struct {
		ID         string   `json:"id"`
		Model      string   `json:"model"`
		Modalities []string `json:"modalities"`
	} `json:"session"`
}

// SpeechEvent is input_audio_buffer.speech_started or speech_stopped.
type SpeechEvent struct {
	ServerEvent
	ItemID       string `json:"item_id"`
	AudioStartMs int    `json:"audio_start_ms,omitempty"`
	AudioEndMs   int    `json:"audio_end_ms,omitempty"`
}

// TranscriptionEvent reports the outcome of transcribing the user's speech.
type TranscriptionEvent struct {
	ServerEvent
	ItemID       string       `json:"item_id"`
	ContentIndex int          `json:"content_index"`
	Transcript   string       `json:"transcript"`
	Error        *ErrorDetail `json:"error,omitempty"`
}

// DeltaEvent carries a streaming fragment of text, transcript or audio.
type DeltaEvent struct {
	ServerEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// DoneEvent closes a text or transcript stream. Text and Transcript hold the
// authoritative final content; only one is set depending on the stream.
type DoneEvent struct {
	ServerEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
	Transcript   string `json:"transcript"`
}

// Final returns the authoritative content of the stream.
func (e *DoneEvent) Final() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Transcript
}

// FunctionCallEvent asks the client to run a tool.
type FunctionCallEvent struct {
	ServerEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

// Usage reports token consumption for a response.
type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseDoneEvent marks the end of a response.
type ResponseDoneEvent struct {
	ServerEvent
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Output []Item `json:"output"`
		Usage  *Usage `json:"usage"`
	} `json:"response"`
}

// RateLimit is one entry of rate_limits.updated.
type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// RateLimitsEvent reports the remaining rate limits.
type RateLimitsEvent struct {
	ServerEvent
	RateLimits []RateLimit `json:"rate_limits"`
}

var inboundFactories = map[string]func() Inbound{
	TypeError:                  func() Inbound { return &ErrorEvent{} },
	TypeSessionCreated:         func() Inbound { return &SessionEvent{} },
	TypeSessionUpdated:         func() Inbound { return &SessionEvent{} },
	TypeSpeechStarted:          func() Inbound { return &SpeechEvent{} },
	TypeSpeechStopped:          func() Inbound { return &SpeechEvent{} },
	TypeTranscriptionCompleted: func() Inbound { return &TranscriptionEvent{} },
	TypeTranscriptionFailed:    func() Inbound { return &TranscriptionEvent{} },
	TypeTextDelta:              func() Inbound { return &DeltaEvent{} },
	TypeTextDone:               func() Inbound { return &DoneEvent{} },
	TypeTranscriptDelta:        func() Inbound { return &DeltaEvent{} },
	TypeTranscriptDone:         func() Inbound { return &DoneEvent{} },
	TypeAudioDelta:             func() Inbound { return &DeltaEvent{} },
	TypeFunctionCallDone:       func() Inbound { return &FunctionCallEvent{} },
	TypeResponseDone:           func() Inbound { return &ResponseDoneEvent{} },
	TypeRateLimitsUpdated:      func() Inbound { return &RateLimitsEvent{} },
}

// ErrMissingType is returned for messages without a "type" field.
var ErrMissingType = errors.New("event has no type")

// ParseError reports a malformed inbound message.
type ParseError struct {
	Type string
	Err  error
}

// Error implements error.
func (e *ParseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("parse server event: %v", e.Err)
	}
	return fmt.Sprintf("parse server event %s: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// ErrorKind implements errors.Kinded.
func (e *ParseError) ErrorKind() pkgerrors.Kind { return pkgerrors.KindProtocolParse }

// ParseServerEvent decodes one inbound message. Types the Router does not
// handle come back as *ServerEvent so callers can log them.
func ParseServerEvent(data []byte) (Inbound, error) {
	var base ServerEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, &ParseError{Err: err}
	}
	if base.Type == "" {
		return nil, &ParseError{Err: ErrMissingType}
	}

	factory, ok := inboundFactories[base.Type]
	if !ok {
		return &base, nil
	}
	ev := factory()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, &ParseError{Type: base.Type, Err: err}
	}
	return ev, nil
}
