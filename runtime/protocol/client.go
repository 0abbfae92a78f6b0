// Package protocol implements the realtime control-channel protocol: the
// client and server event shapes, the conversation log, and the Router that
// turns inbound events into conversation state and tool calls.
package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/AltairaLabs/rtsession/runtime/tools"
)

// Client event types.
const (
	TypeSessionUpdate     = "session.update"
	TypeItemCreate        = "conversation.item.create"
	TypeResponseCreate    = "response.create"
	TypeResponseCancel    = "response.cancel"
	TypeAudioBufferAppend = "input_audio_buffer.append"
)

// Item types and content parts used in conversation items.
const (
	ItemMessage            = "message"
	ItemFunctionCallOutput = "function_call_output"
	ContentInputText       = "input_text"
)

// Header is embedded in every client event.
type Header struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func (h *Header) header() *Header { return h }

// ClientEvent is any event sent to the remote service.
type ClientEvent interface {
	header() *Header
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

// Transcription configures transcription of the user's audio.
type Transcription struct {
	Model string `json:"model"`
}

// SessionConfig is the body of session.update.
// TurnDetection has no omitempty: an explicit null disables server VAD.
type SessionConfig struct {
	Modalities              []string           `json:"modalities,omitempty"`
	Instructions            string             `json:"instructions,omitempty"`
	Voice                   string             `json:"voice,omitempty"`
	InputAudioFormat        string             `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string             `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription     `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection     `json:"turn_detection"`
	Tools                   []tools.Definition `json:"tools,omitempty"`
	ToolChoice              string             `json:"tool_choice,omitempty"`
	Temperature             float64            `json:"temperature,omitempty"`
}

// SessionUpdate reconfigures the remote session.
type SessionUpdate struct {
	Header
	Session SessionConfig `json:"session"`
}

// Content is one part of a conversation item.
type Content struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item is a conversation item as exchanged on the wire.
type Item struct {
	ID        string    `json:"id,omitempty"`
	Type      string    `json:"type"`
	Status    string    `json:"status,omitempty"`
	Role      string    `json:"role,omitempty"`
	Content   []Content `json:"content,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	Output    string    `json:"output,omitempty"`
}

// ItemCreate adds an item to the remote conversation.
type ItemCreate struct {
	Header
	Item Item `json:"item"`
}

// ResponseCreate asks the remote party to respond.
type ResponseCreate struct {
	Header
}

// ResponseCancel cancels the response in progress.
type ResponseCancel struct {
	Header
}

// AudioBufferAppend carries base64 PCM16 audio on transports without a media path.
type AudioBufferAppend struct {
	Header
	Audio string `json:"audio"`
}

// SessionOptions are the session.update settings that do not depend on modality.
type SessionOptions struct {
	Instructions       string
	Voice              string
	AudioFormat        string
	TranscriptionModel string
	Temperature        float64
	TurnDetection      TurnDetection
}

// DefaultSessionOptions returns the defaults used when no configuration is given.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Voice:              "alloy",
		AudioFormat:        "pcm16",
		TranscriptionModel: "whisper-1",
		Temperature:        0.8,
		TurnDetection: TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
			CreateResponse:    true,
		},
	}
}

// NewSessionUpdate builds the session.update for a modality. Voice sessions
// get server VAD and input transcription; text sessions disable turn detection.
func NewSessionUpdate(opts SessionOptions, voice bool, defs []tools.Definition) *SessionUpdate {
	cfg := SessionConfig{
		Instructions: opts.Instructions,
		Tools:        defs,
		Temperature:  opts.Temperature,
	}
	if len(defs) > 0 {
		cfg.ToolChoice = "auto"
	}
	if voice {
		cfg.Modalities = []string{"text", "audio"}
		cfg.Voice = opts.Voice
		cfg.InputAudioFormat = opts.AudioFormat
		cfg.OutputAudioFormat = opts.AudioFormat
		if opts.TranscriptionModel != "" {
			cfg.InputAudioTranscription = &Transcription{Model: opts.TranscriptionModel}
		}
		td := opts.TurnDetection
		cfg.TurnDetection = &td
	} else {
		cfg.Modalities = []string{"text"}
	}
	return &SessionUpdate{Header: Header{Type: TypeSessionUpdate}, Session: cfg}
}

// NewUserText creates a user text message item.
func NewUserText(text string) *ItemCreate {
	return &ItemCreate{
		Header: Header{Type: TypeItemCreate},
		Item: Item{
			Type:    ItemMessage,
			Role:    string(RoleUser),
			Content: []Content{{Type: ContentInputText, Text: text}},
		},
	}
}

// NewFunctionOutput creates the item carrying a tool result.
func NewFunctionOutput(callID, output string) *ItemCreate {
	return &ItemCreate{
		Header: Header{Type: TypeItemCreate},
		Item:   Item{Type: ItemFunctionCallOutput, CallID: callID, Output: output},
	}
}

// NewResponseCreate creates a response.create request.
func NewResponseCreate() *ResponseCreate {
	return &ResponseCreate{Header: Header{Type: TypeResponseCreate}}
}

// NewResponseCancel creates a response.cancel request.
func NewResponseCancel() *ResponseCancel {
	return &ResponseCancel{Header: Header{Type: TypeResponseCancel}}
}

// NewAudioBufferAppend encodes little-endian PCM16 bytes into an append event.
func NewAudioBufferAppend(pcm []byte) *AudioBufferAppend {
	return &AudioBufferAppend{
		Header: Header{Type: TypeAudioBufferAppend},
		Audio:  base64.StdEncoding.EncodeToString(pcm),
	}
}

// Sender writes one serialized message to the control channel.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Outbox stamps client events with sequential IDs and sends them.
type Outbox struct {
	sender Sender
	seq    atomic.Int64
}

// NewOutbox creates an Outbox writing to sender.
func NewOutbox(sender Sender) *Outbox {
	return &Outbox{sender: sender}
}

// Send stamps ev and writes it.
func (o *Outbox) Send(ctx context.Context, ev ClientEvent) error {
	h := ev.header()
	if h.EventID == "" {
		h.EventID = fmt.Sprintf("evt_%d", o.seq.Add(1))
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", h.Type, err)
	}
	return o.sender.Send(ctx, payload)
}
