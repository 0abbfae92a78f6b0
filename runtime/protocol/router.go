package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AltairaLabs/rtsession/runtime/events"
	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/tools"
)

// maxRawInError bounds the raw payload copied into parse error events.
const maxRawInError = 256

// AudioHandler receives remote-party PCM16 audio that arrived on the control channel.
type AudioHandler func(samples []int16)

// Router interprets inbound control-channel messages. Handle is called once
// per message in arrival order; tool calls run asynchronously and their
// results are written before the follow-up response.create.
type Router struct {
	conv    *Conversation
	tools   *tools.Registry
	out     *Outbox
	emitter *events.Emitter
	audio   AudioHandler

	wg sync.WaitGroup
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithEmitter publishes tool, parse and server error events.
func WithEmitter(e *events.Emitter) RouterOption {
	return func(r *Router) { r.emitter = e }
}

// WithAudioHandler receives response.audio.delta payloads.
func WithAudioHandler(h AudioHandler) RouterOption {
	return func(r *Router) { r.audio = h }
}

// NewRouter creates a Router writing replies through out. registry may be nil.
func NewRouter(conv *Conversation, registry *tools.Registry, out *Outbox, opts ...RouterOption) *Router {
	r := &Router{conv: conv, tools: registry, out: out}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes one inbound message. A malformed message is reported and
// returned as a *ParseError; it never panics and never affects later messages.
func (r *Router) Handle(ctx context.Context, data []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ParseError{Err: fmt.Errorf("panic handling event: %v", p)}
			r.reportParseError(ctx, data, err)
		}
	}()

	ev, err := ParseServerEvent(data)
	if err != nil {
		r.reportParseError(ctx, data, err)
		return err
	}
	r.dispatch(ctx, ev)
	return nil
}

func (r *Router) reportParseError(ctx context.Context, data []byte, err error) {
	raw := string(data)
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError]
	}
	logger.WarnContext(ctx, "Realtime: dropped malformed event", "error", err, "raw", logger.RedactSensitiveData(raw))
	r.emitter.ParseError(raw, err)
}

func (r *Router) dispatch(ctx context.Context, ev Inbound) {
	switch e := ev.(type) {
	case *ErrorEvent:
		logger.WarnContext(ctx, "Realtime: server error",
			"type", e.Error.Type, "code", e.Error.Code, "message", e.Error.Message)
		r.emitter.ServerError(e.Error.Type, e.Error.Code, e.Error.Message, e.Error.EventID)
	case *SessionEvent:
		logger.DebugContext(ctx, "Realtime: "+e.Type, "remote_session", e.Session.ID, "modalities", e.Session.Modalities)
	case *SpeechEvent:
		if e.Type == TypeSpeechStarted {
			r.conv.BeginUserSpeech(e.ItemID)
		} else {
			r.conv.EndUserSpeech(e.ItemID)
		}
	case *TranscriptionEvent:
		if e.Type == TypeTranscriptionFailed {
			msg := ""
			if e.Error != nil {
				msg = e.Error.Message
			}
			logger.DebugContext(ctx, "Realtime: input transcription failed", "item_id", e.ItemID, "error", msg)
			r.conv.CompleteUserSpeech(e.ItemID, "")
			return
		}
		r.conv.CompleteUserSpeech(e.ItemID, e.Transcript)
	case *DeltaEvent:
		r.handleDelta(ctx, e)
	case *DoneEvent:
		r.conv.CompleteAssistant(e.ItemID, e.Final())
	case *ResponseDoneEvent:
		r.conv.CompleteAssistant("", "")
		if u := e.Response.Usage; u != nil {
			logger.DebugContext(ctx, "Realtime: response done",
				"status", e.Response.Status, "input_tokens", u.InputTokens, "output_tokens", u.OutputTokens)
		}
	case *FunctionCallEvent:
		r.handleFunctionCall(ctx, e)
	case *RateLimitsEvent:
		for _, rl := range e.RateLimits {
			logger.DebugContext(ctx, "Realtime: rate limit", "name", rl.Name, "remaining", rl.Remaining, "limit", rl.Limit)
		}
	default:
		logger.DebugContext(ctx, "Realtime: unhandled event", "type", ev.Kind())
	}
}

func (r *Router) handleDelta(ctx context.Context, e *DeltaEvent) {
	if e.Type != TypeAudioDelta {
		r.conv.AppendAssistantDelta(e.ItemID, e.Delta)
		return
	}
	if r.audio == nil {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		logger.DebugContext(ctx, "Realtime: bad audio delta", "error", err)
		return
	}
	samples, err := media.BytesToInt16(pcm)
	if err != nil {
		logger.DebugContext(ctx, "Realtime: bad audio delta", "error", err)
		return
	}
	r.audio(samples)
}

// handleFunctionCall runs a registered tool in the background. Calls naming
// an unregistered tool are dropped.
func (r *Router) handleFunctionCall(ctx context.Context, e *FunctionCallEvent) {
	if r.tools == nil || !r.tools.Has(e.Name) {
		logger.DebugContext(ctx, "Realtime: ignoring call to unregistered tool", "tool", e.Name, "call_id", e.CallID)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.invoke(logger.WithCallID(ctx, e.CallID), e)
	}()
}

func (r *Router) invoke(ctx context.Context, e *FunctionCallEvent) {
	r.emitter.ToolCallStarted(e.Name, e.CallID)
	start := time.Now()
	result, err := r.tools.Invoke(ctx, e.Name, e.CallID, json.RawMessage(e.Arguments))
	elapsed := time.Since(start)
	logger.ToolInvocation(ctx, e.Name, e.CallID, elapsed, err, e.Arguments)

	if errors.Is(err, tools.ErrToolNotFound) {
		// Unregistered between dispatch and invocation.
		return
	}

	var output string
	if err != nil {
		r.emitter.ToolCallFailed(e.Name, e.CallID, elapsed, err)
		output = errorOutput(err)
	} else {
		r.emitter.ToolCallCompleted(e.Name, e.CallID, elapsed)
		output, err = encodeResult(result)
		if err != nil {
			output = errorOutput(err)
		}
	}

	if err := r.out.Send(ctx, NewFunctionOutput(e.CallID, output)); err != nil {
		logger.WarnContext(ctx, "Realtime: failed to send tool output", "tool", e.Name, "error", err)
		return
	}
	if err := r.out.Send(ctx, NewResponseCreate()); err != nil {
		logger.WarnContext(ctx, "Realtime: failed to request continuation", "tool", e.Name, "error", err)
	}
}

func encodeResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "{}", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return string(v), nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(b), nil
}

func errorOutput(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

// Wait blocks until every tool call started by Handle has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}
