package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEmitterStampsSessionID(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Close()
	emitter := NewEmitter(bus, "session-1")

	var got *Event
	bus.Subscribe(EventStateChanged, func(e *Event) { got = e })

	emitter.StateChanged("idle", "connecting", "start")
	bus.Flush()

	if got == nil {
		t.Fatal("no event delivered")
	}
	if got.SessionID != "session-1" || got.Timestamp.IsZero() {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	data, ok := got.Data.(StateChangedData)
	if !ok {
		t.Fatalf("unexpected data type: %T", got.Data)
	}
	if data.From != "idle" || data.To != "connecting" || data.Reason != "start" {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestEmitterPublishesVariousEvents(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Close()
	emitter := NewEmitter(bus, "session-2")

	var mu sync.Mutex
	var seen []EventType
	bus.SubscribeAll(func(e *Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	boom := errors.New("boom")
	emitter.ModalityChanged("text", "voice")
	emitter.StatusMessage("microphone unavailable")
	emitter.RetryScheduled(2, 2*time.Second)
	emitter.ConversationUpdated(MessageData{ID: "m1", Role: "assistant", Text: "hi"})
	emitter.ConversationRemoved(MessageData{ID: "m2", Role: "user"})
	emitter.GateUpdated(GateUpdatedData{Open: true})
	emitter.CredentialFetched("voice", true, 0)
	emitter.CredentialFailed("voice", "rejected", boom)
	emitter.NegotiationStarted("webrtc", 1)
	emitter.NegotiationCompleted("webrtc", 1, time.Second)
	emitter.NegotiationFailed("webrtc", 2, "exchange", time.Second, boom)
	emitter.ToolCallStarted("get_weather", "call_1")
	emitter.ToolCallCompleted("get_weather", "call_1", time.Millisecond)
	emitter.ToolCallFailed("get_weather", "call_2", time.Millisecond, boom)
	emitter.ServerError("invalid_request_error", "bad_event", "unknown event", "evt_1")
	emitter.ParseError("{", boom)
	bus.Flush()

	want := []EventType{
		EventModalityChanged, EventStatusMessage, EventRetryScheduled,
		EventConversationUpdated, EventConversationUpdated, EventGateUpdated,
		EventCredentialFetched, EventCredentialFailed,
		EventNegotiationStarted, EventNegotiationCompleted, EventNegotiationFailed,
		EventToolCallStarted, EventToolCallCompleted, EventToolCallFailed,
		EventServerError, EventParseError,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestNilEmitterIsNoop(t *testing.T) {
	t.Parallel()

	var emitter *Emitter
	emitter.StateChanged("a", "b", "c")
	emitter.ParseError("x", nil)
	if emitter.Bus() != nil {
		t.Fatal("nil emitter returned a bus")
	}

	NewEmitter(nil, "s").StatusMessage("dropped")
}
