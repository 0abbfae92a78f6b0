package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventBusPublishesToSpecificAndGlobalListeners(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Close()

	var mu sync.Mutex
	var received []EventType

	bus.Subscribe(EventStateChanged, func(e *Event) {
		mu.Lock()
		received = append(received, e.Type)
		mu.Unlock()
	})
	bus.SubscribeAll(func(e *Event) {
		mu.Lock()
		received = append(received, e.Type)
		mu.Unlock()
	})

	bus.Publish(&Event{Type: EventStateChanged, Data: StateChangedData{From: "idle", To: "connecting"}})
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(received))
	}
}

func TestEventBusDeliversInPublishOrder(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Close()

	var got []string
	bus.Subscribe(EventStateChanged, func(e *Event) {
		got = append(got, e.Data.(StateChangedData).To)
	})

	states := []string{"connecting", "connected", "reconnecting", "connected", "disconnected", "idle"}
	for _, s := range states {
		bus.Publish(&Event{Type: EventStateChanged, Data: StateChangedData{To: s}})
	}
	bus.Flush()

	if len(got) != len(states) {
		t.Fatalf("expected %d events, got %d", len(states), len(got))
	}
	for i := range states {
		if got[i] != states[i] {
			t.Fatalf("event %d: got %q, want %q", i, got[i], states[i])
		}
	}
}

func TestEventBusRecoversFromPanic(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Close()

	var fired atomic.Bool
	bus.Subscribe(EventToolCallFailed, func(*Event) {
		panic("listener panic")
	})
	bus.Subscribe(EventToolCallFailed, func(*Event) {
		fired.Store(true)
	})

	bus.Publish(&Event{Type: EventToolCallFailed})
	bus.Flush()

	if !fired.Load() {
		t.Fatal("listener after panic did not fire")
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Close()

	var specific, global atomic.Int32
	unsubSpecific := bus.Subscribe(EventGateUpdated, func(*Event) { specific.Add(1) })
	unsubGlobal := bus.SubscribeAll(func(*Event) { global.Add(1) })

	bus.Publish(&Event{Type: EventGateUpdated})
	bus.Flush()

	unsubSpecific()
	unsubGlobal()
	bus.Publish(&Event{Type: EventGateUpdated})
	bus.Flush()

	if specific.Load() != 1 || global.Load() != 1 {
		t.Fatalf("expected one delivery each, got specific=%d global=%d", specific.Load(), global.Load())
	}
}

func TestEventBusCloseDrainsAndDropsLater(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()

	var count atomic.Int32
	bus.SubscribeAll(func(*Event) {
		time.Sleep(time.Millisecond)
		count.Add(1)
	})

	for i := 0; i < 5; i++ {
		bus.Publish(&Event{Type: EventConversationUpdated})
	}
	bus.Close()

	if got := count.Load(); got != 5 {
		t.Fatalf("expected queued events to drain on close, got %d", got)
	}

	bus.Publish(&Event{Type: EventConversationUpdated})
	bus.Flush()
	bus.Close()
	if got := count.Load(); got != 5 {
		t.Fatalf("event published after close was delivered")
	}
}

func TestEventBusClear(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Close()

	var count atomic.Int32
	bus.SubscribeAll(func(*Event) { count.Add(1) })
	bus.Clear()

	bus.Publish(&Event{Type: EventStatusMessage})
	bus.Flush()

	if count.Load() != 0 {
		t.Fatal("listener survived Clear")
	}
}
