// Package events provides an ordered pub/sub bus for session observability.
//
// Events are delivered to listeners on a single worker goroutine in publish
// order, so a listener that renders state sees transitions in the sequence the
// session produced them.
package events

import (
	"sync"

	"github.com/AltairaLabs/rtsession/runtime/logger"
)

// Listener is a function that handles events.
type Listener func(*Event)

type subscription struct {
	id       uint64
	listener Listener
}

// EventBus manages event distribution to listeners.
type EventBus struct {
	mu              sync.RWMutex
	listeners       map[EventType][]subscription
	globalListeners []subscription
	nextID          uint64

	qmu     sync.Mutex
	queue   []*Event
	wake    chan struct{}
	closed  bool
	stopped chan struct{}
}

// NewEventBus creates a new event bus and starts its delivery worker.
func NewEventBus() *EventBus {
	eb := &EventBus{
		listeners: make(map[EventType][]subscription),
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	go eb.run()
	return eb
}

// Subscribe registers a listener for a specific event type.
// The returned function removes the listener.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.listeners[eventType] = append(eb.listeners[eventType], subscription{id: id, listener: listener})
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.listeners[eventType] = without(eb.listeners[eventType], id)
	}
}

// SubscribeAll registers a listener for all event types.
// The returned function removes the listener.
func (eb *EventBus) SubscribeAll(listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.globalListeners = append(eb.globalListeners, subscription{id: id, listener: listener})
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.globalListeners = without(eb.globalListeners, id)
	}
}

func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish queues an event for delivery. It never blocks on listeners.
// Events published after Close are dropped.
func (eb *EventBus) Publish(event *Event) {
	if eb == nil || event == nil {
		return
	}
	eb.qmu.Lock()
	if eb.closed {
		eb.qmu.Unlock()
		return
	}
	eb.queue = append(eb.queue, event)
	eb.qmu.Unlock()

	select {
	case eb.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every event published before the call has been delivered.
func (eb *EventBus) Flush() {
	done := make(chan struct{})
	eb.qmu.Lock()
	if eb.closed {
		eb.qmu.Unlock()
		return
	}
	eb.queue = append(eb.queue, &Event{Type: eventFlush, flushed: done})
	eb.qmu.Unlock()

	select {
	case eb.wake <- struct{}{}:
	default:
	}
	select {
	case <-done:
	case <-eb.stopped:
	}
}

// Close delivers any queued events, then stops the worker.
func (eb *EventBus) Close() {
	eb.qmu.Lock()
	if eb.closed {
		eb.qmu.Unlock()
		<-eb.stopped
		return
	}
	eb.closed = true
	eb.qmu.Unlock()

	select {
	case eb.wake <- struct{}{}:
	default:
	}
	<-eb.stopped
}

// Clear removes all listeners (primarily for tests).
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]subscription)
	eb.globalListeners = nil
}

func (eb *EventBus) run() {
	defer close(eb.stopped)
	for {
		eb.qmu.Lock()
		batch := eb.queue
		eb.queue = nil
		closed := eb.closed
		eb.qmu.Unlock()

		for _, event := range batch {
			eb.deliver(event)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-eb.wake
	}
}

func (eb *EventBus) deliver(event *Event) {
	if event.Type == eventFlush {
		close(event.flushed)
		return
	}

	eb.mu.RLock()
	specific := append([]subscription(nil), eb.listeners[event.Type]...)
	global := append([]subscription(nil), eb.globalListeners...)
	eb.mu.RUnlock()

	for _, s := range specific {
		safeInvoke(s.listener, event)
	}
	for _, s := range global {
		safeInvoke(s.listener, event)
	}
}

func safeInvoke(listener Listener, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("event listener panicked", "event", event.Type, "panic", r)
		}
	}()
	listener(event)
}
