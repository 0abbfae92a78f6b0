package testutil

import (
	"sync"

	"github.com/AltairaLabs/rtsession/runtime/events"
)

// EventLog records bus events. Record is safe to pass to Subscribe.
type EventLog struct {
	mu     sync.Mutex
	events []*events.Event
}

// Record appends e.
func (l *EventLog) Record(e *events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// All returns a copy of every recorded event in arrival order.
func (l *EventLog) All() []*events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*events.Event(nil), l.events...)
}

// OfType returns the recorded events of type t.
func (l *EventLog) OfType(t events.EventType) []*events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*events.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the recorded event types, filtered to keep when any are given.
func (l *EventLog) Types(keep ...events.EventType) []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.EventType
	for _, e := range l.events {
		if len(keep) == 0 || contains(keep, e.Type) {
			out = append(out, e.Type)
		}
	}
	return out
}

func contains(types []events.EventType, t events.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
