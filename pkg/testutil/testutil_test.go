package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AltairaLabs/rtsession/runtime/events"
)

func TestPtr(t *testing.T) {
	p := Ptr(-42.5)
	assert.Equal(t, -42.5, *p)

	a, b := Ptr(true), Ptr(true)
	assert.NotSame(t, a, b)
}

func TestEventLog(t *testing.T) {
	var log EventLog
	log.Record(&events.Event{Type: events.EventStateChanged})
	log.Record(&events.Event{Type: events.EventStatusMessage})
	log.Record(&events.Event{Type: events.EventStateChanged})

	assert.Len(t, log.All(), 3)
	assert.Len(t, log.OfType(events.EventStateChanged), 2)
	assert.Empty(t, log.OfType(events.EventParseError))
	assert.Equal(t,
		[]events.EventType{events.EventStateChanged, events.EventStatusMessage, events.EventStateChanged},
		log.Types())
	assert.Equal(t, []events.EventType{events.EventStatusMessage}, log.Types(events.EventStatusMessage))
}

func TestEventLog_Concurrent(t *testing.T) {
	var log EventLog
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Record(&events.Event{Type: events.EventGateUpdated})
		}()
	}
	wg.Wait()
	assert.Len(t, log.OfType(events.EventGateUpdated), 20)
}
