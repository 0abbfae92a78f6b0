package transport

import (
	"sync"

	"github.com/AltairaLabs/rtsession/runtime/logger"
)

const stateBuffer = 16

// StateFeed is the States channel of a Conn. Transitions are delivered in
// order and never block the transport's callbacks; when the reader falls
// behind, the newest state is dropped and logged.
type StateFeed struct {
	mu     sync.Mutex
	ch     chan ConnState
	last   ConnState
	closed bool
}

// NewStateFeed creates a feed in StateNew.
func NewStateFeed() *StateFeed {
	return &StateFeed{ch: make(chan ConnState, stateBuffer), last: StateNew}
}

// C returns the receive side.
func (f *StateFeed) C() <-chan ConnState { return f.ch }

// Last returns the most recent state.
func (f *StateFeed) Last() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Set records a transition. Repeated states are collapsed.
func (f *StateFeed) Set(s ConnState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || s == f.last {
		return
	}
	f.last = s
	select {
	case f.ch <- s:
	default:
		logger.Warn("transport: state feed full, dropping transition", "state", s)
	}
}

// Close delivers StateClosed if not already terminal and closes the channel.
func (f *StateFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if !f.last.Terminal() {
		f.last = StateClosed
		select {
		case f.ch <- StateClosed:
		default:
		}
	}
	f.closed = true
	close(f.ch)
}
