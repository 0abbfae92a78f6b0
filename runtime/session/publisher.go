package session

import (
	"sync"
	"time"
)

// statePublisher rate-limits outbound state notifications. A transition that
// lands within interval of the previous publication is held back and only the
// latest one is published when the interval elapses. Connected is always
// published immediately.
type statePublisher struct {
	interval time.Duration
	emit     func(from, to State, reason string)
	now      func() time.Time

	mu        sync.Mutex
	published State
	last      time.Time
	pending   *pendingState
	timer     *time.Timer
}

type pendingState struct {
	to     State
	reason string
}

func newStatePublisher(interval time.Duration, initial State, emit func(from, to State, reason string)) *statePublisher {
	return &statePublisher{
		interval:  interval,
		emit:      emit,
		now:       time.Now,
		published: initial,
	}
}

func (p *statePublisher) publish(to State, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	since := now.Sub(p.last)
	if to == StateConnected || p.last.IsZero() || since >= p.interval {
		p.stopTimerLocked()
		p.pending = nil
		p.emitLocked(to, reason, now)
		return
	}

	p.pending = &pendingState{to: to, reason: reason}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.interval-since, p.flush)
	}
}

func (p *statePublisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = nil
	if p.pending == nil {
		return
	}
	next := p.pending
	p.pending = nil
	p.emitLocked(next.to, next.reason, p.now())
}

// Published returns the last state delivered to listeners.
func (p *statePublisher) Published() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

func (p *statePublisher) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
	p.pending = nil
}

func (p *statePublisher) emitLocked(to State, reason string, now time.Time) {
	p.last = now
	if to == p.published {
		return
	}
	from := p.published
	p.published = to
	p.emit(from, to, reason)
}

func (p *statePublisher) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
