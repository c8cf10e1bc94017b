// Package timerevent provides a restartable one-shot timer, the Go
// stand-in for SPEC_FULL.md C5's hardware "ev" / "sample_ev" one-shot
// timer events (armed with a relative duration, firing exactly once per
// arm, rearmed explicitly by the caller rather than ticking on its own).
package timerevent

import (
	"sync"
	"time"
)

// Event wraps time.AfterFunc so call sites can Start/Restart without
// worrying about nil timers or re-arming a still-pending one.
type Event struct {
	mu   sync.Mutex
	fn   func()
	t    *time.Timer
	last time.Duration
}

// New returns an Event that invokes fn (on its own goroutine, per
// time.AfterFunc) each time it fires. The event is not armed until the
// first Start.
func New(fn func()) *Event {
	return &Event{fn: fn}
}

// Start (re)arms the event to fire after d, replacing any pending fire.
func (e *Event) Start(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = d
	if e.t == nil {
		e.t = time.AfterFunc(d, e.fn)
		return
	}
	e.t.Reset(d)
}

// Restart re-arms the event for the same duration passed to the last
// Start, used by the tick handler's "preempt_count>0, reschedule later"
// path where the caller doesn't want to recompute a fresh slice.
func (e *Event) Restart() {
	e.mu.Lock()
	d := e.last
	e.mu.Unlock()
	if d > 0 {
		e.Start(d)
	}
}

// Stop disarms the event. A fire already in flight still runs.
func (e *Event) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.t != nil {
		e.t.Stop()
	}
}
