package sched

import "sync/atomic"

// fakeClock is a deterministic, monotonically-increasing Clock for
// tests: each NowNS call advances by a fixed step so accounting math
// never depends on wall-clock timing.
type fakeClock struct {
	v atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.v.Store(1)
	return c
}

func (c *fakeClock) NowNS() int64 { return c.v.Add(1000) }
