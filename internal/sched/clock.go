package sched

import "time"

// Clock is the "Timer (in)" collaborator of SPEC_FULL.md §6: timestamp_ns().
// Scheduler code never calls time.Now directly so tests can substitute a
// deterministic clock.
type Clock interface {
	NowNS() int64
}

type realClock struct{}

func (realClock) NowNS() int64 { return time.Now().UnixNano() }

// RealClock is the production Clock, backed by the wall clock
// (time.Now().UnixNano, which carries no monotonic reading).
var RealClock Clock = realClock{}
