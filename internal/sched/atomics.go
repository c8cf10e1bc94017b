package sched

import "gvisor.dev/gvisor/pkg/atomicbitops"

// stateBox, resumeBox and preemptBox wrap gVisor's atomicbitops types
// (already a transitive dependency of the teacher repo, used directly here
// instead of bare sync/atomic) for the three fields SPEC_FULL.md calls out
// as lock-free: VCPU.state, VCPU.resume_count and VCPU.preempt_count. Using
// a named wrapper type keeps call sites self-documenting — a bare int32
// field is easy to touch non-atomically by accident, which is exactly the
// failure mode these types exist to rule out.
type stateBox struct{ v atomicbitops.Int32 }

func (b *stateBox) load() State     { return State(b.v.Load()) }
func (b *stateBox) store(s State)   { b.v.Store(int32(s)) }

type resumeBox struct{ v atomicbitops.Int32 }

// add applies delta and returns the new value.
func (b *resumeBox) add(delta int32) int32 { return b.v.Add(delta) }
func (b *resumeBox) store(val int32)       { b.v.Store(val) }
func (b *resumeBox) load() int32           { return b.v.Load() }

type preemptBox struct{ v atomicbitops.Int32 }

func (b *preemptBox) add(delta int32) int32 { return b.v.Add(delta) }
func (b *preemptBox) load() int32           { return b.v.Load() }
