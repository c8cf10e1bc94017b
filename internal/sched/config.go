package sched

import "time"

// Compile-time configuration constants (SPEC_FULL.md §6). Call sites that
// need a different CPU count or priority range (tests, in particular) pass
// explicit values to Manager's constructor instead of overriding these.
const (
	// MinPriority is reserved for the idle orphan; exactly one VCPU per
	// hCPU runs at this priority.
	MinPriority = 0
	MaxPriority = 7

	// DefaultCPUCount is the number of hCPUs a default Manager manages.
	DefaultCPUCount = 4

	// IdleTimeSlice is the idle orphan's fixed time_slice/deadline/periodicity.
	IdleTimeSlice = 1 * time.Second

	// DefaultSamplePeriod is the default idle/IRQ accounting sample window.
	DefaultSamplePeriod = 1 * time.Second
)
