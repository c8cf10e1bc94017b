package sched

// RegisterFrame is an opaque saved-register-file handle threaded between
// IRQ entry/exit and Arch.VCPUSwitch. The scheduler core never inspects
// it; only an Arch implementation knows its concrete shape.
type RegisterFrame any

// Arch is the architecture glue named in SPEC_FULL.md §4.5/C5: the parts of
// a real switch that genuinely require hardware access (saving/restoring a
// register file, disabling interrupts, blocking for the next one). A host
// build supplies a real implementation; internal/sched/simarch supplies a
// deterministic test double. Orchestration that doesn't need hardware
// access (synchronous orphan preemption, force_resched) stays in Scheduler
// itself rather than behind this interface — see (*Scheduler).selfYield and
// (*Manager).postTransitionPreempt.
type Arch interface {
	// VCPUSwitch saves prev's register file from regs (if prev != nil) and
	// loads next's. prev is nil only on a hCPU's first-ever switch.
	VCPUSwitch(prev, next *VCPU, regs RegisterFrame)

	// IRQSave disables local interrupts and returns a token that restores
	// the previous state when passed to IRQRestore.
	IRQSave() uint64
	// IRQRestore restores the interrupt state captured by a prior IRQSave.
	IRQRestore(flags uint64)
	// WaitForIRQ blocks hcpu's calling goroutine until the next interrupt.
	// force_resched does not wake it; that goes through the IPI bus. Used
	// exclusively by the idle orphan's body. Arch is a single instance
	// shared by every hCPU, so unlike the other methods here it takes an
	// explicit hcpu — there is no ambient "current CPU" in a goroutine.
	WaitForIRQ(hcpu HCPU)
}
