package sched

// idleEntry is the body given to every hCPU's idle orphan (SPEC_FULL.md
// §4.2.5): while nothing else at MIN priority wants the CPU, wait for
// the next interrupt rather than spin, then yield so the scheduler gets
// a chance to pick something more deserving.
//
// MIN priority is reserved for idle by construction (Manager never lets
// a caller create a normal or non-idle orphan at MinPriority), so
// rq.Length(MinPriority) observed from inside idle's own body is always
// the count of *other* MIN-priority runnables, which in a well-formed
// setup is always zero — idle waits for an IRQ on essentially every
// iteration.
func idleEntry(v *VCPU) {
	sch := v.mgr.schedulerFor(v.hcpu)
	for {
		if sch.rqLength(v.mgr.minPriority) == 0 {
			v.mgr.arch.WaitForIRQ(v.hcpu)
		}
		sch.selfYield(v)
	}
}

func (s *Scheduler) rqLength(priority int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rq.Length(priority)
}
