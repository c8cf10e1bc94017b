package sched

// IRQEnter and IRQExit implement SPEC_FULL.md §4.2.3: bracket host IRQ
// handling so the scheduler can (a) attribute time spent servicing a
// hardware trap to irq_process_ns rather than the interrupted VCPU's
// running_ns, and (b) defer a switch requested mid-handler
// (yield_on_irq_exit) until the handler has actually finished, instead
// of re-entering doSwitch while a chip's ack/eoi sequence is still in
// flight.
//
// fromVCPUContext mirrors the original's vcpu_context: true means a
// normal VCPU's own running context was interrupted directly (the
// ordinary hardware-trap-hits-a-running-guest case), which does not
// open a nested irq_context window and does not start the
// irq_process_ns clock. false means the hCPU was already executing
// hypervisor code — an orphan, a nested IRQ, or (as Scheduler.onTick
// models it) the periodic tick itself — and it's that case
// whose duration gets timed and folded into irq_process_ns at the
// matching IRQExit.
func (s *Scheduler) IRQEnter(regs RegisterFrame, fromVCPUContext bool) {
	s.mu.Lock()
	if fromVCPUContext {
		s.irqContext = false
	} else {
		s.irqContext = true
		s.irqEnterTstamp = s.mgr.clock.NowNS()
	}
	s.irqRegs = regs
	s.yieldOnIRQExit = false
	s.mu.Unlock()
}

func (s *Scheduler) IRQExit(regs RegisterFrame) {
	now := s.mgr.clock.NowNS()

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	needSwitch := s.current.State() != StateRunning || s.yieldOnIRQExit
	s.yieldOnIRQExit = false
	s.mu.Unlock()

	if needSwitch {
		s.doSwitch(regs)
	}

	s.mu.Lock()
	if s.irqContext {
		if elapsed := now - s.irqEnterTstamp; elapsed > 0 {
			s.irqProcessNS += elapsed
		}
	}
	s.irqContext = false
	s.irqRegs = nil
	s.mu.Unlock()
}

// requestYieldOnIRQExit is called by postTransitionPreempt when a
// transition needs to preempt the VCPU currently RUNNING on hcpu, but
// that hCPU is itself mid-IRQ (irqContext true): rather than switching
// out from under the handler, it's deferred to the matching IRQExit.
func (s *Scheduler) requestYieldOnIRQExit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.irqContext {
		return false
	}
	s.yieldOnIRQExit = true
	return true
}

func (s *Scheduler) inIRQContext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.irqContext
}
