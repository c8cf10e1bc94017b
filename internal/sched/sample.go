package sched

// onSample implements SPEC_FULL.md §4.2.5's periodic sampler: once per
// sample_period, compute how much of that window was spent idle versus
// servicing host IRQs, and publish the delta under sample_lock for
// Manager.Stats to read without taking any scheduler-hot-path lock.
func (s *Scheduler) onSample() {
	s.mu.Lock()
	idle := s.idle
	irqTotal := s.irqProcessNS
	s.mu.Unlock()

	var idleTotal int64
	if idle != nil {
		idleTotal = idle.Snapshot().RunningNS
	}

	s.sampleLock.Lock()
	idleDelta := idleTotal - s.sampleIdleLastNS
	irqDelta := irqTotal - s.sampleIRQLastNS
	if idleDelta < 0 {
		idleDelta = 0
	}
	if irqDelta < 0 {
		irqDelta = 0
	}
	s.sampleIdleNS = idleDelta
	s.sampleIRQNS = irqDelta
	s.sampleIdleLastNS = idleTotal
	s.sampleIRQLastNS = irqTotal
	period := s.samplePeriodNS
	s.sampleLock.Unlock()

	s.sampleEv.Start(durationNS(period))
}

// SampleWindow is the result of the last completed sample period.
type SampleWindow struct {
	IdleNS int64
	IRQNS  int64
}

// Sample returns the most recently published idle/irq window for this
// hCPU (SPEC_FULL.md's idle_time()/irq_time() accessors).
func (s *Scheduler) Sample() SampleWindow {
	s.sampleLock.RLock()
	defer s.sampleLock.RUnlock()
	return SampleWindow{IdleNS: s.sampleIdleNS, IRQNS: s.sampleIRQNS}
}

// SetSamplePeriod changes the sampling window, taking effect on the next
// fire.
func (s *Scheduler) SetSamplePeriod(ns int64) {
	s.sampleLock.Lock()
	s.samplePeriodNS = ns
	s.sampleLock.Unlock()
}
