package sched

// SetAffinity updates v's allowed hCPU mask. If v's current hCPU is no
// longer in the mask, it is migrated to the mask's first allowed hCPU
// (SPEC_FULL.md §4.2.4).
func (m *Manager) SetAffinity(v *VCPU, a Affinity) error {
	v.schedLock.Lock()
	v.affinity = a
	cur := v.hcpu
	allowed := a.Allows(cur)
	v.schedLock.Unlock()

	if allowed {
		return nil
	}
	return m.migrate(v, firstAllowed(a, len(m.cpus)))
}

// migrate moves v from its current hCPU to dst. READY VCPUs are simply
// unlinked from the old queue and relinked on the new one under the
// declared sched_lock-before-rq_lock order. A RUNNING VCPU can't be
// moved out from under itself directly — its hcpu is set to dst and an
// asynchronous force_resched IPI is posted to src; the switch that takes
// it off src requeues it on dst.
func (m *Manager) migrate(v *VCPU, dst HCPU) error {
	if int(dst) < 0 || int(dst) >= len(m.cpus) {
		return ErrInvalid
	}

	v.schedLock.Lock()
	state := v.stateValue.load()
	src := v.hcpu

	switch state {
	case StateReady:
		m.schedulerFor(src).detachLocked(v)
		v.hcpu = dst
		sch := m.schedulerFor(dst)
		sch.enqueueLocked(v)
		v.schedLock.Unlock()
		return nil

	case StateRunning:
		v.hcpu = dst
		v.schedLock.Unlock()
		// src no longer agrees with v.hcpu; force it to reschedule away
		// from v. When v comes back around to READY (via the normal
		// doSwitch requeue path it will have already rejoined dst's
		// queue, since that requeue targets cur.hcpu as read at switch
		// time) there is nothing further to do here.
		m.schedulerFor(src).forceResched()
		return nil

	default:
		// UNKNOWN/RESET/PAUSED/HALTED: no queue membership to move.
		v.hcpu = dst
		v.schedLock.Unlock()
		return nil
	}
}

// GetHCPU returns v's current owning hCPU.
func (m *Manager) GetHCPU(v *VCPU) HCPU { return v.HCPU() }

// SetHCPU is an alias for SetAffinity pinned to a single hCPU, the
// common case of "move this VCPU to exactly this CPU".
func (m *Manager) SetHCPU(v *VCPU, hcpu HCPU) error {
	return m.SetAffinity(v, AffinityOf(hcpu))
}
