package sched

import (
	"fmt"
	"sync"
	"time"

	gsync "gvisor.dev/gvisor/pkg/sync"

	"github.com/tinyrange/vhostsched/internal/sched/rq"
	"github.com/tinyrange/vhostsched/internal/timeslice"
	"github.com/tinyrange/vhostsched/internal/trace"
)

var vcpuTrace = trace.Source("sched.vcpu")

// Per-state timeslice kinds, recorded alongside the in-memory Accounting
// buckets so an external profiler can replay the same history from a
// timeslice.StartRecording capture without instrumenting the scheduler.
var (
	timesliceReady   = timeslice.RegisterKind("vcpu.ready", timeslice.SliceFlagGuestTime)
	timesliceRunning = timeslice.RegisterKind("vcpu.running", timeslice.SliceFlagGuestTime)
	timesliceSuspend = timeslice.RegisterKind("vcpu.paused", 0)
	timesliceHalted  = timeslice.RegisterKind("vcpu.halted", 0)
)

func timesliceKind(s State) (timeslice.TimesliceID, bool) {
	switch s {
	case StateReady:
		return timesliceReady, true
	case StateRunning:
		return timesliceRunning, true
	case StatePaused:
		return timesliceSuspend, true
	case StateHalted:
		return timesliceHalted, true
	default:
		return 0, false
	}
}

// Guest is the guest-visible identity a normal VCPU belongs to. It is kept
// in the Manager's arena and referenced by stable index, not by pointer,
// per the Design Notes' guidance on cyclic references (vcpu.guest <->
// guest.vcpus[i]).
type Guest struct {
	ID    GuestID
	Name  string
	VCPUs []VCPUID
}

// VCPU is a schedulable context: either a guest VCPU (IsNormal) with a
// register file switched by Arch, or a kernel orphan thread running an
// Entry function in hypervisor context.
type VCPU struct {
	mgr *Manager

	id       VCPUID
	name     string
	isNormal bool
	guest    GuestID
	hasGuest bool

	rqLinkage rq.Linkage

	schedLock gsync.RWMutex // guards everything below except the atomics

	priority      int
	timeSliceNS   int64
	deadlineNS    int64
	periodicityNS int64

	hcpu     HCPU
	affinity Affinity

	stateValue  stateBox
	resumeCount resumeBox
	resetCount  uint64

	stateTstamp int64
	resetTstamp int64

	readyNS   int64
	runningNS int64
	pausedNS  int64
	haltedNS  int64

	preemptCount preemptBox

	// runGate is a one-slot channel the scheduler posts a token to each
	// time it installs an orphan as current, releasing that orphan's Entry
	// goroutine; nil for normal VCPUs, which have no Go code body of their
	// own.
	entry   func(v *VCPU)
	runGate chan struct{}

	lastError error
}

// Priority implements rq.Item.
func (v *VCPU) Priority() int { return v.priority }

// Link implements rq.Item.
func (v *VCPU) Link() *rq.Linkage { return &v.rqLinkage }

func (v *VCPU) ID() VCPUID    { return v.id }
func (v *VCPU) Name() string  { return v.name }
func (v *VCPU) IsNormal() bool { return v.isNormal }

func (v *VCPU) State() State { return v.stateValue.load() }

// HCPU returns the VCPU's current owning hCPU.
func (v *VCPU) HCPU() HCPU {
	v.schedLock.RLock()
	defer v.schedLock.RUnlock()
	return v.hcpu
}

// Affinity returns the VCPU's current CPU affinity mask.
func (v *VCPU) Affinity() Affinity {
	v.schedLock.RLock()
	defer v.schedLock.RUnlock()
	return v.affinity
}

// TimeSlice returns the VCPU's configured time slice.
func (v *VCPU) TimeSlice() int64 {
	v.schedLock.RLock()
	defer v.schedLock.RUnlock()
	return v.timeSliceNS
}

// PreemptDisable and PreemptEnable implement the per-VCPU preempt_count of
// SPEC_FULL.md §4.2 ("preempt_disable()/preempt_enable()"): while the
// count is above zero, a tick landing on this VCPU restarts its timer
// instead of switching away from it.
func (v *VCPU) PreemptDisable() { v.preemptCount.add(1) }
func (v *VCPU) PreemptEnable()  { v.preemptCount.add(-1) }

func (v *VCPU) preemptCountValue() int32 { return v.preemptCount.load() }

// LastError returns the error from the most recent failed StateChange
// call, for diagnostics (SPEC_FULL.md §3's VCPU.LastError).
func (v *VCPU) LastError() error {
	v.schedLock.RLock()
	defer v.schedLock.RUnlock()
	return v.lastError
}

// Guest returns the VCPU's owning guest ID and whether it has one
// (orphans don't).
func (v *VCPU) Guest() (GuestID, bool) {
	v.schedLock.RLock()
	defer v.schedLock.RUnlock()
	return v.guest, v.hasGuest
}

// Accounting returns a snapshot of the cumulative per-state nanosecond
// buckets (SPEC_FULL.md §8's accounting invariant).
type Accounting struct {
	ReadyNS, RunningNS, PausedNS, HaltedNS int64
	ResetTstamp                            int64
}

func (v *VCPU) Snapshot() Accounting {
	v.schedLock.RLock()
	defer v.schedLock.RUnlock()
	return Accounting{
		ReadyNS:     v.readyNS,
		RunningNS:   v.runningNS,
		PausedNS:    v.pausedNS,
		HaltedNS:    v.haltedNS,
		ResetTstamp: v.resetTstamp,
	}
}

// addBucket adds d nanoseconds to the bucket for state s. Caller holds
// schedLock for writing.
func (v *VCPU) addBucket(s State, d int64) {
	if d < 0 {
		d = 0
	}
	switch s {
	case StateReady:
		v.readyNS += d
	case StateRunning:
		v.runningNS += d
	case StatePaused:
		v.pausedNS += d
	case StateHalted:
		v.haltedNS += d
	}
	if kind, ok := timesliceKind(s); ok {
		timeslice.Record(kind, time.Duration(d))
	}
}

// StateChange drives the VCPU state machine (SPEC_FULL.md §4.2.1). held, if
// non-nil, is released around any synchronous orphan preemption the
// transition triggers, so the caller's own locking scheme can't deadlock
// with the scheduler path, and is reacquired before returning.
func (v *VCPU) StateChange(newState State, held sync.Locker) error {
	now := v.mgr.clock.NowNS()

	v.schedLock.Lock()
	cur := v.stateValue.load()

	// Laws: READY/RUNNING->READY/RUNNING is one idempotent no-op class
	// (vmm_scheduler_state_change's READY case, "goto skip_state_change"),
	// not just an exact match on the current state.
	if newState == StateReady && (cur == StateReady || cur == StateRunning) {
		v.schedLock.Unlock()
		return nil
	}

	// Pausing an already-paused VCPU is a transient conflict with whoever
	// paused it first, not a state transition: refcount is left untouched.
	if newState == StatePaused && cur == StatePaused {
		v.lastError = ErrAgain
		v.schedLock.Unlock()
		return ErrAgain
	}

	var preempt bool
	var targetHCPU HCPU
	var err error

	switch newState {
	case StateReset:
		err = v.transitionToReset(cur, now, &preempt)
		targetHCPU = v.hcpu
	case StateUnknown:
		err = v.transitionToUnknown(cur, now)
	case StateReady:
		err = v.transitionToReady(cur, now, &preempt)
		targetHCPU = v.hcpu
	case StateRunning:
		err = ErrInvalid // only the scheduler's internal switch path sets RUNNING
	case StatePaused:
		err = v.transitionToPaused(cur, now, &preempt)
		targetHCPU = v.hcpu
	case StateHalted:
		err = v.transitionToHalted(cur, now, &preempt)
		targetHCPU = v.hcpu
	default:
		err = ErrInvalid
	}

	if err != nil {
		v.lastError = err
		v.schedLock.Unlock()
		return err
	}
	v.schedLock.Unlock()

	vcpuTrace.Event("vcpu=%d %s->%s", v.id, cur, newState)

	if preempt {
		v.mgr.postTransitionPreempt(targetHCPU, v, held)
	}
	return nil
}

// transitionToReset handles "UNKNOWN->RESET" and "!=RESET->RESET".
func (v *VCPU) transitionToReset(cur State, now int64, preempt *bool) error {
	if cur == StateReset {
		return ErrInvalid
	}
	if cur == StateUnknown {
		// vcpu_setup: validate the priority set at creation.
		if v.priority < v.mgr.minPriority || v.priority > v.mgr.maxPriority {
			return ErrInvalid
		}
		v.stateValue.store(StateReset)
		v.stateTstamp = now
		v.resetTstamp = now
		return nil
	}

	// cur in {READY, RUNNING, PAUSED, HALTED}.
	if cur == StateReady {
		v.mgr.schedulerFor(v.hcpu).detachLocked(v)
	}
	if cur == StateRunning {
		*preempt = true
	}
	v.addBucket(cur, now-v.stateTstamp)
	v.resetCount++
	v.resumeCount.store(0)
	v.stateValue.store(StateReset)
	v.stateTstamp = now
	v.resetTstamp = now
	v.readyNS, v.runningNS, v.pausedNS, v.haltedNS = 0, 0, 0, 0
	return nil
}

func (v *VCPU) transitionToUnknown(cur State, now int64) error {
	if cur == StateReady {
		v.mgr.schedulerFor(v.hcpu).detachLocked(v)
	}
	v.addBucket(cur, now-v.stateTstamp)
	v.stateValue.store(StateUnknown)
	v.stateTstamp = now
	return nil
}

// transitionToReady handles "RESET->READY" (no resume_count effect,
// since reset already zeroed it) and "*->READY from interruptible"
// (READY, RUNNING or PAUSED as source), including the resume_count
// pairing law and its zero-suppression branch (Open Question 2, applied
// symmetrically to both pause and resume per the end-to-end scenario in
// SPEC_FULL.md §8 scenario 4).
func (v *VCPU) transitionToReady(cur State, now int64, preempt *bool) error {
	if cur != StateReset && !interruptible(cur) {
		return ErrInvalid
	}

	if cur != StateReset {
		rc := v.resumeCount.add(1)
		if rc < 0 {
			return ErrAgain
		}
		if rc == 0 {
			// Suppressed: a pending pause already balances this resume.
			return nil
		}
	}

	v.addBucket(cur, now-v.stateTstamp)
	v.stateValue.store(StateReady)
	v.stateTstamp = now

	sch := v.mgr.schedulerFor(v.hcpu)
	sch.enqueueLocked(v)

	if running := sch.currentVCPU(); running != nil && v != running && sch.preemptNeededLocked(running.priority) {
		*preempt = true
	}
	return nil
}

func (v *VCPU) transitionToPaused(cur State, now int64, preempt *bool) error {
	if cur != StateReady && cur != StateRunning {
		return ErrInvalid
	}

	rc := v.resumeCount.add(-1)
	if rc > 0 {
		return ErrAgain
	}
	if rc == 0 {
		// Suppressed (Open Question 2): an earlier, as-yet-unmatched
		// resume already balances this pause.
		return nil
	}

	v.addBucket(cur, now-v.stateTstamp)
	if cur == StateRunning {
		*preempt = true
	}
	if cur == StateReady {
		v.mgr.schedulerFor(v.hcpu).detachLocked(v)
	}
	v.stateValue.store(StatePaused)
	v.stateTstamp = now
	return nil
}

// transitionToHalted mirrors transitionToPaused minus resume-count
// handling, per the spec table. It additionally accepts PAUSED as a
// source, replicating the reference implementation's apparent
// PAUSED->HALTED fallthrough (Open Question 4).
func (v *VCPU) transitionToHalted(cur State, now int64, preempt *bool) error {
	if !interruptible(cur) {
		return ErrInvalid
	}

	v.addBucket(cur, now-v.stateTstamp)
	if cur == StateRunning {
		*preempt = true
	}
	if cur == StateReady {
		v.mgr.schedulerFor(v.hcpu).detachLocked(v)
	}
	v.stateValue.store(StateHalted)
	v.stateTstamp = now
	return nil
}

func (v *VCPU) String() string {
	return fmt.Sprintf("vcpu{id=%d name=%q prio=%d state=%s hcpu=%d}", v.id, v.name, v.priority, v.State(), v.hcpu)
}
