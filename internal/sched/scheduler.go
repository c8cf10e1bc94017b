package sched

import (
	"fmt"
	"runtime"
	"time"

	gsync "gvisor.dev/gvisor/pkg/sync"
	"golang.org/x/sys/unix"

	"github.com/tinyrange/vhostsched/internal/ipi"
	"github.com/tinyrange/vhostsched/internal/sched/rq"
	"github.com/tinyrange/vhostsched/internal/timerevent"
	"github.com/tinyrange/vhostsched/internal/trace"
)

var schedTrace = trace.Source("sched.cpu")

// Scheduler is the per-hCPU control block of SPEC_FULL.md §4.2: one
// ready queue, one notion of "current", and the tick/IRQ bookkeeping
// that drives switches. mu stands in for the spec's rq_lock — on real
// hardware that lock's reach is "this hCPU with interrupts disabled",
// which is exactly the set of fields only this hCPU's own goroutines
// touch without going through a VCPU's own schedLock first.
type Scheduler struct {
	mgr  *Manager
	hcpu HCPU

	mu      gsync.Mutex
	rq      *rq.Queue
	current *VCPU
	idle    *VCPU

	irqContext       bool
	irqRegs          RegisterFrame
	irqEnterTstamp   int64
	irqProcessNS     int64
	currentVCPUIrqNS int64
	yieldOnIRQExit   bool

	ev       *timerevent.Event
	sampleEv *timerevent.Event

	sampleLock       gsync.RWMutex
	samplePeriodNS   int64
	sampleIdleNS     int64
	sampleIdleLastNS int64
	sampleIRQNS      int64
	sampleIRQLastNS  int64

	ipiIn <-chan ipi.Call
	wake  chan struct{}
}

func newScheduler(mgr *Manager, hcpu HCPU) *Scheduler {
	s := &Scheduler{
		mgr:            mgr,
		hcpu:           hcpu,
		rq:             rq.New(mgr.minPriority, mgr.maxPriority),
		samplePeriodNS: int64(DefaultSamplePeriod),
		wake:           make(chan struct{}, 1),
	}
	s.ev = timerevent.New(s.onTick)
	s.sampleEv = timerevent.New(s.onSample)
	s.ipiIn = mgr.ipiBus.Register(int(hcpu))
	go s.ipiLoop()
	return s
}

// ipiLoop is this hCPU's IPI bottom half: it runs each posted Call and
// then a doSwitch. Other doSwitch calls (ticks, orphan Yield,
// postTransitionPreempt, InitCPU) run on their caller's goroutine. Pinned
// to its matching host CPU, same as a real vcpu run-loop thread would
// be — not fatal if the host denies it.
func (s *Scheduler) ipiLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var mask unix.CPUSet
	mask.Set(int(s.hcpu))
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		schedTrace.Event("hcpu=%d affinity pin failed: %v", s.hcpu, err)
	}

	for fn := range s.ipiIn {
		fn()
		s.doSwitch(nil)
	}
}

// enqueueLocked implements the spec's rq_insert(v), called with v's own
// schedLock already held for writing (sched_lock before rq_lock, per the
// declared lock order).
func (s *Scheduler) enqueueLocked(v *VCPU) {
	s.mu.Lock()
	s.rq.Enqueue(v)
	s.mu.Unlock()
	s.wakeup()
}

// enqueueOnly is enqueueLocked without the wakeup, used for a switch's
// self-requeue of the outgoing VCPU where a wakeup would be redundant
// (the calling goroutine is already about to dequeue from this same
// queue).
func (s *Scheduler) enqueueOnly(v *VCPU) {
	s.mu.Lock()
	s.rq.Enqueue(v)
	s.mu.Unlock()
}

// detachLocked implements rq_remove(v), same calling convention as
// enqueueLocked.
func (s *Scheduler) detachLocked(v *VCPU) {
	s.mu.Lock()
	s.rq.Detach(v)
	s.mu.Unlock()
}

func (s *Scheduler) dequeue() (*VCPU, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.rq.Dequeue()
	if !ok {
		return nil, false
	}
	return it.(*VCPU), true
}

func (s *Scheduler) currentVCPU() *VCPU {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) setCurrent(v *VCPU) {
	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
}

func (s *Scheduler) preemptNeededLocked(priority int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rq.PreemptNeeded(priority)
}

func (s *Scheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// armTick schedules the next tick d out, the common tail of every path
// in doSwitch that installs a new "current".
func (s *Scheduler) armTick(d time.Duration) {
	if d <= 0 {
		d = IdleTimeSlice
	}
	s.ev.Start(d)
}

// onTick is the timer callback for SPEC_FULL.md §4.2.2's "tick" function,
// fired on its own goroutine by time.AfterFunc — a stand-in for a
// periodic hardware timer interrupt.
func (s *Scheduler) onTick() {
	s.IRQEnter(tickRegs{}, false)
	s.doSwitch(tickRegs{})
	s.IRQExit(tickRegs{})
}

type tickRegs struct{}

// doSwitch implements the core of SPEC_FULL.md §4.2.2: account for the
// outgoing VCPU, pick the next one from the ready queue, and hand off
// via Arch.VCPUSwitch. regs is non-nil when called from IRQ/tick context
// and nil when called voluntarily (IPI bottom half, orphan Yield).
func (s *Scheduler) doSwitch(regs RegisterFrame) {
	cur := s.currentVCPU()

	if cur == nil {
		s.installFirst(regs)
		return
	}

	if cur.preemptCountValue() > 0 {
		s.ev.Restart()
		return
	}

	now := s.mgr.clock.NowNS()

	cur.schedLock.Lock()
	curState := cur.stateValue.load()
	requeueCur := curState == StateRunning
	if requeueCur {
		s.mu.Lock()
		irqDelta := s.irqProcessNS - s.currentVCPUIrqNS
		s.currentVCPUIrqNS = s.irqProcessNS
		s.mu.Unlock()
		elapsed := now - cur.stateTstamp - irqDelta
		cur.addBucket(StateRunning, elapsed)
		cur.stateValue.store(StateReady)
		cur.stateTstamp = now
		// cur.hcpu may have changed underneath a RUNNING vcpu (migrate),
		// in which case it belongs on the destination's queue, not ours.
		s.mgr.schedulerFor(cur.hcpu).enqueueOnly(cur)
	}

	next, ok := s.dequeue()
	if !ok {
		cur.schedLock.Unlock()
		panic(fmt.Sprintf("sched: hcpu %d ready queue empty during switch", s.hcpu))
	}

	if next == cur {
		cur.stateValue.store(StateRunning)
		cur.stateTstamp = now
		cur.schedLock.Unlock()
		s.armTick(time.Duration(cur.timeSliceNS))
		return
	}

	next.schedLock.Lock()
	s.mgr.arch.VCPUSwitch(cur, next, regs)
	next.stateValue.store(StateRunning)
	next.stateTstamp = now
	next.hcpu = s.hcpu
	slice := next.timeSliceNS
	next.schedLock.Unlock()
	cur.schedLock.Unlock()

	s.setCurrent(next)
	s.releaseOrphan(next)
	schedTrace.Event("hcpu=%d switch %s->%s", s.hcpu, cur, next)
	s.armTick(time.Duration(slice))
}

// installFirst handles the very first switch on a hCPU that has no
// current VCPU yet (boot), analogous to the cur==nil branch of doSwitch.
func (s *Scheduler) installFirst(regs RegisterFrame) {
	next, ok := s.dequeue()
	if !ok {
		panic(fmt.Sprintf("sched: hcpu %d has no runnable vcpu at boot", s.hcpu))
	}
	now := s.mgr.clock.NowNS()
	next.schedLock.Lock()
	next.stateValue.store(StateRunning)
	next.stateTstamp = now
	next.hcpu = s.hcpu
	slice := next.timeSliceNS
	next.schedLock.Unlock()

	s.mgr.arch.VCPUSwitch(nil, next, regs)
	s.setCurrent(next)
	s.releaseOrphan(next)
	s.armTick(time.Duration(slice))
}

// releaseOrphan starts (on first use) or wakes the dedicated goroutine
// backing an orphan's Entry function. Normal VCPUs have no Go body, so
// this is a no-op for them — Arch.VCPUSwitch is their only hook.
func (s *Scheduler) releaseOrphan(v *VCPU) {
	if v.entry == nil {
		return
	}
	if v.runGate == nil {
		v.runGate = make(chan struct{}, 1)
		go s.runOrphan(v)
	}
	select {
	case v.runGate <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runOrphan(v *VCPU) {
	<-v.runGate
	v.entry(v)
}

// selfYield is the Go-idiom replacement for arch_vcpu_preempt_orphan()
// on its one genuinely synchronous path: an orphan giving up its own
// CPU. It runs a switch on the calling goroutine (which is v's own
// Entry goroutine) and then blocks that same goroutine on v's runGate
// until the scheduler reinstalls it as current, so v's Entry body
// resumes exactly where it called Yield.
//
// v may already have been switched away from involuntarily (another
// goroutine's postTransitionPreempt ran while v's Entry was blocked
// inside an Arch call, e.g. idle's WaitForIRQ) by the time this runs —
// in that case there is nothing left to switch, just a runGate to wait
// on.
func (s *Scheduler) selfYield(v *VCPU) {
	if s.currentVCPU() == v {
		s.doSwitch(nil)
	}
	if v.runGate != nil {
		<-v.runGate
	}
}

// forceResched posts the bus-level reschedule IPI named in §4.2.4: a
// no-op Call whose only purpose is to land on the target's bottom half
// and trigger doSwitch on return.
func (s *Scheduler) forceResched() {
	s.mgr.ipiBus.AsyncCall([]int{int(s.hcpu)}, func() {})
}
