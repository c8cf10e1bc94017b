package sched

import (
	"fmt"
	"sync"

	"github.com/tinyrange/vhostsched/internal/ipi"
)

// Manager owns every per-hCPU Scheduler plus the VCPU/Guest arenas
// (the Manager collaborator described in SPEC_FULL.md §4.2).
// It is the only type application code constructs directly; everything
// else (VCPU, Scheduler) is reached through it.
type Manager struct {
	arch  Arch
	clock Clock

	minPriority int
	maxPriority int

	cpus   []*Scheduler
	ipiBus *ipi.Bus

	mu         sync.Mutex
	vcpus      map[VCPUID]*VCPU
	nextVCPU   uint32
	guests     map[GuestID]*Guest
	nextGuest  uint32
}

// Config bundles the construction-time parameters a Manager needs.
// MinPriority/MaxPriority follow the spec's convention that MinPriority
// is reserved for each hCPU's idle orphan.
type Config struct {
	Arch        Arch
	Clock       Clock
	CPUCount    int
	MinPriority int
	MaxPriority int
}

// NewManager allocates a Manager and its per-hCPU Schedulers, but does
// not yet start any of them — call InitCPU for each hCPU to boot it
// (SPEC_FULL.md's init(hcpu)).
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	if cfg.CPUCount <= 0 {
		cfg.CPUCount = DefaultCPUCount
	}
	if cfg.MaxPriority == 0 && cfg.MinPriority == 0 {
		cfg.MinPriority, cfg.MaxPriority = MinPriority, MaxPriority
	}

	m := &Manager{
		arch:        cfg.Arch,
		clock:       cfg.Clock,
		minPriority: cfg.MinPriority,
		maxPriority: cfg.MaxPriority,
		ipiBus:      ipi.NewBus(),
		vcpus:       make(map[VCPUID]*VCPU),
		guests:      make(map[GuestID]*Guest),
	}
	m.cpus = make([]*Scheduler, cfg.CPUCount)
	for i := range m.cpus {
		m.cpus[i] = newScheduler(m, HCPU(i))
	}
	return m
}

func (m *Manager) schedulerFor(hcpu HCPU) *Scheduler {
	if int(hcpu) < 0 || int(hcpu) >= len(m.cpus) {
		panic(fmt.Sprintf("sched: hcpu %d out of range", hcpu))
	}
	return m.cpus[hcpu]
}

// CPUCount returns the number of hCPUs this Manager manages.
func (m *Manager) CPUCount() int { return len(m.cpus) }

// postTransitionPreempt is StateChange's hook back into the scheduler:
// a transition flipped preempt=true, meaning the VCPU running on hcpu
// (normally v itself, leaving RUNNING) is no longer the right thing to
// run there. held, if non-nil, is unlocked for the duration of the
// synchronous reschedule and relocked before returning, so a caller that
// invoked StateChange while holding its own lock can't deadlock against
// the scheduler path.
func (m *Manager) postTransitionPreempt(hcpu HCPU, v *VCPU, held sync.Locker) {
	if held != nil {
		held.Unlock()
	}
	sch := m.schedulerFor(hcpu)
	if !sch.requestYieldOnIRQExit() {
		sch.doSwitch(nil)
	}
	if held != nil {
		held.Lock()
	}
}

// InitCPU boots hcpu: it creates that CPU's idle orphan (at MinPriority,
// so it is always the lowest-priority runnable thing on the queue),
// resets it, kicks it to READY, arms both timer events, and performs the
// first switch onto it. Call once per hCPU before any normal VCPU is
// given that hCPU's affinity.
func (m *Manager) InitCPU(hcpu HCPU) (*VCPU, error) {
	sch := m.schedulerFor(hcpu)

	idle := &VCPU{
		mgr:           m,
		name:          fmt.Sprintf("idle/%d", hcpu),
		isNormal:      false,
		priority:      m.minPriority,
		timeSliceNS:   int64(IdleTimeSlice),
		deadlineNS:    int64(IdleTimeSlice),
		periodicityNS: int64(IdleTimeSlice),
		hcpu:          hcpu,
		affinity:      AffinityOf(hcpu),
		entry:         idleEntry,
	}

	m.mu.Lock()
	idle.id = VCPUID(m.nextVCPU)
	m.nextVCPU++
	m.vcpus[idle.id] = idle
	m.mu.Unlock()

	sch.mu.Lock()
	sch.idle = idle
	sch.mu.Unlock()

	if err := idle.StateChange(StateReset, nil); err != nil {
		return nil, err
	}
	if err := m.Kick(idle); err != nil {
		return nil, err
	}

	sch.sampleEv.Start(durationNS(sch.samplePeriodNS))
	sch.doSwitch(nil)
	return idle, nil
}

// CreateGuestVCPU allocates a normal, guest-backed VCPU in UNKNOWN state.
// The caller must StateChange it to RESET (after assigning priority and
// affinity) before it is schedulable.
func (m *Manager) CreateGuestVCPU(guestID GuestID, name string, priority int, affinity Affinity) (*VCPU, error) {
	if priority <= m.minPriority || priority > m.maxPriority {
		return nil, ErrInvalid
	}

	m.mu.Lock()
	g, ok := m.guests[guestID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrInvalid
	}
	v := &VCPU{
		mgr:      m,
		name:     name,
		isNormal: true,
		guest:    guestID,
		hasGuest: true,
		priority: priority,
		affinity: affinity,
	}
	v.id = VCPUID(m.nextVCPU)
	m.nextVCPU++
	m.vcpus[v.id] = v
	g.VCPUs = append(g.VCPUs, v.id)
	m.mu.Unlock()

	v.hcpu = firstAllowed(affinity, len(m.cpus))
	return v, nil
}

// CreateOrphan allocates a hypervisor-context VCPU running entry on its
// own goroutine whenever the scheduler picks it. priority must be above
// MinPriority, which is reserved for idle.
func (m *Manager) CreateOrphan(name string, priority int, affinity Affinity, entry func(v *VCPU)) (*VCPU, error) {
	if priority <= m.minPriority || priority > m.maxPriority {
		return nil, ErrInvalid
	}
	v := &VCPU{
		mgr:      m,
		name:     name,
		isNormal: false,
		priority: priority,
		affinity: affinity,
		entry:    entry,
	}
	m.mu.Lock()
	v.id = VCPUID(m.nextVCPU)
	m.nextVCPU++
	m.vcpus[v.id] = v
	m.mu.Unlock()

	v.hcpu = firstAllowed(affinity, len(m.cpus))
	return v, nil
}

// CreateGuest registers a new Guest and returns its ID.
func (m *Manager) CreateGuest(name string) GuestID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := GuestID(m.nextGuest)
	m.nextGuest++
	m.guests[id] = &Guest{ID: id, Name: name}
	return id
}

func firstAllowed(a Affinity, n int) HCPU {
	for h := HCPU(0); int(h) < n; h++ {
		if a.Allows(h) {
			return h
		}
	}
	return 0
}

// Lookup returns the VCPU with the given ID, if any.
func (m *Manager) Lookup(id VCPUID) (*VCPU, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vcpus[id]
	return v, ok
}

// Iterate calls fn for every VCPU currently registered. fn must not call
// back into Manager methods that take mu.
func (m *Manager) Iterate(fn func(*VCPU)) {
	m.mu.Lock()
	vs := make([]*VCPU, 0, len(m.vcpus))
	for _, v := range m.vcpus {
		vs = append(vs, v)
	}
	m.mu.Unlock()
	for _, v := range vs {
		fn(v)
	}
}

// Yield implements the public "a running orphan gives up its CPU"
// operation.
func (m *Manager) Yield(v *VCPU) {
	m.schedulerFor(v.HCPU()).selfYield(v)
}

// ForceResched posts an asynchronous reschedule request to hcpu
// (SPEC_FULL.md's force_resched()), used after changing scheduling
// parameters (priority, time slice) on a VCPU that is already RUNNING
// elsewhere, where no single state transition naturally triggers
// postTransitionPreempt.
func (m *Manager) ForceResched(hcpu HCPU) {
	m.schedulerFor(hcpu).forceResched()
}

// IRQEnter/IRQExit expose the per-hCPU IRQ bracketing to callers outside
// package sched (the irq package's dispatcher).
func (m *Manager) IRQEnter(hcpu HCPU, regs RegisterFrame, fromVCPUContext bool) {
	m.schedulerFor(hcpu).IRQEnter(regs, fromVCPUContext)
}

func (m *Manager) IRQExit(hcpu HCPU, regs RegisterFrame) {
	m.schedulerFor(hcpu).IRQExit(regs)
}

// Sample returns hcpu's last completed idle/irq sampling window.
func (m *Manager) Sample(hcpu HCPU) SampleWindow {
	return m.schedulerFor(hcpu).Sample()
}

// CurrentVCPU returns whichever VCPU hcpu is currently running, or nil
// before that hCPU's first switch.
func (m *Manager) CurrentVCPU(hcpu HCPU) *VCPU {
	return m.schedulerFor(hcpu).currentVCPU()
}

// MinPriority and MaxPriority expose the configured priority band,
// mainly for tests and cmd/schedsim.
func (m *Manager) MinPriority() int { return m.minPriority }
func (m *Manager) MaxPriority() int { return m.maxPriority }

// Stats returns the idle/irq sampling window for every hCPU, indexed by
// HCPU.
func (m *Manager) Stats() []SampleWindow {
	out := make([]SampleWindow, len(m.cpus))
	for i, sch := range m.cpus {
		out[i] = sch.Sample()
	}
	return out
}

// Kick implements vcpu_kick: the lifecycle step that takes a freshly
// RESET VCPU (or one returning from PAUSED) to READY, making it eligible
// for the ready queue (spec's lifecycle: "kick transitions to READY").
func (m *Manager) Kick(v *VCPU) error {
	return v.StateChange(StateReady, nil)
}
