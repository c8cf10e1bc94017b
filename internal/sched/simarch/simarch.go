// Package simarch provides a deterministic sched.Arch implementation
// for tests and cmd/schedsim: no real register files, no real
// interrupts, just enough bookkeeping to exercise the scheduler core
// honestly.
package simarch

import (
	"sync"

	"github.com/tinyrange/vhostsched/internal/sched"
)

// Arch is a process-local sched.Arch. VCPUSwitch records the sequence
// of switches it's asked to perform, which tests assert against.
// WaitForIRQ blocks on a per-hCPU channel that Wake sends to,
// standing in for a real hardware interrupt.
type Arch struct {
	mu        sync.Mutex
	switches  []Switch
	wakeChans map[sched.HCPU]chan struct{}
}

// Switch records one VCPUSwitch call for test assertions.
type Switch struct {
	From, To string
}

// New returns an Arch ready for use by any number of hCPUs; per-hCPU
// wake channels are created on first use.
func New() *Arch {
	return &Arch{wakeChans: make(map[sched.HCPU]chan struct{})}
}

func (a *Arch) VCPUSwitch(prev, next *sched.VCPU, regs sched.RegisterFrame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var from string
	if prev != nil {
		from = prev.Name()
	}
	a.switches = append(a.switches, Switch{From: from, To: next.Name()})
}

func (a *Arch) IRQSave() uint64      { return 0 }
func (a *Arch) IRQRestore(f uint64)  {}

// WaitForIRQ blocks until a Wake(hcpu) token is available. The channel
// holds one token, so a Wake that arrived while nobody was waiting makes
// the next call return immediately; further Wakes before that are
// dropped, matching the bus's own async-drop semantics.
func (a *Arch) WaitForIRQ(hcpu sched.HCPU) {
	ch := a.chanFor(hcpu)
	<-ch
}

func (a *Arch) chanFor(hcpu sched.HCPU) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.wakeChans[hcpu]
	if !ok {
		ch = make(chan struct{}, 1)
		a.wakeChans[hcpu] = ch
	}
	return ch
}

// Wake simulates an interrupt arriving for hcpu, releasing one pending
// WaitForIRQ call.
func (a *Arch) Wake(hcpu sched.HCPU) {
	ch := a.chanFor(hcpu)
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Switches returns a copy of the recorded VCPUSwitch call sequence.
func (a *Arch) Switches() []Switch {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Switch, len(a.switches))
	copy(out, a.switches)
	return out
}
