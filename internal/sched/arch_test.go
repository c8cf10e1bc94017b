package sched

import "sync"

// fakeArch is a minimal Arch for internal package tests: it just
// records switches and never blocks in WaitForIRQ (tests that exercise
// idle explicitly arrange their own synchronization instead).
type fakeArch struct {
	mu       sync.Mutex
	switches []string
}

func (a *fakeArch) VCPUSwitch(prev, next *VCPU, regs RegisterFrame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	from := "<nil>"
	if prev != nil {
		from = prev.name
	}
	a.switches = append(a.switches, from+"->"+next.name)
}

func (a *fakeArch) IRQSave() uint64     { return 0 }
func (a *fakeArch) IRQRestore(f uint64) {}

// WaitForIRQ returns immediately; no test in this package relies on
// idle actually blocking.
func (a *fakeArch) WaitForIRQ(hcpu HCPU) {}

func (a *fakeArch) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.switches))
	copy(out, a.switches)
	return out
}
