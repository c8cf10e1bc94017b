package irq

import (
	"fmt"

	gsync "gvisor.dev/gvisor/pkg/sync"

	"github.com/tinyrange/vhostsched/internal/trace"
)

var irqTrace = trace.Source("irq.host")

// ActiveFunc is the architecture-provided "active" callback: given the
// trapping cpu, return the next pending logical IRQ number, or
// NoMoreIRQ once the trap has no more to report.
type ActiveFunc func(cpu int) int

// Host owns the native IRQ array and the extended-IRQ map layered over
// it (SPEC_FULL.md §4.3/§4.4 kept in one package since C4 is explicitly
// a view over C3 objects).
type Host struct {
	ncpu   int
	active ActiveFunc

	native []*HostIRQ

	extMu       gsync.Mutex
	children    [ExtendedIRQCount]*HostIRQ
	groups      []*Group
	currentBase int
}

// New allocates a Host for ncpu CPUs. Init must be called once on the
// boot CPU before dispatch begins.
func New(ncpu int, active ActiveFunc) *Host {
	return &Host{ncpu: ncpu, active: active}
}

// Init runs the boot-CPU half of host_irq_init: allocate the native
// array and initialize every slot to DISABLED|MASKED|TriggerNone.
// The arch and device-tree init hooks are modeled by initCallbacks: each
// is invoked once, in argument order, after the native array exists and
// before the extended-IRQ group table is set up. There is no device tree
// to walk and no separate final IRQ-enable step; a failing callback stops
// Init and its error is returned.
func (h *Host) Init(initCallbacks ...func(host *Host) error) error {
	h.native = make([]*HostIRQ, HostIRQCount)
	for i := range h.native {
		h.native[i] = newHostIRQ(i, fmt.Sprintf("irq%d", i), h.ncpu)
	}
	for _, cb := range initCallbacks {
		if err := cb(h); err != nil {
			return err
		}
	}
	h.extMu.Lock()
	h.groups = make([]*Group, 0, ExtendedGroupCount)
	h.extMu.Unlock()
	return nil
}

func (h *Host) resolve(irqNum int) (*HostIRQ, bool) {
	if irqNum >= 0 && irqNum < len(h.native) {
		return h.native[irqNum], true
	}
	if irqNum >= HostIRQCount && irqNum < HostIRQCount+ExtendedIRQCount {
		h.extMu.Lock()
		defer h.extMu.Unlock()
		hi := h.children[irqNum-HostIRQCount]
		return hi, hi != nil
	}
	return nil, false
}
