package irq

import "log/slog"

// ActiveExec implements host_active_irq_exec: drain every IRQ the
// architecture trap reports pending for cpu, dispatching each through
// GenericExec, until the active callback returns NoMoreIRQ.
func (h *Host) ActiveExec(cpu int) {
	for {
		hirq := h.active(cpu)
		if hirq == NoMoreIRQ {
			return
		}
		h.GenericExec(hirq, cpu)
	}
}

// GenericExec implements host_generic_irq_exec: resolve the IRQ object,
// bump its per-CPU counter, bracket the flow handler with INPROGRESS
// (skipped for PER_CPU IRQs, which can run concurrently on every CPU by
// construction), and invoke the configured flow handler.
func (h *Host) GenericExec(hirq, cpu int) {
	hi, ok := h.resolve(hirq)
	if !ok {
		irqTrace.Event("irq=%d cpu=%d unresolved", hirq, cpu)
		return
	}

	hi.mu.Lock()
	hi.counts[cpu]++
	perCPU := hi.state&PerCPU != 0
	if !perCPU {
		hi.state |= InProgress
	}
	handler := hi.handler
	handlerData := hi.handlerData
	hi.mu.Unlock()

	if handler == nil {
		irqTrace.Event("irq=%d cpu=%d no flow handler", hirq, cpu)
	} else {
		handler(h, hi, cpu, handlerData)
	}

	if !perCPU {
		hi.mu.Lock()
		hi.state &^= InProgress
		hi.mu.Unlock()
	}
}

// runActions walks hi's action list for cpu under a reader lock, in
// registration order, stopping at the first action that returns
// Handled. Shared by both flow handlers.
func runActions(hi *HostIRQ, cpu int) Result {
	hi.actionLocks[cpu].RLock()
	defer hi.actionLocks[cpu].RUnlock()
	for _, a := range hi.actions[cpu] {
		if a.fn(hi.num, cpu, a.dev) == Handled {
			return Handled
		}
	}
	return None
}

// FastEOIHandler walks the action list and EOIs the chip once finished,
// with no mask/ack bracketing — the chip's own controller already
// cleared the condition by the time the handler runs.
func FastEOIHandler(host *Host, hi *HostIRQ, cpu int, handlerData any) {
	if runActions(hi, cpu) == None {
		slog.Debug("irq with no claimant", "irq", hi.num, "cpu", cpu)
	}

	hi.mu.Lock()
	chip := hi.chip
	hi.mu.Unlock()
	if chip != nil && chip.EOI != nil {
		chip.EOI(hi)
	}
}

// LevelHandler masks-and-acks before walking actions (via mask_ack if
// the chip has it, else mask then ack separately) and unmasks once
// finished, so a level-triggered source that is still asserted doesn't
// immediately refire while its action is running.
func LevelHandler(host *Host, hi *HostIRQ, cpu int, handlerData any) {
	hi.mu.Lock()
	chip := hi.chip
	hi.mu.Unlock()

	if chip != nil {
		if chip.MaskAck != nil {
			chip.MaskAck(hi)
		} else {
			if chip.Mask != nil {
				chip.Mask(hi)
			}
			if chip.Ack != nil {
				chip.Ack(hi)
			}
		}
	}

	if runActions(hi, cpu) == None {
		slog.Debug("irq with no claimant", "irq", hi.num, "cpu", cpu)
	}

	if chip != nil && chip.Unmask != nil {
		chip.Unmask(hi)
	}
}
