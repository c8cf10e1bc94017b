package irq

// SetChip, SetChipData, SetHandler and SetHandlerData are store-only
// control-API calls.
func (h *Host) SetChip(irqNum int, chip *Chip) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	hi.chip = chip
	hi.mu.Unlock()
	return nil
}

func (h *Host) SetChipData(irqNum int, data any) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	hi.chipData = data
	hi.mu.Unlock()
	return nil
}

func (h *Host) SetHandler(irqNum int, fh FlowHandler) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	hi.handler = fh
	hi.mu.Unlock()
	return nil
}

func (h *Host) SetHandlerData(irqNum int, data any) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	hi.handlerData = data
	hi.mu.Unlock()
	return nil
}

// Enable calls chip.Enable, falling back to chip.Unmask when the chip
// doesn't implement Enable directly, and clears DISABLED (and MASKED,
// via the fallback).
func (h *Host) Enable(irqNum int) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if hi.chip != nil {
		if hi.chip.Enable != nil {
			hi.chip.Enable(hi)
		} else if hi.chip.Unmask != nil {
			hi.chip.Unmask(hi)
			hi.state &^= Masked
		}
	}
	hi.state &^= Disabled
	return nil
}

// Disable calls chip.Disable, falling back to chip.Mask, and sets
// DISABLED (and MASKED, via the fallback).
func (h *Host) Disable(irqNum int) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if hi.chip != nil {
		if hi.chip.Disable != nil {
			hi.chip.Disable(hi)
		} else if hi.chip.Mask != nil {
			hi.chip.Mask(hi)
			hi.state |= Masked
		}
	}
	hi.state |= Disabled
	return nil
}

// Mask and Unmask call the chip directly, with no Enable/Disable
// fallback semantics.
func (h *Host) Mask(irqNum int) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if hi.chip != nil && hi.chip.Mask != nil {
		hi.chip.Mask(hi)
	}
	hi.state |= Masked
	return nil
}

func (h *Host) Unmask(irqNum int) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if hi.chip != nil && hi.chip.Unmask != nil {
		hi.chip.Unmask(hi)
	}
	hi.state &^= Masked
	return nil
}

// SetType normalizes t to its state bits, calls chip.SetType if present,
// and on success swaps the TRIGGER/LEVEL bits. TriggerNone is a no-op
// success regardless of chip support.
func (h *Host) SetType(irqNum int, t TriggerType) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	if t == TriggerNone {
		return nil
	}
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if hi.chip != nil && hi.chip.SetType != nil {
		if err := hi.chip.SetType(hi, t); err != nil {
			return err
		}
	}
	hi.state &^= triggerStateMask | Level
	hi.state |= t.stateBits()
	return nil
}

// SetAffinity calls chip.SetAffinity if present and marks AFFINITY_SET
// regardless, matching SPEC_FULL.md's "set_affinity(mask, force)".
func (h *Host) SetAffinity(irqNum int, mask uint64, force bool) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if hi.chip != nil && hi.chip.SetAffinity != nil {
		if err := hi.chip.SetAffinity(hi, mask, force); err != nil {
			return err
		}
	}
	hi.state |= AffinitySet
	return nil
}

func (h *Host) MarkPerCPU(irqNum int) error   { return h.setStateBit(irqNum, PerCPU, true) }
func (h *Host) UnmarkPerCPU(irqNum int) error  { return h.setStateBit(irqNum, PerCPU, false) }
func (h *Host) MarkGuestRouted(irqNum int) error  { return h.setStateBit(irqNum, GuestRouted, true) }
func (h *Host) UnmarkGuestRouted(irqNum int) error { return h.setStateBit(irqNum, GuestRouted, false) }

func (h *Host) setStateBit(irqNum int, bit State, set bool) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if set {
		hi.state |= bit
	} else {
		hi.state &^= bit
	}
	return nil
}

// Raise calls chip.Raise if present; a chip without software-raise
// support makes this a silent no-op.
func (h *Host) Raise(irqNum int, mask uint64) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if hi.chip != nil && hi.chip.Raise != nil {
		hi.chip.Raise(hi, mask)
	}
	return nil
}

// Register appends a {fn, dev} action. For a non-PER_CPU IRQ the action
// is replicated onto every CPU's list; for a PER_CPU IRQ it is
// registered only on the calling cpu. Duplicate dev on the same
// (irq, cpu) is rejected. Register finishes by calling Enable.
func (h *Host) Register(irqNum int, cpu int, fn HandlerFunc, dev any) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}

	hi.mu.Lock()
	perCPU := hi.state&PerCPU != 0
	hi.mu.Unlock()

	cpus := []int{cpu}
	if !perCPU {
		cpus = make([]int, h.ncpu)
		for i := range cpus {
			cpus[i] = i
		}
	}

	for _, c := range cpus {
		hi.actionLocks[c].Lock()
		for _, a := range hi.actions[c] {
			if a.dev == dev {
				hi.actionLocks[c].Unlock()
				return ErrDuplicate
			}
		}
		hi.actions[c] = append(hi.actions[c], action{fn: fn, dev: dev})
		hi.actionLocks[c].Unlock()
	}

	return h.Enable(irqNum)
}

// Unregister removes dev's action from every per-CPU list it appears on.
// A CPU whose list becomes empty as a result triggers Disable.
func (h *Host) Unregister(irqNum int, dev any) error {
	hi, ok := h.resolve(irqNum)
	if !ok {
		return ErrNotAvail
	}

	emptied := false
	for c := 0; c < h.ncpu; c++ {
		hi.actionLocks[c].Lock()
		out := hi.actions[c][:0]
		for _, a := range hi.actions[c] {
			if a.dev != dev {
				out = append(out, a)
			}
		}
		if len(out) == 0 && len(hi.actions[c]) > 0 {
			emptied = true
		}
		hi.actions[c] = out
		hi.actionLocks[c].Unlock()
	}

	if emptied {
		return h.Disable(irqNum)
	}
	return nil
}
