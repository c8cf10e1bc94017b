package irq

import "errors"

// ErrNotAvail is returned for an unknown IRQ number or an exhausted
// extended-IRQ group table.
var ErrNotAvail = errors.New("irq: not available")

// ErrInvalid covers malformed control-API arguments (e.g. an oversized
// extended-IRQ group).
var ErrInvalid = errors.New("irq: invalid argument")

// ErrDuplicate is returned by Register when dev is already registered on
// (irq, cpu).
var ErrDuplicate = errors.New("irq: duplicate action")

// ErrNoMemory is returned when the fixed-size extended-IRQ children array
// has no room left for a new group.
var ErrNoMemory = errors.New("irq: no memory")
