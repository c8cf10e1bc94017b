package sched

import "errors"

// Error taxonomy (SPEC_FULL.md §6/§7). Plain sentinel errors, matching the
// teacher's convention (internal/hv/common.go) rather than a third-party
// errors package — none appears anywhere in the retrieved pack.
var (
	ErrInvalid    = errors.New("sched: invalid argument or state transition")
	ErrAgain      = errors.New("sched: transient conflict, retry")
	ErrNotAvail   = errors.New("sched: resource not available")
	ErrNoMemory   = errors.New("sched: resource exhausted")
	ErrFail       = errors.New("sched: operation failed")
)
