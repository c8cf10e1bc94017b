package irq

// HostIRQCount is the size of the native (non-extended) IRQ array,
// matching SPEC_FULL.md's HOST_IRQ_COUNT.
const HostIRQCount = 256

// ExtendedIRQCount is the total number of virtual IRQ slots available
// above HostIRQCount.
const ExtendedIRQCount = 4096

// ExtendedGroupCount bounds how many separate extended-IRQ groups Map
// may allocate before returning ErrNotAvail.
const ExtendedGroupCount = 64

// MaxGroupSize is the largest size Map accepts for a single group.
const MaxGroupSize = 999

// NoMoreIRQ is the sentinel an Arch "active" callback returns from
// ActiveExec's underlying probe to mean "no more pending IRQs this
// trap".
const NoMoreIRQ = -1
