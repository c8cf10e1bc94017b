package sched

// Affinity is a bitset of hCPUs a VCPU may execute on, capped at 64 hCPUs —
// comfortably above any realistic CPU_COUNT for this target.
type Affinity uint64

// AffinityOf builds an Affinity from a list of hCPU indices.
func AffinityOf(hcpus ...HCPU) Affinity {
	var a Affinity
	for _, h := range hcpus {
		a |= 1 << uint(h)
	}
	return a
}

// Allows reports whether h is permitted by the affinity mask.
func (a Affinity) Allows(h HCPU) bool {
	return a&(1<<uint(h)) != 0
}

// With returns a with h added.
func (a Affinity) With(h HCPU) Affinity {
	return a | (1 << uint(h))
}
