// Package rq implements the priority-indexed ready-queue: one FIFO band per
// priority level, highest non-empty band wins. Bands are intrusive doubly
// linked lists threaded through the Linkage embedded in each Item, so
// enqueue/dequeue/detach never allocate past Queue construction.
//
// Tie-break within a band is insertion order (FIFO). Across bands, a
// strictly-greater priority always preempts — there is no round-robin
// fallback for VCPUs tied on priority; see PreemptNeeded.
package rq

import "fmt"

// Item is implemented by anything that can sit on a Queue. Priority must
// stay constant while the item is enqueued; Link must always return the
// same *Linkage for a given Item.
type Item interface {
	Priority() int
	Link() *Linkage
}

// Linkage is embedded in any Item. Zero value is "not queued". Must not be
// copied once an Item holding it has been enqueued.
type Linkage struct {
	next, prev Item
	queued     bool
}

// Queued reports whether the owning Item is currently on a Queue.
func (l *Linkage) Queued() bool { return l.queued }

type band struct {
	head, tail Item
	length     int
}

// Queue is a priority-indexed FIFO ready-queue over priorities [min, max].
type Queue struct {
	min, max int
	bands    []band
}

// New builds an empty Queue over the inclusive priority range [min, max].
func New(min, max int) *Queue {
	if max < min {
		panic(fmt.Sprintf("rq: invalid priority range [%d,%d]", min, max))
	}
	return &Queue{min: min, max: max, bands: make([]band, max-min+1)}
}

func (q *Queue) bandIndex(p int) int {
	if p < q.min || p > q.max {
		panic(fmt.Sprintf("rq: priority %d out of range [%d,%d]", p, q.min, q.max))
	}
	return p - q.min
}

// Enqueue places it at the tail of its priority band. The caller must
// guarantee it is not already queued.
func (q *Queue) Enqueue(it Item) {
	l := it.Link()
	if l.queued {
		panic("rq: enqueue: item already queued")
	}
	b := &q.bands[q.bandIndex(it.Priority())]
	l.next = nil
	l.prev = b.tail
	if b.tail != nil {
		b.tail.Link().next = it
	} else {
		b.head = it
	}
	b.tail = it
	b.length++
	l.queued = true
}

// Dequeue removes and returns the head of the highest non-empty band.
// Returns ok=false only if the queue is entirely empty.
func (q *Queue) Dequeue() (it Item, ok bool) {
	for p := q.max; p >= q.min; p-- {
		b := &q.bands[q.bandIndex(p)]
		if b.head == nil {
			continue
		}
		it = b.head
		q.unlink(b, it)
		return it, true
	}
	return nil, false
}

// Detach removes it from its band. Returns false if it was not queued.
func (q *Queue) Detach(it Item) bool {
	l := it.Link()
	if !l.queued {
		return false
	}
	b := &q.bands[q.bandIndex(it.Priority())]
	q.unlink(b, it)
	return true
}

func (q *Queue) unlink(b *band, it Item) {
	l := it.Link()
	if l.prev != nil {
		l.prev.Link().next = l.next
	} else {
		b.head = l.next
	}
	if l.next != nil {
		l.next.Link().prev = l.prev
	} else {
		b.tail = l.prev
	}
	l.next, l.prev = nil, nil
	l.queued = false
	b.length--
}

// Length returns the number of items queued at priority p.
func (q *Queue) Length(p int) int {
	return q.bands[q.bandIndex(p)].length
}

// PreemptNeeded reports whether any band strictly above currentPriority is
// non-empty. Equal-priority bands never trigger preemption (Open Question 1,
// resolved as strictly-greater-only — see SPEC_FULL.md §4.1).
func (q *Queue) PreemptNeeded(currentPriority int) bool {
	for p := q.max; p > currentPriority; p-- {
		if q.bands[q.bandIndex(p)].length > 0 {
			return true
		}
	}
	return false
}

// Min and Max return the queue's configured priority bounds.
func (q *Queue) Min() int { return q.min }
func (q *Queue) Max() int { return q.max }
