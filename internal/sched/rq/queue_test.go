package rq

import "testing"

type testItem struct {
	name string
	prio int
	link Linkage
}

func (i *testItem) Priority() int { return i.prio }
func (i *testItem) Link() *Linkage { return &i.link }

func TestFIFOWithinBand(t *testing.T) {
	q := New(0, 7)
	a := &testItem{name: "a", prio: 3}
	b := &testItem{name: "b", prio: 3}
	c := &testItem{name: "c", prio: 3}

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue: queue unexpectedly empty")
		}
		if got.(*testItem).name != want {
			t.Fatalf("dequeue order: got %s want %s", got.(*testItem).name, want)
		}
	}
}

func TestHighestBandWins(t *testing.T) {
	q := New(0, 7)
	low := &testItem{name: "low", prio: 1}
	high := &testItem{name: "high", prio: 5}

	q.Enqueue(low)
	q.Enqueue(high)

	got, ok := q.Dequeue()
	if !ok || got.(*testItem).name != "high" {
		t.Fatalf("expected high priority item first, got %+v ok=%v", got, ok)
	}
}

func TestDetach(t *testing.T) {
	q := New(0, 7)
	a := &testItem{name: "a", prio: 2}
	b := &testItem{name: "b", prio: 2}
	q.Enqueue(a)
	q.Enqueue(b)

	if !q.Detach(a) {
		t.Fatalf("detach: expected a to be queued")
	}
	if q.Detach(a) {
		t.Fatalf("detach: expected second detach of a to fail")
	}
	if q.Length(2) != 1 {
		t.Fatalf("length after detach: got %d want 1", q.Length(2))
	}

	got, ok := q.Dequeue()
	if !ok || got.(*testItem).name != "b" {
		t.Fatalf("expected b to remain, got %+v ok=%v", got, ok)
	}
}

func TestPreemptNeeded(t *testing.T) {
	q := New(0, 7)
	if q.PreemptNeeded(0) {
		t.Fatalf("empty queue should never require preemption")
	}

	q.Enqueue(&testItem{name: "same", prio: 3})
	if q.PreemptNeeded(3) {
		t.Fatalf("equal priority must not trigger preemption")
	}

	q.Enqueue(&testItem{name: "higher", prio: 4})
	if !q.PreemptNeeded(3) {
		t.Fatalf("strictly higher priority must trigger preemption")
	}
}

func TestLengthNeverNegative(t *testing.T) {
	q := New(0, 7)
	if q.Length(0) != 0 {
		t.Fatalf("fresh band must be empty")
	}
	item := &testItem{name: "idle", prio: 0}
	q.Enqueue(item)
	q.Dequeue()
	if q.Length(0) != 0 {
		t.Fatalf("length went negative: %d", q.Length(0))
	}
}

func TestOutOfRangePriorityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for out-of-range priority")
		}
	}()
	q := New(0, 7)
	q.Enqueue(&testItem{name: "bad", prio: 99})
}
