package ipi

import "testing"

func TestAsyncCallDeliversToTarget(t *testing.T) {
	b := NewBus()
	inbox0 := b.Register(0)
	_ = b.Register(1)

	done := make(chan struct{}, 1)
	b.AsyncCall([]int{0}, func() { done <- struct{}{} })

	fn := <-inbox0
	fn()
	select {
	case <-done:
	default:
		t.Fatal("call did not run")
	}
}

func TestAsyncCallUnknownTargetIsNoop(t *testing.T) {
	b := NewBus()
	b.AsyncCall([]int{99}, func() { t.Fatal("should never run") })
}

func TestAsyncCallFullInboxDropsSilently(t *testing.T) {
	b := NewBus()
	b.Register(0)
	for i := 0; i < 100; i++ {
		b.AsyncCall([]int{0}, func() {})
	}
}
