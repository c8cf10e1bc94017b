package sched

import (
	"bytes"
	"testing"
	"time"

	"github.com/tinyrange/vhostsched/internal/timeslice"
)

func newTestManager(t *testing.T, cpuCount int) (*Manager, *fakeArch) {
	t.Helper()
	arch := &fakeArch{}
	mgr := NewManager(Config{
		Arch:     arch,
		Clock:    newFakeClock(),
		CPUCount: cpuCount,
	})
	for h := 0; h < cpuCount; h++ {
		if _, err := mgr.InitCPU(HCPU(h)); err != nil {
			t.Fatalf("InitCPU(%d): %v", h, err)
		}
	}
	return mgr, arch
}

func mustReady(t *testing.T, v *VCPU) {
	t.Helper()
	if err := v.StateChange(StateReset, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := v.StateChange(StateReady, nil); err != nil {
		t.Fatalf("ready: %v", err)
	}
}

func TestIdleRunsWithNoGuests(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	cur := mgr.CurrentVCPU(0)
	if cur == nil || cur.Name() != "idle/0" {
		t.Fatalf("current = %v, want idle/0", cur)
	}
}

func TestReadyGuestPreemptsIdle(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	g := mgr.CreateGuest("g")
	v, err := mgr.CreateGuestVCPU(g, "v0", MinPriority+1, AffinityOf(0))
	if err != nil {
		t.Fatalf("CreateGuestVCPU: %v", err)
	}
	mustReady(t, v)

	if mgr.CurrentVCPU(0) != v {
		t.Fatalf("current = %v, want %v", mgr.CurrentVCPU(0), v)
	}
	if v.State() != StateRunning {
		t.Fatalf("state = %v, want RUNNING", v.State())
	}
}

func TestStateChangeFromUnknownToReadyIsInvalid(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	g := mgr.CreateGuest("g")
	v, err := mgr.CreateGuestVCPU(g, "v0", MinPriority+1, AffinityOf(0))
	if err != nil {
		t.Fatalf("CreateGuestVCPU: %v", err)
	}
	if err := v.StateChange(StateReady, nil); err != ErrInvalid {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestPauseRunningThenDoubleResumeReturnsToReady(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	g := mgr.CreateGuest("g")
	v, _ := mgr.CreateGuestVCPU(g, "v0", MinPriority+1, AffinityOf(0))
	mustReady(t, v)

	if err := v.StateChange(StatePaused, nil); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if v.State() != StatePaused {
		t.Fatalf("state = %v, want PAUSED", v.State())
	}

	// One resume only rebalances resume_count back to zero (Open
	// Question 2's suppression branch); it takes a second to actually
	// leave PAUSED.
	if err := v.StateChange(StateReady, nil); err != nil {
		t.Fatalf("resume 1: %v", err)
	}
	if v.State() != StatePaused {
		t.Fatalf("state after first resume = %v, want still PAUSED", v.State())
	}
	if err := v.StateChange(StateReady, nil); err != nil {
		t.Fatalf("resume 2: %v", err)
	}
	if v.State() != StateReady && v.State() != StateRunning {
		t.Fatalf("state = %v, want READY or RUNNING", v.State())
	}
}

// TestPauseResumeRefcountScenario replays SPEC_FULL.md §8 scenario 4
// literally: a second pause is rejected without touching resume_count,
// and the first matching resume only rebalances the counter back to
// zero without actually leaving PAUSED — it takes a second resume to
// bring the vcpu back up.
func TestPauseResumeRefcountScenario(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	g := mgr.CreateGuest("g")
	v, _ := mgr.CreateGuestVCPU(g, "v0", MinPriority+1, AffinityOf(0))
	mustReady(t, v)

	if err := v.StateChange(StatePaused, nil); err != nil {
		t.Fatalf("pause 1: %v", err)
	}
	if v.State() != StatePaused {
		t.Fatalf("state = %v, want PAUSED", v.State())
	}
	if rc := v.resumeCount.load(); rc != -1 {
		t.Fatalf("resume_count = %d, want -1", rc)
	}

	if err := v.StateChange(StatePaused, nil); err != ErrAgain {
		t.Fatalf("pause 2 err = %v, want ErrAgain", err)
	}
	if rc := v.resumeCount.load(); rc != -1 {
		t.Fatalf("resume_count after rejected pause = %d, want unchanged -1", rc)
	}

	if err := v.StateChange(StateReady, nil); err != nil {
		t.Fatalf("resume 1: %v", err)
	}
	if v.State() != StatePaused {
		t.Fatalf("state after suppressed resume = %v, want still PAUSED", v.State())
	}

	if err := v.StateChange(StateReady, nil); err != nil {
		t.Fatalf("resume 2: %v", err)
	}
	if v.State() != StateReady && v.State() != StateRunning {
		t.Fatalf("state after second resume = %v, want READY or RUNNING", v.State())
	}
}

func TestHaltFromPausedSucceeds(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	g := mgr.CreateGuest("g")
	v, _ := mgr.CreateGuestVCPU(g, "v0", MinPriority+1, AffinityOf(0))
	mustReady(t, v)

	if err := v.StateChange(StatePaused, nil); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := v.StateChange(StateHalted, nil); err != nil {
		t.Fatalf("halt: %v", err)
	}
	if v.State() != StateHalted {
		t.Fatalf("state = %v, want HALTED", v.State())
	}
}

func TestResetClearsAccounting(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	g := mgr.CreateGuest("g")
	v, _ := mgr.CreateGuestVCPU(g, "v0", MinPriority+1, AffinityOf(0))
	mustReady(t, v)

	time.Sleep(time.Millisecond)
	if err := v.StateChange(StateReset, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	snap := v.Snapshot()
	if snap.ReadyNS != 0 || snap.RunningNS != 0 {
		t.Fatalf("snapshot = %+v, want all zero after reset", snap)
	}
}

func TestCreateGuestVCPUAtMinPriorityRejected(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	g := mgr.CreateGuest("g")
	if _, err := mgr.CreateGuestVCPU(g, "v0", MinPriority, AffinityOf(0)); err != ErrInvalid {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestStateChangeRecordsTimeslices(t *testing.T) {
	var buf bytes.Buffer
	closer, err := timeslice.StartRecording(&buf)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	mgr, _ := newTestManager(t, 1)
	g := mgr.CreateGuest("g")
	v, _ := mgr.CreateGuestVCPU(g, "v0", MinPriority+1, AffinityOf(0))
	mustReady(t, v)
	time.Sleep(time.Millisecond)
	if err := v.StateChange(StatePaused, nil); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var kinds []string
	if err := timeslice.ReadAllRecords(bytes.NewReader(buf.Bytes()), func(id string, flags timeslice.SliceFlags, d time.Duration) error {
		kinds = append(kinds, id)
		return nil
	}); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if len(kinds) == 0 {
		t.Fatalf("expected at least one recorded timeslice")
	}
}

func TestMigrateReadyVCPUMovesQueues(t *testing.T) {
	mgr, _ := newTestManager(t, 2)
	g := mgr.CreateGuest("g")
	v, _ := mgr.CreateGuestVCPU(g, "v0", MinPriority+1, AffinityOf(0))
	mustReady(t, v)

	// A second, higher-priority vcpu keeps v0 on CPU 0's ready queue
	// instead of running, so the migration below exercises the READY path.
	v2, _ := mgr.CreateGuestVCPU(g, "v1", MaxPriority, AffinityOf(0))
	mustReady(t, v2)

	if v.State() != StateReady {
		t.Fatalf("state = %v, want READY", v.State())
	}

	if err := mgr.SetHCPU(v, 1); err != nil {
		t.Fatalf("SetHCPU: %v", err)
	}
	if v.HCPU() != 1 {
		t.Fatalf("hcpu = %d, want 1", v.HCPU())
	}
}
