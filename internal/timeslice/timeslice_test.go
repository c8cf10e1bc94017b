package timeslice

import (
	"bytes"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

var (
	timesliceVCPURunning = RegisterKind("test.vcpu.running", SliceFlagGuestTime)
	timesliceVCPUPaused  = RegisterKind("test.vcpu.paused", 0)
	timesliceBootInit    = RegisterKind("test.boot.init", SliceFlagInitTime)
)

// TestRecordRoundTrip exercises a run-loop-shaped sequence of state
// buckets (the shape vcpu.go's addBucket feeds in) through an
// in-memory writer and back.
func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	func() {
		rec, err := StartRecording(&buf)
		if err != nil {
			t.Fatalf("StartRecording: %v", err)
		}
		defer rec.Close()

		Record(timesliceBootInit, 50*time.Microsecond)
		Record(timesliceVCPURunning, 4*time.Millisecond)
		Record(timesliceVCPUPaused, 1*time.Millisecond)
		Record(timesliceVCPURunning, 6*time.Millisecond)
	}()

	type got struct {
		name     string
		flags    SliceFlags
		duration time.Duration
	}
	var records []got
	r := bytes.NewReader(buf.Bytes())
	if err := ReadAllRecords(r, func(id string, flags SliceFlags, duration time.Duration) error {
		records = append(records, got{id, flags, duration})
		return nil
	}); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}

	want := []got{
		{"test.boot.init", SliceFlagInitTime, 50 * time.Microsecond},
		{"test.vcpu.running", SliceFlagGuestTime, 4 * time.Millisecond},
		{"test.vcpu.paused", 0, 1 * time.Millisecond},
		{"test.vcpu.running", SliceFlagGuestTime, 6 * time.Millisecond},
	}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d: %+v", len(want), len(records), records)
	}
	for i, w := range want {
		if records[i] != w {
			t.Fatalf("record %d: got %+v, want %+v", i, records[i], w)
		}
	}
}

// TestRecordWithNoRecorderIsDiscarded mirrors what happens before a
// -timeslice-out flag is set: Record must be a silent no-op rather
// than blocking or panicking.
func TestRecordWithNoRecorderIsDiscarded(t *testing.T) {
	Record(timesliceVCPURunning, time.Second)
}

// TestStartRecordingRejectsConcurrentOpen matches the one-recorder
// invariant cmd/schedsim relies on when -timeslice-out is set: a
// second StartRecording before the first is closed must fail rather
// than silently steal the destination.
func TestStartRecordingRejectsConcurrentOpen(t *testing.T) {
	var buf bytes.Buffer
	rec, err := StartRecording(&buf)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	defer rec.Close()

	if _, err := StartRecording(&bytes.Buffer{}); err == nil {
		t.Fatalf("expected second StartRecording to fail while the first is open")
	}
}

// TestOpenFileRoundTrip exercises the cmd/schedsim -timeslice-out path
// end to end: OpenFile truncates/creates the destination file, and a
// fresh reader of that file recovers the same records.
func TestOpenFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vcpu.tslice")

	closer, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	Record(timesliceVCPURunning, 2*time.Millisecond)
	Record(timesliceVCPUPaused, 3*time.Millisecond)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var names []string
	if err := ReadAllRecords(f, func(id string, flags SliceFlags, duration time.Duration) error {
		names = append(names, id)
		return nil
	}); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if len(names) != 2 || names[0] != "test.vcpu.running" || names[1] != "test.vcpu.paused" {
		t.Fatalf("unexpected records: %+v", names)
	}
}

// BenchmarkRecordThroughput measures Record's cost under the rate a
// busy hCPU's tick loop would drive it at: one bucket flush per
// state transition.
func BenchmarkRecordThroughput(b *testing.B) {
	var buf bytes.Buffer
	var count uint64
	func() {
		rec, err := StartRecording(&buf)
		if err != nil {
			b.Fatalf("StartRecording: %v", err)
		}
		defer rec.Close()

		b.ResetTimer()

		for b.Loop() {
			Record(timesliceVCPURunning, 4*time.Millisecond)
			Record(timesliceVCPUPaused, 1*time.Millisecond)
			atomic.AddUint64(&count, 2)
		}
	}()

	b.ReportMetric(float64(count), "records")
	b.StopTimer()

	r := bytes.NewReader(buf.Bytes())

	var seen uint64
	if err := ReadAllRecords(r, func(id string, flags SliceFlags, duration time.Duration) error {
		atomic.AddUint64(&seen, 1)
		return nil
	}); err != nil {
		b.Fatalf("ReadAllRecords: %v", err)
	}
	if seen != count {
		b.Fatalf("expected %d records, got %d", count, seen)
	}
}
