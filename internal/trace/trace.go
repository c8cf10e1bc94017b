// Package trace is a lock-free binary event recorder for the scheduler and
// IRQ dispatch hot paths: the tick, the context switch, the IRQ flow
// handlers. Both run far too often for a formatting structured logger, so
// this sits next to log/slog rather than replacing it — slog carries
// ordinary operational events, this carries anything called on every tick
// or every interrupt.
//
// Each event contains a timestamp, a source tag (e.g. "sched.tick",
// "irq.dispatch"), and a short message. The binary format is:
//   - 2 bytes type (0 = invalid, 1 = bytes, 2 = string)
//   - 2 bytes source length
//   - 4 bytes message length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - sourceLength bytes source
//   - messageLength bytes message
//
// Thread-safety comes from atomically reserving a byte range in the
// destination before writing into it, so concurrent hCPU goroutines never
// interleave a single event.
package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

type Kind uint16

const (
	KindInvalid Kind = iota
	KindBytes
	KindString
)

// Sink is the destination for recorded events; os.File satisfies it.
type Sink interface {
	io.WriterAt
	io.Closer
}

type writer struct {
	w Sink
}

var (
	fh     atomic.Pointer[writer]
	offset atomic.Uint64
)

// OpenFile truncates and opens filename as the trace destination.
func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Open installs w as the trace destination. The previous destination, if
// any, is discarded without being closed — callers that care must Close it
// themselves first.
func Open(w Sink) error {
	offset.Store(0)
	if fh.Swap(&writer{w: w}) != nil {
		return fmt.Errorf("trace: already open, discarded old writer")
	}
	return nil
}

// Close closes the current trace destination, if any.
func Close() error {
	fh := fh.Swap(nil)
	if fh != nil {
		if err := fh.w.Close(); err != nil {
			return err
		}
	}
	offset.Store(0)
	return nil
}

func encodeHeader(kind Kind, source string, data []byte) ([]byte, int64) {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(time.Now().UnixNano()))
	return header, int64(len(source) + len(data) + 16)
}

func writeBytes(kind Kind, source string, data []byte) {
	fh := fh.Load()
	if fh == nil {
		return
	}

	header, size := encodeHeader(kind, source, data)
	off := offset.Add(uint64(size)) - uint64(size)
	if _, err := fh.w.WriteAt(header, int64(off)); err != nil {
		return
	}
	if _, err := fh.w.WriteAt([]byte(source), int64(off)+16); err != nil {
		return
	}
	if _, err := fh.w.WriteAt(data, int64(off)+16+int64(len(source))); err != nil {
		return
	}
}

// Event records a formatted string event tagged with source, e.g.
// trace.Event("sched.tick", "hcpu=%d next=%d", hcpu, next.ID()).
func Event(source, format string, args ...any) {
	writeBytes(KindString, source, fmt.Appendf(nil, format, args...))
}

// EventBytes records a raw-bytes event tagged with source.
func EventBytes(source string, data []byte) {
	writeBytes(KindBytes, source, data)
}

// Source returns an event recorder pre-bound to a source tag, so hot call
// sites don't repeat the tag at every call.
func Source(source string) Recorder {
	return recorder{source: source}
}

type Recorder interface {
	Event(format string, args ...any)
	EventBytes(data []byte)
}

type recorder struct{ source string }

func (r recorder) Event(format string, args ...any) { Event(r.source, format, args...) }
func (r recorder) EventBytes(data []byte)            { EventBytes(r.source, data) }
