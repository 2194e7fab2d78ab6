// Package wire provides the sequential little-endian byte writer and reader used
// to build and consume datagram payloads.
package wire

import (
	"encoding/binary"
	"math"
)

// DefaultCapacity is the payload capacity used when a transport does not
// configure one. It matches a typical datagram MTU.
const DefaultCapacity = 1400

// Writer appends little-endian values to a bounded buffer. A write that would
// exceed the capacity is dropped and marks the writer as failed; callers check
// Failed once after writing instead of after every call.
type Writer struct {
	buf      []byte
	capacity int
	failed   bool
}

// NewWriter returns an empty Writer that accepts at most capacity bytes. A
// capacity of zero or less means unbounded.
//
// Parameters:
//   - capacity: Maximum number of bytes the writer will hold
//
// Returns:
//   - A new *Writer
func NewWriter(capacity int) *Writer {
	w := &Writer{capacity: capacity}
	if capacity > 0 {
		w.buf = make([]byte, 0, capacity)
	}

	return w
}

func (w *Writer) reserve(n int) bool {
	if w.failed {
		return false
	}

	if w.capacity > 0 && len(w.buf)+n > w.capacity {
		w.failed = true
		return false
	}

	return true
}

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(v uint8) {
	if w.reserve(1) {
		w.buf = append(w.buf, v)
	}
}

// WriteUint16 appends v as 2 little-endian bytes.
func (w *Writer) WriteUint16(v uint16) {
	if w.reserve(2) {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	}
}

// WriteUint32 appends v as 4 little-endian bytes.
func (w *Writer) WriteUint32(v uint32) {
	if w.reserve(4) {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	}
}

// WriteInt32 appends v as 4 little-endian bytes.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint64 appends v as 8 little-endian bytes.
func (w *Writer) WriteUint64(v uint64) {
	if w.reserve(8) {
		w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	}
}

// WriteFloat32 appends the IEEE 754 bits of v.
func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteBytes appends p verbatim, without a length prefix.
func (w *Writer) WriteBytes(p []byte) {
	if w.reserve(len(p)) {
		w.buf = append(w.buf, p...)
	}
}

// WriteString appends s prefixed with its length as a uint16. Strings longer
// than 65535 bytes fail the writer.
//
// Parameters:
//   - s: The string to append
func (w *Writer) WriteString(s string) {
	if len(s) > math.MaxUint16 {
		w.failed = true
		return
	}

	if w.reserve(2 + len(s)) {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(s)))
		w.buf = append(w.buf, s...)
	}
}

// Bytes returns the written bytes. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Capacity returns the configured capacity, or 0 when unbounded.
func (w *Writer) Capacity() int {
	return w.capacity
}

// Failed reports whether any write was dropped for lack of capacity.
func (w *Writer) Failed() bool {
	return w.failed
}

// Reset empties the writer and clears the failure flag, keeping the capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.failed = false
}
