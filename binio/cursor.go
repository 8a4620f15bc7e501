// Package binio provides a bounds-checked cursor over an in-memory byte
// buffer with endian-aware primitive reads. It is the safety boundary the
// decoding pipeline relies on: no read ever panics or advances past the end
// of the buffer, and a failed read leaves the cursor position unchanged.
package binio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrTruncated is returned when fewer bytes remain than a read requires.
	ErrTruncated = errors.New("binio: truncated input")
	// ErrUnterminated is returned when a delimiter scan exhausts its window
	// without finding the delimiter.
	ErrUnterminated = errors.New("binio: unterminated sequence")
	// ErrInvalidCount is returned when a caller passes a negative size.
	ErrInvalidCount = errors.New("binio: negative byte count")
)

// Cursor owns a read-only view of a byte buffer and a mutable offset.
// The offset never exceeds the buffer length. Reads advance the offset by
// exactly the number of bytes consumed, or fail without moving it.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a cursor positioned at the start of buf. The cursor
// aliases buf; the caller must not mutate it while the cursor is in use.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Position returns the current byte offset from the start of the buffer.
func (c *Cursor) Position() int { return c.off }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Len returns the total buffer length.
func (c *Cursor) Len() int { return len(c.buf) }

// take reserves n bytes at the current offset, advancing past them.
func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrInvalidCount
	}
	if c.Remaining() < n {
		return nil, ErrTruncated
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// ReadU8 reads one byte.
func (c *Cursor) ReadU8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a 16-bit unsigned integer in the given byte order.
func (c *Cursor) ReadU16(order binary.ByteOrder) (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

// ReadU32 reads a 32-bit unsigned integer in the given byte order.
func (c *Cursor) ReadU32(order binary.ByteOrder) (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

// ReadU64 reads a 64-bit unsigned integer in the given byte order.
func (c *Cursor) ReadU64(order binary.ByteOrder) (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(b), nil
}

// ReadU24 reads a 24-bit unsigned integer in the given byte order,
// zero-extended to 32 bits.
func (c *Cursor) ReadU24(order binary.ByteOrder) (uint32, error) {
	b, err := c.take(3)
	if err != nil {
		return 0, err
	}
	var quad [4]byte
	if order == binary.BigEndian {
		copy(quad[1:], b)
	} else {
		copy(quad[:3], b)
	}
	return order.Uint32(quad[:]), nil
}

// ReadF32 reads an IEEE 754 single-precision float in the given byte order.
func (c *Cursor) ReadF32(order binary.ByteOrder) (float32, error) {
	v, err := c.ReadU32(order)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadF64 reads an IEEE 754 double-precision float in the given byte order.
func (c *Cursor) ReadF64(order binary.ByteOrder) (float64, error) {
	v, err := c.ReadU64(order)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadBytes reads exactly n bytes. The returned slice aliases the cursor's
// buffer and must be copied if retained.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	return c.take(n)
}

// ReadCString reads bytes up to a NUL terminator, scanning at most max bytes.
// The terminator is consumed but not returned. If no terminator is found
// within the window, the cursor does not move and ErrUnterminated is
// returned.
func (c *Cursor) ReadCString(max int) ([]byte, error) {
	if max < 0 {
		return nil, ErrInvalidCount
	}
	window := c.Remaining()
	if window > max {
		window = max
	}
	i := bytes.IndexByte(c.buf[c.off:c.off+window], 0x00)
	if i < 0 {
		return nil, ErrUnterminated
	}
	b := c.buf[c.off : c.off+i]
	c.off += i + 1
	return b, nil
}

// ScanUntil reads bytes up to the first occurrence of delim, scanning at
// most max bytes (delimiter included). The delimiter is consumed but not
// returned. If the delimiter is not found within the window, the cursor does
// not move and ErrUnterminated is returned.
func (c *Cursor) ScanUntil(delim []byte, max int) ([]byte, error) {
	if max < 0 {
		return nil, ErrInvalidCount
	}
	if len(delim) == 0 {
		return nil, ErrInvalidCount
	}
	window := c.Remaining()
	if window > max {
		window = max
	}
	i := bytes.Index(c.buf[c.off:c.off+window], delim)
	if i < 0 {
		return nil, ErrUnterminated
	}
	b := c.buf[c.off : c.off+i]
	c.off += i + len(delim)
	return b, nil
}

// Skip advances the cursor by n bytes without reading them.
func (c *Cursor) Skip(n int) error {
	_, err := c.take(n)
	return err
}

// SeekTo moves the cursor to an absolute offset within the buffer.
func (c *Cursor) SeekTo(off int) error {
	if off < 0 {
		return ErrInvalidCount
	}
	if off > len(c.buf) {
		return ErrTruncated
	}
	c.off = off
	return nil
}

// IndexByteFrom returns the absolute offset of the first occurrence of b at
// or after the current position, or -1 if b does not occur in the remaining
// bytes. The cursor does not move.
func (c *Cursor) IndexByteFrom(b byte) int {
	i := bytes.IndexByte(c.buf[c.off:], b)
	if i < 0 {
		return -1
	}
	return c.off + i
}
