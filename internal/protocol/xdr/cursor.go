package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Cursor is a bounded reader over an in-memory XDR block. It never reads past
// the end of its slice and reports how many bytes have been consumed, which
// lets callers compare actual consumption against a declared length.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	data []byte
	off  int
}

// NewCursor returns a Cursor positioned at the start of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.off }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.data) - c.off }

// Len returns the total size of the block.
func (c *Cursor) Len() int { return len(c.data) }

// Read implements io.Reader so a Cursor can be handed to the stream helpers.
func (c *Cursor) Read(p []byte) (int, error) {
	if c.off >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(p, c.data[c.off:])
	c.off += n
	return n, nil
}

func (c *Cursor) need(n int) error {
	if n < 0 || n > c.Remaining() {
		return fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, c.off, c.Remaining(), ErrShortBuffer)
	}
	return nil
}

// Next returns the next n bytes without copying and advances past them.
func (c *Cursor) Next(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

// Skip advances past n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.Next(n)
	return err
}

// Uint32 reads a big-endian uint32.
func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Int32 reads a big-endian two's complement int32.
func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

// Uint64 reads a big-endian uint64.
func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.Next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Int64 reads a big-endian two's complement int64.
func (c *Cursor) Int64() (int64, error) {
	v, err := c.Uint64()
	return int64(v), err
}

// Bool reads an XDR boolean.
func (c *Cursor) Bool() (bool, error) {
	v, err := c.Uint32()
	return v != 0, err
}

// FixedOpaque reads n bytes of fixed-length opaque data and its padding.
// The returned slice is a copy.
func (c *Cursor) FixedOpaque(n int) ([]byte, error) {
	b, err := c.Next(Align(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out, nil
}

// Opaque reads variable-length opaque data bounded by max bytes. A max of
// zero means MaxOpaqueLength. The returned slice is a copy.
func (c *Cursor) Opaque(max int) ([]byte, error) {
	if max <= 0 {
		max = MaxOpaqueLength
	}
	n, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(max) {
		return nil, fmt.Errorf("opaque length %d exceeds %d: %w", n, max, ErrTooLong)
	}
	return c.FixedOpaque(int(n))
}

// String reads a variable-length string bounded by max bytes.
func (c *Cursor) String(max int) (string, error) {
	b, err := c.Opaque(max)
	return string(b), err
}

// Sub returns a new Cursor over the next n bytes and advances past them. The
// sub-cursor shares the underlying storage.
func (c *Cursor) Sub(n int) (*Cursor, error) {
	b, err := c.Next(n)
	if err != nil {
		return nil, err
	}
	return &Cursor{data: b}, nil
}
