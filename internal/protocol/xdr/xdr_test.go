package xdr

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteXDRStringPadding(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"", []byte{0, 0, 0, 0}},
		{"abc", []byte{0, 0, 0, 3, 'a', 'b', 'c', 0}},
		{"test", []byte{0, 0, 0, 4, 't', 'e', 's', 't'}},
		{"hello", []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o', 0, 0, 0}},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		if err := WriteXDRString(&buf, tt.in); err != nil {
			t.Fatalf("WriteXDRString(%q): %v", tt.in, err)
		}
		if !bytes.Equal(buf.Bytes(), tt.want) {
			t.Errorf("WriteXDRString(%q) = %x, want %x", tt.in, buf.Bytes(), tt.want)
		}
		got, err := NewCursor(buf.Bytes()).String(0)
		if err != nil || got != tt.in {
			t.Errorf("String = (%q, %v), want %q", got, err, tt.in)
		}
	}
}

func TestCursorScalars(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteUint32(&buf, 0xdeadbeef)
	_ = WriteUint64(&buf, 1<<40)
	_ = WriteInt64(&buf, -2)
	_ = WriteBool(&buf, true)

	c := NewCursor(buf.Bytes())
	if v, err := c.Uint32(); err != nil || v != 0xdeadbeef {
		t.Fatalf("Uint32 = %x, %v", v, err)
	}
	if v, err := c.Uint64(); err != nil || v != 1<<40 {
		t.Fatalf("Uint64 = %d, %v", v, err)
	}
	if v, err := c.Int64(); err != nil || v != -2 {
		t.Fatalf("Int64 = %d, %v", v, err)
	}
	if v, err := c.Bool(); err != nil || !v {
		t.Fatalf("Bool = %v, %v", v, err)
	}
	if c.Offset() != 24 || c.Remaining() != 0 {
		t.Errorf("offset=%d remaining=%d, want 24/0", c.Offset(), c.Remaining())
	}
	if _, err := c.Uint32(); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("read past end: got %v, want ErrShortBuffer", err)
	}
}

func TestCursorOpaqueBounds(t *testing.T) {
	var huge bytes.Buffer
	_ = WriteUint32(&huge, MaxOpaqueLength+1)
	if _, err := NewCursor(huge.Bytes()).Opaque(0); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}

	var buf bytes.Buffer
	_ = WriteXDROpaque(&buf, []byte{1, 2, 3, 4, 5})

	c := NewCursor(buf.Bytes())
	if _, err := c.Opaque(4); !errors.Is(err, ErrTooLong) {
		t.Fatalf("Opaque(4) = %v, want ErrTooLong", err)
	}

	c = NewCursor(buf.Bytes())
	b, err := c.Opaque(0)
	if err != nil || !bytes.Equal(b, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("Opaque(0) = %v, %v", b, err)
	}
	if c.Offset() != 12 {
		t.Errorf("Offset = %d, want 12 (length + data + padding)", c.Offset())
	}

	// Truncated: length claims 5 bytes but padding is missing.
	c = NewCursor(buf.Bytes()[:9])
	if _, err := c.Opaque(0); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("truncated opaque: got %v, want ErrShortBuffer", err)
	}
}

func TestCursorSub(t *testing.T) {
	c := NewCursor([]byte{0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3})
	sub, err := c.Sub(8)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Len() != 8 || c.Offset() != 8 {
		t.Fatalf("sub.Len=%d parent offset=%d", sub.Len(), c.Offset())
	}
	v, _ := sub.Uint32()
	if v != 1 {
		t.Errorf("sub first word = %d, want 1", v)
	}
	if _, err := c.Sub(8); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("oversized Sub: got %v", err)
	}
}

func TestPutUint32At(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteUint32(&buf, 0)
	_ = WriteUint32(&buf, 7)
	PutUint32At(&buf, 0, 4)
	c := NewCursor(buf.Bytes())
	if v, _ := c.Uint32(); v != 4 {
		t.Errorf("backpatched value = %d, want 4", v)
	}
}

func TestAlign(t *testing.T) {
	for n, want := range map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8, 16: 16} {
		if got := Align(n); got != want {
			t.Errorf("Align(%d) = %d, want %d", n, got, want)
		}
	}
}
