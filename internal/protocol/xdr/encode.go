package xdr

import (
	"bytes"
	"encoding/binary"
)

// ============================================================================
// Encoding helpers - Go Types → Wire Format
// ============================================================================
//
// All writers append to a *bytes.Buffer. bytes.Buffer.Write never returns an
// error (it panics on allocation failure), so the error results exist only
// to keep call sites uniform with the decoders.

var zeroPad [3]byte

// WriteXDROpaque encodes variable-length opaque data: length + data + padding.
//
// Per RFC 4506 Section 4.10:
//
//	[]byte{0x01, 0x02, 0x03} → [00 00 00 03][01 02 03][00] (8 bytes total)
func WriteXDROpaque(buf *bytes.Buffer, data []byte) error {
	_ = WriteUint32(buf, uint32(len(data)))
	buf.Write(data)
	return WriteXDRPadding(buf, uint32(len(data)))
}

// WriteXDRString encodes a string: length + bytes + padding.
//
//	"abc"  → [00 00 00 03][61 62 63][00]
//	"test" → [00 00 00 04][74 65 73 74]
func WriteXDRString(buf *bytes.Buffer, s string) error {
	_ = WriteUint32(buf, uint32(len(s)))
	buf.WriteString(s)
	return WriteXDRPadding(buf, uint32(len(s)))
}

// WriteXDRPadding writes the 0-3 zero bytes that align dataLen to 4 bytes.
func WriteXDRPadding(buf *bytes.Buffer, dataLen uint32) error {
	if p := Pad(int(dataLen)); p > 0 {
		buf.Write(zeroPad[:p])
	}
	return nil
}

// WriteUint32 encodes a big-endian 32-bit unsigned integer.
func WriteUint32(buf *bytes.Buffer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
	return nil
}

// WriteUint64 encodes a big-endian 64-bit unsigned hyper.
func WriteUint64(buf *bytes.Buffer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
	return nil
}

// WriteInt64 encodes a big-endian two's complement hyper.
func WriteInt64(buf *bytes.Buffer, v int64) error {
	return WriteUint64(buf, uint64(v))
}

// WriteBool encodes a boolean as uint32 0 or 1.
func WriteBool(buf *bytes.Buffer, v bool) error {
	var val uint32
	if v {
		val = 1
	}
	return WriteUint32(buf, val)
}

// PutUint32At overwrites 4 bytes at offset off of an already-written buffer.
// It is used to backpatch a length prefix once the payload size is known.
func PutUint32At(buf *bytes.Buffer, off int, v uint32) {
	binary.BigEndian.PutUint32(buf.Bytes()[off:off+4], v)
}
