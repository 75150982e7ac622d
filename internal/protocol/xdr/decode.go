package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ============================================================================
// Stream decoding helpers - Wire Format → Go Types
// ============================================================================

// DecodeUint32 decodes a big-endian 32-bit unsigned integer (RFC 4506 4.2).
func DecodeUint32(reader io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(reader, b[:]); err != nil {
		return 0, fmt.Errorf("read uint32: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// DecodeBool decodes an XDR boolean.
//
// Per RFC 4506 Section 4.4 (Boolean): 0 = false, any non-zero = true.
func DecodeBool(reader io.Reader) (bool, error) {
	v, err := DecodeUint32(reader)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
