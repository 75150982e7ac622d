// Package xdr provides XDR (External Data Representation) encoding and
// decoding utilities per RFC 4506.
//
// XDR is the serialization format used by ONC RPC protocols including NFS.
// Key characteristics:
//   - Big-endian byte order for all multi-byte integers
//   - 4-byte alignment for all data types
//   - Variable-length data is preceded by a 4-byte length
//   - Strings and opaque data are padded to 4-byte boundaries
//
// Two decoding styles are offered. The Decode* functions work on any
// io.Reader and are used for streams. Cursor works on an in-memory block and
// tracks how many bytes have been consumed, which the NFSv4 attribute codec
// needs to check a block against its declared length.
//
// This package has no dependencies on other nfscore packages.
//
// Reference: RFC 4506 - XDR: External Data Representation Standard
// https://tools.ietf.org/html/rfc4506
package xdr

import (
	"bytes"
	"errors"
	"io"
)

// MaxOpaqueLength bounds any single variable-length item read from the wire.
// Attribute values never come close; the bound protects allocation.
const MaxOpaqueLength = 1024 * 1024

// ErrShortBuffer is returned when a read would run past the end of the data
// available to a Cursor.
var ErrShortBuffer = errors.New("xdr: short buffer")

// ErrTooLong is returned when a length prefix exceeds the allowed maximum.
var ErrTooLong = errors.New("xdr: length exceeds maximum")

// Encoder is implemented by types that can encode themselves to XDR format.
type Encoder interface {
	Encode(buf *bytes.Buffer) error
}

// Decoder is implemented by types that can decode themselves from XDR format.
type Decoder interface {
	Decode(r io.Reader) error
}

// Pad returns the number of zero bytes needed to align n to 4 bytes.
func Pad(n int) int {
	return (4 - n%4) % 4
}

// Align rounds n up to the next multiple of 4.
func Align(n int) int {
	return n + Pad(n)
}
