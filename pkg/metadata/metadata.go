// Package metadata is the storage side of the attribute codec: a Backend
// keyed by object handle and attribute id, an attrs.Source view over one
// object, and the SETATTR-style application of a decoded attribute record.
//
// Two Backend implementations live under store/: an in-process map and a
// persistent BadgerDB store.
package metadata

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
)

// Handle identifies one object. Handles minted by this package are the 16
// bytes of a random UUID, well under the 128-byte NFSv4 limit.
type Handle []byte

// NewHandle returns a fresh random handle.
func NewHandle() Handle {
	id := uuid.New()
	return Handle(id[:])
}

// ParseHandle accepts the textual form produced by String.
func ParseHandle(s string) (Handle, error) {
	if id, err := uuid.Parse(s); err == nil {
		return Handle(id[:]), nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) == 0 || len(b) > types.NFS4_FHSIZE {
		return nil, fmt.Errorf("parse handle %q: %w", s, ErrInvalidHandle)
	}
	return Handle(b), nil
}

// String renders UUID handles in UUID form and anything else in hex.
func (h Handle) String() string {
	if len(h) == 16 {
		return uuid.UUID(h).String()
	}
	return hex.EncodeToString(h)
}

// FileID derives the fileid attribute from the handle so that it is stable
// for the life of the object.
func (h Handle) FileID() uint64 {
	if len(h) < 16 {
		var b [8]byte
		copy(b[:], h)
		return binary.BigEndian.Uint64(b[:])
	}
	return binary.BigEndian.Uint64(h[:8]) ^ binary.BigEndian.Uint64(h[8:16])
}

var (
	// ErrStaleHandle is returned for handles the backend does not know.
	// It carries NFS4ERR_STALE.
	ErrStaleHandle = types.NewStatusError(types.NFS4ERR_STALE, "unknown object")

	// ErrInvalidHandle is returned for handles that cannot be parsed.
	ErrInvalidHandle = types.NewStatusError(types.NFS4ERR_BADHANDLE, "malformed handle")

	// ErrClosed is returned by stores after Close.
	ErrClosed = errors.New("metadata: store closed")
)

// FsStats is the dynamic usage of the file system holding an object.
type FsStats struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	UsedBytes  uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
}

// Usage builds FsStats for a store with a fixed capacity. Free and
// available never go below zero.
func Usage(capacity, used, maxFiles, files uint64) FsStats {
	st := FsStats{TotalBytes: capacity, UsedBytes: used, TotalFiles: maxFiles}
	if used < capacity {
		st.FreeBytes = capacity - used
	}
	if files < maxFiles {
		st.FreeFiles = maxFiles - files
	}
	st.AvailBytes, st.AvailFiles = st.FreeBytes, st.FreeFiles
	return st
}

// Backend stores attribute values per object.
//
// GetAttribute returns an error matching types.ErrAttrNotSupp (errors.Is)
// when the object exists but carries no value for id, and ErrStaleHandle
// when the object does not exist.
type Backend interface {
	GetAttribute(ctx context.Context, handle Handle, id attrs.AttrID) (attrs.Value, error)
	SetAttribute(ctx context.Context, handle Handle, id attrs.AttrID, v attrs.Value) error
	Statfs(ctx context.Context, handle Handle) (FsStats, error)
}

// Store is a Backend that also owns object lifecycle.
type Store interface {
	Backend

	// Create stores a new object with the given initial values and
	// returns its handle.
	Create(ctx context.Context, values map[attrs.AttrID]attrs.Value) (Handle, error)

	// Remove deletes an object and all of its values.
	Remove(ctx context.Context, handle Handle) error

	// Handles lists every stored object.
	Handles(ctx context.Context) ([]Handle, error)

	Healthcheck(ctx context.Context) error
	Close() error
}

// NotProvided returns the error a Backend reports for an attribute the
// object has no value for.
func NotProvided(id attrs.AttrID) error {
	return fmt.Errorf("%v: %w", id, types.ErrAttrNotSupp)
}
