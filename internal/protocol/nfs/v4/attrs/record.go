package attrs

import (
	"context"
	"fmt"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
)

// Status marks why a requested attribute carries no usable value.
type Status int

const (
	StatusOK Status = iota
	// StatusNotSupported: the id has no local descriptor or the backend
	// does not provide it.
	StatusNotSupported
	// StatusInvalid: well-formed on the wire but semantically invalid,
	// e.g. a reserved enum value or a mode above 07777.
	StatusInvalid
	// StatusBadOwner: an owner or group string that could not be mapped.
	StatusBadOwner
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotSupported:
		return "not_supported"
	case StatusInvalid:
		return "invalid"
	case StatusBadOwner:
		return "bad_owner"
	}
	return "unknown"
}

// Record is the decoded (or to-be-encoded) contents of one attribute block.
// It is owned by the request that created it and is not safe for concurrent
// use.
type Record struct {
	values map[AttrID]Value
	status map[AttrID]Status

	// NotSupp is set when the peer's bitmap referenced ids beyond the
	// locally known words.
	NotSupp bool
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[AttrID]Value)}
}

// Set stores v for id, clearing any status marker.
func (r *Record) Set(id AttrID, v Value) {
	r.values[id] = v
	delete(r.status, id)
}

// Get returns the value for id.
func (r *Record) Get(id AttrID) (Value, bool) {
	v, ok := r.values[id]
	return v, ok
}

// Has reports whether id has a value.
func (r *Record) Has(id AttrID) bool {
	_, ok := r.values[id]
	return ok
}

// Delete removes any value and status for id.
func (r *Record) Delete(id AttrID) {
	delete(r.values, id)
	delete(r.status, id)
}

// Mark records a non-OK status for id. Any value is kept so callers can
// still inspect what was on the wire.
func (r *Record) Mark(id AttrID, s Status) {
	if r.status == nil {
		r.status = make(map[AttrID]Status)
	}
	r.status[id] = s
}

// Status returns the status marker for id.
func (r *Record) Status(id AttrID) Status {
	return r.status[id]
}

// Present returns the ids with a value and no status marker.
func (r *Record) Present() Bitmap {
	var b Bitmap
	for id := range r.values {
		if r.status[id] == StatusOK {
			b.Set(id)
		}
	}
	return b
}

// Marked returns the ids carrying status s.
func (r *Record) Marked(s Status) Bitmap {
	var b Bitmap
	for id, st := range r.status {
		if st == s {
			b.Set(id)
		}
	}
	return b
}

// Len returns the number of ids with a value.
func (r *Record) Len() int {
	return len(r.values)
}

// Err folds the record's markers into the single NFSv4 status a SETATTR-like
// operation reports: ATTRNOTSUPP first, then BADOWNER, then INVAL.
func (r *Record) Err() error {
	if r.NotSupp {
		return types.NewStatusError(types.NFS4ERR_ATTRNOTSUPP, "bitmap references unknown attributes")
	}
	if ids := r.Marked(StatusNotSupported); !ids.Empty() {
		return types.NewStatusError(types.NFS4ERR_ATTRNOTSUPP, "unsupported attributes %v", ids)
	}
	if ids := r.Marked(StatusBadOwner); !ids.Empty() {
		return types.NewStatusError(types.NFS4ERR_BADOWNER, "unmapped identities %v", ids)
	}
	if ids := r.Marked(StatusInvalid); !ids.Empty() {
		return types.NewStatusError(types.NFS4ERR_INVAL, "invalid attributes %v", ids)
	}
	return nil
}

// Uint64 returns a KindUint64 value.
func (r *Record) Uint64(id AttrID) (uint64, bool) {
	v, ok := r.values[id].(uint64)
	return v, ok
}

// Uint32 returns a KindUint32 value.
func (r *Record) Uint32(id AttrID) (uint32, bool) {
	v, ok := r.values[id].(uint32)
	return v, ok
}

// Identity returns a KindOwner or KindGroup value.
func (r *Record) Identity(id AttrID) (Identity, bool) {
	v, ok := r.values[id].(Identity)
	return v, ok
}

// Attribute implements Source, so a Record can stand in for a storage
// backend when encoding or comparing.
func (r *Record) Attribute(_ context.Context, id AttrID) (Value, error) {
	v, ok := r.values[id]
	if !ok {
		return nil, fmt.Errorf("%v: %w", id, types.ErrAttrNotSupp)
	}
	return v, nil
}

// Source supplies the local value of an attribute for Encode and Compare.
// Implementations return an error matching types.ErrAttrNotSupp (errors.Is)
// for attributes they do not provide.
type Source interface {
	Attribute(ctx context.Context, id AttrID) (Value, error)
}
