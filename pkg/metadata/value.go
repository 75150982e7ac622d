package metadata

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/protocol/xdr"
)

// storageEnv resolves owner strings numerically, so stored identities never
// depend on the identity cache.
func storageEnv(ctx context.Context, mode attrs.Mode) *attrs.Env {
	return &attrs.Env{Ctx: ctx, Identities: attrs.NumericIdentities{}, Mode: mode}
}

// Normalize converts v to the form stores keep: owner and group become
// their numeric id and slice values are copied so the caller's value can be
// reused.
func Normalize(reg *attrs.Registry, id attrs.AttrID, v attrs.Value) (attrs.Value, error) {
	d, ok := reg.Lookup(id)
	if !ok {
		return nil, NotProvided(id)
	}
	if d.Access == attrs.WriteOnly {
		return nil, types.NewStatusError(types.NFS4ERR_INVAL, "%s cannot be stored", d.Name)
	}
	switch x := v.(type) {
	case attrs.Identity:
		return x.ID, nil
	case []byte:
		return bytes.Clone(x), nil
	case attrs.Bitmap:
		return x.Clone(), nil
	case []attrs.ACE:
		return slices.Clone(x), nil
	case []uint32:
		return slices.Clone(x), nil
	}
	return v, nil
}

// EncodeValue serializes one attribute value in its XDR wire form, the
// format the persistent store keeps on disk.
func EncodeValue(ctx context.Context, reg *attrs.Registry, id attrs.AttrID, v attrs.Value) ([]byte, error) {
	d, ok := reg.Lookup(id)
	if !ok {
		return nil, NotProvided(id)
	}
	v, err := Normalize(reg, id, v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := d.Encode(&buf, v, storageEnv(ctx, attrs.ModeEncode)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Name, err)
	}
	return buf.Bytes(), nil
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(ctx context.Context, reg *attrs.Registry, id attrs.AttrID, data []byte) (attrs.Value, error) {
	d, ok := reg.Lookup(id)
	if !ok {
		return nil, NotProvided(id)
	}
	c := xdr.NewCursor(data)
	v, st, err := d.Decode(c, storageEnv(ctx, attrs.ModeDecode))
	if err != nil {
		return nil, fmt.Errorf("decode stored %s: %w", d.Name, err)
	}
	if st != attrs.StatusOK {
		return nil, fmt.Errorf("decode stored %s: %s", d.Name, st)
	}
	if c.Remaining() != 0 {
		return nil, fmt.Errorf("decode stored %s: %d trailing bytes", d.Name, c.Remaining())
	}
	if ident, ok := v.(attrs.Identity); ok {
		return ident.ID, nil
	}
	return v, nil
}
