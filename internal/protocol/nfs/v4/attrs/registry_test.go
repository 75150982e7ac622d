package attrs

import (
	"bytes"
	"context"
	"testing"

	"github.com/marmos91/nfscore/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	d, ok := reg.Lookup(FATTR4_SIZE)
	require.True(t, ok)
	assert.Equal(t, "size", d.Name)
	assert.Equal(t, KindUint64, d.Kind)
	assert.Equal(t, FixedWords(2), d.Size)
	assert.NotNil(t, d.Decode)
	assert.NotNil(t, d.Encode)

	_, ok = reg.Lookup(FATTR4_FS_LOCATIONS)
	assert.False(t, ok)
	_, ok = reg.Lookup(MaxAttrID + 1)
	assert.False(t, ok)

	byName, ok := reg.ByName("owner_group")
	require.True(t, ok)
	assert.Equal(t, FATTR4_OWNER_GROUP, byName.ID)

	w := reg.Writable()
	for _, id := range []AttrID{FATTR4_SIZE, FATTR4_MODE, FATTR4_OWNER, FATTR4_TIME_MODIFY_SET, FATTR4_MODE_UMASK} {
		assert.True(t, w.IsSet(id), "%v should be writable", id)
	}
	for _, id := range []AttrID{FATTR4_TYPE, FATTR4_CHANGE, FATTR4_FILEID} {
		assert.False(t, w.IsSet(id), "%v should be read-only", id)
	}
	assert.Equal(t, len(reg.All()), reg.Supported().Count())
	assert.Len(t, reg.Names(), len(reg.All()))
}

func TestRegistryAscendingOrder(t *testing.T) {
	all := DefaultRegistry().All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestNewRegistryRejects(t *testing.T) {
	tests := []struct {
		name  string
		descs []Descriptor
	}{
		{"duplicate id", []Descriptor{{ID: 4, Name: "a", Kind: KindUint64}, {ID: 4, Name: "b", Kind: KindUint64}}},
		{"duplicate name", []Descriptor{{ID: 4, Name: "a", Kind: KindUint64}, {ID: 5, Name: "a", Kind: KindBool}}},
		{"above max", []Descriptor{{ID: MaxAttrID + 1, Name: "future", Kind: KindBool}}},
		{"no name", []Descriptor{{ID: 4, Kind: KindBool}}},
		{"unknown kind", []Descriptor{{ID: 4, Name: "x", Kind: Kind(99)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.descs...)
			assert.Error(t, err)
		})
	}
	assert.Panics(t, func() { MustRegistry(Descriptor{ID: 1, Kind: KindUint32}) })
}

// A registry is plain data: a deployment can swap the codec of one
// attribute without touching the engine.
func TestCustomDescriptor(t *testing.T) {
	reg, err := NewRegistry(
		Descriptor{ID: FATTR4_SIZE, Name: "size", Kind: KindUint64, Access: ReadWrite},
		Descriptor{
			ID:   FATTR4_MIMETYPE,
			Name: "mimetype",
			Kind: KindString,
			Decode: func(c *xdr.Cursor, _ *Env) (Value, Status, error) {
				s, err := c.String(64)
				return "type/" + s, StatusOK, err
			},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, []AttrID{FATTR4_SIZE, FATTR4_MIMETYPE}, reg.Supported().IDs())

	cd := NewCodec(reg, nil)
	rec, err := cd.Decode(context.Background(), fattr(NewBitmap(FATTR4_MIMETYPE), func(b *bytes.Buffer) {
		_ = xdr.WriteXDRString(b, "plain")
	}))
	require.NoError(t, err)
	v, _ := rec.Get(FATTR4_MIMETYPE)
	assert.Equal(t, "type/plain", v)

	// mode has no descriptor in this registry
	rec, err = cd.Decode(context.Background(), fattr(NewBitmap(FATTR4_MODE), func(b *bytes.Buffer) {
		_ = xdr.WriteUint32(b, 0o644)
	}))
	require.NoError(t, err)
	assert.Equal(t, StatusNotSupported, rec.Status(FATTR4_MODE))
}

func TestKindAndAccessStrings(t *testing.T) {
	assert.Equal(t, "nfstime4", KindTime.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
	assert.Equal(t, "wo", WriteOnly.String())
	assert.Equal(t, "variable", Variable.String())
	assert.Equal(t, "8 bytes", FixedWords(2).String())
	assert.Equal(t, "compare", ModeCompare.String())
	assert.Equal(t, "not_comparable", VerdictNotComparable.String())
}
