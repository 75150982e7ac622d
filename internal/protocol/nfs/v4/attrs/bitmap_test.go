package attrs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wordsCursor(words ...uint32) *xdr.Cursor {
	var buf bytes.Buffer
	for _, w := range words {
		_ = xdr.WriteUint32(&buf, w)
	}
	return xdr.NewCursor(buf.Bytes())
}

func TestBitmapSetClear(t *testing.T) {
	var b Bitmap
	b.Set(FATTR4_SIZE)
	b.Set(FATTR4_MODE)
	b.Set(FATTR4_XATTR_SUPPORT)

	assert.Len(t, b, 3)
	assert.True(t, b.IsSet(FATTR4_SIZE))
	assert.True(t, b.IsSet(FATTR4_MODE))
	assert.False(t, b.IsSet(FATTR4_TYPE))
	assert.False(t, b.IsSet(AttrID(500)))
	assert.Equal(t, 3, b.Count())

	b.Clear(FATTR4_XATTR_SUPPORT)
	b.Clear(AttrID(500))
	assert.Equal(t, []AttrID{FATTR4_SIZE, FATTR4_MODE}, b.IDs())
	assert.Len(t, b.Trim(), 2)
}

func TestBitmapSetAlgebra(t *testing.T) {
	a := NewBitmap(FATTR4_TYPE, FATTR4_SIZE, FATTR4_MODE)
	b := NewBitmap(FATTR4_SIZE, FATTR4_OWNER, FATTR4_MODE_UMASK)

	assert.Equal(t, []AttrID{FATTR4_TYPE, FATTR4_SIZE, FATTR4_MODE, FATTR4_OWNER, FATTR4_MODE_UMASK}, a.Union(b).IDs())
	assert.Equal(t, []AttrID{FATTR4_SIZE}, a.Intersect(b).IDs())
	assert.Equal(t, []AttrID{FATTR4_TYPE, FATTR4_MODE}, a.Minus(b).IDs())

	c := a.Clone()
	c.Clear(FATTR4_TYPE)
	assert.True(t, a.IsSet(FATTR4_TYPE), "clone must not alias")
}

func TestBitmapEqualIgnoresTrailingZeros(t *testing.T) {
	assert.True(t, Bitmap{1}.Equal(Bitmap{1, 0, 0}))
	assert.True(t, Bitmap{}.Equal(nil))
	assert.False(t, Bitmap{1}.Equal(Bitmap{1, 1}))
	assert.True(t, Bitmap{0, 0}.Empty())
}

func TestBitmapEachStops(t *testing.T) {
	b := NewBitmap(1, 4, 33, 64)
	var seen []AttrID
	b.Each(func(id AttrID) bool {
		seen = append(seen, id)
		return id < 33
	})
	assert.Equal(t, []AttrID{1, 4, 33}, seen)
}

func TestBitmapEncodeDecode(t *testing.T) {
	b := NewBitmap(FATTR4_SIZE, FATTR4_MODE)
	var buf bytes.Buffer
	n := b.Encode(&buf)
	assert.Equal(t, 2, n)
	assert.Equal(t, 12, buf.Len())

	got, notSupp, err := DecodeBitmap(xdr.NewCursor(buf.Bytes()), MaxWords)
	require.NoError(t, err)
	assert.False(t, notSupp)
	assert.True(t, b.Equal(got))
}

func TestDecodeBitmapExcessWords(t *testing.T) {
	tests := []struct {
		name        string
		words       []uint32
		wantNotSupp bool
		wantLen     int
	}{
		{"zero excess", []uint32{4, 1, 2, 3, 0}, false, 3},
		{"non-zero excess", []uint32{5, 1, 2, 3, 0, 8}, true, 3},
		{"short", []uint32{1, 0x10}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := wordsCursor(tt.words...)
			got, notSupp, err := DecodeBitmap(c, MaxWords)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNotSupp, notSupp)
			assert.Len(t, got, tt.wantLen)
			assert.Zero(t, c.Remaining(), "excess words must be consumed")
		})
	}
}

func TestDecodeBitmapTruncated(t *testing.T) {
	_, _, err := DecodeBitmap(wordsCursor(3, 1), MaxWords)
	require.Error(t, err)
	assert.Equal(t, uint32(types.NFS4ERR_BADXDR), types.StatusOf(err))

	_, _, err = DecodeBitmap(wordsCursor(), MaxWords)
	assert.True(t, errors.Is(err, types.ErrBadXDR))
}

func TestDecodeOpBitmap(t *testing.T) {
	b, err := DecodeOpBitmap(wordsCursor(3, 1<<(types.OP_SEQUENCE%32), 0, 0), OpBitmapWords)
	require.NoError(t, err)
	assert.Len(t, b, 3)

	_, err = DecodeOpBitmap(wordsCursor(4, 0, 0, 0, 1), OpBitmapWords)
	assert.Equal(t, uint32(types.NFS4ERR_BADXDR), types.StatusOf(err))
}

func TestAttrIDString(t *testing.T) {
	assert.Equal(t, "size", FATTR4_SIZE.String())
	assert.Equal(t, "mode_umask", FATTR4_MODE_UMASK.String())
	assert.Equal(t, "attr24", FATTR4_FS_LOCATIONS.String())
	assert.Equal(t, "[size mode]", NewBitmap(FATTR4_MODE, FATTR4_SIZE).String())
}
