package attrs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentities = NumericIdentities{Domain: "example.com"}

func newTestCodec() *Codec {
	return NewCodec(nil, testIdentities)
}

// fattr builds a well-formed fattr4 from a bitmap and a values writer.
func fattr(bits Bitmap, vals func(*bytes.Buffer)) *xdr.Cursor {
	var v bytes.Buffer
	if vals != nil {
		vals(&v)
	}
	var buf bytes.Buffer
	bits.Encode(&buf)
	_ = xdr.WriteXDROpaque(&buf, v.Bytes())
	return xdr.NewCursor(buf.Bytes())
}

// rawFattr builds a fattr4 with an arbitrary declared length.
func rawFattr(bits Bitmap, length uint32, payload []byte) *xdr.Cursor {
	var buf bytes.Buffer
	bits.Encode(&buf)
	_ = xdr.WriteUint32(&buf, length)
	buf.Write(payload)
	return xdr.NewCursor(buf.Bytes())
}

func sizeModeRecord(size uint64, mode uint32) *Record {
	rec := NewRecord()
	rec.Set(FATTR4_SIZE, size)
	rec.Set(FATTR4_MODE, mode)
	return rec
}

// ============================================================================
// Encode / Decode
// ============================================================================

func TestEncodeDecodeSizeAndMode(t *testing.T) {
	ctx := context.Background()
	cd := newTestCodec()

	var buf bytes.Buffer
	written, err := cd.Encode(ctx, &buf, NewBitmap(FATTR4_SIZE, FATTR4_MODE), sizeModeRecord(65536, 0o644))
	require.NoError(t, err)
	assert.Equal(t, []AttrID{FATTR4_SIZE, FATTR4_MODE}, written.IDs())
	assert.Zero(t, buf.Len()%4)
	// [2][w0][w1][len=12][size:8][mode:4]
	assert.Equal(t, 4+8+4+12, buf.Len())

	c := xdr.NewCursor(buf.Bytes())
	rec, err := cd.Decode(ctx, c)
	require.NoError(t, err)
	require.NoError(t, rec.Err())
	assert.Zero(t, c.Remaining())

	size, ok := rec.Uint64(FATTR4_SIZE)
	require.True(t, ok)
	assert.Equal(t, uint64(65536), size)
	mode, ok := rec.Uint32(FATTR4_MODE)
	require.True(t, ok)
	assert.Equal(t, uint32(0o644), mode)
	assert.Equal(t, 2, rec.Len())
}

func TestEncodeOmitsUnsupported(t *testing.T) {
	cd := newTestCodec()
	req := NewBitmap(FATTR4_SIZE, FATTR4_FS_LOCATIONS, FATTR4_MODE, FATTR4_OWNER)

	var buf bytes.Buffer
	written, err := cd.Encode(context.Background(), &buf, req, sizeModeRecord(1, 0o600))
	require.NoError(t, err)
	assert.Equal(t, []AttrID{FATTR4_SIZE, FATTR4_MODE}, written.IDs())
	assert.Len(t, written, len(req), "bitmap keeps the requested word count")

	rec, err := cd.Decode(context.Background(), xdr.NewCursor(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Len())
}

func TestEncodeWriteOnlyIsInval(t *testing.T) {
	cd := newTestCodec()
	var buf bytes.Buffer
	buf.WriteString("keep")

	_, err := cd.Encode(context.Background(), &buf, NewBitmap(FATTR4_SIZE, FATTR4_TIME_MODIFY_SET), sizeModeRecord(1, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInval))
	assert.Equal(t, "keep", buf.String(), "buffer must be restored on error")
}

func TestEncodeSupportedAttrsFallback(t *testing.T) {
	cd := newTestCodec()
	var buf bytes.Buffer
	_, err := cd.Encode(context.Background(), &buf, NewBitmap(FATTR4_SUPPORTED_ATTRS), NewRecord())
	require.NoError(t, err)

	rec, err := cd.Decode(context.Background(), xdr.NewCursor(buf.Bytes()))
	require.NoError(t, err)
	v, ok := rec.Get(FATTR4_SUPPORTED_ATTRS)
	require.True(t, ok)
	assert.True(t, DefaultRegistry().Supported().Equal(v.(Bitmap)))
}

func TestEncodeSourceFailure(t *testing.T) {
	cd := newTestCodec()
	var buf bytes.Buffer
	_, err := cd.Encode(context.Background(), &buf, NewBitmap(FATTR4_SIZE), failingSource{})
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}

type failingSource struct{}

func (failingSource) Attribute(context.Context, AttrID) (Value, error) {
	return nil, errors.New("backend offline")
}

func TestOwnerRoundTrip(t *testing.T) {
	ctx := context.Background()
	cd := newTestCodec()
	src := NewRecord()
	src.Set(FATTR4_OWNER, uint32(0))
	src.Set(FATTR4_OWNER_GROUP, Identity{ID: NobodyID})

	var buf bytes.Buffer
	_, err := cd.Encode(ctx, &buf, NewBitmap(FATTR4_OWNER, FATTR4_OWNER_GROUP), src)
	require.NoError(t, err)

	rec, err := cd.Decode(ctx, xdr.NewCursor(buf.Bytes()))
	require.NoError(t, err)
	owner, ok := rec.Identity(FATTR4_OWNER)
	require.True(t, ok)
	assert.Equal(t, Identity{ID: 0, Name: "root@example.com", Mapped: true}, owner)
	group, _ := rec.Identity(FATTR4_OWNER_GROUP)
	assert.Equal(t, "nogroup@example.com", group.Name)
	assert.Equal(t, uint32(NobodyID), group.ID)
}

// kindSamples holds one well-formed value per Kind, chosen so that decoding
// the encoded form yields the same value back.
var kindSamples = map[Kind]Value{
	KindBool:       true,
	KindUint32:     uint32(1),
	KindUint64:     uint64(1) << 40,
	KindTime:       Time{Seconds: -86400, Nseconds: 999_999_999},
	KindSetTime:    SetTime{How: types.SET_TO_CLIENT_TIME4, Time: Time{Seconds: 1700000000, Nseconds: 5}},
	KindFsid:       Fsid{Major: 0xfeedface, Minor: 7},
	KindSpecData:   SpecData{Major: 8, Minor: 1},
	KindBitmap:     NewBitmap(FATTR4_SIZE, FATTR4_MODE, FATTR4_XATTR_SUPPORT),
	KindHandle:     []byte{1, 2, 3, 4, 5, 6, 7},
	KindString:     "text/plain; charset=utf-8",
	KindOwner:      Identity{ID: 1000, Name: "1000", Mapped: true},
	KindGroup:      Identity{ID: 0, Name: "wheel@example.com", Mapped: true},
	KindACL:        []ACE{{Type: 0, Flag: 0x40, AccessMask: 0x1f, Who: "OWNER@"}},
	KindUint32List: []uint32{1, 4, 5},
	KindModeUmask:  ModeUmask{Mode: 0o755, Umask: 0o022},
}

func TestDescriptorRoundTrip(t *testing.T) {
	seen := make(map[Kind]bool)
	for _, d := range DefaultRegistry().All() {
		t.Run(d.Name, func(t *testing.T) {
			v, ok := kindSamples[d.Kind]
			require.True(t, ok, "no sample for kind %s", d.Kind)
			seen[d.Kind] = true
			env := &Env{Ctx: context.Background(), Identities: testIdentities}

			var buf bytes.Buffer
			require.NoError(t, d.Encode(&buf, v, env))
			assert.Zero(t, buf.Len()%4, "encoding must end on a word boundary")
			if d.Size.Fixed != 0 {
				assert.Equal(t, d.Size.Fixed, buf.Len())
			}

			c := xdr.NewCursor(buf.Bytes())
			got, st, err := d.Decode(c, env)
			require.NoError(t, err)
			assert.Equal(t, StatusOK, st)
			assert.Zero(t, c.Remaining())
			assert.Equal(t, v, got)
		})
	}
	for k := range kindSamples {
		assert.True(t, seen[k], "kind %s has no registered attribute", k)
	}
}

// ============================================================================
// Decode markers and malformed input
// ============================================================================

func TestDecodeMarkers(t *testing.T) {
	tests := []struct {
		name       string
		bits       Bitmap
		vals       func(*bytes.Buffer)
		attr       AttrID
		wantStatus Status
		wantErr    uint32
	}{
		{
			name:       "unmapped owner",
			bits:       NewBitmap(FATTR4_OWNER),
			vals:       func(b *bytes.Buffer) { _ = xdr.WriteXDRString(b, "alice@example.com") },
			attr:       FATTR4_OWNER,
			wantStatus: StatusBadOwner,
			wantErr:    types.NFS4ERR_BADOWNER,
		},
		{
			name:       "owner not utf8",
			bits:       NewBitmap(FATTR4_OWNER),
			vals:       func(b *bytes.Buffer) { _ = xdr.WriteXDROpaque(b, []byte{0xff, 0xfe}) },
			attr:       FATTR4_OWNER,
			wantStatus: StatusInvalid,
			wantErr:    types.NFS4ERR_INVAL,
		},
		{
			name:       "mode above 07777",
			bits:       NewBitmap(FATTR4_MODE),
			vals:       func(b *bytes.Buffer) { _ = xdr.WriteUint32(b, 0o17777) },
			attr:       FATTR4_MODE,
			wantStatus: StatusInvalid,
			wantErr:    types.NFS4ERR_INVAL,
		},
		{
			name: "settime bad discriminant",
			bits: NewBitmap(FATTR4_TIME_MODIFY_SET),
			vals: func(b *bytes.Buffer) { _ = xdr.WriteUint32(b, 7) },
			attr: FATTR4_TIME_MODIFY_SET, wantStatus: StatusInvalid,
			wantErr: types.NFS4ERR_INVAL,
		},
		{
			name: "nanoseconds out of range",
			bits: NewBitmap(FATTR4_TIME_CREATE),
			vals: func(b *bytes.Buffer) {
				_ = xdr.WriteInt64(b, 1)
				_ = xdr.WriteUint32(b, 1_000_000_000)
			},
			attr:       FATTR4_TIME_CREATE,
			wantStatus: StatusInvalid,
			wantErr:    types.NFS4ERR_INVAL,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := newTestCodec().Decode(context.Background(), fattr(tt.bits, tt.vals))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Status(tt.attr))
			assert.Equal(t, tt.wantErr, types.StatusOf(rec.Err()))
		})
	}
}

func TestDecodeUnmappedOwnerUsesDefault(t *testing.T) {
	rec, err := newTestCodec().Decode(context.Background(), fattr(NewBitmap(FATTR4_OWNER_GROUP), func(b *bytes.Buffer) {
		_ = xdr.WriteXDRString(b, "staff@example.com")
	}))
	require.NoError(t, err)
	g, ok := rec.Identity(FATTR4_OWNER_GROUP)
	require.True(t, ok)
	assert.False(t, g.Mapped)
	assert.Equal(t, uint32(NobodyID), g.ID)
}

func TestDecodeSetTime(t *testing.T) {
	rec, err := newTestCodec().Decode(context.Background(), fattr(NewBitmap(FATTR4_TIME_ACCESS_SET, FATTR4_TIME_MODIFY_SET), func(b *bytes.Buffer) {
		_ = xdr.WriteUint32(b, types.SET_TO_SERVER_TIME4)
		_ = xdr.WriteUint32(b, types.SET_TO_CLIENT_TIME4)
		_ = xdr.WriteInt64(b, 1700000000)
		_ = xdr.WriteUint32(b, 5)
	}))
	require.NoError(t, err)
	require.NoError(t, rec.Err())

	atime, _ := rec.Get(FATTR4_TIME_ACCESS_SET)
	assert.True(t, atime.(SetTime).ServerTime())
	mtime, _ := rec.Get(FATTR4_TIME_MODIFY_SET)
	assert.Equal(t, SetTime{How: types.SET_TO_CLIENT_TIME4, Time: Time{Seconds: 1700000000, Nseconds: 5}}, mtime)
}

func TestDecodeMalformed(t *testing.T) {
	size := make([]byte, 8)
	tests := []struct {
		name string
		c    *xdr.Cursor
	}{
		{"missing length", wordsCursor(1, 1<<FATTR4_SIZE)},
		{"length beyond data", rawFattr(NewBitmap(FATTR4_SIZE), 12, size)},
		{"value beyond length", rawFattr(NewBitmap(FATTR4_SIZE, FATTR4_MODE), 8, append(size, 0, 0, 0, 0))},
		{"owner string overruns block", rawFattr(NewBitmap(FATTR4_OWNER), 8, []byte{0, 0, 0, 40, 'a', 'b', 'c', 'd'})},
		{"bitmap overruns data", wordsCursor(4, 0)},
		{"acl count too large", rawFattr(NewBitmap(FATTR4_ACL), 4, []byte{0, 1, 0, 0})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestCodec().Decode(context.Background(), tt.c)
			require.Error(t, err)
			assert.Equal(t, uint32(types.NFS4ERR_BADXDR), types.StatusOf(err))
		})
	}
}

func TestDecodeSkipsTrailingBytes(t *testing.T) {
	payload := make([]byte, 16)
	payload[7] = 9
	c := rawFattr(NewBitmap(FATTR4_SIZE), 14, payload)

	rec, err := newTestCodec().Decode(context.Background(), c)
	require.NoError(t, err)
	size, _ := rec.Uint64(FATTR4_SIZE)
	assert.Equal(t, uint64(9), size)
	assert.Zero(t, c.Remaining(), "padding to a word boundary is consumed")
}

func TestDecodeUnknownAttributeStops(t *testing.T) {
	c := fattr(NewBitmap(FATTR4_SIZE, FATTR4_FS_LOCATIONS, FATTR4_MODE), func(b *bytes.Buffer) {
		_ = xdr.WriteUint64(b, 42)
		_ = xdr.WriteUint64(b, 0xdeadbeef)
	})

	rec, err := newTestCodec().Decode(context.Background(), c)
	require.NoError(t, err)
	assert.Zero(t, c.Remaining())
	assert.True(t, rec.Has(FATTR4_SIZE))
	assert.Equal(t, StatusNotSupported, rec.Status(FATTR4_FS_LOCATIONS))
	assert.Equal(t, StatusNotSupported, rec.Status(FATTR4_MODE))
	assert.False(t, rec.Has(FATTR4_MODE))
	assert.Equal(t, uint32(types.NFS4ERR_ATTRNOTSUPP), types.StatusOf(rec.Err()))
}

func TestDecodeExcessBitmapWords(t *testing.T) {
	var buf bytes.Buffer
	_ = xdr.WriteUint32(&buf, 4)
	_ = xdr.WriteUint32(&buf, 1<<FATTR4_SIZE)
	_ = xdr.WriteUint32(&buf, 0)
	_ = xdr.WriteUint32(&buf, 0)
	_ = xdr.WriteUint32(&buf, 1)
	_ = xdr.WriteXDROpaque(&buf, make([]byte, 8))

	rec, err := newTestCodec().Decode(context.Background(), xdr.NewCursor(buf.Bytes()))
	require.NoError(t, err)
	assert.True(t, rec.NotSupp)
	assert.True(t, rec.Has(FATTR4_SIZE))
	assert.Equal(t, uint32(types.NFS4ERR_ATTRNOTSUPP), types.StatusOf(rec.Err()))
}

// ============================================================================
// Compare
// ============================================================================

func TestCompareVerdicts(t *testing.T) {
	local := sizeModeRecord(65536, 0o644)
	local.Set(FATTR4_OWNER, uint32(0))

	sizeMode := func(size uint64, mode uint32) func(*bytes.Buffer) {
		return func(b *bytes.Buffer) {
			_ = xdr.WriteUint64(b, size)
			_ = xdr.WriteUint32(b, mode)
		}
	}

	tests := []struct {
		name       string
		c          *xdr.Cursor
		want       Verdict
		wantStatus uint32
		wantAttr   AttrID
	}{
		{
			name:       "same",
			c:          fattr(NewBitmap(FATTR4_SIZE, FATTR4_MODE), sizeMode(65536, 0o644)),
			want:       VerdictSame,
			wantStatus: types.NFS4_OK,
		},
		{
			name:       "size differs",
			c:          fattr(NewBitmap(FATTR4_SIZE, FATTR4_MODE), sizeMode(1, 0o644)),
			want:       VerdictDiffers,
			wantStatus: types.NFS4ERR_NOT_SAME,
			wantAttr:   FATTR4_SIZE,
		},
		{
			name: "write-only attribute",
			c: fattr(NewBitmap(FATTR4_TIME_ACCESS_SET), func(b *bytes.Buffer) {
				_ = xdr.WriteUint32(b, types.SET_TO_SERVER_TIME4)
			}),
			want:       VerdictInvalid,
			wantStatus: types.NFS4ERR_INVAL,
			wantAttr:   FATTR4_TIME_ACCESS_SET,
		},
		{
			name: "rdattr_error",
			c: fattr(NewBitmap(FATTR4_RDATTR_ERROR), func(b *bytes.Buffer) {
				_ = xdr.WriteUint32(b, 0)
			}),
			want:       VerdictInvalid,
			wantStatus: types.NFS4ERR_INVAL,
			wantAttr:   FATTR4_RDATTR_ERROR,
		},
		{
			name: "not provided locally",
			c: fattr(NewBitmap(FATTR4_FILEID), func(b *bytes.Buffer) {
				_ = xdr.WriteUint64(b, 7)
			}),
			want:       VerdictNotComparable,
			wantStatus: types.NFS4ERR_ATTRNOTSUPP,
			wantAttr:   FATTR4_FILEID,
		},
		{
			name: "unknown attribute",
			c: fattr(NewBitmap(FATTR4_FS_LOCATIONS), func(b *bytes.Buffer) {
				_ = xdr.WriteUint32(b, 0)
			}),
			want:       VerdictNotComparable,
			wantStatus: types.NFS4ERR_ATTRNOTSUPP,
			wantAttr:   FATTR4_FS_LOCATIONS,
		},
		{
			name: "owner matches",
			c: fattr(NewBitmap(FATTR4_OWNER), func(b *bytes.Buffer) {
				_ = xdr.WriteXDRString(b, "root@example.com")
			}),
			want:       VerdictSame,
			wantStatus: types.NFS4_OK,
		},
		{
			name: "owner unmapped",
			c: fattr(NewBitmap(FATTR4_OWNER), func(b *bytes.Buffer) {
				_ = xdr.WriteXDRString(b, "alice@example.com")
			}),
			want:       VerdictDiffers,
			wantStatus: types.NFS4ERR_NOT_SAME,
			wantAttr:   FATTR4_OWNER,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestCodec().Compare(context.Background(), tt.c, local)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Verdict)
			assert.Equal(t, tt.wantStatus, res.Status())
			assert.Equal(t, tt.want != VerdictSame, res.NotSame())
			if tt.want != VerdictSame {
				assert.Equal(t, tt.wantAttr, res.Attr)
			}
		})
	}
}

func TestCompareFirstVerdictSticks(t *testing.T) {
	local := sizeModeRecord(10, 0o700)
	c := fattr(NewBitmap(FATTR4_SIZE, FATTR4_RDATTR_ERROR, FATTR4_MODE), func(b *bytes.Buffer) {
		_ = xdr.WriteUint64(b, 11)
		_ = xdr.WriteUint32(b, 0)
		_ = xdr.WriteUint32(b, 0o755)
	})

	res, err := newTestCodec().Compare(context.Background(), c, local)
	require.NoError(t, err)
	assert.Equal(t, VerdictDiffers, res.Verdict)
	assert.Equal(t, FATTR4_SIZE, res.Attr)
	assert.Equal(t, []AttrID{FATTR4_RDATTR_ERROR, FATTR4_MODE}, res.Others.IDs())
}

func TestCompareSupportedAttrs(t *testing.T) {
	supported := DefaultRegistry().Supported()
	c := fattr(NewBitmap(FATTR4_SUPPORTED_ATTRS), func(b *bytes.Buffer) { supported.Encode(b) })
	res, err := newTestCodec().Compare(context.Background(), c, NewRecord())
	require.NoError(t, err)
	assert.True(t, res.Same())

	fewer := supported.Clone()
	fewer.Clear(FATTR4_ACL)
	c = fattr(NewBitmap(FATTR4_SUPPORTED_ATTRS), func(b *bytes.Buffer) { fewer.Encode(b) })
	res, err = newTestCodec().Compare(context.Background(), c, NewRecord())
	require.NoError(t, err)
	assert.Equal(t, VerdictDiffers, res.Verdict)
}

func TestCompareSourceFailure(t *testing.T) {
	c := fattr(NewBitmap(FATTR4_SIZE), func(b *bytes.Buffer) { _ = xdr.WriteUint64(b, 1) })
	_, err := newTestCodec().Compare(context.Background(), c, failingSource{})
	require.Error(t, err)
	assert.Equal(t, uint32(types.NFS4ERR_SERVERFAULT), types.StatusOf(err))
}

func TestCompareMalformed(t *testing.T) {
	_, err := newTestCodec().Compare(context.Background(), rawFattr(NewBitmap(FATTR4_SIZE), 8, nil), NewRecord())
	assert.Equal(t, uint32(types.NFS4ERR_BADXDR), types.StatusOf(err))
}
