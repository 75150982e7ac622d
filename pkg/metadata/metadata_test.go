package metadata_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/protocol/xdr"
	"github.com/marmos91/nfscore/pkg/metadata"
	"github.com/marmos91/nfscore/pkg/metadata/store/memory"
)

var epoch = time.Unix(1_700_000_000, 0)

func newFile(t *testing.T, s metadata.Store, mode uint32) metadata.Handle {
	t.Helper()
	h, err := s.Create(context.Background(), metadata.InitialAttributes(types.NF4REG, mode, 1000, 100, epoch))
	require.NoError(t, err)
	return h
}

// setattr builds a fattr4 by hand so write-only attributes can be sent.
func setattr(bits attrs.Bitmap, vals func(*bytes.Buffer)) *xdr.Cursor {
	var v bytes.Buffer
	vals(&v)
	var buf bytes.Buffer
	bits.Encode(&buf)
	_ = xdr.WriteXDROpaque(&buf, v.Bytes())
	return xdr.NewCursor(buf.Bytes())
}

func TestHandle(t *testing.T) {
	h := metadata.NewHandle()
	assert.Len(t, h, 16)

	parsed, err := metadata.ParseHandle(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.Equal(t, h.FileID(), parsed.FileID())
	assert.NotEqual(t, h.FileID(), metadata.NewHandle().FileID())

	short, err := metadata.ParseHandle("0a0b")
	require.NoError(t, err)
	assert.Equal(t, metadata.Handle{0x0a, 0x0b}, short)
	assert.Equal(t, "0a0b", short.String())

	_, err = metadata.ParseHandle("not a handle")
	assert.ErrorIs(t, err, metadata.ErrInvalidHandle)
}

func TestUsage(t *testing.T) {
	st := metadata.Usage(100, 30, 10, 4)
	assert.Equal(t, uint64(70), st.FreeBytes)
	assert.Equal(t, uint64(70), st.AvailBytes)
	assert.Equal(t, uint64(6), st.FreeFiles)

	full := metadata.Usage(100, 130, 10, 12)
	assert.Zero(t, full.FreeBytes)
	assert.Zero(t, full.FreeFiles)
}

func TestSizeModeRoundTripThroughBackend(t *testing.T) {
	ctx := context.Background()
	s := memory.New(memory.Config{}, nil)
	h := newFile(t, s, 0o644)
	require.NoError(t, s.SetAttribute(ctx, h, attrs.FATTR4_SIZE, uint64(64<<10)))

	cd := attrs.NewCodec(nil, nil)
	var buf bytes.Buffer
	written, err := cd.Encode(ctx, &buf, attrs.NewBitmap(attrs.FATTR4_SIZE, attrs.FATTR4_MODE), metadata.NewObjectSource(s, h))
	require.NoError(t, err)
	assert.Equal(t, []attrs.AttrID{attrs.FATTR4_SIZE, attrs.FATTR4_MODE}, written.IDs())

	rec, err := cd.Decode(ctx, xdr.NewCursor(buf.Bytes()))
	require.NoError(t, err)
	size, _ := rec.Uint64(attrs.FATTR4_SIZE)
	mode, _ := rec.Uint32(attrs.FATTR4_MODE)
	assert.Equal(t, uint64(65536), size)
	assert.Equal(t, uint32(0o644), mode)

	// Comparing against the same object finds no difference.
	res, err := cd.Compare(ctx, xdr.NewCursor(buf.Bytes()), metadata.NewObjectSource(s, h))
	require.NoError(t, err)
	assert.True(t, res.Same())
}

func TestObjectSource(t *testing.T) {
	ctx := context.Background()
	s := memory.New(memory.Config{Capacity: 1 << 20, MaxFiles: 8}, nil)
	h := newFile(t, s, 0o600)
	require.NoError(t, s.SetAttribute(ctx, h, attrs.FATTR4_SPACE_USED, uint64(4096)))
	src := metadata.NewObjectSource(s, h)

	v, err := src.Attribute(ctx, attrs.FATTR4_FILEHANDLE)
	require.NoError(t, err)
	assert.Equal(t, []byte(h), v)

	v, err = src.Attribute(ctx, attrs.FATTR4_FILEID)
	require.NoError(t, err)
	assert.Equal(t, h.FileID(), v)

	v, err = src.Attribute(ctx, attrs.FATTR4_LEASE_TIME)
	require.NoError(t, err)
	assert.Equal(t, uint32(90), v)

	v, err = src.Attribute(ctx, attrs.FATTR4_SPACE_FREE)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20-4096), v)

	v, err = src.Attribute(ctx, attrs.FATTR4_FILES_FREE)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)

	v, err = src.Attribute(ctx, attrs.FATTR4_OWNER)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), v)

	_, err = src.Attribute(ctx, attrs.FATTR4_MIMETYPE)
	assert.ErrorIs(t, err, types.ErrAttrNotSupp)

	stale := metadata.NewObjectSource(s, metadata.NewHandle())
	_, err = stale.Attribute(ctx, attrs.FATTR4_MODE)
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
	assert.Equal(t, uint32(types.NFS4ERR_STALE), types.StatusOf(err))
}

func TestEncodeOwnerThroughIdentities(t *testing.T) {
	ctx := context.Background()
	s := memory.New(memory.Config{}, nil)
	h := newFile(t, s, 0o644)

	cd := attrs.NewCodec(nil, attrs.NumericIdentities{Domain: "example.com"})
	var buf bytes.Buffer
	_, err := cd.Encode(ctx, &buf, attrs.NewBitmap(attrs.FATTR4_OWNER, attrs.FATTR4_OWNER_GROUP), metadata.NewObjectSource(s, h))
	require.NoError(t, err)

	rec, err := cd.Decode(ctx, xdr.NewCursor(buf.Bytes()))
	require.NoError(t, err)
	owner, ok := rec.Identity(attrs.FATTR4_OWNER)
	require.True(t, ok)
	assert.Equal(t, "1000", owner.Name)
	assert.Equal(t, uint32(1000), owner.ID)
	group, _ := rec.Identity(attrs.FATTR4_OWNER_GROUP)
	assert.Equal(t, uint32(100), group.ID)
}

func TestApplyRecord(t *testing.T) {
	ctx := context.Background()
	s := memory.New(memory.Config{}, nil)
	h := newFile(t, s, 0o644)
	cd := attrs.NewCodec(nil, nil)
	now := epoch.Add(time.Hour)

	client := attrs.Time{Seconds: 1_600_000_000, Nseconds: 5}
	c := setattr(attrs.NewBitmap(attrs.FATTR4_SIZE, attrs.FATTR4_MODE, attrs.FATTR4_OWNER,
		attrs.FATTR4_TIME_ACCESS_SET, attrs.FATTR4_TIME_MODIFY_SET), func(b *bytes.Buffer) {
		_ = xdr.WriteUint64(b, 8192)
		_ = xdr.WriteUint32(b, 0o755)
		_ = xdr.WriteXDRString(b, "2000")
		_ = xdr.WriteUint32(b, types.SET_TO_CLIENT_TIME4)
		_ = xdr.WriteInt64(b, client.Seconds)
		_ = xdr.WriteUint32(b, client.Nseconds)
		_ = xdr.WriteUint32(b, types.SET_TO_SERVER_TIME4)
	})
	rec, err := cd.Decode(ctx, c)
	require.NoError(t, err)

	set, err := metadata.ApplyRecord(ctx, s, h, cd.Registry(), rec, now)
	require.NoError(t, err)
	assert.Equal(t, 5, set.Count())
	assert.True(t, set.IsSet(attrs.FATTR4_TIME_ACCESS_SET))

	get := func(id attrs.AttrID) attrs.Value {
		v, err := s.GetAttribute(ctx, h, id)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, uint64(8192), get(attrs.FATTR4_SIZE))
	assert.Equal(t, uint64(8192), get(attrs.FATTR4_SPACE_USED))
	assert.Equal(t, uint32(0o755), get(attrs.FATTR4_MODE))
	assert.Equal(t, uint32(2000), get(attrs.FATTR4_OWNER))
	assert.Equal(t, client, get(attrs.FATTR4_TIME_ACCESS))
	assert.Equal(t, attrs.TimeFrom(now), get(attrs.FATTR4_TIME_MODIFY))
	assert.Equal(t, attrs.TimeFrom(now), get(attrs.FATTR4_TIME_METADATA))
	assert.Equal(t, uint64(2), get(attrs.FATTR4_CHANGE))
	assert.Equal(t, attrs.TimeFrom(epoch), get(attrs.FATTR4_TIME_CREATE))
}

func TestApplyRecordSizeTouchesModifyTime(t *testing.T) {
	ctx := context.Background()
	s := memory.New(memory.Config{}, nil)
	h := newFile(t, s, 0o644)
	now := epoch.Add(time.Minute)

	rec := attrs.NewRecord()
	rec.Set(attrs.FATTR4_SIZE, uint64(10))
	_, err := metadata.ApplyRecord(ctx, s, h, attrs.DefaultRegistry(), rec, now)
	require.NoError(t, err)

	v, err := s.GetAttribute(ctx, h, attrs.FATTR4_TIME_MODIFY)
	require.NoError(t, err)
	assert.Equal(t, attrs.TimeFrom(now), v)
}

func TestApplyRecordModeUmask(t *testing.T) {
	ctx := context.Background()
	s := memory.New(memory.Config{}, nil)
	h := newFile(t, s, 0o644)

	rec := attrs.NewRecord()
	rec.Set(attrs.FATTR4_MODE_UMASK, attrs.ModeUmask{Mode: 0o777, Umask: 0o022})
	_, err := metadata.ApplyRecord(ctx, s, h, attrs.DefaultRegistry(), rec, epoch)
	require.NoError(t, err)

	v, err := s.GetAttribute(ctx, h, attrs.FATTR4_MODE)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o755), v)
}

func TestApplyRecordRejects(t *testing.T) {
	ctx := context.Background()
	reg := attrs.DefaultRegistry()

	t.Run("ReadOnly", func(t *testing.T) {
		s := memory.New(memory.Config{}, nil)
		h := newFile(t, s, 0o644)
		rec := attrs.NewRecord()
		rec.Set(attrs.FATTR4_MODE, uint32(0o700))
		rec.Set(attrs.FATTR4_FILEID, uint64(7))

		_, err := metadata.ApplyRecord(ctx, s, h, reg, rec, epoch)
		assert.ErrorIs(t, err, types.ErrInval)

		// Nothing is written when any attribute is refused.
		v, err := s.GetAttribute(ctx, h, attrs.FATTR4_MODE)
		require.NoError(t, err)
		assert.Equal(t, uint32(0o644), v)
	})

	t.Run("BadOwner", func(t *testing.T) {
		s := memory.New(memory.Config{}, nil)
		h := newFile(t, s, 0o644)
		rec := attrs.NewRecord()
		rec.Set(attrs.FATTR4_OWNER, attrs.Identity{Name: "ghost", ID: attrs.NobodyID})
		rec.Mark(attrs.FATTR4_OWNER, attrs.StatusBadOwner)

		_, err := metadata.ApplyRecord(ctx, s, h, reg, rec, epoch)
		assert.ErrorIs(t, err, types.ErrBadOwner)
	})

	t.Run("Stale", func(t *testing.T) {
		s := memory.New(memory.Config{}, nil)
		rec := attrs.NewRecord()
		rec.Set(attrs.FATTR4_MODE, uint32(0o700))

		_, err := metadata.ApplyRecord(ctx, s, metadata.NewHandle(), reg, rec, epoch)
		assert.True(t, errors.Is(err, metadata.ErrStaleHandle))
	})

	t.Run("Empty", func(t *testing.T) {
		s := memory.New(memory.Config{}, nil)
		h := newFile(t, s, 0o644)
		set, err := metadata.ApplyRecord(ctx, s, h, reg, attrs.NewRecord(), epoch)
		require.NoError(t, err)
		assert.True(t, set.Empty())

		v, err := s.GetAttribute(ctx, h, attrs.FATTR4_CHANGE)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), v)
	})
}

func TestValueEncoding(t *testing.T) {
	ctx := context.Background()
	reg := attrs.DefaultRegistry()

	acl := []attrs.ACE{{Type: 0, Flag: 0, AccessMask: 0x1, Who: "OWNER@"}}
	data, err := metadata.EncodeValue(ctx, reg, attrs.FATTR4_ACL, acl)
	require.NoError(t, err)
	v, err := metadata.DecodeValue(ctx, reg, attrs.FATTR4_ACL, data)
	require.NoError(t, err)
	assert.Equal(t, acl, v)

	// Identities are stored by number.
	data, err = metadata.EncodeValue(ctx, reg, attrs.FATTR4_OWNER, attrs.Identity{ID: 42, Name: "alice", Mapped: true})
	require.NoError(t, err)
	v, err = metadata.DecodeValue(ctx, reg, attrs.FATTR4_OWNER, data)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)

	_, err = metadata.EncodeValue(ctx, reg, attrs.FATTR4_TIME_ACCESS_SET, attrs.SetTime{})
	assert.ErrorIs(t, err, types.ErrInval)

	_, err = metadata.DecodeValue(ctx, reg, attrs.FATTR4_SIZE, []byte{0, 0, 0, 1, 0, 0, 0, 2, 0})
	assert.Error(t, err)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New(memory.Config{}, nil)
	a := newFile(t, s, 0o644)
	b := newFile(t, s, 0o644)

	handles, err := s.Handles(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []metadata.Handle{a, b}, handles)

	// Stored slices are not aliased by the caller.
	buf := []byte("text/plain")
	require.NoError(t, s.SetAttribute(ctx, a, attrs.FATTR4_FILEHANDLE, buf))
	buf[0] = 'X'
	v, err := s.GetAttribute(ctx, a, attrs.FATTR4_FILEHANDLE)
	require.NoError(t, err)
	assert.Equal(t, []byte("text/plain"), v)

	require.NoError(t, s.Remove(ctx, a))
	_, err = s.GetAttribute(ctx, a, attrs.FATTR4_MODE)
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
	assert.ErrorIs(t, s.Remove(ctx, a), metadata.ErrStaleHandle)

	require.NoError(t, s.Healthcheck(ctx))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Healthcheck(ctx), metadata.ErrClosed)
	_, err = s.GetAttribute(ctx, b, attrs.FATTR4_MODE)
	assert.ErrorIs(t, err, metadata.ErrClosed)
}
