package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/pkg/metadata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{Path: t.TempDir(), Capacity: 1 << 30, MaxFiles: 100}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 250)

	h, err := s.Create(ctx, metadata.InitialAttributes(types.NF4REG, 0o644, 1000, 100, now))
	require.NoError(t, err)

	tests := []struct {
		id   attrs.AttrID
		want attrs.Value
	}{
		{attrs.FATTR4_TYPE, uint32(types.NF4REG)},
		{attrs.FATTR4_MODE, uint32(0o644)},
		{attrs.FATTR4_OWNER, uint32(1000)},
		{attrs.FATTR4_OWNER_GROUP, uint32(100)},
		{attrs.FATTR4_FILEID, h.FileID()},
		{attrs.FATTR4_TIME_MODIFY, attrs.TimeFrom(now)},
	}
	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			v, err := s.GetAttribute(ctx, h, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	_, err = s.GetAttribute(ctx, h, attrs.FATTR4_ACL)
	assert.ErrorIs(t, err, types.ErrAttrNotSupp)
	_, err = s.GetAttribute(ctx, metadata.NewHandle(), attrs.FATTR4_MODE)
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
}

func TestSetAttribute(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	h, err := s.Create(ctx, metadata.InitialAttributes(types.NF4REG, 0o644, 0, 0, time.Now()))
	require.NoError(t, err)

	acl := []attrs.ACE{{Type: 0, AccessMask: 0x1f, Who: "EVERYONE@"}}
	require.NoError(t, s.SetAttribute(ctx, h, attrs.FATTR4_ACL, acl))
	require.NoError(t, s.SetAttribute(ctx, h, attrs.FATTR4_OWNER, attrs.Identity{ID: 7, Name: "bob", Mapped: true}))

	v, err := s.GetAttribute(ctx, h, attrs.FATTR4_ACL)
	require.NoError(t, err)
	assert.Equal(t, acl, v)
	v, err = s.GetAttribute(ctx, h, attrs.FATTR4_OWNER)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)

	err = s.SetAttribute(ctx, metadata.NewHandle(), attrs.FATTR4_MODE, uint32(0o600))
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
	err = s.SetAttribute(ctx, h, attrs.FATTR4_TIME_MODIFY_SET, attrs.SetTime{})
	assert.ErrorIs(t, err, types.ErrInval)
}

func TestStatfs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, err := s.Create(ctx, metadata.InitialAttributes(types.NF4REG, 0o644, 0, 0, time.Now()))
	require.NoError(t, err)
	b, err := s.Create(ctx, metadata.InitialAttributes(types.NF4REG, 0o644, 0, 0, time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute(ctx, a, attrs.FATTR4_SPACE_USED, uint64(1000)))
	require.NoError(t, s.SetAttribute(ctx, b, attrs.FATTR4_SPACE_USED, uint64(24)))

	st, err := s.Statfs(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<30), st.TotalBytes)
	assert.Equal(t, uint64(1024), st.UsedBytes)
	assert.Equal(t, uint64(1<<30-1024), st.FreeBytes)
	assert.Equal(t, uint64(98), st.FreeFiles)

	_, err = s.Statfs(ctx, metadata.NewHandle())
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
}

func TestRemoveAndHandles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, err := s.Create(ctx, metadata.InitialAttributes(types.NF4DIR, 0o755, 0, 0, time.Now()))
	require.NoError(t, err)
	b, err := s.Create(ctx, metadata.InitialAttributes(types.NF4REG, 0o644, 0, 0, time.Now()))
	require.NoError(t, err)

	handles, err := s.Handles(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []metadata.Handle{a, b}, handles)

	require.NoError(t, s.Remove(ctx, a))
	_, err = s.GetAttribute(ctx, a, attrs.FATTR4_TYPE)
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
	assert.ErrorIs(t, s.Remove(ctx, a), metadata.ErrStaleHandle)

	handles, err = s.Handles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []metadata.Handle{b}, handles)
}

func TestReopenKeepsValues(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(ctx, Config{Path: dir}, nil)
	require.NoError(t, err)
	h, err := s.Create(ctx, metadata.InitialAttributes(types.NF4REG, 0o640, 5, 6, time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute(ctx, h, attrs.FATTR4_SIZE, uint64(64<<10)))
	require.NoError(t, s.Close())

	s, err = New(ctx, Config{Path: dir}, nil)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.GetAttribute(ctx, h, attrs.FATTR4_SIZE)
	require.NoError(t, err)
	assert.Equal(t, uint64(65536), v)
	require.NoError(t, s.Healthcheck(ctx))
}

func TestApplyRecordOnBadger(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Config{InMemory: true}, nil)
	require.NoError(t, err)
	defer s.Close()
	h, err := s.Create(ctx, metadata.InitialAttributes(types.NF4REG, 0o644, 0, 0, time.Unix(0, 0)))
	require.NoError(t, err)

	rec := attrs.NewRecord()
	rec.Set(attrs.FATTR4_MODE, uint32(0o600))
	rec.Set(attrs.FATTR4_TIME_MODIFY_SET, attrs.SetTime{How: types.SET_TO_SERVER_TIME4})
	now := time.Unix(1_700_000_000, 0)
	set, err := metadata.ApplyRecord(ctx, s, h, attrs.DefaultRegistry(), rec, now)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Count())

	v, err := s.GetAttribute(ctx, h, attrs.FATTR4_TIME_MODIFY)
	require.NoError(t, err)
	assert.Equal(t, attrs.TimeFrom(now), v)
	v, err = s.GetAttribute(ctx, h, attrs.FATTR4_CHANGE)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Config{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Healthcheck(ctx))
}
