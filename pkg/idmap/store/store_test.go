package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfscore/pkg/idmap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "idmap.db")},
		TTL:    time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateGroup(ctx, &Group{Name: "staff", GID: 100}))
	require.NoError(t, s.CreateGroup(ctx, &Group{Name: "wheel", GID: 10}))
	require.NoError(t, s.CreateUser(ctx, &User{Name: "alice", UID: 1000, GID: 100}))
	require.NoError(t, s.AddMember(ctx, "alice", "wheel"))
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DatabaseTypeSQLite, cfg.Type)
	assert.Equal(t, "/tmp/xdg/nfscore/idmap.db", cfg.SQLite.Path)

	pg := &Config{Type: DatabaseTypePostgres}
	pg.ApplyDefaults()
	assert.Equal(t, 5432, pg.Postgres.Port)
	assert.Error(t, pg.Validate())

	pg.Postgres.Host, pg.Postgres.Database, pg.Postgres.User = "db", "idmap", "nfs"
	require.NoError(t, pg.Validate())
	assert.Contains(t, pg.Postgres.DSN(), "host=db port=5432")

	_, err := New(&Config{Type: "oracle"})
	assert.Error(t, err)
}

func TestUsersAndGroups(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	u, err := s.GetUserByUID(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)
	assert.Len(t, u.ID, 36)
	assert.Equal(t, []uint32{100, 10}, u.GIDs())

	g, err := s.GetGroupByName(ctx, "staff")
	require.NoError(t, err)
	assert.Equal(t, uint32(100), g.GID)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "wheel", groups[0].Name)

	assert.ErrorIs(t, s.CreateUser(ctx, &User{Name: "alice", UID: 2000, GID: 100}), ErrDuplicateUser)
	assert.ErrorIs(t, s.CreateGroup(ctx, &Group{Name: "other", GID: 100}), ErrDuplicateGroup)
	assert.ErrorIs(t, s.AddMember(ctx, "bob", "staff"), ErrUserNotFound)
	assert.ErrorIs(t, s.AddMember(ctx, "alice", "nope"), ErrGroupNotFound)

	require.NoError(t, s.DeleteGroup(ctx, "wheel"))
	u, err = s.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []uint32{100}, u.GIDs())

	require.NoError(t, s.DeleteUser(ctx, "alice"))
	_, err = s.GetUserByUID(ctx, 1000)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, "alice"), ErrUserNotFound)

	require.NoError(t, s.Healthcheck(ctx))
}

func TestResolve(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	resp, err := s.Resolve(ctx, idmap.Request{Kind: idmap.UpcallUIDToName, ID: 1000})
	require.NoError(t, err)
	assert.Equal(t, idmap.Response{ID: 1000, Name: "alice", GIDs: []uint32{100, 10}, TTL: time.Minute}, resp)

	resp, err = s.Resolve(ctx, idmap.Request{Kind: idmap.UpcallNameToGID, Name: "wheel"})
	require.NoError(t, err)
	assert.Equal(t, uint32(10), resp.ID)

	_, err = s.Resolve(ctx, idmap.Request{Kind: idmap.UpcallNameToUID, Name: "bob"})
	assert.ErrorIs(t, err, idmap.ErrNotFound)
	_, err = s.Resolve(ctx, idmap.Request{Kind: idmap.UpcallGIDToName, ID: 4242})
	assert.ErrorIs(t, err, idmap.ErrNotFound)
}

func TestStoreBehindCache(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	c, err := idmap.New(idmap.Config{Domain: "example.com"}, s)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	assert.Equal(t, "alice@example.com", c.UIDToString(ctx, 1000))
	cred := c.CredentialFor(ctx, 1000)
	defer cred.Release()
	assert.Equal(t, uint32(100), cred.GID)
	assert.Equal(t, []uint32{10}, cred.Groups)
}
