package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfscore/internal/adminapi"
	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/pkg/config"
	"github.com/marmos91/nfscore/pkg/idmap"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Resolver.Users = []idmap.StaticUser{{Name: "alice", UID: 1000, GID: 100}}
	cfg.Resolver.Groups = []idmap.StaticGroup{{Name: "staff", GID: 100}}
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func TestNewDefaults(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, testConfig())
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Admin())
	assert.NotNil(t, rt.Registry())
	require.NoError(t, rt.Store().Healthcheck(ctx))

	assert.Equal(t, "alice", rt.Idmap().UIDToString(ctx, 1000))
	gid, err := rt.Idmap().StringToGID(ctx, "staff")
	require.NoError(t, err)
	assert.Equal(t, uint32(100), gid)

	sess, err := rt.Sessions().CreateSession(1)
	require.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Len(t, rt.Sessions().ListSessions(), 1)
}

func TestNoResolver(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Resolver.Type = config.ResolverNone
	rt, err := New(ctx, cfg)
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Idmap().StringToUID(ctx, "alice")
	assert.Error(t, err)
}

func TestAdminRequiresSecret(t *testing.T) {
	t.Setenv(adminapi.EnvAdminSecret, "")
	cfg := testConfig()
	cfg.Admin.Enabled = true
	cfg.Admin.JWT.Secret = ""
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestApplyConfig(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, testConfig())
	require.NoError(t, err)
	defer rt.Close()

	origLevel := logger.GetLevel()
	t.Cleanup(func() { logger.SetLevel(origLevel.String()) })

	next := testConfig()
	next.Idmap.Domain = "example.com"
	next.Logging.Level = "ERROR"
	next.Resolver.Users = append(next.Resolver.Users, idmap.StaticUser{Name: "bob", UID: 1001, GID: 100})
	require.NoError(t, rt.ApplyConfig(ctx, next))

	assert.Equal(t, "bob@example.com", rt.Idmap().UIDToString(ctx, 1001))
	assert.Equal(t, "example.com", rt.Config().Idmap.Domain)
	assert.Equal(t, logger.LevelError, logger.GetLevel())

	bad := testConfig()
	bad.Idmap.Buckets = -1
	assert.Error(t, rt.ApplyConfig(ctx, bad))
	assert.Equal(t, "example.com", rt.Config().Idmap.Domain)
}

func TestServeAndShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.Enabled = true
	cfg.Admin.Port = freePort(t)
	cfg.Admin.JWT.Secret = testSecret

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := New(ctx, cfg)
	require.NoError(t, err)
	rt.SetConfigPath(path)

	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()

	addr, err := rt.WaitForAdmin(5 * time.Second)
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Reload through the API picks up a domain written to the file.
	cfg.Idmap.Domain = "example.org"
	require.NoError(t, config.SaveConfig(cfg, path))
	token, _, err := rt.Admin().Tokens().Issue("test", adminapi.ScopeAdmin)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/v1/idmap/reload", addr), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "example.org", rt.Idmap().Config().Domain)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Error(t, rt.Store().Healthcheck(context.Background()))
	assert.Error(t, rt.Serve(context.Background()))
}

func TestServeFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.Admin.Enabled = true
	cfg.Admin.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.Admin.JWT.Secret = testSecret

	rt, err := New(context.Background(), cfg)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Serve(context.Background()) }()
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not fail on a busy port")
	}
}
