package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfscore/internal/adminapi"
	"github.com/marmos91/nfscore/pkg/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// execute runs the root command with args and returns stdout. Package
// level flag variables survive between runs, so they are reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, outputFormat = "", "table"
	tokenScope, tokenSubject, tokenTTL = string(adminapi.ScopeRead), "cli", 0
	decodeDomain = ""
	userUID, userGID, groupID = 0, 0, 0

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	cfg := config.GetDefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Resolverd.Database.SQLite.Path = filepath.Join(dir, "idmap.db")
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nfscore dev")
}

func TestAttrsList(t *testing.T) {
	out, err := execute(t, "attrs", "list", "-o", "json")
	require.NoError(t, err)

	var infos []AttrInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.NotEmpty(t, infos)
	assert.Equal(t, "supported_attrs", infos[0].Name)
	assert.Equal(t, uint32(0), infos[0].ID)

	out, err = execute(t, "attrs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "time_modify_set")
}

func TestAttrsDecode(t *testing.T) {
	// bitmap {type}, four-byte block, NF4REG
	out, err := execute(t, "attrs", "decode", "-o", "json", "0x00000001 00000002 00000004 00000001")
	require.NoError(t, err)

	var decoded []DecodedAttr
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "type", decoded[0].Name)
	assert.Equal(t, "ok", decoded[0].Status)
	assert.Equal(t, "1", decoded[0].Value)
}

func TestAttrsDecodeErrors(t *testing.T) {
	_, err := execute(t, "attrs", "decode", "zz")
	assert.ErrorContains(t, err, "invalid hex")

	// Block length runs past the end of the input.
	_, err = execute(t, "attrs", "decode", "000000010000000200000008")
	assert.Error(t, err)

	_, err = execute(t, "attrs", "decode", "0000000100000002000000040000000100")
	assert.ErrorContains(t, err, "trailing")
}

func TestToken(t *testing.T) {
	path := writeConfig(t, func(c *config.Config) { c.Admin.JWT.Secret = testSecret })

	out, err := execute(t, "--config", path, "token", "--scope", "admin", "--subject", "ops")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	ts, err := adminapi.NewTokenService(cfg.Admin)
	require.NoError(t, err)
	claims, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, adminapi.ScopeAdmin, claims.Scope)

	_, err = execute(t, "--config", path, "token", "--scope", "root")
	assert.ErrorContains(t, err, "invalid scope")
}

func TestTokenWithoutSecret(t *testing.T) {
	t.Setenv(adminapi.EnvAdminSecret, "")
	path := writeConfig(t, nil)
	_, err := execute(t, "--config", path, "token")
	assert.ErrorContains(t, err, adminapi.EnvAdminSecret)
}

func TestResolverdDatabase(t *testing.T) {
	path := writeConfig(t, nil)

	_, err := execute(t, "--config", path, "resolverd", "group", "add", "staff", "--gid", "100")
	require.NoError(t, err)
	_, err = execute(t, "--config", path, "resolverd", "group", "add", "wheel", "--gid", "10")
	require.NoError(t, err)
	out, err := execute(t, "--config", path, "resolverd", "user", "add", "alice", "--uid", "1000", "--gid", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "User alice added")
	_, err = execute(t, "--config", path, "resolverd", "user", "add-member", "alice", "wheel")
	require.NoError(t, err)

	out, err = execute(t, "--config", path, "resolverd", "user", "list", "-o", "json")
	require.NoError(t, err)
	var users []struct {
		Name   string `json:"name"`
		UID    uint32 `json:"uid"`
		Groups []struct {
			Name string `json:"name"`
		} `json:"groups"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)
	assert.Equal(t, uint32(1000), users[0].UID)
	require.Len(t, users[0].Groups, 1)
	assert.Equal(t, "wheel", users[0].Groups[0].Name)

	out, err = execute(t, "--config", path, "resolverd", "group", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "staff")
	assert.Contains(t, out, "wheel")

	_, err = execute(t, "--config", path, "resolverd", "user", "add", "alice", "--uid", "1001")
	assert.Error(t, err)

	_, err = execute(t, "--config", path, "resolverd", "user", "delete", "alice")
	require.NoError(t, err)
	_, err = execute(t, "--config", path, "resolverd", "user", "delete", "alice")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	path := writeConfig(t, func(c *config.Config) { c.Admin.JWT.Secret = testSecret })

	out, err := execute(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Validation: OK")
	assert.Contains(t, out, "idmap domain not set")

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "<redacted>")
	assert.NotContains(t, out, testSecret)

	out, err = execute(t, "config", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "nfscore configuration")

	newPath := filepath.Join(t.TempDir(), "new.yaml")
	out, err = execute(t, "--config", newPath, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, newPath)
	_, err = execute(t, "--config", newPath, "config", "init")
	assert.ErrorContains(t, err, "already exists")
}
