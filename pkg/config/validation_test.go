package config

import (
	"strings"
	"testing"

	"github.com/marmos91/nfscore/internal/adminapi"
	"github.com/marmos91/nfscore/pkg/idmap"
	mdstore "github.com/marmos91/nfscore/pkg/metadata/store"
)

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected default config to pass validation, got: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	t.Setenv(adminapi.EnvAdminSecret, "")

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "LOUD" }, "oneof"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "lte"},
		{"profile type", func(c *Config) { c.Telemetry.Profiling.ProfileTypes = []string{"heap"} }, "oneof"},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "max"},
		{"admin port", func(c *Config) { c.Admin.Port = 70000 }, "max"},
		{"session slots", func(c *Config) { c.Sessions.MaxSlots = 65 }, "max"},
		{"idmap buckets", func(c *Config) { c.Idmap.Buckets = 1 << 20 }, "max"},
		{"idmap domain", func(c *Config) { c.Idmap.Domain = "bad domain" }, "domain"},
		{"resolver type", func(c *Config) { c.Resolver.Type = "ldap" }, "oneof"},
		{"upcall network", func(c *Config) { c.Resolver.Upcall.Network = "udp" }, "oneof"},
		{"static user name", func(c *Config) { c.Resolver.Users = []idmap.StaticUser{{UID: 1}} }, "required"},
		{"duplicate user", func(c *Config) {
			c.Resolver.Users = []idmap.StaticUser{{Name: "alice", UID: 1}, {Name: "alice", UID: 2}}
		}, "duplicate"},
		{"metadata type", func(c *Config) { c.Metadata.Type = "etcd" }, "oneof"},
		{"badger path", func(c *Config) {
			c.Metadata.Type = mdstore.TypeBadger
			c.Metadata.Badger.Path = ""
		}, "path"},
		{"admin secret", func(c *Config) {
			c.Admin.Enabled = true
			c.Admin.JWT.Secret = "short"
		}, "32 characters"},
		{"port clash", func(c *Config) {
			c.Admin.Enabled = true
			c.Admin.JWT.Secret = strings.Repeat("s", 32)
			c.Metrics.Enabled = true
			c.Metrics.Port = c.Admin.Port
		}, "both"},
		{"postgres", func(c *Config) { c.Resolverd.Database.Type = "postgres" }, "resolverd.database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_DuplicateNamesIgnoredWithoutStaticResolver(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Resolver.Type = ResolverNone
	cfg.Resolver.Users = []idmap.StaticUser{{Name: "a", UID: 1}, {Name: "a", UID: 2}}
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}
