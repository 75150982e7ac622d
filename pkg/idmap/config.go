package idmap

import (
	"fmt"
	"time"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxEntries    = 1000
	DefaultBuckets       = 64
	DefaultMaxUpcalls    = 8
	DefaultUpcallTimeout = 5 * time.Second

	// NobodyID is the conventional uid of nobody and gid of nogroup.
	NobodyID = 65534
)

// Config holds identity mapping settings. It is read at startup and only
// replaced as a whole by Cache.Reload.
type Config struct {
	// Domain is appended to bare names on output and stripped, compared
	// without regard to case, on input. Empty disables qualification.
	Domain string `mapstructure:"domain" yaml:"domain"`

	// DefaultUID and DefaultGID map to DefaultUser and DefaultGroup without
	// consulting the cache or the resolver. Zero selects NobodyID.
	DefaultUID   uint32 `mapstructure:"default_uid" yaml:"default_uid"`
	DefaultGID   uint32 `mapstructure:"default_gid" yaml:"default_gid"`
	DefaultUser  string `mapstructure:"default_user" yaml:"default_user"`
	DefaultGroup string `mapstructure:"default_group" yaml:"default_group"`

	// MaxEntries is the soft capacity enforced by the trim sweep.
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries" validate:"omitempty,min=1"`

	// TTL is the lifetime of entries added without an explicit one.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"omitempty,min=0"`

	// Buckets is the number of hash buckets per index.
	Buckets int `mapstructure:"buckets" yaml:"buckets" validate:"omitempty,min=1,max=65536"`

	// MaxUpcalls bounds concurrent resolver calls.
	MaxUpcalls int `mapstructure:"max_upcalls" yaml:"max_upcalls" validate:"omitempty,min=1"`

	// UpcallTimeout bounds a single resolver call.
	UpcallTimeout time.Duration `mapstructure:"upcall_timeout" yaml:"upcall_timeout"`

	// AllowNumericStrings accepts owner strings made only of digits as
	// literal ids, except on Kerberos requests.
	AllowNumericStrings bool `mapstructure:"allow_numeric_strings" yaml:"allow_numeric_strings"`
}

// DefaultConfig returns the defaults applied to zero fields.
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.DefaultUID == 0 {
		c.DefaultUID = NobodyID
	}
	if c.DefaultGID == 0 {
		c.DefaultGID = NobodyID
	}
	if c.DefaultUser == "" {
		c.DefaultUser = "nobody"
	}
	if c.DefaultGroup == "" {
		c.DefaultGroup = "nogroup"
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Buckets <= 0 {
		c.Buckets = DefaultBuckets
	}
	if c.MaxUpcalls <= 0 {
		c.MaxUpcalls = DefaultMaxUpcalls
	}
	if c.UpcallTimeout <= 0 {
		c.UpcallTimeout = DefaultUpcallTimeout
	}
}

// Validate checks a config after defaults have been applied.
func (c *Config) Validate() error {
	if c.DefaultUser == c.DefaultGroup && c.DefaultUID == c.DefaultGID && c.DefaultUser == "" {
		return fmt.Errorf("idmap: default user and group names are empty")
	}
	for _, r := range c.Domain {
		if r == '@' || r == ' ' {
			return fmt.Errorf("idmap: invalid domain %q", c.Domain)
		}
	}
	return nil
}
