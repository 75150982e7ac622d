package adminapi

import (
	"os"
	"time"

	"github.com/marmos91/nfscore/internal/logger"
)

// EnvAdminSecret overrides the configured token signing secret.
const EnvAdminSecret = "NFSCORE_ADMIN_SECRET"

// Config configures the admin HTTP server.
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP listen port.
	// Default: 8090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// Default: 10s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`
}

// JWTConfig configures bearer token signing and validation.
type JWTConfig struct {
	// Secret is the HMAC signing key, at least 32 characters. The
	// NFSCORE_ADMIN_SECRET environment variable takes precedence.
	Secret string `mapstructure:"secret" yaml:"secret"`

	// Issuer is checked on every token.
	// Default: "nfscore"
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// TokenDuration is the lifetime of issued tokens.
	// Default: 1h
	TokenDuration time.Duration `mapstructure:"token_duration" yaml:"token_duration"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "nfscore"
	}
	if c.JWT.TokenDuration == 0 {
		c.JWT.TokenDuration = time.Hour
	}
}

// GetJWTSecret returns the signing secret, preferring the environment.
func (c *Config) GetJWTSecret() string {
	if env := os.Getenv(EnvAdminSecret); env != "" {
		if c.JWT.Secret != "" && c.JWT.Secret != env {
			logger.Warn("admin secret from environment overrides config file value",
				"env_var", EnvAdminSecret)
		}
		return env
	}
	return c.JWT.Secret
}
