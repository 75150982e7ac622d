package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/nfscore/internal/adminapi"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks cfg after defaults have been applied: struct tags first,
// then the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if err := cfg.Idmap.Validate(); err != nil {
		return err
	}
	if err := cfg.Metadata.Validate(); err != nil {
		return err
	}
	if err := cfg.Resolverd.Database.Validate(); err != nil {
		return fmt.Errorf("resolverd.database: %w", err)
	}

	if cfg.Admin.Enabled && len(cfg.Admin.GetJWTSecret()) < 32 {
		return fmt.Errorf("admin.jwt.secret: must be at least 32 characters (or set %s)", adminapi.EnvAdminSecret)
	}
	if cfg.Admin.Enabled && cfg.Metrics.Enabled && cfg.Admin.Port == cfg.Metrics.Port {
		return fmt.Errorf("admin.port and metrics.port are both %d", cfg.Admin.Port)
	}

	if cfg.Resolver.Type == ResolverStatic {
		if err := uniqueNames("resolver.users", len(cfg.Resolver.Users), func(i int) string { return cfg.Resolver.Users[i].Name }); err != nil {
			return err
		}
		if err := uniqueNames("resolver.groups", len(cfg.Resolver.Groups), func(i int) string { return cfg.Resolver.Groups[i].Name }); err != nil {
			return err
		}
	}
	return nil
}

// uniqueNames rejects duplicate names. The static resolver matches names
// exactly, so "alice" and "Alice" are distinct.
func uniqueNames(field string, n int, name func(int) string) error {
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		if seen[name(i)] {
			return fmt.Errorf("%s[%d]: duplicate name %q", field, i, name(i))
		}
		seen[name(i)] = true
	}
	return nil
}

// formatValidationError reports the first failed tag.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		e := validationErrors[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
