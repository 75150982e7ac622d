// Package store selects and opens a metadata.Store from configuration.
package store

import (
	"context"
	"fmt"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/pkg/metadata"
	"github.com/marmos91/nfscore/pkg/metadata/store/badger"
	"github.com/marmos91/nfscore/pkg/metadata/store/memory"
)

// Type names a metadata backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeBadger Type = "badger"
)

// Config selects a backend and carries the settings of each.
type Config struct {
	Type   Type          `mapstructure:"type" yaml:"type" validate:"omitempty,oneof=memory badger"`
	Memory memory.Config `mapstructure:"memory" yaml:"memory"`
	Badger badger.Config `mapstructure:"badger" yaml:"badger"`
}

// ApplyDefaults selects the memory backend when none is named.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = TypeMemory
	}
	if c.Type == TypeBadger {
		c.Badger.ApplyDefaults()
	}
}

// Validate checks settings the struct tags cannot express.
func (c *Config) Validate() error {
	if c.Type == TypeBadger && c.Badger.Path == "" && !c.Badger.InMemory {
		return fmt.Errorf("metadata.badger.path is required")
	}
	return nil
}

// Open returns the configured store. A nil reg selects
// attrs.DefaultRegistry.
func Open(ctx context.Context, cfg Config, reg *attrs.Registry) (metadata.Store, error) {
	cfg.ApplyDefaults()
	switch cfg.Type {
	case TypeMemory:
		return memory.New(cfg.Memory, reg), nil
	case TypeBadger:
		return badger.New(ctx, cfg.Badger, reg)
	}
	return nil, fmt.Errorf("unknown metadata store type %q", cfg.Type)
}
