package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfscore/pkg/metadata/store/badger"
	"github.com/marmos91/nfscore/pkg/metadata/store/memory"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Type: TypeBadger, Badger: badger.Config{Path: t.TempDir()}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &badger.Store{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Type: "etcd"}, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Config{Type: TypeBadger}
	assert.Error(t, cfg.Validate())
	cfg.Badger.InMemory = true
	assert.NoError(t, cfg.Validate())
}
