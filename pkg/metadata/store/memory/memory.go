// Package memory is an in-process metadata.Store. Contents are lost when
// the process exits.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/nfscore/internal/bytesize"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/pkg/metadata"
)

// Config sizes the file system the store reports through Statfs.
type Config struct {
	// Capacity is the reported total size. Zero means 1 TiB.
	Capacity bytesize.ByteSize `mapstructure:"capacity" yaml:"capacity"`

	// MaxFiles is the reported total object count. Zero means 1M.
	MaxFiles uint64 `mapstructure:"max_files" yaml:"max_files"`
}

const (
	defaultCapacity = 1 << 40
	defaultMaxFiles = 1 << 20
)

type object map[attrs.AttrID]attrs.Value

// Store keeps every object's values in a map guarded by one RWMutex.
type Store struct {
	mu      sync.RWMutex
	reg     *attrs.Registry
	objects map[string]object
	cfg     Config
	closed  bool
}

var _ metadata.Store = (*Store)(nil)

// New returns an empty store. A nil reg selects attrs.DefaultRegistry.
func New(cfg Config, reg *attrs.Registry) *Store {
	if reg == nil {
		reg = attrs.DefaultRegistry()
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = defaultMaxFiles
	}
	return &Store{reg: reg, objects: make(map[string]object), cfg: cfg}
}

func (s *Store) lookup(h metadata.Handle) (object, error) {
	if s.closed {
		return nil, metadata.ErrClosed
	}
	obj, ok := s.objects[string(h)]
	if !ok {
		return nil, metadata.ErrStaleHandle
	}
	return obj, nil
}

// GetAttribute implements metadata.Backend.
func (s *Store) GetAttribute(ctx context.Context, h metadata.Handle, id attrs.AttrID) (attrs.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	v, ok := obj[id]
	if !ok {
		return nil, metadata.NotProvided(id)
	}
	// Hand out a copy so callers cannot alias stored slices.
	return metadata.Normalize(s.reg, id, v)
}

// SetAttribute implements metadata.Backend.
func (s *Store) SetAttribute(ctx context.Context, h metadata.Handle, id attrs.AttrID, v attrs.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nv, err := metadata.Normalize(s.reg, id, v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.lookup(h)
	if err != nil {
		return err
	}
	obj[id] = nv
	return nil
}

// Statfs implements metadata.Backend. Used space is the sum of every
// object's space_used.
func (s *Store) Statfs(ctx context.Context, h metadata.Handle) (metadata.FsStats, error) {
	if err := ctx.Err(); err != nil {
		return metadata.FsStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.lookup(h); err != nil {
		return metadata.FsStats{}, err
	}
	var used uint64
	for _, obj := range s.objects {
		if n, ok := obj[attrs.FATTR4_SPACE_USED].(uint64); ok {
			used += n
		}
	}
	return metadata.Usage(s.cfg.Capacity.Uint64(), used, s.cfg.MaxFiles, uint64(len(s.objects))), nil
}

// Create implements metadata.Store.
func (s *Store) Create(ctx context.Context, values map[attrs.AttrID]attrs.Value) (metadata.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj := make(object, len(values)+1)
	for id, v := range values {
		nv, err := metadata.Normalize(s.reg, id, v)
		if err != nil {
			return nil, err
		}
		obj[id] = nv
	}
	h := metadata.NewHandle()
	obj[attrs.FATTR4_FILEID] = h.FileID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, metadata.ErrClosed
	}
	s.objects[string(h)] = obj
	return h, nil
}

// Remove implements metadata.Store.
func (s *Store) Remove(ctx context.Context, h metadata.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(h); err != nil {
		return err
	}
	delete(s.objects, string(h))
	return nil
}

// Handles implements metadata.Store.
func (s *Store) Handles(ctx context.Context) ([]metadata.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, metadata.ErrClosed
	}
	out := make([]metadata.Handle, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, metadata.Handle(k))
	}
	return out, nil
}

// Healthcheck implements metadata.Store.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrClosed
	}
	return nil
}

// Close drops every object.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.objects = nil
	return nil
}
