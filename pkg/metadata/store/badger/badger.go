// Package badger is a persistent metadata.Store on BadgerDB.
//
// Key layout:
//
//	o:<handle>          object marker, empty value
//	a:<handle>:<id>     one attribute, XDR-encoded; id is 4 bytes big-endian
//
// Handles are rendered with metadata.Handle.String, so UUID handles keep
// their familiar form in the key space.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/nfscore/internal/bytesize"
	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/pkg/metadata"
)

const (
	prefixObject = "o:"
	prefixAttr   = "a:"

	defaultCapacity = 1 << 40
	defaultMaxFiles = 1 << 20
	statsTTL        = 5 * time.Second
)

func keyObject(h metadata.Handle) []byte {
	return []byte(prefixObject + h.String())
}

func keyAttrPrefix(h metadata.Handle) []byte {
	return []byte(prefixAttr + h.String() + ":")
}

func keyAttr(h metadata.Handle, id attrs.AttrID) []byte {
	k := keyAttrPrefix(h)
	return binary.BigEndian.AppendUint32(k, uint32(id))
}

// attrFromKey extracts the attribute id from an a: key.
func attrFromKey(k []byte) attrs.AttrID {
	if len(k) < 4 {
		return attrs.AttrID(^uint32(0))
	}
	return attrs.AttrID(binary.BigEndian.Uint32(k[len(k)-4:]))
}

// Config configures the store.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string `mapstructure:"path" yaml:"path"`

	// InMemory keeps everything in RAM; useful for tests.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`

	// BlockCacheSizeMB and IndexCacheSizeMB size Badger's caches. Zero
	// selects 64 and 32.
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb" yaml:"block_cache_mb"`
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb" yaml:"index_cache_mb"`

	// Capacity and MaxFiles are reported through Statfs. Zero
	// selects 1 TiB and 1M.
	Capacity bytesize.ByteSize `mapstructure:"capacity" yaml:"capacity"`
	MaxFiles uint64            `mapstructure:"max_files" yaml:"max_files"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.BlockCacheSizeMB == 0 {
		c.BlockCacheSizeMB = 64
	}
	if c.IndexCacheSizeMB == 0 {
		c.IndexCacheSizeMB = 32
	}
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	if c.MaxFiles == 0 {
		c.MaxFiles = defaultMaxFiles
	}
}

// Store is a metadata.Store backed by BadgerDB.
type Store struct {
	db  *badgerdb.DB
	reg *attrs.Registry
	cfg Config

	statsCache struct {
		mu        sync.Mutex
		stats     metadata.FsStats
		timestamp time.Time
	}
}

var _ metadata.Store = (*Store)(nil)

// New opens (or creates) the database described by cfg. A nil reg selects
// attrs.DefaultRegistry.
func New(ctx context.Context, cfg Config, reg *attrs.Registry) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger metadata store: path is required")
	}
	cfg.ApplyDefaults()
	if reg == nil {
		reg = attrs.DefaultRegistry()
	}

	opts := badgerdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{}).
		WithLoggingLevel(badgerdb.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(cfg.BlockCacheSizeMB << 20).
		WithIndexCacheSize(cfg.IndexCacheSizeMB << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}
	logger.Info("metadata store opened", logger.KeyStore, "badger", logger.KeyPath, cfg.Path)
	return &Store{db: db, reg: reg, cfg: cfg}, nil
}

func mapClosed(err error) error {
	if errors.Is(err, badgerdb.ErrDBClosed) {
		return metadata.ErrClosed
	}
	return err
}

func requireObject(txn *badgerdb.Txn, h metadata.Handle) error {
	_, err := txn.Get(keyObject(h))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return metadata.ErrStaleHandle
	}
	return err
}

// GetAttribute implements metadata.Backend.
func (s *Store) GetAttribute(ctx context.Context, h metadata.Handle, id attrs.AttrID) (attrs.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var v attrs.Value
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyAttr(h, id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			if err := requireObject(txn, h); err != nil {
				return err
			}
			return metadata.NotProvided(id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err = metadata.DecodeValue(ctx, s.reg, id, val)
			return err
		})
	})
	if err != nil {
		return nil, mapClosed(err)
	}
	return v, nil
}

// SetAttribute implements metadata.Backend.
func (s *Store) SetAttribute(ctx context.Context, h metadata.Handle, id attrs.AttrID, v attrs.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := metadata.EncodeValue(ctx, s.reg, id, v)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if err := requireObject(txn, h); err != nil {
			return err
		}
		return txn.Set(keyAttr(h, id), data)
	})
	if err == nil && id == attrs.FATTR4_SPACE_USED {
		s.invalidateStats()
	}
	return mapClosed(err)
}

func (s *Store) invalidateStats() {
	s.statsCache.mu.Lock()
	s.statsCache.timestamp = time.Time{}
	s.statsCache.mu.Unlock()
}

// Statfs implements metadata.Backend. Usage is recomputed by a full scan at
// most every few seconds.
func (s *Store) Statfs(ctx context.Context, h metadata.Handle) (metadata.FsStats, error) {
	if err := ctx.Err(); err != nil {
		return metadata.FsStats{}, err
	}
	if err := s.db.View(func(txn *badgerdb.Txn) error { return requireObject(txn, h) }); err != nil {
		return metadata.FsStats{}, mapClosed(err)
	}

	s.statsCache.mu.Lock()
	defer s.statsCache.mu.Unlock()
	if !s.statsCache.timestamp.IsZero() && time.Since(s.statsCache.timestamp) < statsTTL {
		return s.statsCache.stats, nil
	}

	var files, used uint64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		objPrefix := []byte(prefixObject)
		for it.Seek(objPrefix); it.ValidForPrefix(objPrefix); it.Next() {
			files++
		}

		attrPrefix := []byte(prefixAttr)
		for it.Seek(attrPrefix); it.ValidForPrefix(attrPrefix); it.Next() {
			item := it.Item()
			if attrFromKey(item.Key()) != attrs.FATTR4_SPACE_USED {
				continue
			}
			if err := item.Value(func(val []byte) error {
				v, err := metadata.DecodeValue(ctx, s.reg, attrs.FATTR4_SPACE_USED, val)
				if err != nil {
					return err
				}
				n, _ := v.(uint64)
				used += n
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return metadata.FsStats{}, mapClosed(err)
	}

	st := metadata.Usage(s.cfg.Capacity.Uint64(), used, s.cfg.MaxFiles, files)
	s.statsCache.stats = st
	s.statsCache.timestamp = time.Now()
	return st, nil
}

// Create implements metadata.Store.
func (s *Store) Create(ctx context.Context, values map[attrs.AttrID]attrs.Value) (metadata.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := metadata.NewHandle()
	encoded := make(map[attrs.AttrID][]byte, len(values)+1)
	for id, v := range values {
		data, err := metadata.EncodeValue(ctx, s.reg, id, v)
		if err != nil {
			return nil, err
		}
		encoded[id] = data
	}
	fileid, err := metadata.EncodeValue(ctx, s.reg, attrs.FATTR4_FILEID, h.FileID())
	if err != nil {
		return nil, err
	}
	encoded[attrs.FATTR4_FILEID] = fileid

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyObject(h), nil); err != nil {
			return err
		}
		for id, data := range encoded {
			if err := txn.Set(keyAttr(h, id), data); err != nil {
				return fmt.Errorf("failed to store %v: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapClosed(err)
	}
	s.invalidateStats()
	return h, nil
}

// Remove implements metadata.Store.
func (s *Store) Remove(ctx context.Context, h metadata.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if err := requireObject(txn, h); err != nil {
			return err
		}
		prefix := keyAttrPrefix(h)
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(keyObject(h))
	})
	if err != nil {
		return mapClosed(err)
	}
	s.invalidateStats()
	return nil
}

// Handles implements metadata.Store.
func (s *Store) Handles(ctx context.Context) ([]metadata.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []metadata.Handle
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(prefixObject)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			h, err := metadata.ParseHandle(strings.TrimPrefix(string(it.Item().Key()), prefixObject))
			if err != nil {
				return err
			}
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, mapClosed(err)
	}
	return out, nil
}

// Healthcheck verifies the database still serves transactions.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", mapClosed(err))
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes Badger's own logging through the process logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), logger.KeyStore, "badger")
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), logger.KeyStore, "badger")
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), logger.KeyStore, "badger")
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), logger.KeyStore, "badger")
}
