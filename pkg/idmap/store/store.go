// Package store keeps the uid/gid <-> name mappings served by the resolver
// daemon in a SQL database (SQLite by default, PostgreSQL for shared
// deployments). Store implements idmap.Resolver.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/nfscore/pkg/idmap"
)

// DatabaseType selects the SQL backend.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file. Default: $XDG_CONFIG_HOME/nfscore/idmap.db
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += " sslmode=" + c.SSLMode
	}
	return dsn
}

// Config contains database configuration.
type Config struct {
	Type     DatabaseType   `mapstructure:"type" yaml:"type" validate:"omitempty,oneof=sqlite postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`

	// TTL is returned with every answer so caches can keep entries longer
	// or shorter than their default. Zero leaves the choice to the cache.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.SQLite.Path = filepath.Join(configDir, "nfscore", "idmap.db")
	}
	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 10
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 2
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			return fmt.Errorf("postgres host, database and user are required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// Store is the GORM-backed mapping store.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
}

var _ idmap.Resolver = (*Store)(nil)

// New opens the database and migrates the schema.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dialector = sqlite.Open(cfg.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	case DatabaseTypePostgres:
		dialector = postgres.Open(cfg.Postgres.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}
	return &Store{db: db, ttl: cfg.TTL}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Healthcheck pings the database.
func (s *Store) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func convertNotFoundError(err, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

// ============================================================================
// Users
// ============================================================================

// CreateUser inserts u, assigning an ID when empty. Groups listed in
// u.Groups must already exist.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateUser
		}
		return err
	}
	return nil
}

func (s *Store) getUser(ctx context.Context, field string, value any) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Preload("Groups").Where(field+" = ?", value).First(&u).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrUserNotFound)
	}
	return &u, nil
}

// GetUserByUID returns the user with uid.
func (s *Store) GetUserByUID(ctx context.Context, uid uint32) (*User, error) {
	return s.getUser(ctx, "uid", uid)
}

// GetUserByName returns the user called name.
func (s *Store) GetUserByName(ctx context.Context, name string) (*User, error) {
	return s.getUser(ctx, "name", name)
}

// ListUsers returns every user ordered by uid.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := s.db.WithContext(ctx).Preload("Groups").Order("uid").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// DeleteUser removes the user called name and its memberships.
func (s *Store) DeleteUser(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.Where("name = ?", name).First(&u).Error; err != nil {
			return convertNotFoundError(err, ErrUserNotFound)
		}
		if err := tx.Model(&u).Association("Groups").Clear(); err != nil {
			return err
		}
		return tx.Delete(&u).Error
	})
}

// AddMember adds the user to the group.
func (s *Store) AddMember(ctx context.Context, user, group string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.Where("name = ?", user).First(&u).Error; err != nil {
			return convertNotFoundError(err, ErrUserNotFound)
		}
		var g Group
		if err := tx.Where("name = ?", group).First(&g).Error; err != nil {
			return convertNotFoundError(err, ErrGroupNotFound)
		}
		return tx.Model(&u).Association("Groups").Append(&g)
	})
}

// ============================================================================
// Groups
// ============================================================================

// CreateGroup inserts g, assigning an ID when empty.
func (s *Store) CreateGroup(ctx context.Context, g *Group) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateGroup
		}
		return err
	}
	return nil
}

func (s *Store) getGroup(ctx context.Context, field string, value any) (*Group, error) {
	var g Group
	if err := s.db.WithContext(ctx).Where(field+" = ?", value).First(&g).Error; err != nil {
		return nil, convertNotFoundError(err, ErrGroupNotFound)
	}
	return &g, nil
}

// GetGroupByGID returns the group with gid.
func (s *Store) GetGroupByGID(ctx context.Context, gid uint32) (*Group, error) {
	return s.getGroup(ctx, "gid", gid)
}

// GetGroupByName returns the group called name.
func (s *Store) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	return s.getGroup(ctx, "name", name)
}

// ListGroups returns every group ordered by gid.
func (s *Store) ListGroups(ctx context.Context) ([]*Group, error) {
	var groups []*Group
	if err := s.db.WithContext(ctx).Order("gid").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// DeleteGroup removes the group called name and its memberships.
func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g Group
		if err := tx.Where("name = ?", name).First(&g).Error; err != nil {
			return convertNotFoundError(err, ErrGroupNotFound)
		}
		if err := tx.Exec("DELETE FROM idmap_user_groups WHERE group_id = ?", g.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&g).Error
	})
}

// ============================================================================
// Resolver
// ============================================================================

// Resolve implements idmap.Resolver. Missing records map to
// idmap.ErrNotFound.
func (s *Store) Resolve(ctx context.Context, req idmap.Request) (idmap.Response, error) {
	var (
		u   *User
		g   *Group
		err error
	)
	switch req.Kind {
	case idmap.UpcallUIDToName:
		u, err = s.GetUserByUID(ctx, req.ID)
	case idmap.UpcallNameToUID:
		u, err = s.GetUserByName(ctx, req.Name)
	case idmap.UpcallGIDToName:
		g, err = s.GetGroupByGID(ctx, req.ID)
	case idmap.UpcallNameToGID:
		g, err = s.GetGroupByName(ctx, req.Name)
	default:
		return idmap.Response{}, fmt.Errorf("unsupported upcall %s", req.Kind)
	}
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrGroupNotFound) {
		return idmap.Response{}, idmap.ErrNotFound
	}
	if err != nil {
		return idmap.Response{}, err
	}
	if u != nil {
		return idmap.Response{ID: u.UID, Name: u.Name, GIDs: u.GIDs(), TTL: s.ttl}, nil
	}
	return idmap.Response{ID: g.GID, Name: g.Name, TTL: s.ttl}, nil
}
