// Package runtime assembles the long-running nfscore services from a loaded
// configuration: the attribute store, the identity mapping cache and its
// resolver, the session table, and the admin and metrics HTTP servers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/nfscore/internal/adminapi"
	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/state"
	"github.com/marmos91/nfscore/pkg/config"
	"github.com/marmos91/nfscore/pkg/idmap"
	"github.com/marmos91/nfscore/pkg/idmap/upcall"
	"github.com/marmos91/nfscore/pkg/metadata"
	mdstore "github.com/marmos91/nfscore/pkg/metadata/store"
	"github.com/marmos91/nfscore/pkg/metrics"
)

// Runtime owns every service started by `nfscore start`.
type Runtime struct {
	mu         sync.RWMutex
	cfg        *config.Config
	configPath string

	registry *attrs.Registry
	store    metadata.Store
	idmap    *idmap.Cache
	sessions *state.Manager

	static *idmap.StaticResolver
	client *upcall.Client

	admin         *adminapi.Server
	metricsServer *metrics.Server

	serveOnce sync.Once
	closeOnce sync.Once
}

// New builds the services described by cfg. Nothing listens until Serve.
// When cfg.Metrics is enabled the global metrics registry must already be
// initialized.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	r := &Runtime{cfg: cfg, registry: attrs.DefaultRegistry()}

	reg := metrics.Registerer()
	if !cfg.Metrics.Enabled {
		reg = nil
	}

	store, err := mdstore.Open(ctx, cfg.Metadata, r.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	r.store = store
	logger.Info("Metadata store opened", logger.KeyStore, string(cfg.Metadata.Type))

	resolver, err := r.newResolver(cfg.Resolver)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	var opts []idmap.Option
	if reg != nil {
		opts = append(opts, idmap.WithMetrics(idmap.NewMetrics(reg)))
	}
	r.idmap, err = idmap.New(cfg.Idmap, resolver, opts...)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}

	r.sessions = state.NewManager(cfg.Sessions)
	if reg != nil {
		r.sessions.SetMetrics(state.NewSequenceMetrics(reg), state.NewSessionMetrics(reg))
	}

	if cfg.Admin.Enabled {
		h := &adminapi.Handlers{
			Idmap:       r.idmap,
			Sessions:    r.sessions,
			Metadata:    r.store,
			Registry:    r.registry,
			ReloadIdmap: r.reloadFromRequest,
		}
		r.admin, err = adminapi.NewServer(cfg.Admin, h)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
	}

	if metrics.IsEnabled() && cfg.Metrics.Enabled {
		r.metricsServer = metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
	}

	return r, nil
}

func (r *Runtime) newResolver(cfg config.ResolverConfig) (idmap.Resolver, error) {
	switch cfg.Type {
	case config.ResolverNone:
		logger.Info("Identity resolver disabled")
		return nil, nil
	case config.ResolverUpcall:
		r.client = upcall.NewClient(cfg.Upcall)
		logger.Info("Identity resolver configured", "type", "upcall", logger.KeyAddr, cfg.Upcall.Address)
		return r.client, nil
	case config.ResolverStatic, "":
		r.static = idmap.NewStaticResolver(cfg.Users, cfg.Groups)
		logger.Info("Identity resolver configured", "type", "static", "users", len(cfg.Users), "groups", len(cfg.Groups))
		return r.static, nil
	default:
		return nil, fmt.Errorf("unknown resolver type: %s", cfg.Type)
	}
}

// Registry returns the attribute registry shared by every component.
func (r *Runtime) Registry() *attrs.Registry { return r.registry }

// Store returns the metadata store.
func (r *Runtime) Store() metadata.Store { return r.store }

// Idmap returns the identity mapping cache.
func (r *Runtime) Idmap() *idmap.Cache { return r.idmap }

// Sessions returns the session table.
func (r *Runtime) Sessions() *state.Manager { return r.sessions }

// Admin returns the admin API server, or nil when it is disabled.
func (r *Runtime) Admin() *adminapi.Server { return r.admin }

// SetConfigPath records the file the configuration was loaded from, so the
// reload endpoint reads the same one. Empty means the default location.
func (r *Runtime) SetConfigPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configPath = path
}

// Config returns the configuration currently applied.
func (r *Runtime) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// ApplyConfig applies the reloadable parts of cfg: the idmap section and,
// when the static resolver is in use, its user and group lists. Everything
// else needs a restart.
func (r *Runtime) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	if err := r.idmap.Reload(ctx, cfg.Idmap); err != nil {
		return fmt.Errorf("failed to reload identity mapping: %w", err)
	}
	if r.static != nil {
		r.static.Replace(cfg.Resolver.Users, cfg.Resolver.Groups)
	}

	r.mu.Lock()
	old := r.cfg
	r.cfg = cfg
	r.mu.Unlock()

	if old.Logging.Level != cfg.Logging.Level {
		logger.SetLevel(cfg.Logging.Level)
		logger.Info("Log level changed", "level", cfg.Logging.Level)
	}
	if old.Resolver.Type != cfg.Resolver.Type {
		logger.Warn("Resolver type change needs a restart", "current", old.Resolver.Type, "requested", cfg.Resolver.Type)
	}
	logger.Info("Configuration applied", "domain", cfg.Idmap.Domain)
	return nil
}

// reloadFromRequest backs POST /api/v1/idmap/reload: the configuration
// file is read again and applied.
func (r *Runtime) reloadFromRequest(req *http.Request) error {
	r.mu.RLock()
	path := r.configPath
	r.mu.RUnlock()

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return r.ApplyConfig(req.Context(), cfg)
}

// Serve runs the HTTP servers until ctx is cancelled or one of them fails,
// then shuts everything down. It may be called once.
func (r *Runtime) Serve(ctx context.Context) error {
	err := errors.New("runtime already served")
	r.serveOnce.Do(func() {
		err = r.serve(ctx)
	})
	return err
}

func (r *Runtime) serve(ctx context.Context) error {
	logger.Info("Starting nfscore runtime")

	g, gctx := errgroup.WithContext(ctx)
	if r.admin != nil {
		g.Go(func() error { return r.admin.Start(gctx) })
	}
	if r.metricsServer != nil {
		logger.Info("Metrics enabled", "port", r.metricsServer.Port())
		g.Go(func() error { return r.metricsServer.Start(gctx) })
	} else {
		logger.Info("Metrics collection disabled")
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	serveErr := g.Wait()
	if serveErr != nil {
		logger.Error("Server failed - initiating shutdown", logger.Err(serveErr))
	} else {
		logger.Info("Shutdown signal received", "reason", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.Config().ShutdownTimeout)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error during shutdown", logger.Err(err))
	}

	logger.Info("nfscore runtime stopped")
	return serveErr
}

// Shutdown drains in-flight session requests, then releases the cache,
// resolver and store.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if r.sessions != nil {
		logger.Info("Draining sessions")
		if err := r.sessions.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sessions: %w", err))
		}
	}
	if err := r.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases resources without waiting for sessions. Safe to call more
// than once.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.idmap != nil {
			r.idmap.Close()
		}
		if r.client != nil {
			if cerr := r.client.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("resolver client: %w", cerr))
			}
		}
		if r.store != nil {
			if cerr := r.store.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("metadata store: %w", cerr))
			}
		}
	})
	return err
}

// WaitForAdmin polls until the admin API is bound or the timeout expires.
// It returns the bound address.
func (r *Runtime) WaitForAdmin(timeout time.Duration) (string, error) {
	if r.admin == nil {
		return "", errors.New("admin API disabled")
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if addr := r.admin.Addr(); addr != "" && addr[0] != ':' {
			return addr, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", fmt.Errorf("admin API not listening after %s", timeout)
}
