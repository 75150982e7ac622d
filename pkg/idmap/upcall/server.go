package upcall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/internal/telemetry"
	"github.com/marmos91/nfscore/pkg/idmap"
)

// ServerConfig configures a resolver Server.
type ServerConfig struct {
	// Network is "unix" or "tcp".
	Network string `mapstructure:"network" yaml:"network" validate:"omitempty,oneof=unix tcp"`

	// Address is the socket path or listen address.
	Address string `mapstructure:"address" yaml:"address"`

	// MaxConns bounds concurrently served connections.
	MaxConns int `mapstructure:"max_conns" yaml:"max_conns" validate:"omitempty,min=1"`

	// IdleTimeout closes connections with no request for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout bounds a single resolution.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ApplyDefaults fills zero fields.
func (c *ServerConfig) ApplyDefaults() {
	if c.Network == "" {
		c.Network = "unix"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 64
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

// Server answers upcalls with a Resolver. Connections are served one
// request at a time; any number of connections run in parallel up to
// MaxConns.
type Server struct {
	cfg      ServerConfig
	resolver idmap.Resolver

	ln           net.Listener
	ready        chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	connSem      chan struct{}

	wg       sync.WaitGroup // accept loop and connection handlers
	inflight sync.WaitGroup // resolutions in progress
	active   atomic.Int64
	served   atomic.Uint64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer returns a server answering with r.
func NewServer(cfg ServerConfig, r idmap.Resolver) *Server {
	cfg.ApplyDefaults()
	return &Server{
		cfg:      cfg,
		resolver: r,
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
		connSem:  make(chan struct{}, cfg.MaxConns),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address. A stale unix socket file left by a
// previous run is removed first.
func (s *Server) Listen() error {
	if s.cfg.Network == "unix" {
		if fi, err := os.Lstat(s.cfg.Address); err == nil && fi.Mode()&os.ModeSocket != 0 {
			_ = os.Remove(s.cfg.Address)
		}
	}
	ln, err := net.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", s.cfg.Network, s.cfg.Address, err)
	}
	s.ln = ln
	return nil
}

// Serve accepts connections until ctx is cancelled or Shutdown is called.
// It calls Listen if the server is not bound yet.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.wg.Add(1)
	defer s.wg.Done()
	close(s.ready)
	logger.Info("Identity resolver listening", logger.KeyAddr, s.ln.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			s.closeListener()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		select {
		case s.connSem <- struct{}{}:
		default:
			logger.Debug("Resolver connection limit reached, rejecting", logger.KeyClientAddr, conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.connSem }()
			defer s.track(c, false)
			s.handleConn(ctx, c)
		}(conn)
	}
}

// WaitReady is closed once the server accepts connections.
func (s *Server) WaitReady() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// InFlight returns the number of resolutions in progress.
func (s *Server) InFlight() int64 {
	return s.active.Load()
}

// Served returns the number of requests answered.
func (s *Server) Served() uint64 {
	return s.served.Load()
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		return
	}
	delete(s.conns, c)
	_ = c.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}

		var c call
		if err := readMessage(conn, &c); err != nil {
			var netErr net.Error
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) &&
				!(errors.As(err, &netErr) && netErr.Timeout()) {
				logger.Debug("Resolver read error", logger.Err(err))
			}
			return
		}

		rep, ok := s.serve(ctx, c)
		if !ok {
			return
		}
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.RequestTimeout)); err != nil {
			return
		}
		if err := writeMessage(conn, rep); err != nil {
			logger.Debug("Resolver write error", logger.Err(err))
			return
		}
	}
}

// serve resolves one call. It reports false when the server is shutting
// down and the connection should be dropped unanswered.
func (s *Server) serve(ctx context.Context, c call) (reply, bool) {
	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		return reply{}, false
	default:
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	s.active.Add(1)
	defer s.active.Add(-1)
	defer s.served.Add(1)

	req := c.request()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanResolverServe)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.UpcallKind(req.Kind.String()))

	if c.Version != Version {
		return reply{XID: c.XID, Status: StatusBadCall, Message: fmt.Sprintf("unsupported version %d", c.Version)}, true
	}
	switch req.Kind {
	case idmap.UpcallUIDToName, idmap.UpcallGIDToName, idmap.UpcallNameToUID, idmap.UpcallNameToGID:
	default:
		return reply{XID: c.XID, Status: StatusBadCall, Message: fmt.Sprintf("unknown kind %d", c.Kind)}, true
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.resolver.Resolve(ctx, req)
	switch {
	case err == nil:
		return replyFromResponse(c.XID, resp), true
	case errors.Is(err, idmap.ErrNotFound):
		return reply{XID: c.XID, Status: StatusNotFound}, true
	default:
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Resolver lookup failed",
			logger.KeyUpcallKind, req.Kind.String(), logger.KeyName, req.Name, logger.KeyUID, req.ID, logger.Err(err))
		return reply{XID: c.XID, Status: StatusError, Message: err.Error()}, true
	}
}

func (s *Server) closeListener() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		close(s.shutdown)
		s.mu.Unlock()
		if s.ln != nil {
			_ = s.ln.Close()
		}
	})
}

// Shutdown stops accepting connections and requests, waits for the
// resolutions in progress (bounded by ctx), then closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeListener()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("resolver shutdown: %d upcalls still running: %w", s.active.Load(), ctx.Err())
	}

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()

	if s.cfg.Network == "unix" && s.ln != nil {
		_ = os.Remove(s.cfg.Address)
	}
	logger.Info("Identity resolver stopped", "served", s.served.Load())
	return err
}
