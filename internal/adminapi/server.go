package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/nfscore/internal/logger"
)

// Server is the admin HTTP server.
type Server struct {
	server       *http.Server
	config       Config
	tokens       *TokenService
	shutdownOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
}

// NewServer returns a stopped server. It fails when no signing secret of
// at least 32 characters is configured.
func NewServer(cfg Config, h *Handlers) (*Server, error) {
	cfg.ApplyDefaults()
	ts, err := NewTokenService(cfg)
	if err != nil {
		return nil, fmt.Errorf("admin API: %w; set %s or admin.jwt.secret", err, EnvAdminSecret)
	}
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(h, ts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		config: cfg,
		tokens: ts,
	}, nil
}

// Tokens returns the service used to validate bearer tokens.
func (s *Server) Tokens() *TokenService {
	return s.tokens
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("admin API listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// ctx is already cancelled, so shut down on a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin API failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin API shutdown: %w", err)
			logger.Error("admin API shutdown error", "error", err)
			return
		}
		logger.Info("admin API stopped")
	})
	return shutdownErr
}

// Addr returns the bound address once Start is listening, or the
// configured one before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}
