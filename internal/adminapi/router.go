package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/pkg/metrics"
)

// NewRouter builds the admin routes:
//
//   - GET /health, GET /health/ready: unauthenticated health checks
//   - GET /metrics: Prometheus exposition
//   - GET /api/v1/...: read scope
//   - POST, DELETE /api/v1/...: admin scope
func NewRouter(h *Handlers, ts *TokenService) http.Handler {
	if h.startTime.IsZero() {
		h.startTime = time.Now()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.Liveness)
		r.Get("/ready", h.Readiness)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RequireScope(ts, ScopeRead))

			r.Get("/idmap/stats", h.IdmapStats)
			r.Get("/idmap/lookup", h.IdmapLookup)
			r.Get("/idmap/entries", h.IdmapEntries)
			r.Get("/sessions", h.ListSessions)
			r.Get("/attributes", h.ListAttributes)
			r.Get("/objects", h.ListObjects)
			r.Get("/objects/{handle}", h.GetObject)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireScope(ts, ScopeAdmin))

			r.Post("/idmap/reload", h.IdmapReload)
			r.Post("/idmap/entries", h.IdmapAdd)
			r.Delete("/idmap/entries/{kind}/{id}", h.IdmapDelete)
			r.Delete("/sessions/{id}", h.DestroySession)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}
		// Probes and scrapes are frequent.
		if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
			logger.Debug("admin request completed", logArgs...)
		} else {
			logger.Info("admin request completed", logArgs...)
		}
	})
}
