// Package api exposes the pre-signed data-plane HTTP routes.
//
// Every route authenticates through the transfer token embedded in its
// path segment; there are no session cookies or headers to forge. Routes:
//
//	PUT  /api/files/{token}            one part upload
//	POST /api/files/multi-file/{token} batched multipart-form direct upload
//	GET  /api/files/{token}            full or ranged download
//	GET  /api/zip-files/{token}        one entry of a stored zip archive
//	GET  /metrics                      Prometheus metrics (when enabled)
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/damian-krychowski/plikshare-sub002/internal/logger"
	"github.com/damian-krychowski/plikshare-sub002/internal/ratelimiter"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metrics"
	"github.com/damian-krychowski/plikshare-sub002/pkg/reader"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/registry"
	"github.com/damian-krychowski/plikshare-sub002/pkg/token"
	"github.com/damian-krychowski/plikshare-sub002/pkg/upload"
)

// Deps are the collaborators the routes are built on.
type Deps struct {
	Tokens   *token.Service
	Store    metadata.Store
	Storages *registry.Registry
	Uploader *upload.Orchestrator
	Reader   *reader.Reader

	// RateLimiter, when not nil, gates admission to the transfer
	// routes; requests over the limit get 429.
	RateLimiter *ratelimiter.RateLimiter

	// MetricsEnabled mounts /metrics backed by the global registry.
	MetricsEnabled bool
}

// Server is the data-plane HTTP server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
}

// NewServer builds the router and the HTTP server around it.
func NewServer(address string, deps Deps) *Server {
	h := &handlers{deps: deps}

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger)
	if deps.RateLimiter != nil {
		router.Use(rateLimit(deps.RateLimiter))
	}

	router.Put("/api/files/{token}", h.uploadPart)
	router.Post("/api/files/multi-file/{token}", h.uploadMultiFile)
	router.Get("/api/files/{token}", h.download)
	router.Get("/api/zip-files/{token}", h.downloadZipEntry)

	if deps.MetricsEnabled && metrics.IsEnabled() {
		router.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    address,
			Handler: router,
			// Transfers can legitimately run for a long time; only the
			// header read gets a hard deadline.
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		router: router,
	}
}

// Handler returns the server's router, mainly so it can be mounted in
// tests or behind another mux.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving requests until Shutdown or a listener
// failure.
func (s *Server) ListenAndServe() error {
	logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogger emits one debug line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("%s %s (%s)", r.Method, r.URL.Path, time.Since(started))
	})
}

// rateLimit rejects requests over the admission rate with 429. Rejected
// transfers are expected to retry; stalling them on a full bucket would
// only tie up their connections.
func rateLimit(limiter *ratelimiter.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, CodeTooManyRequests, "transfer rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
