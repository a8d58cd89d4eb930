// Package server implements the HTTP Server (C14): the chi-routed transport
// binding every other component to the client API surface, the native
// passthrough routes, and the admin surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/plexus-gateway/plexus/internal/cache"
	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/cooldown"
	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/invoke"
	"github.com/plexus-gateway/plexus/internal/metrics"
	"github.com/plexus-gateway/plexus/internal/quota"
	"github.com/plexus-gateway/plexus/internal/ratelimit"
	"github.com/plexus-gateway/plexus/internal/router"
	"github.com/plexus-gateway/plexus/internal/storage/debugstore"
	"github.com/plexus-gateway/plexus/internal/tokencount"
	"github.com/plexus-gateway/plexus/internal/usage"
)

// Authenticator resolves an inbound request to a caller Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*gateway.Identity, error)
}

// Deps wires every already-built component into the HTTP surface. Fields are
// independently optional except ConfigStore, Auth, Router, and Invoker,
// which every route depends on; callers wanting a leaner server for tests
// may leave the rest nil and the affected code paths degrade gracefully.
type Deps struct {
	ConfigStore  *config.Store
	Auth         Authenticator
	Router       *router.Router
	Invoker      *invoke.Invoker
	Cooldown     *cooldown.Manager
	Quota        *quota.Tracker
	Cache        cache.Cache
	RateLimiter  *ratelimit.Registry
	TokenCounter *tokencount.Counter
	Usage        *usage.Recorder
	Metrics      *metrics.Metrics
	Aggregator   *metrics.Aggregator
	Debug        *debugstore.Store
	Tracer       trace.Tracer
	DefaultRPM   int64
	DefaultTPM   int64
	Version      string
	ReadyCheck   func(ctx context.Context) error
}

type server struct {
	deps Deps
}

// New builds the complete HTTP handler: global middleware, client API
// surface, native passthrough routes, and (when ConfigStore is non-nil) the
// admin surface.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(s.metricsMiddleware)
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Post("/v1/messages", s.handleMessages)
		r.Get("/v1/models", s.handleListModels)
	})

	s.mountNativeRoutes(r)

	if deps.ConfigStore != nil {
		r.Route("/v0", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/config", s.handleGetConfig)
			r.Post("/config", s.handlePostConfig)
			r.Get("/config/status", s.handleConfigStatus)
			r.Post("/config/reload", s.handleConfigReload)
			r.Get("/events", s.handleConfigEvents)
			r.Get("/management/performance", s.handleGetPerformance)
			r.Delete("/management/performance", s.handleDeletePerformance)
		})
	}

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.deps.ConfigStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": s.deps.Version})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// now is a seam so handlers can be exercised deterministically in tests
// without reaching for a wall-clock mock at every call site.
var now = time.Now
