// Package api is the bookguard gateway HTTP server.
//
// Every request passes through the middleware chain below before it reaches
// the booking application (or the local acknowledgement handler):
//
//	request id -> span -> panic recovery -> security headers -> identity -> CSRF guard -> deduplication -> handler
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bookguard/config"
	"bookguard/csrf"
	"bookguard/dedup"
	"bookguard/identity"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DedupStatsPath exposes the deduplication cache statistics
const DedupStatsPath = "/internal/dedup/stats"

// Pinger is implemented by token stores that can report their health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures an API
type Option func(*API)

// WithTracerProvider sets the provider request spans are started from
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *API) {
		a.tracer = tp.Tracer(tracerName)
	}
}

// WithUpstream replaces the upstream handler, e.g. with a test double
func WithUpstream(h http.Handler) Option {
	return func(a *API) {
		a.upstream = h
	}
}

// WithTokenStore lets the health endpoint report token store reachability
func WithTokenStore(p Pinger) Option {
	return func(a *API) {
		a.tokenStore = p
	}
}

// API holds the API server
type API struct {
	router     *mux.Router
	serverMu   sync.Mutex
	server     *http.Server
	stopped    bool
	config     *config.Config
	guard      *csrf.Guard
	cache      *dedup.Cache
	tokenStore Pinger
	upstream   http.Handler
	tracer     trace.Tracer
	logger     *zap.SugaredLogger
}

// NewAPI creates a new API server
func NewAPI(cfg *config.Config, guard *csrf.Guard, cache *dedup.Cache, logger *zap.SugaredLogger, opts ...Option) (*API, error) {
	if guard == nil || cache == nil {
		return nil, fmt.Errorf("csrf guard and dedup cache are required")
	}
	a := &API{
		router: mux.NewRouter(),
		config: cfg,
		guard:  guard,
		cache:  cache,
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.upstream == nil {
		if cfg.API.UpstreamURL != "" {
			proxy, err := newUpstreamProxy(cfg.API.UpstreamURL, logger)
			if err != nil {
				return nil, err
			}
			a.upstream = proxy
		} else {
			a.upstream = http.HandlerFunc(a.acknowledge)
		}
	}

	a.setupRoutes()
	return a, nil
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.tracingMiddleware)
	a.router.Use(a.errorRecoveryMiddleware)
	a.router.Use(a.securityHeadersMiddleware)
	a.router.Use(identity.Middleware(identity.Options{
		JWTSecret:       []byte(a.config.Auth.JWTSecret),
		TrustProxy:      a.config.API.TrustProxy,
		TrustedNetworks: a.config.API.TrustedProxyNetworks,
	}, a.logger))
	if a.config.CSRF.Enabled {
		a.router.Use(a.guard.Middleware)
	}
	if a.config.Dedup.Enabled {
		a.router.Use(dedup.Middleware(a.cache, a.logger))
	}

	a.router.HandleFunc(a.config.CSRF.TokenPath, a.guard.TokenHandler).Methods(http.MethodGet)
	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	a.router.HandleFunc(DedupStatsPath, a.getDedupStats).Methods(http.MethodGet)

	// everything else belongs to the booking application
	a.router.PathPrefix("/").Handler(a.upstream)
}

// Handler returns the fully wired router
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server
func (a *API) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadTimeout:       a.config.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      a.config.Server.WriteTimeout,
	}
	a.serverMu.Lock()
	if a.stopped {
		a.serverMu.Unlock()
		return http.ErrServerClosed
	}
	a.server = server
	a.serverMu.Unlock()
	return server.ListenAndServe()
}

// Stop stops the API server. A Start that has not begun listening yet returns immediately.
func (a *API) Stop(ctx context.Context) error {
	a.serverMu.Lock()
	server := a.server
	a.stopped = true
	a.serverMu.Unlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}
