package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/flatbed/pescan/pkg/httputil"
	"github.com/flatbed/pescan/pkg/observability"
	"github.com/flatbed/pescan/pkg/plugins"
	"github.com/flatbed/pescan/pkg/scanner"
)

// PluginSource lists loaded plugins. *plugins.Registry implements it.
type PluginSource interface {
	Plugins() []plugins.Description
	Get(typeName string) (plugins.Description, error)
}

// Resolver maps an identity to a file. *resolver.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, id string) (path string, found bool, err error)
}

// Discovery triggers rescans and exposes the bad file set. *plugins.Loader
// implements it.
type Discovery interface {
	Rescan(ctx context.Context) (*plugins.Summary, error)
	BadFiles() *scanner.BadFiles
}

// Server is the admin HTTP API
type Server struct {
	router    *mux.Router
	plugins   PluginSource
	resolver  Resolver
	discovery Discovery

	log      *logrus.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	health   *observability.HealthChecker
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics serves registry on /metrics and records HTTP metrics into m
func WithMetrics(registry *prometheus.Registry, m *observability.Metrics) Option {
	return func(s *Server) {
		s.registry = registry
		s.metrics = m
	}
}

// WithHealthChecker serves /healthz and /readyz from h
func WithHealthChecker(h *observability.HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// NewServer creates a new API server
func NewServer(source PluginSource, res Resolver, discovery Discovery, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		plugins:   source,
		resolver:  res,
		discovery: discovery,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.New()
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	s.router.HandleFunc("/api/v1/plugins", s.listPlugins).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/plugins/{type}", s.getPlugin).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/resolve", s.resolve).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/rescan", s.rescan).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/badfiles", s.listBadFiles).Methods(http.MethodGet)

	if s.registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.registry)).Methods(http.MethodGet)
	}
	if s.health != nil {
		observability.RegisterHealthRoutes(s.router, s.health)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped in request ID, recovery, logging and
// tracing middleware
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.log),
		httputil.LoggingMiddleware(s.log),
	)
	return otelhttp.NewHandler(chain(s.router), "pescan-admin")
}

// Router exposes the underlying router for extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}
