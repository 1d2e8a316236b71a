package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan outcomes
const (
	OutcomeNotCandidate = "not_candidate"
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
)

// Resolution outcomes
const (
	ResolutionResolved   = "resolved"
	ResolutionDelegated  = "delegated"
	ResolutionCycle      = "cycle"
	ResolutionUnresolved = "unresolved"
)

// Recorder receives discovery events. Metrics and OTelMetrics implement it;
// Recorders combines several.
type Recorder interface {
	// FileScanned records one single-file scan and its outcome
	FileScanned(ctx context.Context, outcome string, duration time.Duration)
	// BadFile records a path entering the bad file set; source is "scan",
	// "resolve" or "load"
	BadFile(ctx context.Context, source string)
	// Resolution records the outcome of one identity resolution
	Resolution(ctx context.Context, outcome string)
	// PluginLoaded records one type forwarded to the host
	PluginLoaded(ctx context.Context, mode string)
	// Duplicate records a component dropped because its identity was seen
	Duplicate(ctx context.Context)
	// IdentityCache records an identity cache lookup
	IdentityCache(ctx context.Context, hit bool)
}

// NopRecorder discards every event
type NopRecorder struct{}

func (NopRecorder) FileScanned(context.Context, string, time.Duration) {}
func (NopRecorder) BadFile(context.Context, string)                    {}
func (NopRecorder) Resolution(context.Context, string)                 {}
func (NopRecorder) PluginLoaded(context.Context, string)               {}
func (NopRecorder) Duplicate(context.Context)                          {}
func (NopRecorder) IdentityCache(context.Context, bool)                {}

type multiRecorder []Recorder

// Recorders fans every event out to each non-nil recorder
func Recorders(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiRecorder) FileScanned(ctx context.Context, outcome string, d time.Duration) {
	for _, r := range m {
		r.FileScanned(ctx, outcome, d)
	}
}

func (m multiRecorder) BadFile(ctx context.Context, source string) {
	for _, r := range m {
		r.BadFile(ctx, source)
	}
}

func (m multiRecorder) Resolution(ctx context.Context, outcome string) {
	for _, r := range m {
		r.Resolution(ctx, outcome)
	}
}

func (m multiRecorder) PluginLoaded(ctx context.Context, mode string) {
	for _, r := range m {
		r.PluginLoaded(ctx, mode)
	}
}

func (m multiRecorder) Duplicate(ctx context.Context) {
	for _, r := range m {
		r.Duplicate(ctx)
	}
}

func (m multiRecorder) IdentityCache(ctx context.Context, hit bool) {
	for _, r := range m {
		r.IdentityCache(ctx, hit)
	}
}

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Discovery metrics
	FilesScannedTotal  *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	BadFilesTotal      *prometheus.CounterVec
	PluginsLoadedTotal *prometheus.CounterVec
	DuplicatesTotal    prometheus.Counter

	// Resolver metrics
	ResolutionsTotal         *prometheus.CounterVec
	IdentityCacheHitsTotal   prometheus.Counter
	IdentityCacheMissesTotal prometheus.Counter

	// Admin HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		FilesScannedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pescan_files_scanned_total",
				Help: "Total number of files passed through the metadata scanner",
			},
			[]string{"outcome"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pescan_scan_duration_seconds",
				Help:    "Single file scan duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),
		BadFilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pescan_bad_files_total",
				Help: "Total number of paths added to the bad file set",
			},
			[]string{"source"},
		),
		PluginsLoadedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pescan_plugins_loaded_total",
				Help: "Total number of plugin types forwarded to the host",
			},
			[]string{"mode"},
		),
		DuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pescan_duplicates_total",
				Help: "Total number of components dropped as duplicate identities",
			},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pescan_resolutions_total",
				Help: "Total number of identity resolutions",
			},
			[]string{"outcome"},
		),
		IdentityCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pescan_identity_cache_hits_total",
				Help: "Total number of identity cache hits",
			},
		),
		IdentityCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pescan_identity_cache_misses_total",
				Help: "Total number of identity cache misses",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pescan_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pescan_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.FilesScannedTotal,
		m.ScanDuration,
		m.BadFilesTotal,
		m.PluginsLoadedTotal,
		m.DuplicatesTotal,
		m.ResolutionsTotal,
		m.IdentityCacheHitsTotal,
		m.IdentityCacheMissesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

func (m *Metrics) FileScanned(_ context.Context, outcome string, d time.Duration) {
	m.FilesScannedTotal.WithLabelValues(outcome).Inc()
	m.ScanDuration.Observe(d.Seconds())
}

func (m *Metrics) BadFile(_ context.Context, source string) {
	m.BadFilesTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) Resolution(_ context.Context, outcome string) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PluginLoaded(_ context.Context, mode string) {
	m.PluginsLoadedTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) Duplicate(context.Context) {
	m.DuplicatesTotal.Inc()
}

func (m *Metrics) IdentityCache(_ context.Context, hit bool) {
	if hit {
		m.IdentityCacheHitsTotal.Inc()
	} else {
		m.IdentityCacheMissesTotal.Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments admin HTTP requests
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := routeTemplate(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routeTemplate returns the matched mux route template, or the raw path when
// the middleware runs outside a router
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
