package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	ctx := context.Background()

	var rec Recorder = m
	rec.FileScanned(ctx, OutcomeSuccess, 2*time.Millisecond)
	rec.FileScanned(ctx, OutcomeSuccess, time.Millisecond)
	rec.FileScanned(ctx, OutcomeFailure, time.Millisecond)
	rec.BadFile(ctx, "resolve")
	rec.Resolution(ctx, ResolutionCycle)
	rec.PluginLoaded(ctx, "startup")
	rec.Duplicate(ctx)
	rec.IdentityCache(ctx, true)
	rec.IdentityCache(ctx, false)
	rec.IdentityCache(ctx, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesScannedTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesScannedTotal.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BadFilesTotal.WithLabelValues("resolve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues(ResolutionCycle)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginsLoadedTotal.WithLabelValues("startup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentityCacheHitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IdentityCacheMissesTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ScanDuration))
}

func TestNewMetrics_RegistersOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	assert.Panics(t, func() { NewMetrics(registry) })
}

type countingRecorder struct {
	NopRecorder
	scanned, duplicates int
}

func (c *countingRecorder) FileScanned(context.Context, string, time.Duration) { c.scanned++ }
func (c *countingRecorder) Duplicate(context.Context)                          { c.duplicates++ }

func TestRecorders(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	rec := Recorders(a, nil, b)
	ctx := context.Background()

	rec.FileScanned(ctx, OutcomeNotCandidate, 0)
	rec.Duplicate(ctx)
	rec.Duplicate(ctx)
	rec.BadFile(ctx, "scan")
	rec.Resolution(ctx, ResolutionResolved)
	rec.PluginLoaded(ctx, "startup")
	rec.IdentityCache(ctx, true)

	for _, r := range []*countingRecorder{a, b} {
		assert.Equal(t, 1, r.scanned)
		assert.Equal(t, 2, r.duplicates)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/plugins", "418")))
}

func TestHTTPMetricsMiddleware_RouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/plugins/{type}", func(w http.ResponseWriter, r *http.Request) {})

	for _, name := range []string{"Acme.A", "Acme.B"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plugins/"+name, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/plugins/{type}", "200")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.Duplicate(context.Background())

	srv := httptest.NewServer(MetricsHandler(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "pescan_duplicates_total 1")
}
