package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatbed/pescan/pkg/httputil"
	"github.com/flatbed/pescan/pkg/identity"
	"github.com/flatbed/pescan/pkg/observability"
	"github.com/flatbed/pescan/pkg/plugins"
	"github.com/flatbed/pescan/pkg/resolver"
	"github.com/flatbed/pescan/pkg/scanner"
)

type fakeDiscovery struct {
	bad       *scanner.BadFiles
	rescans   int
	rescanErr error
}

func (f *fakeDiscovery) Rescan(context.Context) (*plugins.Summary, error) {
	f.rescans++
	if f.rescanErr != nil {
		return nil, f.rescanErr
	}
	return &plugins.Summary{RunID: "run-1", Components: []string{"/plugins/b.dll"}, Plugins: 1}, nil
}

func (f *fakeDiscovery) BadFiles() *scanner.BadFiles {
	return f.bad
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestRegistry() *plugins.Registry {
	reg := plugins.NewRegistry(quietLogger())
	unit := plugins.Unit{Path: "/plugins/a.dll", Identity: identity.MustParse("Acme.A, Version=1.0.0.0")}
	reg.LoadPlugin(context.Background(), unit, "Acme.A.Zeta", unit.Path, plugins.Startup)
	reg.LoadPlugin(context.Background(), unit, "Acme.A.Alpha", unit.Path, plugins.Startup)
	reg.LoadPlugin(context.Background(), unit, "Acme.A.Late", unit.Path, plugins.AfterStartup)
	return reg
}

func resolveFunc(paths map[string]string) resolver.ParentFunc {
	return func(_ context.Context, id string) (string, bool, error) {
		if strings.TrimSpace(id) == "" {
			return "", false, resolver.ErrEmptyIdentity
		}
		if _, err := identity.Parse(id); err != nil {
			return "", false, fmt.Errorf("%w: %v", resolver.ErrInvalidIdentity, err)
		}
		if id == "Acme.Broken" {
			return "", false, errors.New("parent failed")
		}
		path, ok := paths[id]
		return path, ok, nil
	}
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *fakeDiscovery) {
	t.Helper()
	bad := scanner.NewBadFiles()
	bad.Add("/plugins/z.dll")
	bad.Add("/plugins/c.dll")
	disc := &fakeDiscovery{bad: bad}

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s := NewServer(newTestRegistry(), resolveFunc(map[string]string{"Acme.A": "/plugins/a.dll"}), disc, opts...)
	return s, disc
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func typeNames(ds []map[string]any) []string {
	names := make([]string, 0, len(ds))
	for _, d := range ds {
		names = append(names, d["type_name"].(string))
	}
	return names
}

func TestListPlugins(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{"all in load order", "/api/v1/plugins", []string{"Acme.A.Zeta", "Acme.A.Alpha", "Acme.A.Late"}},
		{"sorted", "/api/v1/plugins?sorted=true", []string{"Acme.A.Alpha", "Acme.A.Late", "Acme.A.Zeta"}},
		{"startup only", "/api/v1/plugins?mode=startup", []string{"Acme.A.Zeta", "Acme.A.Alpha"}},
		{"after startup only", "/api/v1/plugins?mode=after_startup", []string{"Acme.A.Late"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodGet, tt.target)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, typeNames(decode[[]map[string]any](t, w)))
		})
	}

	t.Run("bad mode", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/plugins?mode=later")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[httputil.ErrorResponse](t, w).Error, "later")
	})

	t.Run("bad sorted flag", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/plugins?sorted=maybe")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetPlugin(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/plugins/Acme.A.Alpha")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]any](t, w)
	assert.Equal(t, "Acme.A.Alpha", got["type_name"])
	assert.Equal(t, "/plugins/a.dll", got["source"])
	assert.Equal(t, "Acme.A, Version=1.0.0.0", got["identity"])
	assert.Equal(t, "startup", got["mode"])

	w = do(t, s, http.MethodGet, "/api/v1/plugins/Acme.Missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolve(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("found", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/resolve?identity=Acme.A")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, ResolveResponse{Identity: "Acme.A", Found: true, Path: "/plugins/a.dll"},
			decode[ResolveResponse](t, w))
	})

	t.Run("not found", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/resolve?identity=Acme.Other")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, ResolveResponse{Identity: "Acme.Other"}, decode[ResolveResponse](t, w))
	})

	t.Run("missing identity", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/resolve")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "identity is required", decode[httputil.ErrorResponse](t, w).Error)
	})

	t.Run("invalid identity", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/resolve?identity=Acme%2C+Version%3Dx")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("parent error", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/resolve?identity=Acme.Broken")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "parent failed", decode[httputil.ErrorResponse](t, w).Error)
	})
}

func TestRescan(t *testing.T) {
	s, disc := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/rescan")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Zero(t, disc.rescans)

	w = do(t, s, http.MethodPost, "/api/v1/rescan")
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[plugins.Summary](t, w)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 1, summary.Plugins)
	assert.Equal(t, 1, disc.rescans)

	disc.rescanErr = context.Canceled
	w = do(t, s, http.MethodPost, "/api/v1/rescan")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListBadFiles(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/badfiles")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, BadFilesResponse{Count: 2, Paths: []string{"/plugins/c.dll", "/plugins/z.dll"}},
		decode[BadFilesResponse](t, w))
}

func TestServer_MetricsAndHealth(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ready := false
	health := observability.NewHealthChecker("test")
	health.AddCheck("plugins", true, func(context.Context) error {
		if !ready {
			return errors.New("initial scan has not finished")
		}
		return nil
	})

	s, _ := newTestServer(t, WithMetrics(registry, metrics), WithHealthChecker(health))
	h := s.Handler()

	w := do(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	ready = true
	w = do(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/plugins/Acme.A.Alpha")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))

	w = do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `path="/api/v1/plugins/{type}"`)
}

func TestServer_WithoutOptionalRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/healthz").Code)
}
