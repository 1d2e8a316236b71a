package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Check(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("not yet") }

	tests := []struct {
		name   string
		setup  func(h *HealthChecker)
		status string
	}{
		{name: "no checks", setup: func(*HealthChecker) {}, status: StatusHealthy},
		{
			name: "all pass",
			setup: func(h *HealthChecker) {
				h.AddCheck("discovery", true, ok)
				h.AddCheck("watcher", false, ok)
			},
			status: StatusHealthy,
		},
		{
			name: "optional failure degrades",
			setup: func(h *HealthChecker) {
				h.AddCheck("discovery", true, ok)
				h.AddCheck("watcher", false, fail)
			},
			status: StatusDegraded,
		},
		{
			name: "critical failure wins",
			setup: func(h *HealthChecker) {
				h.AddCheck("watcher", false, fail)
				h.AddCheck("discovery", true, fail)
			},
			status: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("test")
			tt.setup(h)

			status := h.Check(context.Background())
			assert.Equal(t, tt.status, status.Status)
			assert.Equal(t, "test", status.Version)
		})
	}
}

func TestHealthRoutes(t *testing.T) {
	h := NewHealthChecker("1.2.3")
	ready := false
	h.AddCheck("discovery", true, func(context.Context) error {
		if !ready {
			return errors.New("initial scan running")
		}
		return nil
	})

	r := mux.NewRouter()
	RegisterHealthRoutes(r, h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "initial scan running", status.Checks["discovery"].Message)

	ready = true
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
