package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/plugins/Acme.Plugin", nil)
	req = mux.SetURLVars(req, map[string]string{"type": "Acme.Plugin"})

	val, err := ParsePathString(req, "type")
	require.NoError(t, err)
	assert.Equal(t, "Acme.Plugin", val)

	_, err = ParsePathString(req, "missing")
	assert.Error(t, err)
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/plugins?mode=startup", nil)

	assert.Equal(t, "startup", ParseQueryString(req, "mode", "all"))
	assert.Equal(t, "all", ParseQueryString(req, "other", "all"))
}

func TestRequireQuery(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "present", url: "/resolve?identity=Acme%2C+Version%3D1.0.0.0", want: "Acme, Version=1.0.0.0"},
		{name: "missing", url: "/resolve", wantErr: true},
		{name: "blank", url: "/resolve?identity=+", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			got, err := RequireQuery(req, "identity")
			if tt.wantErr {
				assert.ErrorContains(t, err, "identity is required")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryBool(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?a=true&b=nope", nil)

	a, err := ParseQueryBool(req, "a", false)
	require.NoError(t, err)
	assert.True(t, a)

	_, err = ParseQueryBool(req, "b", false)
	assert.Error(t, err)

	c, err := ParseQueryBool(req, "c", true)
	require.NoError(t, err)
	assert.True(t, c)
}
