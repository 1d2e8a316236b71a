package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/flatbed/pescan/pkg/httputil"
	"github.com/flatbed/pescan/pkg/observability"
	"github.com/flatbed/pescan/pkg/plugins"
	"github.com/flatbed/pescan/pkg/resolver"
)

// ResolveResponse is the body of GET /api/v1/resolve
type ResolveResponse struct {
	Identity string `json:"identity"`
	Found    bool   `json:"found"`
	Path     string `json:"path,omitempty"`
}

// BadFilesResponse is the body of GET /api/v1/badfiles
type BadFilesResponse struct {
	Count int      `json:"count"`
	Paths []string `json:"paths"`
}

// listPlugins handles GET /api/v1/plugins
func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	sorted, err := httputil.ParseQueryBool(r, "sorted", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	all := s.plugins.Plugins()
	result := make([]plugins.Description, 0, len(all))

	if name := httputil.ParseQueryString(r, "mode", ""); name != "" {
		mode, err := plugins.ParseConnectMode(name)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		for _, d := range all {
			if d.Mode == mode {
				result = append(result, d)
			}
		}
	} else {
		result = append(result, all...)
	}

	if sorted {
		sort.Slice(result, func(i, j int) bool { return result[i].TypeName < result[j].TypeName })
	}
	httputil.WriteSuccess(w, result)
}

// getPlugin handles GET /api/v1/plugins/{type}
func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	typeName, err := httputil.ParsePathString(r, "type")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	d, err := s.plugins.Get(typeName)
	if err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, d)
}

// resolve handles GET /api/v1/resolve?identity=
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.RequireQuery(r, "identity")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	path, found, err := s.resolver.Resolve(r.Context(), id)
	switch {
	case errors.Is(err, resolver.ErrEmptyIdentity), errors.Is(err, resolver.ErrInvalidIdentity):
		httputil.WriteBadRequest(w, err.Error())
		return
	case err != nil:
		observability.FromContext(r.Context(), s.log).WithError(err).Errorf("Resolving %s failed", id)
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, ResolveResponse{Identity: id, Found: found, Path: path})
}

// rescan handles POST /api/v1/rescan
func (s *Server) rescan(w http.ResponseWriter, r *http.Request) {
	summary, err := s.discovery.Rescan(r.Context())
	if err != nil {
		observability.FromContext(r.Context(), s.log).WithError(err).Warn("Rescan failed")
		httputil.WriteServiceUnavailable(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, summary)
}

// listBadFiles handles GET /api/v1/badfiles
func (s *Server) listBadFiles(w http.ResponseWriter, r *http.Request) {
	paths := s.discovery.BadFiles().Paths()
	httputil.WriteSuccess(w, BadFilesResponse{Count: len(paths), Paths: paths})
}
