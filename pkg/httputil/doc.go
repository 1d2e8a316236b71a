// Package httputil provides HTTP utilities for the admin API.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, plugins)
//	httputil.WriteBadRequest(w, "identity is required")
//	httputil.WriteNotFoundError(w, "plugin not found")
//
// # Request Parsing
//
//	id, err := httputil.RequireQuery(r, "identity")
//	typeName, err := httputil.ParsePathString(r, "type")
//	startup, err := httputil.ParseQueryBool(r, "startup", false)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(log),
//		httputil.RecoveryMiddleware(log),
//	)(router)
package httputil
