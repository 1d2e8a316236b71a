// Package contextkeys defines the context keys shared across packages.
//
// All context keys used by more than one package are defined here:
//
//	ctx = contextkeys.WithRunID(ctx, runID)
//	runID := contextkeys.GetRunID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RunIDKey contains the discovery run ID string (UUID)
	// Set by: plugins.Loader for each LoadPlugins, Rescan or change event
	// Used by: observability.FromContext
	RunIDKey Key = "run_id"

	// RequestIDKey contains the admin request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: observability.FromContext
	RequestIDKey Key = "request_id"
)

// WithRunID adds a discovery run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
