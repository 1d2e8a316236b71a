// Package api provides the admin HTTP API of the plugin host.
//
// # Overview
//
// The API exposes what discovery has loaded and lets operators resolve
// identities and trigger a rescan without restarting the process. It is built
// on gorilla/mux.
//
// # Endpoints
//
//	GET  /api/v1/plugins?mode=startup|after_startup&sorted=true
//	GET  /api/v1/plugins/{type}
//	GET  /api/v1/resolve?identity=Acme.Tools,+Version=1.0.0.0
//	POST /api/v1/rescan
//	GET  /api/v1/badfiles
//	GET  /metrics          (WithMetrics)
//	GET  /healthz, /readyz (WithHealthChecker)
//
// An invalid or missing identity answers 400. A parent resolver error
// answers 500. A failed rescan answers 503.
//
// # Usage Example
//
//	server := api.NewServer(registry, loader.Resolver(), loader,
//		api.WithLogger(log),
//		api.WithMetrics(promRegistry, metrics),
//		api.WithHealthChecker(health),
//	)
//	http.ListenAndServe(":9090", server.Handler())
//
// Handler wraps the router with request IDs, panic recovery, request logging
// and OpenTelemetry tracing.
package api
