// Package observability provides logging, metrics, tracing, health checks and
// graceful shutdown for pescan.
//
// # Logging
//
// Loggers are logrus loggers; NewLogger writes JSON lines:
//
//	log := observability.NewLogger(observability.InfoLevel, os.Stderr)
//	observability.FromContext(ctx, log).WithField("library", path).Warn("duplicate")
//
// # Metrics
//
// Discovery code reports through the Recorder interface. Metrics backs it
// with Prometheus collectors and OTelMetrics with OpenTelemetry instruments:
//
//	registry := prometheus.NewRegistry()
//	otelMetrics, _ := observability.NewOTelMetrics()
//	rec := observability.Recorders(observability.NewMetrics(registry), otelMetrics)
//
// # Tracing
//
// InitOTel installs OTLP/gRPC exporters as the global providers; Tracer
// returns the module tracer used for ScanDir, ScanFile, Resolve and
// LoadPlugins spans.
//
// # Health and shutdown
//
// HealthChecker serves /healthz and /readyz from named checks, and
// ShutdownManager stops the admin server and runs cleanup functions on
// SIGINT or SIGTERM.
package observability
