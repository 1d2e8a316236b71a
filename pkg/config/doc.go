// Package config provides application configuration from an optional YAML file
// and environment variables.
//
// # Overview
//
// Load starts from Default, overlays the YAML file, then overlays every
// PESCAN_* variable that is set, and validates the result.
//
// # Configuration Structure
//
// Discovery settings:
//
//	PESCAN_PLUGIN_DIRS="/opt/app/plugins,/opt/app/extra"
//	PESCAN_EXTENSIONS=".dll,.exe"
//	PESCAN_MARKER_COMPONENT="SAL.Flatbed, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null"
//	PESCAN_MARKER_INTERFACE="SAL.Flatbed.IPlugin"
//	PESCAN_CONCURRENCY="0"  # 0 means 4 x GOMAXPROCS
//	PESCAN_WATCH="true"
//	PESCAN_RESCAN_SCHEDULE="*/15 * * * *"
//
// Resolver settings:
//
//	PESCAN_CACHE_SIZE="4096"  # 0 disables the identity cache
//	PESCAN_CACHE_TTL="10m"
//
// Admin server settings:
//
//	PESCAN_ADMIN_ADDR=":9090"  # empty disables the server
//	PESCAN_SHUTDOWN_TIMEOUT="30s"
//
// Observability settings:
//
//	PESCAN_LOG_LEVEL="info"  # debug, info, warn, error
//	PESCAN_LOG_FORMAT="json" # json, text
//	PESCAN_METRICS_ENABLED="true"
//	PESCAN_OTEL_ENABLED="true"
//	PESCAN_OTEL_ENDPOINT="otel-collector:4317"
//
// The same settings in YAML:
//
//	discovery:
//	  dirs: [/opt/app/plugins]
//	  rescan_schedule: "@every 15m"
//	resolver:
//	  cache_ttl: 5m
//	observability:
//	  log_level: debug
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	loaderCfg, err := cfg.LoaderConfig()
//
// # Related Packages
//
//   - pkg/plugins: Uses discovery and resolver configuration
//   - pkg/observability: Uses observability configuration
package config
