package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/flatbed/pescan/pkg/observability"
	"github.com/flatbed/pescan/pkg/plugins"
	"github.com/flatbed/pescan/pkg/resolver"
	"github.com/flatbed/pescan/pkg/scanner"
)

// EnvConfigFile names the optional YAML file read by LoadConfig
const EnvConfigFile = "PESCAN_CONFIG"

// Config holds all application configuration
type Config struct {
	// Discovery configuration
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Resolver configuration
	Resolver ResolverConfig `yaml:"resolver"`

	// Admin server configuration
	Server ServerConfig `yaml:"server"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// DiscoveryConfig holds plugin discovery settings
type DiscoveryConfig struct {
	Dirs            []string `yaml:"dirs"`
	Extensions      []string `yaml:"extensions"`
	MarkerComponent string   `yaml:"marker_component"`
	MarkerInterface string   `yaml:"marker_interface"`

	// Concurrency of directory scans; 0 means 4 x GOMAXPROCS
	Concurrency int `yaml:"concurrency"`

	Watch          bool   `yaml:"watch"`
	RescanSchedule string `yaml:"rescan_schedule"`
}

// ResolverConfig holds identity resolver settings
type ResolverConfig struct {
	// CacheSize of 0 disables the identity cache
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	// Addr of the admin server; empty disables it
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  observability.LogLevel `yaml:"log_level"`
	LogFormat string                 `yaml:"log_format"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool          `yaml:"otel_enabled"`
	OTelEndpoint       string        `yaml:"otel_endpoint"`
	OTelServiceName    string        `yaml:"otel_service_name"`
	OTelServiceVersion string        `yaml:"otel_service_version"`
	OTelInsecure       bool          `yaml:"otel_insecure"`
	OTelSampleRatio    float64       `yaml:"otel_sample_ratio"`
	OTelExportInterval time.Duration `yaml:"otel_export_interval"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Dirs:            []string{"plugins"},
			Extensions:      append([]string(nil), scanner.DefaultExtensions...),
			MarkerComponent: scanner.DefaultMarkerComponent,
			MarkerInterface: scanner.DefaultMarkerInterface,
			Watch:           true,
		},
		Resolver: ResolverConfig{
			CacheSize: resolver.DefaultCacheSize,
			CacheTTL:  resolver.DefaultCacheTTL,
		},
		Server: ServerConfig{
			Addr:            ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "pescan",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
			OTelExportInterval: 30 * time.Second,
		},
	}
}

// LoadConfig loads the file named by PESCAN_CONFIG, if any, then the
// environment
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load starts from Default, overlays the YAML file at path (skipped when
// path is empty) and then the PESCAN_* environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path; unknown keys are rejected
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays the environment variables that are set
func (c *Config) loadEnv() {
	d := &c.Discovery
	d.Dirs = getEnvList("PESCAN_PLUGIN_DIRS", d.Dirs)
	d.Extensions = getEnvList("PESCAN_EXTENSIONS", d.Extensions)
	d.MarkerComponent = getEnv("PESCAN_MARKER_COMPONENT", d.MarkerComponent)
	d.MarkerInterface = getEnv("PESCAN_MARKER_INTERFACE", d.MarkerInterface)
	d.Concurrency = getEnvInt("PESCAN_CONCURRENCY", d.Concurrency)
	d.Watch = getEnvBool("PESCAN_WATCH", d.Watch)
	d.RescanSchedule = getEnv("PESCAN_RESCAN_SCHEDULE", d.RescanSchedule)

	r := &c.Resolver
	r.CacheSize = getEnvInt("PESCAN_CACHE_SIZE", r.CacheSize)
	r.CacheTTL = getEnvDuration("PESCAN_CACHE_TTL", r.CacheTTL)

	s := &c.Server
	s.Addr = getEnv("PESCAN_ADMIN_ADDR", s.Addr)
	s.ReadTimeout = getEnvDuration("PESCAN_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("PESCAN_WRITE_TIMEOUT", s.WriteTimeout)
	s.ShutdownTimeout = getEnvDuration("PESCAN_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	o := &c.Observability
	if level := getEnv("PESCAN_LOG_LEVEL", ""); level != "" {
		o.LogLevel = parseLogLevel(level)
	}
	o.LogFormat = getEnv("PESCAN_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("PESCAN_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("PESCAN_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("PESCAN_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("PESCAN_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("PESCAN_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("PESCAN_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("PESCAN_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
	o.OTelExportInterval = getEnvDuration("PESCAN_OTEL_EXPORT_INTERVAL", o.OTelExportInterval)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate discovery config
	if len(c.Discovery.Dirs) == 0 {
		return fmt.Errorf("at least one plugin directory is required")
	}
	for _, dir := range c.Discovery.Dirs {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("plugin directory must not be empty")
		}
	}
	if len(c.Discovery.Extensions) == 0 {
		return fmt.Errorf("at least one file extension is required")
	}
	if _, err := c.Marker(); err != nil {
		return err
	}
	if c.Discovery.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if c.Discovery.RescanSchedule != "" {
		if _, err := cron.ParseStandard(c.Discovery.RescanSchedule); err != nil {
			return fmt.Errorf("invalid rescan schedule %q: %w", c.Discovery.RescanSchedule, err)
		}
	}

	// Validate resolver config
	if c.Resolver.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative")
	}
	if c.Resolver.CacheTTL < 0 {
		return fmt.Errorf("cache TTL must not be negative")
	}

	// Validate server config
	if c.Server.Addr != "" && c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	// Validate observability config
	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// Marker parses the configured marker component and interface
func (c *Config) Marker() (scanner.Marker, error) {
	m, err := scanner.ParseMarker(c.Discovery.MarkerComponent, c.Discovery.MarkerInterface)
	if err != nil {
		return scanner.Marker{}, fmt.Errorf("invalid marker: %w", err)
	}
	return m, nil
}

// LoaderConfig converts the discovery and resolver settings for
// plugins.NewLoader
func (c *Config) LoaderConfig() (plugins.Config, error) {
	marker, err := c.Marker()
	if err != nil {
		return plugins.Config{}, err
	}
	return plugins.Config{
		Dirs:        c.Discovery.Dirs,
		Extensions:  scanner.NewExtensions(c.Discovery.Extensions...),
		Marker:      marker,
		Concurrency: c.Discovery.Concurrency,
		Watch:       c.Discovery.Watch,
		CacheSize:   c.Resolver.CacheSize,
		CacheTTL:    c.Resolver.CacheTTL,
	}, nil
}

// OTelConfig converts the OpenTelemetry settings for observability.InitOTel
func (c *Config) OTelConfig() observability.OTelConfig {
	o := c.Observability
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
		ExportInterval: o.OTelExportInterval,
	}
}

// parseLogLevel parses a log level string, falling back to info
func parseLogLevel(level string) observability.LogLevel {
	parsed, err := observability.ParseLogLevel(level)
	if err != nil {
		return observability.InfoLevel
	}
	return parsed
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
