package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationName names the meter and tracer of this module
const instrumentationName = "github.com/flatbed/pescan"

// OTelMetrics holds OpenTelemetry metric instruments
type OTelMetrics struct {
	filesScanned   metric.Int64Counter
	scanDuration   metric.Float64Histogram
	badFiles       metric.Int64Counter
	pluginsLoaded  metric.Int64Counter
	duplicates     metric.Int64Counter
	resolutions    metric.Int64Counter
	identityLookup metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(instrumentationName))
}

// NewOTelMetricsWithMeter creates the instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.filesScanned, err = meter.Int64Counter(
		"pescan.files.scanned",
		metric.WithDescription("Files passed through the metadata scanner"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create files_scanned counter: %w", err)
	}

	m.scanDuration, err = meter.Float64Histogram(
		"pescan.scan.duration",
		metric.WithDescription("Single file scan duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan_duration histogram: %w", err)
	}

	m.badFiles, err = meter.Int64Counter(
		"pescan.bad_files",
		metric.WithDescription("Paths added to the bad file set"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bad_files counter: %w", err)
	}

	m.pluginsLoaded, err = meter.Int64Counter(
		"pescan.plugins.loaded",
		metric.WithDescription("Plugin types forwarded to the host"),
		metric.WithUnit("{type}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugins_loaded counter: %w", err)
	}

	m.duplicates, err = meter.Int64Counter(
		"pescan.duplicates",
		metric.WithDescription("Components dropped as duplicate identities"),
		metric.WithUnit("{component}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duplicates counter: %w", err)
	}

	m.resolutions, err = meter.Int64Counter(
		"pescan.resolutions",
		metric.WithDescription("Identity resolutions by outcome"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolutions counter: %w", err)
	}

	m.identityLookup, err = meter.Int64Counter(
		"pescan.identity_cache.lookups",
		metric.WithDescription("Identity cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity_cache counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) FileScanned(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("scan.outcome", outcome))
	m.filesScanned.Add(ctx, 1, attrs)
	m.scanDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *OTelMetrics) BadFile(ctx context.Context, source string) {
	m.badFiles.Add(ctx, 1, metric.WithAttributes(attribute.String("bad_file.source", source)))
}

func (m *OTelMetrics) Resolution(ctx context.Context, outcome string) {
	m.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("resolution.outcome", outcome)))
}

func (m *OTelMetrics) PluginLoaded(ctx context.Context, mode string) {
	m.pluginsLoaded.Add(ctx, 1, metric.WithAttributes(attribute.String("plugin.mode", mode)))
}

func (m *OTelMetrics) Duplicate(ctx context.Context) {
	m.duplicates.Add(ctx, 1)
}

func (m *OTelMetrics) IdentityCache(ctx context.Context, hit bool) {
	m.identityLookup.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cache.hit", hit)))
}
