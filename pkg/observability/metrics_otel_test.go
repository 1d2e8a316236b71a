package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestOTelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.FileScanned(ctx, OutcomeSuccess, time.Millisecond)
	m.FileScanned(ctx, OutcomeNotCandidate, time.Millisecond)
	m.BadFile(ctx, "load")
	m.Resolution(ctx, ResolutionDelegated)
	m.PluginLoaded(ctx, "after_startup")
	m.PluginLoaded(ctx, "after_startup")
	m.Duplicate(ctx)
	m.IdentityCache(ctx, false)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums["pescan.files.scanned"])
	assert.Equal(t, int64(1), sums["pescan.bad_files"])
	assert.Equal(t, int64(1), sums["pescan.resolutions"])
	assert.Equal(t, int64(2), sums["pescan.plugins.loaded"])
	assert.Equal(t, int64(1), sums["pescan.duplicates"])
	assert.Equal(t, int64(1), sums["pescan.identity_cache.lookups"])
}

func TestNewOTelMetrics_GlobalProvider(t *testing.T) {
	m, err := NewOTelMetrics()
	require.NoError(t, err)
	// The default global provider is a no-op; recording must not panic
	m.Duplicate(context.Background())
}
