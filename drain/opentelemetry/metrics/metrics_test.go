//go:build unit

package metrics_test

import (
	"context"
	"testing"

	"github.com/LerianStudio/lib-drain/drain/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestFactory(t *testing.T) (*metrics.MetricsFactory, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	factory, err := metrics.NewMetricsFactory(provider.Meter("drain-test"), nil)
	require.NoError(t, err)

	return factory, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}

	return out
}

func TestNewMetricsFactoryRejectsNilMeter(t *testing.T) {
	_, err := metrics.NewMetricsFactory(nil, nil)
	assert.ErrorIs(t, err, metrics.ErrNilMeter)
}

func TestCounterWithLabels(t *testing.T) {
	factory, reader := newTestFactory(t)
	ctx := context.Background()

	m := metrics.Metric{Name: "destroyed_total", Unit: "1", Description: "destroyed"}

	counter, err := factory.Counter(m)
	require.NoError(t, err)
	require.NoError(t, counter.WithLabels(map[string]string{"mode": "graceful"}).AddOne(ctx))
	require.NoError(t, counter.WithLabels(map[string]string{"mode": "graceful"}).Add(ctx, 2))

	again, err := factory.Counter(m)
	require.NoError(t, err)
	require.NoError(t, again.WithLabels(map[string]string{"mode": "forced"}).AddOne(ctx))

	got := collect(t, reader)["destroyed_total"]
	sum, ok := got.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 2)

	byMode := map[string]int64{}
	for _, dp := range sum.DataPoints {
		mode, _ := dp.Attributes.Value(attribute.Key("mode"))
		byMode[mode.AsString()] = dp.Value
	}

	assert.Equal(t, map[string]int64{"graceful": 3, "forced": 1}, byMode)
}

func TestGaugeSet(t *testing.T) {
	factory, reader := newTestFactory(t)

	gauge, err := factory.Gauge(metrics.Metric{Name: "open"})
	require.NoError(t, err)
	require.NoError(t, gauge.Set(context.Background(), 4))
	require.NoError(t, gauge.Set(context.Background(), 1))

	data, ok := collect(t, reader)["open"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, int64(1), data.DataPoints[0].Value)
}

func TestHistogramRecord(t *testing.T) {
	factory, reader := newTestFactory(t)

	histogram, err := factory.Histogram(metrics.Metric{Name: "duration_ms", Unit: "ms"})
	require.NoError(t, err)
	require.NoError(t, histogram.WithLabels(map[string]string{"mode": "forced"}).Record(context.Background(), 42))

	data, ok := collect(t, reader)["duration_ms"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, uint64(1), data.DataPoints[0].Count)
	assert.Equal(t, int64(42), data.DataPoints[0].Sum)
	assert.Equal(t, metrics.DefaultDurationBuckets, data.DataPoints[0].Bounds)
}

func TestNilBuildersReturnErrors(t *testing.T) {
	ctx := context.Background()

	assert.ErrorIs(t, (&metrics.CounterBuilder{}).AddOne(ctx), metrics.ErrNilCounter)
	assert.ErrorIs(t, (&metrics.GaugeBuilder{}).Set(ctx, 1), metrics.ErrNilGauge)
	assert.ErrorIs(t, (&metrics.HistogramBuilder{}).Record(ctx, 1), metrics.ErrNilHistogram)
}

func TestNopFactory(t *testing.T) {
	factory := metrics.NewNopFactory()

	counter, err := factory.Counter(metrics.Metric{Name: "noop_total"})
	require.NoError(t, err)
	assert.NoError(t, counter.AddOne(context.Background()))
}
