package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-drain/drain/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrNilMeter indicates that a nil OTEL meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// Metric describes an instrument.
type Metric struct {
	Name        string
	Description string
	Unit        string
	// Buckets are explicit histogram boundaries. Ignored for other kinds.
	Buckets []float64
}

// DefaultDurationBuckets are millisecond boundaries sized for shutdown
// durations, from a near-instant drain up to the default 15s ceiling and past it.
var DefaultDurationBuckets = []float64{1, 5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 15000, 30000}

// MetricsFactory creates instruments lazily and caches them by name, so the
// same Metric can be requested from hot paths without re-registering it.
type MetricsFactory struct {
	meter      metric.Meter
	counters   sync.Map // string -> metric.Int64Counter
	gauges     sync.Map // string -> metric.Int64Gauge
	histograms sync.Map // string -> metric.Int64Histogram
	logger     log.Logger
}

// NewMetricsFactory creates a factory over meter.
func NewMetricsFactory(meter metric.Meter, logger log.Logger) (*MetricsFactory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	return &MetricsFactory{meter: meter, logger: log.OrNop(logger)}, nil
}

// NewNopFactory returns a factory backed by the no-op meter.
func NewNopFactory() *MetricsFactory {
	return &MetricsFactory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter returns a builder for the counter described by m.
func (f *MetricsFactory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := loadOrCreate(f, &f.counters, "counter", m.Name, func() (metric.Int64Counter, error) {
		return f.meter.Int64Counter(m.Name, metric.WithDescription(m.Description), metric.WithUnit(m.Unit))
	})
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{counter: counter}, nil
}

// Gauge returns a builder for the gauge described by m.
func (f *MetricsFactory) Gauge(m Metric) (*GaugeBuilder, error) {
	gauge, err := loadOrCreate(f, &f.gauges, "gauge", m.Name, func() (metric.Int64Gauge, error) {
		return f.meter.Int64Gauge(m.Name, metric.WithDescription(m.Description), metric.WithUnit(m.Unit))
	})
	if err != nil {
		return nil, err
	}

	return &GaugeBuilder{gauge: gauge}, nil
}

// Histogram returns a builder for the histogram described by m. When m has no
// buckets DefaultDurationBuckets are used.
func (f *MetricsFactory) Histogram(m Metric) (*HistogramBuilder, error) {
	buckets := m.Buckets
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}

	histogram, err := loadOrCreate(f, &f.histograms, "histogram", m.Name, func() (metric.Int64Histogram, error) {
		return f.meter.Int64Histogram(m.Name,
			metric.WithDescription(m.Description),
			metric.WithUnit(m.Unit),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
	})
	if err != nil {
		return nil, err
	}

	return &HistogramBuilder{histogram: histogram}, nil
}

func loadOrCreate[T any](f *MetricsFactory, cache *sync.Map, kind, name string, create func() (T, error)) (T, error) {
	var zero T

	if cached, ok := cache.Load(name); ok {
		if inst, ok := cached.(T); ok {
			return inst, nil
		}

		return zero, fmt.Errorf("%s cache contains invalid type for %q", kind, name)
	}

	inst, err := create()
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create "+kind+" metric",
			log.String("metric_name", name), log.Err(err))

		return zero, fmt.Errorf("create %s %q: %w", kind, name, err)
	}

	actual, _ := cache.LoadOrStore(name, inst)
	if stored, ok := actual.(T); ok {
		return stored, nil
	}

	return zero, fmt.Errorf("%s cache contains invalid type for %q", kind, name)
}
