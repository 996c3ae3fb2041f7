package metrics

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilCounter is returned when a counter builder has no instrument.
	ErrNilCounter = errors.New("counter instrument is nil")
	// ErrNilGauge is returned when a gauge builder has no instrument.
	ErrNilGauge = errors.New("gauge instrument is nil")
	// ErrNilHistogram is returned when a histogram builder has no instrument.
	ErrNilHistogram = errors.New("histogram instrument is nil")
)

// labelAttrs converts labels to attributes sorted by key.
func labelAttrs(base []attribute.KeyValue, labels map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(base)+len(labels))
	attrs = append(attrs, base...)

	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, labels[k]))
	}

	return attrs
}

// CounterBuilder records counter increments with a fixed label set.
type CounterBuilder struct {
	counter metric.Int64Counter
	attrs   []attribute.KeyValue
}

// WithLabels returns a copy of the builder with labels added.
func (c *CounterBuilder) WithLabels(labels map[string]string) *CounterBuilder {
	return &CounterBuilder{counter: c.counter, attrs: labelAttrs(c.attrs, labels)}
}

// Add records a counter increment.
func (c *CounterBuilder) Add(ctx context.Context, value int64) error {
	if c.counter == nil {
		return ErrNilCounter
	}

	c.counter.Add(ctx, value, metric.WithAttributes(c.attrs...))

	return nil
}

// AddOne increments the counter by one.
func (c *CounterBuilder) AddOne(ctx context.Context) error {
	return c.Add(ctx, 1)
}

// GaugeBuilder records instantaneous values with a fixed label set.
type GaugeBuilder struct {
	gauge metric.Int64Gauge
	attrs []attribute.KeyValue
}

// WithLabels returns a copy of the builder with labels added.
func (g *GaugeBuilder) WithLabels(labels map[string]string) *GaugeBuilder {
	return &GaugeBuilder{gauge: g.gauge, attrs: labelAttrs(g.attrs, labels)}
}

// Set records the current value of the gauge.
func (g *GaugeBuilder) Set(ctx context.Context, value int64) error {
	if g.gauge == nil {
		return ErrNilGauge
	}

	g.gauge.Record(ctx, value, metric.WithAttributes(g.attrs...))

	return nil
}

// HistogramBuilder records distribution samples with a fixed label set.
type HistogramBuilder struct {
	histogram metric.Int64Histogram
	attrs     []attribute.KeyValue
}

// WithLabels returns a copy of the builder with labels added.
func (h *HistogramBuilder) WithLabels(labels map[string]string) *HistogramBuilder {
	return &HistogramBuilder{histogram: h.histogram, attrs: labelAttrs(h.attrs, labels)}
}

// Record records a histogram value.
func (h *HistogramBuilder) Record(ctx context.Context, value int64) error {
	if h.histogram == nil {
		return ErrNilHistogram
	}

	h.histogram.Record(ctx, value, metric.WithAttributes(h.attrs...))

	return nil
}
