package runtime

import (
	"context"
	"sync"

	"github.com/LerianStudio/lib-drain/drain/log"
	"github.com/LerianStudio/lib-drain/drain/opentelemetry/metrics"
)

var panicRecoveredMetric = metrics.Metric{
	Name:        "panic_recovered_total",
	Unit:        "1",
	Description: "Total number of recovered panics",
}

// PanicMetrics counts recovered panics through a MetricsFactory.
type PanicMetrics struct {
	factory *metrics.MetricsFactory
	logger  log.Logger
}

var (
	panicMetricsInstance *PanicMetrics
	panicMetricsMu       sync.RWMutex
)

// InitPanicMetrics installs the factory used to count recovered panics.
// Subsequent calls are no-ops until ResetPanicMetrics.
func InitPanicMetrics(factory *metrics.MetricsFactory, logger log.Logger) {
	panicMetricsMu.Lock()
	defer panicMetricsMu.Unlock()

	if factory == nil || panicMetricsInstance != nil {
		return
	}

	panicMetricsInstance = &PanicMetrics{factory: factory, logger: log.OrNop(logger)}
}

// ResetPanicMetrics clears the installed factory. Tests use it for isolation.
func ResetPanicMetrics() {
	panicMetricsMu.Lock()
	defer panicMetricsMu.Unlock()

	panicMetricsInstance = nil
}

// RecordPanicRecovered increments panic_recovered_total.
func (pm *PanicMetrics) RecordPanicRecovered(ctx context.Context, component, goroutineName string) {
	if pm == nil || pm.factory == nil {
		return
	}

	counter, err := pm.factory.Counter(panicRecoveredMetric)
	if err != nil {
		pm.logger.Log(ctx, log.LevelWarn, "failed to create panic metric counter", log.Err(err))

		return
	}

	err = counter.
		WithLabels(map[string]string{
			"component":      component,
			"goroutine_name": goroutineName,
		}).
		AddOne(ctx)
	if err != nil {
		pm.logger.Log(ctx, log.LevelWarn, "failed to record panic metric", log.Err(err))
	}
}

func recordPanicMetric(ctx context.Context, component, goroutineName string) {
	panicMetricsMu.RLock()
	pm := panicMetricsInstance
	panicMetricsMu.RUnlock()

	pm.RecordPanicRecovered(ctx, component, goroutineName)
}
