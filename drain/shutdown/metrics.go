package shutdown

import (
	"context"
	"time"

	"github.com/LerianStudio/lib-drain/drain/log"
	"github.com/LerianStudio/lib-drain/drain/opentelemetry/metrics"
)

// Destroy reasons reported on drain_connections_destroyed_total.
const (
	reasonIdle          = "idle"
	reasonForced        = "forced"
	reasonOpportunistic = "opportunistic"
)

var (
	metricConnectionsOpen = metrics.Metric{
		Name:        "drain_connections_open",
		Unit:        "1",
		Description: "Connections still registered at the start of a drain pass.",
	}
	metricConnectionsBusy = metrics.Metric{
		Name:        "drain_connections_busy",
		Unit:        "1",
		Description: "Connections serving a request at the start of a drain pass.",
	}
	metricConnectionsDestroyed = metrics.Metric{
		Name:        "drain_connections_destroyed_total",
		Unit:        "1",
		Description: "Connections closed by the shutdown orchestrator.",
	}
	metricCeilingReached = metrics.Metric{
		Name:        "drain_ceiling_reached_total",
		Unit:        "1",
		Description: "Drain loops that gave up with connections still open.",
	}
	metricShutdownDuration = metrics.Metric{
		Name:        "drain_shutdown_duration_ms",
		Unit:        "ms",
		Description: "Wall-clock duration of a shutdown call.",
	}
)

// drainMetrics records drain instruments. Recording failures are logged at
// debug level and never affect the shutdown.
type drainMetrics struct {
	factory *metrics.MetricsFactory
	logger  log.Logger
}

func (m *drainMetrics) recordPass(ctx context.Context, mode Mode, open, busy int) {
	labels := map[string]string{"mode": mode.String()}

	if gauge, err := m.factory.Gauge(metricConnectionsOpen); m.check(ctx, err) {
		m.check(ctx, gauge.WithLabels(labels).Set(ctx, int64(open)))
	}

	if gauge, err := m.factory.Gauge(metricConnectionsBusy); m.check(ctx, err) {
		m.check(ctx, gauge.WithLabels(labels).Set(ctx, int64(busy)))
	}
}

func (m *drainMetrics) recordDestroyed(ctx context.Context, mode Mode, reason string) {
	if counter, err := m.factory.Counter(metricConnectionsDestroyed); m.check(ctx, err) {
		m.check(ctx, counter.WithLabels(map[string]string{"mode": mode.String(), "reason": reason}).AddOne(ctx))
	}
}

func (m *drainMetrics) recordCeiling(ctx context.Context, mode Mode) {
	if counter, err := m.factory.Counter(metricCeilingReached); m.check(ctx, err) {
		m.check(ctx, counter.WithLabels(map[string]string{"mode": mode.String()}).AddOne(ctx))
	}
}

func (m *drainMetrics) recordDuration(ctx context.Context, mode Mode, elapsed time.Duration) {
	if histogram, err := m.factory.Histogram(metricShutdownDuration); m.check(ctx, err) {
		m.check(ctx, histogram.WithLabels(map[string]string{"mode": mode.String()}).Record(ctx, elapsed.Milliseconds()))
	}
}

func (m *drainMetrics) check(ctx context.Context, err error) bool {
	if err != nil {
		m.logger.Log(ctx, log.LevelDebug, "failed to record drain metric", log.Err(err))

		return false
	}

	return true
}
