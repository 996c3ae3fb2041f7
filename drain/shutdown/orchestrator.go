package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/LerianStudio/lib-drain/drain/backoff"
	"github.com/LerianStudio/lib-drain/drain/conntrack"
	"github.com/LerianStudio/lib-drain/drain/errgroup"
	"github.com/LerianStudio/lib-drain/drain/log"
	"github.com/LerianStudio/lib-drain/drain/opentelemetry/metrics"
	"github.com/LerianStudio/lib-drain/drain/runtime"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/LerianStudio/lib-drain/drain/shutdown"

// ErrNilHost is returned by NewOrchestrator when no host is given.
var ErrNilHost = errors.New("shutdown host cannot be nil")

// Host is the capability a server framework provides to the orchestrator.
type Host interface {
	// StopAccepting stops the listener. It may block until the host considers
	// itself closed; its error is returned from Shutdown as is.
	StopAccepting(ctx context.Context) error
	// Destroy abruptly closes the connection behind handle.
	Destroy(handle any) error
}

// State is the orchestrator's shutdown state.
type State int32

const (
	// StateRunning means no shutdown has started.
	StateRunning State = iota
	// StateDraining is entered on the first shutdown call and never left.
	StateDraining
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Mode selects which connections a drain pass may close.
type Mode int32

const (
	// ModeGraceful closes idle connections only.
	ModeGraceful Mode = iota
	// ModeForced closes every connection.
	ModeForced
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeGraceful:
		return "graceful"
	case ModeForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Option configures an Orchestrator.
type Option func(o *Orchestrator)

// WithLogger sets the logger. A nil logger is replaced by a no-op one.
func WithLogger(logger log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = log.OrNop(logger)
	}
}

// WithConfig replaces DefaultConfig. It is validated by NewOrchestrator.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.config = cfg
	}
}

// WithSleeper replaces the timer used between drain passes.
func WithSleeper(sleeper backoff.Sleeper) Option {
	return func(o *Orchestrator) {
		if sleeper != nil {
			o.sleeper = sleeper
		}
	}
}

// WithMetricsFactory records drain metrics through factory.
func WithMetricsFactory(factory *metrics.MetricsFactory) Option {
	return func(o *Orchestrator) {
		if factory != nil {
			o.metricsFactory = factory
		}
	}
}

// WithTracerProvider sets the provider of the shutdown span. The global
// provider is used by default.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if provider != nil {
			o.tracer = provider.Tracer(instrumentationName)
		}
	}
}

// Orchestrator drains the connections of one server.
type Orchestrator struct {
	host           Host
	registry       *conntrack.Registry
	tracker        *Tracker
	logger         log.Logger
	config         Config
	sleeper        backoff.Sleeper
	tracer         trace.Tracer
	metricsFactory *metrics.MetricsFactory
	metrics        *drainMetrics
	state          atomic.Int32
	mode           atomic.Int32
}

// NewOrchestrator builds an orchestrator over host with an empty registry.
func NewOrchestrator(host Host, opts ...Option) (*Orchestrator, error) {
	if host == nil {
		return nil, ErrNilHost
	}

	o := &Orchestrator{
		host:           host,
		registry:       conntrack.NewRegistry(),
		logger:         log.NewNop(),
		config:         DefaultConfig(),
		sleeper:        backoff.TimerSleeper{},
		tracer:         otel.GetTracerProvider().Tracer(instrumentationName),
		metricsFactory: metrics.NewNopFactory(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	o.metrics = &drainMetrics{factory: o.metricsFactory, logger: o.logger}
	o.tracker = &Tracker{orchestrator: o}

	return o, nil
}

// Tracker returns the event sink the host reports connection lifecycle to.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// State returns the current shutdown state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Connections returns a snapshot of the tracked connections.
func (o *Orchestrator) Connections() []conntrack.Connection {
	return o.registry.Snapshot()
}

// Count returns the number of tracked connections.
func (o *Orchestrator) Count() int {
	return o.registry.Count()
}

// BusyCount returns the number of tracked connections serving a request.
func (o *Orchestrator) BusyCount() int {
	return o.registry.BusyCount()
}

// Shutdown stops the listener and closes idle connections, waiting for busy
// ones to finish until the retry ceiling. It returns the listener error, if any.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.run(ctx, ModeGraceful)
}

// ForceShutdown stops the listener and closes every connection immediately.
func (o *Orchestrator) ForceShutdown(ctx context.Context) error {
	return o.run(ctx, ModeForced)
}

// ShutdownAsync runs Shutdown in the background and passes its result to cb.
// cb may be nil.
func (o *Orchestrator) ShutdownAsync(cb func(error)) {
	o.runAsync(ModeGraceful, cb)
}

// ForceShutdownAsync runs ForceShutdown in the background and passes its
// result to cb. cb may be nil.
func (o *Orchestrator) ForceShutdownAsync(cb func(error)) {
	o.runAsync(ModeForced, cb)
}

func (o *Orchestrator) runAsync(mode Mode, cb func(error)) {
	runtime.SafeGo(context.Background(), o.logger, "shutdown", "shutdown_async", runtime.KeepRunning, func(ctx context.Context) {
		err := o.run(ctx, mode)
		if cb != nil {
			cb(err)
		}
	})
}

func (o *Orchestrator) run(ctx context.Context, mode Mode) error {
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownID := uuid.NewString()

	ctx, span := o.tracer.Start(ctx, "drain.shutdown", trace.WithAttributes(
		attribute.String("drain.mode", mode.String()),
		attribute.String("drain.shutdown_id", shutdownID),
	))
	defer span.End()

	logger := o.logger.With(log.String("shutdown_id", shutdownID), log.String("mode", mode.String()))
	started := time.Now()

	o.mode.Store(int32(mode))
	o.state.Store(int32(StateDraining))

	logger.Log(ctx, log.LevelInfo, "shutdown started",
		log.Int("connections", o.registry.Count()),
		log.Int("busy", o.registry.BusyCount()),
	)

	var group errgroup.Group
	group.SetLogger(logger)
	group.SetName("shutdown")

	group.Go(func() error {
		return o.stopAccepting(ctx, logger)
	})

	group.Go(func() error {
		o.drain(ctx, logger, mode)

		return nil
	})

	err := group.Wait()

	remaining := o.registry.Count()
	elapsed := time.Since(started)

	logger.Log(ctx, log.LevelInfo, "connections right before exit", log.Int("remaining", remaining))
	o.metrics.recordDuration(ctx, mode, elapsed)
	span.SetAttributes(attribute.Int("drain.remaining", remaining))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listener failed to stop")
		logger.Log(ctx, log.LevelError, "shutdown finished with error", log.Err(err), log.Duration("elapsed", elapsed))

		return err
	}

	logger.Log(ctx, log.LevelInfo, "shutdown completed", log.Duration("elapsed", elapsed))

	return nil
}

func (o *Orchestrator) stopAccepting(ctx context.Context, logger log.Logger) error {
	logger.Log(ctx, log.LevelInfo, "closing listener to stop accepting new connections")

	if err := o.host.StopAccepting(ctx); err != nil {
		logger.Log(ctx, log.LevelError, "listener failed to close", log.Err(err))

		return err
	}

	logger.Log(ctx, log.LevelInfo, "listener closed")

	return nil
}

// drain runs destroy passes until the registry is empty, the retry ceiling
// is reached or ctx is done. None of these outcomes is an error.
func (o *Orchestrator) drain(ctx context.Context, logger log.Logger, mode Mode) {
	logger.Log(ctx, log.LevelInfo, "closing existing connections")

	reason := reasonIdle
	if mode == ModeForced {
		reason = reasonForced
	}

	for retry := 0; ; retry++ {
		snapshot := o.registry.Snapshot()

		busy := 0

		for _, conn := range snapshot {
			if !conn.Idle {
				busy++
			}
		}

		logger.Log(ctx, log.LevelInfo, "connection stats",
			log.Int("attempt", retry+1),
			log.Int("total", len(snapshot)),
			log.Int("busy", busy),
		)
		o.metrics.recordPass(ctx, mode, len(snapshot), busy)

		for _, conn := range snapshot {
			o.destroyOne(ctx, logger, conn.ID, mode == ModeForced, reason)
		}

		remaining := o.registry.Count()
		if remaining == 0 {
			logger.Log(ctx, log.LevelInfo, "all connections closed", log.Int("attempts", retry+1))

			return
		}

		if retry >= o.config.MaxRetries {
			logger.Log(ctx, log.LevelWarn, "drain retry ceiling reached with connections still open",
				log.Int("attempts", retry+1),
				log.Duration("waited", time.Duration(retry)*o.config.RetryInterval),
				log.Int("remaining", remaining),
			)
			o.metrics.recordCeiling(ctx, mode)

			return
		}

		if err := o.sleeper.Sleep(ctx, o.config.RetryInterval); err != nil {
			logger.Log(ctx, log.LevelWarn, "drain wait interrupted", log.Int("remaining", remaining), log.Err(err))

			return
		}
	}
}

// destroyOne applies the close policy to id and reports whether it was closed.
//
//   - force: always closed.
//   - idle while draining: closed.
//   - busy: left alone; a later pass or its response finishing closes it.
func (o *Orchestrator) destroyOne(ctx context.Context, logger log.Logger, id conntrack.ID, force bool, reason string) bool {
	if force {
		conn, ok := o.registry.Take(id)
		if !ok {
			return false
		}

		o.destroy(ctx, logger, conn, reason)

		return true
	}

	if o.State() != StateDraining {
		return false
	}

	conn, ok := o.registry.TakeIdle(id)
	if !ok {
		if conn.ID != 0 {
			logger.Log(ctx, log.LevelDebug, "server is shutting down but connection is not idle",
				log.Uint64("connection_id", uint64(conn.ID)))
		}

		return false
	}

	o.destroy(ctx, logger, conn, reason)

	return true
}

// destroy closes a connection already taken out of the registry.
func (o *Orchestrator) destroy(ctx context.Context, logger log.Logger, conn conntrack.Connection, reason string) {
	if err := o.host.Destroy(conn.Handle); err != nil {
		logger.Log(ctx, log.LevelWarn, "failed to destroy connection",
			log.Uint64("connection_id", uint64(conn.ID)), log.Err(err))
	}

	o.metrics.recordDestroyed(ctx, Mode(o.mode.Load()), reason)

	logger.Log(ctx, log.LevelDebug, "connection destroyed",
		log.Uint64("connection_id", uint64(conn.ID)),
		log.Bool("idle", conn.Idle),
		log.String("reason", reason),
		log.Int("remaining", o.registry.Count()),
	)
}
