package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/LerianStudio/lib-drain/drain/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PanicPolicy decides what happens after a panic has been logged and recorded.
type PanicPolicy int

const (
	// KeepRunning swallows the panic once it has been observed.
	KeepRunning PanicPolicy = iota
	// CrashProcess re-panics after observation.
	CrashProcess
)

// String returns the policy name.
func (p PanicPolicy) String() string {
	switch p {
	case KeepRunning:
		return "keep_running"
	case CrashProcess:
		return "crash_process"
	default:
		return "unknown"
	}
}

// SafeGo runs fn in a new goroutine. A panic inside fn is logged, counted and
// then handled according to policy.
func SafeGo(ctx context.Context, logger log.Logger, component, name string, policy PanicPolicy, fn func(ctx context.Context)) {
	go func() {
		defer RecoverWithPolicyAndContext(ctx, logger, component, name, policy)

		fn(ctx)
	}()
}

// RecoverWithPolicyAndContext must be deferred. It recovers a panic, logs the
// stack, records a span event and a metric, then applies policy.
func RecoverWithPolicyAndContext(ctx context.Context, logger log.Logger, component, name string, policy PanicPolicy) {
	if recovered := recover(); recovered != nil {
		observePanic(ctx, logger, recovered, debug.Stack(), component, name)

		if policy == CrashProcess {
			panic(recovered)
		}
	}
}

// RecoverAndLog must be deferred. It recovers a panic and keeps running.
func RecoverAndLog(ctx context.Context, logger log.Logger, component, name string) {
	if recovered := recover(); recovered != nil {
		observePanic(ctx, logger, recovered, debug.Stack(), component, name)
	}
}

// HandlePanicValue observes a panic value recovered by someone else, such as
// errgroup.Group. It does not call recover itself.
func HandlePanicValue(ctx context.Context, logger log.Logger, panicValue any, component, name string) {
	if panicValue == nil {
		return
	}

	observePanic(ctx, logger, panicValue, debug.Stack(), component, name)
}

func observePanic(ctx context.Context, logger log.Logger, panicValue any, stack []byte, component, name string) {
	if ctx == nil {
		ctx = context.Background()
	}

	log.OrNop(logger).Log(ctx, log.LevelError, "panic recovered",
		log.String("component", component),
		log.String("goroutine_name", name),
		log.String("panic_value", fmt.Sprint(panicValue)),
		log.String("stack_trace", string(stack)),
	)

	recordPanicMetric(ctx, component, name)
	recordPanicToSpan(ctx, panicValue, component, name)
}

func recordPanicToSpan(ctx context.Context, panicValue any, component, name string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.AddEvent("panic.recovered", trace.WithAttributes(
		attribute.String("panic.component", component),
		attribute.String("panic.goroutine_name", name),
		attribute.String("panic.value", fmt.Sprint(panicValue)),
	))
	span.SetStatus(codes.Error, "panic recovered in "+component+"/"+name)
}
