// Package telemetry provides the structured logging, metrics, and tracing
// facade used throughout the orchestrator. Components accept a Logger,
// Metrics, and Tracer rather than constructing their own, so a single root
// context can carry observability configuration everywhere instead of
// relying on process-wide globals.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger captures structured logging. Implementations typically delegate
	// to Clue but the interface is intentionally small so tests can provide
	// lightweight stubs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter, timer, and gauge helpers.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer abstracts span creation so callers remain agnostic of the
	// underlying OpenTelemetry provider.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span represents an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// Provider bundles the three facades so components can be constructed
	// from a single value instead of three separate parameters.
	Provider struct {
		Logger  Logger
		Metrics Metrics
		Tracer  Tracer
	}
)

// Noop returns a Provider whose Logger, Metrics, and Tracer all discard
// their input. Useful as a default when telemetry wiring is not needed,
// such as in unit tests.
func Noop() Provider {
	return Provider{
		Logger:  NewNoopLogger(),
		Metrics: NewNoopMetrics(),
		Tracer:  NewNoopTracer(),
	}
}

// Clue returns a Provider backed by goa.design/clue/log for logging and by
// the global OpenTelemetry providers for metrics and tracing. Callers
// should configure the OTEL SDK (or clue.ConfigureOpenTelemetry) and
// install a clue logger into the root context before using it.
func Clue(instrumentationName string) Provider {
	return Provider{
		Logger:  NewClueLogger(),
		Metrics: NewClueMetrics(instrumentationName),
		Tracer:  NewClueTracer(instrumentationName),
	}
}
