package plugins

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	mnop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tnop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/peteski22/plugin-hooks/internal/plugins"

// telemetry records traces and metrics for hook chains and plugin invocations.
type telemetry struct {
	tracer      trace.Tracer
	invocations metric.Int64Counter
	violations  metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = tnop.NewTracerProvider()
	}
	if mp == nil {
		mp = mnop.NewMeterProvider()
	}

	t := &telemetry{tracer: tp.Tracer(instrumentationName)}
	meter := mp.Meter(instrumentationName)
	fallback := mnop.NewMeterProvider().Meter(instrumentationName)

	var err error
	if t.invocations, err = meter.Int64Counter(
		"plugin.invocations",
		metric.WithDescription("Plugin invocations by plugin, hook and outcome."),
	); err != nil {
		t.invocations, _ = fallback.Int64Counter("plugin.invocations")
	}
	if t.violations, err = meter.Int64Counter(
		"plugin.violations",
		metric.WithDescription("Violations raised by plugins."),
	); err != nil {
		t.violations, _ = fallback.Int64Counter("plugin.violations")
	}
	if t.failures, err = meter.Int64Counter(
		"plugin.errors",
		metric.WithDescription("Plugin execution errors and timeouts."),
	); err != nil {
		t.failures, _ = fallback.Int64Counter("plugin.errors")
	}
	if t.duration, err = meter.Float64Histogram(
		"plugin.duration",
		metric.WithDescription("Plugin invocation latency."),
		metric.WithUnit("ms"),
	); err != nil {
		t.duration, _ = fallback.Float64Histogram("plugin.duration")
	}

	return t
}

// startChain opens the span covering one hook chain.
func (t *telemetry) startChain(ctx context.Context, hookType string, requestID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hook "+hookType, trace.WithAttributes(
		attribute.String("hook.type", hookType),
		attribute.String("request.id", requestID),
	))
}

// endChain records the chain's final state on its span.
func (t *telemetry) endChain(span trace.Span, state ChainState, err error) {
	span.SetAttributes(attribute.String("hook.state", string(state)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

// recordPlugin records one finished plugin invocation.
func (t *telemetry) recordPlugin(ctx context.Context, plugin, hookType, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("plugin.name", plugin),
		attribute.String("hook.type", hookType),
		attribute.String("outcome", outcome),
	)

	t.invocations.Add(ctx, 1, attrs)
	t.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)

	switch outcome {
	case outcomeViolation:
		t.violations.Add(ctx, 1, attrs)
	case outcomeError, outcomeTimeout:
		t.failures.Add(ctx, 1, attrs)
	}
}
