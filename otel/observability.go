package otel

import (
	"context"
	"time"

	"github.com/jilio/rstate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/jilio/rstate"
)

// Observability implements rstate.Observability using OpenTelemetry
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	operationCounter  metric.Int64Counter
	operationDuration metric.Float64Histogram
	operationErrors   metric.Int64Counter
	notifyCounter     metric.Int64Counter
	observerDuration  metric.Float64Histogram
	observerPanics    metric.Int64Counter
}

// Option configures the Observability
type Option func(*Observability)

// WithTracerProvider sets a custom tracer provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// New creates a new OpenTelemetry observability implementation
func New(opts ...Option) (*Observability, error) {
	obs := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	for _, opt := range opts {
		opt(obs)
	}

	var err error

	obs.operationCounter, err = obs.meter.Int64Counter(
		"rstate.operation.count",
		metric.WithDescription("Number of get and set operations started"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	obs.operationDuration, err = obs.meter.Float64Histogram(
		"rstate.operation.duration",
		metric.WithDescription("Time from operation start to applied settlement"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.operationErrors, err = obs.meter.Int64Counter(
		"rstate.operation.errors",
		metric.WithDescription("Number of rejected operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.notifyCounter, err = obs.meter.Int64Counter(
		"rstate.notify.count",
		metric.WithDescription("Number of change notifications"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	obs.observerDuration, err = obs.meter.Float64Histogram(
		"rstate.observer.duration",
		metric.WithDescription("Observer callback duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.observerPanics, err = obs.meter.Int64Counter(
		"rstate.observer.panics",
		metric.WithDescription("Number of observer callbacks that panicked"),
		metric.WithUnit("{panic}"),
	)
	if err != nil {
		return nil, err
	}

	return obs, nil
}

type attrsKey struct{}

// withAttrs remembers the attributes of the span started in ctx, so the
// matching completion hook can label its metrics the same way.
func withAttrs(ctx context.Context, attrs []attribute.KeyValue) context.Context {
	return context.WithValue(ctx, attrsKey{}, attrs)
}

func attrsFrom(ctx context.Context) []attribute.KeyValue {
	attrs, _ := ctx.Value(attrsKey{}).([]attribute.KeyValue)
	return attrs
}

// OnOperationStart is called when a get or set operation starts
func (o *Observability) OnOperationStart(ctx context.Context, key string, axis rstate.Axis) context.Context {
	attrs := []attribute.KeyValue{
		attribute.String("state.key", key),
		attribute.String("state.axis", axis.String()),
	}

	ctx, _ = o.tracer.Start(ctx, "rstate."+axis.String()+": "+key,
		trace.WithAttributes(attrs...),
	)
	o.operationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	return withAttrs(ctx, attrs)
}

// OnOperationComplete is called once the operation's settlement was applied
func (o *Observability) OnOperationComplete(ctx context.Context, duration time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := attrsFrom(ctx)

	durationMs := float64(duration.Milliseconds())
	o.operationDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.operationErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// OnNotifyStart is called before the observers of key are dispatched
func (o *Observability) OnNotifyStart(ctx context.Context, key string) context.Context {
	attrs := []attribute.KeyValue{
		attribute.String("state.key", key),
	}

	ctx, _ = o.tracer.Start(ctx, "rstate.notify: "+key,
		trace.WithAttributes(attrs...),
	)
	o.notifyCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	return withAttrs(ctx, attrs)
}

// OnObserverComplete is called after each observer returns or panics. It
// does not end the notify span.
func (o *Observability) OnObserverComplete(ctx context.Context, duration time.Duration, err error) {
	attrs := attrsFrom(ctx)

	durationMs := float64(duration.Milliseconds())
	o.observerDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))

	if err != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		o.observerPanics.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// OnNotifyComplete ends the notify span
func (o *Observability) OnNotifyComplete(ctx context.Context, delivered int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("observers.delivered", delivered))
	span.End()
}

// Ensure Observability implements rstate.Observability
var _ rstate.Observability = (*Observability)(nil)
