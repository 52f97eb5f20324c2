package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for recordkit spans.
var (
	AttrTable     = attribute.Key("recordkit.table")
	AttrOperation = attribute.Key("recordkit.op")
	AttrAPI       = attribute.Key("recordkit.api")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound API call.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Metrics holds the coalescer's instruments.
type Metrics struct {
	Refreshes       metric.Int64Counter
	RefreshFailures metric.Int64Counter
	Waiters         metric.Int64Counter
}

// NewMetrics creates the instruments from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Refreshes, err = meter.Int64Counter("recordkit.token.refreshes",
		metric.WithDescription("Token refreshes started"),
	)
	if err != nil {
		return nil, err
	}

	m.RefreshFailures, err = meter.Int64Counter("recordkit.token.refresh_failures",
		metric.WithDescription("Token refreshes that failed or timed out"),
	)
	if err != nil {
		return nil, err
	}

	m.Waiters, err = meter.Int64Counter("recordkit.token.waiters",
		metric.WithDescription("Requests deferred behind an in-flight refresh"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
