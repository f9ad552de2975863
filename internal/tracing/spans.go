package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys.
const (
	AttrDatasetType   = "dataset.type"
	AttrDataID        = "dataset.data_id"
	AttrRepository    = "repository.url"
	AttrLocationCount = "dataset.locations"
	AttrResultCount   = "dataset.results"
	AttrLockKind      = "lock.kind"
	AttrIdempotent    = "put.idempotent"
)

// SpanPrefixButler prefixes the span name of every butler operation.
const SpanPrefixButler = "butler."

// Event names.
const (
	EventLockAcquired   = "lock.acquired"
	EventLookupResolved = "lookup.resolved"
	EventReloaded       = "config.reloaded"
)

// Start opens an internal span named SpanPrefixButler+op. A nil tracer
// yields a non-recording span.
func Start(ctx context.Context, tracer trace.Tracer, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return tracer.Start(ctx, SpanPrefixButler+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// Finish records err (or success) on span and ends it.
func Finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
