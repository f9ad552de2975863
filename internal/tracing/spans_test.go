package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider, exporter
}

func TestStart_NamesAndAttributes(t *testing.T) {
	provider, exporter := setupTestTracer(t)

	_, span := Start(context.Background(), provider.Tracer("test"), "put",
		attribute.String(AttrDatasetType, "calexp"))
	Finish(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "butler.put", spans[0].Name)
	require.Equal(t, codes.Ok, spans[0].Status.Code)
	require.Contains(t, spans[0].Attributes, attribute.String(AttrDatasetType, "calexp"))
}

func TestFinish_RecordsError(t *testing.T) {
	provider, exporter := setupTestTracer(t)

	_, span := Start(context.Background(), provider.Tracer("test"), "get")
	Finish(span, errors.New("not found"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status.Code)
	require.Equal(t, "not found", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)
}

func TestStart_NilTracerLeavesParentOpen(t *testing.T) {
	provider, exporter := setupTestTracer(t)
	ctx, parent := provider.Tracer("test").Start(context.Background(), "parent")

	_, child := Start(ctx, nil, "get")
	Finish(child, nil)
	require.Empty(t, exporter.GetSpans())

	parent.End()
	require.Len(t, exporter.GetSpans(), 1)
}
