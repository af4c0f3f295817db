package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingTracer(t *testing.T) (trace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("facets-test"), recorder
}

func TestStartSpanWithoutTracer(t *testing.T) {
	t.Parallel()

	ctx, span := StartSpan(context.Background(), nil, "engine.Run")
	require.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() { span.End() })
}

func TestStartSpanInheritsParent(t *testing.T) {
	t.Parallel()

	tracer, recorder := recordingTracer(t)

	ctx, parent := StartSpan(context.Background(), tracer, "engine.Run",
		trace.WithAttributes(AttrCollection.String("funds")))
	_, child := StartSpan(ctx, tracer, "engine.Resolve",
		trace.WithAttributes(AttrFacetKey.String("rating"), AttrFacetCount.Int(3)))
	child.End()
	parent.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "engine.Resolve", ended[0].Name())
	assert.Equal(t, parent.SpanContext().SpanID(), ended[0].Parent().SpanID())

	attrs := map[string]any{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "rating", attrs["facets.key"])
	assert.Equal(t, int64(3), attrs["facets.count"])
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents int
	}{
		{name: "nil error leaves the span untouched", err: nil, wantStatus: codes.Unset},
		{name: "error marks the span failed",
			err: errors.New(`distinct query on "funds" failed: connection refused`), wantStatus: codes.Error, wantEvents: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tracer, recorder := recordingTracer(t)
			_, span := tracer.Start(context.Background(), "store.Distinct")
			RecordError(span, tt.err)
			span.End()

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, tt.wantStatus, ended[0].Status().Code)
			require.Len(t, ended[0].Events(), tt.wantEvents)
			if tt.wantEvents > 0 {
				assert.Equal(t, "exception", ended[0].Events()[0].Name)
				assert.Equal(t, "operation failed", ended[0].Status().Description)
			}
		})
	}

	assert.NotPanics(t, func() { RecordError(nil, errors.New("boom")) })
}
