package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec
}

func spanAttr(s sdktrace.ReadOnlySpan, key string) string {
	for _, kv := range s.Attributes() {
		if kv.Key == attribute.Key(key) {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestPublishRecordsProducerSpan(t *testing.T) {
	rec := recordSpans(t)
	tr := &flakyTransport{failures: 1, err: errors.New("connection reset")}

	require.NoError(t, newTestPublisher(tr).NotifyOrderCreated(context.Background(), sampleOrder()))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	s := spans[0]
	require.Equal(t, "publish Order.Created", s.Name())
	require.Equal(t, trace.SpanKindProducer, s.SpanKind())
	require.Equal(t, orderID, spanAttr(s, "order.id"))
	require.NotEqual(t, codes.Error, s.Status().Code)
}

func TestPublishFailureMarksSpan(t *testing.T) {
	rec := recordSpans(t)
	tr := &flakyTransport{failures: 10, err: errors.New("broker down")}

	require.Error(t, newTestPublisher(tr).NotifyOrderCreated(context.Background(), sampleOrder()))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events(), "error recorded as a span event")
}
