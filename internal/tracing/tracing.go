// Package tracing persists an opentelemetry span context alongside an event
// row so that handler side effects can be linked back to the producing
// business transaction.
package tracing

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/trace"
)

type traceData struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// Extract returns the span context embedded in the context and whether it is
// valid for persistence.
func Extract(ctx context.Context) (trace.SpanContext, bool) {
	sc := trace.SpanContextFromContext(ctx)
	return sc, sc.IsValid()
}

// Marshal encodes the span context for storage in the event trace column.
func Marshal(sc trace.SpanContext) ([]byte, error) {
	return json.Marshal(traceData{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	})
}

// Unmarshal decodes a stored trace column back into a span context.
func Unmarshal(data []byte) (trace.SpanContext, error) {
	var td traceData
	err := json.Unmarshal(data, &td)
	if err != nil {
		return trace.SpanContext{}, err
	}

	traceID, err := trace.TraceIDFromHex(td.TraceID)
	if err != nil {
		return trace.SpanContext{}, err
	}

	spanID, err := trace.SpanIDFromHex(td.SpanID)
	if err != nil {
		return trace.SpanContext{}, err
	}

	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
		Remote:  true,
	}), nil
}
