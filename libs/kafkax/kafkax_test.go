package kafkax

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestInjectTraceHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, EventHeaders("e-1", "scheduling.appointment.booked.v1"))
	if HeaderValue(headers, HeaderEventID) != "e-1" {
		t.Fatalf("expected event id header to survive")
	}
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("expected traceparent header")
	}
	if !strings.Contains(HeaderValue(headers, "traceparent"), sc.TraceID().String()) {
		t.Fatalf("expected trace id %s in %q", sc.TraceID(), HeaderValue(headers, "traceparent"))
	}

	again := InjectTraceHeaders(ctx, headers)
	n := 0
	for _, h := range again {
		if h.Key == "traceparent" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected traceparent to be replaced, found %d", n)
	}
}
