package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092,")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("SplitBrokers = %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("empty input must yield no brokers")
	}
}

func TestEventMetaRoundTrip(t *testing.T) {
	meta := EventMeta{EventID: "e-1", EventType: "block.add", Queue: "block.add.adoption"}
	got := ExtractEventMeta(kafka.Message{Headers: meta.Headers()})
	if got != meta {
		t.Fatalf("got %+v, want %+v", got, meta)
	}
	if got := ExtractEventMeta(kafka.Message{Key: []byte("e-2")}); got.EventID != "e-2" {
		t.Fatalf("key fallback failed: %+v", got)
	}
}

func TestTraceHeadersAppend(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, EventMeta{EventID: "e-1"}.Headers())
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatal("traceparent not appended")
	}
	back := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	if back.TraceID() != sc.TraceID() {
		t.Fatalf("trace id = %s", back.TraceID())
	}
}
