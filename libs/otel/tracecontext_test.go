package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tc := CaptureTraceContext(ctx)
	if tc.Traceparent == "" || tc.Empty() {
		t.Fatal("expected traceparent")
	}

	restored := trace.SpanContextFromContext(TraceContext{Traceparent: tc.Traceparent}.Attach(context.Background()))
	if restored.TraceID() != traceID {
		t.Fatalf("trace id mismatch: %s", restored.TraceID())
	}
}

func TestContextWithEmptyTraceContext(t *testing.T) {
	ctx := context.Background()
	if got := (TraceContext{}).Attach(ctx); got != ctx {
		t.Fatal("expected the same context back")
	}
}

func TestConfigFromEnvDisabledByDefault(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	cfg := ConfigFromEnv("social-service")
	if cfg.Enabled {
		t.Fatal("expected tracing disabled")
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected ratio %v", cfg.SampleRatio)
	}
}
