package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the W3C trace context of a stored event. It lets a replay
// minutes later join the trace of the write that produced the event.
type TraceContext struct {
	Traceparent string
	Tracestate  string
}

func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Traceparent: carrier.Get("traceparent"), Tracestate: carrier.Get("tracestate")}
}

func (t TraceContext) Empty() bool { return t.Traceparent == "" && t.Tracestate == "" }

// Attach returns ctx carrying t as the remote parent. ctx is returned as is
// when t is empty.
func (t TraceContext) Attach(ctx context.Context) context.Context {
	if t.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	if t.Traceparent != "" {
		carrier.Set("traceparent", t.Traceparent)
	}
	if t.Tracestate != "" {
		carrier.Set("tracestate", t.Tracestate)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
