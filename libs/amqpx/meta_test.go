package amqpx

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestDeathCount(t *testing.T) {
	const queue = "user.registered.social"
	cases := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"no header", amqp.Table{}, 0},
		{"nil table", nil, 0},
		{"malformed", amqp.Table{"x-death": "garbage"}, 0},
		{
			"broker encoding",
			amqp.Table{"x-death": []any{
				amqp.Table{"queue": queue + ".retry", "reason": "expired", "count": int64(2)},
				amqp.Table{"queue": queue, "reason": "rejected", "count": int64(2)},
			}},
			2,
		},
		{
			"other consumer's queue",
			amqp.Table{"x-death": []any{
				amqp.Table{"queue": "user.registered.adoption", "reason": "rejected", "count": int64(5)},
			}},
			0,
		},
		{
			"mixed numeric types and reasons",
			amqp.Table{"x-death": []any{
				map[string]any{"queue": queue, "reason": "rejected", "count": int32(1)},
				amqp.Table{"queue": queue, "reason": "expired", "count": 1.0},
				"not a table",
			}},
			2,
		},
		{
			"table slice",
			amqp.Table{"x-death": []amqp.Table{{"queue": queue, "count": uint8(3)}}},
			3,
		},
	}
	for _, tc := range cases {
		if got := DeathCount(tc.headers, queue); got != tc.want {
			t.Fatalf("%s: DeathCount = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestEventTypeResolution(t *testing.T) {
	d := amqp.Delivery{RoutingKey: "user.registered.social", Headers: amqp.Table{HeaderEventType: "user.registered"}}
	if got := EventType(d); got != "user.registered" {
		t.Fatalf("header fallback = %q", got)
	}
	d.Type = "user.deleted"
	if got := EventType(d); got != "user.deleted" {
		t.Fatalf("type property = %q", got)
	}
	if got := EventType(amqp.Delivery{RoutingKey: "block.add"}); got != "block.add" {
		t.Fatalf("routing key fallback = %q", got)
	}
	if got := EventID(amqp.Delivery{Headers: amqp.Table{HeaderEventID: []byte("e-1")}}); got != "e-1" {
		t.Fatalf("event id = %q", got)
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	headers := InjectTraceHeaders(ctx, nil)
	if HeaderString(headers, "traceparent") == "" {
		t.Fatal("expected traceparent header")
	}
	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	if got.TraceID() != traceID {
		t.Fatalf("trace id = %s", got.TraceID())
	}
}
