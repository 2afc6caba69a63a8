package amqpx

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceHeaders writes W3C trace context into headers, allocating the
// table when it is nil.
func InjectTraceHeaders(ctx context.Context, headers amqp.Table) amqp.Table {
	if headers == nil {
		headers = amqp.Table{}
	}
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier(headers))
	return headers
}

// ExtractTraceContext returns a context extracted from delivery headers using the global propagator.
func ExtractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	if headers == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, tableCarrier(headers))
}

type tableCarrier amqp.Table

func (c tableCarrier) Get(key string) string {
	return HeaderString(amqp.Table(c), key)
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func (c tableCarrier) Set(key string, value string) {
	c[key] = value
}

var _ propagation.TextMapCarrier = tableCarrier{}
