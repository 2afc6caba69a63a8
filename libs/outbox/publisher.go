package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/amqpx"
	"github.com/md-rashed-zaman/pawlink/libs/events"
	otelx "github.com/md-rashed-zaman/pawlink/libs/otel"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Channel is satisfied by *amqp.Channel, *amqpx.Sender and the in-memory broker.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch     Channel
	logger *slog.Logger
	appID  string
}

func NewPublisher(ch Channel, logger *slog.Logger, appID string) *Publisher {
	return &Publisher{ch: ch, logger: logger, appID: appID}
}

// Publish sends env to the exchange of its family. When the broker cannot take
// it the event goes to the outbox through w instead. An error means neither
// happened and the caller should roll back its write.
//
// Publish runs before the caller commits. If the caller rolls back after a
// successful send, the delivered event describes a write that never
// happened; nothing retracts it.
func (p *Publisher) Publish(ctx context.Context, w Writer, env events.Envelope) error {
	body, err := events.Encode(env)
	if err != nil {
		return err
	}

	ctx, span := p.startSpan(ctx, "publish", env.Type, env.ID)
	defer span.End()

	sendErr := p.send(ctx, env.ID, env.Type, body, env.OccurredAt)
	if sendErr == nil {
		return nil
	}
	span.RecordError(sendErr)

	if w == nil {
		span.SetStatus(codes.Error, "no outbox writer")
		return fmt.Errorf("%w: %v", ErrNoWriter, sendErr)
	}
	if err := w.InsertRecord(ctx, newRecord(ctx, env, body, sendErr)); err != nil {
		span.SetStatus(codes.Error, "outbox write failed")
		return fmt.Errorf("outbox fallback for %s %s: %w", env.Type, env.ID, err)
	}
	span.SetAttributes(attribute.Bool("outbox.fallback", true))
	p.logger.Warn("publish failed, event stored in outbox",
		"event_id", env.ID,
		"event_type", env.Type,
		"err", sendErr,
	)
	return nil
}

// PublishNow sends env without the outbox fallback.
func (p *Publisher) PublishNow(ctx context.Context, env events.Envelope) error {
	body, err := events.Encode(env)
	if err != nil {
		return err
	}
	ctx, span := p.startSpan(ctx, "publish", env.Type, env.ID)
	defer span.End()
	if err := p.send(ctx, env.ID, env.Type, body, env.OccurredAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, id string, t events.EventType, body []byte, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	headers := amqp.Table{
		amqpx.HeaderEventID:   id,
		amqpx.HeaderEventType: string(t),
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Type:         string(t),
		Timestamp:    at,
		AppId:        p.appID,
		Headers:      amqpx.InjectTraceHeaders(ctx, headers),
		Body:         body,
	}
	return p.ch.PublishWithContext(ctx, string(t.Family()), string(t), false, false, msg)
}

func (p *Publisher) startSpan(ctx context.Context, op string, t events.EventType, id string) (context.Context, trace.Span) {
	return otelx.Tracer().Start(ctx, op+" "+string(t),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", string(t.Family())),
			attribute.String("messaging.rabbitmq.destination.routing_key", string(t)),
			attribute.String("messaging.message.id", id),
		),
	)
}
