package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/amqpx"
	"github.com/md-rashed-zaman/pawlink/libs/deadletter"
	"github.com/md-rashed-zaman/pawlink/libs/events"
	otelx "github.com/md-rashed-zaman/pawlink/libs/otel"
	"github.com/md-rashed-zaman/pawlink/libs/topology"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Channel is the consuming side of *amqp.Channel.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type Outcome int

const (
	Acked Outcome = iota
	Retried
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Retried:
		return "retried"
	case Dropped:
		return "dropped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

var ErrDeliveriesClosed = errors.New("delivery channel closed")

type Options struct {
	// MaxRetries is how many times a failing message goes through the retry
	// queue before it is dropped. NewGroup replaces zero with the plan's value.
	MaxRetries int
	Prefetch   int
	// CaptureTimeout bounds the dead-letter capture of one dropped message.
	CaptureTimeout time.Duration
}

// Consumer drains one subscription queue.
type Consumer struct {
	ch       Channel
	sub      topology.Subscription
	registry *Registry
	sink     deadletter.Sink
	logger   *slog.Logger
	opts     Options
}

func NewConsumer(ch Channel, sub topology.Subscription, registry *Registry, sink deadletter.Sink, logger *slog.Logger, opts Options) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 10
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 5 * time.Second
	}
	if sink == nil {
		sink = deadletter.LogSink{Logger: logger}
	}
	return &Consumer{
		ch:       ch,
		sub:      sub,
		registry: registry,
		sink:     sink,
		logger:   logger.With("queue", sub.Queue),
		opts:     opts,
	}
}

func (c *Consumer) Queue() string { return c.sub.Queue }

// Run consumes until ctx is done. It returns an error when the broker closes
// the delivery channel; the process is expected to restart.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos %s: %w", c.sub.Queue, err)
	}
	deliveries, err := c.ch.Consume(c.sub.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.sub.Queue, err)
	}
	c.logger.Info("consumer started", "pattern", c.sub.Pattern, "prefetch", c.opts.Prefetch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %s", ErrDeliveriesClosed, c.sub.Queue)
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle applies one delivery and settles it.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) Outcome {
	ctx = amqpx.ExtractTraceContext(ctx, d.Headers)
	t := events.EventType(amqpx.EventType(d))
	id := amqpx.EventID(d)
	deaths := amqpx.DeathCount(d.Headers, c.sub.Queue)

	ctx, span := otelx.Tracer().Start(ctx, "consume "+string(t),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", c.sub.Queue),
			attribute.String("messaging.message.id", id),
			attribute.Int("messaging.rabbitmq.death_count", deaths),
		),
	)
	defer span.End()

	h, ok := c.registry.Lookup(t)
	if !ok {
		err := fmt.Errorf("%w: %q", events.ErrUnknownType, t)
		span.SetStatus(codes.Error, err.Error())
		return c.drop(ctx, d, t, id, deaths, deadletter.ReasonUnknownType, err)
	}
	env, err := events.Decode(id, t, d.Body)
	if err != nil {
		span.SetStatus(codes.Error, "decode failed")
		reason := deadletter.ReasonUndecodable
		if errors.Is(err, events.ErrUnknownType) {
			reason = deadletter.ReasonUnknownType
		}
		return c.drop(ctx, d, t, id, deaths, reason, err)
	}
	env.OccurredAt = d.Timestamp

	if err := h(ctx, env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		if deaths < c.opts.MaxRetries {
			c.logger.Warn("event handling failed, retrying later",
				"event_id", id,
				"event_type", t,
				"attempt", deaths+1,
				"err", err,
			)
			if nackErr := d.Nack(false, false); nackErr != nil {
				c.logger.Error("nack failed", "event_id", id, "err", nackErr)
			}
			return Retried
		}
		return c.drop(ctx, d, t, id, deaths, deadletter.ReasonRetriesExhausted, err)
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", "event_id", id, "err", err)
	}
	c.logger.Debug("event applied", "event_id", id, "event_type", t)
	return Acked
}

// drop acknowledges d so it leaves the queue for good and hands it to the sink.
func (c *Consumer) drop(ctx context.Context, d amqp.Delivery, t events.EventType, id string, deaths int, reason string, cause error) Outcome {
	c.logger.Error("event dropped",
		"event_id", id,
		"event_type", t,
		"reason", reason,
		"death_count", deaths,
		"err", cause,
	)

	captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CaptureTimeout)
	defer cancel()
	rec := deadletter.Record{
		Queue:      c.sub.Queue,
		EventType:  string(t),
		MessageID:  id,
		Payload:    d.Body,
		Reason:     reason,
		Error:      cause.Error(),
		DeathCount: deaths,
		DroppedAt:  time.Now().UTC(),
	}
	if err := c.sink.Capture(captureCtx, rec); err != nil {
		c.logger.Error("dead-letter capture failed", "event_id", id, "err", err)
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", "event_id", id, "err", err)
	}
	return Dropped
}
