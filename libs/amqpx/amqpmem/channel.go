package amqpmem

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel mirrors the *amqp.Channel methods used by the replication layer.
type Channel struct {
	broker *Broker

	mu       sync.Mutex
	prefetch int
	closed   bool
}

func (c *Channel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	return c.broker.declareExchange(name, kind)
}

func (c *Channel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if c.isClosed() {
		return amqp.Queue{}, ErrChannelClosed
	}
	return c.broker.declareQueue(name, args)
}

func (c *Channel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	return c.broker.bind(name, key, exchange)
}

func (c *Channel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.broker.publish(exchange, key, msg)
}

// Qos sets the prefetch count for consumers started afterwards.
func (c *Channel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.prefetch = prefetchCount
	return nil
}

func (c *Channel) Consume(queue, consumer string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	closed, prefetch := c.closed, c.prefetch
	c.mu.Unlock()
	if closed {
		return nil, ErrChannelClosed
	}
	return c.broker.consume(c, queue, consumer, autoAck, prefetch)
}

// Close cancels this channel's consumers and requeues what they had not acked.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.broker.closeChannel(c)
	return nil
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
