package amqpx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrNacked           = errors.New("broker nacked publish")
	ErrConnectionClosed = errors.New("amqp connection closed")
)

// Sender publishes on a confirm-mode channel and returns only after the broker
// confirmed the message. A failed channel is dropped and reopened on the next
// publish, on whatever connection conn returns at that point.
type Sender struct {
	conn           func() Conn
	confirmTimeout time.Duration

	mu   sync.Mutex
	ch   *amqp.Channel
	from Conn
}

// NewSender publishes over the connection conn returns; a nil or closed
// connection fails the publish with ErrConnectionClosed.
func NewSender(conn func() Conn, confirmTimeout time.Duration) *Sender {
	if confirmTimeout <= 0 {
		confirmTimeout = 5 * time.Second
	}
	return &Sender{conn: conn, confirmTimeout: confirmTimeout}
}

func (s *Sender) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	// Publishes are serialized so confirms match the message that produced them.
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		s.resetLocked()
		return fmt.Errorf("publish %s/%s: %w", exchange, key, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		s.resetLocked()
		return fmt.Errorf("await confirm %s/%s: %w", exchange, key, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s/%s", ErrNacked, exchange, key)
	}
	return nil
}

func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return nil
	}
	err := s.ch.Close()
	s.ch, s.from = nil, nil
	return err
}

// Fixed adapts a single connection for NewSender.
func Fixed(conn *amqp.Connection) func() Conn {
	return func() Conn {
		if conn == nil {
			return nil
		}
		return conn
	}
}

func (s *Sender) channel() (*amqp.Channel, error) {
	var conn Conn
	if s.conn != nil {
		conn = s.conn()
	}
	if conn == nil || conn.IsClosed() {
		s.resetLocked()
		return nil, ErrConnectionClosed
	}
	if s.ch != nil && !s.ch.IsClosed() && s.from == conn {
		return s.ch, nil
	}
	s.resetLocked()
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	s.ch, s.from = ch, conn
	return ch, nil
}

func (s *Sender) resetLocked() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	s.from = nil
}
