package amqpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Conn is the part of *amqp.Connection the connector and Sender use.
type Conn interface {
	Channel() (*amqp.Channel, error)
	IsClosed() bool
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type ConnectorConfig struct {
	Dial DialConfig
	// Reconnect makes Run redial after a lost connection instead of
	// returning ErrConnectionClosed.
	Reconnect bool
	// Pause between failed dial rounds; zero means five seconds.
	Pause time.Duration
	// OnConnect runs for every new connection before it is handed out,
	// typically to declare the topology.
	OnConnect func(Conn) error
}

// Connector owns the process's broker connection. Conn returns nil while
// the broker is unreachable.
type Connector struct {
	cfg    ConnectorConfig
	logger *slog.Logger
	dial   func(ctx context.Context) (Conn, error)

	mu   sync.RWMutex
	conn Conn
}

func NewConnector(cfg ConnectorConfig, logger *slog.Logger) *Connector {
	if cfg.Pause <= 0 {
		cfg.Pause = 5 * time.Second
	}
	c := &Connector{cfg: cfg, logger: logger}
	c.dial = func(ctx context.Context) (Conn, error) {
		conn, err := Dial(ctx, cfg.Dial, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return c
}

func (c *Connector) Conn() Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Connector) set(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Connect dials once, with the dial backoff, and keeps the connection.
func (c *Connector) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	if c.cfg.OnConnect != nil {
		if err := c.cfg.OnConnect(conn); err != nil {
			_ = conn.Close()
			return err
		}
	}
	c.set(conn)
	return nil
}

// Run watches the connection until ctx is done. Without Reconnect a lost
// connection is returned as an error; with it Run dials again, forever.
func (c *Connector) Run(ctx context.Context) error {
	for {
		conn := c.Conn()
		if conn == nil {
			if err := c.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Warn("amqp unavailable", "err", err, "retry_in", c.cfg.Pause.String())
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(c.cfg.Pause):
				}
				continue
			}
			conn = c.Conn()
			c.logger.Info("amqp connected")
		}

		// A connection that is already closed closes the receiver at once.
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if ctx.Err() != nil {
				return nil
			}
			c.set(nil)
			lost := ErrConnectionClosed
			if amqpErr != nil {
				lost = fmt.Errorf("%w: %v", ErrConnectionClosed, amqpErr)
			}
			if !c.cfg.Reconnect {
				return lost
			}
			c.logger.Warn("amqp connection lost, reconnecting", "err", lost)
		}
	}
}

// ReadyCheck fails while there is no open connection.
func (c *Connector) ReadyCheck(context.Context) error {
	conn := c.Conn()
	if conn == nil || conn.IsClosed() {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Connector) Close() error {
	conn := c.Conn()
	c.set(nil)
	if conn == nil || conn.IsClosed() {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
