package amqpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
	notify []chan *amqp.Error
}

func (c *fakeConn) Channel() (*amqp.Channel, error) {
	return nil, errors.New("fake connection has no channels")
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) NotifyClose(r chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(r)
		return r
	}
	c.notify = append(c.notify, r)
	return r
}

func (c *fakeConn) Close() error {
	c.drop(nil)
	return nil
}

func (c *fakeConn) drop(err *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, r := range c.notify {
		if err != nil {
			r <- err
		}
		close(r)
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	fails int
	conns []*fakeConn
}

func (d *fakeDialer) dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func testConnector(d *fakeDialer, cfg ConnectorConfig) *Connector {
	cfg.Pause = time.Millisecond
	c := NewConnector(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.dial = d.dial
	return c
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectorRedialsAfterLoss(t *testing.T) {
	d := &fakeDialer{fails: 2}
	var mu sync.Mutex
	declared := 0
	c := testConnector(d, ConnectorConfig{
		Reconnect: true,
		OnConnect: func(Conn) error {
			mu.Lock()
			declared++
			mu.Unlock()
			return nil
		},
	})
	if err := c.ReadyCheck(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("ready before connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitUntil(t, "first connection", func() bool { return c.Conn() != nil })
	first := c.Conn()
	first.(*fakeConn).drop(&amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"})

	waitUntil(t, "second connection", func() bool { return d.dialed() == 2 && c.Conn() != nil })
	if c.Conn() == first {
		t.Fatal("connector must hand out the new connection")
	}
	if err := c.ReadyCheck(context.Background()); err != nil {
		t.Fatalf("ready after reconnect: %v", err)
	}
	mu.Lock()
	if declared != 2 {
		t.Fatalf("OnConnect ran %d times, want 2", declared)
	}
	mu.Unlock()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestConnectorWithoutReconnectReportsLoss(t *testing.T) {
	d := &fakeDialer{}
	c := testConnector(d, ConnectorConfig{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	c.Conn().(*fakeConn).drop(nil)

	if err := <-done; !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Run = %v, want ErrConnectionClosed", err)
	}
	if c.Conn() != nil {
		t.Fatal("lost connection must not be handed out")
	}
}

func TestConnectFailsWhenDeclareFails(t *testing.T) {
	d := &fakeDialer{}
	c := testConnector(d, ConnectorConfig{OnConnect: func(Conn) error { return errors.New("precondition failed") }})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.Conn() != nil || !d.conns[0].IsClosed() {
		t.Fatal("connection must be closed and dropped")
	}
}

func TestSenderWithoutConnection(t *testing.T) {
	conn := &fakeConn{}
	_ = conn.Close()
	for name, source := range map[string]func() Conn{
		"nil":    func() Conn { return nil },
		"closed": func() Conn { return conn },
		"fixed":  Fixed(nil),
	} {
		t.Run(name, func(t *testing.T) {
			s := NewSender(source, time.Second)
			err := s.PublishWithContext(context.Background(), "block", "block.add", false, false, amqp.Publishing{})
			if !errors.Is(err, ErrConnectionClosed) {
				t.Fatalf("got %v", err)
			}
		})
	}
}
