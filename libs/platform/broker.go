package platform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/amqpx"
	"github.com/md-rashed-zaman/pawlink/libs/deadletter"
	"github.com/md-rashed-zaman/pawlink/libs/replication"
	"github.com/md-rashed-zaman/pawlink/libs/runtime"
	"github.com/md-rashed-zaman/pawlink/libs/topology"
)

// Broker is the process's broker session: the plan for its topology and a
// connection that declares the plan every time it is (re)established.
type Broker struct {
	Plan   topology.Plan
	Sender *amqpx.Sender

	connector *amqpx.Connector
}

// ConnectBroker builds the plan for cfg.Topology. A service with
// subscriptions connects and declares before it returns; a publish-only
// service starts without the broker and Supervise connects it, so writes
// fall back to the outbox until then.
func ConnectBroker(ctx context.Context, cfg Config, logger *slog.Logger) (*Broker, error) {
	spec, err := topology.LoadOrDefault(cfg.TopologyFile)
	if err != nil {
		return nil, err
	}
	plan, err := topology.Build(spec.WithRetry(cfg.RetryTTL, cfg.MaxRetries), cfg.Topology)
	if err != nil {
		return nil, err
	}

	b := &Broker{Plan: plan}
	b.connector = amqpx.NewConnector(amqpx.ConnectorConfig{
		Dial:      amqpx.DialConfig{URL: cfg.AMQPURL, Name: cfg.Service},
		Reconnect: !b.Consumes(),
		OnConnect: func(conn amqpx.Conn) error { return declare(conn, plan, logger) },
	}, logger)
	b.Sender = amqpx.NewSender(b.connector.Conn, 5*time.Second)

	if b.Consumes() {
		if err := b.connector.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func declare(conn amqpx.Conn, plan topology.Plan, logger *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open declare channel: %w", err)
	}
	err = topology.Declare(ch, plan)
	_ = ch.Close()
	if err != nil {
		return err
	}
	logger.Info("topology declared",
		"exchanges", len(plan.Exchanges),
		"queues", len(plan.Queues),
		"subscriptions", len(plan.Subscriptions),
		"retry_ttl", plan.Retry.MessageTTL.String(),
		"max_retries", plan.Retry.MaxRetries,
	)
	return nil
}

// Consumes reports whether the plan subscribes to anything.
func (b *Broker) Consumes() bool { return len(b.Plan.Subscriptions) > 0 }

// Consumers builds the consumer group for every subscription in the plan.
func (b *Broker) Consumers(registry *replication.Registry, sink deadletter.Sink, logger *slog.Logger, prefetch int) (*replication.Group, error) {
	open := func() (replication.Channel, error) {
		conn := b.connector.Conn()
		if conn == nil {
			return nil, amqpx.ErrConnectionClosed
		}
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	return replication.NewGroup(b.Plan, open, registry, sink, logger, replication.Options{
		MaxRetries: b.Plan.Retry.MaxRetries,
		Prefetch:   prefetch,
	})
}

// ReadyCheck reports the broker connection. Publish-only services leave it
// out of their readiness since their writes do not need the broker.
func (b *Broker) ReadyCheck() runtime.ReadyCheck {
	return runtime.ReadyCheck{Name: "amqp", Check: b.connector.ReadyCheck}
}

func (b *Broker) Close() {
	_ = b.Sender.Close()
	_ = b.connector.Close()
}

// Supervise runs until ctx is done. For a publish-only plan it keeps
// redialling the broker; for a plan with subscriptions a lost connection
// ends the consumers' deliveries and is returned as an error.
func (b *Broker) Supervise(ctx context.Context) error {
	return b.connector.Run(ctx)
}
