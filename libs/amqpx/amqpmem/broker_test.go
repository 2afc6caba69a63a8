package amqpmem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/amqpx"
	"github.com/md-rashed-zaman/pawlink/libs/topology"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func declaredBroker(t *testing.T, service string) (*Broker, *fakeClock, topology.Plan) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(WithClock(clock.Now))
	plan, err := topology.Build(topology.Default(), service)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := topology.Declare(b.Channel(), plan); err != nil {
		t.Fatalf("Declare: %v", err)
	}
	return b, clock, plan
}

func receive(t *testing.T, ch <-chan amqp.Delivery) amqp.Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return amqp.Delivery{}
	}
}

func TestRetryLoopReturnsMessageAfterTTL(t *testing.T) {
	b, clock, plan := declaredBroker(t, "social")
	sub, _ := plan.Subscription("user.registered")

	ch := b.Channel()
	deliveries, err := ch.Consume(sub.Queue, "", false, false, false, false, nil)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	pub := amqp.Publishing{Type: "user.registered", MessageId: "e-1", Body: []byte(`{"userId":"U1"}`)}
	if err := ch.PublishWithContext(context.Background(), "user", "user.registered", false, false, pub); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first := receive(t, deliveries)
	if amqpx.DeathCount(first.Headers, sub.Queue) != 0 {
		t.Fatal("fresh message must have no deaths")
	}
	if err := first.Nack(false, false); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if got := b.Depth(sub.RetryQueue); got != 1 {
		t.Fatalf("retry queue depth = %d, want 1", got)
	}

	b.Tick()
	if got := b.Depth(sub.RetryQueue); got != 1 {
		t.Fatal("message must stay parked until its TTL elapses")
	}

	clock.Advance(plan.Retry.MessageTTL)
	b.Tick()

	second := receive(t, deliveries)
	if second.Type != "user.registered" || second.MessageId != "e-1" {
		t.Fatalf("properties lost across retry: %+v", second)
	}
	if second.RoutingKey != sub.ReturnKey {
		t.Fatalf("routing key = %s, want %s", second.RoutingKey, sub.ReturnKey)
	}
	if got := amqpx.DeathCount(second.Headers, sub.Queue); got != 1 {
		t.Fatalf("death count = %d, want 1", got)
	}
	if err := second.Ack(false); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	stats := b.Stats()
	if stats.Acked != 1 || stats.Nacked != 1 || stats.Unacked != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDeathCountAccumulatesPerQueue(t *testing.T) {
	b, clock, plan := declaredBroker(t, "adoption")
	sub, _ := plan.Subscription("block.add")

	ch := b.Channel()
	deliveries, _ := ch.Consume(sub.Queue, "", false, false, false, false, nil)
	_ = ch.PublishWithContext(context.Background(), "block", "block.add", false, false, amqp.Publishing{Type: "block.add"})

	for i := 0; i < 3; i++ {
		d := receive(t, deliveries)
		if got := amqpx.DeathCount(d.Headers, sub.Queue); got != i {
			t.Fatalf("attempt %d: death count = %d", i, got)
		}
		_ = d.Nack(false, false)
		clock.Advance(plan.Retry.MessageTTL)
		b.Tick()
	}
	d := receive(t, deliveries)
	if got := amqpx.DeathCount(d.Headers, sub.Queue); got != 3 {
		t.Fatalf("death count = %d, want 3", got)
	}
	if got := amqpx.DeathCount(d.Headers, sub.RetryQueue); got != 3 {
		t.Fatalf("retry queue expirations = %d, want 3", got)
	}
}

func TestFanOutToEveryBoundService(t *testing.T) {
	b := New()
	for _, service := range []string{"social", "adoption", "notification"} {
		plan, err := topology.Build(topology.Default(), service)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if err := topology.Declare(b.Channel(), plan); err != nil {
			t.Fatalf("Declare %s: %v", service, err)
		}
	}

	ch := b.Channel()
	_ = ch.PublishWithContext(context.Background(), "user", "user.registered", false, false, amqp.Publishing{})
	for _, q := range []string{"user.registered.social", "user.registered.adoption", "user.registered.notification"} {
		if got := b.Depth(q); got != 1 {
			t.Fatalf("%s depth = %d, want 1", q, got)
		}
	}
	if got := b.Depth("user.deleted.social"); got != 0 {
		t.Fatalf("unrelated queue received the message")
	}

	_ = ch.PublishWithContext(context.Background(), "notification", "notification.friend_request", false, false, amqp.Publishing{})
	if got := b.Depth("notification.all.notification"); got != 1 {
		t.Fatalf("wildcard queue depth = %d", got)
	}
}

func TestPrefetchAndChannelClose(t *testing.T) {
	b, _, plan := declaredBroker(t, "social")
	sub, _ := plan.Subscription("user.deleted")

	ch := b.Channel()
	_ = ch.Qos(1, 0, false)
	deliveries, _ := ch.Consume(sub.Queue, "c1", false, false, false, false, nil)
	for i := 0; i < 3; i++ {
		_ = ch.PublishWithContext(context.Background(), "user", "user.deleted", false, false, amqp.Publishing{})
	}
	_ = receive(t, deliveries)
	if got := b.Depth(sub.Queue); got != 2 {
		t.Fatalf("prefetch 1 should leave 2 ready, got %d", got)
	}

	_ = ch.Close()
	if got := b.Depth(sub.Queue); got != 3 {
		t.Fatalf("close must requeue the unacked message, depth = %d", got)
	}
	if _, ok := <-deliveries; ok {
		t.Fatal("delivery channel must be closed")
	}

	next := b.Channel()
	again, _ := next.Consume(sub.Queue, "c2", false, false, false, false, nil)
	if d := receive(t, again); !d.Redelivered {
		t.Fatal("requeued message must be marked redelivered")
	}
}

func TestPublishFailuresAndErrors(t *testing.T) {
	b, _, _ := declaredBroker(t, "social")
	ch := b.Channel()

	down := errors.New("connection refused")
	b.FailPublishes(down)
	if err := ch.PublishWithContext(context.Background(), "user", "user.registered", false, false, amqp.Publishing{}); !errors.Is(err, down) {
		t.Fatalf("expected injected error, got %v", err)
	}
	b.FailPublishes(nil)

	if err := ch.PublishWithContext(context.Background(), "listing", "listing.created", false, false, amqp.Publishing{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := b.Ack(999, false); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
	if _, err := ch.QueueDeclare("user.registered.social", true, false, false, false, amqp.Table{"x-message-ttl": int64(1)}); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition on redeclare, got %v", err)
	}
}
