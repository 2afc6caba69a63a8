// Package amqpmem is an in-process broker implementing the part of AMQP 0-9-1
// the replication layer relies on: topic, direct and fanout exchanges, durable
// queues with dead-letter and message-TTL arguments, manual acknowledgements and
// RabbitMQ-style x-death bookkeeping. Deliveries are real amqp.Delivery values
// acknowledged through the broker.
package amqpmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/topology"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrPrecondition  = errors.New("precondition failed")
	ErrUnknownTag    = errors.New("unknown delivery tag")
	ErrChannelClosed = errors.New("channel closed")
)

// defaultBufferSize caps per-consumer prefetch; sends never block under the lock.
const defaultBufferSize = 1024

type Option func(*Broker)

// WithClock replaces time.Now for TTL bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

type Broker struct {
	mu         sync.Mutex
	now        func() time.Time
	exchanges  map[string]*exchange
	queues     map[string]*queue
	unacked    map[uint64]*inflight
	nextTag    uint64
	publishErr error

	published  int
	acked      int
	nacked     int
	unroutable int
	discarded  int
}

type exchange struct {
	name     string
	kind     string
	bindings []binding
}

type binding struct {
	queue string
	key   string
}

type queue struct {
	name      string
	args      amqp.Table
	ttl       time.Duration
	ready     []*message
	consumers []*consumer
	next      int
	delivered int
}

type message struct {
	exchange    string
	key         string
	pub         amqp.Publishing
	expiresAt   time.Time
	redelivered bool
}

type consumer struct {
	tag      string
	ch       chan amqp.Delivery
	channel  *Channel
	limit    int
	inflight int
	autoAck  bool
}

type inflight struct {
	q *queue
	m *message
	c *consumer
}

func New(opts ...Option) *Broker {
	b := &Broker{
		now:       time.Now,
		exchanges: map[string]*exchange{},
		queues:    map[string]*queue{},
		unacked:   map[uint64]*inflight{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Channel opens a new channel. Prefetch limits are per channel.
func (b *Broker) Channel() *Channel {
	return &Channel{broker: b}
}

// FailPublishes makes every publish return err until called with nil.
func (b *Broker) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Tick dead-letters every parked message whose TTL has elapsed.
func (b *Broker) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for _, q := range b.queues {
		if q.ttl <= 0 {
			continue
		}
		var keep []*message
		var expired []*message
		for _, m := range q.ready {
			if !m.expiresAt.After(now) {
				expired = append(expired, m)
			} else {
				keep = append(keep, m)
			}
		}
		q.ready = keep
		for _, m := range expired {
			b.deadLetterLocked(q, m, "expired")
		}
	}
}

// Run calls Tick on every interval until ctx is done.
func (b *Broker) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

func (b *Broker) declareExchange(name, kind string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch kind {
	case amqp.ExchangeTopic, amqp.ExchangeDirect, amqp.ExchangeFanout:
	default:
		return fmt.Errorf("%w: unsupported exchange kind %q", ErrPrecondition, kind)
	}
	if ex, ok := b.exchanges[name]; ok {
		if ex.kind != kind {
			return fmt.Errorf("%w: exchange %s redeclared as %s", ErrPrecondition, name, kind)
		}
		return nil
	}
	b.exchanges[name] = &exchange{name: name, kind: kind}
	return nil
}

func (b *Broker) declareQueue(name string, args amqp.Table) (amqp.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ttl, err := ttlArg(args)
	if err != nil {
		return amqp.Queue{}, err
	}
	if q, ok := b.queues[name]; ok {
		if !sameArgs(q.args, args) {
			return amqp.Queue{}, fmt.Errorf("%w: queue %s redeclared with different arguments", ErrPrecondition, name)
		}
		return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
	}
	b.queues[name] = &queue{name: name, args: copyTable(args), ttl: ttl}
	return amqp.Queue{Name: name}, nil
}

func (b *Broker) bind(queueName, key, exchangeName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return fmt.Errorf("%w: exchange %s", ErrNotFound, exchangeName)
	}
	if _, ok := b.queues[queueName]; !ok {
		return fmt.Errorf("%w: queue %s", ErrNotFound, queueName)
	}
	for _, existing := range ex.bindings {
		if existing.queue == queueName && existing.key == key {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, binding{queue: queueName, key: key})
	return nil
}

func (b *Broker) publish(exchangeName, key string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishErr != nil {
		return b.publishErr
	}
	if exchangeName != "" {
		if _, ok := b.exchanges[exchangeName]; !ok {
			return fmt.Errorf("%w: exchange %s", ErrNotFound, exchangeName)
		}
	}
	b.published++
	b.routeLocked(exchangeName, key, msg)
	return nil
}

// routeLocked delivers a copy of msg to every queue bound to exchangeName
// with a matching key. The default exchange routes by queue name.
func (b *Broker) routeLocked(exchangeName, key string, msg amqp.Publishing) {
	var targets []*queue
	if exchangeName == "" {
		if q, ok := b.queues[key]; ok {
			targets = append(targets, q)
		}
	} else if ex, ok := b.exchanges[exchangeName]; ok {
		seen := map[string]bool{}
		for _, bd := range ex.bindings {
			if seen[bd.queue] || !bindingMatches(ex.kind, bd.key, key) {
				continue
			}
			if q, ok := b.queues[bd.queue]; ok {
				seen[bd.queue] = true
				targets = append(targets, q)
			}
		}
	}
	if len(targets) == 0 {
		b.unroutable++
		return
	}
	for _, q := range targets {
		m := &message{exchange: exchangeName, key: key, pub: copyPublishing(msg)}
		if q.ttl > 0 {
			m.expiresAt = b.now().Add(q.ttl)
		}
		q.ready = append(q.ready, m)
		b.dispatchLocked(q)
	}
}

func bindingMatches(kind, pattern, key string) bool {
	switch kind {
	case amqp.ExchangeFanout:
		return true
	case amqp.ExchangeDirect:
		return pattern == key
	default:
		return topology.Match(pattern, key)
	}
}

func (b *Broker) dispatchLocked(q *queue) {
	for len(q.ready) > 0 {
		c := q.pickConsumer()
		if c == nil {
			return
		}
		m := q.ready[0]
		q.ready = q.ready[1:]

		b.nextTag++
		tag := b.nextTag
		q.delivered++
		d := delivery(b, c.tag, tag, m)
		if c.autoAck {
			b.acked++
		} else {
			c.inflight++
			b.unacked[tag] = &inflight{q: q, m: m, c: c}
		}
		c.ch <- d
	}
}

func (q *queue) pickConsumer() *consumer {
	for i := 0; i < len(q.consumers); i++ {
		c := q.consumers[(q.next+i)%len(q.consumers)]
		if c.inflight < c.limit && len(c.ch) < cap(c.ch) {
			q.next = (q.next + i + 1) % len(q.consumers)
			return c
		}
	}
	return nil
}

// deadLetterLocked records the death in x-death and republishes to the
// queue's dead-letter exchange. Without one the message is discarded.
func (b *Broker) deadLetterLocked(q *queue, m *message, reason string) {
	dlx, _ := q.args[topology.ArgDeadLetterExchange].(string)
	if dlx == "" {
		b.discarded++
		return
	}
	key := m.key
	if rk, _ := q.args[topology.ArgDeadLetterRoutingKey].(string); rk != "" {
		key = rk
	}

	pub := copyPublishing(m.pub)
	pub.Headers = recordDeath(pub.Headers, q.name, reason, m.exchange, m.key, b.now())
	pub.Expiration = ""
	b.routeLocked(dlx, key, pub)
}

func recordDeath(headers amqp.Table, queueName, reason, exchangeName, key string, at time.Time) amqp.Table {
	if headers == nil {
		headers = amqp.Table{}
	}
	var deaths []any
	if existing, ok := headers["x-death"].([]any); ok {
		deaths = existing
	}

	var current amqp.Table
	rest := make([]any, 0, len(deaths))
	for _, item := range deaths {
		entry, ok := item.(amqp.Table)
		if ok && current == nil && entry["queue"] == queueName && entry["reason"] == reason {
			current = entry
			continue
		}
		rest = append(rest, item)
	}
	if current == nil {
		current = amqp.Table{
			"queue":        queueName,
			"reason":       reason,
			"exchange":     exchangeName,
			"routing-keys": []any{key},
			"count":        int64(0),
		}
	}
	count, _ := current["count"].(int64)
	current["count"] = count + 1
	current["time"] = at

	// Most recent death first, as RabbitMQ does.
	headers["x-death"] = append([]any{current}, rest...)
	if _, ok := headers["x-first-death-queue"]; !ok {
		headers["x-first-death-queue"] = queueName
		headers["x-first-death-reason"] = reason
		headers["x-first-death-exchange"] = exchangeName
	}
	return headers
}

// Acknowledger implementation.

func (b *Broker) Ack(tag uint64, multiple bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.settleLocked(tag, multiple, func(*inflight) {
		b.acked++
	})
}

func (b *Broker) Nack(tag uint64, multiple bool, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.settleLocked(tag, multiple, func(f *inflight) {
		b.nacked++
		if requeue {
			f.m.redelivered = true
			f.q.ready = append([]*message{f.m}, f.q.ready...)
			return
		}
		b.deadLetterLocked(f.q, f.m, "rejected")
	})
}

func (b *Broker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

func (b *Broker) settleLocked(tag uint64, multiple bool, fn func(*inflight)) error {
	f, ok := b.unacked[tag]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	tags := []uint64{tag}
	if multiple {
		for t, other := range b.unacked {
			if t < tag && other.c == f.c {
				tags = append(tags, t)
			}
		}
	}

	touched := map[*queue]bool{}
	for _, t := range tags {
		entry := b.unacked[t]
		delete(b.unacked, t)
		entry.c.inflight--
		fn(entry)
		touched[entry.q] = true
	}
	for q := range touched {
		b.dispatchLocked(q)
	}
	return nil
}

func (b *Broker) consume(ch *Channel, queueName, tag string, autoAck bool, limit int) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: queue %s", ErrNotFound, queueName)
	}
	if tag == "" {
		tag = fmt.Sprintf("ctag-%s-%d", queueName, len(q.consumers)+1)
	}
	if limit <= 0 || limit > defaultBufferSize {
		limit = defaultBufferSize
	}
	c := &consumer{
		tag:     tag,
		ch:      make(chan amqp.Delivery, defaultBufferSize),
		channel: ch,
		limit:   limit,
		autoAck: autoAck,
	}
	q.consumers = append(q.consumers, c)
	b.dispatchLocked(q)
	return c.ch, nil
}

// closeChannel cancels ch's consumers and requeues their unacked messages.
func (b *Broker) closeChannel(ch *Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	touched := map[*queue]bool{}
	for tag, f := range b.unacked {
		if f.c.channel != ch {
			continue
		}
		delete(b.unacked, tag)
		f.m.redelivered = true
		f.q.ready = append([]*message{f.m}, f.q.ready...)
		touched[f.q] = true
	}
	for _, q := range b.queues {
		kept := q.consumers[:0]
		for _, c := range q.consumers {
			if c.channel == ch {
				close(c.ch)
				continue
			}
			kept = append(kept, c)
		}
		q.consumers = kept
		q.next = 0
	}
	for q := range touched {
		b.dispatchLocked(q)
	}
}

// Stats is a snapshot of broker counters.
type Stats struct {
	Published  int
	Acked      int
	Nacked     int
	Unroutable int
	Discarded  int
	Unacked    int
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Published:  b.published,
		Acked:      b.acked,
		Nacked:     b.nacked,
		Unroutable: b.unroutable,
		Discarded:  b.discarded,
		Unacked:    len(b.unacked),
	}
}

// Depth is the number of ready (not in-flight) messages in a queue.
func (b *Broker) Depth(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queueName]; ok {
		return len(q.ready)
	}
	return 0
}

// Delivered counts every delivery made from a queue, redeliveries included.
func (b *Broker) Delivered(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queueName]; ok {
		return q.delivered
	}
	return 0
}

// Bindings lists "exchange -> queue : key" lines, for debugging tools.
func (b *Broker) Bindings() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ex := range b.exchanges {
		for _, bd := range ex.bindings {
			out = append(out, fmt.Sprintf("%s -> %s : %s", ex.name, bd.queue, bd.key))
		}
	}
	return out
}

func delivery(b *Broker, consumerTag string, tag uint64, m *message) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger:    b,
		Headers:         copyTable(m.pub.Headers),
		ContentType:     m.pub.ContentType,
		ContentEncoding: m.pub.ContentEncoding,
		DeliveryMode:    m.pub.DeliveryMode,
		Priority:        m.pub.Priority,
		CorrelationId:   m.pub.CorrelationId,
		ReplyTo:         m.pub.ReplyTo,
		Expiration:      m.pub.Expiration,
		MessageId:       m.pub.MessageId,
		Timestamp:       m.pub.Timestamp,
		Type:            m.pub.Type,
		UserId:          m.pub.UserId,
		AppId:           m.pub.AppId,
		ConsumerTag:     consumerTag,
		DeliveryTag:     tag,
		Redelivered:     m.redelivered,
		Exchange:        m.exchange,
		RoutingKey:      m.key,
		Body:            append([]byte(nil), m.pub.Body...),
	}
}

func ttlArg(args amqp.Table) (time.Duration, error) {
	v, ok := args[topology.ArgMessageTTL]
	if !ok {
		return 0, nil
	}
	var ms int64
	switch n := v.(type) {
	case int:
		ms = int64(n)
	case int32:
		ms = int64(n)
	case int64:
		ms = n
	default:
		return 0, fmt.Errorf("%w: %s must be an integer, got %T", ErrPrecondition, topology.ArgMessageTTL, v)
	}
	if ms < 0 {
		return 0, fmt.Errorf("%w: negative %s", ErrPrecondition, topology.ArgMessageTTL)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func sameArgs(a, b amqp.Table) bool {
	for _, k := range []string{topology.ArgDeadLetterExchange, topology.ArgDeadLetterRoutingKey, topology.ArgMessageTTL} {
		if fmt.Sprint(a[k]) != fmt.Sprint(b[k]) {
			return false
		}
	}
	return true
}

func copyPublishing(p amqp.Publishing) amqp.Publishing {
	p.Headers = copyTable(p.Headers)
	p.Body = append([]byte(nil), p.Body...)
	return p
}

// copyTable deep-copies nested tables and slices so x-death updates on one
// queue's copy never leak into another's.
func copyTable(t amqp.Table) amqp.Table {
	if t == nil {
		return nil
	}
	out := make(amqp.Table, len(t))
	for k, v := range t {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case amqp.Table:
		return copyTable(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = copyValue(x[i])
		}
		return out
	default:
		return v
	}
}

var _ amqp.Acknowledger = (*Broker)(nil)
