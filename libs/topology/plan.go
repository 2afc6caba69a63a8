package topology

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/pawlink/libs/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ArgDeadLetterExchange   = "x-dead-letter-exchange"
	ArgDeadLetterRoutingKey = "x-dead-letter-routing-key"
	ArgMessageTTL           = "x-message-ttl"
)

type Exchange struct {
	Name    string
	Kind    string
	Durable bool
}

type Queue struct {
	Name    string
	Durable bool
	Args    amqp.Table
}

type Binding struct {
	Queue    string
	Exchange string
	Key      string
}

// Subscription is one (event pattern, service) pair and the names of its
// retry loop.
type Subscription struct {
	Pattern    string
	Family     events.Family
	Queue      string
	RetryQueue string
	// RetryKey routes a rejected message from the primary queue into RetryQueue.
	RetryKey string
	// ReturnKey routes an expired message from RetryQueue back into Queue.
	ReturnKey string
}

type Plan struct {
	Service       string
	Retry         RetrySpec
	Exchanges     []Exchange
	Queues        []Queue
	Bindings      []Binding
	Subscriptions []Subscription
}

// Build computes everything service must declare. It performs no I/O.
func Build(spec Spec, service string) (Plan, error) {
	if strings.TrimSpace(service) == "" {
		return Plan{}, fmt.Errorf("%w: empty service", ErrInvalidSpec)
	}
	if err := spec.Validate(); err != nil {
		return Plan{}, err
	}

	plan := Plan{Service: service, Retry: spec.Retry}
	for _, f := range spec.Families {
		plan.Exchanges = append(plan.Exchanges,
			Exchange{Name: string(f), Kind: amqp.ExchangeTopic, Durable: true},
			Exchange{Name: f.RetryExchange(), Kind: amqp.ExchangeTopic, Durable: true},
		)
	}

	for _, s := range spec.Subscriptions {
		if s.Service != service {
			continue
		}
		for _, pattern := range s.Events {
			sub := subscriptionFor(pattern, service)
			plan.Subscriptions = append(plan.Subscriptions, sub)

			plan.Queues = append(plan.Queues,
				Queue{Name: sub.Queue, Durable: true, Args: amqp.Table{
					ArgDeadLetterExchange:   sub.Family.RetryExchange(),
					ArgDeadLetterRoutingKey: sub.RetryKey,
				}},
				Queue{Name: sub.RetryQueue, Durable: true, Args: amqp.Table{
					ArgMessageTTL:           spec.Retry.MessageTTL.Milliseconds(),
					ArgDeadLetterExchange:   string(sub.Family),
					ArgDeadLetterRoutingKey: sub.ReturnKey,
				}},
			)
			plan.Bindings = append(plan.Bindings,
				Binding{Queue: sub.Queue, Exchange: string(sub.Family), Key: sub.Pattern},
				Binding{Queue: sub.Queue, Exchange: string(sub.Family), Key: sub.ReturnKey},
				Binding{Queue: sub.RetryQueue, Exchange: sub.Family.RetryExchange(), Key: sub.RetryKey},
			)
		}
	}
	return plan, nil
}

// Subscription returns the subscription whose pattern equals pattern.
func (p Plan) Subscription(pattern string) (Subscription, bool) {
	for _, s := range p.Subscriptions {
		if s.Pattern == pattern {
			return s, true
		}
	}
	return Subscription{}, false
}

func subscriptionFor(pattern, service string) Subscription {
	base := queueWords(pattern) + "." + service
	return Subscription{
		Pattern:    pattern,
		Family:     events.EventType(pattern).Family(),
		Queue:      base,
		RetryQueue: base + ".retry",
		RetryKey:   base + ".retry",
		ReturnKey:  base,
	}
}

// queueWords makes a pattern usable inside queue names and literal routing keys.
func queueWords(pattern string) string {
	words := strings.Split(pattern, ".")
	for i, w := range words {
		switch w {
		case "*":
			words[i] = "all"
		case "#":
			words[i] = "any"
		}
	}
	return strings.Join(words, ".")
}
