package topology

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Declarer is the declaration subset of *amqp.Channel.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Declare declares exchanges, then queues, then bindings. The first error
// aborts; a process that cannot declare its topology must not start.
func Declare(ch Declarer, plan Plan) error {
	if err := DeclareExchanges(ch, plan); err != nil {
		return err
	}
	for _, q := range plan.Queues {
		if _, err := ch.QueueDeclare(q.Name, q.Durable, false, false, false, q.Args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
	}
	for _, b := range plan.Bindings {
		if err := ch.QueueBind(b.Queue, b.Key, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s with %s: %w", b.Queue, b.Exchange, b.Key, err)
		}
	}
	return nil
}

// DeclareExchanges is enough for publish-only processes.
func DeclareExchanges(ch Declarer, plan Plan) error {
	for _, ex := range plan.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, ex.Kind, ex.Durable, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
		}
	}
	return nil
}
