package amqpx

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers every publisher sets. Type and MessageId properties carry the same
// values; the headers survive tooling that strips properties.
const (
	HeaderEventID   = "x-event-id"
	HeaderEventType = "x-event-type"

	headerDeath = "x-death"
)

func HeaderString(headers amqp.Table, key string) string {
	v, ok := headers[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

// EventType resolves the canonical event type of a delivery. Dead-lettered
// copies arrive with a rewritten routing key, so the key is the last resort.
func EventType(d amqp.Delivery) string {
	if d.Type != "" {
		return d.Type
	}
	if t := HeaderString(d.Headers, HeaderEventType); t != "" {
		return t
	}
	return d.RoutingKey
}

// EventID resolves the publisher-assigned event id of a delivery.
func EventID(d amqp.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	return HeaderString(d.Headers, HeaderEventID)
}

// DeathCount returns how many times queue has dead-lettered the message,
// summed over every reason the broker recorded for that queue. Malformed
// headers count as zero.
func DeathCount(headers amqp.Table, queue string) int {
	var entries []any
	switch v := headers[headerDeath].(type) {
	case []any:
		entries = v
	case []amqp.Table:
		for _, t := range v {
			entries = append(entries, t)
		}
	default:
		return 0
	}

	total := 0
	for _, item := range entries {
		var entry map[string]any
		switch e := item.(type) {
		case amqp.Table:
			entry = e
		case map[string]any:
			entry = e
		default:
			continue
		}
		if q, _ := entry["queue"].(string); q != queue {
			continue
		}
		total += toInt(entry["count"])
	}
	return total
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
