package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink mirrors captures onto a topic for inspection tooling. Messages are
// keyed by message id so repeated drops of one event land on one partition.
// The topic is configured on the writer.
type KafkaSink struct {
	w MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// wireRecord is the JSON value written to the topic.
type wireRecord struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	EventType  string          `json:"eventType"`
	MessageID  string          `json:"messageId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RawPayload []byte          `json:"rawPayload,omitempty"`
	Reason     string          `json:"reason"`
	Error      string          `json:"error,omitempty"`
	DeathCount int             `json:"deathCount"`
	DroppedAt  time.Time       `json:"droppedAt"`
}

func (s *KafkaSink) Capture(ctx context.Context, r Record) error {
	value, err := Marshal(r)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(r.MessageID),
		Value: value,
		Headers: kafkax.EventMeta{
			EventID:   r.MessageID,
			EventType: r.EventType,
			Queue:     r.Queue,
		}.Headers(),
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("mirror dropped event %s: %w", r.MessageID, err)
	}
	return nil
}

// Marshal encodes r as it appears on the topic. Payloads that are not valid
// JSON are carried base64-encoded in rawPayload.
func Marshal(r Record) ([]byte, error) {
	w := wireRecord{
		ID:         r.ID,
		Queue:      r.Queue,
		EventType:  r.EventType,
		MessageID:  r.MessageID,
		Reason:     r.Reason,
		Error:      r.Error,
		DeathCount: r.DeathCount,
		DroppedAt:  r.DroppedAt,
	}
	if json.Valid(r.Payload) {
		w.Payload = r.Payload
	} else {
		w.RawPayload = r.Payload
	}
	return json.Marshal(w)
}

func Unmarshal(data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, err
	}
	r := Record{
		ID:         w.ID,
		Queue:      w.Queue,
		EventType:  w.EventType,
		MessageID:  w.MessageID,
		Payload:    []byte(w.Payload),
		Reason:     w.Reason,
		Error:      w.Error,
		DeathCount: w.DeathCount,
		DroppedAt:  w.DroppedAt,
	}
	if len(w.Payload) == 0 {
		r.Payload = w.RawPayload
	}
	return r, nil
}

var _ Sink = (*KafkaSink)(nil)
