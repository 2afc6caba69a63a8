// Package outbox keeps events that could not reach the broker at write time
// and replays them later.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/events"
	otelx "github.com/md-rashed-zaman/pawlink/libs/otel"
)

// Record is one persisted event. ID is the envelope id, so a replayed message
// carries the id it would have had on the first attempt.
type Record struct {
	ID           string
	EntityID     string
	EntityType   string
	EventType    events.EventType
	Payload      []byte
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	Processed    bool
	ErrorMessage *string
	RetryCount   int
	Traceparent  string
	Tracestate   string
}

// Envelope decodes the stored payload back into the event it was built from.
func (r Record) Envelope() (events.Envelope, error) {
	env, err := events.Decode(r.ID, r.EventType, r.Payload)
	if err != nil {
		return events.Envelope{}, err
	}
	env.OccurredAt = r.CreatedAt
	return env, nil
}

// Writer inserts within the caller's transaction.
type Writer interface {
	InsertRecord(ctx context.Context, r Record) error
}

type WriterFunc func(ctx context.Context, r Record) error

func (f WriterFunc) InsertRecord(ctx context.Context, r Record) error { return f(ctx, r) }

// Marker settles claimed records inside the claim's transaction.
type Marker interface {
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	// MarkFailed increments the retry count and keeps the row pending.
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Claimer hands out pending records oldest first. Records claimed by one
// caller are invisible to concurrent callers until fn returns.
type Claimer interface {
	ClaimPending(ctx context.Context, limit int, fn func(ctx context.Context, records []Record, m Marker) error) error
}

var (
	ErrNoWriter = errors.New("outbox: no writer for fallback")
	ErrNotFound = errors.New("outbox: record not found")
)

func newRecord(ctx context.Context, env events.Envelope, body []byte, cause error) Record {
	tc := otelx.CaptureTraceContext(ctx)
	r := Record{
		ID:          env.ID,
		EntityID:    env.Payload.EntityID(),
		EntityType:  env.Payload.EntityType(),
		EventType:   env.Type,
		Payload:     body,
		CreatedAt:   env.OccurredAt,
		Traceparent: tc.Traceparent,
		Tracestate:  tc.Tracestate,
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if cause != nil {
		msg := cause.Error()
		r.ErrorMessage = &msg
	}
	return r
}
