// Package deadletter captures deliveries the consumers gave up on so they can
// be inspected and replayed by hand.
package deadletter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Reason values.
const (
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonUndecodable      = "undecodable"
	ReasonUnknownType      = "unknown_type"
)

type Record struct {
	ID         string
	Queue      string
	EventType  string
	MessageID  string
	Payload    []byte
	Reason     string
	Error      string
	DeathCount int
	DroppedAt  time.Time
}

type Sink interface {
	Capture(ctx context.Context, r Record) error
}

// Lister is the operator view over captured records.
type Lister interface {
	List(ctx context.Context, queue string, limit int) ([]Record, error)
}

// Multi captures into every sink and joins their errors.
type Multi []Sink

func (m Multi) Capture(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Capture(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink only writes the drop to the log.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Capture(_ context.Context, r Record) error {
	s.Logger.Error("event dropped",
		"queue", r.Queue,
		"event_type", r.EventType,
		"message_id", r.MessageID,
		"reason", r.Reason,
		"death_count", r.DeathCount,
		"err", r.Error,
	)
	return nil
}

type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func (s *MemorySink) Capture(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *MemorySink) List(_ context.Context, queue string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for i := len(s.records) - 1; i >= 0; i-- {
		if queue != "" && s.records[i].Queue != queue {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
