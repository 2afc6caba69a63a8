package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process outbox with the Repository contracts. A claim
// holds the store for the duration of fn, and its marks are discarded when fn
// fails.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) InsertRecord(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("outbox: duplicate record %s", r.ID)
	}
	s.records[r.ID] = r
	return nil
}

func (s *MemoryStore) ClaimPending(ctx context.Context, limit int, fn func(ctx context.Context, records []Record, m Marker) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pendingLocked(limit)
	if len(pending) == 0 {
		return nil
	}
	m := &memoryMarker{claimed: map[string]Record{}}
	for _, r := range pending {
		m.claimed[r.ID] = r
	}
	if err := fn(ctx, pending, m); err != nil {
		return err
	}
	for id, r := range m.claimed {
		s.records[id] = r
	}
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked(limit), nil
}

// Get returns a copy of one record.
func (s *MemoryStore) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) pendingLocked(limit int) []Record {
	var out []Record
	for _, r := range s.records {
		if !r.Processed {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memoryMarker struct {
	claimed map[string]Record
}

func (m *memoryMarker) MarkProcessed(_ context.Context, id string, at time.Time) error {
	r, ok := m.claimed[id]
	if !ok {
		return ErrNotFound
	}
	r.Processed = true
	r.ProcessedAt = &at
	r.ErrorMessage = nil
	m.claimed[id] = r
	return nil
}

func (m *memoryMarker) MarkFailed(_ context.Context, id string, reason string) error {
	r, ok := m.claimed[id]
	if !ok {
		return ErrNotFound
	}
	r.RetryCount++
	r.ErrorMessage = &reason
	m.claimed[id] = r
	return nil
}

var (
	_ Writer  = (*MemoryStore)(nil)
	_ Claimer = (*MemoryStore)(nil)
)
