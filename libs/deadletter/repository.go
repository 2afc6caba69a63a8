package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/pawlink/libs/db"
)

// Repository keeps captures in the dropped_events table of the consuming service.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Capture(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.DroppedAt.IsZero() {
		rec.DroppedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dropped_events (id, queue, event_type, message_id, payload, reason, error, death_count, dropped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.Queue, rec.EventType, rec.MessageID, rec.Payload, rec.Reason, rec.Error, rec.DeathCount, rec.DroppedAt)
	return err
}

// List returns the newest captures first, optionally for one queue.
func (r *Repository) List(ctx context.Context, queue string, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, queue, event_type, message_id, payload, reason, error, death_count, dropped_at
		FROM dropped_events
		WHERE $1 = '' OR queue = $1
		ORDER BY dropped_at DESC
		LIMIT $2
	`, queue, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Queue, &rec.EventType, &rec.MessageID, &rec.Payload, &rec.Reason, &rec.Error, &rec.DeathCount, &rec.DroppedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

var (
	_ Sink   = (*Repository)(nil)
	_ Lister = (*Repository)(nil)
)
