package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/pawlink/libs/db"
	"github.com/md-rashed-zaman/pawlink/libs/events"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Writer binds inserts to q, usually the transaction of the authoritative write.
func (r *Repository) Writer(q db.Querier) Writer {
	return WriterFunc(func(ctx context.Context, rec Record) error {
		_, err := q.Exec(ctx, `
			INSERT INTO outbox_events (id, entity_id, entity_type, event_type, payload, created_at, error_message, traceparent, tracestate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, rec.ID, rec.EntityID, rec.EntityType, string(rec.EventType), rec.Payload, rec.CreatedAt, rec.ErrorMessage, rec.Traceparent, rec.Tracestate)
		return err
	})
}

const selectColumns = `id, entity_id, entity_type, event_type, payload, created_at, processed_at, processed, error_message, retry_count, traceparent, tracestate`

func (r *Repository) ClaimPending(ctx context.Context, limit int, fn func(ctx context.Context, records []Record, m Marker) error) error {
	return r.pool.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		records, err := scanRecords(tx.Query(ctx, `
			SELECT `+selectColumns+`
			FROM outbox_events
			WHERE processed = false
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit))
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return fn(ctx, records, txMarker{tx: tx})
	})
}

// ListPending is the operator view of rows still waiting for the broker.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Record, error) {
	return scanRecords(r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM outbox_events
		WHERE processed = false
		ORDER BY created_at
		LIMIT $1
	`, limit))
}

func scanRecords(rows pgx.Rows, err error) ([]Record, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			eventType string
		)
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.EntityType, &eventType, &rec.Payload, &rec.CreatedAt,
			&rec.ProcessedAt, &rec.Processed, &rec.ErrorMessage, &rec.RetryCount, &rec.Traceparent, &rec.Tracestate); err != nil {
			return nil, err
		}
		rec.EventType = events.EventType(eventType)
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

type txMarker struct {
	tx pgx.Tx
}

func (m txMarker) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	tag, err := m.tx.Exec(ctx, `
		UPDATE outbox_events
		SET processed = true, processed_at = $2, error_message = NULL
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (m txMarker) MarkFailed(ctx context.Context, id string, reason string) error {
	tag, err := m.tx.Exec(ctx, `
		UPDATE outbox_events
		SET retry_count = retry_count + 1, error_message = $2
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Claimer = (*Repository)(nil)
