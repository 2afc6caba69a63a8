package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/pawlink/libs/db"
)

// Notification is stored once per event id.
type Notification struct {
	ID          string            `json:"id"`
	EventID     string            `json:"eventId"`
	RecipientID string            `json:"recipientId"`
	InitiatorID string            `json:"initiatorId,omitempty"`
	EntityID    string            `json:"entityId,omitempty"`
	Type        string            `json:"type"`
	Message     string            `json:"message"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts n and reports false when its event id is already stored.
func (r *Repository) Save(ctx context.Context, n Notification) (bool, error) {
	attrs, err := json.Marshal(n.Attributes)
	if err != nil {
		return false, err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	inserted := false
	err = r.pool.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO notifications (id, event_id, recipient_id, initiator_id, entity_id, type, message, attributes, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
			ON CONFLICT (event_id) DO NOTHING
			RETURNING id
		`, n.ID, n.EventID, n.RecipientID, n.InitiatorID, n.EntityID, n.Type, n.Message, attrs, n.CreatedAt).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// ListForRecipient returns the newest notifications first.
func (r *Repository) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, recipient_id, COALESCE(initiator_id, ''), COALESCE(entity_id, ''), type, message, attributes, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n     Notification
			attrs []byte
		)
		if err := rows.Scan(&n.ID, &n.EventID, &n.RecipientID, &n.InitiatorID, &n.EntityID, &n.Type, &n.Message, &attrs, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &n.Attributes); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
