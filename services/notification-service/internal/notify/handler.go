// Package notify turns notification events into stored notifications and
// live pushes.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/events"
	"github.com/md-rashed-zaman/pawlink/libs/replication"
	"github.com/md-rashed-zaman/pawlink/services/notification-service/internal/storage"
)

type Store interface {
	Save(ctx context.Context, n storage.Notification) (bool, error)
}

type Pusher interface {
	Push(ctx context.Context, n storage.Notification)
}

// Handler stores the notification and pushes it when this delivery inserted
// it. A redelivered event finds its row and is acknowledged without a push.
func Handler(store Store, pusher Pusher) replication.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		e, ok := env.Payload.(events.NotificationEvent)
		if !ok {
			return fmt.Errorf("notification handler got %T", env.Payload)
		}
		kind := e.Type
		if kind == "" {
			kind = string(env.Type)
		}
		createdAt := env.OccurredAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		n := storage.Notification{
			EventID:     env.ID,
			RecipientID: e.RecipientID,
			InitiatorID: e.InitiatorID,
			EntityID:    e.EntityRef,
			Type:        kind,
			Message:     e.Message,
			Attributes:  e.Attributes,
			CreatedAt:   createdAt,
		}
		inserted, err := store.Save(ctx, n)
		if err != nil {
			return err
		}
		if inserted && pusher != nil {
			pusher.Push(ctx, n)
		}
		return nil
	}
}
