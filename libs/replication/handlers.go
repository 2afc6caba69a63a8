package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/pawlink/libs/events"
	"github.com/md-rashed-zaman/pawlink/libs/replica"
)

// ReplicaHandlers returns insert-if-absent and delete-if-present handlers for
// every replicated entity. Removals leave a tombstone, so an add that arrives
// after its removal is a no-op.
func ReplicaHandlers(store replica.Store) map[events.EventType]Handler {
	return map[events.EventType]Handler{
		events.UserRegistered: userRegistered(store),
		events.UserDeleted:    remove[events.UserEvent](store, replica.KindUser),
		events.BlockAdded: add(store, replica.KindBlock, func(ctx context.Context, tx replica.Tx, e events.BlockEvent) error {
			return tx.InsertBlock(ctx, replica.Block{ID: e.BlockID, BlockerID: e.BlockerID, BlockedID: e.BlockedID, CreatedAt: e.CreatedAt})
		}),
		events.BlockDeleted: remove[events.BlockEvent](store, replica.KindBlock),
		events.FollowAdded: add(store, replica.KindFollow, func(ctx context.Context, tx replica.Tx, e events.FollowEvent) error {
			return tx.InsertFollow(ctx, replica.Follow{ID: e.FollowID, FollowerID: e.FollowerID, FollowedID: e.FollowedID, CreatedAt: e.CreatedAt})
		}),
		events.FollowRemoved: remove[events.FollowEvent](store, replica.KindFollow),
		events.FriendAdded: add(store, replica.KindFriendship, func(ctx context.Context, tx replica.Tx, e events.FriendEvent) error {
			return tx.InsertFriendship(ctx, replica.Friendship{ID: e.FriendshipID, User1ID: e.User1ID, User2ID: e.User2ID, CreatedAt: e.CreatedAt})
		}),
		events.FriendRemoved: remove[events.FriendEvent](store, replica.KindFriendship),
	}
}

// UserHandlers is the subset for services that only replicate users.
func UserHandlers(store replica.Store) map[events.EventType]Handler {
	all := ReplicaHandlers(store)
	return map[events.EventType]Handler{
		events.UserRegistered: all[events.UserRegistered],
		events.UserDeleted:    all[events.UserDeleted],
	}
}

var ErrPayloadType = errors.New("unexpected payload type")

func payloadAs[T events.Payload](env events.Envelope) (T, error) {
	p, ok := env.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s carries %T", ErrPayloadType, env.Type, env.Payload)
	}
	return p, nil
}

func userRegistered(store replica.Store) Handler {
	return func(ctx context.Context, env events.Envelope) error {
		e, err := payloadAs[events.UserEvent](env)
		if err != nil {
			return err
		}
		err = store.InTx(ctx, func(ctx context.Context, tx replica.Tx) error {
			if skip, err := alreadyApplied(ctx, tx, replica.KindUser, e.UserID); err != nil || skip {
				return err
			}
			// A username freed by a deletion can be reused before that
			// deletion reaches this replica. Retry until it does.
			taken, err := tx.UserIdentityTaken(ctx, e.Username, e.Email)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: user %s", replica.ErrIdentityTaken, e.UserID)
			}
			return tx.InsertUser(ctx, replica.User{
				ID:        e.UserID,
				Username:  e.Username,
				Email:     e.Email,
				Latitude:  e.Latitude,
				Longitude: e.Longitude,
			})
		})
		if !errors.Is(err, replica.ErrDuplicate) {
			return err
		}
		// The unique violation is either a concurrent delivery of this event
		// or a concurrent insert of another user with the same identity.
		return store.InTx(ctx, func(ctx context.Context, tx replica.Tx) error {
			ok, err := tx.Exists(ctx, replica.KindUser, e.UserID)
			if err != nil || ok {
				return err
			}
			return fmt.Errorf("%w: user %s", replica.ErrIdentityTaken, e.UserID)
		})
	}
}

func add[T events.Payload](store replica.Store, kind replica.Kind, insert func(ctx context.Context, tx replica.Tx, e T) error) Handler {
	return func(ctx context.Context, env events.Envelope) error {
		e, err := payloadAs[T](env)
		if err != nil {
			return err
		}
		err = store.InTx(ctx, func(ctx context.Context, tx replica.Tx) error {
			if skip, err := alreadyApplied(ctx, tx, kind, e.EntityID()); err != nil || skip {
				return err
			}
			return insert(ctx, tx, e)
		})
		return ignoreDuplicate(err)
	}
}

func remove[T events.Payload](store replica.Store, kind replica.Kind) Handler {
	return func(ctx context.Context, env events.Envelope) error {
		e, err := payloadAs[T](env)
		if err != nil {
			return err
		}
		return store.InTx(ctx, func(ctx context.Context, tx replica.Tx) error {
			if _, err := tx.Delete(ctx, kind, e.EntityID()); err != nil {
				return err
			}
			return tx.Tombstone(ctx, kind, e.EntityID())
		})
	}
}

// alreadyApplied is true when the row exists or was removed already.
func alreadyApplied(ctx context.Context, tx replica.Tx, kind replica.Kind, id string) (bool, error) {
	gone, err := tx.Tombstoned(ctx, kind, id)
	if err != nil || gone {
		return gone, err
	}
	return tx.Exists(ctx, kind, id)
}

// A concurrent delivery of the same event won the insert.
func ignoreDuplicate(err error) error {
	if errors.Is(err, replica.ErrDuplicate) {
		return nil
	}
	return err
}
