// Package graph owns blocks, follows and friendships and announces every
// change to the other services.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/pawlink/libs/events"
	"github.com/md-rashed-zaman/pawlink/libs/outbox"
)

type Block struct {
	ID        string    `json:"id"`
	BlockerID string    `json:"blockerId"`
	BlockedID string    `json:"blockedId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Follow struct {
	ID         string    `json:"id"`
	FollowerID string    `json:"followerId"`
	FollowedID string    `json:"followedId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Friendship struct {
	ID        string    `json:"id"`
	User1ID   string    `json:"user1Id"`
	User2ID   string    `json:"user2Id"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	ErrInvalid     = errors.New("invalid request")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("already exists")
	ErrUnknownUser = errors.New("unknown user")
	ErrBlocked     = errors.New("users have blocked each other")
)

// Tx is one unit of work against the graph tables. Outbox writes through the
// same transaction.
type Tx interface {
	InsertBlock(ctx context.Context, b Block) error
	DeleteBlock(ctx context.Context, id string) (Block, error)
	Blocked(ctx context.Context, a, b string) (bool, error)
	InsertFollow(ctx context.Context, f Follow) error
	DeleteFollow(ctx context.Context, id string) (Follow, error)
	InsertFriendship(ctx context.Context, f Friendship) error
	DeleteFriendship(ctx context.Context, id string) (Friendship, error)
	Outbox() outbox.Writer
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Publisher interface {
	Publish(ctx context.Context, w outbox.Writer, env events.Envelope) error
}

type Service struct {
	store Store
	pub   Publisher
	now   func() time.Time
}

func NewService(store Store, pub Publisher) *Service {
	return &Service{store: store, pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Block(ctx context.Context, blockerID, blockedID string) (Block, error) {
	if err := pair(blockerID, blockedID); err != nil {
		return Block{}, err
	}
	b := Block{ID: uuid.NewString(), BlockerID: blockerID, BlockedID: blockedID, CreatedAt: s.now()}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertBlock(ctx, b); err != nil {
			return err
		}
		return s.announce(ctx, tx, events.BlockAdded, blockEvent(b))
	})
	if err != nil {
		return Block{}, err
	}
	return b, nil
}

func (s *Service) Unblock(ctx context.Context, id string) (Block, error) {
	var b Block
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if b, err = tx.DeleteBlock(ctx, id); err != nil {
			return err
		}
		return s.announce(ctx, tx, events.BlockDeleted, blockEvent(b))
	})
	return b, err
}

// Follow records the follow and tells the followed user about it.
func (s *Service) Follow(ctx context.Context, followerID, followedID string) (Follow, error) {
	if err := pair(followerID, followedID); err != nil {
		return Follow{}, err
	}
	f := Follow{ID: uuid.NewString(), FollowerID: followerID, FollowedID: followedID, CreatedAt: s.now()}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := notBlocked(ctx, tx, followerID, followedID); err != nil {
			return err
		}
		if err := tx.InsertFollow(ctx, f); err != nil {
			return err
		}
		if err := s.announce(ctx, tx, events.FollowAdded, followEvent(f)); err != nil {
			return err
		}
		return s.announce(ctx, tx, events.NotificationType("follow"), events.NotificationEvent{
			RecipientID: followedID,
			InitiatorID: followerID,
			EntityRef:   f.ID,
			Type:        "FOLLOW",
			Message:     "You have a new follower",
		})
	})
	if err != nil {
		return Follow{}, err
	}
	return f, nil
}

func (s *Service) Unfollow(ctx context.Context, id string) (Follow, error) {
	var f Follow
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if f, err = tx.DeleteFollow(ctx, id); err != nil {
			return err
		}
		return s.announce(ctx, tx, events.FollowRemoved, followEvent(f))
	})
	return f, err
}

// Befriend records an accepted friendship; user2 is the one being notified.
func (s *Service) Befriend(ctx context.Context, user1ID, user2ID string) (Friendship, error) {
	if err := pair(user1ID, user2ID); err != nil {
		return Friendship{}, err
	}
	f := Friendship{ID: uuid.NewString(), User1ID: user1ID, User2ID: user2ID, CreatedAt: s.now()}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := notBlocked(ctx, tx, user1ID, user2ID); err != nil {
			return err
		}
		if err := tx.InsertFriendship(ctx, f); err != nil {
			return err
		}
		if err := s.announce(ctx, tx, events.FriendAdded, friendEvent(f)); err != nil {
			return err
		}
		return s.announce(ctx, tx, events.NotificationType("friend"), events.NotificationEvent{
			RecipientID: user2ID,
			InitiatorID: user1ID,
			EntityRef:   f.ID,
			Type:        "FRIEND",
			Message:     "You have a new friend",
		})
	})
	if err != nil {
		return Friendship{}, err
	}
	return f, nil
}

func (s *Service) Unfriend(ctx context.Context, id string) (Friendship, error) {
	var f Friendship
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if f, err = tx.DeleteFriendship(ctx, id); err != nil {
			return err
		}
		return s.announce(ctx, tx, events.FriendRemoved, friendEvent(f))
	})
	return f, err
}

// announce publishes inside the transaction. A publish error rolls the write
// back; a broker outage lands the event in the outbox of the same tx.
// Known gap: an event already delivered stays delivered when a later step
// (the second announce of Follow or Befriend, or the commit) fails.
func (s *Service) announce(ctx context.Context, tx Tx, t events.EventType, p events.Payload) error {
	env, err := events.New(t, p)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, tx.Outbox(), env); err != nil {
		return fmt.Errorf("announce %s: %w", t, err)
	}
	return nil
}

func pair(a, b string) error {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return fmt.Errorf("%w: both user ids are required", ErrInvalid)
	}
	if a == b {
		return fmt.Errorf("%w: user ids must differ", ErrInvalid)
	}
	return nil
}

func notBlocked(ctx context.Context, tx Tx, a, b string) error {
	blocked, err := tx.Blocked(ctx, a, b)
	if err != nil {
		return err
	}
	if blocked {
		return ErrBlocked
	}
	return nil
}

func blockEvent(b Block) events.BlockEvent {
	return events.BlockEvent{BlockID: b.ID, BlockerID: b.BlockerID, BlockedID: b.BlockedID, CreatedAt: b.CreatedAt}
}

func followEvent(f Follow) events.FollowEvent {
	return events.FollowEvent{FollowID: f.ID, FollowerID: f.FollowerID, FollowedID: f.FollowedID, CreatedAt: f.CreatedAt}
}

func friendEvent(f Friendship) events.FriendEvent {
	return events.FriendEvent{FriendshipID: f.ID, User1ID: f.User1ID, User2ID: f.User2ID, CreatedAt: f.CreatedAt}
}
