// Package replica stores read-only, eventually consistent copies of entities
// owned by other services. Rows change only through replicated events.
package replica

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindUser       Kind = "user"
	KindBlock      Kind = "block"
	KindFollow     Kind = "follow"
	KindFriendship Kind = "friendship"
)

type User struct {
	ID        string
	Username  string
	Email     string
	Latitude  *float64
	Longitude *float64
}

type Block struct {
	ID        string
	BlockerID string
	BlockedID string
	CreatedAt time.Time
}

type Follow struct {
	ID         string
	FollowerID string
	FollowedID string
	CreatedAt  time.Time
}

type Friendship struct {
	ID        string
	User1ID   string
	User2ID   string
	CreatedAt time.Time
}

var (
	// ErrDuplicate means the row (or a unique attribute of it) is already present.
	ErrDuplicate = errors.New("replica row already exists")
	// ErrMissingReference means a referenced user replica is absent, usually
	// because events for different identifiers arrived out of order.
	ErrMissingReference = errors.New("referenced replica row does not exist")
	// ErrIdentityTaken means another user row still holds the username or
	// email, typically until the removal of a previous owner is replicated.
	ErrIdentityTaken = errors.New("username or email held by another replica user")
	ErrUnknownKind   = errors.New("unknown replica kind")
)

// Tx is the view of the replica tables inside one message's transaction.
type Tx interface {
	Exists(ctx context.Context, kind Kind, id string) (bool, error)
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, kind Kind, id string) (bool, error)

	// UserIdentityTaken reports whether another replica row already holds
	// the username or email.
	UserIdentityTaken(ctx context.Context, username, email string) (bool, error)
	InsertUser(ctx context.Context, u User) error
	InsertBlock(ctx context.Context, b Block) error
	InsertFollow(ctx context.Context, f Follow) error
	InsertFriendship(ctx context.Context, f Friendship) error

	// Tombstoned reports whether a removal for id has been applied.
	Tombstoned(ctx context.Context, kind Kind, id string) (bool, error)
	Tombstone(ctx context.Context, kind Kind, id string) error
}

type Store interface {
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
