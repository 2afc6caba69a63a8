// Package events defines the domain events replicated between services and
// their JSON wire form. The routing key of a message is its EventType.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Family names a topic exchange. Every event type belongs to exactly one family.
type Family string

const (
	FamilyUser         Family = "user"
	FamilyBlock        Family = "block"
	FamilyFollow       Family = "follow"
	FamilyFriend       Family = "friend"
	FamilyNotification Family = "notification"
)

// Families lists every family in declaration order.
var Families = []Family{FamilyUser, FamilyBlock, FamilyFollow, FamilyFriend, FamilyNotification}

func (f Family) Valid() bool {
	for _, known := range Families {
		if f == known {
			return true
		}
	}
	return false
}

// RetryExchange is the exchange parked copies are dead-lettered to.
func (f Family) RetryExchange() string {
	return string(f) + "-retry"
}

// EventType is the canonical routing key, "<entity>.<action>".
type EventType string

const (
	UserRegistered EventType = "user.registered"
	UserDeleted    EventType = "user.deleted"
	BlockAdded     EventType = "block.add"
	BlockDeleted   EventType = "block.delete"
	FollowAdded    EventType = "follow.added"
	FollowRemoved  EventType = "follow.removed"
	FriendAdded    EventType = "friend.added"
	FriendRemoved  EventType = "friend.removed"
)

var fixedTypes = map[EventType]struct{}{
	UserRegistered: {}, UserDeleted: {},
	BlockAdded: {}, BlockDeleted: {},
	FollowAdded: {}, FollowRemoved: {},
	FriendAdded: {}, FriendRemoved: {},
}

// NotificationType returns the routing key for a notification of the given kind,
// e.g. "FRIEND_REQUEST" becomes "notification.friend_request".
func NotificationType(kind string) EventType {
	return EventType(string(FamilyNotification) + "." + strings.ToLower(strings.TrimSpace(kind)))
}

func (t EventType) Family() Family {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return Family(s[:i])
	}
	return Family(s)
}

// Valid reports whether t is a known routing key. Notification keys carry a
// free-form second word.
func (t EventType) Valid() bool {
	if _, ok := fixedTypes[t]; ok {
		return true
	}
	parts := strings.Split(string(t), ".")
	return len(parts) == 2 && Family(parts[0]) == FamilyNotification && parts[1] != "" &&
		!strings.ContainsAny(parts[1], "*#")
}

// Removal reports whether applying t removes the entity from a replica.
func (t EventType) Removal() bool {
	switch t {
	case UserDeleted, BlockDeleted, FollowRemoved, FriendRemoved:
		return true
	}
	return false
}

func (t EventType) String() string { return string(t) }

// Payload is implemented by the closed set of event variants.
type Payload interface {
	family() Family
	// EntityID is the natural identifier replicas de-duplicate on.
	EntityID() string
	// EntityType names the entity for outbox rows and logs.
	EntityType() string
}

type UserEvent struct {
	UserID    string   `json:"userId"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type BlockEvent struct {
	BlockID   string    `json:"blockId"`
	BlockerID string    `json:"blockerId"`
	BlockedID string    `json:"blockedId"`
	CreatedAt time.Time `json:"createdAt"`
}

type FollowEvent struct {
	FollowID   string    `json:"followId"`
	FollowerID string    `json:"followerId"`
	FollowedID string    `json:"followedId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type FriendEvent struct {
	FriendshipID string    `json:"friendshipId"`
	User1ID      string    `json:"user1Id"`
	User2ID      string    `json:"user2Id"`
	CreatedAt    time.Time `json:"createdAt"`
}

type NotificationEvent struct {
	RecipientID string            `json:"recipientId"`
	InitiatorID string            `json:"initiatorId,omitempty"`
	EntityRef   string            `json:"entityId,omitempty"`
	Type        string            `json:"type"`
	Message     string            `json:"message"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func (UserEvent) family() Family         { return FamilyUser }
func (BlockEvent) family() Family        { return FamilyBlock }
func (FollowEvent) family() Family       { return FamilyFollow }
func (FriendEvent) family() Family       { return FamilyFriend }
func (NotificationEvent) family() Family { return FamilyNotification }

func (e UserEvent) EntityID() string   { return e.UserID }
func (e BlockEvent) EntityID() string  { return e.BlockID }
func (e FollowEvent) EntityID() string { return e.FollowID }
func (e FriendEvent) EntityID() string { return e.FriendshipID }

// EntityID of a notification is the recipient; notifications are keyed by
// event id downstream.
func (e NotificationEvent) EntityID() string { return e.RecipientID }

func (UserEvent) EntityType() string         { return "user" }
func (BlockEvent) EntityType() string        { return "block" }
func (FollowEvent) EntityType() string       { return "follow" }
func (FriendEvent) EntityType() string       { return "friendship" }
func (NotificationEvent) EntityType() string { return "notification" }

var (
	ErrUnknownType     = errors.New("unknown event type")
	ErrFamilyMismatch  = errors.New("payload does not belong to the event family")
	ErrMissingEntityID = errors.New("payload has no entity identifier")
)

// Envelope is one logical event. ID is the message id on the wire and stays
// the same across outbox replays.
type Envelope struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	Payload    Payload
}

// New stamps a fresh envelope after checking that payload matches t.
func New(t EventType, payload Payload) (Envelope, error) {
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if e.Payload == nil || e.Payload.family() != e.Type.Family() {
		return fmt.Errorf("%w: %s", ErrFamilyMismatch, e.Type)
	}
	if strings.TrimSpace(e.Payload.EntityID()) == "" {
		return fmt.Errorf("%w: %s", ErrMissingEntityID, e.Type)
	}
	return nil
}

func (e Envelope) Family() Family { return e.Type.Family() }
