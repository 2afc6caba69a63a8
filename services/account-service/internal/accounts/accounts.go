// Package accounts owns user registration and deletion. Every change is
// published as a user.* event for the services that keep a user replica.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/pawlink/libs/events"
	"github.com/md-rashed-zaman/pawlink/libs/outbox"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Registration struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

var (
	ErrInvalid  = errors.New("invalid registration")
	ErrTaken    = errors.New("username or email already registered")
	ErrNotFound = errors.New("user not found")
)

type Tx interface {
	InsertUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id string) (User, error)
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

func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	if err := reg.validate(); err != nil {
		return User{}, err
	}
	u := User{
		ID:        uuid.NewString(),
		Username:  strings.TrimSpace(reg.Username),
		Email:     strings.ToLower(strings.TrimSpace(reg.Email)),
		Latitude:  reg.Latitude,
		Longitude: reg.Longitude,
		CreatedAt: s.now(),
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertUser(ctx, u); err != nil {
			return err
		}
		return s.announce(ctx, tx, events.UserRegistered, userEvent(u))
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id string) (User, error) {
	var u User
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if u, err = tx.DeleteUser(ctx, id); err != nil {
			return err
		}
		return s.announce(ctx, tx, events.UserDeleted, userEvent(u))
	})
	return u, err
}

// announce publishes before the caller commits, so a failed commit leaves a
// delivered event for a write that never happened.
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

func (r Registration) validate() error {
	switch {
	case strings.TrimSpace(r.Username) == "":
		return fmt.Errorf("%w: username is required", ErrInvalid)
	case (r.Latitude == nil) != (r.Longitude == nil):
		return fmt.Errorf("%w: latitude and longitude go together", ErrInvalid)
	case r.Latitude != nil && (*r.Latitude < -90 || *r.Latitude > 90 || *r.Longitude < -180 || *r.Longitude > 180):
		return fmt.Errorf("%w: coordinates out of range", ErrInvalid)
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(r.Email)); err != nil {
		return fmt.Errorf("%w: invalid email", ErrInvalid)
	}
	return nil
}

func userEvent(u User) events.UserEvent {
	return events.UserEvent{
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Latitude:  u.Latitude,
		Longitude: u.Longitude,
	}
}
