package events

import (
	"errors"
	"testing"
	"time"
)

func TestEventTypeFamilyAndValidity(t *testing.T) {
	cases := []struct {
		typ    EventType
		family Family
		valid  bool
	}{
		{UserRegistered, FamilyUser, true},
		{BlockAdded, FamilyBlock, true},
		{FriendRemoved, FamilyFriend, true},
		{NotificationType("FRIEND_REQUEST"), FamilyNotification, true},
		{"notification.*", FamilyNotification, false},
		{"user.updated", FamilyUser, false},
		{"user", FamilyUser, false},
	}
	for _, tc := range cases {
		if got := tc.typ.Family(); got != tc.family {
			t.Fatalf("%s: family = %s, want %s", tc.typ, got, tc.family)
		}
		if got := tc.typ.Valid(); got != tc.valid {
			t.Fatalf("%s: valid = %v, want %v", tc.typ, got, tc.valid)
		}
	}
}

func TestNewRejectsMismatchedPayload(t *testing.T) {
	_, err := New(BlockAdded, UserEvent{UserID: "u1"})
	if !errors.Is(err, ErrFamilyMismatch) {
		t.Fatalf("expected ErrFamilyMismatch, got %v", err)
	}
	_, err = New(UserRegistered, UserEvent{Username: "rex"})
	if !errors.Is(err, ErrMissingEntityID) {
		t.Fatalf("expected ErrMissingEntityID, got %v", err)
	}
}

func TestEncodeDecodeKeepsPayload(t *testing.T) {
	lat, lon := 52.52, 13.40
	env, err := New(UserRegistered, UserEvent{
		UserID: "u1", Username: "rex", Email: "rex@example.com", Latitude: &lat, Longitude: &lon,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(env.ID, env.Type, body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	user, ok := got.Payload.(UserEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", got.Payload)
	}
	if user.UserID != "u1" || user.Email != "rex@example.com" || user.Latitude == nil || *user.Latitude != lat {
		t.Fatalf("payload mismatch: %+v", user)
	}
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	body := []byte(`{"blockId":"B1","blockerId":"U1","blockedId":"U2","createdAt":"2024-03-01T10:00:00Z","reason":"spam","v":2}`)
	env, err := Decode("m1", BlockAdded, body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	block := env.Payload.(BlockEvent)
	if block.BlockID != "B1" || !block.CreatedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected block %+v", block)
	}
}

func TestDecodeRejectsMalformedBodies(t *testing.T) {
	if _, err := Decode("m1", FollowAdded, []byte(`{"followId":`)); err == nil {
		t.Fatal("expected syntax error")
	}
	if _, err := Decode("m1", FollowAdded, []byte(`{"followerId":"U1"}`)); !errors.Is(err, ErrMissingEntityID) {
		t.Fatalf("expected ErrMissingEntityID, got %v", err)
	}
	if _, err := Decode("m1", "listing.created", []byte(`{}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestRemoval(t *testing.T) {
	if !UserDeleted.Removal() || UserRegistered.Removal() || NotificationType("x").Removal() {
		t.Fatal("unexpected removal classification")
	}
}
