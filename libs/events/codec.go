package events

import (
	"encoding/json"
	"fmt"
)

// Encode returns the JSON body of the payload. Envelope metadata travels in
// message properties, not in the body.
func Encode(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return body, nil
}

// DecodePayload parses body as the variant t belongs to. Unknown fields are ignored.
func DecodePayload(t EventType, body []byte) (Payload, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	var (
		p   Payload
		err error
	)
	switch t.Family() {
	case FamilyUser:
		var v UserEvent
		err = json.Unmarshal(body, &v)
		p = v
	case FamilyBlock:
		var v BlockEvent
		err = json.Unmarshal(body, &v)
		p = v
	case FamilyFollow:
		var v FollowEvent
		err = json.Unmarshal(body, &v)
		p = v
	case FamilyFriend:
		var v FriendEvent
		err = json.Unmarshal(body, &v)
		p = v
	case FamilyNotification:
		var v NotificationEvent
		err = json.Unmarshal(body, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return p, nil
}

// Decode rebuilds an envelope from message metadata and body.
func Decode(id string, t EventType, body []byte) (Envelope, error) {
	p, err := DecodePayload(t, body)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{ID: id, Type: t, Payload: p}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
