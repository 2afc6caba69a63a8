package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/pawlink/services/notification-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

type fakePublisher struct {
	channel string
	body    []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.body, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestPushPublishesOnRecipientChannel(t *testing.T) {
	pub := &fakePublisher{}
	p := NewRedisPusher(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Push(context.Background(), storage.Notification{ID: "n-1", RecipientID: "U2", Type: "notification.follow", Message: "U1 followed you"})

	if pub.channel != "notifications:U2" {
		t.Fatalf("channel = %q", pub.channel)
	}
	var got storage.Notification
	if err := json.Unmarshal(pub.body, &got); err != nil {
		t.Fatalf("body: %v", err)
	}
	if got.ID != "n-1" || got.Message != "U1 followed you" {
		t.Fatalf("pushed %+v", got)
	}
}

func TestPushSwallowsErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	p := NewRedisPusher(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Push(context.Background(), storage.Notification{RecipientID: "U2"})

	NewRedisPusher(nil, slog.New(slog.NewTextHandler(io.Discard, nil))).Push(context.Background(), storage.Notification{})
}
