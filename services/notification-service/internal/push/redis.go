package push

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/md-rashed-zaman/pawlink/services/notification-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

const ChannelPrefix = "notifications:"

// Publisher is satisfied by *redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPusher fans stored notifications out to live connections subscribed to
// the recipient's channel. A missed push is recovered by the next poll, so
// failures are only logged.
type RedisPusher struct {
	rdb    Publisher
	logger *slog.Logger
}

func NewRedisPusher(rdb Publisher, logger *slog.Logger) *RedisPusher {
	return &RedisPusher{rdb: rdb, logger: logger}
}

func Channel(recipientID string) string { return ChannelPrefix + recipientID }

func (p *RedisPusher) Push(ctx context.Context, n storage.Notification) {
	if p.rdb == nil {
		return
	}
	body, err := json.Marshal(n)
	if err != nil {
		p.logger.Error("encode push failed", "notification_id", n.ID, "err", err)
		return
	}
	receivers, err := p.rdb.Publish(ctx, Channel(n.RecipientID), body).Result()
	if err != nil {
		p.logger.Warn("live push failed", "recipient_id", n.RecipientID, "event_id", n.EventID, "err", err)
		return
	}
	p.logger.Debug("live push sent", "recipient_id", n.RecipientID, "receivers", receivers)
}
