package platform

import (
	"log/slog"

	"github.com/md-rashed-zaman/pawlink/libs/db"
	"github.com/md-rashed-zaman/pawlink/libs/outbox"
)

// Outbox is the publish side of a service that owns entities.
type Outbox struct {
	Repo      *outbox.Repository
	Publisher *outbox.Publisher
	Replayer  *outbox.Replayer
}

func NewOutbox(cfg Config, pool *db.Pool, ch outbox.Channel, logger *slog.Logger) *Outbox {
	repo := outbox.NewRepository(pool)
	pub := outbox.NewPublisher(ch, logger, cfg.Service)
	return &Outbox{
		Repo:      repo,
		Publisher: pub,
		Replayer: outbox.NewReplayer(repo, pub, logger, outbox.ReplayerConfig{
			PollEvery:     cfg.OutboxPollEvery,
			BatchSize:     cfg.OutboxBatchSize,
			RatePerSecond: float64(cfg.OutboxReplayRPS),
		}),
	}
}
