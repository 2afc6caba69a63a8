package outbox

import (
	"context"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/pawlink/libs/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

type ReplayerConfig struct {
	PollEvery time.Duration
	BatchSize int
	// RatePerSecond caps replay publishes; zero means unlimited.
	RatePerSecond float64
}

// Replayer re-publishes pending outbox rows. There is no retry cap: a row that
// never gets through stays pending and shows up in ListPending.
type Replayer struct {
	store     Claimer
	pub       *Publisher
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
	limiter   *rate.Limiter
	now       func() time.Time
}

func NewReplayer(store Claimer, pub *Publisher, logger *slog.Logger, cfg ReplayerConfig) *Replayer {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Replayer{
		store:     store,
		pub:       pub,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		limiter:   rate.NewLimiter(limit, cfg.BatchSize),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Replayer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox replay failed", "err", err)
			}
		}
	}
}

// Sweep runs one claim and reports how many rows were published and how many
// stayed pending.
func (r *Replayer) Sweep(ctx context.Context) (published, failed int, err error) {
	err = r.store.ClaimPending(ctx, r.batchSize, func(ctx context.Context, records []Record, m Marker) error {
		published, failed = 0, 0
		for _, rec := range records {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			if pubErr := r.replay(ctx, rec); pubErr != nil {
				failed++
				r.logger.Warn("outbox replay attempt failed",
					"event_id", rec.ID,
					"event_type", rec.EventType,
					"retry_count", rec.RetryCount+1,
					"err", pubErr,
				)
				if err := m.MarkFailed(ctx, rec.ID, pubErr.Error()); err != nil {
					return err
				}
				continue
			}
			if err := m.MarkProcessed(ctx, rec.ID, r.now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if published > 0 {
		r.logger.Info("outbox replayed", "published", published, "pending", failed)
	}
	return published, failed, err
}

func (r *Replayer) replay(ctx context.Context, rec Record) error {
	ctx = otelx.TraceContext{Traceparent: rec.Traceparent, Tracestate: rec.Tracestate}.Attach(ctx)
	ctx, span := r.pub.startSpan(ctx, "replay", rec.EventType, rec.ID)
	defer span.End()

	if err := r.pub.send(ctx, rec.ID, rec.EventType, rec.Payload, rec.CreatedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay failed")
		return err
	}
	return nil
}
