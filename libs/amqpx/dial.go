package amqpx

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
)

type DialConfig struct {
	URL string
	// Name shows up as the connection name in the broker's management UI.
	Name string
	// MaxWait bounds the reconnect loop; zero means one minute.
	MaxWait   time.Duration
	Heartbeat time.Duration
}

// Dial connects to the broker, retrying with exponential backoff until
// MaxWait elapses or ctx is cancelled.
func Dial(ctx context.Context, cfg DialConfig, logger *slog.Logger) (*amqp.Connection, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url not configured")
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Minute
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}

	props := amqp.NewConnectionProperties()
	if cfg.Name != "" {
		props.SetClientConnectionName(cfg.Name)
	}

	return backoff.Retry(ctx, func() (*amqp.Connection, error) {
		return amqp.DialConfig(cfg.URL, amqp.Config{
			Heartbeat:  cfg.Heartbeat,
			Locale:     "en_US",
			Properties: props,
		})
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(cfg.MaxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			if logger != nil {
				logger.Warn("amqp dial failed", "err", err, "retry_in", next.String())
			}
		}),
	)
}
