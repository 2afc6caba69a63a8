package platform

import (
	"log/slog"

	"github.com/md-rashed-zaman/pawlink/libs/db"
	"github.com/md-rashed-zaman/pawlink/libs/deadletter"
	"github.com/md-rashed-zaman/pawlink/libs/kafkax"
	"github.com/md-rashed-zaman/pawlink/libs/runtime"
)

// DeadLetter is where consumers put the messages they drop.
type DeadLetter struct {
	Sink   deadletter.Sink
	Store  *deadletter.Repository
	Checks []runtime.ReadyCheck

	closers []func() error
}

// NewDeadLetter always stores drops in the service database and mirrors them
// to Kafka when brokers are configured.
func NewDeadLetter(cfg Config, pool *db.Pool, logger *slog.Logger) *DeadLetter {
	repo := deadletter.NewRepository(pool)
	d := &DeadLetter{Store: repo, Sink: repo}
	if len(cfg.DeadLetterBrokers) == 0 {
		return d
	}

	w := deadletter.NewKafkaWriter(cfg.DeadLetterBrokers, cfg.DeadLetterTopic)
	d.Sink = deadletter.Multi{repo, deadletter.NewKafkaSink(w)}
	d.Checks = append(d.Checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.DeadLetterBrokers)})
	d.closers = append(d.closers, w.Close)
	logger.Info("dead-letter mirror enabled", "topic", cfg.DeadLetterTopic, "brokers", cfg.DeadLetterBrokers)
	return d
}

func (d *DeadLetter) Close() {
	for _, c := range d.closers {
		_ = c()
	}
}
