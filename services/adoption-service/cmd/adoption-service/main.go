package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/admin"
	"github.com/md-rashed-zaman/pawlink/libs/db"
	otelx "github.com/md-rashed-zaman/pawlink/libs/otel"
	"github.com/md-rashed-zaman/pawlink/libs/platform"
	"github.com/md-rashed-zaman/pawlink/libs/replica"
	"github.com/md-rashed-zaman/pawlink/libs/replication"
	"github.com/md-rashed-zaman/pawlink/libs/runtime"
	"github.com/md-rashed-zaman/pawlink/services/adoption-service/internal/nearby"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := platform.ConfigFromEnv("adoption-service", "adoption", "8083", "9093")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	if err := run(cfg, logger); err != nil {
		logger.Error("adoption-service stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg platform.Config, logger *slog.Logger) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	}
	defer runtime.Shutdown(logger, "otel", 5*time.Second, otelShutdown)

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	broker, err := platform.ConnectBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	deadLetter := platform.NewDeadLetter(cfg, pool, logger)
	defer deadLetter.Close()

	registry := replication.NewRegistry().HandleAll(replication.ReplicaHandlers(replica.NewPGStore(pool)))
	consumers, err := broker.Consumers(registry, deadLetter.Sink, logger, cfg.Prefetch)
	if err != nil {
		return err
	}

	finder := nearby.NewFinder(nearby.NewPGSource(pool))
	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		broker.ReadyCheck(),
	}
	checks = append(checks, deadLetter.Checks...)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return consumers.Run(ctx) })
	eg.Go(func() error { return broker.Supervise(ctx) })
	eg.Go(func() error {
		return platform.ServeOps(ctx, cfg, logger, platform.Ops{
			Admin:  admin.Routes{Dropped: deadLetter.Store},
			Checks: checks,
			Mount: func(mux *http.ServeMux) {
				mux.HandleFunc("GET /api/v1/users/{id}/nearby", nearby.Handler(finder, logger))
			},
		})
	})
	return eg.Wait()
}
