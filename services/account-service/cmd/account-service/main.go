package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/admin"
	"github.com/md-rashed-zaman/pawlink/libs/db"
	otelx "github.com/md-rashed-zaman/pawlink/libs/otel"
	"github.com/md-rashed-zaman/pawlink/libs/platform"
	"github.com/md-rashed-zaman/pawlink/libs/runtime"
	"github.com/md-rashed-zaman/pawlink/services/account-service/internal/accounts"
	"github.com/md-rashed-zaman/pawlink/services/account-service/internal/storage"
	"golang.org/x/sync/errgroup"
)

// account-service only publishes. Its topology has no subscriptions, so the
// broker is optional at runtime: while it is down registrations and
// deletions land in the outbox and the replayer sends them once Supervise
// has reconnected.
func main() {
	cfg, err := platform.ConfigFromEnv("account-service", "account", "8081", "9091")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	if err := run(cfg, logger); err != nil {
		logger.Error("account-service stopped", "err", err)
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

	ob := platform.NewOutbox(cfg, pool, broker.Sender, logger)
	handler := accounts.NewHandler(accounts.NewService(storage.NewUserRepository(pool, ob.Repo), ob.Publisher), logger)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		ob.Replayer.Run(ctx)
		return nil
	})
	eg.Go(func() error { return broker.Supervise(ctx) })
	eg.Go(func() error {
		return platform.ServeOps(ctx, cfg, logger, platform.Ops{
			Admin:  admin.Routes{Outbox: ob.Repo},
			Checks: checks,
			Mount:  handler.Mount,
		})
	})
	return eg.Wait()
}
