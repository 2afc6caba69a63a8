package platform

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/admin"
	"github.com/md-rashed-zaman/pawlink/libs/grpcx"
	"github.com/md-rashed-zaman/pawlink/libs/httpx"
	"github.com/md-rashed-zaman/pawlink/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type Ops struct {
	Admin  admin.Routes
	Checks []runtime.ReadyCheck
	// Mount adds service-specific routes next to the probes.
	Mount func(mux *http.ServeMux)
}

// ServeOps runs the HTTP probe and admin server and the gRPC health service
// until ctx is done.
func ServeOps(ctx context.Context, cfg Config, logger *slog.Logger, ops Ops) error {
	mux := runtime.NewBaseMuxWithReady(ops.Checks...)
	ops.Admin.Logger = logger
	ops.Admin.Mount(mux)
	if ops.Mount != nil {
		ops.Mount(mux)
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(10*time.Second),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, cfg.Service),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcx.NewServer()
	health := grpcx.RegisterHealth(grpcSrv, cfg.Service, logger, ops.Checks...)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		logger.Info("http server stopped")
		return nil
	})
	eg.Go(func() error {
		return grpcx.Serve(ctx, grpcSrv, ":"+cfg.GRPCPort, logger)
	})
	eg.Go(func() error {
		health.Watch(ctx, cfg.HealthRefreshPeriod)
		return nil
	})
	return eg.Wait()
}
