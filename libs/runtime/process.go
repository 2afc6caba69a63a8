package runtime

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Shutdown runs fn with a fresh deadline, for cleanups that must outlive the
// signal context. Meant to be deferred.
func Shutdown(logger *slog.Logger, name string, timeout time.Duration, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown step failed", "step", name, "err", err)
	}
}
