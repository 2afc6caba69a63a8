package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func NewServer(extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerRequestIDInterceptor()),
		grpc.ChainStreamInterceptor(StreamServerRequestIDInterceptor()),
	}
	return grpc.NewServer(append(opts, extra...)...)
}

// Health publishes readiness on the standard gRPC health service, both for the
// empty service name and for the named one.
type Health struct {
	srv     *health.Server
	service string
	checks  []runtime.ReadyCheck
	logger  *slog.Logger
}

func RegisterHealth(s *grpc.Server, service string, logger *slog.Logger, checks ...runtime.ReadyCheck) *Health {
	h := &Health{srv: health.NewServer(), service: service, checks: checks, logger: logger}
	healthpb.RegisterHealthServer(s, h.srv)
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Refresh runs the checks once and updates the serving status.
func (h *Health) Refresh(ctx context.Context) error {
	err := runtime.CheckAll(ctx, h.checks...)
	if err != nil {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Watch refreshes every interval until ctx is done, then reports NOT_SERVING.
func (h *Health) Watch(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := ""
	for {
		err := h.Refresh(ctx)
		if msg := errString(err); msg != last {
			if err != nil {
				h.logger.Warn("grpc health not serving", "err", err)
			} else {
				h.logger.Info("grpc health serving")
			}
			last = msg
		}
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	if h.service != "" {
		h.srv.SetServingStatus(h.service, status)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Serve listens on addr and stops gracefully when ctx is done.
func Serve(ctx context.Context, srv *grpc.Server, addr string, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	logger.Info("grpc server starting", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Probe asks a remote health service for service's status.
func Probe(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := Dial(addr, DialOptions{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
