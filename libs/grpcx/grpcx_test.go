package grpcx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/md-rashed-zaman/pawlink/libs/httpx"
	"github.com/md-rashed-zaman/pawlink/libs/runtime"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthFollowsReadyChecks(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := NewServer()
	broken := errors.New("amqp down")
	var failing error = broken
	h := RegisterHealth(srv, "social-service", slog.New(slog.NewTextHandler(io.Discard, nil)),
		runtime.ReadyCheck{Name: "amqp", Check: func(context.Context) error { return failing }},
	)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	ctx := context.Background()
	conn, err := Dial("passthrough:///bufnet", DialOptions{},
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.GetStatus()
	}

	if err := h.Refresh(ctx); err == nil {
		t.Fatal("expected failing refresh")
	}
	if got := check("social-service"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %s", got)
	}

	failing = nil
	if err := h.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	for _, svc := range []string{"", "social-service"} {
		if got := check(svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("%q status = %s", svc, got)
		}
	}
}

func TestServerInterceptorEchoesRequestID(t *testing.T) {
	interceptor := UnaryServerRequestIDInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-1"))

	var seen string
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen != "req-1" {
		t.Fatalf("request id = %q", seen)
	}
}

func TestServerInterceptorMintsMissingRequestID(t *testing.T) {
	interceptor := UnaryServerRequestIDInterceptor()
	var seen string
	_, _ = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if len(seen) != 36 {
		t.Fatalf("expected a minted uuid, got %q", seen)
	}
}
