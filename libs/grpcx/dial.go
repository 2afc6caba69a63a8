package grpcx

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// TransportCredentials defaults to insecure, which is what the probes and
	// in-cluster callers use.
	TransportCredentials grpc.DialOption
}

// Dial creates a traced client. The connection is lazy; the first call
// carries the caller's deadline.
func Dial(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	dialOpts := []grpc.DialOption{
		creds,
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
	}
	return grpc.NewClient(addr, append(dialOpts, extra...)...)
}
