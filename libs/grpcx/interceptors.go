package grpcx

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/pawlink/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey carries the request id in gRPC metadata. Metadata keys
// are lowercase.
const RequestIDMetadataKey = "x-request-id"

// UnaryClientRequestIDInterceptor forwards the request id of ctx, if any.
func UnaryClientRequestIDInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if id := httpx.RequestIDFromContext(ctx); id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerRequestIDInterceptor takes the request id from incoming metadata
// or mints one, stores it where httpx.RequestIDFromContext finds it and echoes
// it in the response header.
func UnaryServerRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, id := incomingRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))
		return handler(ctx, req)
	}
}

// StreamServerRequestIDInterceptor does the same for streams such as
// Health/Watch.
func StreamServerRequestIDInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, id := incomingRequestID(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(RequestIDMetadataKey, id))
		return handler(srv, &requestIDStream{ServerStream: ss, ctx: ctx})
	}
}

func incomingRequestID(ctx context.Context) (context.Context, string) {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 && len(vals[0]) <= 128 {
			id = vals[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return httpx.ContextWithRequestID(ctx, id), id
}

type requestIDStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *requestIDStream) Context() context.Context { return s.ctx }
