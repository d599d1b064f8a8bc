package grpcserver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"tradebook/domain/fault"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "x-request-id"

// toStatus maps a fault kind to its gRPC code.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, fault.Validation):
		code = codes.InvalidArgument
	case errors.Is(err, fault.Unauthorized):
		code = codes.PermissionDenied
	case errors.Is(err, fault.Condition):
		code = codes.FailedPrecondition
	case errors.Is(err, fault.NotFound):
		code = codes.NotFound
	case errors.Is(err, fault.External):
		code = codes.Aborted
	}
	return status.Error(code, err.Error())
}

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDHeader); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return uuid.NewString()
}

// Logging tags every call with a request id and logs its outcome.
func Logging(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := requestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
		l := log.With().Str("request_id", id).Str("method", info.FullMethod).Logger()

		start := time.Now()
		resp, err := handler(l.WithContext(ctx), req)
		code := status.Code(err)

		ev := l.Debug()
		switch code {
		case codes.OK, codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied,
			codes.FailedPrecondition, codes.NotFound:
		default:
			ev = l.Error().Err(err)
		}
		ev.Dur("took", time.Since(start)).Stringer("code", code).Msg("rpc")
		return resp, err
	}
}
