package grpcserver

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/clinic-sync/internal/api"
)

// LoggingUnary logs one line per call. Failures the server caused are logged at error level.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, payloads carry patient data
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		switch r := req.(type) {
		case *api.PushRequest:
			fields = append(fields, zap.String("resource", string(r.Resource)), zap.Int("bytes", len(r.Records)))
		case *api.PullRequest:
			fields = append(fields, zap.String("resource", string(r.Resource)), zap.Int("limit", r.Limit))
		}

		switch code {
		case codes.Internal, codes.Unknown, codes.DataLoss:
			log.Error("grpc", fields...)
		default:
			log.Info("grpc", fields...)
		}
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = api.ErrorStatus(codes.Internal, "Internal error")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary attaches the caller's user ID when a bearer token is presented.
// Calls without a token pass through; handlers decide whether they need one.
func AuthUnary(a Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		tok, err := bearerTokenFromMD(ctx)
		if err != nil {
			return next(ctx, req)
		}
		id, err := a.UserID(tok)
		if err != nil {
			return nil, api.ErrorStatus(codes.Unauthenticated, "Invalid or expired access token")
		}
		return next(WithUserID(ctx, id), req)
	}
}
