package handler

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/logger"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/middleware"
)

// Metadata keys read from inbound calls. gRPC lower-cases header names.
const (
	metadataActor     = "x-actor"
	metadataRequestID = "x-request-id"
)

// UnaryServerInterceptor copies the caller identity from metadata into the
// context, logs the call and turns panics into codes.Internal.
func UnaryServerInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if actor := firstValue(md, metadataActor); actor != "" {
				ctx = middleware.WithActor(ctx, actor)
			}
			requestID = firstValue(md, metadataRequestID)
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("request_id", requestID).
					Str("method", info.FullMethod).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				err = status.Error(codes.Internal, "internal error")
			}

			code := status.Code(err)
			evt := log.Info()
			if code == codes.Internal || code == codes.Unavailable {
				evt = log.Error().Err(err)
			}
			evt.
				Str("request_id", requestID).
				Str("method", info.FullMethod).
				Str("code", code.String()).
				Str("actor", actorFromContext(ctx)).
				Dur("duration", time.Since(start)).
				Msg("grpc request")
		}()

		return handler(ctx, req)
	}
}

func firstValue(md metadata.MD, key string) string {
	for _, v := range md.Get(key) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func actorFromContext(ctx context.Context) string {
	actor, _ := middleware.ActorFrom(ctx)
	return actor
}
