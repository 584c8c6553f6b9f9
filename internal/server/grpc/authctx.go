package grpcserver

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type ctxKey string

const clientIDKey ctxKey = "kg.clientID"

// ClientIDHeader is the metadata key a client may use instead of the
// client_id request field.
const ClientIDHeader = "x-client-id"

// WithClientID stores the session client id in context.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// ClientIDFromCtx fetches the session client id from context.
func ClientIDFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey).(string)
	return id, ok && id != ""
}

// ClientIDUnary copies the x-client-id metadata value into the context.
func ClientIDUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			for _, v := range md.Get(ClientIDHeader) {
				if v = strings.TrimSpace(v); v != "" {
					ctx = WithClientID(ctx, v)
					break
				}
			}
		}
		return next(ctx, req)
	}
}
