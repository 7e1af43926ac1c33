package classifier

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// WithRequestID attaches an externally assigned request id to ctx so logs and
// errors carry the caller's id instead of a fresh one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id attached by WithRequestID.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := RequestID(ctx); ok {
		return id
	}
	return uuid.NewString()
}
