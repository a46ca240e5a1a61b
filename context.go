package natsapi

import (
	"context"

	"github.com/google/uuid"
)

// requestIDKey is the task-local context slot holding the current request's
// JSON-RPC id (§5 "per-request id", §9 design note on context-variable
// equivalents). Each dispatcher task gets its own value; nothing is shared
// across goroutines.
type requestIDKey struct{}

func withRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the JSON-RPC id of the request currently being
// handled, for attribution in application logging. Returns the zero UUID if
// called outside a dispatcher task.
func RequestIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(requestIDKey{}).(uuid.UUID)
	return id
}
