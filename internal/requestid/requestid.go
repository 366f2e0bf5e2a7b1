// Package requestid carries a per-request correlation id through context.
// The API middleware mints one for every inbound request and echoes it in
// the X-Request-ID response header so a log line can be tied back to the
// call that produced it.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// WithRequestID attaches id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the id carried by ctx, minting a fresh one when the
// context has none. Callers always get a usable id.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New mints an id and returns it together with a context carrying it.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}
