// Package requestid propagates per-command correlation IDs through context.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithRequestID stores the given ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ID carried by the context, generating a fresh one
// when none is present.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New mints an ID and returns the enriched context alongside it.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Logger returns a child logger stamped with the context's request ID.
func Logger(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	return l.With().Str("request_id", FromContext(ctx)).Logger()
}
