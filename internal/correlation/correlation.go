// Package correlation carries request correlation ids through contexts.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// FromContext returns the correlation id stored in ctx, or "".
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// WithID returns a copy of ctx carrying id. An empty id leaves ctx unchanged.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// NewID generates a new correlation id (UUID v4).
func NewID() string {
	return uuid.New().String()
}
