package repositorycache

import (
	"context"
)

type bypassContextKey struct{}

// WithCacheBypass marks ctx so that reads through a CachedRepository go straight
// to the base repository. Writes still maintain the indices.
func WithCacheBypass(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, bypassContextKey{}, true)
}

func bypassed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	skip, _ := ctx.Value(bypassContextKey{}).(bool)
	return skip
}
