package tenant

import (
	"context"
)

// Space is the tenant a public request was resolved to from its Host header.
// An empty TenantID means the host did not map to any tenant.
type Space struct {
	TenantID string
	Domain   string
}

type ctxKey string

const spaceKey ctxKey = "BIZDESK_TENANT_SPACE"

// WithSpace returns a derived context carrying the tenant Space.
func WithSpace(ctx context.Context, space Space) context.Context {
	return context.WithValue(ctx, spaceKey, space)
}

// FromContext extracts the tenant Space and a boolean indicating presence.
func FromContext(ctx context.Context) (Space, bool) {
	v := ctx.Value(spaceKey)
	if v == nil {
		return Space{}, false
	}

	space, ok := v.(Space)
	return space, ok
}

// TenantIDFromContext returns the resolved tenant id, or "" when the request has none.
func TenantIDFromContext(ctx context.Context) string {
	space, _ := FromContext(ctx)
	return space.TenantID
}
