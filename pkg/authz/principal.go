package authz

import "context"

// Principal is the caller identity resolved by the transport layer.
type Principal struct {
	ID       string
	RoleSlug string
}

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func CurrentPrincipal(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey{})
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// RoleFromContext returns the caller's role slug, anonymous when no principal
// is attached.
func RoleFromContext(ctx context.Context) string {
	if p, ok := CurrentPrincipal(ctx); ok && p.RoleSlug != "" {
		return p.RoleSlug
	}
	return RoleAnonymous
}
