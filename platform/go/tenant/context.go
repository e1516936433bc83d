package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the already-resolved caller identity handed over by the auth
// layer. The routing core never parses tokens or sessions; it only reads this.
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     string
}

type ctxKey string

const (
	identityKey     ctxKey = "TRADECORE_IDENTITY"
	routePathKey    ctxKey = "TRADECORE_ROUTE_PATH"
	controlPlaneKey ctxKey = "TRADECORE_FORCE_CONTROL_PLANE"
)

// WithIdentity returns a derived context carrying the caller identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the caller identity and a presence flag.
// Absent identity means an anonymous/public request.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityKey)
	if v == nil {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// WithRoutePath records the URL path being served, used by the resolver to
// recognize reserved administrative routes.
func WithRoutePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, routePathKey, path)
}

// RoutePathFromContext returns the recorded request path, if any.
func RoutePathFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(routePathKey).(string); ok {
		return v
	}
	return ""
}

// WithControlPlane marks the request as forced onto the control-plane
// database regardless of the caller's tenant.
func WithControlPlane(ctx context.Context) context.Context {
	return context.WithValue(ctx, controlPlaneKey, true)
}

// ForcesControlPlane reports whether the control-plane flag is set.
func ForcesControlPlane(ctx context.Context) bool {
	v, ok := ctx.Value(controlPlaneKey).(bool)
	return ok && v
}
