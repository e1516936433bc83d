package middleware

import (
	"net/http"

	"github.com/tradecore-io/tradecore-saas/platform/go/tenant"
)

// IdentityFunc is supplied by the auth layer: it yields the already-resolved
// caller identity for a request, or false for anonymous calls. The routing
// core never inspects tokens or sessions itself.
type IdentityFunc func(r *http.Request) (tenant.Identity, bool)

// WithIdentity attaches the caller identity and the request path to the
// context so the resolver can route the request.
func WithIdentity(resolve IdentityFunc) func(http.Handler) http.Handler {
	if resolve == nil {
		panic("tenant middleware: identity func is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := tenant.WithRoutePath(r.Context(), r.URL.Path)
			if identity, ok := resolve(r); ok {
				ctx = tenant.WithIdentity(ctx, identity)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ForceControlPlane pins every request passing through it to the
// control-plane database. Applied to tenant-management, auth, health and
// docs route groups.
func ForceControlPlane(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(tenant.WithControlPlane(r.Context())))
	})
}
