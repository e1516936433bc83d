package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tradecore-io/tradecore-saas/platform/go/tenant"
)

func TestWithIdentityStampsContext(t *testing.T) {
	t.Parallel()

	userID, tenantID := uuid.New(), uuid.New()
	mw := WithIdentity(func(r *http.Request) (tenant.Identity, bool) {
		return tenant.Identity{UserID: userID, TenantID: tenantID, Role: "admin"}, true
	})

	var seen tenant.Identity
	var seenPath string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = tenant.IdentityFromContext(r.Context())
		seenPath = tenant.RoutePathFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil))

	require.Equal(t, userID, seen.UserID)
	require.Equal(t, tenantID, seen.TenantID)
	require.Equal(t, "admin", seen.Role)
	require.Equal(t, "/api/v1/sales", seenPath)
}

func TestWithIdentityAnonymous(t *testing.T) {
	t.Parallel()

	mw := WithIdentity(func(r *http.Request) (tenant.Identity, bool) {
		return tenant.Identity{}, false
	})

	var authenticated bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, authenticated = tenant.IdentityFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	require.False(t, authenticated)
}

func TestForceControlPlane(t *testing.T) {
	t.Parallel()

	var forced bool
	handler := ForceControlPlane(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forced = tenant.ForcesControlPlane(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/v1/admin/tenants/x", nil))
	require.True(t, forced)
}
