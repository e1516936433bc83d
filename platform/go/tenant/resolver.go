package tenant

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
)

// DefaultReservedPrefixes are the route prefixes always served from the
// control-plane database: tenant administration, auth, health and docs.
var DefaultReservedPrefixes = []string{
	"/api/v1/admin/tenants",
	"/api/v1/auth",
	"/health",
	"/docs",
}

// CredentialSource is the subset of the credential store the resolver needs.
type CredentialSource interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*persistence.Credential, error)
}

// ConnProvider is the subset of the connection cache the resolver needs.
type ConnProvider interface {
	GetOrCreate(ctx context.Context, tenantID uuid.UUID, connString string) (*pgxpool.Pool, error)
}

// RoutingInfo exposes the routing decision for diagnostics, without
// credentials.
type RoutingInfo struct {
	TenantID          uuid.UUID
	UsingControlPlane bool
}

// ResolverConfig wires the resolver's collaborators.
type ResolverConfig struct {
	ControlPool      *pgxpool.Pool
	Credentials      CredentialSource
	Connections      ConnProvider
	Template         persistence.DSN // server-level DSN template for tenant databases
	ReservedPrefixes []string        // defaults to DefaultReservedPrefixes
	Logger           *zap.Logger
}

// Resolver decides, per request, whether to hand out the control-plane pool
// or the caller's tenant pool. The decision is re-derived on every call;
// nothing here is cached across requests.
type Resolver struct {
	control  *pgxpool.Pool
	creds    CredentialSource
	conns    ConnProvider
	template persistence.DSN
	reserved []string
	logger   *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.ControlPool == nil {
		panic("resolver requires control-plane pool")
	}
	if cfg.Credentials == nil {
		panic("resolver requires credential source")
	}
	if cfg.Connections == nil {
		panic("resolver requires connection provider")
	}
	if cfg.Logger == nil {
		panic("resolver requires logger")
	}
	reserved := cfg.ReservedPrefixes
	if len(reserved) == 0 {
		reserved = DefaultReservedPrefixes
	}
	return &Resolver{
		control:  cfg.ControlPool,
		creds:    cfg.Credentials,
		conns:    cfg.Connections,
		template: cfg.Template,
		reserved: reserved,
		logger:   cfg.Logger,
	}
}

// Conn returns the database pool appropriate for the current request. When
// the tenant database is selected but its credentials are missing or the
// connection cannot be built, the control-plane pool is returned instead so
// a request is never blocked on a degraded tenant database.
func (r *Resolver) Conn(ctx context.Context) *pgxpool.Pool {
	tenantID, useControl := r.decide(ctx)
	if useControl {
		return r.control
	}

	cred, err := r.creds.Get(ctx, tenantID)
	if err != nil || cred == nil {
		r.logger.Warn("tenant credentials unavailable, using control plane",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return r.control
	}

	dsn := r.template.ForDatabase(cred.DatabaseName, cred.Username, cred.Password)
	pool, err := r.conns.GetOrCreate(ctx, tenantID, dsn.String())
	if err != nil {
		r.logger.Warn("tenant database unreachable, using control plane",
			zap.String("tenant_id", tenantID.String()),
			zap.String("database", cred.DatabaseName),
			zap.Error(err),
		)
		return r.control
	}
	return pool
}

// Info reports the routing decision for the current request.
func (r *Resolver) Info(ctx context.Context) RoutingInfo {
	tenantID, useControl := r.decide(ctx)
	return RoutingInfo{TenantID: tenantID, UsingControlPlane: useControl}
}

// decide applies the priority rule: reserved path, explicit force flag, or
// anonymous caller all select the control plane; otherwise the caller's
// tenant database.
func (r *Resolver) decide(ctx context.Context) (uuid.UUID, bool) {
	identity, authenticated := IdentityFromContext(ctx)

	if path := RoutePathFromContext(ctx); path != "" {
		for _, prefix := range r.reserved {
			if strings.HasPrefix(path, prefix) {
				return identity.TenantID, true
			}
		}
	}
	if ForcesControlPlane(ctx) {
		return identity.TenantID, true
	}
	if !authenticated || identity.TenantID == uuid.Nil {
		return uuid.Nil, true
	}
	return identity.TenantID, false
}
