package provisioning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/service"
	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
	"github.com/tradecore-io/tradecore-saas/platform/go/secrets"
	"github.com/tradecore-io/tradecore-saas/platform/go/tenant"
)

// DBProvisioner realizes tenants as isolated physical databases: database and
// role creation, privilege grants, schema application, mirror record seeding
// and teardown.
type DBProvisioner struct {
	control *pgxpool.Pool
	creds   *persistence.CredentialStore
	cache   *persistence.ConnCache
	admin   persistence.DSN // server-level template carrying admin credentials
	applier SchemaApplier
	logger  *zap.Logger
}

// Config wires the provisioner.
type Config struct {
	ControlPool *pgxpool.Pool
	Credentials *persistence.CredentialStore
	Connections *persistence.ConnCache
	AdminDSN    persistence.DSN
	Applier     SchemaApplier
	Logger      *zap.Logger
}

// NewDBProvisioner constructs a DBProvisioner.
func NewDBProvisioner(cfg Config) *DBProvisioner {
	if cfg.ControlPool == nil {
		panic("db provisioner requires control pool")
	}
	if cfg.Credentials == nil {
		panic("db provisioner requires credential store")
	}
	if cfg.Connections == nil {
		panic("db provisioner requires connection cache")
	}
	if cfg.Applier == nil {
		panic("db provisioner requires schema applier")
	}
	if cfg.Logger == nil {
		panic("db provisioner requires logger")
	}
	return &DBProvisioner{
		control: cfg.ControlPool,
		creds:   cfg.Credentials,
		cache:   cfg.Connections,
		admin:   cfg.AdminDSN,
		applier: cfg.Applier,
		logger:  cfg.Logger,
	}
}

// CreateTenantDatabase creates the tenant's database, login role and grants,
// stores credentials, applies the application schema and writes mirror
// records. Failures before schema application tear down whatever was created;
// schema and seed failures are logged and left recoverable via ApplySchema.
func (p *DBProvisioner) CreateTenantDatabase(ctx context.Context, tenantID uuid.UUID, client *service.ClientSeed, user *service.UserSeed) (string, error) {
	if tenantID == uuid.Nil {
		return "", fmt.Errorf("tenant id is required")
	}
	dbName := tenant.DatabaseName(tenantID)
	roleName := tenant.RoleName(tenantID)

	password, err := secrets.RandomPassword()
	if err != nil {
		return "", err
	}

	if err := p.createDatabaseAndRole(ctx, dbName, roleName, password); err != nil {
		p.rollback(ctx, tenantID, dbName, roleName)
		return "", err
	}

	if err := p.grantSchemaPrivileges(ctx, dbName, roleName); err != nil {
		p.rollback(ctx, tenantID, dbName, roleName)
		return "", err
	}

	if err := p.creds.Save(ctx, persistence.Credential{
		TenantID:     tenantID,
		DatabaseName: dbName,
		Username:     roleName,
		Password:     password,
	}); err != nil {
		p.rollback(ctx, tenantID, dbName, roleName)
		return "", err
	}

	adminDSN := p.admin.ForDatabase(dbName, p.admin.User, p.admin.Password)
	if err := p.applier.Apply(ctx, adminDSN.String()); err != nil {
		// Recoverable: the tenant exists with credentials; schema can be
		// reapplied via ApplySchema.
		p.logger.Error("schema application failed for new tenant",
			zap.String("tenant_id", tenantID.String()),
			zap.String("database", dbName),
			zap.Error(err),
		)
	}

	if client != nil {
		if err := p.EnsureClientRecord(ctx, tenantID, *client); err != nil {
			p.logger.Warn("client seed failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}
	if user != nil {
		if err := p.EnsureUserRecord(ctx, tenantID, *user); err != nil {
			p.logger.Warn("user seed failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}

	p.logger.Info("tenant database provisioned",
		zap.String("tenant_id", tenantID.String()),
		zap.String("database", dbName),
		zap.String("role", roleName),
	)
	return dbName, nil
}

func (p *DBProvisioner) createDatabaseAndRole(ctx context.Context, dbName, roleName, password string) error {
	// CREATE DATABASE cannot run inside a transaction, so the whole stage is
	// check-then-create on the admin connection.
	var dbExists bool
	if err := p.control.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&dbExists); err != nil {
		return fmt.Errorf("check database existence: %w", err)
	}
	if !dbExists {
		if _, err := p.control.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{dbName}.Sanitize())); err != nil {
			return fmt.Errorf("create database: %w", err)
		}
	}

	var roleExists bool
	if err := p.control.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", roleName).Scan(&roleExists); err != nil {
		return fmt.Errorf("check role existence: %w", err)
	}
	// Password charset is base64url; escaping is belt-and-braces.
	quoted := "'" + strings.ReplaceAll(password, "'", "''") + "'"
	if roleExists {
		if _, err := p.control.Exec(ctx, fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD %s", pgx.Identifier{roleName}.Sanitize(), quoted)); err != nil {
			return fmt.Errorf("rotate role password: %w", err)
		}
	} else {
		if _, err := p.control.Exec(ctx, fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s", pgx.Identifier{roleName}.Sanitize(), quoted)); err != nil {
			return fmt.Errorf("create role: %w", err)
		}
	}

	if _, err := p.control.Exec(ctx, fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s",
		pgx.Identifier{dbName}.Sanitize(), pgx.Identifier{roleName}.Sanitize())); err != nil {
		return fmt.Errorf("grant database privileges: %w", err)
	}
	return nil
}

// grantSchemaPrivileges connects to the new database as admin to grant
// schema-level privileges. Grants on per-database objects must be issued
// while connected to that database.
func (p *DBProvisioner) grantSchemaPrivileges(ctx context.Context, dbName, roleName string) error {
	conn, err := pgx.Connect(ctx, p.admin.ForDatabase(dbName, p.admin.User, p.admin.Password).String())
	if err != nil {
		return fmt.Errorf("connect to new tenant database: %w", err)
	}
	defer conn.Close(ctx) // nolint:errcheck

	role := pgx.Identifier{roleName}.Sanitize()
	grants := []string{
		fmt.Sprintf("GRANT USAGE, CREATE ON SCHEMA public TO %s", role),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA public TO %s", role),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA public TO %s", role),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON ALL FUNCTIONS IN SCHEMA public TO %s", role),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON TABLES TO %s", role),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON SEQUENCES TO %s", role),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON FUNCTIONS TO %s", role),
	}
	for _, grant := range grants {
		if _, err := conn.Exec(ctx, grant); err != nil {
			return fmt.Errorf("schema grant %q: %w", grant, err)
		}
	}
	return nil
}

// rollback is the best-effort cleanup after a failed provisioning stage.
// Its own failures are logged, never swallowed into a success.
func (p *DBProvisioner) rollback(ctx context.Context, tenantID uuid.UUID, dbName, roleName string) {
	if err := p.DeleteTenantDatabase(ctx, tenantID); err != nil {
		p.logger.Error("provisioning rollback incomplete",
			zap.String("tenant_id", tenantID.String()),
			zap.String("database", dbName),
			zap.String("role", roleName),
			zap.Error(err),
		)
	}
}

// DeleteTenantDatabase tears the tenant's physical artifacts down: cached
// pool, server-side connections, database, role and credential row. Safe to
// call when some or all artifacts are already gone.
func (p *DBProvisioner) DeleteTenantDatabase(ctx context.Context, tenantID uuid.UUID) error {
	dbName := tenant.DatabaseName(tenantID)
	roleName := tenant.RoleName(tenantID)

	p.cache.Evict(tenantID)

	if _, err := p.control.Exec(ctx,
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()",
		dbName); err != nil {
		return fmt.Errorf("terminate tenant connections: %w", err)
	}

	if _, err := p.control.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", pgx.Identifier{dbName}.Sanitize())); err != nil {
		return fmt.Errorf("drop database: %w", err)
	}
	if _, err := p.control.Exec(ctx, fmt.Sprintf("DROP ROLE IF EXISTS %s", pgx.Identifier{roleName}.Sanitize())); err != nil {
		return fmt.Errorf("drop role: %w", err)
	}
	if err := p.creds.Remove(ctx, tenantID); err != nil {
		return err
	}

	p.logger.Info("tenant database dropped",
		zap.String("tenant_id", tenantID.String()),
		zap.String("database", dbName),
	)
	return nil
}

// ApplySchema re-runs schema application against an existing tenant database.
func (p *DBProvisioner) ApplySchema(ctx context.Context, tenantID uuid.UUID) error {
	dbName := tenant.DatabaseName(tenantID)
	adminDSN := p.admin.ForDatabase(dbName, p.admin.User, p.admin.Password)
	if err := p.applier.Apply(ctx, adminDSN.String()); err != nil {
		return fmt.Errorf("apply schema to %s: %w", dbName, err)
	}
	return nil
}

// CheckDatabaseStatus reports database size and active connection count.
// Connectivity failures become a status value, never an error.
func (p *DBProvisioner) CheckDatabaseStatus(ctx context.Context, tenantID uuid.UUID) service.StatusReport {
	report := service.StatusReport{
		Status:       "error",
		DatabaseName: tenant.DatabaseName(tenantID),
	}

	pool, err := p.tenantPool(ctx, tenantID)
	if err != nil {
		report.Detail = err.Error()
		return report
	}

	query := `
        SELECT pg_size_pretty(pg_database_size(current_database())),
               (SELECT COUNT(*) FROM pg_stat_activity WHERE datname = current_database())`
	if err := pool.QueryRow(ctx, query).Scan(&report.DatabaseSize, &report.ConnectionCount); err != nil {
		report.Detail = err.Error()
		return report
	}

	report.Status = "connected"
	return report
}

// VerifySchema counts base tables in the tenant database's public schema.
func (p *DBProvisioner) VerifySchema(ctx context.Context, tenantID uuid.UUID) (service.SchemaReport, error) {
	pool, err := p.tenantPool(ctx, tenantID)
	if err != nil {
		return service.SchemaReport{}, err
	}

	rows, err := pool.Query(ctx, `
        SELECT table_name FROM information_schema.tables
        WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
        ORDER BY table_name`)
	if err != nil {
		return service.SchemaReport{}, fmt.Errorf("list tenant tables: %w", err)
	}
	defer rows.Close()

	var report service.SchemaReport
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return service.SchemaReport{}, err
		}
		report.Tables = append(report.Tables, name)
	}
	if err := rows.Err(); err != nil {
		return service.SchemaReport{}, err
	}

	report.TableCount = len(report.Tables)
	report.HasSchema = report.TableCount > 0
	return report, nil
}

// TestPermissions probes the tenant role's capabilities with throwaway
// objects. Probe failures are reported, not propagated.
func (p *DBProvisioner) TestPermissions(ctx context.Context, tenantID uuid.UUID) (service.PermissionReport, error) {
	pool, err := p.tenantPool(ctx, tenantID)
	if err != nil {
		return service.PermissionReport{}, err
	}

	var report service.PermissionReport
	suffix := strings.ReplaceAll(uuid.New().String()[:8], "-", "")

	probeTable := pgx.Identifier{"__probe_tbl_" + suffix}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (id INT)", probeTable)); err == nil {
		report.CanCreateTables = true
		_, _ = pool.Exec(ctx, fmt.Sprintf("DROP TABLE %s", probeTable))
	}

	probeEnum := pgx.Identifier{"__probe_enum_" + suffix}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE TYPE %s AS ENUM ('ok')", probeEnum)); err == nil {
		report.CanCreateEnums = true
		_, _ = pool.Exec(ctx, fmt.Sprintf("DROP TYPE %s", probeEnum))
	}

	for _, priv := range []string{"CREATE", "USAGE"} {
		var has bool
		if err := pool.QueryRow(ctx,
			"SELECT has_schema_privilege(current_user, 'public', $1)", priv).Scan(&has); err == nil && has {
			report.SchemaPrivileges = append(report.SchemaPrivileges, priv)
		}
	}
	return report, nil
}

// EnsureClientRecord writes the tenant's mirror "self" client record if it is
// missing. Skips silently when the clients table does not exist yet (schema
// application may have only partially succeeded).
func (p *DBProvisioner) EnsureClientRecord(ctx context.Context, tenantID uuid.UUID, client service.ClientSeed) error {
	if err := client.Validate(); err != nil {
		return err
	}
	pool, err := p.tenantPool(ctx, tenantID)
	if err != nil {
		return err
	}

	exists, err := tableExists(ctx, pool, "clients")
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	_, err = pool.Exec(ctx, `
        INSERT INTO clients (id, name, email, phone)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            email = EXCLUDED.email,
            phone = EXCLUDED.phone,
            updated_at = now()`,
		client.ID, client.Name, client.Email, nullableStr(client.Phone))
	if err != nil {
		return fmt.Errorf("seed client record: %w", err)
	}
	return nil
}

// EnsureUserRecord writes the mirror user record if it is missing, with the
// same silent skip when the users table is absent.
func (p *DBProvisioner) EnsureUserRecord(ctx context.Context, tenantID uuid.UUID, user service.UserSeed) error {
	if err := user.Validate(); err != nil {
		return err
	}
	pool, err := p.tenantPool(ctx, tenantID)
	if err != nil {
		return err
	}

	exists, err := tableExists(ctx, pool, "users")
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	role := user.Role
	if role == "" {
		role = "owner"
	}
	_, err = pool.Exec(ctx, `
        INSERT INTO users (id, client_id, name, email, role)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            email = EXCLUDED.email,
            role = EXCLUDED.role,
            updated_at = now()`,
		user.ID, tenantID, user.Name, user.Email, role)
	if err != nil {
		return fmt.Errorf("seed user record: %w", err)
	}
	return nil
}

// tenantPool returns this tenant's pooled connection using stored
// credentials.
func (p *DBProvisioner) tenantPool(ctx context.Context, tenantID uuid.UUID) (*pgxpool.Pool, error) {
	cred, err := p.creds.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("no stored credentials for tenant %s", tenantID)
	}
	dsn := p.admin.ForDatabase(cred.DatabaseName, cred.Username, cred.Password)
	return p.cache.GetOrCreate(ctx, tenantID, dsn.String())
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, name string) (bool, error) {
	var regclass *string
	if err := pool.QueryRow(ctx, "SELECT to_regclass($1)::text", "public."+name).Scan(&regclass); err != nil {
		return false, fmt.Errorf("check %s table: %w", name, err)
	}
	return regclass != nil, nil
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ service.Provisioner = (*DBProvisioner)(nil)
