package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/service"
	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
)

func controlPlanePool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tradecore"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() { persistence.ClosePool(pool) })

	require.NoError(t, persistence.BootstrapControlPlane(ctx, pool))
	require.NoError(t, persistence.NewCredentialStore(pool, nil).EnsureInitialized(ctx))
	return pool
}

func seedTenant(t *testing.T, ctx context.Context, r *PostgresRepository, email string) service.Tenant {
	t.Helper()
	now := time.Now().UTC()
	tn, err := r.Create(ctx, service.Tenant{
		ID:        uuid.New(),
		Name:      "Acme Traders",
		Email:     email,
		Status:    service.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	return tn
}

func TestPostgresRepositoryRegistry(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping repository integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := controlPlanePool(t, ctx)
	r := NewPostgresRepository(pool)

	tn := seedTenant(t, ctx, r, "owner@acme.example")

	got, err := r.Get(ctx, tn.ID)
	require.NoError(t, err)
	require.Equal(t, tn.Email, got.Email)
	require.Equal(t, service.StatusActive, got.Status)

	got, err = r.GetByEmail(ctx, "owner@acme.example")
	require.NoError(t, err)
	require.Equal(t, tn.ID, got.ID)

	_, err = r.Get(ctx, uuid.New())
	require.ErrorIs(t, err, service.ErrNotFound)

	// Unique email maps to ErrEmailTaken.
	_, err = r.Create(ctx, service.Tenant{
		ID:        uuid.New(),
		Name:      "Clone",
		Email:     "owner@acme.example",
		Status:    service.StatusActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, service.ErrEmailTaken)

	require.NoError(t, r.SetDatabaseName(ctx, tn.ID, "client_x_db"))
	got, err = r.Get(ctx, tn.ID)
	require.NoError(t, err)
	require.Equal(t, "client_x_db", got.DatabaseName)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestPostgresRepositoryCascade(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping repository integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := controlPlanePool(t, ctx)
	r := NewPostgresRepository(pool)

	victim := seedTenant(t, ctx, r, "victim@acme.example")
	bystander := seedTenant(t, ctx, r, "bystander@acme.example")

	// Populate every table the cascade touches for both tenants, so the
	// purge is exercised against the real foreign keys end to end.
	type seedIDs struct {
		user, store, sale, upload uuid.UUID
	}
	seedRows := func(clientID uuid.UUID) seedIDs {
		ids := seedIDs{user: uuid.New(), store: uuid.New(), sale: uuid.New(), upload: uuid.New()}
		productID := uuid.New()
		supplierID := uuid.New()
		for _, q := range []struct {
			sql  string
			args []any
		}{
			{`INSERT INTO users (id, client_id, name, email) VALUES ($1, $2, 'U', $3)`,
				[]any{ids.user, clientID, ids.user.String() + "@x.example"}},
			{`INSERT INTO stores (id, client_id, name) VALUES ($1, $2, 'S')`,
				[]any{ids.store, clientID}},
			{`INSERT INTO user_stores (user_id, store_id) VALUES ($1, $2)`,
				[]any{ids.user, ids.store}},
			{`INSERT INTO products (id, client_id, name) VALUES ($1, $2, 'P')`,
				[]any{productID, clientID}},
			{`INSERT INTO packs (id, client_id, product_id) VALUES ($1, $2, $3)`,
				[]any{uuid.New(), clientID, productID}},
			{`INSERT INTO customers (id, client_id, name) VALUES ($1, $2, 'C')`,
				[]any{uuid.New(), clientID}},
			{`INSERT INTO suppliers (id, client_id, name) VALUES ($1, $2, 'V')`,
				[]any{supplierID, clientID}},
			{`INSERT INTO sales (id, client_id, store_id, user_id, total) VALUES ($1, $2, $3, $4, 100)`,
				[]any{ids.sale, clientID, ids.store, ids.user}},
			{`INSERT INTO sale_adjustments (id, sale_id, amount) VALUES ($1, $2, -5)`,
				[]any{uuid.New(), ids.sale}},
			{`INSERT INTO sale_returns (id, sale_id, amount) VALUES ($1, $2, 20)`,
				[]any{uuid.New(), ids.sale}},
			{`INSERT INTO purchase_orders (id, client_id, supplier_id, total) VALUES ($1, $2, $3, 50)`,
				[]any{uuid.New(), clientID, supplierID}},
			{`INSERT INTO expenses (id, client_id, amount) VALUES ($1, $2, 9)`,
				[]any{uuid.New(), clientID}},
			{`INSERT INTO order_processing (id, client_id, sale_id) VALUES ($1, $2, $3)`,
				[]any{uuid.New(), clientID, ids.sale}},
			{`INSERT INTO store_settings (id, store_id, key) VALUES ($1, $2, 'tz')`,
				[]any{uuid.New(), ids.store}},
			{`INSERT INTO audit_logs (id, user_id, action) VALUES ($1, $2, 'login')`,
				[]any{uuid.New(), ids.user}},
			{`INSERT INTO notifications (id, user_id, message) VALUES ($1, $2, 'hi')`,
				[]any{uuid.New(), ids.user}},
			{`INSERT INTO api_tokens (id, user_id, token_hash) VALUES ($1, $2, 'h')`,
				[]any{uuid.New(), ids.user}},
			{`INSERT INTO invite_links (id, created_by, email) VALUES ($1, $2, 'i@x.example')`,
				[]any{uuid.New(), ids.user}},
			{`INSERT INTO password_reset_tokens (id, user_id, token_hash) VALUES ($1, $2, 'r')`,
				[]any{uuid.New(), ids.user}},
			{`INSERT INTO permission_grants (id, user_id, granted_by, permission) VALUES ($1, $2, $2, 'sales.read')`,
				[]any{uuid.New(), ids.user}},
			{`INSERT INTO role_templates (id, created_by, name) VALUES ($1, $2, 'cashier')`,
				[]any{uuid.New(), ids.user}},
			{`INSERT INTO role_assignments (id, user_id, assigned_by, role) VALUES ($1, $2, $2, 'cashier')`,
				[]any{uuid.New(), ids.user}},
			{`INSERT INTO reports (id, client_id, name) VALUES ($1, $2, 'monthly')`,
				[]any{uuid.New(), clientID}},
			{`INSERT INTO file_uploads (id, client_id, user_id, filename) VALUES ($1, $2, $3, 'f.csv')`,
				[]any{ids.upload, clientID, ids.user}},
			{`INSERT INTO file_upload_errors (id, upload_id, message) VALUES ($1, $2, 'bad row')`,
				[]any{uuid.New(), ids.upload}},
			{`INSERT INTO business_records (id, client_id, kind) VALUES ($1, $2, 'license')`,
				[]any{uuid.New(), clientID}},
		} {
			_, err := pool.Exec(ctx, q.sql, q.args...)
			require.NoError(t, err)
		}
		creds := persistence.NewCredentialStore(pool, nil)
		require.NoError(t, creds.Save(ctx, persistence.Credential{
			TenantID:     clientID,
			DatabaseName: "client_x_db",
			Username:     "user_x",
			Password:     "pw",
		}))
		return ids
	}

	victimIDs := seedRows(victim.ID)
	bystanderIDs := seedRows(bystander.ID)

	counts, err := r.Counts(ctx, victim.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Users)
	require.Equal(t, 1, counts.Stores)
	require.Equal(t, 1, counts.Products)
	require.Equal(t, 1, counts.Sales)
	require.Equal(t, 4, counts.Total())

	require.NoError(t, r.DeleteCascade(ctx, victim.ID))

	_, err = r.Get(ctx, victim.ID)
	require.ErrorIs(t, err, service.ErrNotFound)

	// Every dependent row of the victim is gone, table by table.
	victimScopes := []struct {
		table, column string
		id            uuid.UUID
	}{
		{"users", "client_id", victim.ID},
		{"stores", "client_id", victim.ID},
		{"products", "client_id", victim.ID},
		{"packs", "client_id", victim.ID},
		{"customers", "client_id", victim.ID},
		{"suppliers", "client_id", victim.ID},
		{"sales", "client_id", victim.ID},
		{"purchase_orders", "client_id", victim.ID},
		{"expenses", "client_id", victim.ID},
		{"order_processing", "client_id", victim.ID},
		{"reports", "client_id", victim.ID},
		{"file_uploads", "client_id", victim.ID},
		{"business_records", "client_id", victim.ID},
		{"tenant_credentials", "tenant_id", victim.ID},
		{"user_stores", "user_id", victimIDs.user},
		{"audit_logs", "user_id", victimIDs.user},
		{"notifications", "user_id", victimIDs.user},
		{"api_tokens", "user_id", victimIDs.user},
		{"password_reset_tokens", "user_id", victimIDs.user},
		{"permission_grants", "user_id", victimIDs.user},
		{"role_assignments", "user_id", victimIDs.user},
		{"invite_links", "created_by", victimIDs.user},
		{"role_templates", "created_by", victimIDs.user},
		{"sale_adjustments", "sale_id", victimIDs.sale},
		{"sale_returns", "sale_id", victimIDs.sale},
		{"store_settings", "store_id", victimIDs.store},
		{"file_upload_errors", "upload_id", victimIDs.upload},
	}
	for _, s := range victimScopes {
		var n int
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM `+s.table+` WHERE `+s.column+` = $1`, s.id).Scan(&n))
		require.Zero(t, n, "%s rows must be purged", s.table)
	}

	// The bystander tenant is untouched.
	_, err = r.Get(ctx, bystander.ID)
	require.NoError(t, err)
	counts, err = r.Counts(ctx, bystander.ID)
	require.NoError(t, err)
	require.Equal(t, 4, counts.Total())
	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE user_id = $1`, bystanderIDs.user).Scan(&n))
	require.Equal(t, 1, n)
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM order_processing WHERE sale_id = $1`, bystanderIDs.sale).Scan(&n))
	require.Equal(t, 1, n)

	// Deleting an already-gone tenant is a no-op.
	require.NoError(t, r.DeleteCascade(ctx, victim.ID))
}

func TestPostgresRepositoryStatusCascade(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping repository integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := controlPlanePool(t, ctx)
	r := NewPostgresRepository(pool)

	tn := seedTenant(t, ctx, r, "owner@acme.example")
	for i := 0; i < 3; i++ {
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, client_id, name, email) VALUES ($1, $2, 'U', $3)`,
			uuid.New(), tn.ID, uuid.NewString()+"@x.example")
		require.NoError(t, err)
	}

	touched, err := r.UpdateStatusCascade(ctx, tn.ID, service.StatusSuspended)
	require.NoError(t, err)
	require.EqualValues(t, 3, touched)

	got, err := r.Get(ctx, tn.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusSuspended, got.Status)

	var suspended int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE client_id = $1 AND status = 'suspended'`, tn.ID).Scan(&suspended))
	require.Equal(t, 3, suspended)

	_, err = r.UpdateStatusCascade(ctx, uuid.New(), service.StatusActive)
	require.ErrorIs(t, err, service.ErrNotFound)
}
