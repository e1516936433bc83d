package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/service"
	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
)

const tenantColumns = "id, name, email, phone, database_name, status, created_at, updated_at"

// PostgresRepository implements the tenant registry over the control-plane
// pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a repository backed by the control plane.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("tenant repository requires pool")
	}
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	query := fmt.Sprintf(`
        INSERT INTO clients (%s)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING %s`, tenantColumns, tenantColumns)

	row := r.pool.QueryRow(ctx, query,
		t.ID, t.Name, t.Email, nullable(t.Phone), nullable(t.DatabaseName),
		string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	out, err := scanTenant(row)
	if err != nil {
		return service.Tenant{}, mapConflict(err)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	query := fmt.Sprintf("SELECT %s FROM clients WHERE id = $1", tenantColumns)
	return scanTenant(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (service.Tenant, error) {
	query := fmt.Sprintf("SELECT %s FROM clients WHERE email = $1", tenantColumns)
	return scanTenant(r.pool.QueryRow(ctx, query, strings.ToLower(email)))
}

func (r *PostgresRepository) List(ctx context.Context) ([]service.Tenant, error) {
	query := fmt.Sprintf("SELECT %s FROM clients ORDER BY created_at DESC", tenantColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []service.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *PostgresRepository) SetDatabaseName(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE clients SET database_name = $2, updated_at = now() WHERE id = $1", id, name)
	if err != nil {
		return fmt.Errorf("set database name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

// UpdateStatusCascade flips the tenant row and every one of its users to the
// given status in one transaction.
func (r *PostgresRepository) UpdateStatusCascade(ctx context.Context, id uuid.UUID, status service.Status) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tag, err := tx.Exec(ctx,
		"UPDATE clients SET status = $2, updated_at = now() WHERE id = $1", id, string(status))
	if err != nil {
		return 0, fmt.Errorf("update tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, service.ErrNotFound
	}

	userTag, err := tx.Exec(ctx,
		"UPDATE users SET status = $2, updated_at = now() WHERE client_id = $1", id, string(status))
	if err != nil {
		return 0, fmt.Errorf("cascade status to users: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit status cascade: %w", err)
	}
	return userTag.RowsAffected(), nil
}

// DeleteCascade purges every control-plane row referencing the tenant inside
// one transaction, leaf tables first.
func (r *PostgresRepository) DeleteCascade(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := persistence.DeleteTenantRows(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) Counts(ctx context.Context, id uuid.UUID) (persistence.TenantCounts, error) {
	return persistence.CountTenantRows(ctx, r.pool, id)
}

func scanTenant(row pgx.Row) (service.Tenant, error) {
	var t service.Tenant
	var phone, dbName *string
	var status string
	if err := row.Scan(&t.ID, &t.Name, &t.Email, &phone, &dbName, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return service.Tenant{}, service.ErrNotFound
		}
		return service.Tenant{}, err
	}
	if phone != nil {
		t.Phone = *phone
	}
	if dbName != nil {
		t.DatabaseName = *dbName
	}
	t.Status = service.Status(status)
	return t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "email") {
		return service.ErrEmailTaken
	}
	return err
}

var _ service.Repository = (*PostgresRepository)(nil)
