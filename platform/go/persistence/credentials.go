package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore-io/tradecore-saas/platform/go/secrets"
)

// CredentialsTable is the control-plane table holding per-tenant database
// credentials.
const CredentialsTable = "tenant_credentials"

// Credential is the stored connection material for one tenant database.
// Password is held decrypted in memory only; at rest it is sealed by the
// store's cipher.
type Credential struct {
	TenantID     uuid.UUID
	DatabaseName string
	Username     string
	Password     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CredentialStore persists tenant database credentials in the control plane.
type CredentialStore struct {
	pool   *pgxpool.Pool
	cipher *secrets.Cipher
}

// NewCredentialStore builds a store over the control-plane pool. A nil cipher
// stores passwords in plaintext; production wiring always supplies one.
func NewCredentialStore(pool *pgxpool.Pool, cipher *secrets.Cipher) *CredentialStore {
	if pool == nil {
		panic("credential store requires pool")
	}
	return &CredentialStore{pool: pool, cipher: cipher}
}

// EnsureInitialized creates the credentials table if it does not exist.
// Safe to call repeatedly and concurrently; the benign race where two callers
// both attempt creation is tolerated.
func (s *CredentialStore) EnsureInitialized(ctx context.Context) error {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            tenant_id UUID PRIMARY KEY,
            database_name TEXT NOT NULL,
            username TEXT NOT NULL,
            password TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`, CredentialsTable)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		// Concurrent CREATE TABLE IF NOT EXISTS can still surface a duplicate
		// object error from the catalog; the table exists either way.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "42P07") {
			return nil
		}
		return fmt.Errorf("ensure %s: %w", CredentialsTable, err)
	}
	return nil
}

// Save upserts the credential row for a tenant.
func (s *CredentialStore) Save(ctx context.Context, cred Credential) error {
	if cred.TenantID == uuid.Nil {
		return errors.New("tenant id is required")
	}
	if cred.DatabaseName == "" || cred.Username == "" || cred.Password == "" {
		return errors.New("database name, username and password are required")
	}

	stored := cred.Password
	if s.cipher != nil {
		sealed, err := s.cipher.Encrypt(cred.Password)
		if err != nil {
			return fmt.Errorf("seal credential: %w", err)
		}
		stored = sealed
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (tenant_id, database_name, username, password)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (tenant_id) DO UPDATE SET
            database_name = EXCLUDED.database_name,
            username = EXCLUDED.username,
            password = EXCLUDED.password,
            updated_at = now()`, CredentialsTable)

	if _, err := s.pool.Exec(ctx, query, cred.TenantID, cred.DatabaseName, cred.Username, stored); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Get returns the credential for a tenant, or nil when absent. Absence is not
// an error; callers decide the fallback.
func (s *CredentialStore) Get(ctx context.Context, tenantID uuid.UUID) (*Credential, error) {
	query := fmt.Sprintf(`
        SELECT tenant_id, database_name, username, password, created_at, updated_at
        FROM %s WHERE tenant_id = $1`, CredentialsTable)

	var cred Credential
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&cred.TenantID, &cred.DatabaseName, &cred.Username, &cred.Password,
		&cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}

	if s.cipher != nil {
		plain, err := s.cipher.Decrypt(cred.Password)
		if err != nil {
			return nil, fmt.Errorf("unseal credential for tenant %s: %w", tenantID, err)
		}
		cred.Password = plain
	}
	return &cred, nil
}

// Remove deletes the credential row; no error when already absent.
func (s *CredentialStore) Remove(ctx context.Context, tenantID uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1", CredentialsTable)
	if _, err := s.pool.Exec(ctx, query, tenantID); err != nil {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}
