package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CascadeStep is one tenant-scoped delete in the control-plane purge. Every
// statement filters by the tenant id ($1), directly or through a subquery on
// the tenant's users/stores/sales, so concurrent lifecycle operations on
// other tenants never interfere.
type CascadeStep struct {
	Table string
	SQL   string
}

// CascadeSteps enumerates the control-plane purge in foreign-key dependency
// order: rows referencing users/stores/sales first, then users, stores,
// products, credentials, and finally the client row. The order must be
// re-validated whenever the control-plane schema grows a new reference to
// users, stores or clients.
var CascadeSteps = []CascadeStep{
	{"audit_logs", `DELETE FROM audit_logs WHERE user_id IN (SELECT id FROM users WHERE client_id = $1)`},
	{"notifications", `DELETE FROM notifications WHERE user_id IN (SELECT id FROM users WHERE client_id = $1)`},
	{"api_tokens", `DELETE FROM api_tokens WHERE user_id IN (SELECT id FROM users WHERE client_id = $1)`},
	{"invite_links", `DELETE FROM invite_links WHERE created_by IN (SELECT id FROM users WHERE client_id = $1)`},
	{"password_reset_tokens", `DELETE FROM password_reset_tokens WHERE user_id IN (SELECT id FROM users WHERE client_id = $1)`},
	{"permission_grants", `DELETE FROM permission_grants WHERE user_id IN (SELECT id FROM users WHERE client_id = $1) OR granted_by IN (SELECT id FROM users WHERE client_id = $1)`},
	{"role_templates", `DELETE FROM role_templates WHERE created_by IN (SELECT id FROM users WHERE client_id = $1)`},
	{"role_assignments", `DELETE FROM role_assignments WHERE user_id IN (SELECT id FROM users WHERE client_id = $1) OR assigned_by IN (SELECT id FROM users WHERE client_id = $1)`},
	{"user_stores", `DELETE FROM user_stores WHERE user_id IN (SELECT id FROM users WHERE client_id = $1)`},
	{"sale_adjustments", `DELETE FROM sale_adjustments WHERE sale_id IN (SELECT id FROM sales WHERE client_id = $1)`},
	{"sale_returns", `DELETE FROM sale_returns WHERE sale_id IN (SELECT id FROM sales WHERE client_id = $1)`},
	{"order_processing", `DELETE FROM order_processing WHERE client_id = $1`},
	{"sales", `DELETE FROM sales WHERE client_id = $1`},
	{"purchase_orders", `DELETE FROM purchase_orders WHERE client_id = $1`},
	{"expenses", `DELETE FROM expenses WHERE client_id = $1`},
	{"store_settings", `DELETE FROM store_settings WHERE store_id IN (SELECT id FROM stores WHERE client_id = $1)`},
	{"suppliers", `DELETE FROM suppliers WHERE client_id = $1`},
	{"customers", `DELETE FROM customers WHERE client_id = $1`},
	{"reports", `DELETE FROM reports WHERE client_id = $1`},
	{"file_upload_errors", `DELETE FROM file_upload_errors WHERE upload_id IN (SELECT id FROM file_uploads WHERE client_id = $1)`},
	{"file_uploads", `DELETE FROM file_uploads WHERE client_id = $1`},
	{"business_records", `DELETE FROM business_records WHERE client_id = $1`},
	{"packs", `DELETE FROM packs WHERE client_id = $1`},
	{"products", `DELETE FROM products WHERE client_id = $1`},
	{"stores", `DELETE FROM stores WHERE client_id = $1`},
	{"users", `DELETE FROM users WHERE client_id = $1`},
	{"tenant_credentials", `DELETE FROM tenant_credentials WHERE tenant_id = $1`},
	{"clients", `DELETE FROM clients WHERE id = $1`},
}

// DeleteTenantRows runs the full cascade inside the caller's transaction.
// Either every dependent row disappears or none do.
func DeleteTenantRows(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) error {
	for _, step := range CascadeSteps {
		if _, err := tx.Exec(ctx, step.SQL, tenantID); err != nil {
			return fmt.Errorf("cascade delete %s: %w", step.Table, err)
		}
	}
	return nil
}

// TenantCounts summarizes a tenant's live control-plane footprint, used by
// the safe-delete guard and deletion preview.
type TenantCounts struct {
	Users    int
	Stores   int
	Products int
	Sales    int
}

// Total returns the combined count across tracked tables.
func (c TenantCounts) Total() int {
	return c.Users + c.Stores + c.Products + c.Sales
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CountTenantRows reports the tenant's dependent row counts. Works on a pool
// or a transaction.
func CountTenantRows(ctx context.Context, q rowQuerier, tenantID uuid.UUID) (TenantCounts, error) {
	var counts TenantCounts
	query := `
        SELECT
            (SELECT COUNT(*) FROM users WHERE client_id = $1),
            (SELECT COUNT(*) FROM stores WHERE client_id = $1),
            (SELECT COUNT(*) FROM products WHERE client_id = $1),
            (SELECT COUNT(*) FROM sales WHERE client_id = $1)`
	if err := q.QueryRow(ctx, query, tenantID).Scan(&counts.Users, &counts.Stores, &counts.Products, &counts.Sales); err != nil {
		return TenantCounts{}, fmt.Errorf("count tenant rows: %w", err)
	}
	return counts, nil
}
