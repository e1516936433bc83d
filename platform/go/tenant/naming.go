package tenant

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ParseID validates an opaque tenant identifier. Tenant ids are constrained to
// UUID format at the boundary so that database and role identifiers derived
// from them are always safe to interpolate into DDL.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid tenant id %q: %w", raw, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("tenant id must not be nil")
	}
	return id, nil
}

// DatabaseName returns the canonical database name for a tenant.
// Format: client_<uuid with underscores>_db. The name is a pure function of
// the tenant id so provisioning and teardown stay idempotent and discoverable
// without consulting the credential store.
func DatabaseName(id uuid.UUID) string {
	return "client_" + idSnake(id) + "_db"
}

// RoleName returns the canonical database role for a tenant.
// Format: user_<uuid with underscores>.
func RoleName(id uuid.UUID) string {
	return "user_" + idSnake(id)
}

func idSnake(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "_")
}
