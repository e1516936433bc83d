package service

import (
	"context"

	"github.com/google/uuid"
)

// Provisioner encapsulates the physical side of tenant lifecycle: database,
// role, grants, schema and mirror records. Implemented by the provisioning
// package; faked in tests.
type Provisioner interface {
	// CreateTenantDatabase realizes an isolated database for the tenant and
	// returns its name. Seeds are optional; a nil seed skips the mirror insert.
	CreateTenantDatabase(ctx context.Context, tenantID uuid.UUID, client *ClientSeed, user *UserSeed) (string, error)
	// DeleteTenantDatabase tears down database, role and credential row.
	// Idempotent with respect to already-absent objects.
	DeleteTenantDatabase(ctx context.Context, tenantID uuid.UUID) error
	// ApplySchema re-runs schema application against an existing tenant
	// database (recovery for partially provisioned tenants).
	ApplySchema(ctx context.Context, tenantID uuid.UUID) error
	// CheckDatabaseStatus reports reachability, size and connection count.
	// Failures are reported as a status value, never returned as errors.
	CheckDatabaseStatus(ctx context.Context, tenantID uuid.UUID) StatusReport
	// VerifySchema introspects the tenant database's table catalog.
	VerifySchema(ctx context.Context, tenantID uuid.UUID) (SchemaReport, error)
	// TestPermissions probes the tenant role's capabilities best-effort.
	TestPermissions(ctx context.Context, tenantID uuid.UUID) (PermissionReport, error)
	// EnsureClientRecord repairs a missing mirror client record.
	EnsureClientRecord(ctx context.Context, tenantID uuid.UUID, client ClientSeed) error
	// EnsureUserRecord repairs a missing mirror user record.
	EnsureUserRecord(ctx context.Context, tenantID uuid.UUID, user UserSeed) error
}

// ClientSeed is the mirror "self" client record written into a fresh tenant
// database.
type ClientSeed struct {
	ID    uuid.UUID
	Name  string
	Email string
	Phone string
}

// UserSeed is the initial admin user mirrored into a fresh tenant database.
type UserSeed struct {
	ID    uuid.UUID
	Name  string
	Email string
	Role  string
}

// Validate checks required fields before any seed reaches SQL.
func (s ClientSeed) Validate() error {
	if s.ID == uuid.Nil || s.Name == "" || s.Email == "" {
		return ErrInvalidSeed
	}
	return nil
}

// Validate checks required fields before any seed reaches SQL.
func (s UserSeed) Validate() error {
	if s.ID == uuid.Nil || s.Name == "" || s.Email == "" {
		return ErrInvalidSeed
	}
	return nil
}

// StatusReport summarizes tenant database health. Status is "connected" when
// the probe succeeded, "error" otherwise.
type StatusReport struct {
	Status          string
	DatabaseName    string
	DatabaseSize    string
	ConnectionCount int
	Detail          string
}

// SchemaReport is the result of a table-catalog census.
type SchemaReport struct {
	HasSchema  bool
	TableCount int
	Tables     []string
}

// PermissionReport captures the outcome of capability probes under the
// tenant role.
type PermissionReport struct {
	CanCreateTables  bool
	CanCreateEnums   bool
	SchemaPrivileges []string
}
