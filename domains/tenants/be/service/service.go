package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
)

// Errors returned by the service layer.
var (
	ErrNotFound     = errors.New("tenant not found")
	ErrEmailTaken   = errors.New("tenant email already registered")
	ErrInvalidSeed  = errors.New("seed record is missing required fields")
	ErrThrottled    = errors.New("tenant creation rate limit exceeded")
	ErrInconsistent = errors.New("control-plane cleanup failed after tenant database was dropped; manual reconciliation required")
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusSuspended    Status = "suspended"
	StatusProvisioning Status = "provisioning"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	case StatusSuspended:
		return StatusSuspended, nil
	case StatusProvisioning:
		return StatusProvisioning, nil
	default:
		return "", fmt.Errorf("unknown tenant status %q", s)
	}
}

// Tenant is the control-plane registry entry for one client organization.
type Tenant struct {
	ID           uuid.UUID
	Name         string
	Email        string
	Phone        string
	Status       Status
	DatabaseName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository abstracts control-plane persistence for the tenant registry.
type Repository interface {
	Create(ctx context.Context, t Tenant) (Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	GetByEmail(ctx context.Context, email string) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	SetDatabaseName(ctx context.Context, id uuid.UUID, name string) error
	// UpdateStatusCascade sets the tenant status and cascades it to every
	// user of the tenant in one transaction; returns users touched.
	UpdateStatusCascade(ctx context.Context, id uuid.UUID, status Status) (int64, error)
	// DeleteCascade removes every control-plane row referencing the tenant,
	// in foreign-key order, inside one transaction.
	DeleteCascade(ctx context.Context, id uuid.UUID) error
	Counts(ctx context.Context, id uuid.UUID) (persistence.TenantCounts, error)
}

// CredentialSource is the read side of the credential store used for
// connection detail lookups.
type CredentialSource interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*persistence.Credential, error)
}

// Service orchestrates tenant lifecycle: creation, status, safe deletion and
// the cascading control-plane purge.
type Service struct {
	repo    Repository
	prov    Provisioner
	creds   CredentialSource
	logger  *zap.Logger
	limiter *rate.Limiter
}

// Config wires the service.
type Config struct {
	Repo        Repository
	Provisioner Provisioner
	Credentials CredentialSource
	Logger      *zap.Logger
	// CreateRate bounds tenant creations per second; zero disables limiting.
	CreateRate  float64
	CreateBurst int
}

// New constructs a Service with required dependencies.
func New(cfg Config) *Service {
	if cfg.Repo == nil {
		panic("tenants repo is required")
	}
	if cfg.Provisioner == nil {
		panic("tenants provisioner is required")
	}
	if cfg.Logger == nil {
		panic("logger is required")
	}

	var limiter *rate.Limiter
	if cfg.CreateRate > 0 {
		burst := cfg.CreateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CreateRate), burst)
	}

	return &Service{
		repo:    cfg.Repo,
		prov:    cfg.Provisioner,
		creds:   cfg.Credentials,
		logger:  cfg.Logger,
		limiter: limiter,
	}
}

// CreateInput is the onboarding request for a new tenant.
type CreateInput struct {
	Name      string
	Email     string
	Phone     string
	AdminUser *UserSeed
}

// Create onboards a tenant: registry row first, then the physical database.
// On provisioning failure the partially created tenant is torn down best
// effort before the error is re-raised.
func (s *Service) Create(ctx context.Context, input CreateInput) (Tenant, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return Tenant{}, ErrThrottled
	}

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Name == "" || input.Email == "" {
		return Tenant{}, fmt.Errorf("tenant name and email are required")
	}

	if _, err := s.repo.GetByEmail(ctx, input.Email); err == nil {
		return Tenant{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return Tenant{}, fmt.Errorf("check email uniqueness: %w", err)
	}

	now := time.Now().UTC()
	t := Tenant{
		ID:        uuid.New(),
		Name:      input.Name,
		Email:     input.Email,
		Phone:     input.Phone,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.repo.Create(ctx, t)
	if err != nil {
		return Tenant{}, err
	}

	clientSeed := &ClientSeed{ID: created.ID, Name: created.Name, Email: created.Email, Phone: created.Phone}
	dbName, err := s.prov.CreateTenantDatabase(ctx, created.ID, clientSeed, input.AdminUser)
	if err != nil {
		s.logger.Error("tenant provisioning failed, rolling back registry row",
			zap.String("tenant_id", created.ID.String()),
			zap.Error(err),
		)
		if cleanupErr := s.repo.DeleteCascade(ctx, created.ID); cleanupErr != nil {
			s.logger.Error("registry rollback failed",
				zap.String("tenant_id", created.ID.String()),
				zap.Error(cleanupErr),
			)
		}
		return Tenant{}, fmt.Errorf("provision tenant %s: %w", created.ID, err)
	}

	if err := s.repo.SetDatabaseName(ctx, created.ID, dbName); err != nil {
		s.logger.Error("recording database name failed, rolling back tenant",
			zap.String("tenant_id", created.ID.String()),
			zap.String("database", dbName),
			zap.Error(err),
		)
		if cleanupErr := s.prov.DeleteTenantDatabase(ctx, created.ID); cleanupErr != nil {
			s.logger.Error("database rollback failed",
				zap.String("tenant_id", created.ID.String()),
				zap.Error(cleanupErr),
			)
		}
		if cleanupErr := s.repo.DeleteCascade(ctx, created.ID); cleanupErr != nil {
			s.logger.Error("registry rollback failed",
				zap.String("tenant_id", created.ID.String()),
				zap.Error(cleanupErr),
			)
		}
		return Tenant{}, fmt.Errorf("record database name: %w", err)
	}
	created.DatabaseName = dbName

	s.logger.Info("tenant created",
		zap.String("tenant_id", created.ID.String()),
		zap.String("database", dbName),
	)
	return created, nil
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.Get(ctx, id)
}

// List returns all tenants.
func (s *Service) List(ctx context.Context) ([]Tenant, error) {
	return s.repo.List(ctx)
}

// Delete drops the physical tenant database first, then purges every
// control-plane row referencing the tenant in one transaction. A control
// plane failure after the physical drop is the one non-recoverable state:
// it is logged at error severity and surfaced as ErrInconsistent.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}

	if err := s.prov.DeleteTenantDatabase(ctx, id); err != nil {
		return fmt.Errorf("drop tenant database: %w", err)
	}

	if err := s.repo.DeleteCascade(ctx, id); err != nil {
		s.logger.Error("MANUAL INTERVENTION REQUIRED: tenant database dropped but control-plane purge failed",
			zap.String("tenant_id", id.String()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrInconsistent, err)
	}

	s.logger.Info("tenant deleted", zap.String("tenant_id", id.String()))
	return nil
}

// SafeDeleteOptions guards Delete.
type SafeDeleteOptions struct {
	SoftDelete bool
	Force      bool
}

// SafeDeleteResult reports what SafeDelete did, or why it refused.
type SafeDeleteResult struct {
	Deleted      bool
	SoftDeleted  bool
	UsersTouched int64
	Counts       persistence.TenantCounts
	Message      string
}

// SafeDelete refuses to hard-delete a tenant with live data unless forced.
// SoftDelete only flips the tenant and its users to inactive.
func (s *Service) SafeDelete(ctx context.Context, id uuid.UUID, opts SafeDeleteOptions) (SafeDeleteResult, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return SafeDeleteResult{}, err
	}

	counts, err := s.repo.Counts(ctx, id)
	if err != nil {
		return SafeDeleteResult{}, err
	}

	if opts.SoftDelete {
		touched, err := s.repo.UpdateStatusCascade(ctx, id, StatusInactive)
		if err != nil {
			return SafeDeleteResult{}, err
		}
		return SafeDeleteResult{
			SoftDeleted:  true,
			UsersTouched: touched,
			Counts:       counts,
			Message:      "tenant deactivated",
		}, nil
	}

	if counts.Total() > 0 && !opts.Force {
		return SafeDeleteResult{
			Counts:  counts,
			Message: "tenant has live data; pass force to delete anyway",
		}, nil
	}

	if err := s.Delete(ctx, id); err != nil {
		return SafeDeleteResult{}, err
	}
	return SafeDeleteResult{Deleted: true, Counts: counts, Message: "tenant deleted"}, nil
}

// UpdateStatus sets the tenant status and cascades it to all of the tenant's
// users atomically; returns the number of users touched.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (int64, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return 0, err
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return 0, err
	}
	return s.repo.UpdateStatusCascade(ctx, id, status)
}

// DeletionPreview is the dry-run report for a pending tenant deletion.
type DeletionPreview struct {
	DataToDelete persistence.TenantCounts
	Warnings     []string
	CanDelete    bool
}

// PreviewDeletion counts dependent rows and checks tenant database
// reachability without deleting anything. An unreachable tenant database
// blocks deletion, since the physical drop could not be confirmed.
func (s *Service) PreviewDeletion(ctx context.Context, id uuid.UUID) (DeletionPreview, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return DeletionPreview{}, err
	}

	counts, err := s.repo.Counts(ctx, id)
	if err != nil {
		return DeletionPreview{}, err
	}

	preview := DeletionPreview{DataToDelete: counts, CanDelete: true}
	if counts.Total() > 0 {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("%d users, %d stores, %d products and %d sales will be removed",
				counts.Users, counts.Stores, counts.Products, counts.Sales))
	}

	report := s.prov.CheckDatabaseStatus(ctx, id)
	if report.Status != "connected" {
		preview.CanDelete = false
		preview.Warnings = append(preview.Warnings,
			"tenant database is unreachable; physical deletion cannot be safely confirmed")
	}
	return preview, nil
}

// GetStatus reports tenant database health for an existing tenant.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (StatusReport, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return StatusReport{}, err
	}
	return s.prov.CheckDatabaseStatus(ctx, id), nil
}

// InitializeSchema re-applies the application schema to an existing tenant
// database and repairs the mirror client record.
func (s *Service) InitializeSchema(ctx context.Context, id uuid.UUID) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.prov.ApplySchema(ctx, id); err != nil {
		return err
	}
	seed := ClientSeed{ID: t.ID, Name: t.Name, Email: t.Email, Phone: t.Phone}
	if err := s.prov.EnsureClientRecord(ctx, id, seed); err != nil {
		s.logger.Warn("mirror client record repair failed",
			zap.String("tenant_id", id.String()),
			zap.Error(err),
		)
	}
	return nil
}

// VerifySchema introspects an existing tenant database's tables.
func (s *Service) VerifySchema(ctx context.Context, id uuid.UUID) (SchemaReport, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return SchemaReport{}, err
	}
	return s.prov.VerifySchema(ctx, id)
}

// TestPermissions probes the tenant role's capabilities.
func (s *Service) TestPermissions(ctx context.Context, id uuid.UUID) (PermissionReport, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return PermissionReport{}, err
	}
	return s.prov.TestPermissions(ctx, id)
}

// ConnectionDetails exposes a tenant's connection metadata with the password
// redacted.
type ConnectionDetails struct {
	DatabaseName string
	Username     string
	Password     string
}

// GetConnectionDetails returns redacted connection material for diagnostics.
func (s *Service) GetConnectionDetails(ctx context.Context, id uuid.UUID) (ConnectionDetails, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return ConnectionDetails{}, err
	}
	if s.creds == nil {
		return ConnectionDetails{}, fmt.Errorf("credential source not configured")
	}
	cred, err := s.creds.Get(ctx, id)
	if err != nil {
		return ConnectionDetails{}, err
	}
	if cred == nil {
		return ConnectionDetails{}, ErrNotFound
	}
	return ConnectionDetails{
		DatabaseName: cred.DatabaseName,
		Username:     cred.Username,
		Password:     "xxxxx",
	}, nil
}
