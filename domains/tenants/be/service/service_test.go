package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/repo"
	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/service"
	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
)

// fakeProvisioner records lifecycle calls and fails on demand.
type fakeProvisioner struct {
	mu sync.Mutex

	createErr error
	deleteErr error
	applyErr  error
	status    service.StatusReport
	schema    service.SchemaReport
	perms     service.PermissionReport

	created     []uuid.UUID
	deleted     []uuid.UUID
	applied     []uuid.UUID
	clientSeeds []service.ClientSeed
	userSeeds   []service.UserSeed
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{
		status: service.StatusReport{Status: "connected", DatabaseSize: "8 MB"},
		schema: service.SchemaReport{HasSchema: true, TableCount: 10},
		perms:  service.PermissionReport{CanCreateTables: true, CanCreateEnums: true},
	}
}

func (f *fakeProvisioner) CreateTenantDatabase(ctx context.Context, tenantID uuid.UUID, client *service.ClientSeed, user *service.UserSeed) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, tenantID)
	if client != nil {
		f.clientSeeds = append(f.clientSeeds, *client)
	}
	if user != nil {
		f.userSeeds = append(f.userSeeds, *user)
	}
	return "client_" + tenantID.String() + "_db", nil
}

func (f *fakeProvisioner) DeleteTenantDatabase(ctx context.Context, tenantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, tenantID)
	return nil
}

func (f *fakeProvisioner) ApplySchema(ctx context.Context, tenantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, tenantID)
	return nil
}

func (f *fakeProvisioner) CheckDatabaseStatus(ctx context.Context, tenantID uuid.UUID) service.StatusReport {
	return f.status
}

func (f *fakeProvisioner) VerifySchema(ctx context.Context, tenantID uuid.UUID) (service.SchemaReport, error) {
	return f.schema, nil
}

func (f *fakeProvisioner) TestPermissions(ctx context.Context, tenantID uuid.UUID) (service.PermissionReport, error) {
	return f.perms, nil
}

func (f *fakeProvisioner) EnsureClientRecord(ctx context.Context, tenantID uuid.UUID, client service.ClientSeed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientSeeds = append(f.clientSeeds, client)
	return nil
}

func (f *fakeProvisioner) EnsureUserRecord(ctx context.Context, tenantID uuid.UUID, user service.UserSeed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userSeeds = append(f.userSeeds, user)
	return nil
}

// failingCascadeRepo wraps the in-memory repo so DeleteCascade fails,
// simulating a control-plane outage after the physical drop.
type failingCascadeRepo struct {
	*repo.MemoryRepository
	cascadeErr error
}

func (r *failingCascadeRepo) DeleteCascade(ctx context.Context, id uuid.UUID) error {
	return r.cascadeErr
}

// failingSetDatabaseNameRepo wraps the in-memory repo so recording the
// database name fails after provisioning succeeded.
type failingSetDatabaseNameRepo struct {
	*repo.MemoryRepository
	setErr error
}

func (r *failingSetDatabaseNameRepo) SetDatabaseName(ctx context.Context, id uuid.UUID, name string) error {
	return r.setErr
}

type staticCreds struct {
	cred *persistence.Credential
}

func (s staticCreds) Get(ctx context.Context, tenantID uuid.UUID) (*persistence.Credential, error) {
	return s.cred, nil
}

func newService(t *testing.T, r service.Repository, p service.Provisioner, opts ...func(*service.Config)) *service.Service {
	t.Helper()
	cfg := service.Config{
		Repo:        r,
		Provisioner: p,
		Logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return service.New(cfg)
}

func mustCreate(t *testing.T, svc *service.Service, email string) service.Tenant {
	t.Helper()
	tn, err := svc.Create(context.Background(), service.CreateInput{
		Name:  "Acme Traders",
		Email: email,
	})
	require.NoError(t, err)
	return tn
}

func TestCreateProvisionsAndRecordsDatabase(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	svc := newService(t, memRepo, prov)

	adminID := uuid.New()
	tn, err := svc.Create(context.Background(), service.CreateInput{
		Name:  "Acme Traders",
		Email: "Owner@Acme.example ",
		Phone: "+23276000000",
		AdminUser: &service.UserSeed{
			ID:    adminID,
			Name:  "Owner",
			Email: "owner@acme.example",
			Role:  "admin",
		},
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, tn.ID)
	require.Equal(t, "owner@acme.example", tn.Email, "email is normalized")
	require.Equal(t, service.StatusActive, tn.Status)
	require.NotEmpty(t, tn.DatabaseName)

	stored, err := memRepo.Get(context.Background(), tn.ID)
	require.NoError(t, err)
	require.Equal(t, tn.DatabaseName, stored.DatabaseName)

	require.Equal(t, []uuid.UUID{tn.ID}, prov.created)
	require.Len(t, prov.clientSeeds, 1)
	require.Equal(t, tn.ID, prov.clientSeeds[0].ID)
	require.Len(t, prov.userSeeds, 1)
	require.Equal(t, adminID, prov.userSeeds[0].ID)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	svc := newService(t, memRepo, newFakeProvisioner())

	mustCreate(t, svc, "owner@acme.example")

	_, err := svc.Create(context.Background(), service.CreateInput{
		Name:  "Acme Clone",
		Email: "OWNER@acme.example",
	})
	require.ErrorIs(t, err, service.ErrEmailTaken)
}

func TestCreateRejectsMissingFields(t *testing.T) {
	t.Parallel()

	svc := newService(t, repo.NewMemoryRepository(), newFakeProvisioner())

	_, err := svc.Create(context.Background(), service.CreateInput{Email: "a@b.c"})
	require.Error(t, err)

	_, err = svc.Create(context.Background(), service.CreateInput{Name: "No Email"})
	require.Error(t, err)
}

func TestCreateRollsBackOnProvisionFailure(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	prov.createErr = errors.New("CREATE DATABASE failed")
	svc := newService(t, memRepo, prov)

	_, err := svc.Create(context.Background(), service.CreateInput{
		Name:  "Doomed",
		Email: "doomed@acme.example",
	})
	require.Error(t, err)

	// The registry row must be gone so the email can be retried.
	_, err = memRepo.GetByEmail(context.Background(), "doomed@acme.example")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestCreateRollsBackOnDatabaseNameRecordFailure(t *testing.T) {
	t.Parallel()

	memRepo := &failingSetDatabaseNameRepo{
		MemoryRepository: repo.NewMemoryRepository(),
		setErr:           errors.New("control plane unavailable"),
	}
	prov := newFakeProvisioner()
	svc := newService(t, memRepo, prov)

	_, err := svc.Create(context.Background(), service.CreateInput{
		Name:  "Doomed",
		Email: "doomed@acme.example",
	})
	require.ErrorContains(t, err, "record database name")

	// The provisioned database is torn down, not orphaned.
	require.Len(t, prov.created, 1)
	require.Equal(t, prov.created, prov.deleted)

	// And the registry row is gone so the email can be retried.
	_, err = memRepo.GetByEmail(context.Background(), "doomed@acme.example")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestCreateThrottles(t *testing.T) {
	t.Parallel()

	svc := newService(t, repo.NewMemoryRepository(), newFakeProvisioner(), func(cfg *service.Config) {
		cfg.CreateRate = 0.001
		cfg.CreateBurst = 1
	})

	mustCreate(t, svc, "first@acme.example")

	_, err := svc.Create(context.Background(), service.CreateInput{
		Name:  "Second",
		Email: "second@acme.example",
	})
	require.ErrorIs(t, err, service.ErrThrottled)
}

func TestDeleteDropsDatabaseThenPurges(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	svc := newService(t, memRepo, prov)

	tn := mustCreate(t, svc, "owner@acme.example")

	require.NoError(t, svc.Delete(context.Background(), tn.ID))
	require.Equal(t, []uuid.UUID{tn.ID}, prov.deleted)

	_, err := memRepo.Get(context.Background(), tn.ID)
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestDeleteUnknownTenant(t *testing.T) {
	t.Parallel()

	svc := newService(t, repo.NewMemoryRepository(), newFakeProvisioner())
	require.ErrorIs(t, svc.Delete(context.Background(), uuid.New()), service.ErrNotFound)
}

func TestDeleteKeepsRegistryWhenDropFails(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	prov.deleteErr = errors.New("DROP DATABASE failed")
	svc := newService(t, memRepo, prov)

	tn := mustCreate(t, svc, "owner@acme.example")

	require.Error(t, svc.Delete(context.Background(), tn.ID))

	// No purge happened: the tenant is still registered.
	_, err := memRepo.Get(context.Background(), tn.ID)
	require.NoError(t, err)
}

func TestDeleteSurfacesInconsistencyAfterPhysicalDrop(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	wrapped := &failingCascadeRepo{MemoryRepository: memRepo, cascadeErr: errors.New("control plane down")}
	svc := newService(t, wrapped, prov)

	tn := mustCreate(t, svc, "owner@acme.example")

	err := svc.Delete(context.Background(), tn.ID)
	require.ErrorIs(t, err, service.ErrInconsistent)
	require.Equal(t, []uuid.UUID{tn.ID}, prov.deleted, "physical drop happened before the failure")
}

func TestSafeDeleteRefusesLiveDataWithoutForce(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	svc := newService(t, memRepo, prov)

	tn := mustCreate(t, svc, "owner@acme.example")
	memRepo.SetCounts(tn.ID, persistence.TenantCounts{Users: 4, Stores: 2, Products: 120, Sales: 3500})

	res, err := svc.SafeDelete(context.Background(), tn.ID, service.SafeDeleteOptions{})
	require.NoError(t, err)
	require.False(t, res.Deleted)
	require.False(t, res.SoftDeleted)
	require.Equal(t, 4, res.Counts.Users)
	require.NotEmpty(t, res.Message)

	// Nothing was deleted.
	require.Empty(t, prov.deleted)
	_, err = memRepo.Get(context.Background(), tn.ID)
	require.NoError(t, err)
}

func TestSafeDeleteForceDeletesLiveData(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	svc := newService(t, memRepo, prov)

	tn := mustCreate(t, svc, "owner@acme.example")
	memRepo.SetCounts(tn.ID, persistence.TenantCounts{Users: 4})

	res, err := svc.SafeDelete(context.Background(), tn.ID, service.SafeDeleteOptions{Force: true})
	require.NoError(t, err)
	require.True(t, res.Deleted)
	require.Equal(t, []uuid.UUID{tn.ID}, prov.deleted)
}

func TestSafeDeleteEmptyTenantNeedsNoForce(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	svc := newService(t, memRepo, prov)

	tn := mustCreate(t, svc, "owner@acme.example")

	res, err := svc.SafeDelete(context.Background(), tn.ID, service.SafeDeleteOptions{})
	require.NoError(t, err)
	require.True(t, res.Deleted)
}

func TestSafeDeleteSoftDeactivatesInstead(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	svc := newService(t, memRepo, prov)

	tn := mustCreate(t, svc, "owner@acme.example")
	memRepo.SetCounts(tn.ID, persistence.TenantCounts{Users: 7})

	res, err := svc.SafeDelete(context.Background(), tn.ID, service.SafeDeleteOptions{SoftDelete: true})
	require.NoError(t, err)
	require.True(t, res.SoftDeleted)
	require.False(t, res.Deleted)
	require.EqualValues(t, 7, res.UsersTouched)

	stored, err := memRepo.Get(context.Background(), tn.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusInactive, stored.Status)
	require.Empty(t, prov.deleted, "soft delete must leave the database alone")
}

func TestUpdateStatusCascades(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	svc := newService(t, memRepo, newFakeProvisioner())

	tn := mustCreate(t, svc, "owner@acme.example")
	memRepo.SetCounts(tn.ID, persistence.TenantCounts{Users: 3})

	touched, err := svc.UpdateStatus(context.Background(), tn.ID, service.StatusSuspended)
	require.NoError(t, err)
	require.EqualValues(t, 3, touched)

	stored, err := memRepo.Get(context.Background(), tn.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusSuspended, stored.Status)
}

func TestUpdateStatusRejectsUnknownValue(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	svc := newService(t, memRepo, newFakeProvisioner())
	tn := mustCreate(t, svc, "owner@acme.example")

	_, err := svc.UpdateStatus(context.Background(), tn.ID, service.Status("deleted"))
	require.Error(t, err)
}

func TestPreviewDeletionReportsCountsAndWarnings(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	svc := newService(t, memRepo, prov)

	tn := mustCreate(t, svc, "owner@acme.example")
	memRepo.SetCounts(tn.ID, persistence.TenantCounts{Users: 2, Sales: 10})

	preview, err := svc.PreviewDeletion(context.Background(), tn.ID)
	require.NoError(t, err)
	require.True(t, preview.CanDelete)
	require.Equal(t, 2, preview.DataToDelete.Users)
	require.NotEmpty(t, preview.Warnings)

	// Nothing was deleted by the preview.
	require.Empty(t, prov.deleted)
	_, err = memRepo.Get(context.Background(), tn.ID)
	require.NoError(t, err)
}

func TestPreviewDeletionBlocksOnUnreachableDatabase(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	prov.status = service.StatusReport{Status: "error", Detail: "connection refused"}
	svc := newService(t, memRepo, prov)

	tn := mustCreate(t, svc, "owner@acme.example")

	preview, err := svc.PreviewDeletion(context.Background(), tn.ID)
	require.NoError(t, err)
	require.False(t, preview.CanDelete)
	require.NotEmpty(t, preview.Warnings)
}

func TestInitializeSchemaRepairsMirrorRecord(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()
	svc := newService(t, memRepo, prov)

	tn := mustCreate(t, svc, "owner@acme.example")
	seeded := len(prov.clientSeeds)

	require.NoError(t, svc.InitializeSchema(context.Background(), tn.ID))
	require.Equal(t, []uuid.UUID{tn.ID}, prov.applied)
	require.Len(t, prov.clientSeeds, seeded+1)
}

func TestGetConnectionDetailsRedactsPassword(t *testing.T) {
	t.Parallel()

	memRepo := repo.NewMemoryRepository()
	prov := newFakeProvisioner()

	tn := mustCreate(t, newService(t, memRepo, prov), "owner@acme.example")

	creds := staticCreds{cred: &persistence.Credential{
		TenantID:     tn.ID,
		DatabaseName: "client_db",
		Username:     "client_role",
		Password:     "the-real-password",
	}}
	svc := newService(t, memRepo, prov, func(cfg *service.Config) {
		cfg.Credentials = creds
	})

	details, err := svc.GetConnectionDetails(context.Background(), tn.ID)
	require.NoError(t, err)
	require.Equal(t, "client_db", details.DatabaseName)
	require.Equal(t, "client_role", details.Username)
	require.NotEqual(t, "the-real-password", details.Password)
}

func TestStatusSchemaAndPermissionsRequireExistingTenant(t *testing.T) {
	t.Parallel()

	svc := newService(t, repo.NewMemoryRepository(), newFakeProvisioner())
	missing := uuid.New()

	_, err := svc.GetStatus(context.Background(), missing)
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = svc.VerifySchema(context.Background(), missing)
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = svc.TestPermissions(context.Background(), missing)
	require.ErrorIs(t, err, service.ErrNotFound)
}
