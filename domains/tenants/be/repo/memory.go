package repo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/service"
	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
)

// MemoryRepository is a simple in-memory implementation suitable for tests
// and early development. User rows are tracked only far enough to exercise
// the status cascade and safe-delete guard.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]service.Tenant
	byEmail map[string]uuid.UUID
	counts  map[uuid.UUID]persistence.TenantCounts
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[uuid.UUID]service.Tenant),
		byEmail: make(map[string]uuid.UUID),
		counts:  make(map[uuid.UUID]persistence.TenantCounts),
	}
}

// SetCounts seeds dependent-row counts for a tenant, for safe-delete and
// preview scenarios.
func (r *MemoryRepository) SetCounts(id uuid.UUID, counts persistence.TenantCounts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[id] = counts
}

func (r *MemoryRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(t.Email)
	if _, exists := r.byEmail[email]; exists {
		return service.Tenant{}, service.ErrEmailTaken
	}
	r.byID[t.ID] = t
	r.byEmail[email] = t.ID
	return t, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (r *MemoryRepository) SetDatabaseName(ctx context.Context, id uuid.UUID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return service.ErrNotFound
	}
	t.DatabaseName = name
	r.byID[id] = t
	return nil
}

func (r *MemoryRepository) UpdateStatusCascade(ctx context.Context, id uuid.UUID, status service.Status) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return 0, service.ErrNotFound
	}
	t.Status = status
	r.byID[id] = t
	return int64(r.counts[id].Users), nil
}

func (r *MemoryRepository) DeleteCascade(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byEmail, strings.ToLower(t.Email))
	delete(r.counts, id)
	return nil
}

func (r *MemoryRepository) Counts(ctx context.Context, id uuid.UUID) (persistence.TenantCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[id], nil
}

var _ service.Repository = (*MemoryRepository)(nil)
