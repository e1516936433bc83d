package persistence

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ConnCache holds one pooled connection per tenant for the process lifetime.
// Pools are created lazily on first access; there is no TTL or eviction
// beyond explicit tenant teardown and shutdown.
type ConnCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*cacheEntry
	logger  *zap.Logger

	// newPool is swapped in tests; defaults to NewPool.
	newPool func(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error)
}

type cacheEntry struct {
	once sync.Once
	pool *pgxpool.Pool
	err  error
}

// NewConnCache constructs the cache. Intended to be built once in main and
// injected; it is the only shared mutable state of the routing core.
func NewConnCache(logger *zap.Logger) *ConnCache {
	if logger == nil {
		panic("conn cache requires logger")
	}
	return &ConnCache{
		entries: make(map[uuid.UUID]*cacheEntry),
		logger:  logger,
		newPool: NewPool,
	}
}

// GetOrCreate returns the cached pool for a tenant, building it on first
// access. Concurrent first accesses for the same tenant id resolve to a
// single pool: the entry is claimed under the lock and construction runs
// exactly once behind it.
func (c *ConnCache) GetOrCreate(ctx context.Context, tenantID uuid.UUID, connString string) (*pgxpool.Pool, error) {
	c.mu.Lock()
	entry, ok := c.entries[tenantID]
	if !ok {
		entry = &cacheEntry{}
		c.entries[tenantID] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.pool, entry.err = c.newPool(ctx, PoolConfig{ConnString: connString})
		if entry.err == nil {
			c.logger.Info("tenant pool created", zap.String("tenant_id", tenantID.String()))
		}
	})

	if entry.err != nil {
		// Drop the failed entry so a later request can retry the connection.
		c.mu.Lock()
		if cur, ok := c.entries[tenantID]; ok && cur == entry {
			delete(c.entries, tenantID)
		}
		c.mu.Unlock()
		return nil, entry.err
	}
	return entry.pool, nil
}

// Evict closes and removes one tenant's pool. Used on tenant teardown.
func (c *ConnCache) Evict(tenantID uuid.UUID) {
	c.mu.Lock()
	entry, ok := c.entries[tenantID]
	if ok {
		delete(c.entries, tenantID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	// Synchronize with an in-flight first access: once.Do blocks until the
	// creator finishes, so a pool built concurrently is closed here rather
	// than leaked.
	entry.once.Do(func() {})
	if entry.pool != nil {
		entry.pool.Close()
		c.logger.Info("tenant pool evicted", zap.String("tenant_id", tenantID.String()))
	}
}

// Shutdown closes every cached pool and clears the map. Graceful process
// shutdown only.
func (c *ConnCache) Shutdown() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[uuid.UUID]*cacheEntry)
	c.mu.Unlock()

	for id, entry := range entries {
		entry.once.Do(func() {})
		if entry.pool != nil {
			entry.pool.Close()
		}
		c.logger.Debug("tenant pool closed", zap.String("tenant_id", id.String()))
	}
}

// Len reports the number of live cached pools, for diagnostics.
func (c *ConnCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
