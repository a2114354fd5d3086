package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Paul008/oem-agent-sub002/internal/objectstore"
)

const persistDebounce = 30 * time.Second

func objectKey(tenant string) string {
	return fmt.Sprintf("discoveries/%s.json", tenant)
}

// Registry is the process-wide, tenant-keyed collection of Caches (spec §9's
// re-architecture note: "the process-wide cache map becomes an explicit
// Registry value passed to the orchestrator"). Each tenant's cache is
// guarded by its own lock inside Cache; Registry only guards the map of
// tenant -> Cache.
type Registry struct {
	mu           sync.RWMutex
	caches       map[string]*Cache
	apiCacheSize int
	store        objectstore.Store
	logger       *slog.Logger

	dirty sync.Map // tenant -> *time.Timer, pending debounced flush
}

// NewRegistry returns an empty registry backed by store for persistence.
func NewRegistry(store objectstore.Store, apiCacheSize int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		caches:       make(map[string]*Cache),
		apiCacheSize: apiCacheSize,
		store:        store,
		logger:       logger,
	}
}

// Get returns the tenant's cache, creating an empty one if none exists.
func (r *Registry) Get(tenant string) *Cache {
	r.mu.RLock()
	c, ok := r.caches[tenant]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches[tenant]; ok {
		return c
	}
	c, err := NewCache(r.apiCacheSize)
	if err != nil {
		// apiCacheSize is validated at construction; this only happens for a
		// negative size passed in error, which NewCache already defaults.
		c, _ = NewCache(256)
	}
	r.caches[tenant] = c
	return c
}

// Hydrate loads a tenant's cache from the object store, if present. Call
// once per tenant at startup; a miss is not an error, it means the tenant
// will be routed to L4 discovery on its next crawl.
func (r *Registry) Hydrate(ctx context.Context, tenant string) error {
	raw, err := r.store.Get(ctx, objectKey(tenant))
	if err != nil {
		if err == objectstore.ErrNotFound {
			return nil
		}
		return fmt.Errorf("discovery: hydrate %s: %w", tenant, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("discovery: decode snapshot for %s: %w", tenant, err)
	}
	return r.Get(tenant).Restore(snap, r.apiCacheSize)
}

// MarkDirty schedules a debounced persist of tenant's cache persistDebounce
// after the last call for that tenant, per spec §9 ("serialize to object
// store on a debounce"). Repeated calls within the window collapse to one
// flush.
func (r *Registry) MarkDirty(tenant string) {
	if existing, ok := r.dirty.Load(tenant); ok {
		existing.(*time.Timer).Stop()
	}
	timer := time.AfterFunc(persistDebounce, func() {
		r.dirty.Delete(tenant)
		if err := r.Flush(context.Background(), tenant); err != nil {
			r.logger.Error("discovery cache flush failed", "tenant", tenant, "error", err)
		}
	})
	r.dirty.Store(tenant, timer)
}

// Flush persists tenant's current cache snapshot immediately, bypassing the
// debounce. Called by MarkDirty's timer and at shutdown for every tenant
// with a pending timer.
func (r *Registry) Flush(ctx context.Context, tenant string) error {
	c := r.Get(tenant)
	raw, err := json.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("discovery: marshal snapshot for %s: %w", tenant, err)
	}
	return r.store.Put(ctx, objectKey(tenant), raw)
}

// FlushAll persists every tenant with a pending debounced write, used at
// shutdown so no update is lost to a timer that never fires.
func (r *Registry) FlushAll(ctx context.Context) error {
	var firstErr error
	r.dirty.Range(func(key, value interface{}) bool {
		tenant := key.(string)
		value.(*time.Timer).Stop()
		r.dirty.Delete(tenant)
		if err := r.Flush(ctx, tenant); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}
