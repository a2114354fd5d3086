// Package discovery holds the per-tenant DiscoveryCache: cached selectors,
// JSON-endpoint health, and a rolling window of extraction stats. The cache
// lives in process memory and is mirrored to an object store on a debounce
// so a restart can rehydrate instead of falling back to L4 discovery for
// every tenant.
package discovery

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Paul008/oem-agent-sub002/internal/selfheal"
)

const statsRingSize = 100

// APIHealth tracks a single known JSON endpoint, per spec §4.4's API slot
// cache.
type APIHealth struct {
	HitCount          int
	MissCount         int
	AvgResponseTimeMs float64
	LastSuccess       time.Time
	LastFailure       time.Time
	IsHealthy         bool
}

// ExtractionStat is one batch-extraction outcome appended to the rolling
// window.
type ExtractionStat struct {
	Timestamp         time.Time
	SelectorsUsed     int
	SelectorsFailed   int
	SelectorsRepaired int
	LLMCalls          int
	DurationMs        int64
	Layer             selfheal.Layer
	Success           bool
}

// Snapshot is the JSON-serializable form of a tenant's cache (spec §4.5's
// wire format, persisted at discoveries/{tenant}.json).
type Snapshot struct {
	Selectors map[string]selfheal.Config `json:"selectors"`
	APIs      map[string]APIHealth       `json:"apis"`
	Stats     []ExtractionStat           `json:"stats"`
	Aggregate Aggregate                  `json:"aggregate"`
}

// Aggregate is the cache's rolled-up view over Stats.
type Aggregate struct {
	TotalExtractions      int     `json:"totalExtractions"`
	SuccessfulExtractions int     `json:"successfulExtractions"`
	FailedExtractions     int     `json:"failedExtractions"`
	SuccessRate           float64 `json:"successRate"`
	AvgExtractionTimeMs   float64 `json:"avgExtractionTimeMs"`
	LastExtraction        time.Time `json:"lastExtraction"`
}

// HealthSummary is consulted by the extraction orchestrator to decide
// between L2, L3, and L4 (spec §4.3's layer decision).
type HealthSummary struct {
	HasCache          bool
	SelectorCount     int
	HealthySelectorCount int
	APICount          int
	HealthyAPICount   int
	SuccessRate       float64
	LastExtraction    time.Time
}

// Cache is one tenant's in-memory DiscoveryCache. All mutation happens
// under mu; HealthSummary and other readers take a copy-on-read snapshot of
// the sub-structure they need rather than holding the lock across callers.
type Cache struct {
	mu        sync.RWMutex
	selectors map[string]selfheal.Config
	apiHealth *lru.Cache[string, APIHealth]
	stats     []ExtractionStat
	aggregate Aggregate
}

// NewCache returns an empty cache. apiCacheSize bounds the number of known
// JSON endpoints tracked per tenant before the LRU evicts the coldest entry.
func NewCache(apiCacheSize int) (*Cache, error) {
	if apiCacheSize <= 0 {
		apiCacheSize = 256
	}
	l, err := lru.New[string, APIHealth](apiCacheSize)
	if err != nil {
		return nil, fmt.Errorf("discovery: new api health lru: %w", err)
	}
	return &Cache{
		selectors: make(map[string]selfheal.Config),
		apiHealth: l,
	}, nil
}

// GetSelector returns the cached selector config for slot, if any.
func (c *Cache) GetSelector(slot string) (selfheal.Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.selectors[slot]
	return cfg, ok
}

// SetSelector stores or replaces a slot's selector config.
func (c *Cache) SetSelector(slot string, cfg selfheal.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectors[slot] = cfg
}

// UpdateSelector applies fn to the current config for slot (read-modify-
// write under the tenant lock, per spec §5's EMA update rule) and stores
// the result.
func (c *Cache) UpdateSelector(slot string, fn func(selfheal.Config) selfheal.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectors[slot] = fn(c.selectors[slot])
}

// GetAPIHealth returns the tracked health for a known endpoint.
func (c *Cache) GetAPIHealth(endpoint string) (APIHealth, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiHealth.Get(endpoint)
}

// RecordAPICall updates an endpoint's health after a probe. A slow call
// (over the 2s p50 budget) is tracked in the EMA but is not itself treated
// as a failure, per spec §4.4.
func (c *Cache) RecordAPICall(endpoint string, success bool, latency time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, _ := c.apiHealth.Get(endpoint)
	if success {
		h.HitCount++
		h.LastSuccess = now
	} else {
		h.MissCount++
		h.LastFailure = now
	}
	h.AvgResponseTimeMs = 0.9*h.AvgResponseTimeMs + 0.1*float64(latency.Milliseconds())
	h.IsHealthy = !(h.MissCount > 3 && h.LastFailure.After(h.LastSuccess))
	c.apiHealth.Add(endpoint, h)
}

// AppendStat pushes an extraction stat onto the rolling window of the last
// statsRingSize entries and recomputes the aggregate.
func (c *Cache) AppendStat(stat ExtractionStat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats = append(c.stats, stat)
	if len(c.stats) > statsRingSize {
		c.stats = c.stats[len(c.stats)-statsRingSize:]
	}

	c.aggregate.TotalExtractions++
	if stat.Success {
		c.aggregate.SuccessfulExtractions++
	} else {
		c.aggregate.FailedExtractions++
	}
	if c.aggregate.TotalExtractions > 0 {
		c.aggregate.SuccessRate = float64(c.aggregate.SuccessfulExtractions) / float64(c.aggregate.TotalExtractions)
	}
	c.aggregate.AvgExtractionTimeMs = 0.9*c.aggregate.AvgExtractionTimeMs + 0.1*float64(stat.DurationMs)
	c.aggregate.LastExtraction = stat.Timestamp
}

// HealthSummary returns the orchestrator-facing view of this cache.
func (c *Cache) HealthSummary() HealthSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthySelectors := 0
	for _, cfg := range c.selectors {
		if cfg.SuccessRate > 0.5 {
			healthySelectors++
		}
	}
	healthyAPIs := 0
	keys := c.apiHealth.Keys()
	for _, k := range keys {
		if h, ok := c.apiHealth.Peek(k); ok && h.IsHealthy {
			healthyAPIs++
		}
	}

	return HealthSummary{
		HasCache:             len(c.selectors) > 0 || len(keys) > 0,
		SelectorCount:        len(c.selectors),
		HealthySelectorCount: healthySelectors,
		APICount:             len(keys),
		HealthyAPICount:      healthyAPIs,
		SuccessRate:          c.aggregate.SuccessRate,
		LastExtraction:       c.aggregate.LastExtraction,
	}
}

// Snapshot returns a serializable copy of the cache's full state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	selectors := make(map[string]selfheal.Config, len(c.selectors))
	for k, v := range c.selectors {
		selectors[k] = v
	}
	apis := make(map[string]APIHealth)
	for _, k := range c.apiHealth.Keys() {
		if h, ok := c.apiHealth.Peek(k); ok {
			apis[k] = h
		}
	}
	stats := make([]ExtractionStat, len(c.stats))
	copy(stats, c.stats)

	return Snapshot{Selectors: selectors, APIs: apis, Stats: stats, Aggregate: c.aggregate}
}

// Restore replaces the cache's contents with a previously serialized
// snapshot, used on startup hydration from the object store.
func (c *Cache) Restore(snap Snapshot, apiCacheSize int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.Selectors != nil {
		c.selectors = snap.Selectors
	} else {
		c.selectors = make(map[string]selfheal.Config)
	}

	if apiCacheSize <= 0 {
		apiCacheSize = 256
	}
	l, err := lru.New[string, APIHealth](apiCacheSize)
	if err != nil {
		return fmt.Errorf("discovery: restore api health lru: %w", err)
	}
	for k, v := range snap.APIs {
		l.Add(k, v)
	}
	c.apiHealth = l

	c.stats = snap.Stats
	c.aggregate = snap.Aggregate
	return nil
}
