package cache

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crossgraph/rollup/pkg/config"
)

// l1Entry is one in-process cache entry.
type l1Entry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
}

// Stats accumulates cache hit/miss and latency counters.
type Stats struct {
	L1Hits        int64   `json:"l1_hits"`
	L1Misses      int64   `json:"l1_misses"`
	L2Hits        int64   `json:"l2_hits"`
	L2Misses      int64   `json:"l2_misses"`
	HitRatio      float64 `json:"hit_ratio"`
	AvgGetLatency float64 `json:"avg_get_latency_ms"`
	AvgSetLatency float64 `json:"avg_set_latency_ms"`
}

// TieredCache is the L1+L2 rollup cache. L1 is always consulted first;
// L2 is optional and the cache degrades gracefully without it.
type TieredCache struct {
	cfg *config.CacheConfig
	l2  BlobCache // nil when L2 disabled

	mu       sync.RWMutex
	l1       map[Keyspace]*lru.Cache[string, l1Entry]
	tagIndex map[string]map[string]Keyspace // tag -> key -> keyspace

	l1Hits, l1Misses int64
	l2Hits, l2Misses int64
	getCount, getNanos int64
	setCount, setNanos int64
}

// NewTieredCache creates the two-tier cache. l2 may be nil (or cfg.EnableL2
// false) to run in-process only.
func NewTieredCache(cfg *config.CacheConfig, l2 BlobCache) (*TieredCache, error) {
	c := &TieredCache{
		cfg:      cfg,
		tagIndex: make(map[string]map[string]Keyspace),
		l1:       make(map[Keyspace]*lru.Cache[string, l1Entry]),
	}
	if cfg.EnableL2 {
		c.l2 = l2
	}
	if cfg.EnableL1 {
		sizes := map[Keyspace]int{
			KeyspaceExecutionResult: cfg.L1MaxExecutionResults,
			KeyspaceMergedGraph:     cfg.L1MaxMergedGraphs,
			KeyspaceBlastRadius:     cfg.L1MaxBlastRadii,
			KeyspaceIndex:           cfg.L1MaxSize,
		}
		for _, ks := range Keyspaces() {
			size := sizes[ks]
			if size <= 0 {
				size = cfg.L1MaxSize
			}
			keyspace := ks
			l, err := lru.NewWithEvict[string, l1Entry](size, func(key string, entry l1Entry) {
				c.dropFromTagIndex(key, entry.tags)
			})
			if err != nil {
				return nil, err
			}
			c.l1[keyspace] = l
		}
	}
	return c, nil
}

// Get returns the cached value for key, checking L1 then L2. An L2 hit is
// promoted into L1. L2 errors degrade to a miss.
func (c *TieredCache) Get(ctx context.Context, keyspace Keyspace, key string) ([]byte, bool) {
	start := time.Now()
	defer func() {
		atomic.AddInt64(&c.getCount, 1)
		atomic.AddInt64(&c.getNanos, time.Since(start).Nanoseconds())
	}()

	if l, ok := c.l1[keyspace]; ok {
		if entry, found := l.Get(key); found {
			if entry.expiresAt.IsZero() || time.Now().Before(entry.expiresAt) {
				atomic.AddInt64(&c.l1Hits, 1)
				return entry.value, true
			}
			l.Remove(key)
		}
		atomic.AddInt64(&c.l1Misses, 1)
	}

	if c.l2 == nil {
		return nil, false
	}
	value, found, err := c.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("L2 cache get failed, treating as miss", "key", key, "error", err)
		atomic.AddInt64(&c.l2Misses, 1)
		return nil, false
	}
	if !found {
		atomic.AddInt64(&c.l2Misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.l2Hits, 1)
	c.populateL1(keyspace, key, value, nil, c.cfg.L1TTL)
	return value, true
}

// Set stores the value in L2 first (when enabled), then L1. An L2 write
// failure still populates L1 and logs a warning.
func (c *TieredCache) Set(ctx context.Context, keyspace Keyspace, key string, value []byte, ttl time.Duration, tags []string) {
	start := time.Now()
	defer func() {
		atomic.AddInt64(&c.setCount, 1)
		atomic.AddInt64(&c.setNanos, time.Since(start).Nanoseconds())
	}()

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl, tags); err != nil {
			slog.Warn("L2 cache set failed, keeping L1 only", "key", key, "error", err)
		}
	}
	l1TTL := c.cfg.L1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	c.populateL1(keyspace, key, value, tags, l1TTL)
}

func (c *TieredCache) populateL1(keyspace Keyspace, key string, value []byte, tags []string, ttl time.Duration) {
	l, ok := c.l1[keyspace]
	if !ok {
		return
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	for _, tag := range tags {
		if c.tagIndex[tag] == nil {
			c.tagIndex[tag] = make(map[string]Keyspace)
		}
		c.tagIndex[tag][key] = keyspace
	}
	c.mu.Unlock()
	l.Add(key, l1Entry{value: value, tags: tags, expiresAt: expiresAt})
}

func (c *TieredCache) dropFromTagIndex(key string, tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		if keys, ok := c.tagIndex[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.tagIndex, tag)
			}
		}
	}
}

// Delete removes a single key from both layers.
func (c *TieredCache) Delete(ctx context.Context, keyspace Keyspace, key string) {
	if l, ok := c.l1[keyspace]; ok {
		l.Remove(key)
	}
	if c.l2 != nil {
		if _, err := c.l2.DeleteByPattern(ctx, key); err != nil {
			slog.Warn("L2 cache delete failed", "key", key, "error", err)
		}
	}
}

// InvalidateByTags removes, across both layers, every entry carrying at
// least one of the tags. Returns the number of L1 entries removed.
func (c *TieredCache) InvalidateByTags(ctx context.Context, tags []string) int {
	removed := 0
	for _, tag := range tags {
		c.mu.RLock()
		keys := make(map[string]Keyspace, len(c.tagIndex[tag]))
		for k, ks := range c.tagIndex[tag] {
			keys[k] = ks
		}
		c.mu.RUnlock()
		for key, keyspace := range keys {
			if l, ok := c.l1[keyspace]; ok && l.Remove(key) {
				removed++
			}
		}
	}
	if c.l2 != nil {
		if _, err := c.l2.DeleteByTags(ctx, tags); err != nil {
			slog.Warn("L2 cache tag invalidation failed", "tags", tags, "error", err)
		}
	}
	return removed
}

// InvalidateTenant removes every entry tagged with the tenant. Entries
// promoted from L2 without tags are caught by the key segment, since the
// tenant is part of every cache key.
func (c *TieredCache) InvalidateTenant(ctx context.Context, tenantID string) int {
	removed := c.InvalidateByTags(ctx, []string{TenantTag(tenantID)})
	for _, l := range c.l1 {
		for _, key := range l.Keys() {
			if keyTenant(key) == tenantID && l.Remove(key) {
				removed++
			}
		}
	}
	if c.l2 != nil {
		if _, err := c.l2.DeleteByTenant(ctx, tenantID); err != nil {
			slog.Warn("L2 cache tenant invalidation failed", "tenant_id", tenantID, "error", err)
		}
	}
	return removed
}

// keyTenant extracts the tenant segment of "{prefix}:{keyspace}:{tenant}:{hash}".
func keyTenant(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) < 4 {
		return ""
	}
	return parts[len(parts)-2]
}

// InvalidateByPattern removes entries whose key matches the glob pattern.
func (c *TieredCache) InvalidateByPattern(ctx context.Context, pattern string) int {
	removed := 0
	for _, l := range c.l1 {
		for _, key := range l.Keys() {
			if ok, _ := path.Match(pattern, key); ok {
				if l.Remove(key) {
					removed++
				}
			}
		}
	}
	if c.l2 != nil {
		if _, err := c.l2.DeleteByPattern(ctx, pattern); err != nil {
			slog.Warn("L2 cache pattern invalidation failed", "pattern", pattern, "error", err)
		}
	}
	return removed
}

// Stats returns a snapshot of the accumulated counters.
func (c *TieredCache) Stats() Stats {
	l1h := atomic.LoadInt64(&c.l1Hits)
	l1m := atomic.LoadInt64(&c.l1Misses)
	l2h := atomic.LoadInt64(&c.l2Hits)
	l2m := atomic.LoadInt64(&c.l2Misses)

	s := Stats{L1Hits: l1h, L1Misses: l1m, L2Hits: l2h, L2Misses: l2m}
	if total := l1h + l2h + l2m; total > 0 {
		s.HitRatio = float64(l1h+l2h) / float64(total)
	}
	if n := atomic.LoadInt64(&c.getCount); n > 0 {
		s.AvgGetLatency = float64(atomic.LoadInt64(&c.getNanos)) / float64(n) / 1e6
	}
	if n := atomic.LoadInt64(&c.setCount); n > 0 {
		s.AvgSetLatency = float64(atomic.LoadInt64(&c.setNanos)) / float64(n) / 1e6
	}
	return s
}
