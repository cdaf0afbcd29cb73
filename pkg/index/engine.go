// Package index maintains the external object index: an inverted mapping
// from normalized external identifiers (ARNs, resource IDs, k8s
// references) to the graph nodes that declare them.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	rollupcache "github.com/crossgraph/rollup/pkg/cache"
	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/extract"
	"github.com/crossgraph/rollup/pkg/metrics"
	"github.com/crossgraph/rollup/pkg/models"
	"github.com/crossgraph/rollup/pkg/store"
)

const (
	lookupCacheTTL   = 15 * time.Minute
	maxSampledErrors = 10
)

// BuildOptions tunes one index build.
type BuildOptions struct {
	// MaxNodes caps the nodes processed per build; 0 means unlimited.
	MaxNodes int
	// BatchSize overrides the save batch size; 0 uses the configured default.
	BatchSize int
}

// RepoBuildResult is the per-repository slice of a build.
type RepoBuildResult struct {
	RepositoryID string `json:"repository_id"`
	ScanID       string `json:"scan_id,omitempty"`
	NodeCount    int    `json:"node_count"`
	EntryCount   int    `json:"entry_count"`
	ErrorCount   int    `json:"error_count"`
	Skipped      bool   `json:"skipped,omitempty"` // no scan available
	Failed       bool   `json:"failed,omitempty"`
}

// BuildResult summarizes one index build.
type BuildResult struct {
	TenantID           string            `json:"tenant_id"`
	Repos              []RepoBuildResult `json:"repos"`
	NodeCount          int               `json:"node_count"`
	Created            int               `json:"created"`
	Errors             int               `json:"errors"`
	SampleErrorNodeIDs []string          `json:"sample_error_node_ids,omitempty"`
	DurationMs         int64             `json:"duration_ms"`
}

// LookupResult is the outcome of an external-id lookup.
type LookupResult struct {
	Entries      []*models.ExternalObjectEntry `json:"entries"`
	FromCache    bool                          `json:"from_cache"`
	LookupTimeMs float64                       `json:"lookup_time_ms"`
}

// ReverseResult is the outcome of a node-to-references lookup.
type ReverseResult struct {
	References   []*models.ExternalObjectEntry `json:"references"`
	FromCache    bool                          `json:"from_cache"`
	LookupTimeMs float64                       `json:"lookup_time_ms"`
}

// StatsResult reports index size and lookup health for a tenant.
type StatsResult struct {
	TotalEntries    int                           `json:"total_entries"`
	EntriesByType   map[models.ReferenceType]int  `json:"entries_by_type"`
	CacheHitRatio   float64                       `json:"cache_hit_ratio"`
	AvgLookupTimeMs float64                       `json:"avg_lookup_time_ms"`
	LastBuildAt     time.Time                     `json:"last_build_at"`
	LastBuildTimeMs int64                         `json:"last_build_time_ms"`
}

// Engine builds and queries the external object index.
type Engine struct {
	scans    store.ScanGraphStore
	entries  store.ExternalObjectStore
	cache    *rollupcache.TieredCache // nil disables caching
	registry *extract.Registry
	limits   *config.LimitsConfig
	group    singleflight.Group

	lookups     int64
	lookupNanos int64
	cacheHits   int64

	mu          sync.Mutex
	lastBuildAt time.Time
	lastBuildMs int64
}

// NewEngine wires an index engine. cache may be nil.
func NewEngine(scans store.ScanGraphStore, entries store.ExternalObjectStore, cache *rollupcache.TieredCache, registry *extract.Registry, limits *config.LimitsConfig) *Engine {
	if registry == nil {
		registry = extract.DefaultRegistry()
	}
	return &Engine{
		scans:    scans,
		entries:  entries,
		cache:    cache,
		registry: registry,
		limits:   limits,
	}
}

// Build indexes the latest scan of each repository. Repositories without a
// scan are skipped; a repository whose scan cannot be fetched is logged and
// counted as failed. The build fails only when every repository fails or
// the per-node error ratio exceeds the configured bound. Concurrent builds
// are serialized per tenant and repository, so overlapping repository sets
// index each shared repository once.
func (e *Engine) Build(ctx context.Context, tenantID string, repoIDs []string, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.limits.IndexBatchSize
	}

	result := &BuildResult{TenantID: tenantID}
	failedRepos := 0
	remaining := opts.MaxNodes

	for _, repoID := range repoIDs {
		budget := 0
		if opts.MaxNodes > 0 {
			budget = remaining
		}
		v, _, _ := e.group.Do(tenantID+"\x00"+repoID, func() (any, error) {
			return e.buildRepo(ctx, tenantID, repoID, batchSize, budget), nil
		})
		out := v.(repoBuildOutcome)

		if out.repo.Failed {
			failedRepos++
		}
		for _, nodeID := range out.samples {
			if len(result.SampleErrorNodeIDs) < maxSampledErrors {
				result.SampleErrorNodeIDs = append(result.SampleErrorNodeIDs, nodeID)
			}
		}
		result.Repos = append(result.Repos, out.repo)
		result.NodeCount += out.repo.NodeCount
		result.Created += out.repo.EntryCount
		result.Errors += out.repo.ErrorCount

		if opts.MaxNodes > 0 {
			remaining -= out.repo.NodeCount
			if remaining <= 0 {
				break
			}
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	e.mu.Lock()
	e.lastBuildAt = time.Now().UTC()
	e.lastBuildMs = result.DurationMs
	e.mu.Unlock()

	if len(repoIDs) > 0 && failedRepos == len(repoIDs) {
		metrics.IndexBuildsTotal.WithLabelValues("failure").Inc()
		return nil, &errs.IndexBuildError{
			Message: fmt.Sprintf("all %d repositories failed", len(repoIDs)),
			Created: result.Created,
			Errors:  result.Errors,
		}
	}
	if result.NodeCount > 0 && float64(result.Errors)/float64(result.NodeCount) > e.limits.IndexErrorRatio {
		metrics.IndexBuildsTotal.WithLabelValues("failure").Inc()
		return nil, &errs.IndexBuildError{
			Message:            fmt.Sprintf("error ratio %.2f exceeds %.2f", float64(result.Errors)/float64(result.NodeCount), e.limits.IndexErrorRatio),
			Created:            result.Created,
			Errors:             result.Errors,
			SampleErrorNodeIDs: result.SampleErrorNodeIDs,
		}
	}

	metrics.IndexBuildsTotal.WithLabelValues("success").Inc()
	metrics.IndexEntriesCreated.Add(float64(result.Created))
	metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())

	throughput := 0.0
	if secs := time.Since(start).Seconds(); secs > 0 {
		throughput = float64(result.NodeCount) / secs
	}
	slog.Info("Index build finished",
		"tenant_id", tenantID,
		"node_count", result.NodeCount,
		"entry_count", result.Created,
		"error_count", result.Errors,
		"duration_ms", result.DurationMs,
		"throughput_nodes_per_sec", throughput)
	return result, nil
}

// repoBuildOutcome carries one repository's build slice across the
// singleflight boundary.
type repoBuildOutcome struct {
	repo    RepoBuildResult
	samples []string
}

func (e *Engine) buildRepo(ctx context.Context, tenantID, repoID string, batchSize, maxNodes int) repoBuildOutcome {
	out := repoBuildOutcome{repo: RepoBuildResult{RepositoryID: repoID}}

	scanID, err := e.scans.GetLatestScan(ctx, tenantID, repoID)
	if err != nil {
		slog.Warn("Index build: cannot resolve latest scan, continuing",
			"tenant_id", tenantID, "repository_id", repoID, "error", err)
		out.repo.Failed = true
		return out
	}
	if scanID == "" {
		out.repo.Skipped = true
		return out
	}
	out.repo.ScanID = scanID

	graph, err := e.scans.GetGraph(ctx, tenantID, scanID)
	if err != nil {
		slog.Warn("Index build: cannot fetch scan graph, continuing",
			"tenant_id", tenantID, "repository_id", repoID, "scan_id", scanID, "error", err)
		out.repo.Failed = true
		return out
	}

	nodeIDs := make([]string, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	if maxNodes > 0 && len(nodeIDs) > maxNodes {
		nodeIDs = nodeIDs[:maxNodes]
	}

	var batch []*models.ExternalObjectEntry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		saved, err := e.entries.SaveEntries(ctx, batch)
		if err != nil {
			slog.Error("Index build: batch save failed",
				"tenant_id", tenantID, "repository_id", repoID, "batch_size", len(batch), "error", err)
			out.repo.ErrorCount += len(batch)
		} else {
			out.repo.EntryCount += saved
		}
		batch = batch[:0]
	}

	now := time.Now().UTC()
	for _, nodeID := range nodeIDs {
		node := graph.Nodes[nodeID]
		out.repo.NodeCount++

		refs, err := e.extractNode(node)
		if err != nil {
			out.repo.ErrorCount++
			if len(out.samples) < maxSampledErrors {
				out.samples = append(out.samples, nodeID)
			}
			continue
		}
		for _, ref := range refs {
			batch = append(batch, &models.ExternalObjectEntry{
				ID:            models.NewEntryID(),
				ExternalID:    ref.ExternalID,
				ReferenceType: ref.ReferenceType,
				NormalizedID:  ref.NormalizedID,
				TenantID:      tenantID,
				RepositoryID:  repoID,
				ScanID:        scanID,
				NodeID:        node.ID,
				NodeName:      node.Name,
				NodeType:      node.Type,
				FilePath:      node.FilePath,
				Components:    ref.Components,
				IndexedAt:     now,
			})
			if len(batch) >= batchSize {
				flush()
			}
		}
	}
	flush()

	if e.cache != nil {
		e.cache.InvalidateByPattern(ctx, lookupKey(tenantID, repoID, "*"))
		e.cache.InvalidateByPattern(ctx, reverseKey(tenantID, scanID, "*"))
	}
	return out
}

// extractNode runs the registry extractors with per-node panic recovery.
func (e *Engine) extractNode(node *models.Node) (refs []models.Reference, err error) {
	defer func() {
		if r := recover(); r != nil {
			refs = nil
			err = fmt.Errorf("extractor panic on node %s: %v", node.ID, r)
		}
	}()
	return e.registry.ExtractAll(node)
}

// LookupByExternalId resolves the entries declaring an external identifier,
// read through the index cache.
func (e *Engine) LookupByExternalId(ctx context.Context, tenantID, externalID string, filter models.EntryFilter) (*LookupResult, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, &errs.LookupError{Message: "externalId must not be empty"}
	}
	start := time.Now()
	defer e.recordLookup(start)

	key := lookupKey(tenantID, filter.RepositoryID, externalID)
	if e.cache != nil {
		if raw, ok := e.cache.Get(ctx, rollupcache.KeyspaceIndex, key); ok {
			var entries []*models.ExternalObjectEntry
			if err := json.Unmarshal(raw, &entries); err == nil {
				atomic.AddInt64(&e.cacheHits, 1)
				return &LookupResult{
					Entries:      filterByType(entries, filter.ReferenceType),
					FromCache:    true,
					LookupTimeMs: elapsedMs(start),
				}, nil
			}
		}
	}

	// The cache key carries no reference type, so the cached set must be
	// the unfiltered one; type filtering happens on read for both paths.
	storeFilter := filter
	storeFilter.ReferenceType = ""
	entries, err := e.entries.FindByExternalID(ctx, tenantID, externalID, storeFilter)
	if err != nil {
		return nil, err
	}
	if e.cache != nil && len(entries) > 0 {
		if raw, err := json.Marshal(entries); err == nil {
			e.cache.Set(ctx, rollupcache.KeyspaceIndex, key, raw, lookupCacheTTL,
				[]string{rollupcache.TenantTag(tenantID)})
		}
	}
	return &LookupResult{Entries: filterByType(entries, filter.ReferenceType), LookupTimeMs: elapsedMs(start)}, nil
}

// ReverseLookup resolves the references a node declares.
func (e *Engine) ReverseLookup(ctx context.Context, tenantID, nodeID, scanID string) (*ReverseResult, error) {
	if strings.TrimSpace(nodeID) == "" {
		return nil, &errs.LookupError{Message: "nodeId must not be empty"}
	}
	start := time.Now()
	defer e.recordLookup(start)

	key := reverseKey(tenantID, scanID, nodeID)
	if e.cache != nil {
		if raw, ok := e.cache.Get(ctx, rollupcache.KeyspaceIndex, key); ok {
			var refs []*models.ExternalObjectEntry
			if err := json.Unmarshal(raw, &refs); err == nil {
				atomic.AddInt64(&e.cacheHits, 1)
				return &ReverseResult{References: refs, FromCache: true, LookupTimeMs: elapsedMs(start)}, nil
			}
		}
	}

	refs, err := e.entries.FindByNodeID(ctx, tenantID, nodeID, scanID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil && len(refs) > 0 {
		if raw, err := json.Marshal(refs); err == nil {
			e.cache.Set(ctx, rollupcache.KeyspaceIndex, key, raw, lookupCacheTTL,
				[]string{rollupcache.TenantTag(tenantID)})
		}
	}
	return &ReverseResult{References: refs, LookupTimeMs: elapsedMs(start)}, nil
}

// Invalidate removes entries matching the filter from store and cache.
func (e *Engine) Invalidate(ctx context.Context, tenantID string, filter models.EntryFilter) (int, error) {
	count, err := e.entries.DeleteEntries(ctx, tenantID, filter)
	if err != nil {
		return 0, err
	}
	if e.cache != nil {
		repo := filter.RepositoryID
		if repo == "" {
			repo = "*"
		}
		e.cache.InvalidateByPattern(ctx, lookupKey(tenantID, repo, "*"))
		scan := filter.ScanID
		if scan == "" {
			scan = "*"
		}
		e.cache.InvalidateByPattern(ctx, reverseKey(tenantID, scan, "*"))
	}
	return count, nil
}

// Stats reports index size and lookup health for a tenant.
func (e *Engine) Stats(ctx context.Context, tenantID string) (*StatsResult, error) {
	total, err := e.entries.CountEntries(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byType, err := e.entries.CountByType(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	stats := &StatsResult{TotalEntries: total, EntriesByType: byType}
	if lookups := atomic.LoadInt64(&e.lookups); lookups > 0 {
		stats.CacheHitRatio = float64(atomic.LoadInt64(&e.cacheHits)) / float64(lookups)
		stats.AvgLookupTimeMs = float64(atomic.LoadInt64(&e.lookupNanos)) / float64(lookups) / 1e6
	}
	e.mu.Lock()
	stats.LastBuildAt = e.lastBuildAt
	stats.LastBuildTimeMs = e.lastBuildMs
	e.mu.Unlock()
	return stats, nil
}

func (e *Engine) recordLookup(start time.Time) {
	atomic.AddInt64(&e.lookups, 1)
	atomic.AddInt64(&e.lookupNanos, time.Since(start).Nanoseconds())
}

func lookupKey(tenantID, repoID, externalID string) string {
	if repoID == "" {
		repoID = "_"
	}
	return tenantID + ":" + repoID + ":" + externalID
}

func reverseKey(tenantID, scanID, nodeID string) string {
	if scanID == "" {
		scanID = "_"
	}
	return "rev:" + tenantID + ":" + scanID + ":" + nodeID
}

func filterByType(entries []*models.ExternalObjectEntry, refType models.ReferenceType) []*models.ExternalObjectEntry {
	if refType == "" {
		return entries
	}
	filtered := make([]*models.ExternalObjectEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.ReferenceType == refType {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}
