// Package blast computes blast radii over persisted merged graphs: given a
// set of changed nodes, which merged nodes are impacted, how directly, and
// where the impact crosses repository boundaries.
package blast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	rollupcache "github.com/crossgraph/rollup/pkg/cache"
	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/store"
)

const cacheTTL = 30 * time.Minute

// Query selects the seed nodes and traversal bounds for one computation.
type Query struct {
	NodeIDs          []string `json:"node_ids"`
	MaxDepth         int      `json:"max_depth,omitempty"`
	IncludeCrossRepo bool     `json:"include_cross_repo,omitempty"`
}

// Impact is one impacted merged node with its BFS depth from the seed set.
type Impact struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Depth  int    `json:"depth"`
}

// Summary aggregates the impact counts.
type Summary struct {
	TotalImpacted  int `json:"total_impacted"`
	DirectCount    int `json:"direct_count"`
	IndirectCount  int `json:"indirect_count"`
	CrossRepoCount int `json:"cross_repo_count"`
}

// Result is the outcome of one blast-radius computation. Truncated results
// are partial, not errors: the visit bound was reached mid-traversal.
type Result struct {
	ExecutionID     string   `json:"execution_id"`
	SeedNodeIDs     []string `json:"seed_node_ids"`
	DirectImpact    []Impact `json:"direct_impact"`
	IndirectImpact  []Impact `json:"indirect_impact"`
	CrossRepoImpact []Impact `json:"cross_repo_impact,omitempty"`
	Summary         Summary  `json:"summary"`
	Truncated       bool     `json:"truncated"`
}

// Engine computes blast radii over merged graphs, reading through the
// blast-radius cache keyspace.
type Engine struct {
	graphs        store.ScanGraphStore
	cache         *rollupcache.TieredCache // nil disables caching
	keyPrefix     string
	maxDepth      int
	maxGraphNodes int
}

// NewEngine wires the blast-radius engine. cache may be nil.
func NewEngine(graphs store.ScanGraphStore, cache *rollupcache.TieredCache, keyPrefix string, limits *config.LimitsConfig) *Engine {
	return &Engine{
		graphs:        graphs,
		cache:         cache,
		keyPrefix:     keyPrefix,
		maxDepth:      limits.MaxBlastDepth,
		maxGraphNodes: limits.MaxGraphNodes,
	}
}

// Compute runs a bounded reverse-dependency BFS from the seed nodes over
// the merged graph persisted by executionID.
func (e *Engine) Compute(ctx context.Context, tenantID, executionID string, q Query) (*Result, error) {
	if len(q.NodeIDs) == 0 {
		return nil, errs.NewValidationError("node_ids", "at least one seed node is required")
	}
	depth := q.MaxDepth
	if depth <= 0 || depth > e.maxDepth {
		depth = e.maxDepth
	}

	seeds := append([]string(nil), q.NodeIDs...)
	sort.Strings(seeds)
	key := ""
	if e.cache != nil {
		key = rollupcache.Key(e.keyPrefix, rollupcache.KeyspaceBlastRadius, tenantID, map[string]any{
			"execution_id":       executionID,
			"node_ids":           seeds,
			"max_depth":          depth,
			"include_cross_repo": q.IncludeCrossRepo,
		})
		if raw, ok := e.cache.Get(ctx, rollupcache.KeyspaceBlastRadius, key); ok {
			var cached Result
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
			slog.Warn("Discarding undecodable cached blast radius", "key", key)
		}
	}

	graph, err := e.graphs.GetMergedGraph(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}

	result := e.traverse(buildArena(graph), seeds, depth, q.IncludeCrossRepo)
	result.ExecutionID = executionID

	if e.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			e.cache.Set(ctx, rollupcache.KeyspaceBlastRadius, key, raw, cacheTTL,
				[]string{rollupcache.TenantTag(tenantID)})
		}
	}
	return result, nil
}

func (e *Engine) traverse(a *arena, seeds []string, maxDepth int, includeCrossRepo bool) *Result {
	result := &Result{
		SeedNodeIDs:    seeds,
		DirectImpact:   []Impact{},
		IndirectImpact: []Impact{},
	}

	visited := newBitset(len(a.ids))
	var frontier []int32
	for _, id := range seeds {
		if i, ok := a.index[id]; ok && !visited.get(i) {
			visited.set(i)
			frontier = append(frontier, int32(i))
		}
	}

	visitCount := 0
	for depth := 1; depth <= maxDepth && len(frontier) > 0 && !result.Truncated; depth++ {
		var next []int32
		for _, node := range frontier {
			for _, arc := range a.rev[node] {
				i := int(arc.to)
				if visited.get(i) {
					continue
				}
				if visitCount >= e.maxGraphNodes {
					result.Truncated = true
					break
				}
				visited.set(i)
				visitCount++

				impact := Impact{
					NodeID: a.ids[i],
					Name:   a.nodes[i].Name,
					Type:   a.nodes[i].Type,
					Depth:  depth,
				}
				if depth == 1 {
					result.DirectImpact = append(result.DirectImpact, impact)
				} else {
					result.IndirectImpact = append(result.IndirectImpact, impact)
				}
				if includeCrossRepo && arc.crossRepo {
					result.CrossRepoImpact = append(result.CrossRepoImpact, impact)
				}
				next = append(next, arc.to)
			}
			if result.Truncated {
				break
			}
		}
		frontier = next
	}

	sortImpacts(result.DirectImpact)
	sortImpacts(result.IndirectImpact)
	sortImpacts(result.CrossRepoImpact)
	result.Summary = Summary{
		TotalImpacted:  len(result.DirectImpact) + len(result.IndirectImpact),
		DirectCount:    len(result.DirectImpact),
		IndirectCount:  len(result.IndirectImpact),
		CrossRepoCount: len(result.CrossRepoImpact),
	}
	return result
}

func sortImpacts(impacts []Impact) {
	sort.Slice(impacts, func(i, j int) bool {
		if impacts[i].Depth != impacts[j].Depth {
			return impacts[i].Depth < impacts[j].Depth
		}
		return impacts[i].NodeID < impacts[j].NodeID
	})
}
