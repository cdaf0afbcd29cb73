// Package merge collapses matched nodes across repository graphs into a
// single merged graph. The engine is deterministic: identical inputs
// produce byte-identical output, including merged node IDs.
package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/models"
)

// RepoGraph is one repository's scan graph, in the rollup's declared
// repository order.
type RepoGraph struct {
	RepositoryID string
	Graph        *models.Graph
}

// Input is everything the merge engine needs for one run. Repos must be in
// RollupConfig declaration order; that order drives preferFirstSource and
// preferLastSource.
type Input struct {
	Repos   []RepoGraph
	Matches []models.MatchResult
	Options models.MergeOptions
}

type nodeRef struct {
	repoID string
	node   *models.Node
}

func nodeKey(repoID, nodeID string) string { return repoID + "\x00" + nodeID }

// Merge runs union-find over the match results and builds one MergedNode
// per connected component. Unmatched nodes become singleton merged nodes so
// the merged graph covers every resource. Fails with a ConfigurationError
// when the component count exceeds Options.MaxNodes.
func Merge(in Input) (*models.MergedGraph, error) {
	if in.Options.MaxNodes <= 0 {
		return nil, errs.NewConfigurationError("merge options: maxNodes must be positive")
	}

	repoPos := make(map[string]int, len(in.Repos))
	nodes := make(map[string]nodeRef)
	var keys []string
	for pos, repo := range in.Repos {
		repoPos[repo.RepositoryID] = pos
		if repo.Graph == nil {
			continue
		}
		for _, node := range repo.Graph.Nodes {
			key := nodeKey(repo.RepositoryID, node.ID)
			nodes[key] = nodeRef{repoID: repo.RepositoryID, node: node}
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	uf := newUnionFind(keys)
	componentMatches := make(map[string][]models.MatchResult)
	for _, m := range in.Matches {
		a := nodeKey(m.SourceRepoID, m.SourceNodeID)
		b := nodeKey(m.TargetRepoID, m.TargetNodeID)
		if _, ok := nodes[a]; !ok {
			continue
		}
		if _, ok := nodes[b]; !ok {
			continue
		}
		uf.union(a, b)
	}
	for _, m := range in.Matches {
		a := nodeKey(m.SourceRepoID, m.SourceNodeID)
		if _, ok := nodes[a]; !ok {
			continue
		}
		if _, ok := nodes[nodeKey(m.TargetRepoID, m.TargetNodeID)]; !ok {
			continue
		}
		root := uf.find(a)
		componentMatches[root] = append(componentMatches[root], m)
	}

	components := make(map[string][]string)
	for _, key := range keys {
		root := uf.find(key)
		components[root] = append(components[root], key)
	}
	if len(components) > in.Options.MaxNodes {
		return nil, errs.NewConfigurationError(
			"merge would produce %d nodes, exceeding maxNodes=%d", len(components), in.Options.MaxNodes)
	}

	merged := &models.MergedGraph{Nodes: make(map[string]*models.MergedNode, len(components))}
	mergedIDByKey := make(map[string]string, len(nodes))

	roots := make([]string, 0, len(components))
	for root := range components {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		member := components[root]
		node := buildMergedNode(member, nodes, componentMatches[root], repoPos, in.Options)
		merged.Nodes[node.ID] = node
		for _, key := range member {
			mergedIDByKey[key] = node.ID
		}
	}

	merged.Edges = buildMergedEdges(in, merged.Nodes, mergedIDByKey)
	return merged, nil
}

// buildMergedNode assembles one MergedNode from a component's members.
func buildMergedNode(member []string, nodes map[string]nodeRef, matches []models.MatchResult, repoPos map[string]int, opts models.MergeOptions) *models.MergedNode {
	refs := make([]nodeRef, 0, len(member))
	sourceNodeIDs := make([]string, 0, len(member))
	repoSet := make(map[string]bool)
	for _, key := range member {
		ref := nodes[key]
		refs = append(refs, ref)
		sourceNodeIDs = append(sourceNodeIDs, ref.node.ID)
		repoSet[ref.repoID] = true
	}
	sort.Strings(sourceNodeIDs)

	sourceRepoIDs := make([]string, 0, len(repoSet))
	for repoID := range repoSet {
		sourceRepoIDs = append(sourceRepoIDs, repoID)
	}
	sort.Strings(sourceRepoIDs)

	// Declaration order, then node ID: the deterministic source order for
	// first/last conflict resolution.
	sort.Slice(refs, func(i, j int) bool {
		if repoPos[refs[i].repoID] != repoPos[refs[j].repoID] {
			return repoPos[refs[i].repoID] < repoPos[refs[j].repoID]
		}
		return refs[i].node.ID < refs[j].node.ID
	})

	best := bestMatch(matches)
	winner := pickWinner(refs, best, opts.ConflictResolution)

	node := &models.MergedNode{
		ID:            mergedNodeID(sourceNodeIDs),
		Type:          winner.node.Type,
		Name:          winner.node.Name,
		SourceNodeIDs: sourceNodeIDs,
		SourceRepoIDs: sourceRepoIDs,
		Metadata:      mergeMetadata(refs, winner, opts.ConflictResolution),
		MatchInfo: models.MatchInfo{
			Strategy:   best.Strategy,
			Confidence: best.Confidence,
			MatchCount: len(matches),
		},
	}
	if opts.PreserveSourceInfo {
		node.Locations = locations(refs)
	}
	return node
}

// bestMatch returns the highest-confidence match, ties broken by the
// lexicographically smaller canonical pair.
func bestMatch(matches []models.MatchResult) models.MatchResult {
	var best models.MatchResult
	for _, m := range matches {
		if m.Confidence > best.Confidence ||
			(m.Confidence == best.Confidence && best.Strategy != "" && m.PairKey() < best.PairKey()) {
			best = m.Canonicalize()
		}
	}
	return best
}

// pickWinner selects the node whose scalar fields (type, name) and metadata
// take precedence.
func pickWinner(ordered []nodeRef, best models.MatchResult, resolution models.ConflictResolution) nodeRef {
	switch resolution {
	case models.PreferLastSource:
		return ordered[len(ordered)-1]
	case models.PreferHigherConfidence:
		if best.Strategy != "" {
			for _, ref := range ordered {
				if ref.repoID == best.SourceRepoID && ref.node.ID == best.SourceNodeID {
					return ref
				}
			}
		}
		return ordered[0]
	default: // preferFirstSource, union
		return ordered[0]
	}
}

// mergeMetadata combines member metadata under the conflict-resolution rule.
func mergeMetadata(ordered []nodeRef, winner nodeRef, resolution models.ConflictResolution) map[string]any {
	out := make(map[string]any)
	switch resolution {
	case models.UnionValues:
		distinct := make(map[string][]any)
		for _, ref := range ordered {
			for key, value := range ref.node.Metadata {
				if !containsValue(distinct[key], value) {
					distinct[key] = append(distinct[key], value)
				}
			}
		}
		for key, values := range distinct {
			if len(values) == 1 {
				out[key] = values[0]
				continue
			}
			sort.Slice(values, func(i, j int) bool {
				return fmt.Sprint(values[i]) < fmt.Sprint(values[j])
			})
			out[key] = values
		}
	case models.PreferLastSource:
		for _, ref := range ordered {
			for key, value := range ref.node.Metadata {
				out[key] = value
			}
		}
	default: // preferFirstSource, preferHigherConfidence
		// Winner's values take precedence; the rest fill missing keys in
		// deterministic order.
		for key, value := range winner.node.Metadata {
			out[key] = value
		}
		for _, ref := range ordered {
			for key, value := range ref.node.Metadata {
				if _, exists := out[key]; !exists {
					out[key] = value
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func containsValue(values []any, value any) bool {
	for _, v := range values {
		if fmt.Sprint(v) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}

func locations(refs []nodeRef) []models.Location {
	var locs []models.Location
	for _, ref := range refs {
		if ref.node.FilePath == "" {
			continue
		}
		locs = append(locs, models.Location{
			RepositoryID: ref.repoID,
			File:         ref.node.FilePath,
			LineStart:    ref.node.LineStart,
			LineEnd:      ref.node.LineEnd,
		})
	}
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].RepositoryID != locs[j].RepositoryID {
			return locs[i].RepositoryID < locs[j].RepositoryID
		}
		return locs[i].File < locs[j].File
	})
	return locs
}

// mergedNodeID derives the stable merged node ID from the sorted source
// node IDs.
func mergedNodeID(sortedSourceNodeIDs []string) string {
	sum := sha256.Sum256([]byte(strings.Join(sortedSourceNodeIDs, "\x00")))
	return "merged_" + hex.EncodeToString(sum[:16])
}

// buildMergedEdges lifts repository edges to the merged level. Edges whose
// endpoints collapsed into the same merged node disappear; duplicates keep
// the maximum confidence. Cross-repo edges (either endpoint spans more than
// one repository) are emitted only when CreateCrossRepoEdges is set.
func buildMergedEdges(in Input, mergedNodes map[string]*models.MergedNode, mergedIDByKey map[string]string) []models.MergedEdge {
	type edgeKey struct{ source, target string }
	bestEdges := make(map[edgeKey]models.MergedEdge)

	for _, repo := range in.Repos {
		if repo.Graph == nil {
			continue
		}
		for _, edge := range repo.Graph.Edges {
			sourceID, ok := mergedIDByKey[nodeKey(repo.RepositoryID, edge.Source)]
			if !ok {
				continue
			}
			targetID, ok := mergedIDByKey[nodeKey(repo.RepositoryID, edge.Target)]
			if !ok || sourceID == targetID {
				continue
			}
			sourceNode, targetNode := mergedNodes[sourceID], mergedNodes[targetID]
			crossRepo := len(unionRepos(sourceNode, targetNode)) > 1
			if crossRepo && !in.Options.CreateCrossRepoEdges {
				continue
			}
			confidence := sourceNode.MatchInfo.Confidence
			if targetNode.MatchInfo.Confidence > confidence {
				confidence = targetNode.MatchInfo.Confidence
			}
			key := edgeKey{sourceID, targetID}
			if existing, ok := bestEdges[key]; !ok || confidence > existing.Confidence {
				bestEdges[key] = models.MergedEdge{
					SourceID:   sourceID,
					TargetID:   targetID,
					CrossRepo:  crossRepo,
					Confidence: confidence,
				}
			}
		}
	}

	edges := make([]models.MergedEdge, 0, len(bestEdges))
	for _, edge := range bestEdges {
		edges = append(edges, edge)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		return edges[i].TargetID < edges[j].TargetID
	})
	return edges
}

func unionRepos(a, b *models.MergedNode) map[string]bool {
	repos := make(map[string]bool, len(a.SourceRepoIDs)+len(b.SourceRepoIDs))
	for _, r := range a.SourceRepoIDs {
		repos[r] = true
	}
	for _, r := range b.SourceRepoIDs {
		repos[r] = true
	}
	return repos
}
