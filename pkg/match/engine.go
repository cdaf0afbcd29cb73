// Package match implements the rollup matchers: configurable, stateless
// rules that propose pairs of nodes believed to represent the same
// real-world resource, with a confidence score per pair.
package match

import (
	"sort"

	"github.com/crossgraph/rollup/pkg/models"
)

// NodeSet is one repository's nodes presented to a matcher.
type NodeSet struct {
	RepositoryID string
	Nodes        []*models.Node
}

// matcherFunc is the per-variant matching function. All variants are pure:
// same inputs, same outputs, no side effects.
type matcherFunc func(cfg models.MatcherConfig, source, target NodeSet) []models.MatchResult

// matcherFor selects the variant implementation by tag. The sum is closed
// over the four variants; unknown tags match nothing.
func matcherFor(t models.MatcherType) matcherFunc {
	switch t {
	case models.MatcherTypeARN:
		return matchARN
	case models.MatcherTypeResourceID:
		return matchResourceID
	case models.MatcherTypeName:
		return matchName
	case models.MatcherTypeTag:
		return matchTag
	default:
		return nil
	}
}

// Run evaluates the enabled matchers over a source/target node set pair.
// Matchers run in priority order (descending, declaration order on ties);
// duplicate canonical pairs keep the highest confidence, with the earlier
// (higher-priority) matcher winning equal-confidence duplicates. Results
// below each matcher's min confidence are dropped. Output is sorted by
// canonical pair for determinism.
func Run(cfgs []models.MatcherConfig, source, target NodeSet) []models.MatchResult {
	ordered := make([]models.MatcherConfig, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Enabled {
			ordered = append(ordered, cfg)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	best := make(map[string]models.MatchResult)
	var order []string
	for _, cfg := range ordered {
		fn := matcherFor(cfg.Type)
		if fn == nil {
			continue
		}
		for _, result := range fn(cfg, source, target) {
			if result.Confidence < cfg.MinConfidence {
				continue
			}
			canonical := result.Canonicalize()
			key := canonical.PairKey()
			existing, seen := best[key]
			if !seen {
				best[key] = canonical
				order = append(order, key)
				continue
			}
			if canonical.Confidence > existing.Confidence {
				best[key] = canonical
			}
		}
	}

	out := make([]models.MatchResult, 0, len(best))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PairKey() < out[j].PairKey()
	})
	return out
}
