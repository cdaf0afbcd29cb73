package match

import (
	"strings"

	"github.com/crossgraph/rollup/pkg/extract"
	"github.com/crossgraph/rollup/pkg/models"
)

// ARN confidence scores.
const (
	arnExactConfidence    = 100
	arnRegionAcctSwap     = 90
	arnWildcardConfidence = 80
	arnPartialBase        = 60
	arnPartialSpread      = 15
)

// arnMatcherAttributes are the metadata attributes scanned for ARN values.
// Unlike the index extractor, the matcher keeps wildcard patterns: a stored
// "arn:aws:s3:::logs-*" is matched as a pattern against concrete ARNs.
var arnMatcherAttributes = []string{"arn", "role_arn", "target_arn", "source_arn", "kms_key_arn", "execution_arn"}

type arnValue struct {
	attribute  string
	raw        string
	normalized string
	components map[string]string
	wildcard   bool
}

func nodeARNs(node *models.Node) []arnValue {
	var values []arnValue
	for _, attr := range arnMatcherAttributes {
		raw, ok := metaString(node.Metadata, attr)
		if !ok || raw == "" {
			continue
		}
		if strings.Contains(raw, "*") {
			values = append(values, arnValue{attribute: attr, raw: strings.TrimSpace(raw), wildcard: true})
			continue
		}
		normalized, components, err := extract.NormalizeARN(raw)
		if err != nil {
			continue
		}
		values = append(values, arnValue{
			attribute:  attr,
			raw:        raw,
			normalized: normalized,
			components: components,
		})
	}
	return values
}

// consideredComponents lists the component names enabled by cfg, in
// canonical order. A nil selection enables all five.
func consideredComponents(sel *models.ARNComponents) []string {
	if sel == nil {
		return []string{"partition", "service", "region", "account", "resource"}
	}
	var names []string
	if sel.Partition {
		names = append(names, "partition")
	}
	if sel.Service {
		names = append(names, "service")
	}
	if sel.Region {
		names = append(names, "region")
	}
	if sel.Account {
		names = append(names, "account")
	}
	if sel.Resource {
		names = append(names, "resource")
	}
	return names
}

// scoreARNPair compares two ARN values under the matcher config and returns
// the confidence, or false when the pair does not match.
func scoreARNPair(cfg *models.ARNMatcherConfig, a, b arnValue) (int, bool) {
	if cfg.Pattern != "" && (!wildcardMatch(cfg.Pattern, a.raw) || !wildcardMatch(cfg.Pattern, b.raw)) {
		return 0, false
	}

	if a.wildcard || b.wildcard {
		if a.wildcard && b.wildcard {
			if strings.EqualFold(a.raw, b.raw) {
				return arnWildcardConfidence, true
			}
			return 0, false
		}
		pattern, concrete := a, b
		if b.wildcard {
			pattern, concrete = b, a
		}
		if wildcardMatch(pattern.raw, concrete.normalized) || wildcardMatch(pattern.raw, concrete.raw) {
			return arnWildcardConfidence, true
		}
		return 0, false
	}

	considered := consideredComponents(cfg.Components)
	if len(considered) == 0 {
		return 0, false
	}
	equal := 0
	var diffs []string
	serviceEqual := false
	for _, name := range considered {
		if a.components[name] == b.components[name] {
			equal++
			if name == "service" {
				serviceEqual = true
			}
		} else {
			diffs = append(diffs, name)
		}
	}

	if len(diffs) == 0 {
		return arnExactConfidence, true
	}
	regionOrAccountOnly := true
	for _, name := range diffs {
		if name != "region" && name != "account" {
			regionOrAccountOnly = false
			break
		}
	}
	if regionOrAccountOnly {
		return arnRegionAcctSwap, true
	}
	if cfg.AllowPartial && serviceEqual && equal >= 3 {
		return arnPartialBase + arnPartialSpread*equal/len(considered), true
	}
	return 0, false
}

func matchARN(cfg models.MatcherConfig, source, target NodeSet) []models.MatchResult {
	ac := cfg.ARN
	if ac == nil {
		return nil
	}
	var results []models.MatchResult
	for _, s := range source.Nodes {
		sourceARNs := nodeARNs(s)
		if len(sourceARNs) == 0 {
			continue
		}
		for _, t := range target.Nodes {
			best, bestConf := models.MatchResult{}, -1
			for _, sv := range sourceARNs {
				for _, tv := range nodeARNs(t) {
					conf, ok := scoreARNPair(ac, sv, tv)
					if !ok || conf <= bestConf {
						continue
					}
					bestConf = conf
					best = models.MatchResult{
						SourceNodeID: s.ID,
						SourceRepoID: source.RepositoryID,
						TargetNodeID: t.ID,
						TargetRepoID: target.RepositoryID,
						Strategy:     models.MatcherTypeARN,
						Confidence:   conf,
						Details: models.MatchDetails{
							MatchedAttribute: sv.attribute,
							SourceValue:      sv.raw,
							TargetValue:      tv.raw,
						},
					}
				}
			}
			if bestConf >= 0 {
				results = append(results, best)
			}
		}
	}
	return results
}
