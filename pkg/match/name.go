package match

import (
	"regexp"

	"github.com/agext/levenshtein"

	"github.com/crossgraph/rollup/pkg/extract"
	"github.com/crossgraph/rollup/pkg/models"
)

// Name confidence scores.
const (
	nameExactConfidence = 80
	nameNamespaceBonus  = 10
	nameConfidenceCap   = 95
)

func matchName(cfg models.MatcherConfig, source, target NodeSet) []models.MatchResult {
	nc := cfg.Name
	if nc == nil {
		return nil
	}
	var namePattern, nsPattern *regexp.Regexp
	if nc.Pattern != "" {
		re, err := regexp.Compile(nc.Pattern)
		if err != nil {
			return nil
		}
		namePattern = re
	}
	if nc.NamespacePattern != "" {
		re, err := regexp.Compile(nc.NamespacePattern)
		if err != nil {
			return nil
		}
		nsPattern = re
	}

	var results []models.MatchResult
	for _, s := range source.Nodes {
		if s.Name == "" {
			continue
		}
		if namePattern != nil && !namePattern.MatchString(s.Name) {
			continue
		}
		if nsPattern != nil && !nsPattern.MatchString(s.Namespace) {
			continue
		}
		sn := extract.NormalizeName(s.Name, nc.CaseSensitive)
		for _, t := range target.Nodes {
			if t.Name == "" {
				continue
			}
			if namePattern != nil && !namePattern.MatchString(t.Name) {
				continue
			}
			if nsPattern != nil && !nsPattern.MatchString(t.Namespace) {
				continue
			}
			tn := extract.NormalizeName(t.Name, nc.CaseSensitive)

			conf := 0
			if sn == tn {
				conf = nameExactConfidence
			} else if nc.FuzzyThreshold != nil {
				// Threshold is inclusive; the score is the similarity
				// ratio itself.
				ratio := int(levenshtein.Similarity(sn, tn, nil) * 100)
				if ratio >= *nc.FuzzyThreshold {
					conf = ratio
				}
			}
			if conf == 0 {
				continue
			}
			if nc.IncludeNamespace && s.Namespace != "" &&
				extract.NormalizeName(s.Namespace, nc.CaseSensitive) == extract.NormalizeName(t.Namespace, nc.CaseSensitive) {
				conf += nameNamespaceBonus
				if conf > nameConfidenceCap {
					conf = nameConfidenceCap
				}
			}
			results = append(results, models.MatchResult{
				SourceNodeID: s.ID,
				SourceRepoID: source.RepositoryID,
				TargetNodeID: t.ID,
				TargetRepoID: target.RepositoryID,
				Strategy:     models.MatcherTypeName,
				Confidence:   conf,
				Details: models.MatchDetails{
					MatchedAttribute: "name",
					SourceValue:      s.Name,
					TargetValue:      t.Name,
				},
			})
		}
	}
	return results
}
