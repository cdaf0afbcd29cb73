package match

import (
	"regexp"
	"sort"
	"strings"

	"github.com/crossgraph/rollup/pkg/models"
)

// Tag confidence scores.
const (
	tagAllConfidence  = 85
	tagAnyConfidence  = 70
	tagPatternPenalty = 5
)

func matchTag(cfg models.MatcherConfig, source, target NodeSet) []models.MatchResult {
	tc := cfg.Tag
	if tc == nil || len(tc.RequiredTags) == 0 {
		return nil
	}
	mode := tc.MatchMode
	if mode == "" {
		mode = models.MatchModeAll
	}

	patterns := make([]*regexp.Regexp, len(tc.RequiredTags))
	for i, req := range tc.RequiredTags {
		if req.ValuePattern == "" {
			continue
		}
		// Value patterns match case-insensitively.
		re, err := regexp.Compile("(?i)" + req.ValuePattern)
		if err != nil {
			return nil
		}
		patterns[i] = re
	}

	ignored := make(map[string]bool, len(tc.IgnoreTags))
	for _, key := range tc.IgnoreTags {
		ignored[key] = true
	}

	var results []models.MatchResult
	for _, s := range source.Nodes {
		if len(s.Tags) == 0 {
			continue
		}
		for _, t := range target.Nodes {
			if len(t.Tags) == 0 {
				continue
			}

			matched := 0
			usedPattern := false
			var pairs []string
			for i, req := range tc.RequiredTags {
				if ignored[req.Key] {
					continue
				}
				sv, sok := s.Tags[req.Key]
				tv, tok := t.Tags[req.Key]
				if !sok || !tok {
					continue
				}
				switch {
				case req.Value != "":
					if sv != req.Value || tv != req.Value {
						continue
					}
				case patterns[i] != nil:
					if !patterns[i].MatchString(sv) || !patterns[i].MatchString(tv) {
						continue
					}
					usedPattern = true
				default:
					// Key-only requirements still demand equal values.
					if sv != tv {
						continue
					}
				}
				matched++
				pairs = append(pairs, req.Key+"="+sv)
			}

			conf := 0
			switch mode {
			case models.MatchModeAll:
				if matched == len(tc.RequiredTags) {
					conf = tagAllConfidence
				}
			case models.MatchModeAny:
				if matched > 0 {
					conf = tagAnyConfidence
				}
			}
			if conf == 0 {
				continue
			}
			if usedPattern {
				conf -= tagPatternPenalty
			}
			sort.Strings(pairs)
			value := strings.Join(pairs, ",")
			results = append(results, models.MatchResult{
				SourceNodeID: s.ID,
				SourceRepoID: source.RepositoryID,
				TargetNodeID: t.ID,
				TargetRepoID: target.RepositoryID,
				Strategy:     models.MatcherTypeTag,
				Confidence:   conf,
				Details: models.MatchDetails{
					MatchedAttribute: "tags",
					SourceValue:      value,
					TargetValue:      value,
				},
			})
		}
	}
	return results
}
