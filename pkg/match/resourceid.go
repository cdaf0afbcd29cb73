package match

import (
	"regexp"

	"github.com/crossgraph/rollup/pkg/extract"
	"github.com/crossgraph/rollup/pkg/models"
)

// Resource-id confidence scores.
const (
	resourceIDExactConfidence     = 95
	resourceIDPrefixConfidence    = 85
	resourceIDExtractedConfidence = 75
)

const defaultIDAttribute = "id"

// extractID applies the extraction regex, preferring the first capture
// group when present.
func extractID(re *regexp.Regexp, value string) string {
	m := re.FindStringSubmatch(value)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return m[1]
	default:
		return m[0]
	}
}

func matchResourceID(cfg models.MatcherConfig, source, target NodeSet) []models.MatchResult {
	rc := cfg.ResourceID
	if rc == nil || rc.ResourceType == "" {
		return nil
	}
	attr := rc.IDAttribute
	if attr == "" {
		attr = defaultIDAttribute
	}
	var extraction *regexp.Regexp
	if rc.ExtractionRegex != "" {
		re, err := regexp.Compile(rc.ExtractionRegex)
		if err != nil {
			return nil
		}
		extraction = re
	}

	var results []models.MatchResult
	for _, s := range source.Nodes {
		if s.Type != rc.ResourceType {
			continue
		}
		sv, ok := metaString(s.Metadata, attr)
		if !ok || sv == "" {
			continue
		}
		for _, t := range target.Nodes {
			if t.Type != rc.ResourceType {
				continue
			}
			tv, ok := metaString(t.Metadata, attr)
			if !ok || tv == "" {
				continue
			}

			conf := 0
			switch {
			case sv == tv:
				conf = resourceIDExactConfidence
			case rc.Normalize && extract.NormalizeResourceID(sv) == extract.NormalizeResourceID(tv):
				conf = resourceIDExactConfidence
			case extract.StripProviderPrefix(sv) == extract.StripProviderPrefix(tv):
				conf = resourceIDPrefixConfidence
			case extraction != nil:
				se, te := extractID(extraction, sv), extractID(extraction, tv)
				if se != "" && se == te {
					conf = resourceIDExtractedConfidence
				}
			}
			if conf == 0 {
				continue
			}
			results = append(results, models.MatchResult{
				SourceNodeID: s.ID,
				SourceRepoID: source.RepositoryID,
				TargetNodeID: t.ID,
				TargetRepoID: target.RepositoryID,
				Strategy:     models.MatcherTypeResourceID,
				Confidence:   conf,
				Details: models.MatchDetails{
					MatchedAttribute: attr,
					SourceValue:      sv,
					TargetValue:      tv,
				},
			})
		}
	}
	return results
}
