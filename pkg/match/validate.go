package match

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/models"
)

// Validate checks a matcher config before it is accepted into a rollup or
// used by an execution. Returns a *errs.ValidationError on the first
// problem found.
func Validate(cfg models.MatcherConfig) error {
	if cfg.Priority < 0 || cfg.Priority > 100 {
		return errs.NewValidationError("priority", "must be between 0 and 100")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 100 {
		return errs.NewValidationError("min_confidence", "must be between 0 and 100")
	}

	switch cfg.Type {
	case models.MatcherTypeARN:
		return validateARN(cfg.ARN)
	case models.MatcherTypeResourceID:
		return validateResourceID(cfg.ResourceID)
	case models.MatcherTypeName:
		return validateName(cfg.Name)
	case models.MatcherTypeTag:
		return validateTag(cfg.Tag)
	default:
		return errs.NewValidationError("type", fmt.Sprintf("unknown matcher type %q", cfg.Type))
	}
}

func validateARN(cfg *models.ARNMatcherConfig) error {
	if cfg == nil {
		return errs.NewValidationError("arn", "arn matcher requires an arn config block")
	}
	if strings.TrimSpace(cfg.Pattern) == "" {
		return errs.NewValidationError("arn.pattern", "pattern must not be empty (use \"*\" to match all)")
	}
	if cfg.Components != nil && len(consideredComponents(cfg.Components)) == 0 {
		return errs.NewValidationError("arn.components", "at least one component must be enabled")
	}
	return nil
}

func validateResourceID(cfg *models.ResourceIDMatcherConfig) error {
	if cfg == nil {
		return errs.NewValidationError("resource_id", "resource_id matcher requires a resource_id config block")
	}
	if strings.TrimSpace(cfg.ResourceType) == "" {
		return errs.NewValidationError("resource_id.resource_type", "resource type must not be empty")
	}
	if cfg.ExtractionRegex != "" {
		if err := checkPattern("resource_id.extraction_regex", cfg.ExtractionRegex); err != nil {
			return err
		}
	}
	return nil
}

func validateName(cfg *models.NameMatcherConfig) error {
	if cfg == nil {
		return errs.NewValidationError("name", "name matcher requires a name config block")
	}
	if cfg.Pattern != "" {
		if err := checkPattern("name.pattern", cfg.Pattern); err != nil {
			return err
		}
	}
	if cfg.NamespacePattern != "" {
		if err := checkPattern("name.namespace_pattern", cfg.NamespacePattern); err != nil {
			return err
		}
	}
	if cfg.FuzzyThreshold != nil && (*cfg.FuzzyThreshold < 0 || *cfg.FuzzyThreshold > 100) {
		return errs.NewValidationError("name.fuzzy_threshold", "must be between 0 and 100")
	}
	return nil
}

func validateTag(cfg *models.TagMatcherConfig) error {
	if cfg == nil {
		return errs.NewValidationError("tag", "tag matcher requires a tag config block")
	}
	if len(cfg.RequiredTags) == 0 {
		return errs.NewValidationError("tag.required_tags", "at least one required tag is needed")
	}
	if cfg.MatchMode != "" && cfg.MatchMode != models.MatchModeAll && cfg.MatchMode != models.MatchModeAny {
		return errs.NewValidationError("tag.match_mode", fmt.Sprintf("unknown match mode %q", cfg.MatchMode))
	}
	for i, req := range cfg.RequiredTags {
		field := fmt.Sprintf("tag.required_tags[%d]", i)
		if strings.TrimSpace(req.Key) == "" {
			return errs.NewValidationError(field+".key", "tag key must not be empty")
		}
		if req.Value != "" && req.ValuePattern != "" {
			return errs.NewValidationError(field, "value and value_pattern are mutually exclusive")
		}
		if req.ValuePattern != "" {
			if err := checkPattern(field+".value_pattern", req.ValuePattern); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkPattern compiles the regex and runs the catastrophic-backtracking
// lint. The lint is a static over-approximation: it rejects nested
// quantifiers such as (a+)+ and adjacent unbounded wildcards (.*.*), the
// shapes that blow up backtracking matchers.
func checkPattern(field, pattern string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return errs.NewValidationError(field, fmt.Sprintf("invalid regex: %v", err))
	}
	if reason, bad := lintRegex(pattern); bad {
		return errs.NewValidationError(field, "pattern rejected: "+reason)
	}
	return nil
}

func lintRegex(pattern string) (string, bool) {
	if strings.Contains(pattern, ".*.*") {
		return "adjacent unbounded wildcards", true
	}

	// Track, per group nesting level, whether a quantifier appeared at
	// that level. A quantified group that itself contains a quantifier
	// is the nested-quantifier shape.
	var hasQuantifier []bool
	inClass := false
	current := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\':
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '(':
			hasQuantifier = append(hasQuantifier, current)
			current = false
		case c == ')':
			inner := current
			if len(hasQuantifier) > 0 {
				current = hasQuantifier[len(hasQuantifier)-1]
				hasQuantifier = hasQuantifier[:len(hasQuantifier)-1]
			}
			if inner && i+1 < len(pattern) {
				switch pattern[i+1] {
				case '+', '*', '{':
					return "nested quantifiers", true
				}
			}
			current = current || inner
		case c == '+' || c == '*' || c == '{':
			current = true
		}
	}
	return "", false
}
