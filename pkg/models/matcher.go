package models

// MatcherType discriminates the closed set of matcher variants.
type MatcherType string

// Matcher type constants.
const (
	MatcherTypeARN        MatcherType = "arn"
	MatcherTypeResourceID MatcherType = "resource_id"
	MatcherTypeName       MatcherType = "name"
	MatcherTypeTag        MatcherType = "tag"
)

// MatchMode controls how a tag matcher combines its required tags.
type MatchMode string

// Tag matcher modes.
const (
	MatchModeAll MatchMode = "all"
	MatchModeAny MatchMode = "any"
)

// ARNComponents selects which ARN components participate in comparison.
// A nil pointer means "all components enabled".
type ARNComponents struct {
	Partition bool `json:"partition" yaml:"partition"`
	Service   bool `json:"service" yaml:"service"`
	Region    bool `json:"region" yaml:"region"`
	Account   bool `json:"account" yaml:"account"`
	Resource  bool `json:"resource" yaml:"resource"`
}

// ARNMatcherConfig configures the ARN matcher variant.
type ARNMatcherConfig struct {
	Pattern      string         `json:"pattern,omitempty" yaml:"pattern"` // glob with '*'
	Components   *ARNComponents `json:"components,omitempty" yaml:"components"`
	AllowPartial bool           `json:"allow_partial" yaml:"allow_partial"`
}

// ResourceIDMatcherConfig configures the resource-id matcher variant.
type ResourceIDMatcherConfig struct {
	ResourceType    string `json:"resource_type" yaml:"resource_type"`
	IDAttribute     string `json:"id_attribute,omitempty" yaml:"id_attribute"`
	Normalize       bool   `json:"normalize" yaml:"normalize"`
	ExtractionRegex string `json:"extraction_regex,omitempty" yaml:"extraction_regex"`
}

// NameMatcherConfig configures the name matcher variant.
type NameMatcherConfig struct {
	Pattern          string `json:"pattern,omitempty" yaml:"pattern"`
	IncludeNamespace bool   `json:"include_namespace" yaml:"include_namespace"`
	NamespacePattern string `json:"namespace_pattern,omitempty" yaml:"namespace_pattern"`
	CaseSensitive    bool   `json:"case_sensitive" yaml:"case_sensitive"`
	FuzzyThreshold   *int   `json:"fuzzy_threshold,omitempty" yaml:"fuzzy_threshold"` // 0..100, nil disables fuzzy
}

// RequiredTag is a single tag requirement for the tag matcher.
// Exactly one of Value / ValuePattern may be set; both empty means key-only.
type RequiredTag struct {
	Key          string `json:"key" yaml:"key"`
	Value        string `json:"value,omitempty" yaml:"value"`
	ValuePattern string `json:"value_pattern,omitempty" yaml:"value_pattern"`
}

// TagMatcherConfig configures the tag matcher variant.
type TagMatcherConfig struct {
	RequiredTags []RequiredTag `json:"required_tags" yaml:"required_tags"`
	MatchMode    MatchMode     `json:"match_mode" yaml:"match_mode"`
	IgnoreTags   []string      `json:"ignore_tags,omitempty" yaml:"ignore_tags"`
}

// MatcherConfig is the tagged union over the four matcher variants. Type
// selects the variant; exactly one of the variant payloads is consulted.
type MatcherConfig struct {
	Type          MatcherType              `json:"type" yaml:"type"`
	Enabled       bool                     `json:"enabled" yaml:"enabled"`
	Priority      int                      `json:"priority" yaml:"priority"`               // 0..100
	MinConfidence int                      `json:"min_confidence" yaml:"min_confidence"`   // 0..100
	ARN           *ARNMatcherConfig        `json:"arn,omitempty" yaml:"arn"`
	ResourceID    *ResourceIDMatcherConfig `json:"resource_id,omitempty" yaml:"resource_id"`
	Name          *NameMatcherConfig       `json:"name,omitempty" yaml:"name"`
	Tag           *TagMatcherConfig        `json:"tag,omitempty" yaml:"tag"`
}
