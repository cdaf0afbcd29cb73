package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossgraph/rollup/pkg/models"
)

func arnNode(id, arn string) *models.Node {
	return &models.Node{ID: id, Type: "aws_s3_bucket", Name: id, Metadata: map[string]any{"arn": arn}}
}

func arnConfig() models.MatcherConfig {
	return models.MatcherConfig{
		Type:    models.MatcherTypeARN,
		Enabled: true,
		ARN:     &models.ARNMatcherConfig{Pattern: "*"},
	}
}

func TestMatchARN_ExactNormalized(t *testing.T) {
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{arnNode("x", "ARN:AWS:s3:::foo/")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{arnNode("y", "arn:aws:s3:::foo")}}

	results := matchARN(arnConfig(), source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 100, results[0].Confidence)
	assert.Equal(t, models.MatcherTypeARN, results[0].Strategy)
	assert.Equal(t, "arn", results[0].Details.MatchedAttribute)
}

func TestMatchARN_RegionDifferenceScores90(t *testing.T) {
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{arnNode("x", "arn:aws:sqs:us-east-1:123:queue")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{arnNode("y", "arn:aws:sqs:eu-west-1:123:queue")}}

	results := matchARN(arnConfig(), source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 90, results[0].Confidence)
}

func TestMatchARN_StoredWildcardScores80(t *testing.T) {
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{arnNode("x", "arn:aws:s3:::logs-*")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{arnNode("y", "arn:aws:s3:::logs-2024")}}

	results := matchARN(arnConfig(), source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 80, results[0].Confidence)
}

func TestMatchARN_PartialRequiresAllowPartial(t *testing.T) {
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{arnNode("x", "arn:aws:sqs:us-east-1:123:orders")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{arnNode("y", "arn:aws:sqs:us-east-1:123:payments")}}

	assert.Empty(t, matchARN(arnConfig(), source, target))

	cfg := arnConfig()
	cfg.ARN.AllowPartial = true
	results := matchARN(cfg, source, target)
	require.Len(t, results, 1)
	// Four of five components equal.
	assert.Equal(t, 72, results[0].Confidence)
}

func TestMatchARN_ConfigPatternFilters(t *testing.T) {
	cfg := arnConfig()
	cfg.ARN.Pattern = "arn:aws:sqs:*"
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{arnNode("x", "arn:aws:s3:::foo")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{arnNode("y", "arn:aws:s3:::foo")}}
	assert.Empty(t, matchARN(cfg, source, target))
}

func idNode(id, nodeType, value string) *models.Node {
	return &models.Node{ID: id, Type: nodeType, Name: id, Metadata: map[string]any{"id": value}}
}

func TestMatchResourceID_ConfidenceLadder(t *testing.T) {
	cfg := models.MatcherConfig{
		Type:    models.MatcherTypeResourceID,
		Enabled: true,
		ResourceID: &models.ResourceIDMatcherConfig{
			ResourceType:    "aws_instance",
			ExtractionRegex: `i-([0-9a-f]+)`,
		},
	}

	cases := []struct {
		name       string
		source     string
		target     string
		confidence int
	}{
		{"exact", "i-abc123", "i-abc123", 95},
		{"prefix stripped", "aws_Web-Server", "Web-Server", 85},
		{"regex extracted", "instance i-abc123 (prod)", "host=i-abc123", 75},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{idNode("x", "aws_instance", tc.source)}}
			target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{idNode("y", "aws_instance", tc.target)}}
			results := matchResourceID(cfg, source, target)
			require.Len(t, results, 1)
			assert.Equal(t, tc.confidence, results[0].Confidence)
		})
	}
}

func TestMatchResourceID_NormalizedEquality(t *testing.T) {
	cfg := models.MatcherConfig{
		Type:       models.MatcherTypeResourceID,
		Enabled:    true,
		ResourceID: &models.ResourceIDMatcherConfig{ResourceType: "aws_instance", Normalize: true},
	}
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{idNode("x", "aws_instance", "AWS_I-ABC123")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{idNode("y", "aws_instance", "i-abc123")}}
	results := matchResourceID(cfg, source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 95, results[0].Confidence)
}

func TestMatchResourceID_TypeFilter(t *testing.T) {
	cfg := models.MatcherConfig{
		Type:       models.MatcherTypeResourceID,
		Enabled:    true,
		ResourceID: &models.ResourceIDMatcherConfig{ResourceType: "aws_instance"},
	}
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{idNode("x", "aws_s3_bucket", "same")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{idNode("y", "aws_s3_bucket", "same")}}
	assert.Empty(t, matchResourceID(cfg, source, target))
}

func namedNode(id, name, namespace string) *models.Node {
	return &models.Node{ID: id, Type: "kubernetes_deployment", Name: name, Namespace: namespace}
}

func TestMatchName_ExactAndNamespaceBonus(t *testing.T) {
	cfg := models.MatcherConfig{
		Type:    models.MatcherTypeName,
		Enabled: true,
		Name:    &models.NameMatcherConfig{IncludeNamespace: true},
	}

	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{namedNode("x", "Payments-API", "prod")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{namedNode("y", "payments-api", "prod")}}
	results := matchName(cfg, source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 90, results[0].Confidence)

	// Different namespace: base score only.
	target.Nodes[0].Namespace = "staging"
	results = matchName(cfg, source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 80, results[0].Confidence)
}

func TestMatchName_CaseSensitive(t *testing.T) {
	cfg := models.MatcherConfig{
		Type:    models.MatcherTypeName,
		Enabled: true,
		Name:    &models.NameMatcherConfig{CaseSensitive: true},
	}
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{namedNode("x", "Payments", "")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{namedNode("y", "payments", "")}}
	assert.Empty(t, matchName(cfg, source, target))
}

func TestMatchName_FuzzyThresholdInclusive(t *testing.T) {
	threshold := 75
	cfg := models.MatcherConfig{
		Type:    models.MatcherTypeName,
		Enabled: true,
		Name:    &models.NameMatcherConfig{FuzzyThreshold: &threshold},
	}

	// One edit over length four: similarity is exactly the threshold.
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{namedNode("x", "abcd", "")}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{namedNode("y", "abce", "")}}
	results := matchName(cfg, source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 75, results[0].Confidence)

	// Two edits fall below and are dropped.
	target.Nodes[0].Name = "abff"
	assert.Empty(t, matchName(cfg, source, target))
}

func taggedNode(id string, tags map[string]string) *models.Node {
	return &models.Node{ID: id, Type: "aws_instance", Name: id, Tags: tags}
}

func TestMatchTag_AllModeExactValues(t *testing.T) {
	cfg := models.MatcherConfig{
		Type:    models.MatcherTypeTag,
		Enabled: true,
		Tag: &models.TagMatcherConfig{
			MatchMode: models.MatchModeAll,
			RequiredTags: []models.RequiredTag{
				{Key: "app", Value: "payments"},
				{Key: "env"},
			},
		},
	}
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{taggedNode("x", map[string]string{"app": "payments", "env": "prod"})}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{taggedNode("y", map[string]string{"app": "payments", "env": "prod"})}}

	results := matchTag(cfg, source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 85, results[0].Confidence)
	assert.Equal(t, "app=payments,env=prod", results[0].Details.SourceValue)

	// Key-only requirement with unequal values fails the pair in all mode.
	target.Nodes[0].Tags["env"] = "staging"
	assert.Empty(t, matchTag(cfg, source, target))
}

func TestMatchTag_AnyModeAndPatternPenalty(t *testing.T) {
	cfg := models.MatcherConfig{
		Type:    models.MatcherTypeTag,
		Enabled: true,
		Tag: &models.TagMatcherConfig{
			MatchMode: models.MatchModeAny,
			RequiredTags: []models.RequiredTag{
				{Key: "team", ValuePattern: `^platform-`},
				{Key: "cost-center", Value: "42"},
			},
		},
	}
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{taggedNode("x", map[string]string{"team": "platform-core"})}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{taggedNode("y", map[string]string{"team": "platform-edge"})}}

	results := matchTag(cfg, source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 65, results[0].Confidence, "any mode scores 70, minus 5 for a pattern match")
}

func TestMatchTag_ValuePatternIsCaseInsensitive(t *testing.T) {
	cfg := models.MatcherConfig{
		Type:    models.MatcherTypeTag,
		Enabled: true,
		Tag: &models.TagMatcherConfig{
			MatchMode:    models.MatchModeAll,
			RequiredTags: []models.RequiredTag{{Key: "env", ValuePattern: "prod"}},
		},
	}
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{taggedNode("x", map[string]string{"env": "PROD"})}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{taggedNode("y", map[string]string{"env": "Prod"})}}

	results := matchTag(cfg, source, target)
	require.Len(t, results, 1)
	assert.Equal(t, 80, results[0].Confidence, "all mode scores 85, minus 5 for a pattern match")
}

func TestMatchTag_IgnoreTags(t *testing.T) {
	cfg := models.MatcherConfig{
		Type:    models.MatcherTypeTag,
		Enabled: true,
		Tag: &models.TagMatcherConfig{
			MatchMode:    models.MatchModeAll,
			RequiredTags: []models.RequiredTag{{Key: "managed-by"}},
			IgnoreTags:   []string{"managed-by"},
		},
	}
	source := NodeSet{RepositoryID: "repoA", Nodes: []*models.Node{taggedNode("x", map[string]string{"managed-by": "terraform"})}}
	target := NodeSet{RepositoryID: "repoB", Nodes: []*models.Node{taggedNode("y", map[string]string{"managed-by": "terraform"})}}
	assert.Empty(t, matchTag(cfg, source, target))
}
