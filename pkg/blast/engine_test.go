package blast

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/models"
	"github.com/crossgraph/rollup/pkg/store/memory"
)

// chainGraph builds n1 <- n2 <- ... <- nN (each node depends on the
// previous one), with the n2->n1 edge crossing repositories.
func chainGraph(n int) *models.MergedGraph {
	g := &models.MergedGraph{Nodes: make(map[string]*models.MergedNode)}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("n%d", i)
		g.Nodes[id] = &models.MergedNode{ID: id, Name: id, Type: "aws_s3_bucket", SourceRepoIDs: []string{"repoA"}}
	}
	for i := 2; i <= n; i++ {
		g.Edges = append(g.Edges, models.MergedEdge{
			SourceID:  fmt.Sprintf("n%d", i),
			TargetID:  fmt.Sprintf("n%d", i-1),
			CrossRepo: i == 2,
		})
	}
	return g
}

func newTestEngine(t *testing.T, graph *models.MergedGraph, limits *config.LimitsConfig) *Engine {
	t.Helper()
	graphs := memory.NewScanGraphStore()
	require.NoError(t, graphs.PersistMergedGraph(context.Background(), "tenant-a", "exec-1", graph))
	if limits == nil {
		limits = config.DefaultLimitsConfig()
	}
	return NewEngine(graphs, nil, "ro", limits)
}

func TestCompute_DirectAndIndirectImpact(t *testing.T) {
	e := newTestEngine(t, chainGraph(4), nil)

	result, err := e.Compute(context.Background(), "tenant-a", "exec-1", Query{NodeIDs: []string{"n1"}})
	require.NoError(t, err)

	require.Len(t, result.DirectImpact, 1)
	assert.Equal(t, "n2", result.DirectImpact[0].NodeID)
	assert.Equal(t, 1, result.DirectImpact[0].Depth)

	require.Len(t, result.IndirectImpact, 2)
	assert.Equal(t, "n3", result.IndirectImpact[0].NodeID)
	assert.Equal(t, 2, result.IndirectImpact[0].Depth)
	assert.Equal(t, "n4", result.IndirectImpact[1].NodeID)
	assert.Equal(t, 3, result.IndirectImpact[1].Depth)

	assert.Equal(t, Summary{TotalImpacted: 3, DirectCount: 1, IndirectCount: 2}, result.Summary)
	assert.False(t, result.Truncated)
}

func TestCompute_CrossRepoImpactOnlyWhenRequested(t *testing.T) {
	e := newTestEngine(t, chainGraph(3), nil)
	ctx := context.Background()

	result, err := e.Compute(ctx, "tenant-a", "exec-1", Query{NodeIDs: []string{"n1"}})
	require.NoError(t, err)
	assert.Empty(t, result.CrossRepoImpact)

	result, err = e.Compute(ctx, "tenant-a", "exec-1", Query{NodeIDs: []string{"n1"}, IncludeCrossRepo: true})
	require.NoError(t, err)
	require.Len(t, result.CrossRepoImpact, 1)
	assert.Equal(t, "n2", result.CrossRepoImpact[0].NodeID)
	assert.Equal(t, 1, result.Summary.CrossRepoCount)
}

func TestCompute_MaxDepthBound(t *testing.T) {
	e := newTestEngine(t, chainGraph(5), nil)

	result, err := e.Compute(context.Background(), "tenant-a", "exec-1", Query{NodeIDs: []string{"n1"}, MaxDepth: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Summary.TotalImpacted)
}

func TestCompute_TruncatesAtGraphNodeBound(t *testing.T) {
	limits := config.DefaultLimitsConfig()
	limits.MaxGraphNodes = 2
	e := newTestEngine(t, chainGraph(10), limits)

	result, err := e.Compute(context.Background(), "tenant-a", "exec-1", Query{NodeIDs: []string{"n1"}})
	require.NoError(t, err, "hitting the bound is a partial result, not an error")
	assert.True(t, result.Truncated)
	assert.Equal(t, 2, result.Summary.TotalImpacted)
}

func TestCompute_ValidatesSeeds(t *testing.T) {
	e := newTestEngine(t, chainGraph(2), nil)
	_, err := e.Compute(context.Background(), "tenant-a", "exec-1", Query{})
	assert.Error(t, err)
}

func TestCompute_UnknownExecutionPropagatesNotFound(t *testing.T) {
	e := newTestEngine(t, chainGraph(2), nil)
	_, err := e.Compute(context.Background(), "tenant-a", "exec-missing", Query{NodeIDs: []string{"n1"}})
	assert.Error(t, err)
}

func TestCompute_UnknownSeedsYieldEmptyResult(t *testing.T) {
	e := newTestEngine(t, chainGraph(2), nil)
	result, err := e.Compute(context.Background(), "tenant-a", "exec-1", Query{NodeIDs: []string{"ghost"}})
	require.NoError(t, err)
	assert.Zero(t, result.Summary.TotalImpacted)
}
