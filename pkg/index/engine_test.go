package index

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossgraph/rollup/pkg/cache"
	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/extract"
	"github.com/crossgraph/rollup/pkg/models"
	"github.com/crossgraph/rollup/pkg/store/memory"
)

type panicExtractor struct{}

func (panicExtractor) Name() string { return "panicky" }
func (panicExtractor) Extract(*models.Node) ([]models.Reference, error) {
	panic("extractor bug")
}

func bucketNode(id, arn string) *models.Node {
	return &models.Node{ID: id, Type: "aws_s3_bucket", Name: id, Metadata: map[string]any{"arn": arn}}
}

type testEnv struct {
	engine  *Engine
	scans   *memory.ScanGraphStore
	entries *memory.ExternalObjectStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	scans := memory.NewScanGraphStore()
	entries := memory.NewExternalObjectStore()
	tiered, err := cache.NewTieredCache(config.DefaultCacheConfig(), nil)
	require.NoError(t, err)
	engine := NewEngine(scans, entries, tiered, extract.NewRegistry(), config.DefaultLimitsConfig())
	return &testEnv{engine: engine, scans: scans, entries: entries}
}

func seedScan(env *testEnv, tenantID, repoID, scanID string, nodes ...*models.Node) {
	g := &models.Graph{Nodes: make(map[string]*models.Node)}
	for _, n := range nodes {
		g.Nodes[n.ID] = n
	}
	env.scans.AddScan(tenantID, repoID, scanID, g)
}

func TestBuild_IndexesLatestScans(t *testing.T) {
	env := newTestEnv(t)
	seedScan(env, "tenant-a", "repoA", "scan-1",
		bucketNode("n1", "arn:aws:s3:::alpha"),
		bucketNode("n2", "arn:aws:s3:::beta"))

	result, err := env.engine.Build(context.Background(), "tenant-a", []string{"repoA", "repo-without-scan"}, BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.NodeCount)
	assert.Equal(t, 2, result.Created, "one ARN entry per node")
	assert.Zero(t, result.Errors)
	require.Len(t, result.Repos, 2)
	assert.True(t, result.Repos[1].Skipped, "repo without a scan is skipped, not failed")
}

func TestBuild_ExtractorPanicIsPerNode(t *testing.T) {
	env := newTestEnv(t)
	registry := extract.NewRegistry()
	registry.Register("broken_", panicExtractor{})
	env.engine.registry = registry

	seedScan(env, "tenant-a", "repoA", "scan-1",
		bucketNode("good-1", "arn:aws:s3:::alpha"),
		bucketNode("good-2", "arn:aws:s3:::beta"),
		bucketNode("good-3", "arn:aws:s3:::gamma"),
		bucketNode("good-4", "arn:aws:s3:::delta"),
		bucketNode("good-5", "arn:aws:s3:::epsilon"),
		bucketNode("good-6", "arn:aws:s3:::zeta"),
		bucketNode("good-7", "arn:aws:s3:::eta"),
		bucketNode("good-8", "arn:aws:s3:::theta"),
		bucketNode("good-9", "arn:aws:s3:::iota"),
		&models.Node{ID: "bad-1", Type: "broken_widget", Name: "bad"})

	result, err := env.engine.Build(context.Background(), "tenant-a", []string{"repoA"}, BuildOptions{})
	require.NoError(t, err, "a 10% error ratio is still within bounds")
	assert.Equal(t, 9, result.Created)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, []string{"bad-1"}, result.SampleErrorNodeIDs)
}

func TestBuild_ErrorRatioFailsBuild(t *testing.T) {
	env := newTestEnv(t)
	registry := extract.NewRegistry()
	registry.Register("broken_", panicExtractor{})
	env.engine.registry = registry

	seedScan(env, "tenant-a", "repoA", "scan-1",
		bucketNode("good-1", "arn:aws:s3:::alpha"),
		&models.Node{ID: "bad-1", Type: "broken_widget", Name: "bad"})

	_, err := env.engine.Build(context.Background(), "tenant-a", []string{"repoA"}, BuildOptions{})
	var buildErr *errs.IndexBuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, 1, buildErr.Errors)
	assert.Equal(t, []string{"bad-1"}, buildErr.SampleErrorNodeIDs)
}

func TestBuild_MaxNodesBound(t *testing.T) {
	env := newTestEnv(t)
	seedScan(env, "tenant-a", "repoA", "scan-1",
		bucketNode("n1", "arn:aws:s3:::a"),
		bucketNode("n2", "arn:aws:s3:::b"),
		bucketNode("n3", "arn:aws:s3:::c"))

	result, err := env.engine.Build(context.Background(), "tenant-a", []string{"repoA"}, BuildOptions{MaxNodes: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, result.NodeCount)
}

// gatedScans lets a test hold the first repoA build mid-flight while a
// second build arrives at the same repository.
type gatedScans struct {
	*memory.ScanGraphStore
	mu          sync.Mutex
	latestCalls map[string]int
	enteredA    chan struct{}
	enteredB    chan struct{}
	releaseA    chan struct{}
}

func (s *gatedScans) GetLatestScan(ctx context.Context, tenantID, repoID string) (string, error) {
	s.mu.Lock()
	s.latestCalls[repoID]++
	n := s.latestCalls[repoID]
	s.mu.Unlock()
	switch {
	case repoID == "repoA" && n == 1:
		close(s.enteredA)
		<-s.releaseA
	case repoID == "repoB" && n == 1:
		close(s.enteredB)
	}
	return s.ScanGraphStore.GetLatestScan(ctx, tenantID, repoID)
}

func TestBuild_OverlappingBuildsIndexSharedRepoOnce(t *testing.T) {
	scans := &gatedScans{
		ScanGraphStore: memory.NewScanGraphStore(),
		latestCalls:    map[string]int{},
		enteredA:       make(chan struct{}),
		enteredB:       make(chan struct{}),
		releaseA:       make(chan struct{}),
	}
	entries := memory.NewExternalObjectStore()
	engine := NewEngine(scans, entries, nil, extract.NewRegistry(), config.DefaultLimitsConfig())

	for repo, arn := range map[string]string{"repoA": "arn:aws:s3:::alpha", "repoB": "arn:aws:s3:::beta"} {
		g := &models.Graph{Nodes: map[string]*models.Node{"n-" + repo: bucketNode("n-"+repo, arn)}}
		scans.AddScan("tenant-a", repo, "scan-"+repo, g)
	}

	ctx := context.Background()
	first := make(chan *BuildResult, 1)
	go func() {
		res, _ := engine.Build(ctx, "tenant-a", []string{"repoA"}, BuildOptions{})
		first <- res
	}()
	<-scans.enteredA

	second := make(chan *BuildResult, 1)
	go func() {
		res, _ := engine.Build(ctx, "tenant-a", []string{"repoB", "repoA"}, BuildOptions{})
		second <- res
	}()
	<-scans.enteredB
	time.Sleep(50 * time.Millisecond) // let the second build reach repoA's flight
	close(scans.releaseA)

	res1 := <-first
	res2 := <-second
	require.NotNil(t, res1)
	require.NotNil(t, res2)

	scans.mu.Lock()
	calls := scans.latestCalls["repoA"]
	scans.mu.Unlock()
	assert.Equal(t, 1, calls, "the shared repository is indexed once")
	assert.Equal(t, 1, res1.Created)
	assert.Equal(t, 2, res2.Created)
}

func TestLookup_RejectsBlankExternalID(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.LookupByExternalId(context.Background(), "tenant-a", "   ", models.EntryFilter{})
	var lookupErr *errs.LookupError
	assert.ErrorAs(t, err, &lookupErr)
}

func TestLookup_CachesNonEmptyResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedScan(env, "tenant-a", "repoA", "scan-1", bucketNode("n1", "arn:aws:s3:::alpha"))
	_, err := env.engine.Build(ctx, "tenant-a", []string{"repoA"}, BuildOptions{})
	require.NoError(t, err)

	first, err := env.engine.LookupByExternalId(ctx, "tenant-a", "arn:aws:s3:::alpha", models.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, first.Entries, 1)
	assert.False(t, first.FromCache)

	second, err := env.engine.LookupByExternalId(ctx, "tenant-a", "arn:aws:s3:::alpha", models.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.True(t, second.FromCache)

	// Empty results are never cached.
	miss, err := env.engine.LookupByExternalId(ctx, "tenant-a", "arn:aws:s3:::ghost", models.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, miss.Entries)
	missAgain, err := env.engine.LookupByExternalId(ctx, "tenant-a", "arn:aws:s3:::ghost", models.EntryFilter{})
	require.NoError(t, err)
	assert.False(t, missAgain.FromCache)
}

func TestLookup_TypeFilterDoesNotNarrowCachedSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.entries.SaveEntries(ctx, []*models.ExternalObjectEntry{
		{ID: models.NewEntryID(), TenantID: "tenant-a", RepositoryID: "repoA", ScanID: "scan-1",
			NodeID: "n1", ExternalID: "shared-id", ReferenceType: models.ReferenceTypeARN, NormalizedID: "shared-id"},
		{ID: models.NewEntryID(), TenantID: "tenant-a", RepositoryID: "repoA", ScanID: "scan-1",
			NodeID: "n2", ExternalID: "shared-id", ReferenceType: models.ReferenceTypeResourceID, NormalizedID: "shared-id"},
	})
	require.NoError(t, err)

	// A type-filtered lookup warms the cache first.
	filtered, err := env.engine.LookupByExternalId(ctx, "tenant-a", "shared-id",
		models.EntryFilter{ReferenceType: models.ReferenceTypeARN})
	require.NoError(t, err)
	require.Len(t, filtered.Entries, 1)
	assert.Equal(t, models.ReferenceTypeARN, filtered.Entries[0].ReferenceType)

	// The cached set is the full one; an unfiltered lookup sees both entries.
	unfiltered, err := env.engine.LookupByExternalId(ctx, "tenant-a", "shared-id", models.EntryFilter{})
	require.NoError(t, err)
	assert.True(t, unfiltered.FromCache)
	assert.Len(t, unfiltered.Entries, 2)

	other, err := env.engine.LookupByExternalId(ctx, "tenant-a", "shared-id",
		models.EntryFilter{ReferenceType: models.ReferenceTypeK8s})
	require.NoError(t, err)
	assert.Empty(t, other.Entries)
}

func TestLookup_TenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedScan(env, "tenant-a", "repoA", "scan-1", bucketNode("n1", "arn:aws:s3:::alpha"))
	_, err := env.engine.Build(ctx, "tenant-a", []string{"repoA"}, BuildOptions{})
	require.NoError(t, err)

	other, err := env.engine.LookupByExternalId(ctx, "tenant-b", "arn:aws:s3:::alpha", models.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, other.Entries)
}

func TestReverseLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedScan(env, "tenant-a", "repoA", "scan-1", bucketNode("n1", "arn:aws:s3:::alpha"))
	_, err := env.engine.Build(ctx, "tenant-a", []string{"repoA"}, BuildOptions{})
	require.NoError(t, err)

	result, err := env.engine.ReverseLookup(ctx, "tenant-a", "n1", "scan-1")
	require.NoError(t, err)
	require.Len(t, result.References, 1)
	assert.Equal(t, "arn:aws:s3:::alpha", result.References[0].NormalizedID)

	cached, err := env.engine.ReverseLookup(ctx, "tenant-a", "n1", "scan-1")
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
}

func TestInvalidate_RemovesEntriesAndCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedScan(env, "tenant-a", "repoA", "scan-1", bucketNode("n1", "arn:aws:s3:::alpha"))
	_, err := env.engine.Build(ctx, "tenant-a", []string{"repoA"}, BuildOptions{})
	require.NoError(t, err)

	// Warm the lookup cache, then invalidate the repository.
	_, err = env.engine.LookupByExternalId(ctx, "tenant-a", "arn:aws:s3:::alpha", models.EntryFilter{})
	require.NoError(t, err)

	count, err := env.engine.Invalidate(ctx, "tenant-a", models.EntryFilter{RepositoryID: "repoA"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	after, err := env.engine.LookupByExternalId(ctx, "tenant-a", "arn:aws:s3:::alpha", models.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, after.Entries)
	assert.False(t, after.FromCache)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedScan(env, "tenant-a", "repoA", "scan-1", bucketNode("n1", "arn:aws:s3:::alpha"))
	_, err := env.engine.Build(ctx, "tenant-a", []string{"repoA"}, BuildOptions{})
	require.NoError(t, err)
	_, err = env.engine.LookupByExternalId(ctx, "tenant-a", "arn:aws:s3:::alpha", models.EntryFilter{})
	require.NoError(t, err)

	stats, err := env.engine.Stats(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, 1, stats.EntriesByType[models.ReferenceTypeARN])
	assert.False(t, stats.LastBuildAt.IsZero())
}

func TestDefaultEngineLifecycle(t *testing.T) {
	t.Cleanup(ResetDefault)
	assert.Nil(t, Default())

	env := newTestEnv(t)
	SetDefault(env.engine)
	assert.Same(t, env.engine, Default())

	ResetDefault()
	assert.Nil(t, Default())
}
