package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/events"
	"github.com/crossgraph/rollup/pkg/models"
	"github.com/crossgraph/rollup/pkg/store/memory"
)

// flakyScans fails PersistMergedGraph a configured number of times with a
// transient network error, then delegates.
type flakyScans struct {
	*memory.ScanGraphStore
	mu       sync.Mutex
	failures int
}

func (s *flakyScans) setFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *flakyScans) PersistMergedGraph(ctx context.Context, tenantID, executionID string, graph *models.MergedGraph) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("dial tcp 10.0.0.8:5432: connect: connection refused")
	}
	s.mu.Unlock()
	return s.ScanGraphStore.PersistMergedGraph(ctx, tenantID, executionID, graph)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) count(t events.EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}

type orchestratorEnv struct {
	orc      *Orchestrator
	rollups  *memory.RollupStore
	scans    *flakyScans
	recorder *eventRecorder
}

func newOrchestratorEnv(t *testing.T, persistFailures int) *orchestratorEnv {
	t.Helper()
	rollups := memory.NewRollupStore()
	scans := &flakyScans{ScanGraphStore: memory.NewScanGraphStore(), failures: persistFailures}
	bus := events.NewBus(nil, config.DefaultEventsConfig())
	recorder := &eventRecorder{}
	bus.Subscribe(recorder.record)

	cfg := config.DefaultOrchestratorConfig()
	cfg.WorkerCount = 2
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PollIntervalJitter = time.Millisecond
	cfg.GracefulShutdownTimeout = 2 * time.Second
	cfg.ExecutionRetry.BaseDelay = time.Millisecond
	cfg.ExecutionRetry.MaxDelay = 5 * time.Millisecond
	cfg.ExecutionRetry.JitterFactor = 0

	orc := New(cfg, config.DefaultLimitsConfig(), rollups, scans, nil, nil, bus, "ro")
	return &orchestratorEnv{orc: orc, rollups: rollups, scans: scans, recorder: recorder}
}

func arnNode(id, name, arn string) *models.Node {
	return &models.Node{ID: id, Type: "aws_s3_bucket", Name: name, Metadata: map[string]any{"arn": arn}}
}

// seedRollup creates a two-repo rollup with one ARN matcher and one scan
// per repository, both declaring the same bucket.
func (e *orchestratorEnv) seedRollup(t *testing.T, tenantID string) *models.RollupConfig {
	t.Helper()
	cfg := &models.RollupConfig{
		ID:            models.NewRollupID(),
		TenantID:      tenantID,
		Name:          "payments-rollup",
		RepositoryIDs: []string{"repoA", "repoB"},
		Matchers: []models.MatcherConfig{{
			Type:          models.MatcherTypeARN,
			Enabled:       true,
			Priority:      100,
			MinConfidence: 50,
			ARN:           &models.ARNMatcherConfig{Pattern: "*"},
		}},
		MergeOptions: models.DefaultMergeOptions(),
		Status:       models.RollupStatusActive,
		Version:      1,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, e.rollups.CreateRollup(context.Background(), cfg))

	graphA := &models.Graph{Nodes: map[string]*models.Node{
		"nX": arnNode("nX", "foo", "arn:aws:s3:::foo"),
	}}
	graphB := &models.Graph{Nodes: map[string]*models.Node{
		"nY": arnNode("nY", "foo", "arn:aws:s3:::foo"),
	}}
	e.scans.AddScan(tenantID, "repoA", "scan-a", graphA)
	e.scans.AddScan(tenantID, "repoB", "scan-b", graphB)
	return cfg
}

func (e *orchestratorEnv) createExecution(t *testing.T, rollup *models.RollupConfig) *models.RollupExecution {
	t.Helper()
	exec := &models.RollupExecution{
		ID:        models.NewExecutionID(),
		RollupID:  rollup.ID,
		TenantID:  rollup.TenantID,
		Status:    models.ExecutionStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.rollups.CreateExecution(context.Background(), exec))
	return exec
}

func (e *orchestratorEnv) waitForStatus(t *testing.T, tenantID, executionID string, status models.ExecutionStatus) *models.RollupExecution {
	t.Helper()
	var got *models.RollupExecution
	require.Eventually(t, func() bool {
		exec, err := e.rollups.GetExecution(context.Background(), tenantID, executionID)
		if err != nil {
			return false
		}
		got = exec
		return exec.Status == status
	}, 5*time.Second, 10*time.Millisecond, "execution never reached %s", status)
	return got
}

func TestExecute_ARNMatchMergesAcrossRepos(t *testing.T) {
	env := newOrchestratorEnv(t, 0)
	ctx := context.Background()
	rollup := env.seedRollup(t, "tenant-a")
	exec := env.createExecution(t, rollup)

	env.orc.Start()
	t.Cleanup(env.orc.Stop)
	_, err := env.orc.EnqueueExecution(ctx, exec, EnqueueOptions{})
	require.NoError(t, err)

	final := env.waitForStatus(t, "tenant-a", exec.ID, models.ExecutionStatusCompleted)
	assert.Equal(t, models.PhaseCallback, final.Phase)
	assert.Equal(t, 1, final.Progress.MatchesFound)
	assert.Nil(t, final.ErrorDetails)
	assert.Nil(t, final.Checkpoint, "completion discards the checkpoint")

	merged, err := env.scans.GetMergedGraph(ctx, "tenant-a", exec.ID)
	require.NoError(t, err)
	require.Len(t, merged.Nodes, 1, "both buckets collapse into one merged node")
	for _, node := range merged.Nodes {
		assert.ElementsMatch(t, []string{"nX", "nY"}, node.SourceNodeIDs)
		assert.Equal(t, 100, node.MatchInfo.Confidence)
	}
}

func TestExecute_RetryThenSuccess(t *testing.T) {
	env := newOrchestratorEnv(t, 2) // store phase fails twice, then heals
	ctx := context.Background()
	rollup := env.seedRollup(t, "tenant-a")
	exec := env.createExecution(t, rollup)

	env.orc.Start()
	t.Cleanup(env.orc.Stop)
	_, err := env.orc.EnqueueExecution(ctx, exec, EnqueueOptions{})
	require.NoError(t, err)

	env.waitForStatus(t, "tenant-a", exec.ID, models.ExecutionStatusCompleted)

	job, ok := env.orc.broker.Get(exec.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Attempts)

	entries, err := env.orc.ListDeadLetters(ctx, "tenant-a", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries, "successful retry never dead-letters")

	require.Eventually(t, func() bool {
		return env.recorder.count(events.ExecutionCompleted) == 1
	}, time.Second, 10*time.Millisecond)
	types := env.recorder.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.ExecutionStarted, types[0], "started emitted once, on the first attempt")
	assert.Equal(t, 1, env.recorder.count(events.ExecutionStarted))
	assert.Equal(t, events.ExecutionCompleted, types[len(types)-1])
	assert.Positive(t, env.recorder.count(events.ExecutionProgress))
	assert.Zero(t, env.recorder.count(events.ExecutionFailed))
}

func TestExecute_DeadLetterAfterExhaustion(t *testing.T) {
	env := newOrchestratorEnv(t, 1000) // store phase never succeeds
	ctx := context.Background()
	rollup := env.seedRollup(t, "tenant-a")
	exec := env.createExecution(t, rollup)

	env.orc.Start()
	t.Cleanup(env.orc.Stop)
	_, err := env.orc.EnqueueExecution(ctx, exec, EnqueueOptions{})
	require.NoError(t, err)

	final := env.waitForStatus(t, "tenant-a", exec.ID, models.ExecutionStatusFailed)
	require.NotNil(t, final.ErrorDetails)
	assert.Equal(t, models.PhaseStore, final.ErrorDetails.Phase)
	require.NotNil(t, final.PartialResults)
	assert.Equal(t, models.PhaseStore, final.PartialResults.Phase)
	assert.Equal(t, 1, final.PartialResults.MatchesFound)

	entries, err := env.orc.ListDeadLetters(ctx, "tenant-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly one DLQ entry per execution")
	entry := entries[0]
	assert.Equal(t, exec.ID, entry.ExecutionID)
	assert.Equal(t, 3, entry.AttemptCount)
	assert.Equal(t, models.DeadLetterStatusPending, entry.Status)

	require.Eventually(t, func() bool {
		return env.recorder.count(events.ExecutionFailed) == 1
	}, time.Second, 10*time.Millisecond)

	// Heal the store and retry from the DLQ.
	env.scans.setFailures(0)
	require.NoError(t, env.orc.RetryDeadLetter(ctx, "tenant-a", entry.ID))
	env.waitForStatus(t, "tenant-a", exec.ID, models.ExecutionStatusCompleted)

	recovered, err := env.rollups.GetDeadLetter(ctx, "tenant-a", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterStatusRecovered, recovered.Status)
}

func TestCancel_QueuedExecutionFinishesCancelled(t *testing.T) {
	env := newOrchestratorEnv(t, 0)
	ctx := context.Background()
	rollup := env.seedRollup(t, "tenant-a")
	exec := env.createExecution(t, rollup)

	// Flag before the pool ever claims the job.
	_, err := env.orc.EnqueueExecution(ctx, exec, EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, env.orc.Cancel(ctx, "tenant-a", exec.ID))

	env.orc.Start()
	t.Cleanup(env.orc.Stop)

	env.waitForStatus(t, "tenant-a", exec.ID, models.ExecutionStatusCancelled)
	require.Eventually(t, func() bool {
		return env.recorder.count(events.ExecutionCancelled) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, env.recorder.count(events.ExecutionCompleted))
}

func TestCancel_UnknownExecutionIsNotFound(t *testing.T) {
	env := newOrchestratorEnv(t, 0)
	err := env.orc.Cancel(context.Background(), "tenant-a", "exec_missing")
	assert.Error(t, err)
}

func TestExecute_TerminalErrorFailsWithoutDeadLetter(t *testing.T) {
	env := newOrchestratorEnv(t, 0)
	ctx := context.Background()
	rollup := env.seedRollup(t, "tenant-a")
	// Un-scan repoB: one available repository is a configuration problem,
	// not a transient one.
	env.scans.AddScan("tenant-a", "repoB", "", nil)
	exec := env.createExecution(t, rollup)

	env.orc.Start()
	t.Cleanup(env.orc.Stop)
	_, err := env.orc.EnqueueExecution(ctx, exec, EnqueueOptions{})
	require.NoError(t, err)

	final := env.waitForStatus(t, "tenant-a", exec.ID, models.ExecutionStatusFailed)
	require.NotNil(t, final.ErrorDetails)
	assert.Equal(t, "CONFIGURATION_ERROR", final.ErrorDetails.Code)
	assert.False(t, final.ErrorDetails.Retryable)

	job, ok := env.orc.broker.Get(exec.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts, "terminal errors are not retried")

	entries, err := env.orc.ListDeadLetters(ctx, "tenant-a", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResumeActive_ReEnqueuesInterruptedExecutions(t *testing.T) {
	env := newOrchestratorEnv(t, 0)
	ctx := context.Background()
	rollup := env.seedRollup(t, "tenant-a")
	exec := env.createExecution(t, rollup)

	// Simulate a crash mid-run: the record says running, no job queued.
	exec.Status = models.ExecutionStatusRunning
	now := time.Now().UTC()
	exec.StartedAt = &now
	require.NoError(t, env.rollups.UpdateExecution(ctx, exec))

	resumed, err := env.orc.ResumeActive(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	env.orc.Start()
	t.Cleanup(env.orc.Stop)
	env.waitForStatus(t, "tenant-a", exec.ID, models.ExecutionStatusCompleted)
}

func TestResumeActive_ReEnqueuesPendingExecutions(t *testing.T) {
	env := newOrchestratorEnv(t, 0)
	ctx := context.Background()
	rollup := env.seedRollup(t, "tenant-a")

	// Simulate a crash between Execute and the first claim: the record says
	// pending, no job queued.
	exec := env.createExecution(t, rollup)

	resumed, err := env.orc.ResumeActive(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	// While the job sits in the queue a second resume is a no-op.
	again, err := env.orc.ResumeActive(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Zero(t, again)

	env.orc.Start()
	t.Cleanup(env.orc.Stop)
	env.waitForStatus(t, "tenant-a", exec.ID, models.ExecutionStatusCompleted)
}
