package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	rollupcache "github.com/crossgraph/rollup/pkg/cache"
	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/events"
	"github.com/crossgraph/rollup/pkg/index"
	"github.com/crossgraph/rollup/pkg/match"
	"github.com/crossgraph/rollup/pkg/merge"
	"github.com/crossgraph/rollup/pkg/metrics"
	"github.com/crossgraph/rollup/pkg/models"
	"github.com/crossgraph/rollup/pkg/store"
)

// errCancelled is the internal signal raised when the cancellation flag is
// observed; the worker converts it to status=cancelled.
var errCancelled = errors.New("execution cancelled")

const (
	mergedGraphCacheTTL = 1 * time.Hour
	resultCacheTTL      = 1 * time.Hour
)

// phasePercent maps each completed phase to the reported progress.
var phasePercent = map[models.ExecutionPhase]int{
	models.PhaseFetch:    20,
	models.PhaseMatch:    40,
	models.PhaseMerge:    60,
	models.PhaseStore:    80,
	models.PhaseCallback: 100,
}

// ExecutionResult is the cached summary of a completed execution.
type ExecutionResult struct {
	ExecutionID  string `json:"execution_id"`
	RollupID     string `json:"rollup_id"`
	MergedNodes  int    `json:"merged_nodes"`
	MergedEdges  int    `json:"merged_edges"`
	MatchesFound int    `json:"matches_found"`
	DurationMs   int64  `json:"duration_ms"`
}

// Executor runs the execution pipeline: fetch, match, merge, store,
// callback. Each phase is checkpointed so a retry resumes at the earliest
// phase whose outputs are not fully persisted.
type Executor struct {
	rollups   store.RollupStore
	scans     store.ScanGraphStore
	index     *index.Engine            // nil skips the index refresh
	cache     *rollupcache.TieredCache // nil disables result caching
	bus       *events.Bus
	breakers  *BreakerSet
	limits    *config.LimitsConfig
	keyPrefix string

	// cancelEvery is the node-count granularity of cooperative
	// cancellation checks inside long loops.
	cancelEvery int
}

// NewExecutor wires an execution pipeline.
func NewExecutor(rollups store.RollupStore, scans store.ScanGraphStore, idx *index.Engine, cache *rollupcache.TieredCache, bus *events.Bus, breakers *BreakerSet, limits *config.LimitsConfig, keyPrefix string, cancelEvery int) *Executor {
	if limits == nil {
		limits = config.DefaultLimitsConfig()
	}
	if cancelEvery <= 0 {
		cancelEvery = 500
	}
	return &Executor{
		rollups:     rollups,
		scans:       scans,
		index:       idx,
		cache:       cache,
		bus:         bus,
		breakers:    breakers,
		limits:      limits,
		keyPrefix:   keyPrefix,
		cancelEvery: cancelEvery,
	}
}

// Run executes one claimed job. The returned error is nil on success,
// errCancelled (possibly wrapped) on observed cancellation, or an
// ExecutionError carrying the failed phase.
func (e *Executor) Run(ctx context.Context, job *Job, flag *atomic.Bool, onProgress func(int)) error {
	rollup, err := e.rollups.GetRollup(ctx, job.TenantID, job.RollupID)
	if err != nil {
		return err
	}
	exec, err := e.rollups.GetExecution(ctx, job.TenantID, job.ExecutionID)
	if err != nil {
		return err
	}
	if onProgress == nil {
		onProgress = func(int) {}
	}
	p := &pipeline{ex: e, job: job, exec: exec, rollup: rollup, flag: flag, onProgress: onProgress}
	return p.run(ctx)
}

// pipeline is the per-run state threaded through the phases.
type pipeline struct {
	ex         *Executor
	job        *Job
	exec       *models.RollupExecution
	rollup     *models.RollupConfig
	flag       *atomic.Bool
	onProgress func(int)

	graphs  []merge.RepoGraph
	matches []models.MatchResult
	merged  *models.MergedGraph
}

func (p *pipeline) run(ctx context.Context) error {
	phases := p.remainingPhases()

	if err := p.checkCancel(ctx); err != nil {
		return p.fail(phases[0], err)
	}

	firstAttempt := p.exec.StartedAt == nil
	if firstAttempt {
		now := time.Now().UTC()
		p.exec.StartedAt = &now
	}
	p.exec.Status = models.ExecutionStatusRunning
	if err := p.ex.rollups.UpdateExecution(ctx, p.exec); err != nil {
		return p.fail(phases[0], err)
	}
	if firstAttempt {
		p.ex.bus.Emit(ctx, events.New(events.ExecutionStarted, p.exec.TenantID, p.exec.RollupID, "",
			events.ExecutionStartedPayload{ExecutionID: p.exec.ID, Attempt: p.job.Attempts}))
	}

	for _, phase := range phases {
		if err := p.checkCancel(ctx); err != nil {
			return p.fail(phase, err)
		}
		start := time.Now()
		var err error
		switch phase {
		case models.PhaseFetch:
			err = p.fetch(ctx)
		case models.PhaseMatch:
			err = p.match(ctx)
		case models.PhaseMerge:
			err = p.merge()
		case models.PhaseStore:
			err = p.store(ctx)
		case models.PhaseCallback:
			err = p.callback(ctx)
		}
		metrics.ExecutionPhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
		if err != nil {
			return p.fail(phase, err)
		}
		if phase != models.PhaseCallback {
			p.checkpoint(ctx, phase)
		}
	}
	return nil
}

// remainingPhases resolves where a retry resumes. Only fetch's scan pinning
// and store's merged graph are durable: a checkpoint at or past store means
// only the callback remains; anything earlier reruns the full pipeline
// (fetch reuses the pinned scan IDs, so scan resolution is not repeated).
func (p *pipeline) remainingPhases() []models.ExecutionPhase {
	if ck := p.exec.Checkpoint; ck != nil {
		switch ck.Phase {
		case models.PhaseStore, models.PhaseCallback:
			return []models.ExecutionPhase{models.PhaseCallback}
		}
	}
	return models.Phases()
}

func (p *pipeline) checkCancel(ctx context.Context) error {
	if p.flag != nil && p.flag.Load() {
		return errCancelled
	}
	return ctx.Err()
}

// fail persists partial results on the execution record, then hands the
// error back to the worker for retry/terminal classification. Persistence
// uses a fresh context; the phase context may already be dead.
func (p *pipeline) fail(phase models.ExecutionPhase, err error) error {
	p.exec.Phase = phase
	p.exec.PartialResults = p.partial(phase)
	if uerr := p.ex.rollups.UpdateExecution(context.Background(), p.exec); uerr != nil {
		slog.Error("Failed to persist partial results",
			"execution_id", p.exec.ID, "phase", phase, "error", uerr)
	}
	if errors.Is(err, errCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &errs.ExecutionError{Phase: string(phase), Cause: err, Retryable: Retryable(err)}
}

func (p *pipeline) partial(phase models.ExecutionPhase) *models.PartialResults {
	pr := &models.PartialResults{
		Phase:          phase,
		NodesProcessed: p.exec.Progress.NodesProcessed,
		MatchesFound:   p.exec.Progress.MatchesFound,
	}
	if p.merged != nil {
		pr.MergedNodes = len(p.merged.Nodes)
	}
	return pr
}

func (p *pipeline) checkpoint(ctx context.Context, phase models.ExecutionPhase) {
	p.exec.Phase = phase
	p.exec.Checkpoint = &models.Checkpoint{
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Progress:  p.exec.Progress,
	}
	if err := p.ex.rollups.UpdateExecution(ctx, p.exec); err != nil {
		slog.Warn("Failed to persist checkpoint",
			"execution_id", p.exec.ID, "phase", phase, "error", err)
	}
	pct := phasePercent[phase]
	p.onProgress(pct)
	p.ex.bus.Emit(ctx, events.New(events.ExecutionProgress, p.exec.TenantID, p.exec.RollupID, "",
		events.ExecutionProgressPayload{ExecutionID: p.exec.ID, Phase: string(phase), Progress: pct}))
}

// fetch pins the scan set (latest scan per repository, unless already
// pinned by a previous attempt or by the caller) and loads the graphs.
// ScanIDs align positionally with the rollup's repository order; an empty
// entry means the repository had no scan. The external-object index is
// refreshed best-effort.
func (p *pipeline) fetch(ctx context.Context) error {
	tenantID := p.exec.TenantID
	repoIDs := p.rollup.RepositoryIDs

	if len(p.exec.ScanIDs) != len(repoIDs) {
		scanIDs := make([]string, 0, len(repoIDs))
		for _, repoID := range repoIDs {
			v, err := p.ex.breakers.Do("scan-store", func() (any, error) {
				return p.ex.scans.GetLatestScan(ctx, tenantID, repoID)
			}, nil)
			if err != nil {
				return err
			}
			scanIDs = append(scanIDs, v.(string))
		}
		p.exec.ScanIDs = scanIDs
	}

	p.graphs = p.graphs[:0]
	available := 0
	totalNodes := 0
	for i, repoID := range repoIDs {
		scanID := p.exec.ScanIDs[i]
		if scanID == "" {
			p.graphs = append(p.graphs, merge.RepoGraph{RepositoryID: repoID})
			continue
		}
		v, err := p.ex.breakers.Do("scan-store", func() (any, error) {
			return p.ex.scans.GetGraph(ctx, tenantID, scanID)
		}, nil)
		if err != nil {
			return err
		}
		graph := v.(*models.Graph)
		p.graphs = append(p.graphs, merge.RepoGraph{RepositoryID: repoID, Graph: graph})
		available++
		totalNodes += len(graph.Nodes)
	}
	if available < 2 {
		return errs.NewConfigurationError("only %d of %d repositories have scans; at least 2 required",
			available, len(repoIDs))
	}

	p.exec.Progress.TotalScans = len(repoIDs)
	p.exec.Progress.ScansProcessed = available
	p.exec.Progress.NodesProcessed = totalNodes

	if p.ex.index != nil {
		if _, err := p.ex.index.Build(ctx, tenantID, repoIDs, index.BuildOptions{}); err != nil {
			slog.Warn("Index refresh failed during fetch",
				"execution_id", p.exec.ID, "error", err)
		}
	}
	return nil
}

// match runs the configured matchers over every repository pair.
func (p *pipeline) match(ctx context.Context) error {
	processed := 0
	sets := make([]match.NodeSet, len(p.graphs))
	for i, rg := range p.graphs {
		if rg.Graph == nil {
			continue
		}
		set, err := p.nodeSet(ctx, rg, &processed)
		if err != nil {
			return err
		}
		sets[i] = set
	}

	var matches []models.MatchResult
	for i := 0; i < len(sets); i++ {
		if sets[i].Nodes == nil {
			continue
		}
		for j := i + 1; j < len(sets); j++ {
			if sets[j].Nodes == nil {
				continue
			}
			matches = append(matches, match.Run(p.rollup.Matchers, sets[i], sets[j])...)
			if err := p.checkCancel(ctx); err != nil {
				return err
			}
		}
	}
	p.matches = matches
	p.exec.Progress.MatchesFound = len(matches)
	return nil
}

// nodeSet flattens a graph into a deterministic node slice, observing the
// cancellation flag at chunk boundaries.
func (p *pipeline) nodeSet(ctx context.Context, rg merge.RepoGraph, processed *int) (match.NodeSet, error) {
	nodes := make([]*models.Node, 0, len(rg.Graph.Nodes))
	for _, node := range rg.Graph.Nodes {
		nodes = append(nodes, node)
		*processed++
		if *processed%p.ex.cancelEvery == 0 {
			if err := p.checkCancel(ctx); err != nil {
				return match.NodeSet{}, err
			}
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return match.NodeSet{RepositoryID: rg.RepositoryID, Nodes: nodes}, nil
}

func (p *pipeline) merge() error {
	opts := p.rollup.MergeOptions
	if opts.MaxNodes <= 0 || opts.MaxNodes > p.ex.limits.MaxMergedNodes {
		opts.MaxNodes = p.ex.limits.MaxMergedNodes
	}
	merged, err := merge.Merge(merge.Input{Repos: p.graphs, Matches: p.matches, Options: opts})
	if err != nil {
		return err
	}
	p.merged = merged
	return nil
}

func (p *pipeline) store(ctx context.Context) error {
	tenantID := p.exec.TenantID
	_, err := p.ex.breakers.Do("graph-store", func() (any, error) {
		return nil, p.ex.scans.PersistMergedGraph(ctx, tenantID, p.exec.ID, p.merged)
	}, nil)
	if err != nil {
		return err
	}

	if p.ex.cache != nil {
		if payload, merr := json.Marshal(p.merged); merr == nil {
			key := rollupcache.Key(p.ex.keyPrefix, rollupcache.KeyspaceMergedGraph, tenantID,
				map[string]any{"execution_id": p.exec.ID})
			p.ex.cache.Set(ctx, rollupcache.KeyspaceMergedGraph, key, payload, mergedGraphCacheTTL,
				[]string{rollupcache.TenantTag(tenantID), rollupcache.RollupTag(p.exec.RollupID)})
		}
	}
	return nil
}

// callback finalizes the execution: completed status, cached result
// summary, completed event. On resume past store, the merged graph is
// reloaded from the store.
func (p *pipeline) callback(ctx context.Context) error {
	if p.merged == nil {
		merged, err := p.ex.scans.GetMergedGraph(ctx, p.exec.TenantID, p.exec.ID)
		if err != nil {
			return err
		}
		p.merged = merged
	}

	now := time.Now().UTC()
	var durationMs int64
	if p.exec.StartedAt != nil {
		durationMs = now.Sub(*p.exec.StartedAt).Milliseconds()
	}
	p.exec.Status = models.ExecutionStatusCompleted
	p.exec.Phase = models.PhaseCallback
	p.exec.CompletedAt = &now
	p.exec.PartialResults = nil
	p.exec.ErrorDetails = nil
	// The checkpoint only serves resume; a completed execution has nothing
	// to resume.
	p.exec.Checkpoint = nil
	if err := p.ex.rollups.UpdateExecution(ctx, p.exec); err != nil {
		return err
	}

	result := ExecutionResult{
		ExecutionID:  p.exec.ID,
		RollupID:     p.exec.RollupID,
		MergedNodes:  len(p.merged.Nodes),
		MergedEdges:  len(p.merged.Edges),
		MatchesFound: p.exec.Progress.MatchesFound,
		DurationMs:   durationMs,
	}
	if p.ex.cache != nil {
		if payload, err := json.Marshal(result); err == nil {
			key := rollupcache.Key(p.ex.keyPrefix, rollupcache.KeyspaceExecutionResult, p.exec.TenantID,
				map[string]any{"execution_id": p.exec.ID})
			p.ex.cache.Set(ctx, rollupcache.KeyspaceExecutionResult, key, payload, resultCacheTTL,
				[]string{rollupcache.TenantTag(p.exec.TenantID), rollupcache.RollupTag(p.exec.RollupID)})
		}
	}

	p.onProgress(phasePercent[models.PhaseCallback])
	p.ex.bus.Emit(ctx, events.New(events.ExecutionCompleted, p.exec.TenantID, p.exec.RollupID, "",
		events.ExecutionCompletedPayload{
			ExecutionID:  p.exec.ID,
			MergedNodes:  result.MergedNodes,
			MatchesFound: result.MatchesFound,
			DurationMs:   durationMs,
		}))
	return nil
}
