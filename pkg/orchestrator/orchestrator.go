package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	rollupcache "github.com/crossgraph/rollup/pkg/cache"
	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/events"
	"github.com/crossgraph/rollup/pkg/index"
	"github.com/crossgraph/rollup/pkg/models"
	"github.com/crossgraph/rollup/pkg/store"
)

// Orchestrator is the public face of execution scheduling: enqueue,
// cancel, resume after restart, and dead-letter management.
type Orchestrator struct {
	cfg     *config.OrchestratorConfig
	limits  *config.LimitsConfig
	rollups store.RollupStore
	broker  *Broker
	pool    *WorkerPool
	bus     *events.Bus
	cancels *cancelRegistry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires an orchestrator. idx and cache may be nil; bus may be nil, in
// which case events are discarded silently.
func New(cfg *config.OrchestratorConfig, limits *config.LimitsConfig, rollups store.RollupStore, scans store.ScanGraphStore, idx *index.Engine, cache *rollupcache.TieredCache, bus *events.Bus, keyPrefix string) *Orchestrator {
	if cfg == nil {
		cfg = config.DefaultOrchestratorConfig()
	}
	if limits == nil {
		limits = config.DefaultLimitsConfig()
	}
	if bus == nil {
		bus = events.NewBus(nil, config.DefaultEventsConfig())
	}
	broker := NewBroker(cfg.MaxConcurrentExecutions)
	cancels := newCancelRegistry()
	breakers := NewBreakerSet(cfg.CircuitBreaker)
	executor := NewExecutor(rollups, scans, idx, cache, bus, breakers, limits, keyPrefix, cfg.CancelCheckInterval)
	pool := NewWorkerPool(cfg, limits, broker, executor, rollups, bus, cancels)
	return &Orchestrator{
		cfg:     cfg,
		limits:  limits,
		rollups: rollups,
		broker:  broker,
		pool:    pool,
		bus:     bus,
		cancels: cancels,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool and the DLQ retention sweep.
func (o *Orchestrator) Start() {
	o.pool.Start()
	o.wg.Add(1)
	go o.sweepLoop()
}

// Stop drains the pool gracefully and stops the sweep.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.broker.Close()
	o.pool.Stop()
	o.wg.Wait()
}

// EnqueueOptions tune one enqueued execution.
type EnqueueOptions struct {
	// Priority orders the queue; higher runs first. Zero is normal.
	Priority int
	// Timeout is the wall-clock budget; zero uses the configured default.
	Timeout time.Duration
	// MaxAttempts overrides the retry policy; zero uses the default.
	MaxAttempts int
}

// EnqueueExecution queues an execution job keyed by the execution ID.
// Executions beyond the concurrency cap wait in the queue; they are never
// rejected.
func (o *Orchestrator) EnqueueExecution(_ context.Context, exec *models.RollupExecution, opts EnqueueOptions) (*Job, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.cfg.ExecutionRetry.MaxAttempts
	}
	job := &Job{
		ID:          exec.ID,
		Name:        "rollup-execution",
		TenantID:    exec.TenantID,
		RollupID:    exec.RollupID,
		ExecutionID: exec.ID,
		Timeout:     clipTimeout(opts.Timeout, o.limits),
		MaxAttempts: maxAttempts,
		Priority:    opts.Priority,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.broker.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Cancel flags an execution for cancellation. The flag is observed at the
// next phase boundary or chunk checkpoint; a queued execution is cancelled
// as soon as a worker claims it.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, executionID string) error {
	exec, err := o.rollups.GetExecution(ctx, tenantID, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return errs.NewValidationError("execution_id", "execution already finished")
	}
	o.cancels.cancel(executionID)
	slog.Info("Execution cancellation requested",
		"tenant_id", tenantID, "execution_id", executionID)
	return nil
}

// ResumeActive re-enqueues a tenant's pending and running executions after
// a restart. A pending execution whose in-memory job died with the process
// is enqueued from scratch; a running one resumes at the earliest phase
// whose outputs are not fully persisted. Returns the number re-enqueued.
func (o *Orchestrator) ResumeActive(ctx context.Context, tenantID string) (int, error) {
	var execs []*models.RollupExecution
	for _, status := range []models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusPending} {
		batch, err := o.rollups.ListExecutionsByStatus(ctx, tenantID, status)
		if err != nil {
			return 0, err
		}
		execs = append(execs, batch...)
	}
	resumed := 0
	for _, exec := range execs {
		if job, ok := o.broker.Get(exec.ID); ok &&
			(job.Status == JobStatusActive || job.Status == JobStatusWaiting || job.Status == JobStatusDelayed) {
			continue
		}
		if _, err := o.EnqueueExecution(ctx, exec, EnqueueOptions{}); err != nil {
			slog.Warn("Failed to re-enqueue execution",
				"execution_id", exec.ID, "error", err)
			continue
		}
		resumed++
	}
	if resumed > 0 {
		slog.Info("Resumed interrupted executions",
			"tenant_id", tenantID, "count", resumed)
	}
	return resumed, nil
}

// RetryDeadLetter resets a dead-lettered execution's attempts and
// re-enqueues it. The entry is marked retrying; the worker marks it
// recovered on success or exhausted on a second exhaustion.
func (o *Orchestrator) RetryDeadLetter(ctx context.Context, tenantID, dlqID string) error {
	entry, err := o.rollups.GetDeadLetter(ctx, tenantID, dlqID)
	if err != nil {
		return err
	}
	if entry.Status == models.DeadLetterStatusDiscarded {
		return errs.NewValidationError("dlq_id", "entry was discarded")
	}
	exec, err := o.rollups.GetExecution(ctx, tenantID, entry.ExecutionID)
	if err != nil {
		return err
	}

	exec.Status = models.ExecutionStatusPending
	exec.ErrorDetails = nil
	exec.CompletedAt = nil
	if err := o.rollups.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	now := time.Now().UTC()
	entry.Status = models.DeadLetterStatusRetrying
	entry.NextRetryAt = &now
	if err := o.rollups.UpdateDeadLetter(ctx, entry); err != nil {
		return err
	}

	maxAttempts := entry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.cfg.ExecutionRetry.MaxAttempts
	}
	return o.broker.Enqueue(&Job{
		ID:           exec.ID,
		Name:         "rollup-execution",
		TenantID:     tenantID,
		RollupID:     exec.RollupID,
		ExecutionID:  exec.ID,
		Timeout:      clipTimeout(0, o.limits),
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		DeadLetterID: entry.ID,
	})
}

// DiscardDeadLetter marks a DLQ entry discarded; it will never be retried.
func (o *Orchestrator) DiscardDeadLetter(ctx context.Context, tenantID, dlqID string) error {
	entry, err := o.rollups.GetDeadLetter(ctx, tenantID, dlqID)
	if err != nil {
		return err
	}
	entry.Status = models.DeadLetterStatusDiscarded
	return o.rollups.UpdateDeadLetter(ctx, entry)
}

// ListDeadLetters returns a tenant's DLQ entries, newest first.
func (o *Orchestrator) ListDeadLetters(ctx context.Context, tenantID string, limit, offset int) ([]*models.DeadLetterEntry, error) {
	return o.rollups.ListDeadLetters(ctx, tenantID, limit, offset)
}

// Health reports queue and pool state for the health endpoint.
func (o *Orchestrator) Health() map[string]any {
	return map[string]any{
		"running":     o.pool.Running(),
		"queue_depth": o.broker.Depth(),
		"active_jobs": o.broker.Active(),
	}
}

// sweepLoop deletes DLQ entries older than the retention window. The sweep
// interval is retention/24 clamped to [1m, 1h].
func (o *Orchestrator) sweepLoop() {
	defer o.wg.Done()
	retention := o.cfg.DeadLetterRetention
	if retention <= 0 {
		return
	}
	interval := retention / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			deleted, err := o.rollups.DeleteDeadLettersBefore(context.Background(), cutoff)
			if err != nil {
				slog.Warn("DLQ retention sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				slog.Info("DLQ retention sweep", "deleted", deleted)
			}
		}
	}
}
