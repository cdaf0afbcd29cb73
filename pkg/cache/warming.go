package cache

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
)

// Warming priorities.
const (
	WarmPriorityHigh   = 10
	WarmPriorityNormal = 5
	WarmPriorityLow    = 1
)

// WarmingJob asks the processor to pre-populate cache entries.
type WarmingJob struct {
	TenantID     string
	RollupIDs    []string
	TargetTypes  []Keyspace // subset of {execution-result, merged-graph, blast-radius}
	Priority     int
	ForceRefresh bool
	MaxItems     int

	// OnProgress, when set, is invoked after each warmed item.
	OnProgress func(progress WarmProgress)
}

// WarmProgress is the per-item progress update of a warming job.
type WarmProgress struct {
	TenantID  string
	RollupID  string
	Keyspace  Keyspace
	Completed int
	Failed    int
	Total     int
}

// WarmLoader loads (and caches) one artifact for a rollup. Registered per
// keyspace by the owning subsystem.
type WarmLoader func(ctx context.Context, tenantID, rollupID string, forceRefresh bool) error

// warmQueue is a max-heap of warming jobs by priority, FIFO within equal
// priority.
type warmQueue struct {
	items []*queuedWarmJob
}

type queuedWarmJob struct {
	job WarmingJob
	seq int64
}

func (q *warmQueue) Len() int { return len(q.items) }
func (q *warmQueue) Less(i, j int) bool {
	if q.items[i].job.Priority != q.items[j].job.Priority {
		return q.items[i].job.Priority > q.items[j].job.Priority
	}
	return q.items[i].seq < q.items[j].seq
}
func (q *warmQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *warmQueue) Push(x any)         { q.items = append(q.items, x.(*queuedWarmJob)) }
func (q *warmQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

// Warmer drains warming jobs through a bounded worker pool. Item failures
// are logged and counted but never fail the job as a whole.
type Warmer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   warmQueue
	loaders map[Keyspace]WarmLoader
	seq     int64
	closed  bool
	wg      sync.WaitGroup
}

// NewWarmer creates a warming processor with the given worker count.
// Start is implicit; Close drains and stops the workers.
func NewWarmer(ctx context.Context, workers int) *Warmer {
	w := &Warmer{loaders: make(map[Keyspace]WarmLoader)}
	w.cond = sync.NewCond(&w.mu)
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
	return w
}

// RegisterLoader binds a loader to a keyspace. Jobs targeting a keyspace
// without a loader skip it with a warning.
func (w *Warmer) RegisterLoader(keyspace Keyspace, loader WarmLoader) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loaders[keyspace] = loader
}

// Enqueue queues a warming job. Returns false after Close.
func (w *Warmer) Enqueue(job WarmingJob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.seq++
	heap.Push(&w.queue, &queuedWarmJob{job: job, seq: w.seq})
	w.cond.Signal()
	return true
}

// Close stops accepting jobs and waits for in-flight jobs to finish.
func (w *Warmer) Close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Warmer) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		for w.queue.Len() == 0 && !w.closed {
			w.cond.Wait()
		}
		if w.queue.Len() == 0 && w.closed {
			w.mu.Unlock()
			return
		}
		item := heap.Pop(&w.queue).(*queuedWarmJob)
		w.mu.Unlock()

		w.process(ctx, item.job)
	}
}

func (w *Warmer) process(ctx context.Context, job WarmingJob) {
	log := slog.With("tenant_id", job.TenantID, "priority", job.Priority)
	total := len(job.RollupIDs) * len(job.TargetTypes)
	if job.MaxItems > 0 && job.MaxItems < total {
		total = job.MaxItems
	}

	completed, failed, warmed := 0, 0, 0
	for _, rollupID := range job.RollupIDs {
		for _, keyspace := range job.TargetTypes {
			if job.MaxItems > 0 && warmed >= job.MaxItems {
				log.Info("Warming job reached max items", "warmed", warmed)
				return
			}
			if ctx.Err() != nil {
				return
			}
			warmed++

			w.mu.Lock()
			loader, ok := w.loaders[keyspace]
			w.mu.Unlock()
			if !ok {
				log.Warn("No warm loader registered for keyspace", "keyspace", keyspace)
				failed++
				continue
			}

			if err := loader(ctx, job.TenantID, rollupID, job.ForceRefresh); err != nil {
				log.Warn("Warming item failed",
					"rollup_id", rollupID, "keyspace", keyspace, "error", err)
				failed++
			} else {
				completed++
			}

			if job.OnProgress != nil {
				job.OnProgress(WarmProgress{
					TenantID:  job.TenantID,
					RollupID:  rollupID,
					Keyspace:  keyspace,
					Completed: completed,
					Failed:    failed,
					Total:     total,
				})
			}
		}
	}
	log.Info("Warming job finished", "completed", completed, "failed", failed)
}
