package orchestrator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/events"
	"github.com/crossgraph/rollup/pkg/store"
)

// WorkerPool drains the broker with a fixed set of polling workers.
// Stop is graceful: claims cease immediately, active executions get
// GracefulShutdownTimeout to finish.
type WorkerPool struct {
	cfg      *config.OrchestratorConfig
	limits   *config.LimitsConfig
	broker   *Broker
	executor *Executor
	rollups  store.RollupStore
	bus      *events.Bus
	cancels  *cancelRegistry

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  atomic.Bool
}

// NewWorkerPool creates a stopped pool.
func NewWorkerPool(cfg *config.OrchestratorConfig, limits *config.LimitsConfig, broker *Broker, executor *Executor, rollups store.RollupStore, bus *events.Bus, cancels *cancelRegistry) *WorkerPool {
	return &WorkerPool{
		cfg:      cfg,
		limits:   limits,
		broker:   broker,
		executor: executor,
		rollups:  rollups,
		bus:      bus,
		cancels:  cancels,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker goroutines. Idempotent.
func (p *WorkerPool) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	count := p.cfg.WorkerCount
	if count <= 0 {
		count = 1
	}
	p.workers = make([]*Worker, 0, count)
	for i := 0; i < count; i++ {
		w := &Worker{id: i, pool: p}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go w.run()
	}
	slog.Info("Worker pool started", "workers", count)
}

// Stop halts claims and waits up to GracefulShutdownTimeout for active
// executions to finish.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		timeout := p.cfg.GracefulShutdownTimeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		select {
		case <-done:
			slog.Info("Worker pool stopped")
		case <-time.After(timeout):
			slog.Warn("Worker pool shutdown timed out; abandoning active executions",
				"timeout", timeout)
		}
		p.running.Store(false)
	})
}

// Running reports whether the pool is accepting work.
func (p *WorkerPool) Running() bool { return p.running.Load() }
