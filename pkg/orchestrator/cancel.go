package orchestrator

import (
	"sync"
	"sync/atomic"
)

// cancelRegistry tracks the cancellation flag of every in-flight execution.
// Cancel creates the entry when absent, so a cancel raced against claim is
// never lost: the worker picks up the already-set flag.
type cancelRegistry struct {
	mu    sync.Mutex
	flags map[string]*atomic.Bool
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{flags: make(map[string]*atomic.Bool)}
}

// flag returns the execution's cancellation flag, creating it when absent.
func (r *cancelRegistry) flag(executionID string) *atomic.Bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[executionID]
	if !ok {
		f = &atomic.Bool{}
		r.flags[executionID] = f
	}
	return f
}

// cancel sets the execution's cancellation flag.
func (r *cancelRegistry) cancel(executionID string) {
	r.flag(executionID).Store(true)
}

// drop removes the execution's flag after a terminal outcome.
func (r *cancelRegistry) drop(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, executionID)
}
