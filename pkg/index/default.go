package index

import "sync"

// Process-default engine, set once at wiring time.
var (
	defaultEngine   *Engine
	defaultEngineMu sync.Mutex
)

// SetDefault installs the process-scoped engine.
func SetDefault(e *Engine) {
	defaultEngineMu.Lock()
	defer defaultEngineMu.Unlock()
	defaultEngine = e
}

// Default returns the process-scoped engine, or nil before wiring.
func Default() *Engine {
	defaultEngineMu.Lock()
	defer defaultEngineMu.Unlock()
	return defaultEngine
}

// ResetDefault discards the process-scoped engine. For tests.
func ResetDefault() {
	defaultEngineMu.Lock()
	defer defaultEngineMu.Unlock()
	defaultEngine = nil
}
