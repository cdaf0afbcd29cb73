package config

import "time"

// OrchestratorConfig contains job queue and worker pool configuration.
type OrchestratorConfig struct {
	// WorkerCount is the number of worker goroutines per instance.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentExecutions caps in-flight executions per instance.
	// Executions beyond the cap stay queued, never rejected.
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions"`

	// PollInterval is the base interval for checking waiting jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// GracefulShutdownTimeout is the max time to wait for active
	// executions to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// CancelCheckInterval is the chunk size (in nodes) between
	// cooperative cancellation checks inside long loops.
	CancelCheckInterval int `yaml:"cancel_check_interval"`

	// ExecutionRetry is the retry policy for execution jobs.
	ExecutionRetry RetryPolicyConfig `yaml:"execution_retry"`

	// ExternalRetry is the retry policy for external collaborator calls.
	ExternalRetry RetryPolicyConfig `yaml:"external_retry"`

	// CircuitBreaker wraps external-service calls.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// DeadLetterQueueMaxSize bounds the DLQ; oldest entries are evicted.
	DeadLetterQueueMaxSize int `yaml:"dead_letter_queue_max_size"`

	// DeadLetterRetention is how long DLQ entries are kept before the sweep.
	DeadLetterRetention time.Duration `yaml:"dead_letter_retention"`
}

// DefaultOrchestratorConfig returns the built-in orchestrator defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		WorkerCount:             5,
		MaxConcurrentExecutions: 5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Minute,
		CancelCheckInterval:     500,
		ExecutionRetry:          DefaultRetryPolicyConfig(),
		ExternalRetry:           DefaultRetryPolicyConfig(),
		CircuitBreaker:          DefaultCircuitBreakerConfig(),
		DeadLetterQueueMaxSize:  1000,
		DeadLetterRetention:     7 * 24 * time.Hour,
	}
}
