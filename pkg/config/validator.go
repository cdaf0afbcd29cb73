package config

import (
	"fmt"
	"time"
)

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Section string
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s.%s: %v", e.Section, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(section, field, format string, args ...any) error {
	return &ValidationError{Section: section, Field: field, Err: fmt.Errorf(format, args...)}
}

// Validate checks the full configuration, failing fast on the first problem.
func (c *Config) Validate() error {
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateOrchestrator(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLimits() error {
	l := c.Limits
	if l.MaxRepositoriesPerRollup < 2 {
		return newValidationError("limits", "max_repositories_per_rollup", "must be at least 2, got %d", l.MaxRepositoriesPerRollup)
	}
	if l.MaxMatchersPerRollup < 1 {
		return newValidationError("limits", "max_matchers_per_rollup", "must be at least 1, got %d", l.MaxMatchersPerRollup)
	}
	if l.MaxMergedNodes < 1 {
		return newValidationError("limits", "max_merged_nodes", "must be positive, got %d", l.MaxMergedNodes)
	}
	if l.DefaultTimeout < time.Second {
		return newValidationError("limits", "default_timeout", "must be at least 1s, got %v", l.DefaultTimeout)
	}
	if l.MaxTimeout < l.DefaultTimeout {
		return newValidationError("limits", "max_timeout", "must be >= default_timeout (%v), got %v", l.DefaultTimeout, l.MaxTimeout)
	}
	if l.IndexBatchSize < 1 {
		return newValidationError("limits", "index_batch_size", "must be positive, got %d", l.IndexBatchSize)
	}
	if l.IndexErrorRatio < 0 || l.IndexErrorRatio > 1 {
		return newValidationError("limits", "index_error_ratio", "must be within [0,1], got %v", l.IndexErrorRatio)
	}
	return nil
}

func (c *Config) validateOrchestrator() error {
	o := c.Orchestrator
	if o.WorkerCount < 1 {
		return newValidationError("orchestrator", "worker_count", "must be at least 1, got %d", o.WorkerCount)
	}
	if o.MaxConcurrentExecutions < 1 {
		return newValidationError("orchestrator", "max_concurrent_executions", "must be at least 1, got %d", o.MaxConcurrentExecutions)
	}
	if o.CancelCheckInterval < 1 {
		return newValidationError("orchestrator", "cancel_check_interval", "must be positive, got %d", o.CancelCheckInterval)
	}
	if o.DeadLetterQueueMaxSize < 1 {
		return newValidationError("orchestrator", "dead_letter_queue_max_size", "must be positive, got %d", o.DeadLetterQueueMaxSize)
	}
	for name, rp := range map[string]RetryPolicyConfig{"execution_retry": o.ExecutionRetry, "external_retry": o.ExternalRetry} {
		if rp.MaxAttempts < 1 {
			return newValidationError("orchestrator", name+".max_attempts", "must be at least 1, got %d", rp.MaxAttempts)
		}
		if rp.BaseDelay <= 0 {
			return newValidationError("orchestrator", name+".base_delay", "must be positive, got %v", rp.BaseDelay)
		}
		if rp.BackoffMultiplier < 1 {
			return newValidationError("orchestrator", name+".backoff_multiplier", "must be at least 1, got %v", rp.BackoffMultiplier)
		}
		if rp.JitterFactor < 0 || rp.JitterFactor >= 1 {
			return newValidationError("orchestrator", name+".jitter_factor", "must be within [0,1), got %v", rp.JitterFactor)
		}
	}
	cb := o.CircuitBreaker
	if cb.FailureThreshold < 1 {
		return newValidationError("orchestrator", "circuit_breaker.failure_threshold", "must be at least 1, got %d", cb.FailureThreshold)
	}
	if cb.SuccessThreshold < 1 {
		return newValidationError("orchestrator", "circuit_breaker.success_threshold", "must be at least 1, got %d", cb.SuccessThreshold)
	}
	return nil
}

func (c *Config) validateCache() error {
	ca := c.Cache
	if ca.KeyPrefix == "" {
		return newValidationError("cache", "key_prefix", "must not be empty")
	}
	if ca.L1MaxSize < 1 {
		return newValidationError("cache", "l1_max_size", "must be positive, got %d", ca.L1MaxSize)
	}
	if ca.WarmingWorkers < 1 {
		return newValidationError("cache", "warming_workers", "must be at least 1, got %d", ca.WarmingWorkers)
	}
	return nil
}

func (c *Config) validateEvents() error {
	e := c.Events
	if e.ChannelPrefix == "" {
		return newValidationError("events", "channel_prefix", "must not be empty")
	}
	if e.PublishMaxAttempts < 1 {
		return newValidationError("events", "publish_max_attempts", "must be at least 1, got %d", e.PublishMaxAttempts)
	}
	return nil
}
