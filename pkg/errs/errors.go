// Package errs defines the error taxonomy shared across the rollup engine.
// Expected failures are values of these types; unexpected panics are
// converted to ExecutionError at phase boundaries by the orchestrator.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common conditions.
var (
	// ErrNotFound is returned when an entity is absent or tenant-scoped away.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when an optimistic version check fails.
	ErrConflict = errors.New("version conflict")
)

// ValidationError rejects inputs before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a field-scoped validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError is returned when an entity is absent, or when a read crosses
// a tenant boundary — the two cases are deliberately indistinguishable.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err is (or wraps) a not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ConflictError is returned on optimistic concurrency version mismatch.
type ConflictError struct {
	Entity          string
	ID              string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: version conflict (expected %d, actual %d)",
		e.Entity, e.ID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ConfigurationError reports a rollup that violates policy limits
// (too many nodes, invalid cron, invalid matcher). Always terminal.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ExecutionError reports a failure inside an execution phase.
type ExecutionError struct {
	Phase     string
	Cause     error
	Retryable bool
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed in phase %s: %v", e.Phase, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// IsRetryable implements the retryable tag.
func (e *ExecutionError) IsRetryable() bool { return e.Retryable }

// TimeoutError reports an exceeded wall-clock budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %v", e.Budget)
}

// Code is the stable error code surfaced on timed-out executions.
func (e *TimeoutError) Code() string { return "EXECUTION_TIMEOUT" }

// CircuitOpenError is returned while a circuit breaker is open.
// Calls fail fast; RetryAfter hints when the probe will be allowed.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (retry after %v)", e.Service, e.RetryAfter)
}

// IsRetryable marks circuit-open failures as retryable.
func (e *CircuitOpenError) IsRetryable() bool { return true }

// CacheError reports a degraded cache operation. Never fatal: readers treat
// it as a miss, writers log and continue.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// LookupError rejects malformed index lookups.
type LookupError struct {
	Message string
}

func (e *LookupError) Error() string { return "lookup error: " + e.Message }

// IndexBuildError reports a failed index build with partial counts.
type IndexBuildError struct {
	Message            string
	Created            int
	Errors             int
	SampleErrorNodeIDs []string
}

func (e *IndexBuildError) Error() string {
	return fmt.Sprintf("index build failed: %s (created=%d errors=%d)", e.Message, e.Created, e.Errors)
}

// TransientError tags any error as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsRetryable implements the retryable tag.
func (e *TransientError) IsRetryable() bool { return true }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// retryable is the tag interface checked by IsRetryable.
type retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err carries the retryable tag anywhere in its
// chain. Untagged errors are not retryable by this check alone; the
// orchestrator additionally sniffs transient network signatures.
func IsRetryable(err error) bool {
	for err != nil {
		if r, ok := err.(retryable); ok {
			return r.IsRetryable()
		}
		err = errors.Unwrap(err)
	}
	return false
}
