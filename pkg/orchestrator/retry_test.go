package orchestrator

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
)

func TestRetryable_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"validation", errs.NewValidationError("name", "empty"), false},
		{"configuration", errs.NewConfigurationError("too many nodes"), false},
		{"not found", errs.NewNotFoundError("rollup", "rollup_1"), false},
		{"conflict", &errs.ConflictError{Entity: "rollup", ID: "rollup_1"}, false},
		{"plain error", errors.New("boom"), false},
		{"tagged transient", errs.Transient(errors.New("boom")), true},
		{"execution error retryable", &errs.ExecutionError{Phase: "store", Cause: errors.New("x"), Retryable: true}, true},
		{"econnrefused", syscall.ECONNREFUSED, true},
		{"econnreset", syscall.ECONNRESET, true},
		{"refused message", errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), true},
		{"reset message", errors.New("read tcp: connection reset by peer"), true},
		{"io timeout", errors.New("read tcp: i/o timeout"), true},
		{"dns failure", errors.New("lookup db.internal: no such host"), true},
		{"socket hang up", errors.New("socket hang up"), true},
		{"circuit open", &errs.CircuitOpenError{Service: "scan-store", RetryAfter: time.Second}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, Retryable(tc.err))
		})
	}
}

func TestRetryable_TerminalWinsOverWrappedTransient(t *testing.T) {
	// A terminal classification is not overridden by transient-looking text.
	err := errs.NewConfigurationError("merge would exceed maxNodes after connection refused")
	assert.False(t, Retryable(err))
}

func TestBackoff_ExponentialGrowthAndCap(t *testing.T) {
	policy := config.RetryPolicyConfig{
		MaxAttempts:       5,
		BaseDelay:         100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          250 * time.Millisecond,
		JitterFactor:      0,
	}
	assert.Equal(t, 100*time.Millisecond, Backoff(policy, 1))
	assert.Equal(t, 200*time.Millisecond, Backoff(policy, 2))
	assert.Equal(t, 250*time.Millisecond, Backoff(policy, 3), "capped at maxDelay")
	assert.Equal(t, 250*time.Millisecond, Backoff(policy, 4))
}

func TestBackoff_JitterStaysWithinBounds(t *testing.T) {
	policy := config.RetryPolicyConfig{
		BaseDelay:         100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          time.Second,
		JitterFactor:      0.5,
	}
	for i := 0; i < 200; i++ {
		d := Backoff(policy, 1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestBackoff_DefaultsNeverExceedMaxDelayPlusJitter(t *testing.T) {
	policy := config.DefaultRetryPolicyConfig()
	for attempt := 1; attempt <= 10; attempt++ {
		d := Backoff(policy, attempt)
		bound := time.Duration(float64(policy.MaxDelay) * (1 + policy.JitterFactor))
		assert.LessOrEqual(t, d, bound)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
