package orchestrator

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
)

// transientSignatures are error-message fragments that mark a failure as a
// transient network condition even when the error carries no retryable tag.
var transientSignatures = []string{
	"connection refused",
	"connection reset",
	"i/o timeout",
	"timed out",
	"no such host",
	"temporary failure in name resolution",
	"socket hang up",
	"broken pipe",
}

// Retryable classifies an execution failure. Validation, configuration,
// conflict, and not-found errors are terminal; tagged-retryable errors and
// transient network signatures are retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errs.IsValidationError(err) || errs.IsConfigurationError(err) || errs.IsNotFound(err) {
		return false
	}
	var conflict *errs.ConflictError
	if errors.As(err, &conflict) {
		return false
	}
	if errs.IsRetryable(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Backoff returns the delay before retry number attempt (1-based):
// baseDelay * multiplier^(attempt-1), capped at maxDelay, with
// ±jitterFactor random jitter.
func Backoff(policy config.RetryPolicyConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(policy.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if maxDelay := float64(policy.MaxDelay); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if policy.JitterFactor > 0 {
		span := delay * policy.JitterFactor
		delay = delay - span + rand.Float64()*2*span
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
