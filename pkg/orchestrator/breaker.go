package orchestrator

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
)

// BreakerSet holds one circuit breaker per external service name.
// Breakers are created lazily on first use and share one configuration.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      config.CircuitBreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerSet creates an empty breaker set.
func NewBreakerSet(cfg config.CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (s *BreakerSet) breaker(service string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[service]; ok {
		return cb
	}
	threshold := uint32(s.cfg.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: uint32(s.cfg.SuccessThreshold),
		Interval:    s.cfg.FailureWindow,
		Timeout:     s.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state change",
				"service", name, "from", from.String(), "to", to.String())
		},
	})
	s.breakers[service] = cb
	return cb
}

// Do runs fn behind the service's breaker. While the breaker is open the
// call fails fast with CircuitOpenError; when a fallback is supplied its
// result is returned instead.
func (s *BreakerSet) Do(service string, fn func() (any, error), fallback func() (any, error)) (any, error) {
	result, err := s.breaker(service).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if fallback != nil {
			return fallback()
		}
		return nil, &errs.CircuitOpenError{Service: service, RetryAfter: s.cfg.ResetTimeout}
	}
	return result, err
}

// State reports the breaker state for a service ("closed" when unused).
func (s *BreakerSet) State(service string) string {
	s.mu.Lock()
	cb, ok := s.breakers[service]
	s.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}
