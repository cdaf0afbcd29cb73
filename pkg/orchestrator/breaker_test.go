package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
)

func testBreakerSet() *BreakerSet {
	return NewBreakerSet(config.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
		FailureWindow:    time.Second,
	})
}

func TestBreaker_StateWalk(t *testing.T) {
	set := testBreakerSet()
	boom := errors.New("backend down")
	fail := func() (any, error) { return nil, boom }
	ok := func() (any, error) { return "ok", nil }

	assert.Equal(t, "closed", set.State("scan-store"))

	_, err := set.Do("scan-store", fail, nil)
	require.ErrorIs(t, err, boom)
	_, err = set.Do("scan-store", fail, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "open", set.State("scan-store"))

	// Open: fail fast with the retry-after hint, without calling through.
	called := false
	_, err = set.Do("scan-store", func() (any, error) { called = true; return nil, nil }, nil)
	var coe *errs.CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.False(t, called)
	assert.Equal(t, "scan-store", coe.Service)
	assert.Equal(t, 50*time.Millisecond, coe.RetryAfter)

	// After the reset timeout the probe is allowed; one success closes.
	time.Sleep(60 * time.Millisecond)
	result, err := set.Do("scan-store", ok, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "closed", set.State("scan-store"))
}

func TestBreaker_FallbackWhileOpen(t *testing.T) {
	set := testBreakerSet()
	fail := func() (any, error) { return nil, errors.New("down") }
	for i := 0; i < 2; i++ {
		_, _ = set.Do("graph-store", fail, nil)
	}
	require.Equal(t, "open", set.State("graph-store"))

	result, err := set.Do("graph-store", fail, func() (any, error) { return "cached", nil })
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
}

func TestBreaker_ServicesAreIsolated(t *testing.T) {
	set := testBreakerSet()
	fail := func() (any, error) { return nil, errors.New("down") }
	for i := 0; i < 2; i++ {
		_, _ = set.Do("scan-store", fail, nil)
	}
	assert.Equal(t, "open", set.State("scan-store"))
	assert.Equal(t, "closed", set.State("graph-store"))

	_, err := set.Do("graph-store", func() (any, error) { return nil, nil }, nil)
	assert.NoError(t, err)
}
