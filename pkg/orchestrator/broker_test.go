package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitingJob(id string, priority int, createdAt time.Time) *Job {
	return &Job{
		ID:          id,
		Name:        "rollup-execution",
		ExecutionID: id,
		MaxAttempts: 3,
		Priority:    priority,
		CreatedAt:   createdAt,
	}
}

func TestBroker_StrictPriorityTiesByCreatedAt(t *testing.T) {
	b := NewBroker(10)
	base := time.Now().Add(-time.Minute)
	require.NoError(t, b.Enqueue(waitingJob("low", 1, base)))
	require.NoError(t, b.Enqueue(waitingJob("high-late", 10, base.Add(2*time.Second))))
	require.NoError(t, b.Enqueue(waitingJob("high-early", 10, base.Add(time.Second))))

	first, err := b.Claim(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "high-early", first.ID)
	assert.Equal(t, 1, first.Attempts)

	second, err := b.Claim(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "high-late", second.ID)

	third, err := b.Claim(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "low", third.ID)

	_, err = b.Claim(time.Now())
	assert.ErrorIs(t, err, ErrNoJobs)
}

func TestBroker_DelayedJobsPromoteWhenDue(t *testing.T) {
	b := NewBroker(10)
	job := waitingJob("delayed", 5, time.Now())
	job.DelayUntil = time.Now().Add(time.Hour)
	require.NoError(t, b.Enqueue(job))

	_, err := b.Claim(time.Now())
	assert.ErrorIs(t, err, ErrNoJobs)

	claimed, err := b.Claim(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "delayed", claimed.ID)
}

func TestBroker_CapacityCap(t *testing.T) {
	b := NewBroker(1)
	require.NoError(t, b.Enqueue(waitingJob("a", 0, time.Now())))
	require.NoError(t, b.Enqueue(waitingJob("b", 0, time.Now())))

	_, err := b.Claim(time.Now())
	require.NoError(t, err)
	_, err = b.Claim(time.Now())
	assert.ErrorIs(t, err, ErrAtCapacity)

	b.Complete("a")
	claimed, err := b.Claim(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "b", claimed.ID)
}

func TestBroker_FailWithRetrySchedulesDelayed(t *testing.T) {
	b := NewBroker(1)
	require.NoError(t, b.Enqueue(waitingJob("a", 0, time.Now())))
	_, err := b.Claim(time.Now())
	require.NoError(t, err)

	retryAt := time.Now().Add(time.Minute)
	b.Fail("a", "connection refused", retryAt)

	job, ok := b.Get("a")
	require.True(t, ok)
	assert.Equal(t, JobStatusDelayed, job.Status)
	assert.Equal(t, "connection refused", job.Error)
	assert.Zero(t, b.Active())

	claimed, err := b.Claim(retryAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)
}

func TestBroker_PauseAndResume(t *testing.T) {
	b := NewBroker(5)
	require.NoError(t, b.Enqueue(waitingJob("a", 0, time.Now())))

	b.Pause()
	_, err := b.Claim(time.Now())
	assert.ErrorIs(t, err, ErrPaused)

	b.Resume()
	_, err = b.Claim(time.Now())
	assert.NoError(t, err)
}

func TestBroker_RejectsReplacingActiveJob(t *testing.T) {
	b := NewBroker(5)
	require.NoError(t, b.Enqueue(waitingJob("a", 0, time.Now())))
	_, err := b.Claim(time.Now())
	require.NoError(t, err)

	err = b.Enqueue(waitingJob("a", 0, time.Now()))
	assert.Error(t, err)
}
