// Package orchestrator runs rollup executions: a strict-priority job broker,
// a worker pool, retry with exponential backoff, per-service circuit
// breakers, and a bounded dead-letter queue for executions that exhaust
// their retries.
package orchestrator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/crossgraph/rollup/pkg/metrics"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

// Job status constants.
const (
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusDelayed    JobStatus = "delayed"
	JobStatusActive     JobStatus = "active"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead-letter"
)

// Job is one unit of work on the broker. Execution jobs are keyed by
// execution ID, so re-enqueueing the same execution replaces its job.
type Job struct {
	ID           string
	Name         string
	TenantID     string
	RollupID     string
	ExecutionID  string
	Timeout      time.Duration
	Status       JobStatus
	Attempts     int
	MaxAttempts  int
	Priority     int
	DelayUntil   time.Time
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	CompletedAt  *time.Time
	Error        string
	Progress     int
	DeadLetterID string
}

// Broker sentinels.
var (
	// ErrNoJobs signals an empty queue on claim.
	ErrNoJobs = errors.New("no jobs waiting")

	// ErrAtCapacity signals that the concurrency cap is reached.
	ErrAtCapacity = errors.New("worker pool at capacity")

	// ErrPaused signals that the broker is paused.
	ErrPaused = errors.New("broker is paused")
)

// Broker is the in-memory job queue. Durability comes from the execution
// records in the rollup store; on restart, active executions are
// re-enqueued via Orchestrator.ResumeActive.
type Broker struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	paused    bool
	closed    bool
	maxActive int
	active    int
}

// NewBroker creates a broker capped at maxActive concurrent jobs.
func NewBroker(maxActive int) *Broker {
	if maxActive <= 0 {
		maxActive = 1
	}
	return &Broker{jobs: make(map[string]*Job), maxActive: maxActive}
}

// Enqueue adds a job in waiting (or delayed) state. A job with the same ID
// replaces any non-active predecessor.
func (b *Broker) Enqueue(job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broker is closed")
	}
	if existing, ok := b.jobs[job.ID]; ok && existing.Status == JobStatusActive {
		return errors.New("job is active: " + job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.DelayUntil.After(time.Now()) {
		job.Status = JobStatusDelayed
	} else {
		job.Status = JobStatusWaiting
	}
	b.jobs[job.ID] = job
	metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	return nil
}

// Claim returns the next runnable job: delayed jobs whose delay passed are
// promoted, then the highest-priority waiting job wins, ties broken by
// CreatedAt. The claimed job transitions to active and its attempt counter
// is incremented. The returned value is a snapshot.
func (b *Broker) Claim(now time.Time) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return nil, ErrPaused
	}
	if b.active >= b.maxActive {
		return nil, ErrAtCapacity
	}

	var candidates []*Job
	for _, job := range b.jobs {
		if job.Status == JobStatusDelayed && !now.Before(job.DelayUntil) {
			job.Status = JobStatusWaiting
		}
		if job.Status == JobStatusWaiting {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoJobs
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	job := candidates[0]
	job.Status = JobStatusActive
	job.Attempts++
	processedAt := now.UTC()
	job.ProcessedAt = &processedAt
	b.active++
	metrics.JobsTotal.WithLabelValues(string(JobStatusActive)).Inc()

	snapshot := *job
	return &snapshot, nil
}

// Complete marks an active job finished.
func (b *Broker) Complete(jobID string) {
	b.finish(jobID, JobStatusCompleted, "")
}

// Fail marks an active job failed, or reschedules it delayed until retryAt
// when retryAt is non-zero.
func (b *Broker) Fail(jobID, errMsg string, retryAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		return
	}
	if job.Status == JobStatusActive {
		b.active--
	}
	job.Error = errMsg
	if !retryAt.IsZero() {
		job.Status = JobStatusDelayed
		job.DelayUntil = retryAt
		metrics.JobsTotal.WithLabelValues(string(JobStatusDelayed)).Inc()
		return
	}
	job.Status = JobStatusFailed
	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt
	metrics.JobsTotal.WithLabelValues(string(JobStatusFailed)).Inc()
}

// DeadLetter marks an active job dead-lettered and records the DLQ entry ID.
func (b *Broker) DeadLetter(jobID, errMsg, deadLetterID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		return
	}
	if job.Status == JobStatusActive {
		b.active--
	}
	job.Status = JobStatusDeadLetter
	job.Error = errMsg
	job.DeadLetterID = deadLetterID
	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt
	metrics.JobsTotal.WithLabelValues(string(JobStatusDeadLetter)).Inc()
}

// SetProgress updates a job's progress percentage.
func (b *Broker) SetProgress(jobID string, progress int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if job, ok := b.jobs[jobID]; ok {
		job.Progress = progress
	}
}

// Get returns a snapshot of a job.
func (b *Broker) Get(jobID string) (*Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Pause stops claims; active jobs keep running.
func (b *Broker) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
}

// Resume re-enables claims.
func (b *Broker) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
}

// Close rejects further enqueues; queued jobs remain claimable for drain.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Depth returns the number of waiting + delayed jobs.
func (b *Broker) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	depth := 0
	for _, job := range b.jobs {
		if job.Status == JobStatusWaiting || job.Status == JobStatusDelayed {
			depth++
		}
	}
	return depth
}

// Active returns the number of active jobs.
func (b *Broker) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Broker) finish(jobID string, status JobStatus, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		return
	}
	if job.Status == JobStatusActive {
		b.active--
	}
	job.Status = status
	job.Error = errMsg
	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt
	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
}
