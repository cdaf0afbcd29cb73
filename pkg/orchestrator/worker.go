package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/events"
	"github.com/crossgraph/rollup/pkg/metrics"
	"github.com/crossgraph/rollup/pkg/models"
)

// Worker polls the broker and drives one execution at a time through the
// pipeline, then classifies the outcome: completed, retry with backoff,
// cancelled, timed out, terminal failure, or dead-letter on exhaustion.
type Worker struct {
	id   int
	pool *WorkerPool
}

func (w *Worker) run() {
	defer w.pool.wg.Done()
	for {
		select {
		case <-w.pool.stopCh:
			return
		default:
		}
		w.pollAndProcess()
		if !w.sleep(w.pollInterval()) {
			return
		}
	}
}

// pollInterval is the base interval with ± jitter so workers drift apart.
func (w *Worker) pollInterval() time.Duration {
	base := w.pool.cfg.PollInterval
	if base <= 0 {
		base = time.Second
	}
	jitter := w.pool.cfg.PollIntervalJitter
	if jitter <= 0 || jitter >= base {
		return base
	}
	return base - jitter + rand.N(2*jitter)
}

// sleep waits for d or the stop signal; false means stop.
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.pool.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) pollAndProcess() {
	job, err := w.pool.broker.Claim(time.Now())
	if err != nil {
		// Empty queue, capacity, and pause are all idle conditions.
		return
	}

	metrics.ExecutionsInflight.Inc()
	defer metrics.ExecutionsInflight.Dec()

	flag := w.pool.cancels.flag(job.ExecutionID)
	timeout := clipTimeout(job.Timeout, w.pool.limits)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("Processing execution",
		"worker", w.id, "execution_id", job.ExecutionID, "attempt", job.Attempts)
	runErr := w.pool.executor.Run(ctx, job, flag, func(pct int) {
		w.pool.broker.SetProgress(job.ID, pct)
	})
	w.finish(job, flag.Load(), timeout, runErr)
}

// clipTimeout resolves the execution wall-clock budget: default when unset,
// clamped to [1s, MaxTimeout].
func clipTimeout(t time.Duration, limits *config.LimitsConfig) time.Duration {
	if t <= 0 {
		t = limits.DefaultTimeout
	}
	if t < time.Second {
		t = time.Second
	}
	if limits.MaxTimeout > 0 && t > limits.MaxTimeout {
		t = limits.MaxTimeout
	}
	return t
}

// finish applies the terminal (or retry) outcome of one attempt.
func (w *Worker) finish(job *Job, cancelled bool, timeout time.Duration, runErr error) {
	ctx := context.Background()

	if runErr == nil {
		w.pool.broker.Complete(job.ID)
		w.pool.cancels.drop(job.ExecutionID)
		if job.DeadLetterID != "" {
			w.markDeadLetter(ctx, job, models.DeadLetterStatusRecovered)
		}
		return
	}

	exec, err := w.pool.rollups.GetExecution(ctx, job.TenantID, job.ExecutionID)
	if err != nil {
		slog.Error("Execution record unavailable after failure",
			"execution_id", job.ExecutionID, "error", err)
		w.pool.broker.Fail(job.ID, runErr.Error(), time.Time{})
		w.pool.cancels.drop(job.ExecutionID)
		return
	}

	switch {
	case cancelled || errors.Is(runErr, errCancelled):
		w.finalizeCancelled(ctx, job, exec)

	case errors.Is(runErr, context.DeadlineExceeded):
		// Timed out: cancellation-like for classification, but surfaces
		// as a failed execution with a stable code. Never retried.
		te := &errs.TimeoutError{Budget: timeout}
		w.finalizeFailed(ctx, job, exec, te.Code(), te.Error(), false)
		w.pool.broker.Fail(job.ID, te.Error(), time.Time{})

	case Retryable(runErr) && job.Attempts < job.MaxAttempts:
		w.scheduleRetry(ctx, job, exec, runErr)

	case Retryable(runErr):
		// Retries exhausted: dead-letter and fail.
		dlqID := w.deadLetter(ctx, job, exec, runErr)
		resp := errs.ToSafeResponse(runErr, "")
		w.finalizeFailed(ctx, job, exec, resp.Code, runErr.Error(), true)
		w.pool.broker.DeadLetter(job.ID, runErr.Error(), dlqID)
		metrics.DeadLetters.Inc()

	default:
		// Terminal error: fail immediately, no dead-letter.
		resp := errs.ToSafeResponse(runErr, "")
		w.finalizeFailed(ctx, job, exec, resp.Code, runErr.Error(), false)
		w.pool.broker.Fail(job.ID, runErr.Error(), time.Time{})
	}
}

func (w *Worker) scheduleRetry(ctx context.Context, job *Job, exec *models.RollupExecution, runErr error) {
	delay := Backoff(w.pool.cfg.ExecutionRetry, job.Attempts)
	exec.Status = models.ExecutionStatusPending
	exec.ErrorDetails = &models.ErrorDetails{
		Code:      errs.ToSafeResponse(runErr, "").Code,
		Message:   runErr.Error(),
		Phase:     exec.Phase,
		Retryable: true,
	}
	if err := w.pool.rollups.UpdateExecution(ctx, exec); err != nil {
		slog.Error("Failed to persist retry state",
			"execution_id", exec.ID, "error", err)
	}
	slog.Warn("Execution attempt failed, retrying",
		"execution_id", exec.ID, "attempt", job.Attempts,
		"max_attempts", job.MaxAttempts, "delay", delay, "error", runErr)
	w.pool.broker.Fail(job.ID, runErr.Error(), time.Now().Add(delay))
}

func (w *Worker) finalizeCancelled(ctx context.Context, job *Job, exec *models.RollupExecution) {
	now := time.Now().UTC()
	exec.Status = models.ExecutionStatusCancelled
	exec.CompletedAt = &now
	if err := w.pool.rollups.UpdateExecution(ctx, exec); err != nil {
		slog.Error("Failed to persist cancelled execution",
			"execution_id", exec.ID, "error", err)
	}
	w.pool.bus.Emit(ctx, events.New(events.ExecutionCancelled, exec.TenantID, exec.RollupID, "",
		events.ExecutionCancelledPayload{ExecutionID: exec.ID, Phase: string(exec.Phase)}))
	w.pool.broker.Complete(job.ID)
	w.pool.cancels.drop(job.ExecutionID)
}

func (w *Worker) finalizeFailed(ctx context.Context, job *Job, exec *models.RollupExecution, code, message string, deadLettered bool) {
	now := time.Now().UTC()
	exec.Status = models.ExecutionStatusFailed
	exec.CompletedAt = &now
	exec.ErrorDetails = &models.ErrorDetails{
		Code:      code,
		Message:   message,
		Phase:     exec.Phase,
		Retryable: deadLettered,
	}
	if err := w.pool.rollups.UpdateExecution(ctx, exec); err != nil {
		slog.Error("Failed to persist failed execution",
			"execution_id", exec.ID, "error", err)
	}
	w.pool.bus.Emit(ctx, events.New(events.ExecutionFailed, exec.TenantID, exec.RollupID, "",
		events.ExecutionFailedPayload{
			ExecutionID: exec.ID,
			ErrorCode:   code,
			Message:     message,
			Attempts:    job.Attempts,
			DeadLetter:  deadLettered,
		}))
	w.pool.cancels.drop(job.ExecutionID)
}

// deadLetter writes (or, for a re-exhausted DLQ retry, updates) the single
// DLQ entry of this execution, evicting the oldest entries past the bound.
func (w *Worker) deadLetter(ctx context.Context, job *Job, exec *models.RollupExecution, runErr error) string {
	if job.DeadLetterID != "" {
		entry, err := w.pool.rollups.GetDeadLetter(ctx, job.TenantID, job.DeadLetterID)
		if err == nil {
			entry.Status = models.DeadLetterStatusExhausted
			entry.AttemptCount = job.Attempts
			entry.ErrorMessage = runErr.Error()
			entry.PartialResults = exec.PartialResults
			if uerr := w.pool.rollups.UpdateDeadLetter(ctx, entry); uerr != nil {
				slog.Error("Failed to update dead letter entry",
					"dlq_id", entry.ID, "error", uerr)
			}
			return entry.ID
		}
	}

	if max := w.pool.cfg.DeadLetterQueueMaxSize; max > 0 {
		if count, err := w.pool.rollups.CountDeadLetters(ctx); err == nil && count >= max {
			if _, derr := w.pool.rollups.DeleteOldestDeadLetters(ctx, count-max+1); derr != nil {
				slog.Warn("DLQ eviction failed", "error", derr)
			}
		}
	}

	entry := &models.DeadLetterEntry{
		ID:             models.NewDeadLetterID(),
		ExecutionID:    exec.ID,
		RollupID:       exec.RollupID,
		TenantID:       exec.TenantID,
		ErrorKind:      "retry_exhausted",
		ErrorMessage:   runErr.Error(),
		ErrorCode:      errs.ToSafeResponse(runErr, "").Code,
		Phase:          exec.Phase,
		AttemptCount:   job.Attempts,
		MaxAttempts:    job.MaxAttempts,
		PartialResults: exec.PartialResults,
		Status:         models.DeadLetterStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := w.pool.rollups.SaveDeadLetter(ctx, entry); err != nil {
		slog.Error("Failed to save dead letter entry",
			"execution_id", exec.ID, "error", err)
		return ""
	}
	return entry.ID
}

func (w *Worker) markDeadLetter(ctx context.Context, job *Job, status models.DeadLetterStatus) {
	entry, err := w.pool.rollups.GetDeadLetter(ctx, job.TenantID, job.DeadLetterID)
	if err != nil {
		return
	}
	entry.Status = status
	if err := w.pool.rollups.UpdateDeadLetter(ctx, entry); err != nil {
		slog.Warn("Failed to update dead letter status",
			"dlq_id", entry.ID, "status", status, "error", err)
	}
}
