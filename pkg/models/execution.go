package models

import "time"

// ExecutionStatus represents the lifecycle state of a rollup execution.
type ExecutionStatus string

// Execution status constants.
const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// ExecutionPhase identifies one phase of the execution pipeline.
type ExecutionPhase string

// Execution phases, in pipeline order.
const (
	PhaseFetch    ExecutionPhase = "fetch"
	PhaseMatch    ExecutionPhase = "match"
	PhaseMerge    ExecutionPhase = "merge"
	PhaseStore    ExecutionPhase = "store"
	PhaseCallback ExecutionPhase = "callback"
)

// Phases lists the pipeline phases in order.
func Phases() []ExecutionPhase {
	return []ExecutionPhase{PhaseFetch, PhaseMatch, PhaseMerge, PhaseStore, PhaseCallback}
}

// ExecutionProgress tracks incremental progress of a running execution.
type ExecutionProgress struct {
	ScansProcessed int `json:"scans_processed"`
	TotalScans     int `json:"total_scans"`
	NodesProcessed int `json:"nodes_processed"`
	MatchesFound   int `json:"matches_found"`
}

// Checkpoint is saved after every completed phase so a retry can resume.
type Checkpoint struct {
	Timestamp time.Time         `json:"timestamp"`
	Phase     ExecutionPhase    `json:"phase"`
	Progress  ExecutionProgress `json:"progress"`
}

// PartialResults captures usable output of a phase whose successor failed.
type PartialResults struct {
	Phase          ExecutionPhase `json:"phase"`
	NodesProcessed int            `json:"nodes_processed"`
	MatchesFound   int            `json:"matches_found"`
	MergedNodes    int            `json:"merged_nodes,omitempty"`
}

// ErrorDetails is the persisted error snapshot of a failed execution.
type ErrorDetails struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Phase     ExecutionPhase `json:"phase,omitempty"`
	Retryable bool           `json:"retryable"`
}

// RollupExecution is one run of a rollup configuration.
type RollupExecution struct {
	ID             string            `json:"execution_id"`
	RollupID       string            `json:"rollup_id"`
	TenantID       string            `json:"tenant_id"`
	Status         ExecutionStatus   `json:"status"`
	ScanIDs        []string          `json:"scan_ids,omitempty"`
	Phase          ExecutionPhase    `json:"phase,omitempty"`
	Progress       ExecutionProgress `json:"progress"`
	Checkpoint     *Checkpoint       `json:"checkpoint,omitempty"`
	PartialResults *PartialResults   `json:"partial_results,omitempty"`
	ErrorDetails   *ErrorDetails     `json:"error_details,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// DeadLetterStatus tracks what happened to a dead-lettered execution.
type DeadLetterStatus string

// Dead letter status constants.
const (
	DeadLetterStatusPending   DeadLetterStatus = "pending"
	DeadLetterStatusRetrying  DeadLetterStatus = "retrying"
	DeadLetterStatusExhausted DeadLetterStatus = "exhausted"
	DeadLetterStatusRecovered DeadLetterStatus = "recovered"
	DeadLetterStatusDiscarded DeadLetterStatus = "discarded"
)

// DeadLetterEntry is a snapshot of an execution that exhausted its retries.
// It owns a copy of the failure context; the live execution may be gone.
type DeadLetterEntry struct {
	ID             string           `json:"id"`
	ExecutionID    string           `json:"execution_id"`
	RollupID       string           `json:"rollup_id"`
	TenantID       string           `json:"tenant_id"`
	ErrorKind      string           `json:"error_kind"`
	ErrorMessage   string           `json:"error_message"`
	ErrorCode      string           `json:"error_code,omitempty"`
	Phase          ExecutionPhase   `json:"phase,omitempty"`
	AttemptCount   int              `json:"attempt_count"`
	MaxAttempts    int              `json:"max_attempts"`
	PartialResults *PartialResults  `json:"partial_results,omitempty"`
	NextRetryAt    *time.Time       `json:"next_retry_at,omitempty"`
	Status         DeadLetterStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}
