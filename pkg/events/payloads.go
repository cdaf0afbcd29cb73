package events

// Typed payloads for the Data field of each event. Keeping them as structs
// (not ad-hoc maps) pins the wire contract and makes emit sites explicit.

// RollupPayload accompanies rollup.created / rollup.updated / rollup.deleted.
type RollupPayload struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
	Status  string `json:"status,omitempty"`
}

// ExecutionStartedPayload accompanies rollup.execution.started.
type ExecutionStartedPayload struct {
	ExecutionID string `json:"executionId"`
	Attempt     int    `json:"attempt"`
}

// ExecutionProgressPayload accompanies rollup.execution.progress.
type ExecutionProgressPayload struct {
	ExecutionID string `json:"executionId"`
	Phase       string `json:"phase"`
	Progress    int    `json:"progress"` // 0..100
}

// ExecutionCompletedPayload accompanies rollup.execution.completed.
type ExecutionCompletedPayload struct {
	ExecutionID  string `json:"executionId"`
	MergedNodes  int    `json:"mergedNodes"`
	MatchesFound int    `json:"matchesFound"`
	DurationMs   int64  `json:"durationMs"`
}

// ExecutionFailedPayload accompanies rollup.execution.failed.
type ExecutionFailedPayload struct {
	ExecutionID string `json:"executionId"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Message     string `json:"message"`
	Attempts    int    `json:"attempts"`
	DeadLetter  bool   `json:"deadLetter,omitempty"`
}

// ExecutionCancelledPayload accompanies rollup.execution.cancelled.
type ExecutionCancelledPayload struct {
	ExecutionID string `json:"executionId"`
	Phase       string `json:"phase,omitempty"`
}
