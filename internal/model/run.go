package model

import "time"

// RunStatus is the terminal or in-flight state of a Run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// UploadStats captures the outcome of the Batch Uploader's pass over a
// completed run.
type UploadStats struct {
	CompletedAt  time.Time
	DurationMs   int64
	SuccessCount int
	FailedCount  int
}

// Run is the top-level record for one validation pass over the Property
// Source, mutated only by the Run Coordinator.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	Status         RunStatus
	WorkerCount    int
	TotalProperties int
	CompletedCount int
	FailedCount    int
	UploadStats    *UploadStats
}

// Screenshot is a captured page image, owned by the Temp Cache until
// uploaded; the uploaded ref then replaces the in-memory bytes.
type Screenshot struct {
	PropertyID string
	RunID      string
	Bytes      []byte
	MIME       string
	CapturedAt time.Time
	Phase      Phase
}

// RetryQueueEntryStatus is the closed set of retry-queue row states.
type RetryQueueEntryStatus string

const (
	RetryPending          RetryQueueEntryStatus = "pending"
	RetryRetrying         RetryQueueEntryStatus = "retrying"
	RetryResolved         RetryQueueEntryStatus = "resolved"
	RetryPermanentFailure RetryQueueEntryStatus = "permanent_failure"
)

// MaxRetryAttempts is the hard cap on RetryQueueEntry.AttemptCount.
const MaxRetryAttempts = 3

// RetryQueueEntry is a persisted Phase-2 failure awaiting out-of-band
// re-attempt with exponential backoff.
type RetryQueueEntry struct {
	ID            string
	PropertyID    string
	RunID         string
	Reason        string
	AttemptCount  int
	LastAttemptAt time.Time
	NextRetryAt   time.Time
	Status        RetryQueueEntryStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
