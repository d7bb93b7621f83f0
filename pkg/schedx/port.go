package schedx

import (
	"context"
	"time"
)

// CandidateFilter narrows the candidate fetch for one batch load.
type CandidateFilter struct {
	Limit            int
	PriorityWeighted bool
	IncludeJobTypes  []string
	ExcludeJobTypes  []string
	ActorFilter      []string
}

// Claim carries the bookkeeping written onto every job a processor claims.
type Claim struct {
	BatchID     string
	ProcessorID string
	ExecutingAt time.Time
	TimeoutAt   time.Time
}

// JobStore is the relational store the scheduler coordinates through. Every
// mutating operation must be atomic in the store itself: the scheduler never
// holds cross-process state in memory, so a conditional update either wins a
// row or silently loses it to a concurrent processor.
type JobStore interface {
	// FetchCandidates returns eligible pending jobs (status pending, no
	// final status, unclaimed, scheduled_at due) ordered by
	// (priority desc, scheduled_at asc), or pure FIFO when priority
	// weighting is off.
	FetchCandidates(ctx context.Context, f CandidateFilter) ([]Job, error)

	// ClaimJobs atomically transitions the given jobs from pending to
	// in_progress with the claim's bookkeeping. Rows already claimed,
	// terminal, or no longer pending are silently excluded from the
	// returned set.
	ClaimJobs(ctx context.Context, jobIDs []string, c Claim) ([]Job, error)

	// CompleteExecution finalizes one attempt. OutcomeCompleted makes the
	// job terminal completed; any other outcome makes it terminal
	// permanently failed. Claim fields are cleared either way. The call is
	// conditional on the job still being in_progress.
	CompleteExecution(ctx context.Context, jobID string, outcome Outcome, errMsg string, duration time.Duration) error

	// ScheduleRetry atomically increments retry_count, sets next_retry_at,
	// reverts the job to pending, clears claim fields, and records the
	// error — guarded by retry_count < maxRetries and a nil final status.
	// Returns the updated job, or nil when the guard rejected the update.
	ScheduleRetry(ctx context.Context, jobID string, nextRetryAt time.Time, errMsg string, maxRetries int) (*Job, error)

	// ResetStuckJobs reverts in_progress jobs whose claim is older than
	// olderThan back to pending, clearing claim fields. Returns the number
	// of recovered jobs.
	ResetStuckJobs(ctx context.Context, olderThan time.Duration) (int, error)

	// JobsReadyForRetry returns pending, non-terminal jobs whose
	// next_retry_at has passed, ordered by next_retry_at.
	JobsReadyForRetry(ctx context.Context, limit int) ([]Job, error)

	// ResetForManualRetry reverts a permanently failed job to a fresh
	// pending state (cleared retry and claim bookkeeping). Conditional on
	// final_status = permanently_failed.
	ResetForManualRetry(ctx context.Context, jobID string) (*Job, error)

	GetJob(ctx context.Context, jobID string) (*Job, error)

	// CountExecuting and CountActorActive back the concurrency checks.
	CountExecuting(ctx context.Context) (int, error)
	CountActorActive(ctx context.Context, actorID string) (int, error)

	QueueStats(ctx context.Context) (*QueueStats, error)
	ExecutingStats(ctx context.Context) (*ExecutingStats, error)
}

// LockRequest describes one lock acquisition.
type LockRequest struct {
	Key      string
	Type     string
	Owner    string
	MaxCount int
	TTL      time.Duration
}

// LockStore persists counted TTL locks. Acquire must be a single atomic
// operation: create at count 1 when the lock is absent or expired, increment
// when below capacity, fail otherwise. Expired rows are treated as absent on
// every path whether or not they have been purged.
type LockStore interface {
	Acquire(ctx context.Context, req LockRequest) (bool, error)

	// Release decrements (and deletes at zero) a lock, scoped to rows the
	// owner acquired. Idempotent.
	Release(ctx context.Context, key, lockType, owner string) error

	// ReleaseOwned drops every lock held by the owner, for shutdown.
	ReleaseOwned(ctx context.Context, owner string) error

	// DeleteExpired purges expired rows. Advisory cleanup only.
	DeleteExpired(ctx context.Context) (int, error)

	ActiveLocks(ctx context.Context) ([]ConcurrencyLock, error)
}

// AttemptStore appends execution audit records.
type AttemptStore interface {
	AppendAttempt(ctx context.Context, a ExecutionAttempt) error
}

// RetryConfigStore resolves the retry policy for a job type. A nil config
// with a nil error means "no type-specific config"; callers fall back to the
// default.
type RetryConfigStore interface {
	RetryConfigFor(ctx context.Context, jobType string) (*RetryConfig, error)
	UpsertRetryConfig(ctx context.Context, cfg RetryConfig) error
}

// ProcessorStateStore persists processor registration and heartbeats for the
// external health surface.
type ProcessorStateStore interface {
	RegisterProcessor(ctx context.Context, s ProcessorState) error
	Heartbeat(ctx context.Context, s ProcessorState) error
	DeregisterProcessor(ctx context.Context, processorID string) error
	GetProcessor(ctx context.Context, processorID string) (*ProcessorState, error)
}

// Store combines every backend capability the scheduling core needs. A
// single backend (postgres, or the in-memory store) implements all of it.
type Store interface {
	JobStore
	LockStore
	AttemptStore
	RetryConfigStore
	ProcessorStateStore
}
