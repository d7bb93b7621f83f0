package schedx

import (
	"encoding/json"
	"time"
)

// JobStatus is the scheduling state of a job. Terminal outcomes live in
// FinalStatus so a job row can stay addressable after it finishes.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
)

// FinalStatus marks a job as terminal. A job with a non-nil final status is
// never reclaimed.
type FinalStatus string

const (
	FinalStatusCompleted         FinalStatus = "completed"
	FinalStatusPermanentlyFailed FinalStatus = "permanently_failed"
)

// ErrorKind is the closed failure taxonomy that drives retry eligibility.
type ErrorKind string

const (
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindNetwork        ErrorKind = "network"
	ErrorKindConnection     ErrorKind = "connection"
	ErrorKindRateLimit      ErrorKind = "rate_limit"
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindPermission     ErrorKind = "permission"
	ErrorKindProxy          ErrorKind = "proxy"
	ErrorKindValidation     ErrorKind = "validation_error"
	ErrorKindExecution      ErrorKind = "execution_error"
)

// Outcome is the recorded result of a single execution attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
)

// Job is a unit of schedulable, retryable work with an opaque payload.
type Job struct {
	ID       string          `json:"id" db:"id"`
	ActorID  string          `json:"actor_id" db:"actor_id"`
	JobType  string          `json:"job_type" db:"job_type"`
	Config   json.RawMessage `json:"config" db:"config"`
	Priority int             `json:"priority" db:"priority"`

	ScheduledAt time.Time `json:"scheduled_at" db:"scheduled_at"`

	Status      JobStatus    `json:"status" db:"status"`
	FinalStatus *FinalStatus `json:"final_status,omitempty" db:"final_status"`
	RetryCount  int          `json:"retry_count" db:"retry_count"`
	NextRetryAt *time.Time   `json:"next_retry_at,omitempty" db:"next_retry_at"`

	// Claim bookkeeping. All four are set together on claim and cleared
	// together on completion, retry scheduling, or stuck-job recovery.
	BatchID            *string    `json:"batch_id,omitempty" db:"batch_id"`
	ExecutingAt        *time.Time `json:"executing_at,omitempty" db:"executing_at"`
	ExecutingBy        *string    `json:"executing_by,omitempty" db:"executing_by"`
	ExecutionTimeoutAt *time.Time `json:"execution_timeout_at,omitempty" db:"execution_timeout_at"`

	LastExecutionError *string   `json:"last_execution_error,omitempty" db:"last_execution_error"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool { return j.FinalStatus != nil }

// ConcurrencyLock is a named, capacity-bounded, TTL-based counter. Expired
// locks are logically absent: every read path treats them as gone whether or
// not the cleanup sweep has deleted the row yet.
type ConcurrencyLock struct {
	LockKey      string    `json:"lock_key" db:"lock_key"`
	LockType     string    `json:"lock_type" db:"lock_type"`
	LockedBy     string    `json:"locked_by" db:"locked_by"`
	LockedAt     time.Time `json:"locked_at" db:"locked_at"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	CurrentCount int       `json:"current_count" db:"current_count"`
	MaxCount     int       `json:"max_count" db:"max_count"`
}

// Expired reports whether the lock is logically absent at t.
func (l *ConcurrencyLock) Expired(t time.Time) bool { return !l.ExpiresAt.After(t) }

// ExecutionAttempt is the append-only audit record of one execution or retry
// attempt. It is written once and never mutated; scheduling decisions never
// read it back.
type ExecutionAttempt struct {
	JobID         string        `json:"job_id" db:"job_id"`
	AttemptNumber int           `json:"attempt_number" db:"attempt_number"`
	StartedAt     time.Time     `json:"started_at" db:"started_at"`
	Duration      time.Duration `json:"duration" db:"duration_ms"`
	Outcome       Outcome       `json:"outcome" db:"outcome"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage  string        `json:"error_message,omitempty" db:"error_message"`
	DelayToNext   time.Duration `json:"delay_to_next" db:"delay_to_next_ms"`
	Jitter        time.Duration `json:"jitter" db:"jitter_ms"`
	RetryReason   string        `json:"retry_reason,omitempty" db:"retry_reason"`
	ExecutorID    string        `json:"executor_id" db:"executor_id"`
}

// RetryConfig is the per-job-type retry policy. A job type without its own
// config falls back to the policy default.
type RetryConfig struct {
	JobType           string        `json:"job_type" db:"job_type"`
	MaxRetries        int           `json:"max_retries" db:"max_retries"`
	BaseDelay         time.Duration `json:"base_delay" db:"base_delay_seconds"`
	BackoffMultiplier float64       `json:"backoff_multiplier" db:"backoff_multiplier"`
	MaxDelay          time.Duration `json:"max_delay" db:"max_delay_seconds"`
	JitterEnabled     bool          `json:"jitter_enabled" db:"jitter_enabled"`
	MaxJitter         time.Duration `json:"max_jitter" db:"max_jitter_seconds"`

	// RetryableErrorKinds is an allow-list: when non-empty, only listed
	// kinds are retried. NonRetryableErrorKinds is a deny-list checked
	// first.
	RetryableErrorKinds    []ErrorKind `json:"retryable_error_kinds"`
	NonRetryableErrorKinds []ErrorKind `json:"non_retryable_error_kinds"`

	Enabled bool `json:"enabled" db:"enabled"`
}

// DefaultRetryConfig mirrors the default policy: retry everything except
// authentication, permission, and validation failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		JobType:           "default",
		MaxRetries:        5,
		BaseDelay:         2 * time.Hour,
		BackoffMultiplier: 2.0,
		MaxDelay:          24 * time.Hour,
		JitterEnabled:     true,
		MaxJitter:         5 * time.Minute,
		NonRetryableErrorKinds: []ErrorKind{
			ErrorKindAuthentication,
			ErrorKindPermission,
			ErrorKindValidation,
		},
		Enabled: true,
	}
}

// RetryDecision is the outcome of a ScheduleRetry call.
type RetryDecision struct {
	Scheduled   bool       `json:"scheduled"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Reason      string     `json:"reason"`
}

// ExecutionResult is the outcome of one Executor.Execute invocation.
type ExecutionResult struct {
	JobID          string        `json:"job_id"`
	Success        bool          `json:"success"`
	Outcome        Outcome       `json:"outcome"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	Duration       time.Duration `json:"duration"`
	RetryScheduled bool          `json:"retry_scheduled"`
}

// SkippedCounts accounts for candidate jobs a batch load left behind, by
// reason.
type SkippedCounts struct {
	ActorLimited     int `json:"actor_limited"`
	GloballyLimited  int `json:"globally_limited"`
	AlreadyExecuting int `json:"already_executing"`
	Errors           int `json:"errors"`
}

// BatchLoadResult is the output of one BatchLoader.LoadBatch call.
type BatchLoadResult struct {
	BatchID  string        `json:"batch_id"`
	Jobs     []Job         `json:"jobs"`
	Skipped  SkippedCounts `json:"skipped"`
	Metadata BatchMetadata `json:"metadata"`
}

// BatchMetadata carries observability counters for a batch load.
type BatchMetadata struct {
	RequestedSize  int           `json:"requested_size"`
	ActualSize     int           `json:"actual_size"`
	CandidateCount int           `json:"candidate_count"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// CycleError describes one job failure inside a processing cycle.
type CycleError struct {
	JobID   string    `json:"job_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// CycleResult is the per-cycle summary event emitted for the external
// alerting collaborator.
type CycleResult struct {
	BatchID    string        `json:"batch_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	TotalJobs  int           `json:"total_jobs"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	TimedOut   int           `json:"timed_out"`
	Retried    int           `json:"retried"`
	Skipped    SkippedCounts `json:"skipped"`
	Errors     []CycleError  `json:"errors,omitempty"`
}

// QueueStats is a read-only aggregate over pending jobs. Monitoring only;
// never consulted by scheduling decisions.
type QueueStats struct {
	TotalPending    int            `json:"total_pending"`
	PendingByType   map[string]int `json:"pending_by_type"`
	PendingByActor  map[string]int `json:"pending_by_actor"`
	OldestPendingID string         `json:"oldest_pending_id,omitempty"`
	AverageWait     time.Duration  `json:"average_wait"`
}

// ExecutingStats is a read-only aggregate over in-flight jobs.
type ExecutingStats struct {
	TotalExecuting       int              `json:"total_executing"`
	ExecutingByProcessor map[string]int   `json:"executing_by_processor"`
	ExecutingByActor     map[string]int   `json:"executing_by_actor"`
	TimeoutWarnings      []TimeoutWarning `json:"timeout_warnings,omitempty"`
}

// TimeoutWarning flags an in-flight job close to (or past) its execution
// deadline.
type TimeoutWarning struct {
	JobID        string        `json:"job_id"`
	ActorID      string        `json:"actor_id"`
	ExecutingFor time.Duration `json:"executing_for"`
}

// ConcurrencyStats is a read-only aggregate over active locks and in-flight
// counts.
type ConcurrencyStats struct {
	GlobalExecuting int            `json:"global_executing"`
	ActiveLocks     int            `json:"active_locks"`
	LocksByType     map[string]int `json:"locks_by_type"`
	JobsByActor     map[string]int `json:"jobs_by_actor"`
}

// ProcessorState is the heartbeat/registration row for one processor
// instance, consumed by the external health surface.
type ProcessorState struct {
	ProcessorID       string    `json:"processor_id" db:"processor_id"`
	Hostname          string    `json:"hostname" db:"hostname"`
	PID               int       `json:"pid" db:"pid"`
	Active            bool      `json:"active" db:"active"`
	LastHeartbeat     time.Time `json:"last_heartbeat" db:"last_heartbeat"`
	MaxConcurrentJobs int       `json:"max_concurrent_jobs" db:"max_concurrent_jobs"`
	BatchSize         int       `json:"batch_size" db:"batch_size"`
	TotalBatches      int       `json:"total_batches" db:"total_batches"`
	TotalJobs         int       `json:"total_jobs" db:"total_jobs"`
	SuccessRate       float64   `json:"success_rate" db:"success_rate"`
}

// ProcessingStats are cumulative in-process counters for one processor.
type ProcessingStats struct {
	TotalBatches    int        `json:"total_batches"`
	TotalJobs       int        `json:"total_jobs"`
	SuccessRate     float64    `json:"success_rate"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}
