package schedx

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/Abraxas-365/batchx/pkg/errx"
	"github.com/Abraxas-365/batchx/pkg/logx"
)

// Retry decision reasons, reported in RetryDecision and recorded on audit
// attempts.
const (
	RetryReasonAutomatic   = "automatic"
	RetryReasonManual      = "manual_admin_retry"
	ReasonRetriesDisabled  = "retries disabled"
	ReasonMaxRetries       = "max retries exceeded"
	ReasonNonRetryableKind = "non-retryable error kind"
	ReasonScheduled        = "retry scheduled with exponential backoff"
)

// RetryPolicy decides retry eligibility per job-type configuration and
// schedules retries with exponential backoff and additive jitter.
type RetryPolicy struct {
	executorID string
	store      Store
	defaults   RetryConfig
}

// NewRetryPolicy creates a retry policy. The default config applies to job
// types without a stored config of their own.
func NewRetryPolicy(executorID string, store Store, defaults RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		executorID: executorID,
		store:      store,
		defaults:   defaults,
	}
}

// ConfigFor resolves the retry config for a job type, falling back to the
// policy default. Store errors fail closed onto the default.
func (p *RetryPolicy) ConfigFor(ctx context.Context, jobType string) RetryConfig {
	cfg, err := p.store.RetryConfigFor(ctx, jobType)
	if err != nil {
		logx.WithError(err).Warnf("schedx: retry config lookup failed for %q, using default", jobType)
		return p.defaults
	}
	if cfg == nil {
		return p.defaults
	}
	return *cfg
}

// ComputeDelay returns the deterministic backoff delay for a retry count
// plus the jitter component that was added on top. The deterministic part is
// min(base × multiplier^retryCount, maxDelay); jitter is uniform in
// [0, maxJitter) and strictly additive, so the effective delay never lands
// before the backoff floor. Jitter is applied after the max-delay cap and
// may push the total past it.
func (p *RetryPolicy) ComputeDelay(retryCount int, cfg RetryConfig) (delay, jitter time.Duration) {
	backoff := float64(cfg.BaseDelay) * math.Pow(cfg.BackoffMultiplier, float64(retryCount))
	delay = time.Duration(backoff)
	if delay > cfg.MaxDelay || delay < 0 {
		delay = cfg.MaxDelay
	}
	if cfg.JitterEnabled && cfg.MaxJitter > 0 {
		jitter = time.Duration(rand.Int63n(int64(cfg.MaxJitter)))
		delay += jitter
	}
	return delay, jitter
}

// retryable applies the deny-list then the allow-list.
func retryable(kind ErrorKind, cfg RetryConfig) bool {
	for _, k := range cfg.NonRetryableErrorKinds {
		if k == kind {
			return false
		}
	}
	if len(cfg.RetryableErrorKinds) > 0 {
		for _, k := range cfg.RetryableErrorKinds {
			if k == kind {
				return true
			}
		}
		return false
	}
	return true
}

// FailedAttempt is what the caller observed about the attempt asking for a
// retry. Outcome and StartedAt may be zero; they default to OutcomeFailed
// and Duration counted back from now.
type FailedAttempt struct {
	Kind      ErrorKind
	Message   string
	Outcome   Outcome
	StartedAt time.Time
	Duration  time.Duration
}

// ScheduleRetry decides whether the failed job retries and, when it does,
// atomically transitions it back to pending with next_retry_at set. Under
// the at-most-one-claim guarantee this is only ever called by the job's
// single claimant; the conditional store update protects against stale
// retry_count reads, not concurrent claims.
func (p *RetryPolicy) ScheduleRetry(ctx context.Context, jobID string, attempt FailedAttempt) RetryDecision {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		logx.WithError(err).Errorf("schedx: cannot load job %s for retry decision", jobID)
		return RetryDecision{Scheduled: false, Reason: "job lookup failed"}
	}

	cfg := p.ConfigFor(ctx, job.JobType)

	if !cfg.Enabled {
		return RetryDecision{Scheduled: false, Reason: ReasonRetriesDisabled}
	}
	if job.RetryCount >= cfg.MaxRetries {
		return RetryDecision{Scheduled: false, Reason: ReasonMaxRetries}
	}
	if !retryable(attempt.Kind, cfg) {
		return RetryDecision{Scheduled: false, Reason: ReasonNonRetryableKind}
	}

	delay, jitter := p.ComputeDelay(job.RetryCount, cfg)
	nextRetryAt := time.Now().UTC().Add(delay)

	updated, err := p.store.ScheduleRetry(ctx, jobID, nextRetryAt, attempt.Message, cfg.MaxRetries)
	if err != nil {
		logx.WithError(err).Errorf("schedx: failed to schedule retry for job %s", jobID)
		return RetryDecision{Scheduled: false, Reason: "store error"}
	}
	if updated == nil {
		// Guard rejected: retry budget spent between read and update.
		return RetryDecision{Scheduled: false, Reason: ReasonMaxRetries}
	}

	outcome := attempt.Outcome
	if outcome == "" {
		outcome = OutcomeFailed
	}
	startedAt := attempt.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC().Add(-attempt.Duration)
	}
	if err := p.store.AppendAttempt(ctx, ExecutionAttempt{
		JobID:         jobID,
		AttemptNumber: updated.RetryCount,
		StartedAt:     startedAt,
		Duration:      attempt.Duration,
		Outcome:       outcome,
		ErrorKind:     attempt.Kind,
		ErrorMessage:  attempt.Message,
		DelayToNext:   delay,
		Jitter:        jitter,
		RetryReason:   RetryReasonAutomatic,
		ExecutorID:    p.executorID,
	}); err != nil {
		logx.WithError(err).Warnf("schedx: failed to append retry attempt for job %s", jobID)
	}

	logx.Infof("schedx: job %s scheduled for retry %d/%d in %s", jobID, updated.RetryCount, cfg.MaxRetries, delay)

	return RetryDecision{Scheduled: true, NextRetryAt: &nextRetryAt, Reason: ReasonScheduled}
}

// JobsReadyForRetry selects jobs whose next_retry_at has come due, ordered
// by next_retry_at, feeding the orchestrator's retry sweep.
func (p *RetryPolicy) JobsReadyForRetry(ctx context.Context, limit int) ([]Job, error) {
	jobs, err := p.store.JobsReadyForRetry(ctx, limit)
	if err != nil {
		return nil, errx.Wrap(err, "failed to fetch retry-ready jobs", errx.TypeExternal)
	}
	return jobs, nil
}

// ManualRetry resets a permanently failed job back to pending with cleared
// retry and claim state, for operator-triggered reprocessing. It bypasses
// the automatic eligibility checks entirely and records a distinct retry
// reason on the audit trail.
func (p *RetryPolicy) ManualRetry(ctx context.Context, jobID string) error {
	job, err := p.store.ResetForManualRetry(ctx, jobID)
	if err != nil {
		return errx.Wrap(err, "manual retry failed", errx.TypeExternal).WithDetail("job_id", jobID)
	}
	if job == nil {
		return schedxErrors.New(ErrJobNotTerminal).WithDetail("job_id", jobID)
	}

	if err := p.store.AppendAttempt(ctx, ExecutionAttempt{
		JobID:         jobID,
		AttemptNumber: job.RetryCount + 1,
		StartedAt:     time.Now().UTC(),
		Outcome:       OutcomeFailed,
		RetryReason:   RetryReasonManual,
		ExecutorID:    p.executorID,
	}); err != nil {
		logx.WithError(err).Warnf("schedx: failed to append manual retry attempt for job %s", jobID)
	}

	logx.Infof("schedx: job %s manually reset for retry", jobID)
	return nil
}
