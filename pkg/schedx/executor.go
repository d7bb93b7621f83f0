package schedx

import (
	"context"
	"fmt"
	"time"

	"github.com/Abraxas-365/batchx/pkg/alertx"
	"github.com/Abraxas-365/batchx/pkg/asyncx"
	"github.com/Abraxas-365/batchx/pkg/logx"
)

// Executor runs one claimed job through its registered work function and
// settles the outcome: success, scheduled retry, or terminal failure.
// Exactly one store finalization happens per attempt — either a retry
// reschedule or a CompleteExecution, never both.
type Executor struct {
	processorID string
	store       Store
	registry    *Registry
	retry       *RetryPolicy

	jobTimeout time.Duration
	alerts     *alertx.Client
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithJobTimeout bounds each work-function invocation. Hitting the deadline
// classifies the attempt as a timeout failure.
func WithJobTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.jobTimeout = d
		}
	}
}

// WithAlerts attaches an alert client for terminal-failure notifications.
func WithAlerts(alerts *alertx.Client) ExecutorOption {
	return func(e *Executor) { e.alerts = alerts }
}

// NewExecutor creates a job executor. Default work deadline: 25 minutes,
// inside the 30 minute claim timeout so a slow job fails before its claim
// is considered stuck.
func NewExecutor(processorID string, store Store, registry *Registry, retry *RetryPolicy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		processorID: processorID,
		store:       store,
		registry:    registry,
		retry:       retry,
		jobTimeout:  25 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a single claimed job and settles its outcome in the store.
// The caller owns the claim; Execute never re-checks it.
func (e *Executor) Execute(ctx context.Context, job *Job) ExecutionResult {
	start := time.Now()

	work, ok := e.registry.Resolve(job.JobType)
	if !ok {
		msg := fmt.Sprintf("no work function registered for job type %q", job.JobType)
		return e.failTerminal(ctx, job, ErrorKindValidation, msg, start)
	}

	if err := e.registry.Validate(job); err != nil {
		msg := fmt.Sprintf("config validation failed: %v", err)
		return e.failTerminal(ctx, job, ErrorKindValidation, msg, start)
	}

	_, err := asyncx.WithTimeout(ctx, e.jobTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, runWork(ctx, work, job)
	})
	duration := time.Since(start)

	if err == nil {
		return e.succeed(ctx, job, duration)
	}

	kind := Classify(err)
	outcome := OutcomeFailed
	if kind == ErrorKindTimeout {
		outcome = OutcomeTimeout
	}
	errMsg := err.Error()

	decision := e.retry.ScheduleRetry(ctx, job.ID, FailedAttempt{
		Kind:      kind,
		Message:   errMsg,
		Outcome:   outcome,
		StartedAt: start.UTC(),
		Duration:  duration,
	})
	if decision.Scheduled {
		// The retry reschedule already reverted the job to pending and
		// wrote the audit attempt.
		return ExecutionResult{
			JobID:          job.ID,
			Success:        false,
			Outcome:        outcome,
			ErrorKind:      kind,
			ErrorMessage:   errMsg,
			Duration:       duration,
			RetryScheduled: true,
		}
	}

	if cerr := e.store.CompleteExecution(ctx, job.ID, outcome, errMsg, duration); cerr != nil {
		logx.WithError(cerr).Errorf("schedx: failed to finalize job %s as %s", job.ID, outcome)
	}
	e.appendAttempt(ctx, job, outcome, kind, errMsg, duration)
	e.alertTerminalFailure(ctx, job, kind, errMsg, decision.Reason)

	logx.WithField("reason", decision.Reason).
		Warnf("schedx: job %s permanently failed after %d retries (%s)", job.ID, job.RetryCount, kind)

	return ExecutionResult{
		JobID:        job.ID,
		Success:      false,
		Outcome:      outcome,
		ErrorKind:    kind,
		ErrorMessage: errMsg,
		Duration:     duration,
	}
}

// runWork invokes the work function with panic containment: a panic in
// injected work settles the job like any other failure instead of unwinding
// the worker goroutine.
func runWork(ctx context.Context, work WorkFunc, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work function panicked: %v", r)
			logx.Errorf("schedx: work function for job %s panicked: %v", job.ID, r)
		}
	}()
	return work(ctx, job)
}

func (e *Executor) succeed(ctx context.Context, job *Job, duration time.Duration) ExecutionResult {
	if err := e.store.CompleteExecution(ctx, job.ID, OutcomeCompleted, "", duration); err != nil {
		logx.WithError(err).Errorf("schedx: failed to finalize job %s as completed", job.ID)
	}
	e.appendAttempt(ctx, job, OutcomeCompleted, "", "", duration)

	logx.Debugf("schedx: job %s completed in %s", job.ID, duration)
	return ExecutionResult{
		JobID:    job.ID,
		Success:  true,
		Outcome:  OutcomeCompleted,
		Duration: duration,
	}
}

// failTerminal settles structural failures: the job becomes permanently
// failed immediately, without consuming a retry attempt.
func (e *Executor) failTerminal(ctx context.Context, job *Job, kind ErrorKind, msg string, start time.Time) ExecutionResult {
	duration := time.Since(start)
	if err := e.store.CompleteExecution(ctx, job.ID, OutcomeFailed, msg, duration); err != nil {
		logx.WithError(err).Errorf("schedx: failed to finalize invalid job %s", job.ID)
	}
	e.appendAttempt(ctx, job, OutcomeFailed, kind, msg, duration)
	e.alertTerminalFailure(ctx, job, kind, msg, "structural validation failure")

	logx.Warnf("schedx: job %s rejected: %s", job.ID, msg)
	return ExecutionResult{
		JobID:        job.ID,
		Success:      false,
		Outcome:      OutcomeFailed,
		ErrorKind:    kind,
		ErrorMessage: msg,
		Duration:     duration,
	}
}

func (e *Executor) appendAttempt(ctx context.Context, job *Job, outcome Outcome, kind ErrorKind, errMsg string, duration time.Duration) {
	if err := e.store.AppendAttempt(ctx, ExecutionAttempt{
		JobID:         job.ID,
		AttemptNumber: job.RetryCount + 1,
		StartedAt:     time.Now().UTC().Add(-duration),
		Duration:      duration,
		Outcome:       outcome,
		ErrorKind:     kind,
		ErrorMessage:  errMsg,
		ExecutorID:    e.processorID,
	}); err != nil {
		logx.WithError(err).Warnf("schedx: failed to append attempt for job %s", job.ID)
	}
}

func (e *Executor) alertTerminalFailure(ctx context.Context, job *Job, kind ErrorKind, errMsg, reason string) {
	if e.alerts == nil {
		return
	}
	e.alerts.Warning(ctx, "Job permanently failed",
		fmt.Sprintf("job %s (%s) failed with %s: %s", job.ID, job.JobType, kind, errMsg),
		map[string]interface{}{
			"job_id":      job.ID,
			"job_type":    job.JobType,
			"actor_id":    job.ActorID,
			"error_kind":  string(kind),
			"retry_count": job.RetryCount,
			"reason":      reason,
		})
}
