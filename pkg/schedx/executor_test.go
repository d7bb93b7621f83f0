package schedx_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Abraxas-365/batchx/pkg/schedx"
	"github.com/Abraxas-365/batchx/pkg/schedx/schedxmem"
)

// claimOne seeds a single pending job of jobType and claims it, returning
// the claimed snapshot.
func claimOne(t *testing.T, store *schedxmem.Store, jobType string) *schedx.Job {
	t.Helper()

	id := store.AddJob(schedx.Job{JobType: jobType, ActorID: "actor-1"})
	now := time.Now().UTC()
	claimed, err := store.ClaimJobs(context.Background(), []string{id}, schedx.Claim{
		BatchID:     "batch-1",
		ProcessorID: "proc-1",
		ExecutingAt: now,
		TimeoutAt:   now.Add(30 * time.Minute),
	})
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim failed: %v", err)
	}
	return &claimed[0]
}

func newExecutor(store *schedxmem.Store, registry *schedx.Registry, opts ...schedx.ExecutorOption) *schedx.Executor {
	retry := schedx.NewRetryPolicy("proc-1", store, defaultsNoJitter())
	return schedx.NewExecutor("proc-1", store, registry, retry, opts...)
}

func TestExecute_Success(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	registry.Register("sync", func(context.Context, *schedx.Job) error { return nil })
	exec := newExecutor(store, registry)

	job := claimOne(t, store, "sync")
	result := exec.Execute(ctx, job)

	if !result.Success || result.Outcome != schedx.OutcomeCompleted {
		t.Fatalf("unexpected result: %+v", result)
	}

	updated, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.FinalStatus == nil || *updated.FinalStatus != schedx.FinalStatusCompleted {
		t.Fatalf("final status = %v, want completed", updated.FinalStatus)
	}
	if updated.Status != schedx.JobStatusPending {
		t.Fatalf("status = %s, want pending after completion", updated.Status)
	}
	if updated.ExecutingAt != nil || updated.BatchID != nil {
		t.Fatal("claim fields not cleared")
	}

	attempts := store.Attempts(job.ID)
	if len(attempts) != 1 || attempts[0].Outcome != schedx.OutcomeCompleted {
		t.Fatalf("attempts = %+v, want one completed record", attempts)
	}
}

func TestExecute_RetryableFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	registry.Register("sync", func(context.Context, *schedx.Job) error {
		return errors.New("connection refused by upstream")
	})
	exec := newExecutor(store, registry)

	job := claimOne(t, store, "sync")
	result := exec.Execute(ctx, job)

	if result.Success {
		t.Fatal("expected failure")
	}
	if !result.RetryScheduled {
		t.Fatalf("expected retry scheduled, got %+v", result)
	}
	if result.ErrorKind != schedx.ErrorKindConnection {
		t.Fatalf("kind = %s, want connection", result.ErrorKind)
	}

	updated, _ := store.GetJob(ctx, job.ID)
	if updated.FinalStatus != nil {
		t.Fatalf("retryable failure must not finalize, got %v", *updated.FinalStatus)
	}
	if updated.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", updated.RetryCount)
	}
	if updated.NextRetryAt == nil {
		t.Fatal("next retry not scheduled")
	}
	if updated.Status != schedx.JobStatusPending || updated.ExecutingAt != nil {
		t.Fatal("job not reverted to claimable state")
	}

	// Exactly one audit record, written by the retry scheduling.
	attempts := store.Attempts(job.ID)
	if len(attempts) != 1 || attempts[0].Outcome != schedx.OutcomeFailed {
		t.Fatalf("attempts = %+v, want one failed record", attempts)
	}
}

func TestExecute_NonRetryableKindFailsTerminally(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	registry.Register("sync", func(context.Context, *schedx.Job) error {
		return schedx.NewWorkError(schedx.ErrorKindAuthentication, errors.New("token revoked"))
	})
	exec := newExecutor(store, registry)

	job := claimOne(t, store, "sync")
	result := exec.Execute(ctx, job)

	if result.Success || result.RetryScheduled {
		t.Fatalf("expected terminal failure, got %+v", result)
	}

	updated, _ := store.GetJob(ctx, job.ID)
	if updated.FinalStatus == nil || *updated.FinalStatus != schedx.FinalStatusPermanentlyFailed {
		t.Fatalf("final status = %v, want permanently_failed", updated.FinalStatus)
	}
	if updated.RetryCount != 0 {
		t.Fatalf("non-retryable failure consumed a retry: count %d", updated.RetryCount)
	}
	if updated.LastExecutionError == nil {
		t.Fatal("last execution error not recorded")
	}
}

func TestExecute_TimeoutOutcome(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	registry.Register("slow", func(ctx context.Context, _ *schedx.Job) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	exec := newExecutor(store, registry, schedx.WithJobTimeout(20*time.Millisecond))

	job := claimOne(t, store, "slow")
	result := exec.Execute(ctx, job)

	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if result.ErrorKind != schedx.ErrorKindTimeout || result.Outcome != schedx.OutcomeTimeout {
		t.Fatalf("kind=%s outcome=%s, want timeout/timeout", result.ErrorKind, result.Outcome)
	}
	if !result.RetryScheduled {
		t.Fatal("timeouts are retryable by default")
	}

	attempts := store.Attempts(job.ID)
	if len(attempts) != 1 || attempts[0].Outcome != schedx.OutcomeTimeout {
		t.Fatalf("attempts = %+v, want one timeout record", attempts)
	}
	if attempts[0].Duration <= 0 {
		t.Fatal("attempt duration not recorded")
	}
}

func TestExecute_PanickingWorkIsContained(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	registry.Register("sync", func(context.Context, *schedx.Job) error {
		panic("work function exploded")
	})
	exec := newExecutor(store, registry)

	job := claimOne(t, store, "sync")
	result := exec.Execute(ctx, job)

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ErrorKind != schedx.ErrorKindExecution {
		t.Fatalf("kind = %s, want execution_error", result.ErrorKind)
	}
	if !result.RetryScheduled {
		t.Fatalf("panic should settle through the retry path, got %+v", result)
	}

	updated, _ := store.GetJob(ctx, job.ID)
	if updated.Status != schedx.JobStatusPending || updated.ExecutingAt != nil {
		t.Fatal("job left claimed after panic")
	}
	if updated.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", updated.RetryCount)
	}
	if updated.LastExecutionError == nil || !strings.Contains(*updated.LastExecutionError, "work function exploded") {
		t.Fatalf("panic message not recorded: %v", updated.LastExecutionError)
	}
}

func TestExecute_ValidatorRejectsTerminally(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	called := false
	registry.Register("sync",
		func(context.Context, *schedx.Job) error { called = true; return nil },
		schedx.WithValidator(func(*schedx.Job) error { return errors.New("url is required") }),
	)
	exec := newExecutor(store, registry)

	job := claimOne(t, store, "sync")
	result := exec.Execute(ctx, job)

	if called {
		t.Fatal("work function ran despite validation failure")
	}
	if result.Success || result.RetryScheduled {
		t.Fatalf("expected terminal failure, got %+v", result)
	}
	if result.ErrorKind != schedx.ErrorKindValidation {
		t.Fatalf("kind = %s, want validation_error", result.ErrorKind)
	}

	updated, _ := store.GetJob(ctx, job.ID)
	if updated.FinalStatus == nil || *updated.FinalStatus != schedx.FinalStatusPermanentlyFailed {
		t.Fatalf("final status = %v, want permanently_failed", updated.FinalStatus)
	}
	if updated.RetryCount != 0 {
		t.Fatal("structural failure must not consume a retry")
	}
}

func TestExecute_UnregisteredJobType(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	exec := newExecutor(store, schedx.NewRegistry())

	job := claimOne(t, store, "unknown")
	result := exec.Execute(ctx, job)

	if result.Success || result.RetryScheduled {
		t.Fatalf("expected terminal failure, got %+v", result)
	}
	if result.ErrorKind != schedx.ErrorKindValidation {
		t.Fatalf("kind = %s, want validation_error", result.ErrorKind)
	}

	updated, _ := store.GetJob(ctx, job.ID)
	if updated.FinalStatus == nil || *updated.FinalStatus != schedx.FinalStatusPermanentlyFailed {
		t.Fatalf("final status = %v, want permanently_failed", updated.FinalStatus)
	}
}
