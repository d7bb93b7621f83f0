package schedxmem_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/batchx/pkg/schedx"
	"github.com/Abraxas-365/batchx/pkg/schedx/schedxmem"
)

func TestClaimJobs_AtMostOnceUnderContention(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = store.AddJob(schedx.Job{JobType: "sync", ActorID: "a1"})
	}

	const claimants = 8
	var wg sync.WaitGroup
	claimedBy := make([][]schedx.Job, claimants)
	now := time.Now().UTC()

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			got, err := store.ClaimJobs(ctx, ids, schedx.Claim{
				BatchID:     "batch",
				ProcessorID: "proc",
				ExecutingAt: now,
				TimeoutAt:   now.Add(time.Hour),
			})
			if err != nil {
				t.Errorf("claimant %d: %v", slot, err)
				return
			}
			claimedBy[slot] = got
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	total := 0
	for _, jobs := range claimedBy {
		for _, j := range jobs {
			seen[j.ID]++
			total += 1
		}
	}
	if total != len(ids) {
		t.Fatalf("claimed %d jobs across claimants, want %d", total, len(ids))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
}

func TestScheduleRetry_GuardRejectsExhaustedAndTerminal(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()

	exhausted := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a1", RetryCount: 3})
	updated, err := store.ScheduleRetry(ctx, exhausted, time.Now().Add(time.Minute), "boom", 3)
	if err != nil {
		t.Fatalf("ScheduleRetry: %v", err)
	}
	if updated != nil {
		t.Fatal("guard should reject a job at its retry budget")
	}

	final := schedx.FinalStatusCompleted
	terminal := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a1", FinalStatus: &final})
	updated, err = store.ScheduleRetry(ctx, terminal, time.Now().Add(time.Minute), "boom", 3)
	if err != nil {
		t.Fatalf("ScheduleRetry: %v", err)
	}
	if updated != nil {
		t.Fatal("guard should reject a terminal job")
	}
}

func TestCompleteExecution_RevertsStatusAndClearsClaim(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()

	id := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a1"})
	now := time.Now().UTC()
	if _, err := store.ClaimJobs(ctx, []string{id}, schedx.Claim{
		BatchID: "b", ProcessorID: "p", ExecutingAt: now, TimeoutAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := store.CompleteExecution(ctx, id, schedx.OutcomeCompleted, "", time.Second); err != nil {
		t.Fatalf("CompleteExecution: %v", err)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != schedx.JobStatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	if job.FinalStatus == nil || *job.FinalStatus != schedx.FinalStatusCompleted {
		t.Fatalf("final status = %v, want completed", job.FinalStatus)
	}
	if job.BatchID != nil || job.ExecutingAt != nil || job.ExecutingBy != nil || job.ExecutionTimeoutAt != nil {
		t.Fatal("claim fields not cleared")
	}

	// Completing a job that is no longer in progress is a no-op.
	if err := store.CompleteExecution(ctx, id, schedx.OutcomeFailed, "late", time.Second); err != nil {
		t.Fatalf("duplicate completion: %v", err)
	}
	job, _ = store.GetJob(ctx, id)
	if *job.FinalStatus != schedx.FinalStatusCompleted {
		t.Fatal("duplicate completion overwrote the final status")
	}
}

func TestResetForManualRetry_OnlyFromPermanentFailure(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()

	failed := schedx.FinalStatusPermanentlyFailed
	errMsg := "gave up"
	id := store.AddJob(schedx.Job{
		JobType:            "sync",
		ActorID:            "a1",
		RetryCount:         5,
		FinalStatus:        &failed,
		LastExecutionError: &errMsg,
	})

	job, err := store.ResetForManualRetry(ctx, id)
	if err != nil {
		t.Fatalf("ResetForManualRetry: %v", err)
	}
	if job == nil {
		t.Fatal("reset returned nil for a permanently failed job")
	}
	if job.FinalStatus != nil || job.RetryCount != 0 || job.NextRetryAt != nil || job.LastExecutionError != nil {
		t.Fatalf("job not reset to a fresh pending state: %+v", job)
	}

	// Completed and live jobs are not eligible.
	completed := schedx.FinalStatusCompleted
	done := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a1", FinalStatus: &completed})
	if job, _ := store.ResetForManualRetry(ctx, done); job != nil {
		t.Fatal("reset accepted a completed job")
	}
	live := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a1"})
	if job, _ := store.ResetForManualRetry(ctx, live); job != nil {
		t.Fatal("reset accepted a live job")
	}
}

func TestLockAcquire_CountsOwnersAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := schedxmem.NewStore(schedxmem.WithClock(func() time.Time { return now }))

	req := schedx.LockRequest{
		Key:      "actor:a1",
		Type:     "actor_limit",
		Owner:    "proc-1",
		MaxCount: 2,
		TTL:      time.Minute,
	}

	for i := 0; i < 2; i++ {
		ok, err := store.Acquire(ctx, req)
		if err != nil || !ok {
			t.Fatalf("acquire %d failed: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := store.Acquire(ctx, req); ok {
		t.Fatal("acquire beyond max count should fail")
	}

	// Release by a non-owner is a no-op; by the owner it frees a slot.
	if err := store.Release(ctx, req.Key, req.Type, "someone-else"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if ok, _ := store.Acquire(ctx, req); ok {
		t.Fatal("foreign release must not free a slot")
	}
	if err := store.Release(ctx, req.Key, req.Type, "proc-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := store.Acquire(ctx, req); !ok {
		t.Fatal("release should free a slot")
	}

	// Expiry resets the counter entirely.
	now = now.Add(2 * time.Minute)
	if ok, _ := store.Acquire(ctx, req); !ok {
		t.Fatal("expired lock should reset and acquire at count 1")
	}
	locks, err := store.ActiveLocks(ctx)
	if err != nil {
		t.Fatalf("ActiveLocks: %v", err)
	}
	if len(locks) != 1 || locks[0].CurrentCount != 1 {
		t.Fatalf("locks = %+v, want one lock at count 1", locks)
	}
}

func TestLockRelease_ScopedToOwnerAfterInterleavedAcquires(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()

	req := func(owner string) schedx.LockRequest {
		return schedx.LockRequest{
			Key: "actor:a1", Type: "actor_limit", Owner: owner, MaxCount: 2, TTL: time.Minute,
		}
	}

	// proc-2 acquires last; proc-1's slot must still be releasable by
	// proc-1 rather than leaking until the TTL sweep.
	if ok, _ := store.Acquire(ctx, req("proc-1")); !ok {
		t.Fatal("proc-1 acquire failed")
	}
	if ok, _ := store.Acquire(ctx, req("proc-2")); !ok {
		t.Fatal("proc-2 acquire failed")
	}
	if ok, _ := store.Acquire(ctx, req("proc-3")); ok {
		t.Fatal("acquire beyond max count should fail")
	}

	if err := store.Release(ctx, "actor:a1", "actor_limit", "proc-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := store.Acquire(ctx, req("proc-3")); !ok {
		t.Fatal("proc-1's release did not free its slot")
	}

	// Draining every owner removes the key entirely.
	store.Release(ctx, "actor:a1", "actor_limit", "proc-2")
	store.Release(ctx, "actor:a1", "actor_limit", "proc-3")
	locks, err := store.ActiveLocks(ctx)
	if err != nil {
		t.Fatalf("ActiveLocks: %v", err)
	}
	if len(locks) != 0 {
		t.Fatalf("locks = %+v, want none after full drain", locks)
	}
}

func TestReleaseOwned_DropsOnlyOwnersSlots(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()

	req := func(owner string) schedx.LockRequest {
		return schedx.LockRequest{
			Key: "actor:a1", Type: "actor_limit", Owner: owner, MaxCount: 5, TTL: time.Minute,
		}
	}
	store.Acquire(ctx, req("proc-1"))
	store.Acquire(ctx, req("proc-1"))
	store.Acquire(ctx, req("proc-2"))

	if err := store.ReleaseOwned(ctx, "proc-1"); err != nil {
		t.Fatalf("ReleaseOwned: %v", err)
	}

	locks, _ := store.ActiveLocks(ctx)
	if len(locks) != 1 || locks[0].CurrentCount != 1 {
		t.Fatalf("locks = %+v, want proc-2's single slot remaining", locks)
	}
}
