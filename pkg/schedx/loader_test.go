package schedx_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Abraxas-365/batchx/pkg/schedx"
	"github.com/Abraxas-365/batchx/pkg/schedx/schedxmem"
)

func newLoader(store *schedxmem.Store, ctrlOpts []schedx.ControllerOption, loaderOpts ...schedx.LoaderOption) *schedx.BatchLoader {
	controller := schedx.NewController("proc-1", store, ctrlOpts...)
	return schedx.NewBatchLoader("proc-1", store, controller, loaderOpts...)
}

func TestLoadBatch_ClaimsEligibleJobs(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	loader := newLoader(store, nil, schedx.WithBatchSize(5))

	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id := store.AddJob(schedx.Job{
			JobType: "sync",
			ActorID: fmt.Sprintf("actor-%d", i),
		})
		ids[id] = true
	}

	result, err := loader.LoadBatch(ctx)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(result.Jobs) != 3 {
		t.Fatalf("claimed %d jobs, want 3", len(result.Jobs))
	}
	if result.BatchID == "" {
		t.Fatal("batch ID not assigned")
	}
	for _, job := range result.Jobs {
		if !ids[job.ID] {
			t.Fatalf("claimed unknown job %s", job.ID)
		}
		if job.BatchID == nil || *job.BatchID != result.BatchID {
			t.Fatalf("job %s not stamped with batch ID", job.ID)
		}
		if job.ExecutingAt == nil || job.ExecutionTimeoutAt == nil {
			t.Fatalf("job %s missing claim timestamps", job.ID)
		}
	}
}

func TestLoadBatch_ActorLimitSplitsBatch(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	loader := newLoader(store,
		[]schedx.ControllerOption{schedx.WithMaxPerActor(2), schedx.WithMaxGlobalConcurrent(100)},
		schedx.WithBatchSize(10),
	)

	for n := 0; n < 10; n++ {
		store.AddJob(schedx.Job{JobType: "sync", ActorID: "actor-1"})
	}

	result, err := loader.LoadBatch(ctx)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(result.Jobs) != 2 {
		t.Fatalf("claimed %d jobs, want 2 (actor cap)", len(result.Jobs))
	}
	if result.Skipped.ActorLimited != 8 {
		t.Fatalf("actor limited = %d, want 8", result.Skipped.ActorLimited)
	}
}

func TestLoadBatch_GlobalCapacityExhausted(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	loader := newLoader(store,
		[]schedx.ControllerOption{schedx.WithMaxGlobalConcurrent(2)},
		schedx.WithBatchSize(5),
	)

	// Fill global capacity with already-executing jobs.
	claimTestJobs(t, store, 2, "busy-actor")
	store.AddJob(schedx.Job{JobType: "sync", ActorID: "actor-1"})

	result, err := loader.LoadBatch(ctx)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(result.Jobs) != 0 {
		t.Fatalf("claimed %d jobs with no global capacity, want 0", len(result.Jobs))
	}
}

func TestLoadBatch_LostRaceCountsAsAlreadyExecuting(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	loader := newLoader(store, nil, schedx.WithBatchSize(5))

	winner := store.AddJob(schedx.Job{JobType: "sync", ActorID: "actor-1"})
	store.AddJob(schedx.Job{JobType: "sync", ActorID: "actor-2"})

	// A competing processor claims one candidate between our fetch and
	// claim. The conditional claim must silently drop it.
	now := time.Now().UTC()
	pre, err := store.ClaimJobs(ctx, []string{winner}, schedx.Claim{
		BatchID:     "rival-batch",
		ProcessorID: "rival-proc",
		ExecutingAt: now,
		TimeoutAt:   now.Add(30 * time.Minute),
	})
	if err != nil || len(pre) != 1 {
		t.Fatalf("rival claim failed: %v", err)
	}

	result, err := loader.LoadBatch(ctx)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(result.Jobs) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(result.Jobs))
	}
	if result.Jobs[0].ID == winner {
		t.Fatal("claimed a job owned by another processor")
	}
}

func TestLoadBatch_PriorityOrderAndTruncation(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	loader := newLoader(store,
		[]schedx.ControllerOption{schedx.WithMaxGlobalConcurrent(100), schedx.WithMaxPerActor(100)},
		schedx.WithBatchSize(2),
	)

	low := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a", Priority: 1})
	high := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a", Priority: 9})
	mid := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a", Priority: 5})

	result, err := loader.LoadBatch(ctx)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(result.Jobs) != 2 {
		t.Fatalf("claimed %d jobs, want batch size 2", len(result.Jobs))
	}
	got := map[string]bool{result.Jobs[0].ID: true, result.Jobs[1].ID: true}
	if !got[high] || !got[mid] {
		t.Fatalf("expected the two highest-priority jobs, got %v (low=%s)", got, low)
	}
}

func TestLoadBatch_JobTypeFilters(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	loader := newLoader(store, nil,
		schedx.WithBatchSize(10),
		schedx.WithExcludeJobTypes("report"),
	)

	store.AddJob(schedx.Job{JobType: "sync", ActorID: "a"})
	store.AddJob(schedx.Job{JobType: "report", ActorID: "a"})

	result, err := loader.LoadBatch(ctx)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(result.Jobs) != 1 || result.Jobs[0].JobType != "sync" {
		t.Fatalf("exclude filter not applied: %+v", result.Jobs)
	}
}

func TestLoadBatch_ActorFilter(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	loader := newLoader(store, nil,
		schedx.WithBatchSize(10),
		schedx.WithActorFilter("tenant-a"),
	)

	wantA := store.AddJob(schedx.Job{JobType: "sync", ActorID: "tenant-a"})
	store.AddJob(schedx.Job{JobType: "sync", ActorID: "tenant-b"})

	result, err := loader.LoadBatch(ctx)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(result.Jobs) != 1 || result.Jobs[0].ID != wantA {
		t.Fatalf("actor filter not applied: %+v", result.Jobs)
	}
}

func TestLoadBatch_SkipsFutureAndTerminalJobs(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := schedxmem.NewStore(schedxmem.WithClock(func() time.Time { return now }))
	loader := newLoader(store, nil, schedx.WithBatchSize(10))

	future := now.Add(time.Hour)
	store.AddJob(schedx.Job{JobType: "sync", ActorID: "a", ScheduledAt: future})
	final := schedx.FinalStatusCompleted
	store.AddJob(schedx.Job{JobType: "sync", ActorID: "a", FinalStatus: &final})
	ready := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a"})

	result, err := loader.LoadBatch(ctx)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(result.Jobs) != 1 || result.Jobs[0].ID != ready {
		t.Fatalf("expected only the ready job, got %+v", result.Jobs)
	}
}

func TestResetStuckJobs_RevertsTimedOutClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := schedxmem.NewStore(schedxmem.WithClock(func() time.Time { return now }))
	loader := newLoader(store, nil, schedx.WithExecutionTimeout(30*time.Minute))

	claimTestJobs(t, store, 1, "actor-1")

	// Nothing stuck until the execution timeout elapses.
	n, err := loader.ResetStuckJobs(ctx)
	if err != nil {
		t.Fatalf("ResetStuckJobs: %v", err)
	}
	if n != 0 {
		t.Fatalf("reset %d jobs before timeout, want 0", n)
	}

	now = now.Add(31 * time.Minute)
	n, err = loader.ResetStuckJobs(ctx)
	if err != nil {
		t.Fatalf("ResetStuckJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset %d jobs, want 1", n)
	}

	// The reset job is claimable again.
	result, err := loader.LoadBatch(ctx)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if len(result.Jobs) != 1 {
		t.Fatalf("recovered job not reclaimed: got %d jobs", len(result.Jobs))
	}
}
