package schedx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Abraxas-365/batchx/pkg/schedx"
	"github.com/Abraxas-365/batchx/pkg/schedx/schedxmem"
)

// failingStore makes the count reads fail to exercise fail-closed behavior.
type failingStore struct {
	*schedxmem.Store
}

func (f *failingStore) CountExecuting(context.Context) (int, error) {
	return 0, errors.New("store down")
}

func (f *failingStore) CountActorActive(context.Context, string) (int, error) {
	return 0, errors.New("store down")
}

func TestController_LockCapacity(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	c := schedx.NewController("proc-1", store, schedx.WithMaxPerActor(2))

	if !c.AcquireLock(ctx, "actor-1") {
		t.Fatal("first acquisition should succeed")
	}
	if !c.AcquireLock(ctx, "actor-1") {
		t.Fatal("second acquisition should succeed")
	}
	if c.AcquireLock(ctx, "actor-1") {
		t.Fatal("third acquisition should fail at capacity 2")
	}

	// Another actor's lock is independent.
	if !c.AcquireLock(ctx, "actor-2") {
		t.Fatal("different actor should acquire")
	}

	c.ReleaseLock(ctx, "actor-1")
	if !c.AcquireLock(ctx, "actor-1") {
		t.Fatal("release should free a slot")
	}
}

func TestController_ExpiredLockIsAbsent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := schedxmem.NewStore(schedxmem.WithClock(func() time.Time { return now }))
	c := schedx.NewController("proc-1", store,
		schedx.WithMaxPerActor(1),
		schedx.WithLockTTL(30*time.Minute),
	)

	if !c.AcquireLock(ctx, "actor-1") {
		t.Fatal("acquisition should succeed")
	}
	if c.AcquireLock(ctx, "actor-1") {
		t.Fatal("actor at capacity")
	}

	// Past the TTL the lock is logically absent even before any cleanup.
	now = now.Add(31 * time.Minute)
	if !c.AcquireLock(ctx, "actor-1") {
		t.Fatal("expired lock should be treated as absent")
	}
}

func TestController_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := schedxmem.NewStore(schedxmem.WithClock(func() time.Time { return now }))
	c := schedx.NewController("proc-1", store, schedx.WithLockTTL(time.Minute))

	c.AcquireLock(ctx, "actor-1")
	c.AcquireLock(ctx, "actor-2")

	if n := c.CleanupExpired(ctx); n != 0 {
		t.Fatalf("nothing expired yet, purged %d", n)
	}

	now = now.Add(2 * time.Minute)
	if n := c.CleanupExpired(ctx); n != 2 {
		t.Fatalf("expected 2 expired locks purged, got %d", n)
	}
}

func TestController_FailClosed(t *testing.T) {
	ctx := context.Background()
	c := schedx.NewController("proc-1", &failingStore{schedxmem.NewStore()},
		schedx.WithMaxGlobalConcurrent(10),
		schedx.WithMaxPerActor(3),
	)

	if c.CanSystemExecuteMore(ctx) {
		t.Fatal("store error must deny global capacity")
	}
	if c.CanActorExecute(ctx, "actor-1") {
		t.Fatal("store error must deny actor capacity")
	}

	allowed, skipped := c.CheckBatch(ctx, []schedx.Job{{ID: "a"}, {ID: "b"}})
	if len(allowed) != 0 || skipped.Errors != 2 {
		t.Fatalf("expected all candidates skipped as errors, got %d allowed, %+v", len(allowed), skipped)
	}
}

func TestCheckBatch_GlobalShortCircuit(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	c := schedx.NewController("proc-1", store,
		schedx.WithMaxGlobalConcurrent(3),
		schedx.WithMaxPerActor(10),
	)

	// Two jobs already in flight leave one global slot.
	claimTestJobs(t, store, 2, "busy-actor")

	candidates := make([]schedx.Job, 5)
	for i := range candidates {
		candidates[i] = schedx.Job{ID: string(rune('a' + i)), ActorID: "actor-1"}
	}

	allowed, skipped := c.CheckBatch(ctx, candidates)
	if len(allowed) != 1 {
		t.Fatalf("allowed = %d, want 1", len(allowed))
	}
	if skipped.GloballyLimited != 4 {
		t.Fatalf("globally limited = %d, want 4", skipped.GloballyLimited)
	}
}

func TestCheckBatch_PerActorAllocation(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	c := schedx.NewController("proc-1", store,
		schedx.WithMaxGlobalConcurrent(100),
		schedx.WithMaxPerActor(2),
	)

	candidates := []schedx.Job{
		{ID: "a1", ActorID: "actor-a"},
		{ID: "a2", ActorID: "actor-a"},
		{ID: "a3", ActorID: "actor-a"},
		{ID: "b1", ActorID: "actor-b"},
	}

	allowed, skipped := c.CheckBatch(ctx, candidates)
	if len(allowed) != 3 {
		t.Fatalf("allowed = %d, want 3", len(allowed))
	}
	if skipped.ActorLimited != 1 {
		t.Fatalf("actor limited = %d, want 1", skipped.ActorLimited)
	}
}

// claimTestJobs seeds and claims n jobs for the actor so they count as
// in-flight.
func claimTestJobs(t *testing.T, store *schedxmem.Store, n int, actorID string) []string {
	t.Helper()
	ctx := context.Background()

	ids := make([]string, 0, n)
	for m := 0; m < n; m++ {
		ids = append(ids, store.AddJob(schedx.Job{ActorID: actorID, JobType: "sync"}))
	}
	now := time.Now().UTC()
	claimed, err := store.ClaimJobs(ctx, ids, schedx.Claim{
		BatchID:     "seed-batch",
		ProcessorID: "seed-proc",
		ExecutingAt: now,
		TimeoutAt:   now.Add(30 * time.Minute),
	})
	if err != nil || len(claimed) != n {
		t.Fatalf("failed to claim %d seed jobs: %v", n, err)
	}
	return ids
}
