package schedx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Abraxas-365/batchx/pkg/ptrx"
	"github.com/Abraxas-365/batchx/pkg/schedx"
	"github.com/Abraxas-365/batchx/pkg/schedx/schedxmem"
)

// newProcessor wires a full scheduling stack over the in-memory store.
func newProcessor(store *schedxmem.Store, registry *schedx.Registry, retrySweep bool, loaderOpts ...schedx.LoaderOption) *schedx.Processor {
	controller := schedx.NewController("proc-1", store,
		schedx.WithMaxGlobalConcurrent(100),
		schedx.WithMaxPerActor(100),
	)
	loader := schedx.NewBatchLoader("proc-1", store, controller, loaderOpts...)
	retry := schedx.NewRetryPolicy("proc-1", store, defaultsNoJitter())
	executor := schedx.NewExecutor("proc-1", store, registry, retry)
	return schedx.NewProcessor("proc-1", store, controller, loader, executor, retry,
		schedx.WithRetrySweep(retrySweep),
	)
}

func TestRunCycle_AggregatesOutcomes(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	registry.Register("ok", func(context.Context, *schedx.Job) error { return nil })
	registry.Register("flaky", func(context.Context, *schedx.Job) error {
		return errors.New("connection refused")
	})
	registry.Register("fatal", func(context.Context, *schedx.Job) error {
		return schedx.NewWorkError(schedx.ErrorKindPermission, errors.New("access denied"))
	})

	store.AddJob(schedx.Job{JobType: "ok", ActorID: "a1"})
	store.AddJob(schedx.Job{JobType: "ok", ActorID: "a2"})
	store.AddJob(schedx.Job{JobType: "flaky", ActorID: "a3"})
	store.AddJob(schedx.Job{JobType: "fatal", ActorID: "a4"})

	p := newProcessor(store, registry, false)
	result, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if result.TotalJobs != 4 {
		t.Fatalf("total = %d, want 4", result.TotalJobs)
	}
	if result.Succeeded != 2 || result.Retried != 1 || result.Failed != 1 {
		t.Fatalf("succeeded=%d retried=%d failed=%d, want 2/1/1",
			result.Succeeded, result.Retried, result.Failed)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("errors = %d, want 2", len(result.Errors))
	}

	stats, last, _ := p.Status()
	if stats.TotalBatches != 1 || stats.TotalJobs != 4 {
		t.Fatalf("stats = %+v, want one batch of 4", stats)
	}
	if last == nil || last.BatchID != result.BatchID {
		t.Fatal("last cycle not recorded")
	}
}

func TestRunCycle_RetryExhaustionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	registry.Register("doomed", func(context.Context, *schedx.Job) error {
		return errors.New("upstream timed out")
	})

	cfg := defaultsNoJitter()
	cfg.JobType = "doomed"
	cfg.MaxRetries = 2
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	if err := store.UpsertRetryConfig(ctx, cfg); err != nil {
		t.Fatalf("UpsertRetryConfig: %v", err)
	}

	id := store.AddJob(schedx.Job{JobType: "doomed", ActorID: "a1"})
	p := newProcessor(store, registry, false)

	// Attempt 1 fails and schedules retry 1; attempt 2 schedules retry 2;
	// attempt 3 exhausts the budget and fails permanently.
	for cycle := 0; cycle < 3; cycle++ {
		time.Sleep(15 * time.Millisecond)
		result, err := p.RunCycle(ctx)
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		if result.TotalJobs != 1 {
			t.Fatalf("cycle %d processed %d jobs, want 1", cycle, result.TotalJobs)
		}
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.FinalStatus == nil || *job.FinalStatus != schedx.FinalStatusPermanentlyFailed {
		t.Fatalf("final status = %v, want permanently_failed", job.FinalStatus)
	}
	if job.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", job.RetryCount)
	}
	if attempts := store.Attempts(id); len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}

	// A fourth cycle finds nothing to do.
	result, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("final cycle: %v", err)
	}
	if result.TotalJobs != 0 {
		t.Fatalf("terminal job was reclaimed: %+v", result)
	}
}

func TestRunCycle_RecoversStuckJobs(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	registry.Register("sync", func(context.Context, *schedx.Job) error { return nil })

	// A job claimed two hours ago by a processor that never finished.
	id := store.AddJob(schedx.Job{JobType: "sync", ActorID: "a1"})
	stale := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := store.ClaimJobs(ctx, []string{id}, schedx.Claim{
		BatchID:     "dead-batch",
		ProcessorID: "dead-proc",
		ExecutingAt: stale,
		TimeoutAt:   stale.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	p := newProcessor(store, registry, false)
	result, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.TotalJobs != 1 || result.Succeeded != 1 {
		t.Fatalf("recovered job not executed: %+v", result)
	}

	job, _ := store.GetJob(ctx, id)
	if job.FinalStatus == nil || *job.FinalStatus != schedx.FinalStatusCompleted {
		t.Fatal("recovered job did not complete")
	}
	if job.ExecutingBy != nil && *job.ExecutingBy == "dead-proc" {
		t.Fatal("claim still owned by the dead processor")
	}
}

func TestRunCycle_RetrySweepClaimsDueJobs(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	registry.Register("report", func(context.Context, *schedx.Job) error { return nil })

	// Exclude the type from candidate loading so only the retry sweep can
	// pick the job up.
	due := time.Now().UTC().Add(-time.Minute)
	store.AddJob(schedx.Job{
		JobType:     "report",
		ActorID:     "a1",
		RetryCount:  1,
		NextRetryAt: ptrx.Time(due),
	})

	p := newProcessor(store, registry, true, schedx.WithExcludeJobTypes("report"))
	result, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.TotalJobs != 1 || result.Succeeded != 1 {
		t.Fatalf("sweep did not execute the due job: %+v", result)
	}
}

func TestGenerateProcessorID_UniquePerCall(t *testing.T) {
	a := schedx.GenerateProcessorID()
	b := schedx.GenerateProcessorID()
	if a == "" || b == "" {
		t.Fatal("empty processor identity")
	}
	if a == b {
		t.Fatalf("identities collide: %s", a)
	}

	store := schedxmem.NewStore()
	controller := schedx.NewController(a, store)
	loader := schedx.NewBatchLoader(a, store, controller)
	retry := schedx.NewRetryPolicy(a, store, defaultsNoJitter())
	executor := schedx.NewExecutor(a, store, schedx.NewRegistry(), retry)
	p := schedx.NewProcessor("", store, controller, loader, executor, retry)
	if p.ID() == "" {
		t.Fatal("processor did not generate an identity")
	}
}

func TestProcessor_StartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	store := schedxmem.NewStore()
	registry := schedx.NewRegistry()
	p := newProcessor(store, registry, false)

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	state, err := store.GetProcessor(ctx, p.ID())
	if err != nil {
		t.Fatalf("GetProcessor: %v", err)
	}
	if !state.Active {
		t.Fatal("processor not registered as active")
	}

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(ctx); err == nil {
		t.Fatal("second Stop should fail")
	}

	state, err = store.GetProcessor(ctx, p.ID())
	if err != nil {
		t.Fatalf("GetProcessor after stop: %v", err)
	}
	if state.Active {
		t.Fatal("processor still active after Stop")
	}

	health := p.Health(ctx)
	if !health.StoreReachable {
		t.Fatal("store should be reachable")
	}
	if health.Running {
		t.Fatal("health reports running after Stop")
	}
}
