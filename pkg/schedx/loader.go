package schedx

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/batchx/pkg/errx"
	"github.com/Abraxas-365/batchx/pkg/logx"
)

// candidateOverfetch is how many times the batch size the loader fetches as
// candidates, so concurrency filtering still leaves a full batch.
const candidateOverfetch = 3

// BatchLoader selects and claims batches of eligible jobs. The claim is a
// conditional store update, so concurrent loaders racing for the same
// candidates each end up with a disjoint set.
type BatchLoader struct {
	processorID string
	store       Store
	controller  *Controller

	batchSize        int
	executionTimeout time.Duration
	priorityWeighted bool
	includeJobTypes  []string
	excludeJobTypes  []string
	actorFilter      []string
}

// LoaderOption configures a BatchLoader.
type LoaderOption func(*BatchLoader)

// WithBatchSize sets the maximum jobs claimed per load.
func WithBatchSize(n int) LoaderOption {
	return func(l *BatchLoader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithExecutionTimeout sets the deadline stamped onto claimed jobs. A claim
// older than this is considered stuck and eligible for recovery.
func WithExecutionTimeout(d time.Duration) LoaderOption {
	return func(l *BatchLoader) {
		if d > 0 {
			l.executionTimeout = d
		}
	}
}

// WithPriorityWeighting toggles priority-ordered candidate selection. Off
// means pure FIFO on scheduled_at.
func WithPriorityWeighting(on bool) LoaderOption {
	return func(l *BatchLoader) { l.priorityWeighted = on }
}

// WithIncludeJobTypes restricts loading to the given job types.
func WithIncludeJobTypes(types ...string) LoaderOption {
	return func(l *BatchLoader) { l.includeJobTypes = types }
}

// WithExcludeJobTypes excludes the given job types from loading.
func WithExcludeJobTypes(types ...string) LoaderOption {
	return func(l *BatchLoader) { l.excludeJobTypes = types }
}

// WithActorFilter restricts loading to jobs owned by the given actors,
// for instances dedicated to a subset of tenants.
func WithActorFilter(actorIDs ...string) LoaderOption {
	return func(l *BatchLoader) { l.actorFilter = actorIDs }
}

// NewBatchLoader creates a batch loader. Defaults: batch size 10, 30 minute
// execution timeout, priority weighting on.
func NewBatchLoader(processorID string, store Store, controller *Controller, opts ...LoaderOption) *BatchLoader {
	l := &BatchLoader{
		processorID:      processorID,
		store:            store,
		controller:       controller,
		batchSize:        10,
		executionTimeout: 30 * time.Minute,
		priorityWeighted: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BatchSize exposes the configured batch size.
func (l *BatchLoader) BatchSize() int { return l.batchSize }

// LoadBatch selects, filters, and atomically claims the next batch of jobs.
// Candidates are over-fetched, run through the concurrency limits, re-sorted
// to restore selection order, truncated to the batch size, and claimed with
// a single conditional update. Candidates another processor claimed between
// fetch and claim are counted as already-executing, not errors.
func (l *BatchLoader) LoadBatch(ctx context.Context) (*BatchLoadResult, error) {
	start := time.Now()
	batchID := uuid.NewString()

	result := &BatchLoadResult{
		BatchID: batchID,
		Metadata: BatchMetadata{
			RequestedSize: l.batchSize,
		},
	}

	if !l.controller.CanSystemExecuteMore(ctx) {
		logx.Debugf("schedx: batch %s skipped, system at global capacity", batchID)
		result.Metadata.ProcessingTime = time.Since(start)
		return result, nil
	}

	// The batch lock is held for the batch's lifetime; the orchestrator
	// releases it once the cycle finishes.
	if !l.controller.AcquireBatchLock(ctx, batchID) {
		result.Metadata.ProcessingTime = time.Since(start)
		return result, nil
	}

	candidates, err := l.store.FetchCandidates(ctx, CandidateFilter{
		Limit:            l.batchSize * candidateOverfetch,
		PriorityWeighted: l.priorityWeighted,
		IncludeJobTypes:  l.includeJobTypes,
		ExcludeJobTypes:  l.excludeJobTypes,
		ActorFilter:      l.actorFilter,
	})
	if err != nil {
		l.controller.ReleaseBatchLock(ctx, batchID)
		return nil, errx.Wrap(err, "failed to fetch candidate jobs", errx.TypeExternal)
	}

	result.Metadata.CandidateCount = len(candidates)
	if len(candidates) == 0 {
		l.controller.ReleaseBatchLock(ctx, batchID)
		result.Metadata.ProcessingTime = time.Since(start)
		return result, nil
	}

	allowed, skipped := l.controller.CheckBatch(ctx, candidates)
	result.Skipped = skipped

	// Filtering preserves fetch order, but make the contract explicit:
	// priority desc, then scheduled_at asc.
	if l.priorityWeighted {
		sort.SliceStable(allowed, func(i, j int) bool {
			if allowed[i].Priority != allowed[j].Priority {
				return allowed[i].Priority > allowed[j].Priority
			}
			return allowed[i].ScheduledAt.Before(allowed[j].ScheduledAt)
		})
	}
	if len(allowed) > l.batchSize {
		allowed = allowed[:l.batchSize]
	}
	if len(allowed) == 0 {
		l.controller.ReleaseBatchLock(ctx, batchID)
		result.Metadata.ProcessingTime = time.Since(start)
		return result, nil
	}

	ids := make([]string, len(allowed))
	for i, job := range allowed {
		ids[i] = job.ID
	}

	now := time.Now().UTC()
	claimed, err := l.store.ClaimJobs(ctx, ids, Claim{
		BatchID:     batchID,
		ProcessorID: l.processorID,
		ExecutingAt: now,
		TimeoutAt:   now.Add(l.executionTimeout),
	})
	if err != nil {
		l.controller.ReleaseBatchLock(ctx, batchID)
		return nil, errx.Wrap(err, "failed to claim jobs for batch", errx.TypeExternal).WithDetail("batch_id", batchID)
	}
	if len(claimed) == 0 {
		l.controller.ReleaseBatchLock(ctx, batchID)
	}

	// Lost races show up as selected-but-not-claimed rows.
	result.Skipped.AlreadyExecuting += len(ids) - len(claimed)

	result.Jobs = claimed
	result.Metadata.ActualSize = len(claimed)
	result.Metadata.ProcessingTime = time.Since(start)

	logx.Infof("schedx: batch %s loaded %d/%d jobs (candidates=%d, skipped actor=%d global=%d racing=%d)",
		batchID, len(claimed), l.batchSize, len(candidates),
		result.Skipped.ActorLimited, result.Skipped.GloballyLimited, result.Skipped.AlreadyExecuting)

	return result, nil
}

// ResetStuckJobs reverts claims older than the execution timeout back to
// pending and returns how many were recovered.
func (l *BatchLoader) ResetStuckJobs(ctx context.Context) (int, error) {
	n, err := l.store.ResetStuckJobs(ctx, l.executionTimeout)
	if err != nil {
		return 0, errx.Wrap(err, "failed to reset stuck jobs", errx.TypeExternal)
	}
	if n > 0 {
		logx.Warnf("schedx: recovered %d stuck jobs older than %s", n, l.executionTimeout)
	}
	return n, nil
}

// QueueStats reports the pending-jobs aggregate.
func (l *BatchLoader) QueueStats(ctx context.Context) (*QueueStats, error) {
	return l.store.QueueStats(ctx)
}

// ExecutingStats reports the in-flight aggregate.
func (l *BatchLoader) ExecutingStats(ctx context.Context) (*ExecutingStats, error) {
	return l.store.ExecutingStats(ctx)
}
