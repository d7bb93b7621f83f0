package schedx

import (
	"context"
	"fmt"
	"time"

	"github.com/Abraxas-365/batchx/pkg/logx"
)

// Lock key types stored alongside counted locks.
const (
	LockTypeActor = "actor_limit"
	LockTypeBatch = "batch"
)

// Controller enforces the global and per-actor concurrency limits through
// the shared store. It keeps no cross-process state in memory: every check
// reads live counts, and every limit error fails closed (treated as "no
// capacity").
type Controller struct {
	processorID string
	store       Store

	maxGlobal     int
	maxPerActor   int
	lockTTL       time.Duration
	sweepInterval time.Duration
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMaxGlobalConcurrent sets the system-wide cap on in-flight jobs.
func WithMaxGlobalConcurrent(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxGlobal = n
		}
	}
}

// WithMaxPerActor sets the per-actor cap on in-flight jobs.
func WithMaxPerActor(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxPerActor = n
		}
	}
}

// WithLockTTL sets the lifetime of acquired locks. A crashed holder's slots
// free themselves after this long.
func WithLockTTL(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.lockTTL = d
		}
	}
}

// WithSweepInterval sets how often Run purges expired lock rows.
func WithSweepInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// NewController creates a concurrency controller with sane defaults: 10
// global slots, 3 per actor, 30 minute lock TTL, 5 minute cleanup sweep.
func NewController(processorID string, store Store, opts ...ControllerOption) *Controller {
	c := &Controller{
		processorID:   processorID,
		store:         store,
		maxGlobal:     10,
		maxPerActor:   3,
		lockTTL:       30 * time.Minute,
		sweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxPerActor exposes the per-actor cap for batch sizing.
func (c *Controller) MaxPerActor() int { return c.maxPerActor }

// MaxGlobalConcurrent exposes the global cap.
func (c *Controller) MaxGlobalConcurrent() int { return c.maxGlobal }

func actorLockKey(actorID string) string { return fmt.Sprintf("actor:%s", actorID) }
func batchLockKey(batchID string) string { return fmt.Sprintf("batch:%s", batchID) }

// CanSystemExecuteMore reports whether the global in-flight count is below
// the system cap. Store errors fail closed.
func (c *Controller) CanSystemExecuteMore(ctx context.Context) bool {
	executing, err := c.store.CountExecuting(ctx)
	if err != nil {
		logx.WithError(err).Warn("schedx: global concurrency check failed, denying capacity")
		return false
	}
	return executing < c.maxGlobal
}

// CanActorExecute reports whether the actor has a free slot. Store errors
// fail closed.
func (c *Controller) CanActorExecute(ctx context.Context, actorID string) bool {
	active, err := c.store.CountActorActive(ctx, actorID)
	if err != nil {
		logx.WithError(err).Warnf("schedx: actor concurrency check failed for %s, denying capacity", actorID)
		return false
	}
	return active < c.maxPerActor
}

// AcquireLock takes one counted slot on the actor's lock. Returns false when
// the actor is at capacity or the store failed.
func (c *Controller) AcquireLock(ctx context.Context, actorID string) bool {
	ok, err := c.store.Acquire(ctx, LockRequest{
		Key:      actorLockKey(actorID),
		Type:     LockTypeActor,
		Owner:    c.processorID,
		MaxCount: c.maxPerActor,
		TTL:      c.lockTTL,
	})
	if err != nil {
		logx.WithError(err).Warnf("schedx: lock acquisition failed for actor %s", actorID)
		return false
	}
	return ok
}

// ReleaseLock returns one counted slot on the actor's lock. Releases are
// scoped to locks this processor acquired; releasing a slot it does not hold
// is a no-op.
func (c *Controller) ReleaseLock(ctx context.Context, actorID string) {
	if err := c.store.Release(ctx, actorLockKey(actorID), LockTypeActor, c.processorID); err != nil {
		logx.WithError(err).Warnf("schedx: lock release failed for actor %s", actorID)
	}
}

// AcquireBatchLock takes the exclusive lock for a batch, preventing two
// processors from running the same batch concurrently.
func (c *Controller) AcquireBatchLock(ctx context.Context, batchID string) bool {
	ok, err := c.store.Acquire(ctx, LockRequest{
		Key:      batchLockKey(batchID),
		Type:     LockTypeBatch,
		Owner:    c.processorID,
		MaxCount: 1,
		TTL:      c.lockTTL,
	})
	if err != nil {
		logx.WithError(err).Warnf("schedx: batch lock acquisition failed for %s", batchID)
		return false
	}
	return ok
}

// ReleaseBatchLock releases the batch's exclusive lock.
func (c *Controller) ReleaseBatchLock(ctx context.Context, batchID string) {
	if err := c.store.Release(ctx, batchLockKey(batchID), LockTypeBatch, c.processorID); err != nil {
		logx.WithError(err).Warnf("schedx: batch lock release failed for %s", batchID)
	}
}

// CheckBatch filters candidates down to the set the limits admit right now.
// Global capacity is checked once and decremented per admitted job, so the
// whole remaining batch short-circuits to globally-limited the moment it is
// spent. Per-actor headroom is read once per actor and decremented as the
// batch allocates against it.
func (c *Controller) CheckBatch(ctx context.Context, candidates []Job) ([]Job, SkippedCounts) {
	var skipped SkippedCounts

	executing, err := c.store.CountExecuting(ctx)
	if err != nil {
		logx.WithError(err).Warn("schedx: global concurrency check failed, skipping batch")
		skipped.Errors = len(candidates)
		return nil, skipped
	}
	globalRemaining := c.maxGlobal - executing

	actorRemaining := make(map[string]int)
	allowed := make([]Job, 0, len(candidates))

	for _, job := range candidates {
		if globalRemaining <= 0 {
			skipped.GloballyLimited++
			continue
		}

		remaining, seen := actorRemaining[job.ActorID]
		if !seen {
			active, err := c.store.CountActorActive(ctx, job.ActorID)
			if err != nil {
				logx.WithError(err).Warnf("schedx: actor concurrency check failed for %s", job.ActorID)
				skipped.Errors++
				continue
			}
			remaining = c.maxPerActor - active
		}
		if remaining <= 0 {
			actorRemaining[job.ActorID] = remaining
			skipped.ActorLimited++
			continue
		}

		actorRemaining[job.ActorID] = remaining - 1
		globalRemaining--
		allowed = append(allowed, job)
	}

	return allowed, skipped
}

// CleanupExpired purges expired lock rows. Purging is advisory: expired rows
// are already treated as absent everywhere, this just reclaims storage.
func (c *Controller) CleanupExpired(ctx context.Context) int {
	n, err := c.store.DeleteExpired(ctx)
	if err != nil {
		logx.WithError(err).Warn("schedx: expired lock cleanup failed")
		return 0
	}
	if n > 0 {
		logx.Debugf("schedx: purged %d expired locks", n)
	}
	return n
}

// ReleaseAll drops every lock this processor holds, for shutdown.
func (c *Controller) ReleaseAll(ctx context.Context) {
	if err := c.store.ReleaseOwned(ctx, c.processorID); err != nil {
		logx.WithError(err).Warn("schedx: failed to release owned locks on shutdown")
	}
}

// Run sweeps expired locks on the configured interval until the context is
// canceled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanupExpired(ctx)
		}
	}
}

// Stats aggregates live lock and in-flight counts for the monitoring
// surface.
func (c *Controller) Stats(ctx context.Context) (*ConcurrencyStats, error) {
	executing, err := c.store.CountExecuting(ctx)
	if err != nil {
		return nil, err
	}
	locks, err := c.store.ActiveLocks(ctx)
	if err != nil {
		return nil, err
	}

	stats := &ConcurrencyStats{
		GlobalExecuting: executing,
		LocksByType:     make(map[string]int),
		JobsByActor:     make(map[string]int),
	}
	now := time.Now().UTC()
	for _, l := range locks {
		if l.Expired(now) {
			continue
		}
		stats.ActiveLocks++
		stats.LocksByType[l.LockType]++
		if l.LockType == LockTypeActor {
			// Each owner holds its own row for a key; sum them.
			stats.JobsByActor[l.LockKey] += l.CurrentCount
		}
	}
	return stats, nil
}
