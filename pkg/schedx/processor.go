package schedx

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/batchx/pkg/alertx"
	"github.com/Abraxas-365/batchx/pkg/asyncx"
	"github.com/Abraxas-365/batchx/pkg/logx"
)

// Processor drives the processing loop: recover stuck claims, load a batch,
// fan work out to the executor, aggregate, sweep due retries, repeat. Many
// processors can run against the same store; the conditional claim keeps
// their batches disjoint.
type Processor struct {
	id         string
	store      Store
	controller *Controller
	loader     *BatchLoader
	executor   *Executor
	retry      *RetryPolicy

	interval          time.Duration
	heartbeatInterval time.Duration
	retrySweep        bool
	maxWorkers        int
	shutdownGrace     time.Duration
	alerts            *alertx.Client

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	stats     ProcessingStats
	succeeded int
	lastCycle *CycleResult
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithInterval sets the pause between processing cycles.
func WithInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithHeartbeatInterval sets how often the processor refreshes its
// registration row.
func WithHeartbeatInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.heartbeatInterval = d
		}
	}
}

// WithRetrySweep toggles the per-cycle sweep that claims and runs jobs whose
// retry delay has elapsed.
func WithRetrySweep(on bool) ProcessorOption {
	return func(p *Processor) { p.retrySweep = on }
}

// WithMaxWorkers bounds the per-batch execution fan-out.
func WithMaxWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxWorkers = n
		}
	}
}

// WithShutdownGrace sets how long Stop waits for in-flight work.
func WithShutdownGrace(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.shutdownGrace = d
		}
	}
}

// WithProcessorAlerts attaches an alert client for cycle-level alerts.
func WithProcessorAlerts(alerts *alertx.Client) ProcessorOption {
	return func(p *Processor) { p.alerts = alerts }
}

// GenerateProcessorID returns a unique instance identity. Every component
// of one instance (controller, loader, retry policy, executor, processor)
// must share the same identity: it is what scopes lock ownership and the
// executing_by claim stamp.
func GenerateProcessorID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// NewProcessor creates a processor. Defaults: 1 minute cycle interval, 30
// second heartbeat, retry sweep on, fan-out bounded by the loader's batch
// size, 30 second shutdown grace.
func NewProcessor(id string, store Store, controller *Controller, loader *BatchLoader, executor *Executor, retry *RetryPolicy, opts ...ProcessorOption) *Processor {
	if id == "" {
		id = GenerateProcessorID()
	}
	p := &Processor{
		id:                id,
		store:             store,
		controller:        controller,
		loader:            loader,
		executor:          executor,
		retry:             retry,
		interval:          time.Minute,
		heartbeatInterval: 30 * time.Second,
		retrySweep:        true,
		shutdownGrace:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxWorkers == 0 {
		p.maxWorkers = loader.BatchSize()
	}
	return p
}

// ID returns the processor identifier.
func (p *Processor) ID() string { return p.id }

// Start registers the processor and launches the heartbeat, lock sweep, and
// cycle loops. It returns once the loops are running.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return schedxErrors.New(ErrAlreadyRunning).WithDetail("processor_id", p.id)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.mu.Unlock()

	if err := p.store.RegisterProcessor(ctx, p.snapshotState(true)); err != nil {
		p.mu.Lock()
		p.running = false
		p.cancel = nil
		p.mu.Unlock()
		cancel()
		return schedxErrors.NewWithCause(ErrRegisterProcessor, err).WithDetail("processor_id", p.id)
	}

	// Claims orphaned by a previous crash of this or any other processor
	// become pending again before the first batch loads.
	if _, err := p.loader.ResetStuckJobs(ctx); err != nil {
		logx.WithError(err).Warn("schedx: initial stuck-job reset failed")
	}

	go p.heartbeatLoop(runCtx)
	go p.controller.Run(runCtx)
	go p.cycleLoop(runCtx)

	logx.Infof("schedx: processor %s started (interval=%s, workers=%d)", p.id, p.interval, p.maxWorkers)
	return nil
}

// Stop halts the loops, waits up to the shutdown grace for in-flight work,
// releases held locks, and deregisters.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return schedxErrors.New(ErrNotRunning).WithDetail("processor_id", p.id)
	}
	cancel := p.cancel
	done := p.done
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(p.shutdownGrace):
		logx.Warnf("schedx: processor %s shutdown grace expired with work in flight", p.id)
	}

	p.controller.ReleaseAll(ctx)
	if err := p.store.DeregisterProcessor(ctx, p.id); err != nil {
		logx.WithError(err).Warnf("schedx: failed to deregister processor %s", p.id)
	}

	logx.Infof("schedx: processor %s stopped", p.id)
	return nil
}

func (p *Processor) cycleLoop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
			logx.WithError(err).Error("schedx: processing cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Processor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.Heartbeat(ctx, p.snapshotState(true)); err != nil {
				logx.WithError(err).Warn("schedx: heartbeat failed")
			}
		}
	}
}

// RunCycle executes one full processing cycle and returns its summary. It is
// safe to call directly (the admin surface does) while the loop is running:
// every claim is conditional, so overlapping cycles split the work instead
// of duplicating it.
func (p *Processor) RunCycle(ctx context.Context) (*CycleResult, error) {
	started := time.Now().UTC()

	if _, err := p.loader.ResetStuckJobs(ctx); err != nil {
		logx.WithError(err).Warn("schedx: stuck-job reset failed, continuing cycle")
	}

	batch, err := p.loader.LoadBatch(ctx)
	if err != nil {
		return nil, err
	}

	result := &CycleResult{
		BatchID:   batch.BatchID,
		StartedAt: started,
		Skipped:   batch.Skipped,
	}

	if len(batch.Jobs) > 0 {
		p.executeBatch(ctx, batch.Jobs, result)
		p.controller.ReleaseBatchLock(ctx, batch.BatchID)
	}

	if p.retrySweep {
		p.sweepRetries(ctx, result)
	}

	result.FinishedAt = time.Now().UTC()
	result.Duration = result.FinishedAt.Sub(started)
	p.recordCycle(result)

	if result.TotalJobs > 0 {
		logx.Infof("schedx: cycle %s done in %s: %d jobs, %d ok, %d failed, %d timed out, %d retried",
			result.BatchID, result.Duration, result.TotalJobs,
			result.Succeeded, result.Failed, result.TimedOut, result.Retried)

		if p.alerts != nil && result.Failed > result.Succeeded {
			p.alerts.Critical(ctx, "Processing cycle mostly failing",
				fmt.Sprintf("cycle %s: %d of %d jobs failed", result.BatchID, result.Failed, result.TotalJobs),
				map[string]interface{}{
					"batch_id":  result.BatchID,
					"total":     result.TotalJobs,
					"failed":    result.Failed,
					"succeeded": result.Succeeded,
				})
		}
	}

	return result, nil
}

// executeBatch fans the jobs out to the executor with bounded concurrency
// and folds the outcomes into the cycle result.
func (p *Processor) executeBatch(ctx context.Context, jobs []Job, result *CycleResult) {
	workers := p.maxWorkers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	// The execute closure never returns an error; failures travel in the
	// ExecutionResult so one bad job cannot abort the pool.
	results, _ := asyncx.Pool(ctx, workers, jobs, func(ctx context.Context, job Job) (ExecutionResult, error) {
		locked := p.controller.AcquireLock(ctx, job.ActorID)
		if locked {
			defer p.controller.ReleaseLock(ctx, job.ActorID)
		} else {
			// The claim already reserved capacity; a lost lock race
			// only costs observability, not correctness.
			logx.Warnf("schedx: actor lock unavailable for %s, executing claimed job %s anyway", job.ActorID, job.ID)
		}
		return p.executor.Execute(ctx, &job), nil
	})

	for _, res := range results {
		result.TotalJobs++
		switch {
		case res.Success:
			result.Succeeded++
		case res.RetryScheduled:
			result.Retried++
			result.Errors = append(result.Errors, CycleError{JobID: res.JobID, Kind: res.ErrorKind, Message: res.ErrorMessage})
		default:
			result.Failed++
			if res.Outcome == OutcomeTimeout {
				result.TimedOut++
			}
			result.Errors = append(result.Errors, CycleError{JobID: res.JobID, Kind: res.ErrorKind, Message: res.ErrorMessage})
		}
	}
}

// sweepRetries claims jobs whose retry delay has elapsed and runs them
// immediately instead of waiting for them to surface as ordinary
// candidates. The claim is the same conditional update, so a concurrent
// processor's sweep takes a disjoint set.
func (p *Processor) sweepRetries(ctx context.Context, result *CycleResult) {
	ready, err := p.retry.JobsReadyForRetry(ctx, p.loader.BatchSize())
	if err != nil {
		logx.WithError(err).Warn("schedx: retry sweep fetch failed")
		return
	}
	if len(ready) == 0 {
		return
	}

	allowed, skipped := p.controller.CheckBatch(ctx, ready)
	result.Skipped.ActorLimited += skipped.ActorLimited
	result.Skipped.GloballyLimited += skipped.GloballyLimited
	result.Skipped.Errors += skipped.Errors
	if len(allowed) == 0 {
		return
	}

	ids := make([]string, len(allowed))
	for i, job := range allowed {
		ids[i] = job.ID
	}
	now := time.Now().UTC()
	claimed, err := p.store.ClaimJobs(ctx, ids, Claim{
		BatchID:     uuid.NewString(),
		ProcessorID: p.id,
		ExecutingAt: now,
		TimeoutAt:   now.Add(p.loader.executionTimeout),
	})
	if err != nil {
		logx.WithError(err).Warn("schedx: retry sweep claim failed")
		return
	}
	result.Skipped.AlreadyExecuting += len(ids) - len(claimed)
	if len(claimed) == 0 {
		return
	}

	logx.Infof("schedx: retry sweep claimed %d due jobs", len(claimed))
	p.executeBatch(ctx, claimed, result)
}

func (p *Processor) recordCycle(result *CycleResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCycle = result
	p.stats.TotalBatches++
	p.stats.TotalJobs += result.TotalJobs
	p.succeeded += result.Succeeded
	if p.stats.TotalJobs > 0 {
		p.stats.SuccessRate = float64(p.succeeded) / float64(p.stats.TotalJobs)
	}
	now := result.FinishedAt
	p.stats.LastProcessedAt = &now
}

func (p *Processor) snapshotState(active bool) ProcessorState {
	host, _ := os.Hostname()
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProcessorState{
		ProcessorID:       p.id,
		Hostname:          host,
		PID:               os.Getpid(),
		Active:            active,
		LastHeartbeat:     time.Now().UTC(),
		MaxConcurrentJobs: p.controller.MaxGlobalConcurrent(),
		BatchSize:         p.loader.BatchSize(),
		TotalBatches:      p.stats.TotalBatches,
		TotalJobs:         p.stats.TotalJobs,
		SuccessRate:       p.stats.SuccessRate,
	}
}

// Status reports the processor's cumulative counters and last cycle.
func (p *Processor) Status() (ProcessingStats, *CycleResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats, p.lastCycle, p.running
}

// HealthStatus is the processor's liveness summary for the health surface.
type HealthStatus struct {
	ProcessorID    string     `json:"processor_id"`
	Healthy        bool       `json:"healthy"`
	Running        bool       `json:"running"`
	StoreReachable bool       `json:"store_reachable"`
	LastCycleAt    *time.Time `json:"last_cycle_at,omitempty"`
}

// Health pings the store and reports liveness.
func (p *Processor) Health(ctx context.Context) HealthStatus {
	_, err := p.store.CountExecuting(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	return HealthStatus{
		ProcessorID:    p.id,
		Healthy:        err == nil && p.running,
		Running:        p.running,
		StoreReachable: err == nil,
		LastCycleAt:    p.stats.LastProcessedAt,
	}
}
