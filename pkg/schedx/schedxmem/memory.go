// Package schedxmem is an in-memory Store for tests and single-process
// development. It honors the same atomicity contract as the relational
// store: every mutating call checks and writes under one lock, so racing
// callers observe claim semantics identical to the conditional updates the
// postgres store issues.
package schedxmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/batchx/pkg/ptrx"
	"github.com/Abraxas-365/batchx/pkg/schedx"
)

type lockRecord struct {
	lock   schedx.ConcurrencyLock
	owners map[string]int
}

// Store implements schedx.Store entirely in memory.
type Store struct {
	mu         sync.Mutex
	jobs       map[string]*schedx.Job
	locks      map[string]*lockRecord
	attempts   map[string][]schedx.ExecutionAttempt
	configs    map[string]schedx.RetryConfig
	processors map[string]schedx.ProcessorState

	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the store's time source, for tests that exercise TTL
// and retry-delay behavior.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty in-memory store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		jobs:       make(map[string]*schedx.Job),
		locks:      make(map[string]*lockRecord),
		attempts:   make(map[string][]schedx.ExecutionAttempt),
		configs:    make(map[string]schedx.RetryConfig),
		processors: make(map[string]schedx.ProcessorState),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob inserts a job, filling in ID and timestamps when absent, and
// returns its ID.
func (s *Store) AddJob(job schedx.Job) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = schedx.JobStatusPending
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = &job
	return job.ID
}

// Attempts returns the audit trail appended for a job.
func (s *Store) Attempts(jobID string) []schedx.ExecutionAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schedx.ExecutionAttempt, len(s.attempts[jobID]))
	copy(out, s.attempts[jobID])
	return out
}

func (s *Store) eligible(j *schedx.Job, now time.Time) bool {
	return j.Status == schedx.JobStatusPending &&
		j.FinalStatus == nil &&
		j.ExecutingAt == nil &&
		!j.ScheduledAt.After(now) &&
		(j.NextRetryAt == nil || !j.NextRetryAt.After(now))
}

// FetchCandidates implements schedx.JobStore.
func (s *Store) FetchCandidates(_ context.Context, f schedx.CandidateFilter) ([]schedx.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	include := toSet(f.IncludeJobTypes)
	exclude := toSet(f.ExcludeJobTypes)
	actors := toSet(f.ActorFilter)

	var out []schedx.Job
	for _, j := range s.jobs {
		if !s.eligible(j, now) {
			continue
		}
		if len(include) > 0 && !include[j.JobType] {
			continue
		}
		if exclude[j.JobType] {
			continue
		}
		if len(actors) > 0 && !actors[j.ActorID] {
			continue
		}
		out = append(out, *j)
	}

	sort.SliceStable(out, func(i, k int) bool {
		if f.PriorityWeighted && out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].ScheduledAt.Before(out[k].ScheduledAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ClaimJobs implements schedx.JobStore. Jobs that are no longer claimable
// are silently excluded.
func (s *Store) ClaimJobs(_ context.Context, jobIDs []string, c schedx.Claim) ([]schedx.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var claimed []schedx.Job
	for _, id := range jobIDs {
		j, ok := s.jobs[id]
		if !ok || j.Status != schedx.JobStatusPending || j.FinalStatus != nil || j.ExecutingAt != nil {
			continue
		}
		j.Status = schedx.JobStatusInProgress
		j.BatchID = ptrx.String(c.BatchID)
		j.ExecutingBy = ptrx.String(c.ProcessorID)
		j.ExecutingAt = ptrx.Time(c.ExecutingAt)
		j.ExecutionTimeoutAt = ptrx.Time(c.TimeoutAt)
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func clearClaim(j *schedx.Job) {
	j.BatchID = nil
	j.ExecutingAt = nil
	j.ExecutingBy = nil
	j.ExecutionTimeoutAt = nil
}

// CompleteExecution implements schedx.JobStore.
func (s *Store) CompleteExecution(_ context.Context, jobID string, outcome schedx.Outcome, errMsg string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return schedx.ErrJobMissing(jobID)
	}
	if j.Status != schedx.JobStatusInProgress || j.FinalStatus != nil {
		return nil
	}

	final := schedx.FinalStatusPermanentlyFailed
	if outcome == schedx.OutcomeCompleted {
		final = schedx.FinalStatusCompleted
	}
	j.FinalStatus = &final
	j.Status = schedx.JobStatusPending
	if errMsg != "" {
		j.LastExecutionError = ptrx.String(errMsg)
	}
	clearClaim(j)
	j.UpdatedAt = s.now()
	return nil
}

// ScheduleRetry implements schedx.JobStore. Returns nil when the guard
// rejects the update.
func (s *Store) ScheduleRetry(_ context.Context, jobID string, nextRetryAt time.Time, errMsg string, maxRetries int) (*schedx.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, schedx.ErrJobMissing(jobID)
	}
	if j.FinalStatus != nil || j.RetryCount >= maxRetries {
		return nil, nil
	}

	j.RetryCount++
	j.NextRetryAt = ptrx.Time(nextRetryAt)
	j.Status = schedx.JobStatusPending
	j.LastExecutionError = ptrx.String(errMsg)
	clearClaim(j)
	j.UpdatedAt = s.now()

	cp := *j
	return &cp, nil
}

// ResetStuckJobs implements schedx.JobStore.
func (s *Store) ResetStuckJobs(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, j := range s.jobs {
		if j.Status != schedx.JobStatusInProgress || j.FinalStatus != nil || j.ExecutingAt == nil {
			continue
		}
		if now.Sub(*j.ExecutingAt) <= olderThan {
			continue
		}
		j.Status = schedx.JobStatusPending
		clearClaim(j)
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

// JobsReadyForRetry implements schedx.JobStore.
func (s *Store) JobsReadyForRetry(_ context.Context, limit int) ([]schedx.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []schedx.Job
	for _, j := range s.jobs {
		if j.Status != schedx.JobStatusPending || j.FinalStatus != nil || j.ExecutingAt != nil {
			continue
		}
		if j.NextRetryAt == nil || j.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].NextRetryAt.Before(*out[k].NextRetryAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ResetForManualRetry implements schedx.JobStore. Returns nil unless the job
// is permanently failed.
func (s *Store) ResetForManualRetry(_ context.Context, jobID string) (*schedx.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, schedx.ErrJobMissing(jobID)
	}
	if j.FinalStatus == nil || *j.FinalStatus != schedx.FinalStatusPermanentlyFailed {
		return nil, nil
	}

	j.FinalStatus = nil
	j.Status = schedx.JobStatusPending
	j.RetryCount = 0
	j.NextRetryAt = nil
	j.LastExecutionError = nil
	clearClaim(j)
	j.UpdatedAt = s.now()

	cp := *j
	return &cp, nil
}

// GetJob implements schedx.JobStore.
func (s *Store) GetJob(_ context.Context, jobID string) (*schedx.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, schedx.ErrJobMissing(jobID)
	}
	cp := *j
	return &cp, nil
}

// CountExecuting implements schedx.JobStore.
func (s *Store) CountExecuting(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.ExecutingAt != nil && j.FinalStatus == nil {
			n++
		}
	}
	return n, nil
}

// CountActorActive implements schedx.JobStore.
func (s *Store) CountActorActive(_ context.Context, actorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.ActorID == actorID && j.ExecutingAt != nil && j.FinalStatus == nil {
			n++
		}
	}
	return n, nil
}

// QueueStats implements schedx.JobStore.
func (s *Store) QueueStats(_ context.Context) (*schedx.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := &schedx.QueueStats{
		PendingByType:  make(map[string]int),
		PendingByActor: make(map[string]int),
	}
	var oldest *schedx.Job
	var totalWait time.Duration
	for _, j := range s.jobs {
		if j.Status != schedx.JobStatusPending || j.FinalStatus != nil || j.ExecutingAt != nil {
			continue
		}
		stats.TotalPending++
		stats.PendingByType[j.JobType]++
		stats.PendingByActor[j.ActorID]++
		if wait := now.Sub(j.ScheduledAt); wait > 0 {
			totalWait += wait
		}
		if oldest == nil || j.ScheduledAt.Before(oldest.ScheduledAt) {
			oldest = j
		}
	}
	if oldest != nil {
		stats.OldestPendingID = oldest.ID
	}
	if stats.TotalPending > 0 {
		stats.AverageWait = totalWait / time.Duration(stats.TotalPending)
	}
	return stats, nil
}

// ExecutingStats implements schedx.JobStore.
func (s *Store) ExecutingStats(_ context.Context) (*schedx.ExecutingStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := &schedx.ExecutingStats{
		ExecutingByProcessor: make(map[string]int),
		ExecutingByActor:     make(map[string]int),
	}
	for _, j := range s.jobs {
		if j.ExecutingAt == nil || j.FinalStatus != nil {
			continue
		}
		stats.TotalExecuting++
		if j.ExecutingBy != nil {
			stats.ExecutingByProcessor[*j.ExecutingBy]++
		}
		stats.ExecutingByActor[j.ActorID]++
		if j.ExecutionTimeoutAt != nil && now.Add(5*time.Minute).After(*j.ExecutionTimeoutAt) {
			stats.TimeoutWarnings = append(stats.TimeoutWarnings, schedx.TimeoutWarning{
				JobID:        j.ID,
				ActorID:      j.ActorID,
				ExecutingFor: now.Sub(*j.ExecutingAt),
			})
		}
	}
	return stats, nil
}

func lockID(key, lockType string) string { return lockType + ":" + key }

// Acquire implements schedx.LockStore. Expired rows are reset, not
// incremented.
func (s *Store) Acquire(_ context.Context, req schedx.LockRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := lockID(req.Key, req.Type)
	rec, ok := s.locks[id]
	if !ok || rec.lock.Expired(now) {
		s.locks[id] = &lockRecord{
			lock: schedx.ConcurrencyLock{
				LockKey:      req.Key,
				LockType:     req.Type,
				LockedBy:     req.Owner,
				LockedAt:     now,
				ExpiresAt:    now.Add(req.TTL),
				CurrentCount: 1,
				MaxCount:     req.MaxCount,
			},
			owners: map[string]int{req.Owner: 1},
		}
		return true, nil
	}

	if rec.lock.CurrentCount >= req.MaxCount {
		return false, nil
	}
	rec.lock.CurrentCount++
	rec.lock.LockedBy = req.Owner
	rec.lock.ExpiresAt = now.Add(req.TTL)
	rec.owners[req.Owner]++
	return true, nil
}

// Release implements schedx.LockStore. Releasing a slot the owner does not
// hold is a no-op.
func (s *Store) Release(_ context.Context, key, lockType, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := lockID(key, lockType)
	rec, ok := s.locks[id]
	if !ok || rec.owners[owner] == 0 {
		return nil
	}
	rec.owners[owner]--
	rec.lock.CurrentCount--
	if rec.lock.CurrentCount <= 0 {
		delete(s.locks, id)
	}
	return nil
}

// ReleaseOwned implements schedx.LockStore.
func (s *Store) ReleaseOwned(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.locks {
		held := rec.owners[owner]
		if held == 0 {
			continue
		}
		rec.lock.CurrentCount -= held
		delete(rec.owners, owner)
		if rec.lock.CurrentCount <= 0 {
			delete(s.locks, id)
		}
	}
	return nil
}

// DeleteExpired implements schedx.LockStore.
func (s *Store) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, rec := range s.locks {
		if rec.lock.Expired(now) {
			delete(s.locks, id)
			n++
		}
	}
	return n, nil
}

// ActiveLocks implements schedx.LockStore.
func (s *Store) ActiveLocks(_ context.Context) ([]schedx.ConcurrencyLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]schedx.ConcurrencyLock, 0, len(s.locks))
	for _, rec := range s.locks {
		out = append(out, rec.lock)
	}
	return out, nil
}

// AppendAttempt implements schedx.AttemptStore.
func (s *Store) AppendAttempt(_ context.Context, a schedx.ExecutionAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.JobID] = append(s.attempts[a.JobID], a)
	return nil
}

// RetryConfigFor implements schedx.RetryConfigStore.
func (s *Store) RetryConfigFor(_ context.Context, jobType string) (*schedx.RetryConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[jobType]
	if !ok {
		return nil, nil
	}
	cp := cfg
	return &cp, nil
}

// UpsertRetryConfig implements schedx.RetryConfigStore.
func (s *Store) UpsertRetryConfig(_ context.Context, cfg schedx.RetryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.JobType] = cfg
	return nil
}

// RegisterProcessor implements schedx.ProcessorStateStore.
func (s *Store) RegisterProcessor(_ context.Context, state schedx.ProcessorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors[state.ProcessorID] = state
	return nil
}

// Heartbeat implements schedx.ProcessorStateStore.
func (s *Store) Heartbeat(_ context.Context, state schedx.ProcessorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors[state.ProcessorID] = state
	return nil
}

// DeregisterProcessor implements schedx.ProcessorStateStore.
func (s *Store) DeregisterProcessor(_ context.Context, processorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.processors[processorID]
	if !ok {
		return nil
	}
	st.Active = false
	st.LastHeartbeat = s.now()
	s.processors[processorID] = st
	return nil
}

// GetProcessor implements schedx.ProcessorStateStore.
func (s *Store) GetProcessor(_ context.Context, processorID string) (*schedx.ProcessorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.processors[processorID]
	if !ok {
		return nil, nil
	}
	cp := st
	return &cp, nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
