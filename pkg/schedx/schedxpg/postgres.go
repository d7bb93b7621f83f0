// Package schedxpg is the PostgreSQL Store. Every mutating operation is a
// single conditional statement: claims, retries, and lock acquisitions
// either win their rows atomically or affect nothing. No stored procedures,
// no advisory locks.
package schedxpg

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Abraxas-365/batchx/pkg/errx"
	"github.com/Abraxas-365/batchx/pkg/schedx"
)

//go:embed schema.sql
var schemaSQL string

// Store implements schedx.Store on PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a PostgreSQL-backed store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return errx.Wrap(err, "failed to ensure schema", errx.TypeInternal)
	}
	return nil
}

// FetchCandidates implements schedx.JobStore.
func (s *Store) FetchCandidates(ctx context.Context, f schedx.CandidateFilter) ([]schedx.Job, error) {
	var (
		conds = []string{
			"status = 'pending'",
			"final_status IS NULL",
			"executing_at IS NULL",
			"scheduled_at <= NOW()",
			"(next_retry_at IS NULL OR next_retry_at <= NOW())",
		}
		args []interface{}
	)
	if len(f.IncludeJobTypes) > 0 {
		args = append(args, pq.Array(f.IncludeJobTypes))
		conds = append(conds, fmt.Sprintf("job_type = ANY($%d)", len(args)))
	}
	if len(f.ExcludeJobTypes) > 0 {
		args = append(args, pq.Array(f.ExcludeJobTypes))
		conds = append(conds, fmt.Sprintf("job_type != ALL($%d)", len(args)))
	}
	if len(f.ActorFilter) > 0 {
		args = append(args, pq.Array(f.ActorFilter))
		conds = append(conds, fmt.Sprintf("actor_id = ANY($%d)", len(args)))
	}

	order := "scheduled_at ASC"
	if f.PriorityWeighted {
		order = "priority DESC, scheduled_at ASC"
	}

	args = append(args, f.Limit)
	query := fmt.Sprintf(`SELECT * FROM batch_jobs WHERE %s ORDER BY %s LIMIT $%d`,
		strings.Join(conds, " AND "), order, len(args))

	var jobs []schedx.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, errx.Wrap(err, "failed to fetch candidate jobs", errx.TypeInternal)
	}
	return jobs, nil
}

// ClaimJobs implements schedx.JobStore. The WHERE clause re-checks
// eligibility, so rows another processor claimed since the candidate fetch
// fall out of the returned set.
func (s *Store) ClaimJobs(ctx context.Context, jobIDs []string, c schedx.Claim) ([]schedx.Job, error) {
	query := `
		UPDATE batch_jobs SET
			status = 'in_progress',
			batch_id = $1,
			executing_by = $2,
			executing_at = $3,
			execution_timeout_at = $4,
			updated_at = NOW()
		WHERE id = ANY($5)
		  AND status = 'pending'
		  AND final_status IS NULL
		  AND executing_at IS NULL
		RETURNING *`

	var claimed []schedx.Job
	err := s.db.SelectContext(ctx, &claimed, query,
		c.BatchID, c.ProcessorID, c.ExecutingAt, c.TimeoutAt, pq.Array(jobIDs))
	if err != nil {
		return nil, errx.Wrap(err, "failed to claim jobs", errx.TypeInternal).
			WithDetail("batch_id", c.BatchID)
	}
	return claimed, nil
}

// CompleteExecution implements schedx.JobStore.
func (s *Store) CompleteExecution(ctx context.Context, jobID string, outcome schedx.Outcome, errMsg string, _ time.Duration) error {
	final := schedx.FinalStatusPermanentlyFailed
	if outcome == schedx.OutcomeCompleted {
		final = schedx.FinalStatusCompleted
	}

	query := `
		UPDATE batch_jobs SET
			status = 'pending',
			final_status = $2,
			last_execution_error = NULLIF($3, ''),
			batch_id = NULL,
			executing_at = NULL,
			executing_by = NULL,
			execution_timeout_at = NULL,
			updated_at = NOW()
		WHERE id = $1
		  AND status = 'in_progress'
		  AND final_status IS NULL`

	if _, err := s.db.ExecContext(ctx, query, jobID, final, errMsg); err != nil {
		return errx.Wrap(err, "failed to complete execution", errx.TypeInternal).
			WithDetail("job_id", jobID)
	}
	return nil
}

// ScheduleRetry implements schedx.JobStore. The retry_count guard lives in
// the statement itself, so a stale in-memory count can never push a job past
// its budget.
func (s *Store) ScheduleRetry(ctx context.Context, jobID string, nextRetryAt time.Time, errMsg string, maxRetries int) (*schedx.Job, error) {
	query := `
		UPDATE batch_jobs SET
			retry_count = retry_count + 1,
			next_retry_at = $2,
			status = 'pending',
			last_execution_error = $3,
			batch_id = NULL,
			executing_at = NULL,
			executing_by = NULL,
			execution_timeout_at = NULL,
			updated_at = NOW()
		WHERE id = $1
		  AND final_status IS NULL
		  AND retry_count < $4
		RETURNING *`

	var job schedx.Job
	err := s.db.GetContext(ctx, &job, query, jobID, nextRetryAt, errMsg, maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to schedule retry", errx.TypeInternal).
			WithDetail("job_id", jobID)
	}
	return &job, nil
}

// ResetStuckJobs implements schedx.JobStore.
func (s *Store) ResetStuckJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE batch_jobs SET
			status = 'pending',
			batch_id = NULL,
			executing_at = NULL,
			executing_by = NULL,
			execution_timeout_at = NULL,
			updated_at = NOW()
		WHERE status = 'in_progress'
		  AND final_status IS NULL
		  AND executing_at < $1`

	res, err := s.db.ExecContext(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, errx.Wrap(err, "failed to reset stuck jobs", errx.TypeInternal)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// JobsReadyForRetry implements schedx.JobStore.
func (s *Store) JobsReadyForRetry(ctx context.Context, limit int) ([]schedx.Job, error) {
	query := `
		SELECT * FROM batch_jobs
		WHERE status = 'pending'
		  AND final_status IS NULL
		  AND executing_at IS NULL
		  AND next_retry_at IS NOT NULL
		  AND next_retry_at <= NOW()
		ORDER BY next_retry_at ASC
		LIMIT $1`

	var jobs []schedx.Job
	if err := s.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, errx.Wrap(err, "failed to fetch retry-ready jobs", errx.TypeInternal)
	}
	return jobs, nil
}

// ResetForManualRetry implements schedx.JobStore.
func (s *Store) ResetForManualRetry(ctx context.Context, jobID string) (*schedx.Job, error) {
	query := `
		UPDATE batch_jobs SET
			final_status = NULL,
			status = 'pending',
			retry_count = 0,
			next_retry_at = NULL,
			last_execution_error = NULL,
			batch_id = NULL,
			executing_at = NULL,
			executing_by = NULL,
			execution_timeout_at = NULL,
			updated_at = NOW()
		WHERE id = $1
		  AND final_status = 'permanently_failed'
		RETURNING *`

	var job schedx.Job
	err := s.db.GetContext(ctx, &job, query, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to reset job for manual retry", errx.TypeInternal).
			WithDetail("job_id", jobID)
	}
	return &job, nil
}

// GetJob implements schedx.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (*schedx.Job, error) {
	var job schedx.Job
	err := s.db.GetContext(ctx, &job, `SELECT * FROM batch_jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schedx.ErrJobMissing(jobID)
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to get job", errx.TypeInternal).
			WithDetail("job_id", jobID)
	}
	return &job, nil
}

// CountExecuting implements schedx.JobStore.
func (s *Store) CountExecuting(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM batch_jobs WHERE executing_at IS NOT NULL AND final_status IS NULL`)
	if err != nil {
		return 0, errx.Wrap(err, "failed to count executing jobs", errx.TypeInternal)
	}
	return n, nil
}

// CountActorActive implements schedx.JobStore.
func (s *Store) CountActorActive(ctx context.Context, actorID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM batch_jobs WHERE actor_id = $1 AND executing_at IS NOT NULL AND final_status IS NULL`,
		actorID)
	if err != nil {
		return 0, errx.Wrap(err, "failed to count actor jobs", errx.TypeInternal).
			WithDetail("actor_id", actorID)
	}
	return n, nil
}

// QueueStats implements schedx.JobStore.
func (s *Store) QueueStats(ctx context.Context) (*schedx.QueueStats, error) {
	const pendingCond = `status = 'pending' AND final_status IS NULL AND executing_at IS NULL`

	stats := &schedx.QueueStats{
		PendingByType:  make(map[string]int),
		PendingByActor: make(map[string]int),
	}

	var summary struct {
		Total    int             `db:"total"`
		OldestID sql.NullString  `db:"oldest_id"`
		AvgWait  sql.NullFloat64 `db:"avg_wait"`
	}
	err := s.db.GetContext(ctx, &summary, `
		SELECT COUNT(*) AS total,
		       (SELECT id::text FROM batch_jobs WHERE `+pendingCond+` ORDER BY scheduled_at ASC LIMIT 1) AS oldest_id,
		       AVG(GREATEST(EXTRACT(EPOCH FROM NOW() - scheduled_at), 0)) AS avg_wait
		FROM batch_jobs WHERE `+pendingCond)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load queue stats", errx.TypeInternal)
	}
	stats.TotalPending = summary.Total
	if summary.OldestID.Valid {
		stats.OldestPendingID = summary.OldestID.String
	}
	if summary.AvgWait.Valid {
		stats.AverageWait = time.Duration(summary.AvgWait.Float64 * float64(time.Second))
	}

	type bucket struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}
	var byType []bucket
	if err := s.db.SelectContext(ctx, &byType,
		`SELECT job_type AS key, COUNT(*) AS count FROM batch_jobs WHERE `+pendingCond+` GROUP BY job_type`); err != nil {
		return nil, errx.Wrap(err, "failed to load queue stats by type", errx.TypeInternal)
	}
	for _, b := range byType {
		stats.PendingByType[b.Key] = b.Count
	}

	var byActor []bucket
	if err := s.db.SelectContext(ctx, &byActor,
		`SELECT actor_id AS key, COUNT(*) AS count FROM batch_jobs WHERE `+pendingCond+` GROUP BY actor_id`); err != nil {
		return nil, errx.Wrap(err, "failed to load queue stats by actor", errx.TypeInternal)
	}
	for _, b := range byActor {
		stats.PendingByActor[b.Key] = b.Count
	}

	return stats, nil
}

// ExecutingStats implements schedx.JobStore.
func (s *Store) ExecutingStats(ctx context.Context) (*schedx.ExecutingStats, error) {
	stats := &schedx.ExecutingStats{
		ExecutingByProcessor: make(map[string]int),
		ExecutingByActor:     make(map[string]int),
	}

	type row struct {
		ID          string       `db:"id"`
		ActorID     string       `db:"actor_id"`
		ExecutingBy *string      `db:"executing_by"`
		ExecutingAt time.Time    `db:"executing_at"`
		TimeoutAt   sql.NullTime `db:"execution_timeout_at"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id::text AS id, actor_id, executing_by, executing_at, execution_timeout_at
		FROM batch_jobs
		WHERE executing_at IS NOT NULL AND final_status IS NULL`)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load executing stats", errx.TypeInternal)
	}

	now := time.Now().UTC()
	for _, r := range rows {
		stats.TotalExecuting++
		if r.ExecutingBy != nil {
			stats.ExecutingByProcessor[*r.ExecutingBy]++
		}
		stats.ExecutingByActor[r.ActorID]++
		if r.TimeoutAt.Valid && now.Add(5*time.Minute).After(r.TimeoutAt.Time) {
			stats.TimeoutWarnings = append(stats.TimeoutWarnings, schedx.TimeoutWarning{
				JobID:        r.ID,
				ActorID:      r.ActorID,
				ExecutingFor: now.Sub(r.ExecutingAt),
			})
		}
	}
	return stats, nil
}

// Acquire implements schedx.LockStore. Each owner holds its own row, so one
// owner's slots never clobber another's and Release stays owner-scoped. The
// live count sums every owner's unexpired slots; below capacity we upsert
// our own row, resetting it if it had expired. Two owners racing on a fresh
// key can each pass the count check and admit one slot apiece; the batch
// claim check is the authoritative cap, so the window is tolerated rather
// than serialized.
func (s *Store) Acquire(ctx context.Context, req schedx.LockRequest) (bool, error) {
	query := `
		WITH live AS (
			SELECT COALESCE(SUM(current_count), 0) AS cnt
			FROM concurrency_locks
			WHERE lock_key = $1 AND lock_type = $2 AND expires_at > NOW()
		), claimed AS (
			INSERT INTO concurrency_locks (lock_key, lock_type, locked_by, locked_at, expires_at, current_count, max_count)
			SELECT $1, $2, $3, NOW(), $4, 1, $5
			FROM live
			WHERE live.cnt < $5
			ON CONFLICT (lock_key, lock_type, locked_by) DO UPDATE SET
				current_count = CASE WHEN concurrency_locks.expires_at <= NOW() THEN 1 ELSE concurrency_locks.current_count + 1 END,
				locked_at = CASE WHEN concurrency_locks.expires_at <= NOW() THEN NOW() ELSE concurrency_locks.locked_at END,
				expires_at = EXCLUDED.expires_at,
				max_count = EXCLUDED.max_count
			RETURNING 1
		)
		SELECT COUNT(*) FROM claimed`

	var acquired int
	err := s.db.GetContext(ctx, &acquired, query,
		req.Key, req.Type, req.Owner, time.Now().UTC().Add(req.TTL), req.MaxCount)
	if err != nil {
		return false, errx.Wrap(err, "failed to acquire lock", errx.TypeInternal).
			WithDetail("lock_key", req.Key)
	}
	return acquired > 0, nil
}

// Release implements schedx.LockStore. The decrement and the drop-at-zero
// run as separate statements: a DELETE cannot see rows its own CTE already
// modified, so folding them into one query leaves empty rows behind.
func (s *Store) Release(ctx context.Context, key, lockType, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE concurrency_locks SET
			current_count = current_count - 1
		WHERE lock_key = $1 AND lock_type = $2 AND locked_by = $3 AND current_count > 0`,
		key, lockType, owner)
	if err != nil {
		return errx.Wrap(err, "failed to release lock", errx.TypeInternal).
			WithDetail("lock_key", key)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM concurrency_locks
		WHERE lock_key = $1 AND lock_type = $2 AND locked_by = $3 AND current_count <= 0`,
		key, lockType, owner)
	if err != nil {
		return errx.Wrap(err, "failed to drop drained lock", errx.TypeInternal).
			WithDetail("lock_key", key)
	}
	return nil
}

// ReleaseOwned implements schedx.LockStore.
func (s *Store) ReleaseOwned(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM concurrency_locks WHERE locked_by = $1`, owner); err != nil {
		return errx.Wrap(err, "failed to release owned locks", errx.TypeInternal).
			WithDetail("owner", owner)
	}
	return nil
}

// DeleteExpired implements schedx.LockStore.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM concurrency_locks WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete expired locks", errx.TypeInternal)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ActiveLocks implements schedx.LockStore.
func (s *Store) ActiveLocks(ctx context.Context) ([]schedx.ConcurrencyLock, error) {
	var locks []schedx.ConcurrencyLock
	if err := s.db.SelectContext(ctx, &locks, `SELECT * FROM concurrency_locks`); err != nil {
		return nil, errx.Wrap(err, "failed to list locks", errx.TypeInternal)
	}
	return locks, nil
}

// AppendAttempt implements schedx.AttemptStore.
func (s *Store) AppendAttempt(ctx context.Context, a schedx.ExecutionAttempt) error {
	query := `
		INSERT INTO job_execution_log (
			job_id, attempt_number, started_at, duration_ms, outcome,
			error_kind, error_message, delay_to_next_ms, jitter_ms,
			retry_reason, executor_id
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, NULLIF($10, ''), $11)`

	_, err := s.db.ExecContext(ctx, query,
		a.JobID, a.AttemptNumber, a.StartedAt, a.Duration.Milliseconds(), a.Outcome,
		string(a.ErrorKind), a.ErrorMessage, a.DelayToNext.Milliseconds(), a.Jitter.Milliseconds(),
		a.RetryReason, a.ExecutorID)
	if err != nil {
		return errx.Wrap(err, "failed to append execution attempt", errx.TypeInternal).
			WithDetail("job_id", a.JobID)
	}
	return nil
}

type retryConfigRow struct {
	JobType           string         `db:"job_type"`
	MaxRetries        int            `db:"max_retries"`
	BaseDelaySeconds  int64          `db:"base_delay_seconds"`
	BackoffMultiplier float64        `db:"backoff_multiplier"`
	MaxDelaySeconds   int64          `db:"max_delay_seconds"`
	JitterEnabled     bool           `db:"jitter_enabled"`
	MaxJitterSeconds  int64          `db:"max_jitter_seconds"`
	RetryableKinds    pq.StringArray `db:"retryable_error_kinds"`
	NonRetryableKinds pq.StringArray `db:"non_retryable_error_kinds"`
	Enabled           bool           `db:"enabled"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r retryConfigRow) toDomain() *schedx.RetryConfig {
	cfg := &schedx.RetryConfig{
		JobType:           r.JobType,
		MaxRetries:        r.MaxRetries,
		BaseDelay:         time.Duration(r.BaseDelaySeconds) * time.Second,
		BackoffMultiplier: r.BackoffMultiplier,
		MaxDelay:          time.Duration(r.MaxDelaySeconds) * time.Second,
		JitterEnabled:     r.JitterEnabled,
		MaxJitter:         time.Duration(r.MaxJitterSeconds) * time.Second,
		Enabled:           r.Enabled,
	}
	for _, k := range r.RetryableKinds {
		cfg.RetryableErrorKinds = append(cfg.RetryableErrorKinds, schedx.ErrorKind(k))
	}
	for _, k := range r.NonRetryableKinds {
		cfg.NonRetryableErrorKinds = append(cfg.NonRetryableErrorKinds, schedx.ErrorKind(k))
	}
	return cfg
}

// RetryConfigFor implements schedx.RetryConfigStore.
func (s *Store) RetryConfigFor(ctx context.Context, jobType string) (*schedx.RetryConfig, error) {
	var row retryConfigRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM job_retry_configs WHERE job_type = $1`, jobType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to load retry config", errx.TypeInternal).
			WithDetail("job_type", jobType)
	}
	return row.toDomain(), nil
}

// UpsertRetryConfig implements schedx.RetryConfigStore.
func (s *Store) UpsertRetryConfig(ctx context.Context, cfg schedx.RetryConfig) error {
	retryable := make([]string, 0, len(cfg.RetryableErrorKinds))
	for _, k := range cfg.RetryableErrorKinds {
		retryable = append(retryable, string(k))
	}
	nonRetryable := make([]string, 0, len(cfg.NonRetryableErrorKinds))
	for _, k := range cfg.NonRetryableErrorKinds {
		nonRetryable = append(nonRetryable, string(k))
	}

	query := `
		INSERT INTO job_retry_configs (
			job_type, max_retries, base_delay_seconds, backoff_multiplier,
			max_delay_seconds, jitter_enabled, max_jitter_seconds,
			retryable_error_kinds, non_retryable_error_kinds, enabled, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (job_type) DO UPDATE SET
			max_retries = EXCLUDED.max_retries,
			base_delay_seconds = EXCLUDED.base_delay_seconds,
			backoff_multiplier = EXCLUDED.backoff_multiplier,
			max_delay_seconds = EXCLUDED.max_delay_seconds,
			jitter_enabled = EXCLUDED.jitter_enabled,
			max_jitter_seconds = EXCLUDED.max_jitter_seconds,
			retryable_error_kinds = EXCLUDED.retryable_error_kinds,
			non_retryable_error_kinds = EXCLUDED.non_retryable_error_kinds,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		cfg.JobType, cfg.MaxRetries, int64(cfg.BaseDelay.Seconds()), cfg.BackoffMultiplier,
		int64(cfg.MaxDelay.Seconds()), cfg.JitterEnabled, int64(cfg.MaxJitter.Seconds()),
		pq.Array(retryable), pq.Array(nonRetryable), cfg.Enabled)
	if err != nil {
		return errx.Wrap(err, "failed to upsert retry config", errx.TypeInternal).
			WithDetail("job_type", cfg.JobType)
	}
	return nil
}

// RegisterProcessor implements schedx.ProcessorStateStore.
func (s *Store) RegisterProcessor(ctx context.Context, state schedx.ProcessorState) error {
	return s.upsertProcessor(ctx, state, "failed to register processor")
}

// Heartbeat implements schedx.ProcessorStateStore.
func (s *Store) Heartbeat(ctx context.Context, state schedx.ProcessorState) error {
	return s.upsertProcessor(ctx, state, "failed to record heartbeat")
}

func (s *Store) upsertProcessor(ctx context.Context, state schedx.ProcessorState, msg string) error {
	query := `
		INSERT INTO job_processors (
			processor_id, hostname, pid, active, last_heartbeat,
			max_concurrent_jobs, batch_size, total_batches, total_jobs, success_rate
		) VALUES (:processor_id, :hostname, :pid, :active, :last_heartbeat,
			:max_concurrent_jobs, :batch_size, :total_batches, :total_jobs, :success_rate)
		ON CONFLICT (processor_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			pid = EXCLUDED.pid,
			active = EXCLUDED.active,
			last_heartbeat = EXCLUDED.last_heartbeat,
			max_concurrent_jobs = EXCLUDED.max_concurrent_jobs,
			batch_size = EXCLUDED.batch_size,
			total_batches = EXCLUDED.total_batches,
			total_jobs = EXCLUDED.total_jobs,
			success_rate = EXCLUDED.success_rate`

	if _, err := s.db.NamedExecContext(ctx, query, state); err != nil {
		return errx.Wrap(err, msg, errx.TypeInternal).
			WithDetail("processor_id", state.ProcessorID)
	}
	return nil
}

// DeregisterProcessor implements schedx.ProcessorStateStore.
func (s *Store) DeregisterProcessor(ctx context.Context, processorID string) error {
	query := `UPDATE job_processors SET active = FALSE, last_heartbeat = NOW() WHERE processor_id = $1`
	if _, err := s.db.ExecContext(ctx, query, processorID); err != nil {
		return errx.Wrap(err, "failed to deregister processor", errx.TypeInternal).
			WithDetail("processor_id", processorID)
	}
	return nil
}

// GetProcessor implements schedx.ProcessorStateStore.
func (s *Store) GetProcessor(ctx context.Context, processorID string) (*schedx.ProcessorState, error) {
	var state schedx.ProcessorState
	err := s.db.GetContext(ctx, &state, `SELECT * FROM job_processors WHERE processor_id = $1`, processorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to get processor", errx.TypeInternal).
			WithDetail("processor_id", processorID)
	}
	return &state, nil
}
