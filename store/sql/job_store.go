package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-outreach/core"
)

const leaseExpiredReason = "lease expired"

const jobColumns = `
	id,
	job_type,
	payload,
	state,
	attempts,
	max_attempts,
	backoff_type,
	backoff_delay_ms,
	progress,
	result,
	failure_reason,
	lease_token,
	lease_expires_at,
	run_at,
	enqueued_at,
	started_at,
	finished_at,
	updated_at`

// The CTE picks one runnable job; the outer state guard makes a concurrent
// claim of the same row a no-op.
const claimJobQuery = `
WITH next_job AS (
	SELECT id
	FROM outreach_jobs
	WHERE state = ?
	  AND run_at <= ?
	ORDER BY run_at ASC, enqueued_at ASC, id ASC
	LIMIT 1
	%s
)
UPDATE outreach_jobs
SET state = ?,
	attempts = attempts + 1,
	lease_token = ?,
	lease_expires_at = ?,
	started_at = COALESCE(started_at, ?),
	updated_at = ?
WHERE id IN (SELECT id FROM next_job)
  AND state = ?
RETURNING` + jobColumns

// JobStore is the durable job queue backing. Every mutation of an active
// job is conditioned on its lease token.
type JobStore struct {
	db   *bun.DB
	repo repository.Repository[*jobRecord]
}

func NewJobStore(db *bun.DB) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*jobRecord](db, jobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid job repository wiring: %w", err)
		}
	}
	return &JobStore{db: db, repo: repo}, nil
}

func (s *JobStore) Create(ctx context.Context, job core.Job) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	job.ID = strings.TrimSpace(job.ID)
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if strings.TrimSpace(job.Type) == "" {
		return core.Job{}, fmt.Errorf("sqlstore: job type is required")
	}
	if !job.State.Valid() {
		job.State = core.JobStateQueued
	}
	now := time.Now().UTC()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	if job.RunAt.IsZero() {
		job.RunAt = job.EnqueuedAt
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	record := newJobRecord(job)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.Job{}, fmt.Errorf("sqlstore: %w: id %q", core.ErrJobExists, job.ID)
		}
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (s *JobStore) Get(ctx context.Context, id string) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	record := &jobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Job{}, fmt.Errorf("sqlstore: %w: id %q", core.ErrJobNotFound, id)
		}
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

// List returns the most recently enqueued jobs, optionally in one state.
func (s *JobStore) List(ctx context.Context, state core.JobState, limit int) ([]core.Job, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: job store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("enqueued_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if state != "" {
		selectors = append(selectors, repository.SelectBy("state", "=", string(state)))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	jobs := make([]core.Job, 0, len(records))
	for _, record := range records {
		jobs = append(jobs, record.toDomain())
	}
	return jobs, nil
}

// Claim leases the oldest runnable job to the caller.
func (s *JobStore) Claim(ctx context.Context, now time.Time, lease time.Duration) (core.JobClaim, bool, error) {
	if s == nil || s.db == nil {
		return core.JobClaim{}, false, fmt.Errorf("sqlstore: job store is not configured")
	}
	now = now.UTC()
	token := uuid.NewString()
	expires := now.Add(lease)

	locking := ""
	if s.db.Dialect().Name() == dialect.PG {
		locking = "FOR UPDATE SKIP LOCKED"
	}
	query := fmt.Sprintf(claimJobQuery, locking)

	var records []jobRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewRaw(
			query,
			string(core.JobStateQueued),
			now,
			string(core.JobStateActive),
			token,
			expires,
			now,
			now,
			string(core.JobStateQueued),
		).Scan(ctx, &records)
	})
	if err != nil {
		return core.JobClaim{}, false, err
	}
	if len(records) == 0 {
		return core.JobClaim{}, false, nil
	}
	job := records[0].toDomain()
	return core.JobClaim{Job: job, LeaseToken: token}, true, nil
}

func (s *JobStore) Complete(ctx context.Context, id string, leaseToken string, result map[string]any, now time.Time) error {
	encoded, err := encodeResult(result)
	if err != nil {
		return err
	}
	now = now.UTC()
	return s.updateLeased(ctx, id, leaseToken, true, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		q = q.Set("state = ?", string(core.JobStateCompleted)).
			Set("progress = 100").
			Set("failure_reason = ''").
			Set("finished_at = ?", now).
			Set("updated_at = ?", now)
		if encoded == "" {
			return q.Set("result = NULL")
		}
		return q.Set("result = ?", encoded)
	})
}

func (s *JobStore) Retry(ctx context.Context, id string, leaseToken string, reason string, runAt time.Time, now time.Time) error {
	return s.updateLeased(ctx, id, leaseToken, true, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("state = ?", string(core.JobStateQueued)).
			Set("failure_reason = ?", reason).
			Set("run_at = ?", runAt.UTC()).
			Set("updated_at = ?", now.UTC())
	})
}

func (s *JobStore) Fail(ctx context.Context, id string, leaseToken string, reason string, now time.Time) error {
	now = now.UTC()
	return s.updateLeased(ctx, id, leaseToken, true, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("state = ?", string(core.JobStateFailed)).
			Set("failure_reason = ?", reason).
			Set("finished_at = ?", now).
			Set("updated_at = ?", now)
	})
}

// Release hands a leased job back to the queue and returns its attempt.
func (s *JobStore) Release(ctx context.Context, id string, leaseToken string, now time.Time) error {
	now = now.UTC()
	return s.updateLeased(ctx, id, leaseToken, true, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("state = ?", string(core.JobStateQueued)).
			Set("attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END").
			Set("run_at = ?", now).
			Set("updated_at = ?", now)
	})
}

func (s *JobStore) UpdateProgress(ctx context.Context, id string, leaseToken string, progress int) error {
	progress = min(max(progress, 0), 100)
	return s.updateLeased(ctx, id, leaseToken, false, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("progress = ?", progress)
	})
}

func (s *JobStore) ExtendLease(ctx context.Context, id string, leaseToken string, until time.Time) error {
	until = until.UTC()
	return s.updateLeased(ctx, id, leaseToken, false, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("lease_expires_at = ?", until)
	})
}

// RequeueExpired recovers jobs whose lease ran out. Jobs with attempts left
// go back to the queue, the rest fail.
func (s *JobStore) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: job store is not configured")
	}
	now = now.UTC()
	total := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		failed, err := tx.NewUpdate().
			Model((*jobRecord)(nil)).
			Set("state = ?", string(core.JobStateFailed)).
			Set("failure_reason = ?", leaseExpiredReason).
			Set("finished_at = ?", now).
			Set("updated_at = ?", now).
			Set("lease_token = NULL").
			Set("lease_expires_at = NULL").
			Where("state = ?", string(core.JobStateActive)).
			Where("lease_expires_at <= ?", now).
			Where("attempts >= max_attempts").
			Exec(ctx)
		if err != nil {
			return err
		}
		requeued, err := tx.NewUpdate().
			Model((*jobRecord)(nil)).
			Set("state = ?", string(core.JobStateQueued)).
			Set("failure_reason = ?", leaseExpiredReason).
			Set("run_at = ?", now).
			Set("updated_at = ?", now).
			Set("lease_token = NULL").
			Set("lease_expires_at = NULL").
			Where("state = ?", string(core.JobStateActive)).
			Where("lease_expires_at <= ?", now).
			Where("attempts < max_attempts").
			Exec(ctx)
		if err != nil {
			return err
		}
		total = rowsAffected(failed) + rowsAffected(requeued)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Prune keeps the newest keep jobs in state, ordered by finish time.
func (s *JobStore) Prune(ctx context.Context, state core.JobState, keep int) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: job store is not configured")
	}
	if keep < 0 {
		return 0, nil
	}
	query := s.db.NewDelete().
		Model((*jobRecord)(nil)).
		Where("state = ?", string(state))
	if keep > 0 {
		newest := s.db.NewSelect().
			Model((*jobRecord)(nil)).
			Column("id").
			Where("state = ?", string(state)).
			OrderExpr("COALESCE(finished_at, updated_at) DESC").
			OrderExpr("id DESC").
			Limit(keep)
		query = query.Where("id NOT IN (?)", newest)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func (s *JobStore) updateLeased(
	ctx context.Context,
	id string,
	leaseToken string,
	clearLease bool,
	apply func(*bun.UpdateQuery) *bun.UpdateQuery,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	id = strings.TrimSpace(id)
	query := apply(s.db.NewUpdate().Model((*jobRecord)(nil)))
	if clearLease {
		query = query.Set("lease_token = NULL").Set("lease_expires_at = NULL")
	}
	res, err := query.
		Where("id = ?", id).
		Where("state = ?", string(core.JobStateActive)).
		Where("lease_token = ?", leaseToken).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rowsAffected(res) > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().
		Model((*jobRecord)(nil)).
		Where("?TableAlias.id = ?", id).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("sqlstore: %w: id %q", core.ErrJobNotFound, id)
	}
	return fmt.Errorf("sqlstore: %w: id %q", core.ErrLeaseLost, id)
}

func encodeResult(result map[string]any) (string, error) {
	if result == nil {
		return "", nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("sqlstore: encode job result: %w", err)
	}
	return string(encoded), nil
}

func rowsAffected(res sql.Result) int {
	if res == nil {
		return 0
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(rows)
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
