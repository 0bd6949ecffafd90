// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a queued migration job.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is one durable queue entry: a single primitive change for a single form.
// Jobs within a form execute strictly in Seq order.
type Job struct {
	ID          string          `json:"id"`
	FormID      string          `json:"formId"`
	Seq         int64           `json:"seq"`
	Change      json.RawMessage `json:"change"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	NextRunAt   time.Time       `json:"nextRunAt"`
	LastError   *string         `json:"lastError"`
	EnqueuedBy  string          `json:"enqueuedBy"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type JobNotFoundError struct {
	ID string
}

func (e JobNotFoundError) Error() string {
	return fmt.Sprintf("job %q not found", e.ID)
}

// QueueCounts is the per-status breakdown reported by queue status queries.
// Delayed counts waiting jobs whose next run time is still in the future.
type QueueCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// EnqueueJob appends a job to a form's queue. The write is durable before the
// call returns; the in-process runner is woken separately.
func (s *State) EnqueueJob(ctx context.Context, job *Job) (string, error) {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}

	err := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s
			(id, form_id, change, status, max_attempts, next_run_at, enqueued_by)
			VALUES ($1, $2, $3, 'waiting', $4, $5, $6)
			RETURNING seq, created_at`,
			s.tableName("migration_jobs")),
		job.ID, job.FormID, []byte(job.Change), job.MaxAttempts, s.now(), job.EnqueuedBy).
		Scan(&job.Seq, &job.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("unable to enqueue job: %w", err)
	}

	job.Status = JobWaiting
	return job.ID, nil
}

// ClaimNextJob atomically marks the earliest due waiting job for a form as
// active and returns it. It returns nil when the form has no due job or
// already has an active one: at most one job per form runs at any time.
func (s *State) ClaimNextJob(ctx context.Context, formID string) (*Job, error) {
	row := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %[1]s SET status = 'active', updated_at = $2
			WHERE id = (
				SELECT id FROM %[1]s
				WHERE form_id = $1 AND status = 'waiting' AND next_run_at <= $2
				ORDER BY seq
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			AND NOT EXISTS (
				SELECT 1 FROM %[1]s WHERE form_id = $1 AND status = 'active'
			)
			RETURNING id, form_id, seq, change, status, attempts, max_attempts,
				next_run_at, last_error, enqueued_by, created_at`,
			s.tableName("migration_jobs")),
		formID, s.now())

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// CompleteJob marks an active job completed.
func (s *State) CompleteJob(ctx context.Context, jobID string) error {
	_, err := s.pgConn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'completed', attempts = attempts + 1,
			last_error = NULL, updated_at = $2 WHERE id = $1`,
			s.tableName("migration_jobs")),
		jobID, s.now())
	return err
}

// RetryJob counts a failed attempt and returns the job to the waiting state,
// due again after the given delay.
func (s *State) RetryJob(ctx context.Context, jobID string, jobErr error, delay time.Duration) error {
	now := s.now()
	_, err := s.pgConn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'waiting', attempts = attempts + 1,
			last_error = $2, next_run_at = $3, updated_at = $4 WHERE id = $1`,
			s.tableName("migration_jobs")),
		jobID, jobErr.Error(), now.Add(delay), now)
	return err
}

// FailJob marks a job terminally failed.
func (s *State) FailJob(ctx context.Context, jobID string, jobErr error) error {
	_, err := s.pgConn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'failed', attempts = attempts + 1,
			last_error = $2, updated_at = $3 WHERE id = $1`,
			s.tableName("migration_jobs")),
		jobID, jobErr.Error(), s.now())
	return err
}

// CancelWaitingJob cancels a job that has not started. Active jobs cannot be
// cancelled: their transaction commits or rolls back on its own.
func (s *State) CancelWaitingJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.pgConn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'cancelled', updated_at = $2
			WHERE id = $1 AND status = 'waiting'`,
			s.tableName("migration_jobs")),
		jobID, s.now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetJob returns a job by id.
func (s *State) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, form_id, seq, change, status, attempts,
			max_attempts, next_run_at, last_error, enqueued_by, created_at
			FROM %s WHERE id = $1`,
			s.tableName("migration_jobs")),
		jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, JobNotFoundError{ID: jobID}
	}
	return job, err
}

// QueuePosition returns the number of waiting jobs ahead of the given job in
// its form's queue.
func (s *State) QueuePosition(ctx context.Context, job *Job) (int, error) {
	var n int
	err := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s
			WHERE form_id = $1 AND status IN ('waiting', 'active') AND seq < $2`,
			s.tableName("migration_jobs")),
		job.FormID, job.Seq).Scan(&n)
	return n, err
}

// Counts returns the queue status breakdown, optionally filtered to one form.
func (s *State) Counts(ctx context.Context, formID string) (*QueueCounts, error) {
	where := ""
	args := []any{s.now()}
	if formID != "" {
		where = "WHERE form_id = $2"
		args = append(args, formID)
	}

	var c QueueCounts
	err := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT
			count(*) FILTER (WHERE status = 'waiting'),
			count(*) FILTER (WHERE status = 'active'),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'waiting' AND next_run_at > $1)
			FROM %s %s`,
			s.tableName("migration_jobs"), where),
		args...).Scan(&c.Waiting, &c.Active, &c.Completed, &c.Failed, &c.Delayed)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ActiveJob returns the form's currently active job, or nil.
func (s *State) ActiveJob(ctx context.Context, formID string) (*Job, error) {
	row := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, form_id, seq, change, status, attempts,
			max_attempts, next_run_at, last_error, enqueued_by, created_at
			FROM %s WHERE form_id = $1 AND status = 'active'`,
			s.tableName("migration_jobs")),
		formID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// FormsWithDueJobs returns the distinct form ids that have a waiting job that
// is due to run.
func (s *State) FormsWithDueJobs(ctx context.Context) ([]string, error) {
	rows, err := s.pgConn.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT form_id FROM %s
			WHERE status = 'waiting' AND next_run_at <= $1`,
			s.tableName("migration_jobs")),
		s.now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forms []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

// RequeueOrphanedActive returns active jobs to waiting. Called once on runner
// start-up: an active row without a live worker means the previous process
// died mid-job; its transaction already rolled back.
func (s *State) RequeueOrphanedActive(ctx context.Context) (int64, error) {
	res, err := s.pgConn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'waiting', updated_at = $1
			WHERE status = 'active'`,
			s.tableName("migration_jobs")),
		s.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DrainCompleted deletes completed jobs older than the cutoff.
func (s *State) DrainCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.drain(ctx, JobCompleted, olderThan)
}

// DrainFailed deletes failed jobs older than the cutoff.
func (s *State) DrainFailed(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.drain(ctx, JobFailed, olderThan)
}

func (s *State) drain(ctx context.Context, status JobStatus, olderThan time.Time) (int64, error) {
	res, err := s.pgConn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE status = $1 AND updated_at < $2",
			s.tableName("migration_jobs")),
		string(status), olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var status string
	var change []byte

	err := row.Scan(&j.ID, &j.FormID, &j.Seq, &change, &status, &j.Attempts,
		&j.MaxAttempts, &j.NextRunAt, &j.LastError, &j.EnqueuedBy, &j.CreatedAt)
	if err != nil {
		return nil, err
	}

	j.Status = JobStatus(status)
	j.Change = change
	return &j, nil
}
