package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/engine"
)

// Sentinel errors for job storage operations.
var (
	// ErrJobStoreFailed is returned when a job storage operation fails.
	ErrJobStoreFailed = errors.New("job storage failed")

	// JobStore implements engine.JobStore.
	_ engine.JobStore = (*JobStore)(nil)
)

// JobStore implements engine.JobStore with a PostgreSQL backend.
//
// Status transitions are enforced in SQL: every update carries the expected
// current status in its WHERE clause, so two workers racing on the same job
// serialize on the row and the loser sees ErrInvalidTransition. Job rows are
// never deleted; retry history survives via parent_job_id chains.
type JobStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewJobStore creates a PostgreSQL-backed job store.
func NewJobStore(conn *Connection) (*JobStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &JobStore{conn: conn, logger: conn.logger}, nil
}

const jobColumns = `
	id, source, status, config, created_at, started_at, completed_at,
	rows_inserted, error_message, error_details, retry_count, max_retries,
	next_retry_at, parent_job_id
`

// Create implements engine.JobStore.
func (s *JobStore) Create(ctx context.Context, job *engine.Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("%w: marshal config: %w", ErrJobStoreFailed, err)
	}

	query := `
		INSERT INTO ingestion_jobs (
			id, source, status, config, created_at,
			retry_count, max_retries, parent_job_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
	`

	_, err = s.conn.ExecContext(ctx, query,
		job.ID, job.Source, string(job.Status), cfg, job.CreatedAt,
		job.RetryCount, job.MaxRetries, job.ParentJobID,
	)
	if err != nil {
		return fmt.Errorf("%w: insert job: %w", ErrJobStoreFailed, err)
	}

	return nil
}

// Get implements engine.JobStore.
func (s *JobStore) Get(ctx context.Context, id string) (*engine.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE id = $1`

	job, err := scanJob(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrJobNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: query job: %w", ErrJobStoreFailed, err)
	}

	return job, nil
}

// List implements engine.JobStore. Empty status or source matches any.
func (s *JobStore) List(ctx context.Context, status engine.Status, source string, limit int) ([]*engine.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM ingestion_jobs
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR source = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := s.conn.QueryContext(ctx, query, string(status), source, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %w", ErrJobStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*engine.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan job: %w", ErrJobStoreFailed, err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate jobs: %w", ErrJobStoreFailed, err)
	}

	return jobs, nil
}

// Reserve implements engine.JobStore. The guarded UPDATE is the worker
// election: only one caller moves the row out of PENDING.
func (s *JobStore) Reserve(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE ingestion_jobs
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`

	return s.guardedUpdate(ctx, id, query,
		string(engine.StatusRunning), startedAt, id, string(engine.StatusPending))
}

// Complete implements engine.JobStore.
func (s *JobStore) Complete(ctx context.Context, id string, rowsInserted int64, completedAt time.Time) error {
	query := `
		UPDATE ingestion_jobs
		SET status = $1, rows_inserted = $2, completed_at = $3,
		    error_message = NULL, error_details = NULL, next_retry_at = NULL
		WHERE id = $4 AND status = $5
	`

	return s.guardedUpdate(ctx, id, query,
		string(engine.StatusSuccess), rowsInserted, completedAt, id, string(engine.StatusRunning))
}

// Fail implements engine.JobStore.
func (s *JobStore) Fail(
	ctx context.Context,
	id string,
	message string,
	details map[string]any,
	nextRetryAt *time.Time,
	completedAt time.Time,
) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("%w: marshal error details: %w", ErrJobStoreFailed, err)
	}

	query := `
		UPDATE ingestion_jobs
		SET status = $1, error_message = $2, error_details = $3,
		    next_retry_at = $4, completed_at = $5
		WHERE id = $6 AND status = $7
	`

	return s.guardedUpdate(ctx, id, query,
		string(engine.StatusFailed), message, detailsJSON,
		nextRetryAt, completedAt, id, string(engine.StatusRunning))
}

// ResetForRetry implements engine.JobStore. The retry-budget check lives in
// the WHERE clause so reset and increment are one atomic statement.
func (s *JobStore) ResetForRetry(ctx context.Context, id string) error {
	query := `
		UPDATE ingestion_jobs
		SET status = $1, started_at = NULL, completed_at = NULL,
		    rows_inserted = NULL, error_message = NULL, error_details = NULL,
		    next_retry_at = NULL, retry_count = retry_count + 1
		WHERE id = $2 AND status = $3 AND retry_count < max_retries
	`

	result, err := s.conn.ExecContext(ctx, query,
		string(engine.StatusPending), id, string(engine.StatusFailed))
	if err != nil {
		return fmt.Errorf("%w: reset job: %w", ErrJobStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrJobStoreFailed, err)
	}

	if affected == 0 {
		// Distinguish a missing job from one that is not retryable.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}

		return fmt.Errorf("%w: %s", engine.ErrJobNotRetryable, id)
	}

	return nil
}

// DueRetries implements engine.JobStore.
func (s *JobStore) DueRetries(ctx context.Context, now time.Time, limit int) ([]*engine.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM ingestion_jobs
		WHERE status = $1
		  AND retry_count < max_retries
		  AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY completed_at ASC
		LIMIT $3
	`

	rows, err := s.conn.QueryContext(ctx, query, string(engine.StatusFailed), now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query due retries: %w", ErrJobStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*engine.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan job: %w", ErrJobStoreFailed, err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate due retries: %w", ErrJobStoreFailed, err)
	}

	return jobs, nil
}

// SetStatus implements engine.JobStore.
func (s *JobStore) SetStatus(ctx context.Context, id string, from, to engine.Status) error {
	if err := engine.ValidateTransition(from, to); err != nil {
		return err
	}

	query := `UPDATE ingestion_jobs SET status = $1 WHERE id = $2 AND status = $3`

	return s.guardedUpdate(ctx, id, query, string(to), id, string(from))
}

// guardedUpdate runs a status-guarded UPDATE and translates a zero-row result
// into ErrJobNotFound or ErrInvalidTransition.
func (s *JobStore) guardedUpdate(ctx context.Context, id, query string, args ...any) error {
	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update job: %w", ErrJobStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrJobStoreFailed, err)
	}

	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}

		return fmt.Errorf("%w: job %s", engine.ErrInvalidTransition, id)
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*engine.Job, error) {
	var (
		job          engine.Job
		status       string
		configJSON   []byte
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		rowsInserted sql.NullInt64
		errorMessage sql.NullString
		errorDetails []byte
		nextRetryAt  sql.NullTime
		parentJobID  sql.NullString
	)

	err := row.Scan(
		&job.ID, &job.Source, &status, &configJSON, &job.CreatedAt,
		&startedAt, &completedAt, &rowsInserted, &errorMessage, &errorDetails,
		&job.RetryCount, &job.MaxRetries, &nextRetryAt, &parentJobID,
	)
	if err != nil {
		return nil, err
	}

	job.Status = engine.Status(status)

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &job.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if job.Config == nil {
		job.Config = adapter.Config{}
	}

	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	if rowsInserted.Valid {
		job.RowsInserted = &rowsInserted.Int64
	}

	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}

	if len(errorDetails) > 0 {
		if err := json.Unmarshal(errorDetails, &job.ErrorDetails); err != nil {
			return nil, fmt.Errorf("unmarshal error details: %w", err)
		}
	}

	if nextRetryAt.Valid {
		job.NextRetryAt = &nextRetryAt.Time
	}

	if parentJobID.Valid {
		job.ParentJobID = parentJobID.String
	}

	return &job, nil
}
