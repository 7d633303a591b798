// Package engine provides the ingestion job domain model and the components
// that drive it: the job runner, the retry scheduler, the dependency engine,
// and the schedule dispatcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ingestor-io/ingestor/internal/adapter"
)

// Sentinel errors for job lifecycle operations.
var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status transition would move a
	// job backward. Status advances PENDING → RUNNING → {SUCCESS, FAILED};
	// the only sanctioned backward write is the retry scheduler's reset.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobNotRetryable is returned when a retry is requested for a job that
	// is not FAILED or has exhausted its retry budget.
	ErrJobNotRetryable = errors.New("job is not retryable")
)

type (
	// Status is the durable lifecycle state of an ingestion job.
	Status string

	// Job is a durable unit of ingestion work. Rows are never deleted; history
	// is preserved across retries via parent_job_id chains.
	Job struct {
		ID           string
		Source       string
		Status       Status
		Config       adapter.Config
		CreatedAt    time.Time
		StartedAt    *time.Time
		CompletedAt  *time.Time
		RowsInserted *int64
		ErrorMessage string
		ErrorDetails map[string]any
		RetryCount   int
		MaxRetries   int
		NextRetryAt  *time.Time
		ParentJobID  string
	}

	// JobStore is the durable store for ingestion jobs. Implemented by the
	// storage package; the engine only sees this interface.
	JobStore interface {
		// Create persists a new job. The job's ID and CreatedAt must be set.
		Create(ctx context.Context, job *Job) error

		// Get returns the job by id or ErrJobNotFound.
		Get(ctx context.Context, id string) (*Job, error)

		// List returns jobs filtered by status and/or source (empty means any),
		// newest first, up to limit.
		List(ctx context.Context, status Status, source string, limit int) ([]*Job, error)

		// Reserve transitions PENDING → RUNNING and sets started_at. Returns
		// ErrInvalidTransition if the job is not PENDING, which is how two
		// workers racing on the same job are serialized.
		Reserve(ctx context.Context, id string, startedAt time.Time) error

		// Complete transitions RUNNING → SUCCESS and records rows_inserted.
		Complete(ctx context.Context, id string, rowsInserted int64, completedAt time.Time) error

		// Fail transitions RUNNING → FAILED recording the error and, for
		// retryable failures, the next retry time.
		Fail(ctx context.Context, id string, message string, details map[string]any, nextRetryAt *time.Time, completedAt time.Time) error

		// ResetForRetry is the retry scheduler's in-place reset: FAILED →
		// PENDING, clears timestamps and error fields, increments retry_count.
		// Returns ErrJobNotRetryable when the job is not FAILED or the retry
		// budget is exhausted.
		ResetForRetry(ctx context.Context, id string) error

		// DueRetries returns FAILED jobs with retry budget remaining whose
		// next_retry_at is null or has passed, oldest first.
		DueRetries(ctx context.Context, now time.Time, limit int) ([]*Job, error)

		// SetStatus transitions between the given statuses, guarded: the
		// update applies only when the job currently has the expected status.
		SetStatus(ctx context.Context, id string, from, to Status) error
	}
)

// Job lifecycle states.
const (
	// StatusPending marks a job awaiting execution.
	StatusPending Status = "PENDING"

	// StatusBlocked marks a chain step whose dependencies are unsatisfied.
	StatusBlocked Status = "BLOCKED"

	// StatusRunning marks a job currently executing.
	StatusRunning Status = "RUNNING"

	// StatusSuccess is a terminal state.
	StatusSuccess Status = "SUCCESS"

	// StatusFailed is terminal unless retry budget remains.
	StatusFailed Status = "FAILED"
)

// DefaultMaxRetries is the retry budget applied when a job declares none.
const DefaultMaxRetries = 3

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusBlocked, StatusRunning, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the job's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ValidateTransition checks that from → to moves the job forward.
//
// Valid transitions:
//   - BLOCKED → PENDING (dependency engine releases a chain step)
//   - PENDING → RUNNING
//   - RUNNING → {SUCCESS, FAILED}
//
// FAILED → PENDING is valid only through the retry scheduler's reset, which
// bypasses this check deliberately (and must increment retry_count).
func ValidateTransition(from, to Status) error {
	valid := map[Status][]Status{
		StatusBlocked: {StatusPending},
		StatusPending: {StatusRunning},
		StatusRunning: {StatusSuccess, StatusFailed},
	}

	for _, allowed := range valid[from] {
		if allowed == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

// Retryable reports whether the job may be retried: FAILED with budget left.
func (j *Job) Retryable() bool {
	return j.Status == StatusFailed && j.RetryCount < j.MaxRetries
}

// RetryDue reports whether the job is retryable and its retry time has come.
func (j *Job) RetryDue(now time.Time) bool {
	if !j.Retryable() {
		return false
	}

	return j.NextRetryAt == nil || !j.NextRetryAt.After(now)
}
