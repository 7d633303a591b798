package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Retry policy defaults: 5 min base, doubling, 24 h cap, 1 min floor,
// ±25% jitter.
const (
	defaultRetryBase       = 5 * time.Minute
	defaultRetryMultiplier = 2.0
	defaultRetryMaxDelay   = 24 * time.Hour
	minRetryDelay          = 1 * time.Minute
	retryJitterFraction    = 0.25
	defaultRetryBatchLimit = 50
)

type (
	// RetryPolicy computes the delay before a job's next attempt.
	RetryPolicy struct {
		Base       time.Duration
		Multiplier float64
		MaxDelay   time.Duration
	}

	// Scheduler finds failed-retryable jobs and requeues them. Two modes are
	// exposed and callers pick per call site:
	//
	//   - MarkForRetry resets the same job row in place (the API retry
	//     endpoint and the background loop use this);
	//   - CreateRetryJob clones the job into a child row with parent_job_id
	//     set, preserving the failed row untouched (chains use this).
	Scheduler struct {
		jobs   JobStore
		run    func(ctx context.Context, jobID string)
		policy RetryPolicy
		logger *slog.Logger
		limit  int
	}

	// SchedulerOption configures optional Scheduler behavior.
	SchedulerOption func(*Scheduler)
)

// DefaultRetryPolicy returns the standard backoff policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:       defaultRetryBase,
		Multiplier: defaultRetryMultiplier,
		MaxDelay:   defaultRetryMaxDelay,
	}
}

// Delay computes min(base × multiplier^retryCount, maxDelay) with ±25%
// jitter, floored at one minute.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	delay := float64(p.Base)
	for i := 0; i < retryCount; i++ {
		delay *= p.Multiplier
	}

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	jitter := 1 + retryJitterFraction*(2*rand.Float64()-1) //nolint:gosec // jitter, not crypto
	jittered := time.Duration(delay * jitter)

	if jittered < minRetryDelay {
		return minRetryDelay
	}

	return jittered
}

// WithSchedulerPolicy overrides the backoff policy.
func WithSchedulerPolicy(p RetryPolicy) SchedulerOption {
	return func(s *Scheduler) { s.policy = p }
}

// WithSchedulerBatchLimit caps how many due jobs one sweep requeues.
func WithSchedulerBatchLimit(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.limit = n
		}
	}
}

// NewScheduler creates a retry scheduler. run is invoked for every requeued
// job (typically Runner.Run in a goroutine); nil leaves requeued jobs PENDING
// for an external dispatcher.
func NewScheduler(jobs JobStore, run func(ctx context.Context, jobID string), logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		jobs:   jobs,
		run:    run,
		policy: DefaultRetryPolicy(),
		logger: logger,
		limit:  defaultRetryBatchLimit,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// MarkForRetry resets a FAILED job in place: status back to PENDING,
// timestamps and error fields cleared, retry_count incremented. This is the
// only sanctioned backward status transition in the system.
func (s *Scheduler) MarkForRetry(ctx context.Context, jobID string) error {
	if err := s.jobs.ResetForRetry(ctx, jobID); err != nil {
		return err
	}

	s.logger.Info("job marked for retry", slog.String("job_id", jobID))

	return nil
}

// CreateRetryJob clones a FAILED job into a fresh PENDING child row with
// parent_job_id set and retry_count = parent.retry_count + 1. The failed row
// is left untouched, preserving its error record.
func (s *Scheduler) CreateRetryJob(ctx context.Context, jobID string) (*Job, error) {
	parent, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !parent.Retryable() {
		return nil, fmt.Errorf("%w: job %s status=%s retry_count=%d/%d",
			ErrJobNotRetryable, jobID, parent.Status, parent.RetryCount, parent.MaxRetries)
	}

	child := &Job{
		ID:          uuid.NewString(),
		Source:      parent.Source,
		Status:      StatusPending,
		Config:      parent.Config,
		CreatedAt:   time.Now().UTC(),
		RetryCount:  parent.RetryCount + 1,
		MaxRetries:  parent.MaxRetries,
		ParentJobID: parent.ID,
	}

	if err := s.jobs.Create(ctx, child); err != nil {
		return nil, err
	}

	s.logger.Info("created retry job",
		slog.String("job_id", child.ID),
		slog.String("parent_job_id", parent.ID),
		slog.Int("retry_count", child.RetryCount),
	)

	return child, nil
}

// Sweep requeues every due FAILED job once, oldest first, and hands each to
// the run callback. Returns the number of jobs requeued.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	due, err := s.jobs.DueRetries(ctx, time.Now().UTC(), s.limit)
	if err != nil {
		return 0, err
	}

	requeued := 0

	for _, job := range due {
		if err := s.MarkForRetry(ctx, job.ID); err != nil {
			s.logger.Warn("failed to requeue job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		requeued++

		if s.run != nil {
			s.run(ctx, job.ID)
		}
	}

	return requeued, nil
}

// Loop runs Sweep on the given interval until the context is cancelled.
func (s *Scheduler) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")

			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Error("retry sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.Info("retry sweep requeued jobs", slog.Int("count", n))
			}
		}
	}
}
