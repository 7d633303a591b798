package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ingestor-io/ingestor/internal/adapter"
)

var (
	// ErrScheduleNotFound is returned when a schedule id does not exist.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrInvalidSchedule is returned when a schedule's frequency fields do
	// not make sense together.
	ErrInvalidSchedule = errors.New("invalid schedule")
)

const defaultDispatchBatchLimit = 50

// Frequency names how often a schedule fires. CUSTOM schedules carry an
// explicit interval; the calendar frequencies fire at AtHour (and AtDay for
// WEEKLY/MONTHLY), all in UTC.
type Frequency string

const (
	FrequencyHourly  Frequency = "HOURLY"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	}

	return false
}

type (
	// Schedule triggers recurring ingestion for a source. AtDay is a weekday
	// (0 = Sunday) for WEEKLY and a day of month (1-31, clamped to the
	// month's length) for MONTHLY.
	Schedule struct {
		ID        string
		Source    string
		Config    adapter.Config
		Frequency Frequency
		Interval  time.Duration // CUSTOM only
		AtHour    int
		AtDay     int
		Enabled   bool
		LastRunAt *time.Time
		LastJobID string
		NextRunAt time.Time
		CreatedAt time.Time
	}

	// ScheduleStore persists ingestion schedules. Implemented by the storage
	// package.
	ScheduleStore interface {
		CreateSchedule(ctx context.Context, schedule *Schedule) error
		GetSchedule(ctx context.Context, id string) (*Schedule, error)
		ListSchedules(ctx context.Context, enabledOnly bool) ([]*Schedule, error)
		SetScheduleEnabled(ctx context.Context, id string, enabled bool) error

		// DueSchedules returns enabled schedules whose next_run_at has passed,
		// oldest first.
		DueSchedules(ctx context.Context, now time.Time, limit int) ([]*Schedule, error)

		// MarkDispatched records a dispatch: last_run_at = ranAt,
		// next_run_at = nextRunAt, last_job_id = jobID.
		MarkDispatched(ctx context.Context, id string, ranAt, nextRunAt time.Time, jobID string) error
	}

	// Dispatcher turns due schedules into PENDING jobs. One dispatcher loop
	// per process; the guarded MarkDispatched update keeps multiple processes
	// from double-dispatching the same tick.
	Dispatcher struct {
		schedules ScheduleStore
		jobs      JobStore
		run       func(ctx context.Context, jobID string)
		logger    *slog.Logger
		limit     int
	}
)

// Validate checks that the frequency fields make sense together.
func (s *Schedule) Validate() error {
	if !s.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, s.Frequency)
	}

	if s.Frequency == FrequencyCustom && s.Interval <= 0 {
		return fmt.Errorf("%w: CUSTOM frequency requires a positive interval", ErrInvalidSchedule)
	}

	if s.AtHour < 0 || s.AtHour > 23 {
		return fmt.Errorf("%w: at_hour %d out of range", ErrInvalidSchedule, s.AtHour)
	}

	switch s.Frequency {
	case FrequencyWeekly:
		if s.AtDay < 0 || s.AtDay > 6 {
			return fmt.Errorf("%w: WEEKLY at_day %d out of range", ErrInvalidSchedule, s.AtDay)
		}
	case FrequencyMonthly:
		if s.AtDay < 1 || s.AtDay > 31 {
			return fmt.Errorf("%w: MONTHLY at_day %d out of range", ErrInvalidSchedule, s.AtDay)
		}
	}

	return nil
}

// NextRun computes the run after ranAt. Calendar frequencies snap to the
// schedule's hour/day in UTC; CUSTOM intervals count from the actual
// dispatch time, not the scheduled time, so a stalled dispatcher does not
// burst-fire missed ticks on recovery.
func (s *Schedule) NextRun(ranAt time.Time) time.Time {
	ranAt = ranAt.UTC()

	switch s.Frequency {
	case FrequencyHourly:
		return ranAt.Truncate(time.Hour).Add(time.Hour)
	case FrequencyDaily:
		next := time.Date(ranAt.Year(), ranAt.Month(), ranAt.Day(), s.AtHour, 0, 0, 0, time.UTC)
		if !next.After(ranAt) {
			next = next.AddDate(0, 0, 1)
		}

		return next
	case FrequencyWeekly:
		next := time.Date(ranAt.Year(), ranAt.Month(), ranAt.Day(), s.AtHour, 0, 0, 0, time.UTC)
		next = next.AddDate(0, 0, (s.AtDay-int(next.Weekday())+7)%7)

		if !next.After(ranAt) {
			next = next.AddDate(0, 0, 7)
		}

		return next
	case FrequencyMonthly:
		next := monthlyOccurrence(ranAt.Year(), ranAt.Month(), s.AtDay, s.AtHour)
		if !next.After(ranAt) {
			next = monthlyOccurrence(ranAt.Year(), ranAt.Month()+1, s.AtDay, s.AtHour)
		}

		return next
	default:
		return ranAt.Add(s.Interval)
	}
}

// monthlyOccurrence clamps the day to the month's length, so a day-31
// schedule fires on the last day of shorter months instead of drifting into
// the next month.
func monthlyOccurrence(year int, month time.Month, day, hour int) time.Time {
	if last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day(); day > last {
		day = last
	}

	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

// NewDispatcher creates a schedule dispatcher. run is invoked for every
// dispatched job; nil leaves jobs PENDING for an external worker.
func NewDispatcher(schedules ScheduleStore, jobs JobStore, run func(ctx context.Context, jobID string), logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		schedules: schedules,
		jobs:      jobs,
		run:       run,
		logger:    logger,
		limit:     defaultDispatchBatchLimit,
	}
}

// Dispatch creates one PENDING job per due schedule and advances each
// schedule's next_run_at. Returns the number of jobs created.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	due, err := d.schedules.DueSchedules(ctx, now, d.limit)
	if err != nil {
		return 0, err
	}

	dispatched := 0

	for _, schedule := range due {
		jobID := uuid.NewString()

		if err := d.schedules.MarkDispatched(ctx, schedule.ID, now, schedule.NextRun(now), jobID); err != nil {
			// Another process claimed this tick.
			d.logger.Debug("schedule already dispatched",
				slog.String("schedule_id", schedule.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		job := &Job{
			ID:         jobID,
			Source:     schedule.Source,
			Status:     StatusPending,
			Config:     schedule.Config,
			CreatedAt:  now,
			MaxRetries: DefaultMaxRetries,
		}

		if err := d.jobs.Create(ctx, job); err != nil {
			d.logger.Error("failed to create scheduled job",
				slog.String("schedule_id", schedule.ID),
				slog.String("source", schedule.Source),
				slog.String("error", err.Error()),
			)

			continue
		}

		dispatched++

		d.logger.Info("dispatched scheduled job",
			slog.String("schedule_id", schedule.ID),
			slog.String("job_id", job.ID),
			slog.String("source", schedule.Source),
		)

		if d.run != nil {
			d.run(ctx, job.ID)
		}
	}

	return dispatched, nil
}

// Loop runs Dispatch on the given interval until the context is cancelled.
func (d *Dispatcher) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("schedule dispatcher stopping")

			return
		case <-ticker.C:
			if _, err := d.Dispatch(ctx); err != nil {
				d.logger.Error("schedule dispatch failed", slog.String("error", err.Error()))
			}
		}
	}
}
