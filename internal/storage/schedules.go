package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/engine"
)

// Sentinel errors for schedule storage operations.
var (
	// ErrScheduleStoreFailed is returned when a schedule storage operation fails.
	ErrScheduleStoreFailed = errors.New("schedule storage failed")

	// ErrScheduleAlreadyDispatched is returned when another process claimed
	// the schedule's current tick first.
	ErrScheduleAlreadyDispatched = errors.New("schedule already dispatched")

	// ScheduleStore implements engine.ScheduleStore.
	_ engine.ScheduleStore = (*ScheduleStore)(nil)
)

// ScheduleStore persists ingestion schedules. MarkDispatched is guarded on
// next_run_at so concurrent dispatcher processes cannot double-fire a tick.
type ScheduleStore struct {
	conn *Connection
}

// NewScheduleStore creates a PostgreSQL-backed schedule store.
func NewScheduleStore(conn *Connection) (*ScheduleStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ScheduleStore{conn: conn}, nil
}

const scheduleColumns = `
	id, source, config, frequency, interval_seconds, at_hour, at_day,
	enabled, last_run_at, last_job_id, next_run_at, created_at
`

// CreateSchedule implements engine.ScheduleStore.
func (s *ScheduleStore) CreateSchedule(ctx context.Context, schedule *engine.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	cfg, err := json.Marshal(schedule.Config)
	if err != nil {
		return fmt.Errorf("%w: marshal config: %w", ErrScheduleStoreFailed, err)
	}

	var interval sql.NullInt64
	if schedule.Frequency == engine.FrequencyCustom {
		interval = sql.NullInt64{Int64: int64(schedule.Interval.Seconds()), Valid: true}
	}

	query := `
		INSERT INTO ingestion_schedules (
			id, source, config, frequency, interval_seconds, at_hour, at_day,
			enabled, next_run_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.conn.ExecContext(ctx, query,
		schedule.ID, schedule.Source, cfg,
		string(schedule.Frequency), interval, schedule.AtHour, schedule.AtDay,
		schedule.Enabled, schedule.NextRunAt, schedule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert schedule: %w", ErrScheduleStoreFailed, err)
	}

	return nil
}

// GetSchedule implements engine.ScheduleStore.
func (s *ScheduleStore) GetSchedule(ctx context.Context, id string) (*engine.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM ingestion_schedules WHERE id = $1`

	schedule, err := scanSchedule(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrScheduleNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: query schedule: %w", ErrScheduleStoreFailed, err)
	}

	return schedule, nil
}

// ListSchedules implements engine.ScheduleStore.
func (s *ScheduleStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]*engine.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM ingestion_schedules
		WHERE (NOT $1 OR enabled)
		ORDER BY source, id
	`

	rows, err := s.conn.QueryContext(ctx, query, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: list schedules: %w", ErrScheduleStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return collectSchedules(rows)
}

// SetScheduleEnabled implements engine.ScheduleStore.
func (s *ScheduleStore) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE ingestion_schedules SET enabled = $1 WHERE id = $2`, enabled, id,
	)
	if err != nil {
		return fmt.Errorf("%w: update schedule: %w", ErrScheduleStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrScheduleStoreFailed, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", engine.ErrScheduleNotFound, id)
	}

	return nil
}

// DueSchedules implements engine.ScheduleStore.
func (s *ScheduleStore) DueSchedules(ctx context.Context, now time.Time, limit int) ([]*engine.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM ingestion_schedules
		WHERE enabled AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
	`

	rows, err := s.conn.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query due schedules: %w", ErrScheduleStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return collectSchedules(rows)
}

// MarkDispatched implements engine.ScheduleStore. The WHERE clause pins the
// previous next_run_at implicitly by requiring it to still be due, so two
// dispatchers racing on the same tick serialize on the row.
func (s *ScheduleStore) MarkDispatched(ctx context.Context, id string, ranAt, nextRunAt time.Time, jobID string) error {
	query := `
		UPDATE ingestion_schedules
		SET last_run_at = $1, next_run_at = $2, last_job_id = $3
		WHERE id = $4 AND enabled AND next_run_at <= $1
	`

	result, err := s.conn.ExecContext(ctx, query, ranAt, nextRunAt, jobID, id)
	if err != nil {
		return fmt.Errorf("%w: mark dispatched: %w", ErrScheduleStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrScheduleStoreFailed, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleAlreadyDispatched, id)
	}

	return nil
}

func collectSchedules(rows *sql.Rows) ([]*engine.Schedule, error) {
	var schedules []*engine.Schedule

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan schedule: %w", ErrScheduleStoreFailed, err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate schedules: %w", ErrScheduleStoreFailed, err)
	}

	return schedules, nil
}

func scanSchedule(row rowScanner) (*engine.Schedule, error) {
	var (
		schedule        engine.Schedule
		cfg             []byte
		frequency       string
		intervalSeconds sql.NullInt64
		lastRunAt       sql.NullTime
		lastJobID       sql.NullString
	)

	err := row.Scan(
		&schedule.ID, &schedule.Source, &cfg, &frequency, &intervalSeconds,
		&schedule.AtHour, &schedule.AtDay,
		&schedule.Enabled, &lastRunAt, &lastJobID,
		&schedule.NextRunAt, &schedule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &schedule.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if schedule.Config == nil {
		schedule.Config = adapter.Config{}
	}

	schedule.Frequency = engine.Frequency(frequency)

	if intervalSeconds.Valid {
		schedule.Interval = time.Duration(intervalSeconds.Int64) * time.Second
	}

	if lastRunAt.Valid {
		schedule.LastRunAt = &lastRunAt.Time
	}

	schedule.LastJobID = lastJobID.String

	return &schedule, nil
}
