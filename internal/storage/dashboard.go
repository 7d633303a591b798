package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SourceStats aggregates job outcomes for one source inside a time window.
type SourceStats struct {
	Source        string     `json:"source"`
	Total         int64      `json:"total"`
	Succeeded     int64      `json:"succeeded"`
	Failed        int64      `json:"failed"`
	Running       int64      `json:"running"`
	Pending       int64      `json:"pending"`
	RowsInserted  int64      `json:"rows_inserted"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// SourceStats returns per-source aggregates over jobs created since the
// given time, busiest sources first. Feeds the monitoring dashboard.
func (s *JobStore) SourceStats(ctx context.Context, since time.Time) ([]SourceStats, error) {
	query := `
		SELECT
			source,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'SUCCESS'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE status = 'RUNNING'),
			COUNT(*) FILTER (WHERE status IN ('PENDING', 'BLOCKED')),
			COALESCE(SUM(rows_inserted), 0),
			MAX(completed_at) FILTER (WHERE status = 'SUCCESS')
		FROM ingestion_jobs
		WHERE created_at >= $1
		GROUP BY source
		ORDER BY COUNT(*) DESC
	`

	rows, err := s.conn.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("%w: query source stats: %w", ErrJobStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SourceStats

	for rows.Next() {
		var (
			st          SourceStats
			lastSuccess sql.NullTime
		)

		err := rows.Scan(&st.Source, &st.Total, &st.Succeeded, &st.Failed,
			&st.Running, &st.Pending, &st.RowsInserted, &lastSuccess)
		if err != nil {
			return nil, fmt.Errorf("%w: scan source stats: %w", ErrJobStoreFailed, err)
		}

		if lastSuccess.Valid {
			at := lastSuccess.Time
			st.LastSuccessAt = &at
		}

		stats = append(stats, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate source stats: %w", ErrJobStoreFailed, err)
	}

	return stats, nil
}
