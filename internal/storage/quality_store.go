package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ingestor-io/ingestor/internal/quality"
)

// Sentinel errors for quality storage.
var (
	// ErrQualityStoreFailed is returned when a quality storage operation fails.
	ErrQualityStoreFailed = errors.New("quality storage failed")

	// QualityStore implements quality.Store.
	_ quality.Store = (*QualityStore)(nil)
)

// QualityStore persists profile snapshots, rules, results, alerts, and
// composite scores.
type QualityStore struct {
	conn *Connection
}

// NewQualityStore creates a PostgreSQL-backed quality store.
func NewQualityStore(conn *Connection) (*QualityStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &QualityStore{conn: conn}, nil
}

// SaveSnapshot implements quality.Store. Snapshots are immutable; the column
// profiles travel as one JSON document.
func (s *QualityStore) SaveSnapshot(ctx context.Context, snapshot *quality.Snapshot) error {
	columns, err := json.Marshal(snapshot.Columns)
	if err != nil {
		return fmt.Errorf("%w: marshal column profiles: %w", ErrQualityStoreFailed, err)
	}

	query := `
		INSERT INTO profile_snapshots (id, table_name, row_count, sampled, columns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = s.conn.ExecContext(ctx, query,
		snapshot.ID, snapshot.TableName, snapshot.RowCount,
		snapshot.Sampled, columns, snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert snapshot for %s: %w", ErrQualityStoreFailed, snapshot.TableName, err)
	}

	return nil
}

// RecentSnapshots implements quality.Store.
func (s *QualityStore) RecentSnapshots(ctx context.Context, tableName string, limit int) ([]*quality.Snapshot, error) {
	query := `
		SELECT id, table_name, row_count, sampled, columns, created_at
		FROM profile_snapshots
		WHERE table_name = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.conn.QueryContext(ctx, query, tableName, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query snapshots for %s: %w", ErrQualityStoreFailed, tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []*quality.Snapshot

	for rows.Next() {
		var (
			snapshot quality.Snapshot
			columns  []byte
		)

		err := rows.Scan(&snapshot.ID, &snapshot.TableName, &snapshot.RowCount,
			&snapshot.Sampled, &columns, &snapshot.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan snapshot: %w", ErrQualityStoreFailed, err)
		}

		if err := json.Unmarshal(columns, &snapshot.Columns); err != nil {
			return nil, fmt.Errorf("%w: unmarshal column profiles: %w", ErrQualityStoreFailed, err)
		}

		snapshots = append(snapshots, &snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate snapshots: %w", ErrQualityStoreFailed, err)
	}

	return snapshots, nil
}

// SaveRule implements quality.Store. Re-saving a rule id updates it in place
// so operators can toggle or retune rules.
func (s *QualityStore) SaveRule(ctx context.Context, rule *quality.Rule) error {
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return fmt.Errorf("%w: marshal rule params: %w", ErrQualityStoreFailed, err)
	}

	query := `
		INSERT INTO quality_rules (
			id, table_name, column_name, rule_type, params, severity,
			enabled, seeded, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			params = EXCLUDED.params,
			severity = EXCLUDED.severity,
			enabled = EXCLUDED.enabled
	`

	_, err = s.conn.ExecContext(ctx, query,
		rule.ID, rule.TableName, rule.Column, string(rule.Type), params,
		string(rule.Severity), rule.Enabled, rule.Seeded, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert rule %s: %w", ErrQualityStoreFailed, rule.ID, err)
	}

	return nil
}

// ListRules implements quality.Store.
func (s *QualityStore) ListRules(ctx context.Context, tableName string, enabledOnly bool) ([]*quality.Rule, error) {
	query := `
		SELECT id, table_name, column_name, rule_type, params, severity,
		       enabled, seeded, created_at
		FROM quality_rules
		WHERE table_name = $1 AND (NOT $2 OR enabled)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, tableName, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: query rules for %s: %w", ErrQualityStoreFailed, tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var rules []*quality.Rule

	for rows.Next() {
		var (
			rule     quality.Rule
			ruleType string
			severity string
			params   []byte
		)

		err := rows.Scan(&rule.ID, &rule.TableName, &rule.Column, &ruleType,
			&params, &severity, &rule.Enabled, &rule.Seeded, &rule.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan rule: %w", ErrQualityStoreFailed, err)
		}

		rule.Type = quality.RuleType(ruleType)
		rule.Severity = quality.Severity(severity)

		if len(params) > 0 {
			if err := json.Unmarshal(params, &rule.Params); err != nil {
				return nil, fmt.Errorf("%w: unmarshal rule params: %w", ErrQualityStoreFailed, err)
			}
		}

		rules = append(rules, &rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rules: %w", ErrQualityStoreFailed, err)
	}

	return rules, nil
}

// SaveResult implements quality.Store.
func (s *QualityStore) SaveResult(ctx context.Context, result *quality.Result) error {
	details, err := json.Marshal(result.Details)
	if err != nil {
		return fmt.Errorf("%w: marshal result details: %w", ErrQualityStoreFailed, err)
	}

	query := `
		INSERT INTO quality_results (rule_id, table_name, passed, details, evaluated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.conn.ExecContext(ctx, query,
		result.RuleID, result.TableName, result.Passed, details, result.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert result for rule %s: %w", ErrQualityStoreFailed, result.RuleID, err)
	}

	return nil
}

// RecentResults implements quality.Store.
func (s *QualityStore) RecentResults(ctx context.Context, tableName string, limit int) ([]*quality.Result, error) {
	query := `
		SELECT rule_id, table_name, passed, details, evaluated_at
		FROM quality_results
		WHERE table_name = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`

	rows, err := s.conn.QueryContext(ctx, query, tableName, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query results for %s: %w", ErrQualityStoreFailed, tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var results []*quality.Result

	for rows.Next() {
		var (
			result  quality.Result
			details []byte
		)

		err := rows.Scan(&result.RuleID, &result.TableName, &result.Passed,
			&details, &result.EvaluatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan result: %w", ErrQualityStoreFailed, err)
		}

		if len(details) > 0 {
			if err := json.Unmarshal(details, &result.Details); err != nil {
				return nil, fmt.Errorf("%w: unmarshal result details: %w", ErrQualityStoreFailed, err)
			}
		}

		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate results: %w", ErrQualityStoreFailed, err)
	}

	return results, nil
}

// SaveAlert implements quality.Store.
func (s *QualityStore) SaveAlert(ctx context.Context, alert *quality.Alert) error {
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("%w: marshal alert details: %w", ErrQualityStoreFailed, err)
	}

	query := `
		INSERT INTO anomaly_alerts (id, table_name, column_name, alert_type, status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.conn.ExecContext(ctx, query,
		alert.ID, alert.TableName, alert.Column, alert.Type,
		string(alert.Status), details, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert alert for %s: %w", ErrQualityStoreFailed, alert.TableName, err)
	}

	return nil
}

// OpenAlerts implements quality.Store. An empty tableName returns open
// alerts across every table.
func (s *QualityStore) OpenAlerts(ctx context.Context, tableName string) ([]*quality.Alert, error) {
	query := `
		SELECT id, table_name, column_name, alert_type, status, details, created_at
		FROM anomaly_alerts
		WHERE status = 'open' AND ($1 = '' OR table_name = $1)
		ORDER BY created_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, fmt.Errorf("%w: query open alerts: %w", ErrQualityStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*quality.Alert

	for rows.Next() {
		var (
			alert   quality.Alert
			status  string
			details []byte
		)

		err := rows.Scan(&alert.ID, &alert.TableName, &alert.Column,
			&alert.Type, &status, &details, &alert.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan alert: %w", ErrQualityStoreFailed, err)
		}

		alert.Status = quality.AlertStatus(status)

		if len(details) > 0 {
			if err := json.Unmarshal(details, &alert.Details); err != nil {
				return nil, fmt.Errorf("%w: unmarshal alert details: %w", ErrQualityStoreFailed, err)
			}
		}

		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate alerts: %w", ErrQualityStoreFailed, err)
	}

	return alerts, nil
}

// SetAlertStatus implements quality.Store.
func (s *QualityStore) SetAlertStatus(ctx context.Context, id string, status quality.AlertStatus) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE anomaly_alerts SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("%w: update alert %s: %w", ErrQualityStoreFailed, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrQualityStoreFailed, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: alert %s", quality.ErrAlertNotFound, id)
	}

	return nil
}

// SaveScore implements quality.Store.
func (s *QualityStore) SaveScore(ctx context.Context, score *quality.Score) error {
	query := `
		INSERT INTO quality_scores (
			id, table_name, completeness, freshness, validity, consistency,
			composite, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.conn.ExecContext(ctx, query,
		score.ID, score.TableName, score.Completeness, score.Freshness,
		score.Validity, score.Consistency, score.Composite, score.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert score for %s: %w", ErrQualityStoreFailed, score.TableName, err)
	}

	return nil
}

// RecentScores implements quality.Store.
func (s *QualityStore) RecentScores(ctx context.Context, tableName string, limit int) ([]*quality.Score, error) {
	query := `
		SELECT id, table_name, completeness, freshness, validity, consistency,
		       composite, computed_at
		FROM quality_scores
		WHERE table_name = $1
		ORDER BY computed_at DESC
		LIMIT $2
	`

	rows, err := s.conn.QueryContext(ctx, query, tableName, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query scores for %s: %w", ErrQualityStoreFailed, tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var scores []*quality.Score

	for rows.Next() {
		var score quality.Score

		err := rows.Scan(&score.ID, &score.TableName, &score.Completeness,
			&score.Freshness, &score.Validity, &score.Consistency,
			&score.Composite, &score.ComputedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan score: %w", ErrQualityStoreFailed, err)
		}

		scores = append(scores, &score)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate scores: %w", ErrQualityStoreFailed, err)
	}

	return scores, nil
}
