// Package quality implements the post-ingest quality pipeline: table
// profiling, declarative rule evaluation with auto-seeding, cross-source
// validation, anomaly detection against historical snapshots, and composite
// quality scoring.
package quality

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Sentinel errors for quality operations.
var (
	// ErrSnapshotNotFound is returned when no profile snapshot exists for a table.
	ErrSnapshotNotFound = errors.New("profile snapshot not found")

	// ErrRuleNotFound is returned when a rule id does not exist.
	ErrRuleNotFound = errors.New("quality rule not found")

	// ErrAlertNotFound is returned when an alert id does not exist.
	ErrAlertNotFound = errors.New("anomaly alert not found")

	// ErrInsufficientHistory is returned when anomaly detection has fewer
	// historical snapshots than its minimum.
	ErrInsufficientHistory = errors.New("insufficient profile history")

	// ErrInvalidRule is returned when a rule's parameters do not fit its type.
	ErrInvalidRule = errors.New("invalid quality rule")
)

type (
	// ColumnProfile holds per-column statistics from one profiling pass.
	ColumnProfile struct {
		Name             string  `json:"name"`
		NullPct          float64 `json:"null_pct"`
		DistinctCount    int64   `json:"distinct_count"`
		CardinalityRatio float64 `json:"cardinality_ratio"`
		// Stats carries numeric statistics (min, max, mean, stddev, p25,
		// median, p75) when the column is numeric.
		Stats map[string]float64 `json:"stats,omitempty"`
		// TopValues maps the most frequent values to their counts.
		TopValues map[string]int64 `json:"top_values,omitempty"`
		// AvgLength and MaxLength are populated for text columns.
		AvgLength float64 `json:"avg_length,omitempty"`
		MaxLength int64   `json:"max_length,omitempty"`
	}

	// Snapshot is one immutable profiling pass over a table.
	Snapshot struct {
		ID        string
		TableName string
		RowCount  int64
		Sampled   bool
		Columns   map[string]ColumnProfile
		CreatedAt time.Time
	}

	// Severity grades rule violations.
	Severity string

	// RuleType identifies the check a rule performs.
	RuleType string

	// Rule is one declarative quality check on a table or column.
	Rule struct {
		ID        string
		TableName string
		Column    string
		Type      RuleType
		// Params hold type-specific parameters: min/max for RANGE, values
		// for ENUM, pattern for REGEX, max_age_hours for FRESHNESS.
		Params   map[string]any
		Severity Severity
		Enabled  bool
		// Seeded marks rules proposed by the auto-seeder rather than declared
		// by an operator.
		Seeded    bool
		CreatedAt time.Time
	}

	// Result is one evaluation of one rule.
	Result struct {
		RuleID      string
		TableName   string
		Passed      bool
		Details     map[string]any
		EvaluatedAt time.Time
	}

	// AlertStatus tracks an anomaly alert's lifecycle.
	AlertStatus string

	// Alert is one detected anomaly.
	Alert struct {
		ID        string
		TableName string
		Column    string
		Type      string
		Status    AlertStatus
		Details   map[string]any
		CreatedAt time.Time
	}

	// Store persists quality artifacts. Implemented by the storage package.
	Store interface {
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error

		// RecentSnapshots returns up to limit snapshots for a table, newest
		// first.
		RecentSnapshots(ctx context.Context, tableName string, limit int) ([]*Snapshot, error)

		SaveRule(ctx context.Context, rule *Rule) error
		ListRules(ctx context.Context, tableName string, enabledOnly bool) ([]*Rule, error)

		SaveResult(ctx context.Context, result *Result) error
		RecentResults(ctx context.Context, tableName string, limit int) ([]*Result, error)

		SaveAlert(ctx context.Context, alert *Alert) error
		OpenAlerts(ctx context.Context, tableName string) ([]*Alert, error)
		SetAlertStatus(ctx context.Context, id string, status AlertStatus) error

		SaveScore(ctx context.Context, score *Score) error

		// RecentScores returns up to limit composite scores for a table,
		// newest first.
		RecentScores(ctx context.Context, tableName string, limit int) ([]*Score, error)
	}
)

// Rule types.
const (
	RuleNotNull   RuleType = "NOT_NULL"
	RuleRange     RuleType = "RANGE"
	RuleEnum      RuleType = "ENUM"
	RuleRegex     RuleType = "REGEX"
	RuleRowCount  RuleType = "ROW_COUNT"
	RuleFreshness RuleType = "FRESHNESS"
)

// Severities.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Alert statuses.
const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Querier is the read-only database access the profiler, evaluator, and
// cross-source validator need to inspect ingested tables. Satisfied by
// storage.Connection.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
