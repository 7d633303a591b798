package quality

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	// defaultSampleThreshold is the row count above which profiling samples
	// instead of scanning the full table.
	defaultSampleThreshold = 1_000_000
	// topValueLimit caps how many frequent values a column profile keeps.
	topValueLimit = 10
)

type (
	// Profiler computes table statistics: row count, per-column null
	// percentage, distinct counts, and numeric or text distribution stats.
	Profiler struct {
		db              Querier
		logger          *slog.Logger
		sampleThreshold int64
	}

	// ProfilerOption configures optional Profiler behavior.
	ProfilerOption func(*Profiler)

	// columnInfo is what information_schema reports about a column.
	columnInfo struct {
		name     string
		dataType string
	}
)

// WithSampleThreshold overrides the row count above which sampling kicks in.
func WithSampleThreshold(n int64) ProfilerOption {
	return func(p *Profiler) {
		if n > 0 {
			p.sampleThreshold = n
		}
	}
}

// NewProfiler creates a table profiler.
func NewProfiler(db Querier, logger *slog.Logger, opts ...ProfilerOption) *Profiler {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Profiler{
		db:              db,
		logger:          logger,
		sampleThreshold: defaultSampleThreshold,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Profile computes a snapshot of the table. Tables above the sample
// threshold are profiled on a TABLESAMPLE so a profiling pass never scans
// hundreds of millions of rows.
func (p *Profiler) Profile(ctx context.Context, tableName string) (*Snapshot, error) {
	quoted := pq.QuoteIdentifier(tableName)

	var rowCount int64
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&rowCount); err != nil {
		return nil, fmt.Errorf("count rows in %s: %w", tableName, err)
	}

	sampled := rowCount > p.sampleThreshold

	from := quoted
	if sampled {
		// Bernoulli sampling sized to land near the threshold.
		pct := 100 * float64(p.sampleThreshold) / float64(rowCount)
		from = fmt.Sprintf("%s TABLESAMPLE BERNOULLI (%.4f)", quoted, pct)
	}

	columns, err := p.columns(ctx, tableName)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		ID:        uuid.NewString(),
		TableName: tableName,
		RowCount:  rowCount,
		Sampled:   sampled,
		Columns:   make(map[string]ColumnProfile, len(columns)),
		CreatedAt: time.Now().UTC(),
	}

	for _, col := range columns {
		profile, err := p.profileColumn(ctx, from, col)
		if err != nil {
			return nil, err
		}

		snapshot.Columns[col.name] = profile
	}

	p.logger.Debug("profiled table",
		slog.String("table", tableName),
		slog.Int64("row_count", rowCount),
		slog.Bool("sampled", sampled),
		slog.Int("columns", len(columns)),
	)

	return snapshot, nil
}

// columns lists the table's profiled columns. The surrogate id and the
// ingest timestamp are infrastructure, not data, and are excluded.
func (p *Profiler) columns(ctx context.Context, tableName string) ([]columnInfo, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1 AND column_name NOT IN ('id', 'ingested_at')
		ORDER BY ordinal_position
	`, tableName)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []columnInfo

	for rows.Next() {
		var col columnInfo
		if err := rows.Scan(&col.name, &col.dataType); err != nil {
			return nil, fmt.Errorf("scan column info: %w", err)
		}

		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	return columns, nil
}

func isNumericType(dataType string) bool {
	switch dataType {
	case "bigint", "integer", "smallint", "numeric", "double precision", "real":
		return true
	default:
		return false
	}
}

func isTextType(dataType string) bool {
	switch dataType {
	case "text", "character varying", "character":
		return true
	default:
		return false
	}
}

func (p *Profiler) profileColumn(ctx context.Context, from string, col columnInfo) (ColumnProfile, error) {
	quoted := pq.QuoteIdentifier(col.name)
	profile := ColumnProfile{Name: col.name}

	var (
		total    int64
		nulls    int64
		distinct int64
	)

	query := fmt.Sprintf(
		"SELECT COUNT(*), COUNT(*) - COUNT(%s), COUNT(DISTINCT %s) FROM %s",
		quoted, quoted, from)

	if err := p.db.QueryRowContext(ctx, query).Scan(&total, &nulls, &distinct); err != nil {
		return profile, fmt.Errorf("profile column %s: %w", col.name, err)
	}

	if total > 0 {
		profile.NullPct = 100 * float64(nulls) / float64(total)
		profile.CardinalityRatio = float64(distinct) / float64(total)
	}

	profile.DistinctCount = distinct

	switch {
	case isNumericType(col.dataType):
		stats, err := p.numericStats(ctx, from, quoted)
		if err != nil {
			return profile, err
		}

		profile.Stats = stats
	case isTextType(col.dataType):
		if err := p.textStats(ctx, from, quoted, &profile); err != nil {
			return profile, err
		}
	}

	if distinct > 0 && distinct <= topValueLimit*10 {
		top, err := p.topValues(ctx, from, quoted)
		if err != nil {
			return profile, err
		}

		profile.TopValues = top
	}

	return profile, nil
}

// numericStats computes min/max/mean/stddev and quartiles in one pass.
func (p *Profiler) numericStats(ctx context.Context, from, quoted string) (map[string]float64, error) {
	query := fmt.Sprintf(`
		SELECT
			MIN(%[1]s)::float8, MAX(%[1]s)::float8, AVG(%[1]s)::float8,
			COALESCE(STDDEV(%[1]s), 0)::float8,
			PERCENTILE_CONT(0.25) WITHIN GROUP (ORDER BY %[1]s)::float8,
			PERCENTILE_CONT(0.50) WITHIN GROUP (ORDER BY %[1]s)::float8,
			PERCENTILE_CONT(0.75) WITHIN GROUP (ORDER BY %[1]s)::float8
		FROM %[2]s WHERE %[1]s IS NOT NULL
	`, quoted, from)

	var minV, maxV, mean, stddev, p25, median, p75 sql.NullFloat64

	err := p.db.QueryRowContext(ctx, query).Scan(&minV, &maxV, &mean, &stddev, &p25, &median, &p75)
	if err != nil {
		return nil, fmt.Errorf("numeric stats for %s: %w", quoted, err)
	}

	if !minV.Valid {
		// Every value is NULL.
		return nil, nil
	}

	stats := map[string]float64{
		"min":    minV.Float64,
		"max":    maxV.Float64,
		"mean":   mean.Float64,
		"stddev": stddev.Float64,
		"p25":    p25.Float64,
		"median": median.Float64,
		"p75":    p75.Float64,
	}

	for k, v := range stats {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(stats, k)
		}
	}

	return stats, nil
}

func (p *Profiler) textStats(ctx context.Context, from, quoted string, profile *ColumnProfile) error {
	query := fmt.Sprintf(
		"SELECT COALESCE(AVG(LENGTH(%[1]s)), 0)::float8, COALESCE(MAX(LENGTH(%[1]s)), 0) FROM %[2]s WHERE %[1]s IS NOT NULL",
		quoted, from)

	if err := p.db.QueryRowContext(ctx, query).Scan(&profile.AvgLength, &profile.MaxLength); err != nil {
		return fmt.Errorf("text stats for %s: %w", quoted, err)
	}

	return nil
}

func (p *Profiler) topValues(ctx context.Context, from, quoted string) (map[string]int64, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s::text, COUNT(*)
		FROM %[2]s
		WHERE %[1]s IS NOT NULL
		GROUP BY 1
		ORDER BY 2 DESC
		LIMIT %[3]d
	`, quoted, from, topValueLimit)

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("top values for %s: %w", quoted, err)
	}
	defer func() { _ = rows.Close() }()

	top := make(map[string]int64)

	for rows.Next() {
		var (
			value string
			count int64
		)

		if err := rows.Scan(&value, &count); err != nil {
			return nil, fmt.Errorf("scan top value: %w", err)
		}

		top[value] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top values: %w", err)
	}

	return top, nil
}

// sortedColumnNames returns the profile's column names in stable order.
func (s *Snapshot) sortedColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
