package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/engine"
)

// Sentinel errors for batch writes.
var (
	// ErrWriteFailed is returned when a batch write fails.
	ErrWriteFailed = errors.New("batch write failed")

	// ErrConflictKeyMismatch is returned when a spec's unique key does not
	// match the unique constraint on the provisioned table. Writing through a
	// mismatched key would silently duplicate rows, so the writer fails fast.
	ErrConflictKeyMismatch = errors.New("conflict key does not match table unique constraint")

	// Writer implements engine.RowWriter.
	_ engine.RowWriter = (*Writer)(nil)
)

// Writer persists parsed rows with upsert-by-natural-key semantics. Each call
// runs in its own transaction; the runner slices its stream into batches, so
// a failure mid-job preserves every batch already committed. Re-running a job
// re-writes the same natural keys with no semantic effect.
type Writer struct {
	conn   *Connection
	logger *slog.Logger

	// verified caches table names whose unique constraint matched the spec,
	// so the information_schema probe runs once per table per process.
	mu       sync.Mutex
	verified map[string]bool
}

// NewWriter creates a PostgreSQL-backed batch row writer.
func NewWriter(conn *Connection) (*Writer, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &Writer{
		conn:     conn,
		logger:   conn.logger,
		verified: make(map[string]bool),
	}, nil
}

// Write implements engine.RowWriter. Rows are upserted in one multi-row
// INSERT ... ON CONFLICT statement inside one transaction.
func (w *Writer) Write(ctx context.Context, spec *adapter.Spec, rows []adapter.Row) (engine.WriteResult, error) {
	start := time.Now()

	if len(rows) == 0 {
		return engine.WriteResult{Duration: time.Since(start)}, nil
	}

	if err := w.verifyConflictKey(ctx, spec); err != nil {
		return engine.WriteResult{}, err
	}

	query, args := upsertSQL(spec, rows)

	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return engine.WriteResult{}, fmt.Errorf("%w: begin transaction: %w", ErrWriteFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return engine.WriteResult{}, fmt.Errorf("%w: upsert into %s: %w", ErrWriteFailed, spec.TableName, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return engine.WriteResult{}, fmt.Errorf("%w: rows affected: %w", ErrWriteFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return engine.WriteResult{}, fmt.Errorf("%w: commit: %w", ErrWriteFailed, err)
	}

	duration := time.Since(start)

	w.logger.Debug("batch written",
		slog.String("table", spec.TableName),
		slog.Int("rows", len(rows)),
		slog.Int64("affected", inserted),
		slog.Duration("duration", duration),
	)

	return engine.WriteResult{Inserted: inserted, Duration: duration}, nil
}

// verifyConflictKey checks that the table's unique constraint covers exactly
// the spec's unique key columns. Checked once per table per process.
func (w *Writer) verifyConflictKey(ctx context.Context, spec *adapter.Spec) error {
	w.mu.Lock()
	ok := w.verified[spec.TableName]
	w.mu.Unlock()

	if ok {
		return nil
	}

	query := `
		SELECT column_name
		FROM information_schema.constraint_column_usage
		WHERE table_name = $1 AND constraint_name = $2
		ORDER BY column_name
	`

	rows, err := w.conn.QueryContext(ctx, query, spec.TableName, spec.UniqueConstraintName())
	if err != nil {
		return fmt.Errorf("%w: query constraint columns: %w", ErrWriteFailed, err)
	}
	defer func() { _ = rows.Close() }()

	constraintColumns := make(map[string]bool)

	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return fmt.Errorf("%w: scan constraint column: %w", ErrWriteFailed, err)
		}

		constraintColumns[column] = true
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate constraint columns: %w", ErrWriteFailed, err)
	}

	if len(constraintColumns) != len(spec.UniqueKey) {
		return fmt.Errorf("%w: table %s has %d constrained columns, spec declares %d",
			ErrConflictKeyMismatch, spec.TableName, len(constraintColumns), len(spec.UniqueKey))
	}

	for _, key := range spec.UniqueKey {
		if !constraintColumns[key] {
			return fmt.Errorf("%w: column %s not in constraint on %s",
				ErrConflictKeyMismatch, key, spec.TableName)
		}
	}

	w.mu.Lock()
	w.verified[spec.TableName] = true
	w.mu.Unlock()

	return nil
}

// upsertSQL renders a multi-row INSERT ... ON CONFLICT statement for the
// batch. Non-key columns are updated on conflict along with ingested_at;
// when every column is part of the key the conflict action degrades to
// DO NOTHING.
func upsertSQL(spec *adapter.Spec, rows []adapter.Row) (string, []any) {
	columns := spec.ColumnNames()
	keys := make(map[string]bool, len(spec.UniqueKey))

	for _, key := range spec.UniqueKey {
		keys[key] = true
	}

	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(pq.QuoteIdentifier(spec.TableName))
	b.WriteString(" (")

	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString(pq.QuoteIdentifier(col))
	}

	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))

	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString("(")

		for j, col := range columns {
			if j > 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "$%d", len(args)+1)

			args = append(args, row[col].Arg())
		}

		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")

	for i, key := range spec.UniqueKey {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString(pq.QuoteIdentifier(key))
	}

	b.WriteString(")")

	var updates []string

	for _, col := range columns {
		if !keys[col] {
			quoted := pq.QuoteIdentifier(col)
			updates = append(updates, quoted+" = EXCLUDED."+quoted)
		}
	}

	if len(updates) == 0 {
		b.WriteString(" DO NOTHING")

		return b.String(), args
	}

	b.WriteString(" DO UPDATE SET ")
	b.WriteString(strings.Join(updates, ", "))
	b.WriteString(", ingested_at = NOW()")

	return b.String(), args
}
