package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/engine"
)

// Sentinel errors for table provisioning.
var (
	// ErrProvisionFailed is returned when table provisioning fails.
	ErrProvisionFailed = errors.New("table provisioning failed")

	// Provisioner implements engine.TableProvisioner.
	_ engine.TableProvisioner = (*Provisioner)(nil)
)

// Provisioner creates ingestion tables from schema specs and registers them
// in the dataset catalog. Every statement is IF NOT EXISTS, so Prepare is
// idempotent and safe to call on every job run.
type Provisioner struct {
	conn    *Connection
	catalog *Catalog
	logger  *slog.Logger
}

// NewProvisioner creates a PostgreSQL-backed table provisioner.
func NewProvisioner(conn *Connection, catalog *Catalog) (*Provisioner, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if catalog == nil {
		var err error
		if catalog, err = NewCatalog(conn); err != nil {
			return nil, err
		}
	}

	return &Provisioner{conn: conn, catalog: catalog, logger: conn.logger}, nil
}

// Prepare implements engine.TableProvisioner: create the table, its indexes,
// and the catalog entry if missing. Returns whether the table was newly
// created.
func (p *Provisioner) Prepare(ctx context.Context, spec *adapter.Spec) (bool, error) {
	if err := spec.Validate(); err != nil {
		return false, err
	}

	existed, err := p.tableExists(ctx, spec.TableName)
	if err != nil {
		return false, err
	}

	if _, err := p.conn.ExecContext(ctx, createTableSQL(spec)); err != nil {
		return false, fmt.Errorf("%w: create table %s: %w", ErrProvisionFailed, spec.TableName, err)
	}

	for _, columns := range spec.Indexes {
		if _, err := p.conn.ExecContext(ctx, createIndexSQL(spec.TableName, columns)); err != nil {
			return false, fmt.Errorf("%w: create index on %s (%s): %w",
				ErrProvisionFailed, spec.TableName, strings.Join(columns, ", "), err)
		}
	}

	if err := p.catalog.Register(ctx, spec); err != nil {
		return false, err
	}

	if !existed {
		p.logger.Info("provisioned table",
			slog.String("table", spec.TableName),
			slog.String("source", spec.Source),
			slog.Int("columns", len(spec.Columns)),
		)
	}

	return !existed, nil
}

func (p *Provisioner) tableExists(ctx context.Context, tableName string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`

	var exists bool
	if err := p.conn.QueryRowContext(ctx, query, tableName).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: check table %s: %w", ErrProvisionFailed, tableName, err)
	}

	return exists, nil
}

// createTableSQL renders the CREATE TABLE statement for a spec: surrogate id,
// declared columns, ingested_at, and the named unique constraint that batch
// writes upsert against. Identifiers come pre-normalized from the adapter
// layer; quoting here guards against reserved words, not injection by
// callers, since specs are code, not user input.
func createTableSQL(spec *adapter.Spec) string {
	var b strings.Builder

	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pq.QuoteIdentifier(spec.TableName))
	b.WriteString(" (\n")
	b.WriteString("\tid BIGSERIAL PRIMARY KEY,\n")

	for _, col := range spec.Columns {
		b.WriteString("\t")
		b.WriteString(pq.QuoteIdentifier(col.Name))
		b.WriteString(" ")
		b.WriteString(string(col.Type))

		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}

		b.WriteString(",\n")
	}

	b.WriteString("\tingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),\n")

	b.WriteString("\tCONSTRAINT ")
	b.WriteString(pq.QuoteIdentifier(spec.UniqueConstraintName()))
	b.WriteString(" UNIQUE (")

	for i, key := range spec.UniqueKey {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString(pq.QuoteIdentifier(key))
	}

	b.WriteString(")\n)")

	return b.String()
}

func createIndexSQL(tableName string, columns []string) string {
	indexName := fmt.Sprintf("idx_%s_%s", tableName, strings.Join(columns, "_"))

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
	}

	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		pq.QuoteIdentifier(indexName),
		pq.QuoteIdentifier(tableName),
		strings.Join(quoted, ", "),
	)
}
