package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ingestor-io/ingestor/internal/adapter"
)

// Sentinel errors for dataset catalog operations.
var (
	// ErrCatalogFailed is returned when a catalog operation fails.
	ErrCatalogFailed = errors.New("dataset catalog operation failed")

	// ErrDatasetNotFound is returned when a table name is not registered.
	ErrDatasetNotFound = errors.New("dataset not found in catalog")
)

// CatalogEntry is one registered dataset: the record that maps a provisioned
// table back to the source and dataset that populate it.
type CatalogEntry struct {
	Source         string
	DatasetID      string
	TableName      string
	DisplayName    string
	Description    string
	SourceMetadata map[string]any
	CreatedAt      time.Time
	LastUpdatedAt  time.Time
}

// Catalog persists dataset registrations in the dataset_catalog table.
// Exactly one entry exists per table name; re-provisioning refreshes
// last_updated_at and metadata in place.
type Catalog struct {
	conn *Connection
}

// NewCatalog creates a PostgreSQL-backed dataset catalog.
func NewCatalog(conn *Connection) (*Catalog, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &Catalog{conn: conn}, nil
}

// Register upserts the catalog entry for a schema spec. Called on every
// provisioning pass, so an existing entry just gets its metadata and
// last_updated_at refreshed.
func (c *Catalog) Register(ctx context.Context, spec *adapter.Spec) error {
	metadata, err := json.Marshal(map[string]any{
		"columns":    spec.ColumnNames(),
		"unique_key": spec.UniqueKey,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %w", ErrCatalogFailed, err)
	}

	query := `
		INSERT INTO dataset_catalog (
			source, dataset_id, table_name, display_name, description,
			source_metadata, created_at, last_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (table_name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			source_metadata = EXCLUDED.source_metadata,
			last_updated_at = NOW()
	`

	_, err = c.conn.ExecContext(ctx, query,
		spec.Source, spec.DatasetID, spec.TableName,
		spec.DisplayName, spec.Description, metadata,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert entry: %w", ErrCatalogFailed, err)
	}

	return nil
}

// Touch refreshes last_updated_at for a table after a successful ingest.
func (c *Catalog) Touch(ctx context.Context, tableName string) error {
	query := `UPDATE dataset_catalog SET last_updated_at = NOW() WHERE table_name = $1`

	result, err := c.conn.ExecContext(ctx, query, tableName)
	if err != nil {
		return fmt.Errorf("%w: touch entry: %w", ErrCatalogFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrCatalogFailed, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrDatasetNotFound, tableName)
	}

	return nil
}

// Get returns the catalog entry for a table name.
func (c *Catalog) Get(ctx context.Context, tableName string) (*CatalogEntry, error) {
	query := `
		SELECT source, dataset_id, table_name, display_name, description,
		       source_metadata, created_at, last_updated_at
		FROM dataset_catalog
		WHERE table_name = $1
	`

	var (
		entry    CatalogEntry
		metadata []byte
	)

	err := c.conn.QueryRowContext(ctx, query, tableName).Scan(
		&entry.Source, &entry.DatasetID, &entry.TableName,
		&entry.DisplayName, &entry.Description, &metadata,
		&entry.CreatedAt, &entry.LastUpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, tableName)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: query entry: %w", ErrCatalogFailed, err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.SourceMetadata); err != nil {
			return nil, fmt.Errorf("%w: unmarshal metadata: %w", ErrCatalogFailed, err)
		}
	}

	return &entry, nil
}

// List returns all catalog entries, optionally filtered by source.
func (c *Catalog) List(ctx context.Context, source string) ([]*CatalogEntry, error) {
	query := `
		SELECT source, dataset_id, table_name, display_name, description,
		       source_metadata, created_at, last_updated_at
		FROM dataset_catalog
		WHERE ($1 = '' OR source = $1)
		ORDER BY source, dataset_id
	`

	rows, err := c.conn.QueryContext(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %w", ErrCatalogFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*CatalogEntry

	for rows.Next() {
		var (
			entry    CatalogEntry
			metadata []byte
		)

		err := rows.Scan(
			&entry.Source, &entry.DatasetID, &entry.TableName,
			&entry.DisplayName, &entry.Description, &metadata,
			&entry.CreatedAt, &entry.LastUpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan entry: %w", ErrCatalogFailed, err)
		}

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.SourceMetadata); err != nil {
				return nil, fmt.Errorf("%w: unmarshal metadata: %w", ErrCatalogFailed, err)
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate entries: %w", ErrCatalogFailed, err)
	}

	return entries, nil
}
