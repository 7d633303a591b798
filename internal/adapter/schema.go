package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for schema validation.
var (
	// ErrTableNameEmpty is returned when a schema spec declares no table name.
	ErrTableNameEmpty = errors.New("schema spec: table name cannot be empty")

	// ErrNoColumns is returned when a schema spec declares no columns.
	ErrNoColumns = errors.New("schema spec: at least one column is required")

	// ErrNoUniqueKey is returned when a schema spec declares no unique key.
	// The unique key is the natural key for upserts; a table without one
	// cannot support idempotent ingestion.
	ErrNoUniqueKey = errors.New("schema spec: unique key cannot be empty")

	// ErrUnknownKeyColumn is returned when the unique key or an index
	// references a column not present in the spec.
	ErrUnknownKeyColumn = errors.New("schema spec: key references unknown column")
)

type (
	// ColumnType is the warehouse type for a declared column.
	ColumnType string

	// Column declares one column of a provisioned table.
	Column struct {
		Name     string
		Type     ColumnType
		Nullable bool
	}

	// Spec is the full declarative schema an adapter emits for a dataset.
	// Specs are deterministic: the same config always produces the same spec,
	// byte for byte, so repeated ingests land in the same table.
	Spec struct {
		Source      string
		DatasetID   string
		TableName   string
		DisplayName string
		Description string
		Columns     []Column
		UniqueKey   []string
		Indexes     [][]string
	}
)

// Warehouse column types supported by the provisioner.
const (
	TypeBigInt    ColumnType = "BIGINT"
	TypeDouble    ColumnType = "DOUBLE PRECISION"
	TypeText      ColumnType = "TEXT"
	TypeBool      ColumnType = "BOOLEAN"
	TypeTimestamp ColumnType = "TIMESTAMPTZ"
	TypeDate      ColumnType = "DATE"
	TypeNumeric   ColumnType = "NUMERIC"
)

// Validate checks internal consistency of the spec: a table name, at least one
// column, a non-empty unique key, and key/index columns that actually exist.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.TableName) == "" {
		return ErrTableNameEmpty
	}

	if len(s.Columns) == 0 {
		return ErrNoColumns
	}

	if len(s.UniqueKey) == 0 {
		return ErrNoUniqueKey
	}

	known := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		known[c.Name] = true
	}

	for _, k := range s.UniqueKey {
		if !known[k] {
			return fmt.Errorf("%w: unique key column %q", ErrUnknownKeyColumn, k)
		}
	}

	for _, idx := range s.Indexes {
		for _, k := range idx {
			if !known[k] {
				return fmt.Errorf("%w: index column %q", ErrUnknownKeyColumn, k)
			}
		}
	}

	return nil
}

// ColumnNames returns the declared column names in order.
func (s *Spec) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}

	return names
}

// HasColumn reports whether the spec declares the named column.
func (s *Spec) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}

	return false
}

// UniqueConstraintName returns the deterministic name used for the table's
// natural-key constraint. Provisioner and writer both rely on this name.
func (s *Spec) UniqueConstraintName() string {
	return "uq_" + s.TableName
}
