package main

import (
	"errors"
	"fmt"

	"github.com/ingestor-io/ingestor/internal/config"
)

// ErrDatabaseURLRequired is returned when DATABASE_URL is unset.
var ErrDatabaseURLRequired = errors.New("DATABASE_URL cannot be empty")

// Config holds migrator configuration.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationsPath points at an on-disk migrations directory. Empty means
	// the embedded migrations compiled into the binary.
	MigrationsPath string

	// MigrationTable is the table golang-migrate tracks versions in.
	MigrationTable string
}

// LoadConfig loads migrator configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationsPath: config.GetEnvStr("MIGRATIONS_PATH", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if cfg.DatabaseURL == "" {
		return nil, ErrDatabaseURLRequired
	}

	return cfg, nil
}

// String describes the configuration without leaking credentials.
func (c *Config) String() string {
	source := "embedded"
	if c.MigrationsPath != "" {
		source = c.MigrationsPath
	}

	return fmt.Sprintf("source=%s table=%s", source, c.MigrationTable)
}
