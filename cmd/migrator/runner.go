package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"

	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// source for MIGRATIONS_PATH
	_ "github.com/lib/pq"                                // PostgreSQL driver

	"github.com/ingestor-io/ingestor/migrations"
)

type (
	// Runner applies schema migrations against PostgreSQL.
	Runner struct {
		migrate *migrate.Migrate
		db      *sql.DB
		logger  *slog.Logger
	}

	// migrateLogger adapts slog to the migrate.Logger interface.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool { return false }

// NewRunner opens the database and builds a migrate instance from either the
// embedded migrations or, when MIGRATIONS_PATH is set, an on-disk directory.
func NewRunner(cfg *Config, logger *slog.Logger) (*Runner, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: cfg.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	var m *migrate.Migrate

	if cfg.MigrationsPath != "" {
		m, err = migrate.NewWithDatabaseInstance("file://"+cfg.MigrationsPath, "postgres", driver)
	} else {
		var src source.Driver

		src, err = migrations.Source()
		if err == nil {
			m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
		}
	}

	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{migrate: m, db: db, logger: logger}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	err := r.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("no new migrations to apply")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	r.logger.Info("all migrations applied")

	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down() error {
	if err := r.migrate.Steps(-1); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}

	r.logger.Info("rolled back one migration")

	return nil
}

// Version prints the current schema version.
func (r *Runner) Version() error {
	version, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		r.logger.Info("no migrations applied yet")

		return nil
	}

	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}

	r.logger.Info("schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	return nil
}

// Drop removes everything in the schema. Destructive; main gates it behind
// a confirmation prompt.
func (r *Runner) Drop() error {
	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}

	r.logger.Warn("dropped all tables")

	return nil
}

// Close releases the migrate instance and the database connection.
func (r *Runner) Close() error {
	srcErr, dbErr := r.migrate.Close()
	if srcErr != nil {
		return srcErr
	}

	if dbErr != nil {
		return dbErr
	}

	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
