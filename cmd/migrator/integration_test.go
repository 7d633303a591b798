package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs an unmigrated PostgreSQL container and returns its
// connection string.
func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ingestor_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return connStr
}

func tableExists(ctx context.Context, t *testing.T, databaseURL, table string) bool {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var exists bool
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
		table).Scan(&exists))

	return exists
}

func TestRunnerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	connStr := startPostgres(ctx, t)
	logger := slog.New(slog.DiscardHandler)

	// A two-step schema exercises up, down, and version independently of the
	// real migrations.
	tempDir := t.TempDir()
	files := map[string]string{
		"001_create_series.up.sql":   `CREATE TABLE series (id TEXT PRIMARY KEY)`,
		"001_create_series.down.sql": `DROP TABLE series`,
		"002_create_points.up.sql":   `CREATE TABLE points (series_id TEXT, value DOUBLE PRECISION)`,
		"002_create_points.down.sql": `DROP TABLE points`,
	}

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, name), []byte(content), 0o600))
	}

	cfg := &Config{
		DatabaseURL:    connStr,
		MigrationsPath: tempDir,
		MigrationTable: "schema_migrations",
	}

	runner, err := NewRunner(cfg, logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = runner.Close() })

	t.Run("up applies all pending migrations", func(t *testing.T) {
		require.NoError(t, runner.Up())

		assert.True(t, tableExists(ctx, t, connStr, "series"))
		assert.True(t, tableExists(ctx, t, connStr, "points"))
	})

	t.Run("up is a no-op when current", func(t *testing.T) {
		assert.NoError(t, runner.Up())
	})

	t.Run("version reads without error", func(t *testing.T) {
		assert.NoError(t, runner.Version())
	})

	t.Run("down rolls back one step", func(t *testing.T) {
		require.NoError(t, runner.Down())

		assert.True(t, tableExists(ctx, t, connStr, "series"))
		assert.False(t, tableExists(ctx, t, connStr, "points"))
	})

	t.Run("drop clears the schema", func(t *testing.T) {
		require.NoError(t, runner.Drop())

		assert.False(t, tableExists(ctx, t, connStr, "series"))
	})
}

func TestRunnerEmbeddedMigrationsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	connStr := startPostgres(ctx, t)

	// Empty MigrationsPath selects the migrations compiled into the binary.
	cfg := &Config{
		DatabaseURL:    connStr,
		MigrationTable: "schema_migrations",
	}

	runner, err := NewRunner(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	t.Cleanup(func() { _ = runner.Close() })

	require.NoError(t, runner.Up())

	for _, table := range []string{
		"ingestion_jobs", "dataset_catalog", "ingestion_schedules",
		"job_chains", "collected_items", "quality_rules",
	} {
		assert.True(t, tableExists(ctx, t, connStr, table), table)
	}
}
