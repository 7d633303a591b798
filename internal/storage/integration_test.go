package storage

import (
	"context"
	"log/slog"
	"testing"

	"github.com/testcontainers/testcontainers-go"

	"github.com/ingestor-io/ingestor/internal/config"
)

// setupStorageTest starts a migrated PostgreSQL container and wraps its pool
// in a Connection. Container teardown is registered via t.Cleanup.
func setupStorageTest(ctx context.Context, t *testing.T) *Connection {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	return &Connection{db: testDB.Connection, logger: slog.New(slog.DiscardHandler)}
}
