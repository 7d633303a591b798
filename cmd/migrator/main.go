// Package main provides the database migration CLI for the ingestion
// platform. Migrations ship embedded in the binary, so a deployment needs
// nothing but DATABASE_URL; MIGRATIONS_PATH switches to an on-disk
// directory for development.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
)

const usage = `Usage: migrator <command>

Commands:
  up       Apply all pending migrations
  down     Roll back the most recent migration
  version  Show the current schema version
  drop     Drop all tables (asks for confirmation)

Environment:
  DATABASE_URL     PostgreSQL connection string (required)
  MIGRATIONS_PATH  On-disk migrations directory (default: embedded)
  MIGRATION_TABLE  Version tracking table (default: schema_migrations)
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := newLogger()

	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	logger.Info("starting migrator", "config", cfg.String())

	runner, err := NewRunner(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize migrator", "error", err.Error())
		os.Exit(1)
	}
	defer func() { _ = runner.Close() }()

	if err := run(flag.Arg(0), runner); err != nil {
		logger.Error("migration failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(command string, runner *Runner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "version":
		return runner.Version()
	case "drop":
		if !confirm("This will drop all tables. Are you sure? (y/N): ") {
			fmt.Println("Cancelled.")

			return nil
		}

		return runner.Drop()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func confirm(prompt string) bool {
	fmt.Print(prompt)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes"
}
