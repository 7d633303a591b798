package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/engine"
)

// Sentinel errors for chain storage operations.
var (
	// ErrChainStoreFailed is returned when a chain storage operation fails.
	ErrChainStoreFailed = errors.New("chain storage failed")

	// ChainStore implements engine.ChainStore.
	_ engine.ChainStore = (*ChainStore)(nil)
)

// ChainStore persists chain definitions and step → job bindings across the
// job_chains, chain_steps, chain_dependencies, and chain_step_jobs tables.
type ChainStore struct {
	conn *Connection
}

// NewChainStore creates a PostgreSQL-backed chain store.
func NewChainStore(conn *Connection) (*ChainStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ChainStore{conn: conn}, nil
}

// CreateChain implements engine.ChainStore. The definition is written in one
// transaction so a half-inserted chain can never execute.
func (s *ChainStore) CreateChain(ctx context.Context, chain *engine.Chain) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrChainStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_chains (id, name, created_at) VALUES ($1, $2, $3)`,
		chain.ID, chain.Name, chain.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert chain: %w", ErrChainStoreFailed, err)
	}

	for i, step := range chain.Steps {
		cfg, err := json.Marshal(step.Config)
		if err != nil {
			return fmt.Errorf("%w: marshal step config: %w", ErrChainStoreFailed, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO chain_steps (chain_id, step_id, source, config, position)
			 VALUES ($1, $2, $3, $4, $5)`,
			chain.ID, step.ID, step.Source, cfg, i,
		)
		if err != nil {
			return fmt.Errorf("%w: insert step %s: %w", ErrChainStoreFailed, step.ID, err)
		}
	}

	for _, dep := range chain.Dependencies {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chain_dependencies (chain_id, upstream_step, downstream_step, condition)
			 VALUES ($1, $2, $3, $4)`,
			chain.ID, dep.Upstream, dep.Downstream, string(dep.Condition),
		)
		if err != nil {
			return fmt.Errorf("%w: insert dependency %s -> %s: %w",
				ErrChainStoreFailed, dep.Upstream, dep.Downstream, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrChainStoreFailed, err)
	}

	return nil
}

// GetChain implements engine.ChainStore.
func (s *ChainStore) GetChain(ctx context.Context, id string) (*engine.Chain, error) {
	var chain engine.Chain

	err := s.conn.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM job_chains WHERE id = $1`, id,
	).Scan(&chain.ID, &chain.Name, &chain.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrChainNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: query chain: %w", ErrChainStoreFailed, err)
	}

	steps, err := s.chainSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	deps, err := s.chainDependencies(ctx, id)
	if err != nil {
		return nil, err
	}

	chain.Steps = steps
	chain.Dependencies = deps

	return &chain, nil
}

func (s *ChainStore) chainSteps(ctx context.Context, chainID string) ([]engine.ChainStep, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT step_id, source, config FROM chain_steps
		 WHERE chain_id = $1 ORDER BY position`, chainID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query steps: %w", ErrChainStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var steps []engine.ChainStep

	for rows.Next() {
		var (
			step engine.ChainStep
			cfg  []byte
		)

		if err := rows.Scan(&step.ID, &step.Source, &cfg); err != nil {
			return nil, fmt.Errorf("%w: scan step: %w", ErrChainStoreFailed, err)
		}

		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &step.Config); err != nil {
				return nil, fmt.Errorf("%w: unmarshal step config: %w", ErrChainStoreFailed, err)
			}
		}

		if step.Config == nil {
			step.Config = adapter.Config{}
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate steps: %w", ErrChainStoreFailed, err)
	}

	return steps, nil
}

func (s *ChainStore) chainDependencies(ctx context.Context, chainID string) ([]engine.Dependency, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT upstream_step, downstream_step, condition FROM chain_dependencies
		 WHERE chain_id = $1`, chainID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query dependencies: %w", ErrChainStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var deps []engine.Dependency

	for rows.Next() {
		var (
			dep       engine.Dependency
			condition string
		)

		if err := rows.Scan(&dep.Upstream, &dep.Downstream, &condition); err != nil {
			return nil, fmt.Errorf("%w: scan dependency: %w", ErrChainStoreFailed, err)
		}

		dep.Condition = engine.Condition(condition)
		deps = append(deps, dep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate dependencies: %w", ErrChainStoreFailed, err)
	}

	return deps, nil
}

// BindJob implements engine.ChainStore.
func (s *ChainStore) BindJob(ctx context.Context, chainID, stepID, jobID string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO chain_step_jobs (chain_id, step_id, job_id) VALUES ($1, $2, $3)`,
		chainID, stepID, jobID,
	)
	if err != nil {
		return fmt.Errorf("%w: bind job %s to step %s: %w", ErrChainStoreFailed, jobID, stepID, err)
	}

	return nil
}

// JobBinding implements engine.ChainStore.
func (s *ChainStore) JobBinding(ctx context.Context, jobID string) (string, string, error) {
	var chainID, stepID string

	err := s.conn.QueryRowContext(ctx,
		`SELECT chain_id, step_id FROM chain_step_jobs WHERE job_id = $1`, jobID,
	).Scan(&chainID, &stepID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: job %s has no chain binding", engine.ErrChainNotFound, jobID)
	}

	if err != nil {
		return "", "", fmt.Errorf("%w: query binding: %w", ErrChainStoreFailed, err)
	}

	return chainID, stepID, nil
}

// StepJobs implements engine.ChainStore.
func (s *ChainStore) StepJobs(ctx context.Context, chainID string) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT step_id, job_id FROM chain_step_jobs WHERE chain_id = $1`, chainID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query bindings: %w", ErrChainStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	bindings := make(map[string]string)

	for rows.Next() {
		var stepID, jobID string
		if err := rows.Scan(&stepID, &jobID); err != nil {
			return nil, fmt.Errorf("%w: scan binding: %w", ErrChainStoreFailed, err)
		}

		bindings[stepID] = jobID
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate bindings: %w", ErrChainStoreFailed, err)
	}

	return bindings, nil
}
