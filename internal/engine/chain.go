package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ingestor-io/ingestor/internal/adapter"
)

// Sentinel errors for chain definitions and execution.
var (
	// ErrChainNotFound is returned when a chain id does not exist.
	ErrChainNotFound = errors.New("chain not found")

	// ErrChainCyclic is returned at definition time when the dependency graph
	// contains a cycle.
	ErrChainCyclic = errors.New("chain dependency graph is cyclic")

	// ErrUnknownChainStep is returned when a dependency references a step id
	// not present in the chain.
	ErrUnknownChainStep = errors.New("dependency references unknown chain step")

	// ErrInvalidCondition is returned for an unrecognized dependency condition.
	ErrInvalidCondition = errors.New("invalid dependency condition")
)

type (
	// Condition decides when a dependency edge is satisfied by the upstream
	// job's terminal status.
	Condition string

	// ChainStep is one job definition inside a chain.
	ChainStep struct {
		ID     string
		Source string
		Config adapter.Config
	}

	// Dependency is a directed edge between two chain steps. Modeled as id
	// pairs, not object references, so definitions stay acyclic by
	// construction and cycle detection is a plain graph walk.
	Dependency struct {
		Upstream   string
		Downstream string
		Condition  Condition
	}

	// Chain is an ordered definition of steps plus dependency edges.
	Chain struct {
		ID           string
		Name         string
		Steps        []ChainStep
		Dependencies []Dependency
		CreatedAt    time.Time
	}

	// ChainStore persists chain definitions and the step → job bindings made
	// during execution. Implemented by the storage package.
	ChainStore interface {
		CreateChain(ctx context.Context, chain *Chain) error
		GetChain(ctx context.Context, id string) (*Chain, error)

		// BindJob records that a job was created for a chain step.
		BindJob(ctx context.Context, chainID, stepID, jobID string) error

		// JobBinding resolves a job id back to its chain and step. Returns
		// ErrChainNotFound when the job does not belong to a chain.
		JobBinding(ctx context.Context, jobID string) (chainID, stepID string, err error)

		// StepJobs returns the stepID → jobID bindings for a chain execution.
		StepJobs(ctx context.Context, chainID string) (map[string]string, error)
	}

	// ChainEngine advances chains on job-completion events. Subscribe it to
	// the event bus; it releases BLOCKED steps whose dependency edges are all
	// satisfied.
	ChainEngine struct {
		chains ChainStore
		jobs   JobStore
		run    func(ctx context.Context, jobID string)
		logger *slog.Logger
	}
)

// Dependency conditions.
const (
	// OnSuccess satisfies the edge only when the upstream job succeeded.
	OnSuccess Condition = "ON_SUCCESS"

	// OnFailure satisfies the edge only when the upstream job failed
	// terminally (retry budget exhausted).
	OnFailure Condition = "ON_FAILURE"

	// OnCompletion satisfies the edge on either terminal outcome.
	OnCompletion Condition = "ON_COMPLETION"
)

// IsValid reports whether the condition is recognized.
func (c Condition) IsValid() bool {
	switch c {
	case OnSuccess, OnFailure, OnCompletion:
		return true
	default:
		return false
	}
}

// Satisfied reports whether a terminal upstream status satisfies the edge.
func (c Condition) Satisfied(status Status) bool {
	switch c {
	case OnSuccess:
		return status == StatusSuccess
	case OnFailure:
		return status == StatusFailed
	case OnCompletion:
		return status.IsTerminal()
	default:
		return false
	}
}

// Validate checks the chain definition: known conditions, edges that
// reference declared steps, and an acyclic dependency graph. Cyclic chains
// are rejected at definition time, before anything is persisted.
func (c *Chain) Validate() error {
	steps := make(map[string]bool, len(c.Steps))
	for _, s := range c.Steps {
		steps[s.ID] = true
	}

	indegree := make(map[string]int, len(c.Steps))
	downstream := make(map[string][]string, len(c.Steps))

	for _, d := range c.Dependencies {
		if !d.Condition.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidCondition, d.Condition)
		}

		if !steps[d.Upstream] {
			return fmt.Errorf("%w: %q", ErrUnknownChainStep, d.Upstream)
		}

		if !steps[d.Downstream] {
			return fmt.Errorf("%w: %q", ErrUnknownChainStep, d.Downstream)
		}

		indegree[d.Downstream]++
		downstream[d.Upstream] = append(downstream[d.Upstream], d.Downstream)
	}

	// Kahn's algorithm: if the topological order does not cover every step,
	// the remainder forms a cycle.
	queue := make([]string, 0, len(c.Steps))

	for _, s := range c.Steps {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	visited := 0

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++

		for _, next := range downstream[node] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(c.Steps) {
		return ErrChainCyclic
	}

	return nil
}

// roots returns the ids of steps with no incoming dependency edges.
func (c *Chain) roots() map[string]bool {
	hasIncoming := make(map[string]bool, len(c.Steps))
	for _, d := range c.Dependencies {
		hasIncoming[d.Downstream] = true
	}

	roots := make(map[string]bool, len(c.Steps))

	for _, s := range c.Steps {
		if !hasIncoming[s.ID] {
			roots[s.ID] = true
		}
	}

	return roots
}

// incoming returns the dependency edges pointing at the given step.
func (c *Chain) incoming(stepID string) []Dependency {
	var edges []Dependency

	for _, d := range c.Dependencies {
		if d.Downstream == stepID {
			edges = append(edges, d)
		}
	}

	return edges
}

// NewChainEngine creates the dependency engine. run is invoked for every step
// released to PENDING (typically Runner.Run in a goroutine); nil leaves
// released steps PENDING for an external dispatcher.
func NewChainEngine(chains ChainStore, jobs JobStore, run func(ctx context.Context, jobID string), logger *slog.Logger) *ChainEngine {
	if logger == nil {
		logger = slog.Default()
	}

	return &ChainEngine{
		chains: chains,
		jobs:   jobs,
		run:    run,
		logger: logger,
	}
}

// Define validates and persists a chain definition.
func (e *ChainEngine) Define(ctx context.Context, chain *Chain) error {
	if chain.ID == "" {
		chain.ID = uuid.NewString()
	}

	if chain.CreatedAt.IsZero() {
		chain.CreatedAt = time.Now().UTC()
	}

	if err := chain.Validate(); err != nil {
		return err
	}

	return e.chains.CreateChain(ctx, chain)
}

// Execute starts a chain: a job is created for every step, roots PENDING and
// everything else BLOCKED, and each root is handed to the run callback.
func (e *ChainEngine) Execute(ctx context.Context, chainID string) error {
	chain, err := e.chains.GetChain(ctx, chainID)
	if err != nil {
		return err
	}

	roots := chain.roots()
	started := make([]string, 0, len(roots))

	for _, step := range chain.Steps {
		status := StatusBlocked
		if roots[step.ID] {
			status = StatusPending
		}

		job := &Job{
			ID:         uuid.NewString(),
			Source:     step.Source,
			Status:     status,
			Config:     step.Config,
			CreatedAt:  time.Now().UTC(),
			MaxRetries: DefaultMaxRetries,
		}

		if err := e.jobs.Create(ctx, job); err != nil {
			return err
		}

		if err := e.chains.BindJob(ctx, chain.ID, step.ID, job.ID); err != nil {
			return err
		}

		if roots[step.ID] {
			started = append(started, job.ID)
		}
	}

	e.logger.Info("chain started",
		slog.String("chain_id", chain.ID),
		slog.Int("steps", len(chain.Steps)),
		slog.Int("roots", len(started)),
	)

	if e.run != nil {
		for _, jobID := range started {
			e.run(ctx, jobID)
		}
	}

	return nil
}

// Publish implements EventSink: job completions advance the owning chain.
// Non-chain jobs are ignored.
func (e *ChainEngine) Publish(ctx context.Context, event CompletionEvent) {
	chainID, _, err := e.chains.JobBinding(ctx, event.JobID)
	if err != nil {
		if !errors.Is(err, ErrChainNotFound) {
			e.logger.Error("chain binding lookup failed",
				slog.String("job_id", event.JobID),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	if err := e.advance(ctx, chainID); err != nil {
		e.logger.Error("chain advancement failed",
			slog.String("chain_id", chainID),
			slog.String("error", err.Error()),
		)
	}
}

// advance releases every BLOCKED step whose incoming edges are all satisfied.
// A job that failed but still has retry budget is not terminal yet, so edges
// conditioned on it stay unresolved until the retry budget is exhausted.
func (e *ChainEngine) advance(ctx context.Context, chainID string) error {
	chain, err := e.chains.GetChain(ctx, chainID)
	if err != nil {
		return err
	}

	bindings, err := e.chains.StepJobs(ctx, chainID)
	if err != nil {
		return err
	}

	statuses := make(map[string]*Job, len(bindings))

	for stepID, jobID := range bindings {
		job, err := e.jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}

		statuses[stepID] = job
	}

	for _, step := range chain.Steps {
		job, ok := statuses[step.ID]
		if !ok || job.Status != StatusBlocked {
			continue
		}

		if !e.edgesSatisfied(chain.incoming(step.ID), statuses) {
			continue
		}

		if err := e.jobs.SetStatus(ctx, job.ID, StatusBlocked, StatusPending); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				// Another worker released this step concurrently.
				continue
			}

			return err
		}

		e.logger.Info("chain step released",
			slog.String("chain_id", chainID),
			slog.String("step_id", step.ID),
			slog.String("job_id", job.ID),
		)

		if e.run != nil {
			e.run(ctx, job.ID)
		}
	}

	return nil
}

// edgesSatisfied checks that every incoming edge is satisfied by a terminal
// upstream status. A FAILED upstream with retry budget remaining is treated
// as still in flight.
func (e *ChainEngine) edgesSatisfied(edges []Dependency, statuses map[string]*Job) bool {
	for _, edge := range edges {
		upstream, ok := statuses[edge.Upstream]
		if !ok {
			return false
		}

		if upstream.Status == StatusFailed && upstream.Retryable() {
			return false
		}

		if !edge.Condition.Satisfied(upstream.Status) {
			return false
		}
	}

	return true
}
