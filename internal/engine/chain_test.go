package engine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestor-io/ingestor/internal/adapter"
)

func TestCondition_IsValid(t *testing.T) {
	assert.True(t, OnSuccess.IsValid())
	assert.True(t, OnFailure.IsValid())
	assert.True(t, OnCompletion.IsValid())
	assert.False(t, Condition("on_success").IsValid(), "conditions are case-sensitive")
	assert.False(t, Condition("WHENEVER").IsValid())
}

func TestCondition_Satisfied(t *testing.T) {
	assert.True(t, OnSuccess.Satisfied(StatusSuccess))
	assert.False(t, OnSuccess.Satisfied(StatusFailed))
	assert.False(t, OnSuccess.Satisfied(StatusRunning))

	assert.True(t, OnFailure.Satisfied(StatusFailed))
	assert.False(t, OnFailure.Satisfied(StatusSuccess))

	assert.True(t, OnCompletion.Satisfied(StatusSuccess))
	assert.True(t, OnCompletion.Satisfied(StatusFailed))
	assert.False(t, OnCompletion.Satisfied(StatusPending))
}

func testChainConfig() adapter.Config {
	return adapter.Config{"api_key": "k", "category": "c", "subcategory": "s"}
}

func diamondChain() *Chain {
	return &Chain{
		ID:   "chain-1",
		Name: "diamond",
		Steps: []ChainStep{
			{ID: "extract", Source: "eia", Config: testChainConfig()},
			{ID: "enrich", Source: "fred", Config: testChainConfig()},
			{ID: "cleanup", Source: "rss", Config: testChainConfig()},
			{ID: "report", Source: "treasury", Config: testChainConfig()},
		},
		Dependencies: []Dependency{
			{Upstream: "extract", Downstream: "enrich", Condition: OnSuccess},
			{Upstream: "extract", Downstream: "cleanup", Condition: OnFailure},
			{Upstream: "extract", Downstream: "report", Condition: OnCompletion},
		},
	}
}

func TestChain_Validate_OK(t *testing.T) {
	assert.NoError(t, diamondChain().Validate())
}

func TestChain_Validate_Cycle(t *testing.T) {
	chain := &Chain{
		ID: "cyclic",
		Steps: []ChainStep{
			{ID: "a", Source: "eia"},
			{ID: "b", Source: "eia"},
			{ID: "c", Source: "eia"},
		},
		Dependencies: []Dependency{
			{Upstream: "a", Downstream: "b", Condition: OnSuccess},
			{Upstream: "b", Downstream: "c", Condition: OnSuccess},
			{Upstream: "c", Downstream: "a", Condition: OnSuccess},
		},
	}

	assert.ErrorIs(t, chain.Validate(), ErrChainCyclic)
}

func TestChain_Validate_SelfLoop(t *testing.T) {
	chain := &Chain{
		ID:    "loop",
		Steps: []ChainStep{{ID: "a", Source: "eia"}},
		Dependencies: []Dependency{
			{Upstream: "a", Downstream: "a", Condition: OnSuccess},
		},
	}

	assert.ErrorIs(t, chain.Validate(), ErrChainCyclic)
}

func TestChain_Validate_UnknownStep(t *testing.T) {
	chain := &Chain{
		ID:    "dangling",
		Steps: []ChainStep{{ID: "a", Source: "eia"}},
		Dependencies: []Dependency{
			{Upstream: "ghost", Downstream: "a", Condition: OnSuccess},
		},
	}

	assert.ErrorIs(t, chain.Validate(), ErrUnknownChainStep)
}

func TestChain_Validate_InvalidCondition(t *testing.T) {
	chain := &Chain{
		ID: "bad-cond",
		Steps: []ChainStep{
			{ID: "a", Source: "eia"},
			{ID: "b", Source: "eia"},
		},
		Dependencies: []Dependency{
			{Upstream: "a", Downstream: "b", Condition: "MAYBE"},
		},
	}

	assert.ErrorIs(t, chain.Validate(), ErrInvalidCondition)
}

func TestChainEngine_Define_RejectsCycle(t *testing.T) {
	chains := newMemChainStore()
	engine := NewChainEngine(chains, newMemJobStore(), nil, slog.New(slog.DiscardHandler))

	chain := &Chain{
		Steps: []ChainStep{
			{ID: "a", Source: "eia"},
			{ID: "b", Source: "eia"},
		},
		Dependencies: []Dependency{
			{Upstream: "a", Downstream: "b", Condition: OnSuccess},
			{Upstream: "b", Downstream: "a", Condition: OnSuccess},
		},
	}

	err := engine.Define(context.Background(), chain)

	require.ErrorIs(t, err, ErrChainCyclic)
	assert.Empty(t, chains.chains, "nothing is persisted for a rejected definition")
}

func TestChainEngine_Define_AssignsIDAndTimestamp(t *testing.T) {
	chains := newMemChainStore()
	engine := NewChainEngine(chains, newMemJobStore(), nil, slog.New(slog.DiscardHandler))

	chain := &Chain{Steps: []ChainStep{{ID: "only", Source: "eia"}}}

	require.NoError(t, engine.Define(context.Background(), chain))
	assert.NotEmpty(t, chain.ID)
	assert.False(t, chain.CreatedAt.IsZero())
}

func TestChainEngine_Execute(t *testing.T) {
	chains := newMemChainStore()
	jobs := newMemJobStore()

	var started []string

	run := func(_ context.Context, jobID string) { started = append(started, jobID) }

	engine := NewChainEngine(chains, jobs, run, slog.New(slog.DiscardHandler))

	require.NoError(t, engine.Define(context.Background(), diamondChain()))
	require.NoError(t, engine.Execute(context.Background(), "chain-1"))

	bindings, err := chains.StepJobs(context.Background(), "chain-1")
	require.NoError(t, err)
	require.Len(t, bindings, 4)

	root, err := jobs.Get(context.Background(), bindings["extract"])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, root.Status)

	for _, stepID := range []string{"enrich", "cleanup", "report"} {
		job, err := jobs.Get(context.Background(), bindings[stepID])
		require.NoError(t, err)
		assert.Equal(t, StatusBlocked, job.Status, "step %s", stepID)
	}

	assert.Equal(t, []string{bindings["extract"]}, started, "only roots start immediately")
}

// TestChainEngine_MixedOutcome walks a diamond where the root succeeds:
// the ON_SUCCESS and ON_COMPLETION steps release, the ON_FAILURE step stays
// BLOCKED.
func TestChainEngine_MixedOutcome(t *testing.T) {
	chains := newMemChainStore()
	jobs := newMemJobStore()
	engine := NewChainEngine(chains, jobs, nil, slog.New(slog.DiscardHandler))

	require.NoError(t, engine.Define(context.Background(), diamondChain()))
	require.NoError(t, engine.Execute(context.Background(), "chain-1"))

	bindings, err := chains.StepJobs(context.Background(), "chain-1")
	require.NoError(t, err)

	rootID := bindings["extract"]
	jobs.setStatus(rootID, StatusSuccess)

	engine.Publish(context.Background(), CompletionEvent{JobID: rootID, Status: StatusSuccess})

	enrich, err := jobs.Get(context.Background(), bindings["enrich"])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, enrich.Status, "ON_SUCCESS releases on success")

	report, err := jobs.Get(context.Background(), bindings["report"])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, report.Status, "ON_COMPLETION releases on any terminal outcome")

	cleanup, err := jobs.Get(context.Background(), bindings["cleanup"])
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, cleanup.Status, "ON_FAILURE stays blocked after success")
}

func TestChainEngine_FailureReleasesFailureEdge(t *testing.T) {
	chains := newMemChainStore()
	jobs := newMemJobStore()
	engine := NewChainEngine(chains, jobs, nil, slog.New(slog.DiscardHandler))

	require.NoError(t, engine.Define(context.Background(), diamondChain()))
	require.NoError(t, engine.Execute(context.Background(), "chain-1"))

	bindings, err := chains.StepJobs(context.Background(), "chain-1")
	require.NoError(t, err)

	// Terminal failure: retry budget exhausted.
	rootID := bindings["extract"]
	jobs.mu.Lock()
	jobs.jobs[rootID].Status = StatusFailed
	jobs.jobs[rootID].RetryCount = DefaultMaxRetries
	jobs.mu.Unlock()

	engine.Publish(context.Background(), CompletionEvent{JobID: rootID, Status: StatusFailed})

	cleanup, err := jobs.Get(context.Background(), bindings["cleanup"])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cleanup.Status)

	report, err := jobs.Get(context.Background(), bindings["report"])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, report.Status)

	enrich, err := jobs.Get(context.Background(), bindings["enrich"])
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, enrich.Status)
}

// TestChainEngine_RetryableFailureHoldsChain keeps downstream steps BLOCKED
// while the failed upstream still has retry budget.
func TestChainEngine_RetryableFailureHoldsChain(t *testing.T) {
	chains := newMemChainStore()
	jobs := newMemJobStore()
	engine := NewChainEngine(chains, jobs, nil, slog.New(slog.DiscardHandler))

	require.NoError(t, engine.Define(context.Background(), diamondChain()))
	require.NoError(t, engine.Execute(context.Background(), "chain-1"))

	bindings, err := chains.StepJobs(context.Background(), "chain-1")
	require.NoError(t, err)

	rootID := bindings["extract"]
	jobs.mu.Lock()
	jobs.jobs[rootID].Status = StatusFailed
	jobs.jobs[rootID].RetryCount = 0
	jobs.mu.Unlock()

	engine.Publish(context.Background(), CompletionEvent{JobID: rootID, Status: StatusFailed})

	for _, stepID := range []string{"enrich", "cleanup", "report"} {
		job, err := jobs.Get(context.Background(), bindings[stepID])
		require.NoError(t, err)
		assert.Equal(t, StatusBlocked, job.Status,
			"step %s must wait for the upstream retry budget to exhaust", stepID)
	}
}

func TestChainEngine_Publish_IgnoresNonChainJobs(t *testing.T) {
	chains := newMemChainStore()
	jobs := newMemJobStore()
	engine := NewChainEngine(chains, jobs, nil, slog.New(slog.DiscardHandler))

	// No panic, no action.
	engine.Publish(context.Background(), CompletionEvent{JobID: "standalone", Status: StatusSuccess})
}
