package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultMaxConcurrentTargets = 3

type (
	// Collector produces typed items for one target from one source (a
	// website section, an SEC filing, a news feed).
	Collector interface {
		// Name tags the source for logging and progress reporting.
		Name() string

		// Collect extracts items for the target. An error fails this
		// (target, source) task only; other sources still run.
		Collect(ctx context.Context, target Target) ([]Item, error)
	}

	// Store persists normalized items and collection timestamps.
	// Implemented by the storage package.
	Store interface {
		// UpsertItems writes the items for a target and returns them with
		// IsNew set from the upsert outcome.
		UpsertItems(ctx context.Context, targetID string, items []Item) ([]Item, error)

		// TouchTarget records a successful collection time for the target.
		TouchTarget(ctx context.Context, targetID string, at time.Time) error

		// LastCollections returns the most recent collection time per target.
		LastCollections(ctx context.Context) (map[string]time.Time, error)
	}

	// Orchestrator fans collectors out over registry targets under bounded
	// concurrency, normalizes the results, and persists them.
	Orchestrator struct {
		registry      *Registry
		collectors    []Collector
		store         Store
		logger        *slog.Logger
		maxConcurrent int
		onProgress    func(Progress)
	}

	// OrchestratorOption configures optional Orchestrator behavior.
	OrchestratorOption func(*Orchestrator)

	// RunResult summarizes one collection run.
	RunResult struct {
		Targets   int
		Succeeded int
		Failed    int
		Items     int
		NewItems  int
	}
)

// WithMaxConcurrentTargets caps how many targets collect simultaneously.
func WithMaxConcurrentTargets(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithProgress registers a callback invoked after every completed target.
// Called from collection goroutines; the callback must be safe for
// concurrent use.
func WithProgress(fn func(Progress)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onProgress = fn
	}
}

// NewOrchestrator creates a collection orchestrator.
func NewOrchestrator(
	registry *Registry,
	collectors []Collector,
	store Store,
	logger *slog.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		registry:      registry,
		collectors:    collectors,
		store:         store,
		logger:        logger,
		maxConcurrent: defaultMaxConcurrentTargets,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run executes one collection pass over the targets the filter selects.
// The tracker is live while Run executes, so callers holding it can report
// progress concurrently.
func (o *Orchestrator) Run(ctx context.Context, filter Filter) (*RunResult, *Tracker, error) {
	lastCollected, err := o.store.LastCollections(ctx)
	if err != nil {
		return nil, nil, err
	}

	targets := o.registry.Select(filter, lastCollected, time.Now().UTC())
	tracker := NewTracker(len(targets))

	o.logger.Info("collection run starting",
		slog.Int("targets", len(targets)),
		slog.Int("collectors", len(o.collectors)),
	)

	var (
		mu     sync.Mutex
		result = RunResult{Targets: len(targets)}
		wg     sync.WaitGroup
		sem    = make(chan struct{}, o.maxConcurrent)
	)

	for _, target := range targets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()

			return &result, tracker, ctx.Err()
		}

		wg.Add(1)

		go func(target Target) {
			defer wg.Done()
			defer func() { <-sem }()

			items, newItems, ok := o.collectTarget(ctx, target, tracker)

			mu.Lock()
			defer mu.Unlock()

			result.Items += items
			result.NewItems += newItems

			if ok {
				result.Succeeded++
			} else {
				result.Failed++
			}
		}(target)
	}

	wg.Wait()

	o.logger.Info("collection run finished",
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("items", result.Items),
		slog.Int("new_items", result.NewItems),
	)

	return &result, tracker, nil
}

func (o *Orchestrator) finish(tracker *Tracker, succeeded bool) {
	tracker.Finish(succeeded)

	if o.onProgress != nil {
		o.onProgress(tracker.Snapshot())
	}
}

// collectTarget runs every collector against one target, normalizes, and
// persists. Returns (items persisted, new items, at least one source
// succeeded).
func (o *Orchestrator) collectTarget(ctx context.Context, target Target, tracker *Tracker) (int, int, bool) {
	tracker.Start(target.Name)

	var (
		collected []Item
		succeeded bool
	)

	for _, c := range o.collectors {
		items, err := c.Collect(ctx, target)
		if err != nil {
			o.logger.Warn("collector failed",
				slog.String("target", target.Name),
				slog.String("collector", c.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		succeeded = true

		collected = append(collected, items...)
	}

	if !succeeded {
		o.finish(tracker, false)

		return 0, 0, false
	}

	normalized := Normalize(target.ID, collected)

	persisted, err := o.store.UpsertItems(ctx, target.ID, normalized)
	if err != nil {
		o.logger.Error("failed to persist collected items",
			slog.String("target", target.Name),
			slog.String("error", err.Error()),
		)

		o.finish(tracker, false)

		return 0, 0, false
	}

	newItems := 0

	for _, item := range persisted {
		if item.IsNew {
			newItems++
		}
	}

	if err := o.store.TouchTarget(ctx, target.ID, time.Now().UTC()); err != nil {
		o.logger.Warn("failed to update collection timestamp",
			slog.String("target", target.Name),
			slog.String("error", err.Error()),
		)
	}

	o.finish(tracker, true)

	return len(persisted), newItems, true
}
