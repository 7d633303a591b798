package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ingestor-io/ingestor/internal/engine"
)

// defaultPipelineTimeout bounds one full quality pass over a table.
const defaultPipelineTimeout = 5 * time.Minute

type (
	// PipelineConfig is the YAML shape for cross checks and SLA targets.
	PipelineConfig struct {
		CrossChecks []CrossCheck `yaml:"cross_checks"`
		SLATargets  []SLATarget  `yaml:"sla_targets"`
	}

	// Pipeline runs the full quality pass after each successful ingest:
	// profile, seed, evaluate, cross-check, detect anomalies, score. It
	// subscribes to the completion-event bus and never blocks job completion.
	Pipeline struct {
		profiler  *Profiler
		seeder    *Seeder
		evaluator *Evaluator
		validator *Validator
		detector  *Detector
		scorer    *Scorer
		store     Store
		config    PipelineConfig
		logger    *slog.Logger
		timeout   time.Duration

		wg sync.WaitGroup
	}

	// PipelineOption configures optional Pipeline behavior.
	PipelineOption func(*Pipeline)
)

// Pipeline consumes job completion events.
var _ engine.EventSink = (*Pipeline)(nil)

// WithPipelineTimeout overrides the per-table pass deadline.
func WithPipelineTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// LoadPipelineConfig parses the cross-check and SLA declarations. A missing
// file yields an empty config so deployments without declarations need no
// placeholder file.
func LoadPipelineConfig(path string) (PipelineConfig, error) {
	var config PipelineConfig

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}

		return config, fmt.Errorf("read pipeline config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &config); err != nil {
		return config, fmt.Errorf("parse pipeline config %s: %w", path, err)
	}

	for _, check := range config.CrossChecks {
		if err := check.Validate(); err != nil {
			return config, err
		}
	}

	return config, nil
}

// NewPipeline wires a quality pipeline from its parts.
func NewPipeline(db Querier, store Store, config PipelineConfig, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		profiler:  NewProfiler(db, logger),
		seeder:    NewSeeder(store, logger),
		evaluator: NewEvaluator(db, store, logger),
		validator: NewValidator(db, store, logger),
		detector:  NewDetector(store, logger),
		scorer:    NewScorer(db, store, logger),
		store:     store,
		config:    config,
		logger:    logger,
		timeout:   defaultPipelineTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Publish implements engine.EventSink. Successful ingests trigger an
// asynchronous quality pass on the target table; failures and events without
// a table are ignored. Errors are logged, never surfaced: quality is
// best-effort relative to the ingest itself.
func (p *Pipeline) Publish(_ context.Context, event engine.CompletionEvent) {
	if event.Status != engine.StatusSuccess || event.Table == "" {
		return
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if _, err := p.RunTable(ctx, event.Table); err != nil {
			p.logger.Error("quality pass failed",
				slog.String("table", event.Table),
				slog.String("job_id", event.JobID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until in-flight quality passes finish. Called on shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// RunTable executes one full quality pass over a table and returns the
// resulting composite score.
func (p *Pipeline) RunTable(ctx context.Context, tableName string) (*Score, error) {
	snapshot, err := p.profiler.Profile(ctx, tableName)
	if err != nil {
		return nil, err
	}

	if err := p.store.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	if _, err := p.seeder.Seed(ctx, snapshot); err != nil {
		return nil, err
	}

	results, err := p.evaluator.Evaluate(ctx, tableName)
	if err != nil {
		return nil, err
	}

	crossResults, err := p.validator.RunAll(ctx, p.config.CrossChecks, tableName)
	if err != nil {
		return nil, err
	}

	if _, err := p.detector.Detect(ctx, tableName); err != nil {
		// Young tables simply have no baseline yet.
		if !errors.Is(err, ErrInsufficientHistory) {
			return nil, err
		}
	}

	score, err := p.scorer.Compute(ctx, snapshot, results, crossResults)
	if err != nil {
		return nil, err
	}

	if err := p.scorer.Enforce(ctx, score, p.config.SLATargets); err != nil {
		return nil, err
	}

	return score, nil
}
