package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/fetch"
)

const defaultWriteBatchSize = 1000

type (
	// WriteResult reports what one writer call accomplished.
	WriteResult struct {
		Inserted int64
		Duration time.Duration
	}

	// TableProvisioner prepares the target table for a schema spec.
	// Implemented by the storage package.
	TableProvisioner interface {
		// Prepare creates the table, indexes, and catalog entry if missing.
		// Idempotent; returns whether the table was newly created.
		Prepare(ctx context.Context, spec *adapter.Spec) (bool, error)
	}

	// RowWriter persists parsed rows with upsert-by-natural-key semantics.
	// Implemented by the storage package.
	RowWriter interface {
		Write(ctx context.Context, spec *adapter.Spec, rows []adapter.Row) (WriteResult, error)
	}

	// Fetcher is the subset of fetch.Client the runner needs; stubbed in tests.
	Fetcher interface {
		Do(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
	}

	// ClientFactory builds (or returns a cached) fetch client for a source.
	ClientFactory func(source string, defaults adapter.FetchDefaults) Fetcher

	// PageMetaParser is an optional adapter capability: sources whose payloads
	// carry explicit continuation flags or totals implement it so the planner
	// can terminate pagination precisely.
	PageMetaParser interface {
		PageMeta(step *adapter.Step, payload []byte) (hasMore *bool, total *int, cursor string)
	}

	// RowEnricher is an optional adapter capability: sources whose natural
	// key includes config-supplied fields (not present in the payload)
	// stamp them onto every parsed row before the write.
	RowEnricher interface {
		Enrich(cfg adapter.Config, rows []adapter.Row) []adapter.Row
	}

	// RecordCounter is an optional adapter capability: offset-paginated
	// sources report the payload's raw record count so the planner can
	// advance past records Parse skipped.
	RecordCounter interface {
		RecordCount(step *adapter.Step, payload []byte) int
	}

	// Runner executes one ingestion job end to end: reserve, provision, fetch,
	// parse, write, complete. All failures land on the job record; the runner
	// itself never brings the process down.
	Runner struct {
		jobs        JobStore
		registry    *adapter.Registry
		provisioner TableProvisioner
		writer      RowWriter
		clients     ClientFactory
		events      EventSink
		retryPolicy RetryPolicy
		logger      *slog.Logger
		batchSize   int
		// requireRows fails jobs that ingest zero rows instead of marking them
		// SUCCESS with a warning.
		requireRows bool
	}

	// RunnerOption configures optional Runner behavior.
	RunnerOption func(*Runner)
)

// WithBatchSize overrides the write batch size (default 1000).
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRequireRows makes zero-row ingests fail instead of succeeding with a
// warning. Some upstream endpoints go silently unavailable; the default keeps
// those jobs SUCCESS with rows_inserted=0.
func WithRequireRows(require bool) RunnerOption {
	return func(r *Runner) {
		r.requireRows = require
	}
}

// WithRetryPolicy overrides the backoff policy used to stamp next_retry_at on
// retryable failures.
func WithRetryPolicy(p RetryPolicy) RunnerOption {
	return func(r *Runner) {
		r.retryPolicy = p
	}
}

// NewRunner wires a job runner from its collaborators.
func NewRunner(
	jobs JobStore,
	registry *adapter.Registry,
	provisioner TableProvisioner,
	writer RowWriter,
	clients ClientFactory,
	events EventSink,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	if events == nil {
		events = NewEventBus()
	}

	r := &Runner{
		jobs:        jobs,
		registry:    registry,
		provisioner: provisioner,
		writer:      writer,
		clients:     clients,
		events:      events,
		retryPolicy: DefaultRetryPolicy(),
		logger:      logger,
		batchSize:   defaultWriteBatchSize,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run executes the job with the given id. The returned error mirrors what was
// recorded on the job; callers that only care about the job record may ignore
// it.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	startedAt := time.Now().UTC()
	if err := r.jobs.Reserve(ctx, jobID, startedAt); err != nil {
		// Another worker won the reservation race, or the job is not PENDING.
		return err
	}

	r.logger.Info("job started",
		slog.String("job_id", jobID),
		slog.String("source", job.Source),
		slog.Int("retry_count", job.RetryCount),
	)

	total, table, runErr := r.execute(ctx, job)

	completedAt := time.Now().UTC()

	if runErr == nil && total == 0 && r.requireRows {
		runErr = fmt.Errorf("%w: source returned no rows", adapter.ErrUnparseablePayload)
	}

	if runErr != nil {
		return r.fail(ctx, job, runErr, startedAt, completedAt)
	}

	if total == 0 {
		r.logger.Warn("job completed with zero rows",
			slog.String("job_id", jobID),
			slog.String("source", job.Source),
		)
	}

	if err := r.jobs.Complete(ctx, jobID, total, completedAt); err != nil {
		return err
	}

	r.logger.Info("job succeeded",
		slog.String("job_id", jobID),
		slog.String("source", job.Source),
		slog.Int64("rows_inserted", total),
		slog.Duration("duration", completedAt.Sub(startedAt)),
	)

	r.events.Publish(ctx, CompletionEvent{
		JobID:        jobID,
		Source:       job.Source,
		Table:        table,
		Status:       StatusSuccess,
		RowsInserted: total,
		Duration:     completedAt.Sub(startedAt),
		CompletedAt:  completedAt,
	})

	return nil
}

// execute walks the adapter's plan, streaming parsed rows to the writer.
// Returns the row total and the target table name.
func (r *Runner) execute(ctx context.Context, job *Job) (int64, string, error) {
	src, err := r.registry.Lookup(job.Source)
	if err != nil {
		return 0, "", err
	}

	spec, err := src.Schema(job.Config)
	if err != nil {
		return 0, "", err
	}

	if err := spec.Validate(); err != nil {
		return 0, "", err
	}

	if _, err := r.provisioner.Prepare(ctx, spec); err != nil {
		return 0, spec.TableName, err
	}

	planner, err := src.Plan(job.Config)
	if err != nil {
		return 0, spec.TableName, err
	}

	client := r.clients(job.Source, src.Defaults())

	var (
		total int64
		last  *adapter.PageInfo
	)

	for {
		if ctx.Err() != nil {
			return total, spec.TableName, &fetch.Error{Kind: fetch.KindCancelled, Err: ctx.Err()}
		}

		step, err := planner.Next(last)
		if err != nil {
			return total, spec.TableName, err
		}

		if step == nil {
			break
		}

		resp, err := client.Do(ctx, &fetch.Request{
			URL:        step.URL,
			Method:     step.Method,
			Query:      step.Query,
			Headers:    step.Headers,
			Body:       step.Body,
			ResourceID: job.ID,
		})
		if err != nil {
			return total, spec.TableName, err
		}

		rows, err := src.Parse(step, resp.Body)
		if err != nil {
			return total, spec.TableName, err
		}

		if enricher, ok := src.(RowEnricher); ok {
			rows = enricher.Enrich(job.Config, rows)
		}

		// Stream rows out in fixed-size batches so a huge page cannot hold
		// the whole payload in a single transaction.
		for start := 0; start < len(rows); start += r.batchSize {
			end := start + r.batchSize
			if end > len(rows) {
				end = len(rows)
			}

			res, err := r.writer.Write(ctx, spec, rows[start:end])
			if err != nil {
				return total, spec.TableName, err
			}

			total += res.Inserted
		}

		info := &adapter.PageInfo{Step: *step, Rows: len(rows)}
		if meta, ok := src.(PageMetaParser); ok {
			info.HasMore, info.Total, info.Cursor = meta.PageMeta(step, resp.Body)
		}

		if counter, ok := src.(RecordCounter); ok {
			info.Records = counter.RecordCount(step, resp.Body)
		}

		last = info
	}

	return total, spec.TableName, nil
}

// fail records a failure on the job and emits the completion event.
// Retryable failures get next_retry_at stamped from the retry policy.
func (r *Runner) fail(ctx context.Context, job *Job, runErr error, startedAt, completedAt time.Time) error {
	details := errorDetails(runErr)

	var nextRetryAt *time.Time

	if retryable(runErr) && job.RetryCount < job.MaxRetries {
		at := completedAt.Add(r.retryPolicy.Delay(job.RetryCount))
		nextRetryAt = &at
	}

	r.logger.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("source", job.Source),
		slog.String("error", runErr.Error()),
		slog.String("exception_type", details["exception_type"].(string)),
		slog.Bool("retryable", nextRetryAt != nil),
	)

	if err := r.jobs.Fail(ctx, job.ID, runErr.Error(), details, nextRetryAt, completedAt); err != nil {
		return err
	}

	r.events.Publish(ctx, CompletionEvent{
		JobID:       job.ID,
		Source:      job.Source,
		Status:      StatusFailed,
		Error:       runErr.Error(),
		Duration:    completedAt.Sub(startedAt),
		CompletedAt: completedAt,
	})

	return runErr
}

// retryable applies the failure taxonomy: config errors are caller-visible
// and terminal, fetch errors defer to their kind, anything else (parse
// failures, write failures, unexpected bugs) stays retryable.
func retryable(err error) bool {
	if errors.Is(err, adapter.ErrMissingConfig) ||
		errors.Is(err, adapter.ErrInvalidConfig) ||
		errors.Is(err, adapter.ErrUnknownSource) {
		return false
	}

	var fe *fetch.Error
	if errors.As(err, &fe) {
		return fetch.Retryable(err)
	}

	return !errors.Is(err, context.Canceled)
}

// errorDetails builds the structured error_details map stored on the job.
func errorDetails(err error) map[string]any {
	details := map[string]any{
		"exception_type": exceptionType(err),
	}

	var fe *fetch.Error
	if errors.As(err, &fe) {
		if fe.Status > 0 {
			details["status"] = fe.Status
		}

		if fe.Attempts > 0 {
			details["attempts"] = fe.Attempts
		}

		if fe.URL != "" {
			details["url"] = fe.URL
		}
	}

	return details
}

func exceptionType(err error) string {
	switch {
	case errors.Is(err, adapter.ErrMissingConfig), errors.Is(err, adapter.ErrInvalidConfig):
		return "config_error"
	case errors.Is(err, adapter.ErrUnknownSource):
		return "unknown_source"
	case errors.Is(err, adapter.ErrUnparseablePayload):
		return "parse_error"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	var fe *fetch.Error
	if errors.As(err, &fe) {
		return "fetch_" + fe.Kind.String()
	}

	return "write_error"
}

// clientCache memoizes per-source fetch clients so every job for a source
// shares one semaphore and one pacing limiter.
type clientCache struct {
	mu      sync.Mutex
	clients map[string]Fetcher
	logger  *slog.Logger
}

// NewClientFactory returns a ClientFactory backed by a per-source cache.
func NewClientFactory(logger *slog.Logger) ClientFactory {
	cache := &clientCache{
		clients: make(map[string]Fetcher),
		logger:  logger,
	}

	return cache.get
}

func (c *clientCache) get(source string, defaults adapter.FetchDefaults) Fetcher {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[source]; ok {
		return client
	}

	client := fetch.NewClient(fetch.Config{
		MaxConcurrency: defaults.MaxConcurrency,
		MaxRetries:     defaults.MaxRetries,
		RateInterval:   defaults.RateInterval,
		Timeout:        defaults.Timeout,
	}, c.logger)

	c.clients[source] = client

	return client
}
