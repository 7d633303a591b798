package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/engine"
	"github.com/ingestor-io/ingestor/internal/quality"
	"github.com/ingestor-io/ingestor/internal/storage"
)

// memJobStore is an in-memory JobStore for handler tests. It honors the same
// guarded transitions as the SQL store.
type memJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*engine.Job
	stats []storage.SourceStats
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*engine.Job)}
}

var _ JobStore = (*memJobStore)(nil)

func (m *memJobStore) Create(_ context.Context, job *engine.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *job
	m.jobs[job.ID] = &clone

	return nil
}

func (m *memJobStore) Get(_ context.Context, id string) (*engine.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, engine.ErrJobNotFound
	}

	clone := *job

	return &clone, nil
}

func (m *memJobStore) List(_ context.Context, status engine.Status, source string, limit int) ([]*engine.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*engine.Job

	for _, job := range m.jobs {
		if status != "" && job.Status != status {
			continue
		}

		if source != "" && job.Source != source {
			continue
		}

		clone := *job
		out = append(out, &clone)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (m *memJobStore) Reserve(_ context.Context, id string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return engine.ErrJobNotFound
	}

	if job.Status != engine.StatusPending {
		return engine.ErrInvalidTransition
	}

	job.Status = engine.StatusRunning
	job.StartedAt = &startedAt

	return nil
}

func (m *memJobStore) Complete(_ context.Context, id string, rowsInserted int64, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return engine.ErrJobNotFound
	}

	if job.Status != engine.StatusRunning {
		return engine.ErrInvalidTransition
	}

	job.Status = engine.StatusSuccess
	job.RowsInserted = &rowsInserted
	job.CompletedAt = &completedAt

	return nil
}

func (m *memJobStore) Fail(_ context.Context, id string, message string, details map[string]any, nextRetryAt *time.Time, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return engine.ErrJobNotFound
	}

	if job.Status != engine.StatusRunning {
		return engine.ErrInvalidTransition
	}

	job.Status = engine.StatusFailed
	job.ErrorMessage = message
	job.ErrorDetails = details
	job.NextRetryAt = nextRetryAt
	job.CompletedAt = &completedAt

	return nil
}

func (m *memJobStore) ResetForRetry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return engine.ErrJobNotFound
	}

	if job.Status != engine.StatusFailed || job.RetryCount >= job.MaxRetries {
		return engine.ErrJobNotRetryable
	}

	job.Status = engine.StatusPending
	job.RetryCount++
	job.StartedAt = nil
	job.CompletedAt = nil
	job.ErrorMessage = ""
	job.ErrorDetails = nil
	job.NextRetryAt = nil

	return nil
}

func (m *memJobStore) DueRetries(_ context.Context, now time.Time, limit int) ([]*engine.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*engine.Job

	for _, job := range m.jobs {
		if job.RetryDue(now) && len(out) < limit {
			clone := *job
			out = append(out, &clone)
		}
	}

	return out, nil
}

func (m *memJobStore) SetStatus(_ context.Context, id string, from, to engine.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return engine.ErrJobNotFound
	}

	if job.Status != from {
		return engine.ErrInvalidTransition
	}

	job.Status = to

	return nil
}

func (m *memJobStore) SourceStats(_ context.Context, _ time.Time) ([]storage.SourceStats, error) {
	return m.stats, nil
}

func (m *memJobStore) put(t *testing.T, job *engine.Job) {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *job
	m.jobs[job.ID] = &clone
}

// memChainStore is an in-memory ChainStore for handler tests.
type memChainStore struct {
	mu       sync.Mutex
	chains   map[string]*engine.Chain
	stepJobs map[string]map[string]string
}

func newMemChainStore() *memChainStore {
	return &memChainStore{
		chains:   make(map[string]*engine.Chain),
		stepJobs: make(map[string]map[string]string),
	}
}

var _ engine.ChainStore = (*memChainStore)(nil)

func (m *memChainStore) CreateChain(_ context.Context, chain *engine.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chains[chain.ID] = chain

	return nil
}

func (m *memChainStore) GetChain(_ context.Context, id string) (*engine.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain, ok := m.chains[id]
	if !ok {
		return nil, engine.ErrChainNotFound
	}

	return chain, nil
}

func (m *memChainStore) BindJob(_ context.Context, chainID, stepID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stepJobs[chainID] == nil {
		m.stepJobs[chainID] = make(map[string]string)
	}

	m.stepJobs[chainID][stepID] = jobID

	return nil
}

func (m *memChainStore) JobBinding(_ context.Context, jobID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for chainID, steps := range m.stepJobs {
		for stepID, id := range steps {
			if id == jobID {
				return chainID, stepID, nil
			}
		}
	}

	return "", "", engine.ErrChainNotFound
}

func (m *memChainStore) StepJobs(_ context.Context, chainID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.stepJobs[chainID]))
	for stepID, jobID := range m.stepJobs[chainID] {
		out[stepID] = jobID
	}

	return out, nil
}

// stubAdapter is a minimal source requiring an api_key config value.
type stubAdapter struct{}

var _ adapter.Adapter = stubAdapter{}

func (stubAdapter) Name() string { return "stub" }

func (stubAdapter) Defaults() adapter.FetchDefaults { return adapter.FetchDefaults{} }

func (stubAdapter) Schema(cfg adapter.Config) (*adapter.Spec, error) {
	if _, err := cfg.Require("api_key"); err != nil {
		return nil, err
	}

	return &adapter.Spec{}, nil
}

func (stubAdapter) Plan(adapter.Config) (adapter.Planner, error) { return nil, nil }

func (stubAdapter) Parse(*adapter.Step, []byte) ([]adapter.Row, error) { return nil, nil }

// stubQualityStore overrides the alert surface; everything else panics if a
// handler unexpectedly reaches for it.
type stubQualityStore struct {
	quality.Store

	mu     sync.Mutex
	alerts []*quality.Alert
}

func (s *stubQualityStore) OpenAlerts(_ context.Context, tableName string) ([]*quality.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*quality.Alert

	for _, alert := range s.alerts {
		if alert.Status != quality.AlertOpen {
			continue
		}

		if tableName != "" && alert.TableName != tableName {
			continue
		}

		out = append(out, alert)
	}

	return out, nil
}

func (s *stubQualityStore) SetAlertStatus(_ context.Context, id string, status quality.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range s.alerts {
		if alert.ID == id {
			alert.Status = status
			return nil
		}
	}

	return quality.ErrAlertNotFound
}

type testServer struct {
	handler http.Handler
	jobs    *memJobStore
	chains  *memChainStore
}

// newTestServer assembles a server over in-memory stores, without the
// middleware chain. No runner is attached, so accepted jobs stay PENDING.
func newTestServer(t *testing.T, mutate ...func(*Dependencies)) *testServer {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	jobs := newMemJobStore()
	chains := newMemChainStore()

	registry := adapter.NewRegistry()
	registry.Register(stubAdapter{})

	deps := Dependencies{
		Jobs:     jobs,
		Registry: registry,
		Retries:  engine.NewScheduler(jobs, nil, logger),
		Chains:   engine.NewChainEngine(chains, jobs, nil, logger),
	}

	for _, m := range mutate {
		m(&deps)
	}

	server := &Server{
		logger: logger,
		config: &ServerConfig{
			Port:            8080,
			Host:            "127.0.0.1",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
			MaxRequestSize:  1 << 20,
		},
		deps: deps,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	return &testServer{handler: mux, jobs: jobs, chains: chains}
}

func (ts *testServer) do(method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()

	ts.handler.ServeHTTP(rec, req)

	return rec
}

func seedJob(t *testing.T, jobs *memJobStore, status engine.Status, mutate ...func(*engine.Job)) *engine.Job {
	t.Helper()

	job := &engine.Job{
		ID:         uuid.NewString(),
		Source:     "stub",
		Status:     status,
		Config:     adapter.Config{"api_key": "k"},
		CreatedAt:  time.Now().UTC(),
		MaxRetries: engine.DefaultMaxRetries,
	}

	for _, m := range mutate {
		m(job)
	}

	jobs.put(t, job)

	return job
}
