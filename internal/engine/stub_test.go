package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ingestor-io/ingestor/internal/adapter"
)

// memJobStore is an in-memory JobStore honoring the same guarded transitions
// as the SQL implementation.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

var _ JobStore = (*memJobStore)(nil)

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*Job)}
}

func (s *memJobStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate job id %s", job.ID)
	}

	clone := *job
	s.jobs[job.ID] = &clone

	return nil
}

func (s *memJobStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	clone := *job

	return &clone, nil
}

func (s *memJobStore) List(_ context.Context, status Status, source string, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job

	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}

		if source != "" && job.Source != source {
			continue
		}

		clone := *job
		out = append(out, &clone)

		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

func (s *memJobStore) Reserve(_ context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	if job.Status != StatusPending {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, job.Status, StatusRunning)
	}

	job.Status = StatusRunning
	job.StartedAt = &startedAt

	return nil
}

func (s *memJobStore) Complete(_ context.Context, id string, rowsInserted int64, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	if job.Status != StatusRunning {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, job.Status, StatusSuccess)
	}

	job.Status = StatusSuccess
	job.RowsInserted = &rowsInserted
	job.CompletedAt = &completedAt

	return nil
}

func (s *memJobStore) Fail(_ context.Context, id, message string, details map[string]any, nextRetryAt *time.Time, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	if job.Status != StatusRunning {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, job.Status, StatusFailed)
	}

	job.Status = StatusFailed
	job.ErrorMessage = message
	job.ErrorDetails = details
	job.NextRetryAt = nextRetryAt
	job.CompletedAt = &completedAt

	return nil
}

func (s *memJobStore) ResetForRetry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	if job.Status != StatusFailed || job.RetryCount >= job.MaxRetries {
		return ErrJobNotRetryable
	}

	job.Status = StatusPending
	job.StartedAt = nil
	job.CompletedAt = nil
	job.ErrorMessage = ""
	job.ErrorDetails = nil
	job.NextRetryAt = nil
	job.RetryCount++

	return nil
}

func (s *memJobStore) DueRetries(_ context.Context, now time.Time, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job

	for _, job := range s.jobs {
		if !job.RetryDue(now) {
			continue
		}

		clone := *job
		due = append(due, &clone)

		if limit > 0 && len(due) == limit {
			break
		}
	}

	return due, nil
}

func (s *memJobStore) SetStatus(_ context.Context, id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	if job.Status != from {
		return fmt.Errorf("%w: expected %s, job is %s", ErrInvalidTransition, from, job.Status)
	}

	job.Status = to

	return nil
}

// setStatus force-writes a status for test setup, bypassing guards.
func (s *memJobStore) setStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[id].Status = status
}

// memChainStore is an in-memory ChainStore.
type memChainStore struct {
	mu       sync.Mutex
	chains   map[string]*Chain
	jobStep  map[string][2]string
	stepJobs map[string]map[string]string
}

var _ ChainStore = (*memChainStore)(nil)

func newMemChainStore() *memChainStore {
	return &memChainStore{
		chains:   make(map[string]*Chain),
		jobStep:  make(map[string][2]string),
		stepJobs: make(map[string]map[string]string),
	}
}

func (s *memChainStore) CreateChain(_ context.Context, chain *Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chains[chain.ID] = chain

	return nil
}

func (s *memChainStore) GetChain(_ context.Context, id string) (*Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, ok := s.chains[id]
	if !ok {
		return nil, ErrChainNotFound
	}

	return chain, nil
}

func (s *memChainStore) BindJob(_ context.Context, chainID, stepID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobStep[jobID] = [2]string{chainID, stepID}

	if s.stepJobs[chainID] == nil {
		s.stepJobs[chainID] = make(map[string]string)
	}

	s.stepJobs[chainID][stepID] = jobID

	return nil
}

func (s *memChainStore) JobBinding(_ context.Context, jobID string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	binding, ok := s.jobStep[jobID]
	if !ok {
		return "", "", ErrChainNotFound
	}

	return binding[0], binding[1], nil
}

func (s *memChainStore) StepJobs(_ context.Context, chainID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.stepJobs[chainID]))
	for step, job := range s.stepJobs[chainID] {
		out[step] = job
	}

	return out, nil
}

// memScheduleStore is an in-memory ScheduleStore.
type memScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
}

var _ ScheduleStore = (*memScheduleStore)(nil)

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{schedules: make(map[string]*Schedule)}
}

func (s *memScheduleStore) CreateSchedule(_ context.Context, schedule *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *schedule
	s.schedules[schedule.ID] = &clone

	return nil
}

func (s *memScheduleStore) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}

	clone := *schedule

	return &clone, nil
}

func (s *memScheduleStore) ListSchedules(_ context.Context, enabledOnly bool) ([]*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Schedule

	for _, schedule := range s.schedules {
		if enabledOnly && !schedule.Enabled {
			continue
		}

		clone := *schedule
		out = append(out, &clone)
	}

	return out, nil
}

func (s *memScheduleStore) SetScheduleEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return ErrScheduleNotFound
	}

	schedule.Enabled = enabled

	return nil
}

func (s *memScheduleStore) DueSchedules(_ context.Context, now time.Time, limit int) ([]*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Schedule

	for _, schedule := range s.schedules {
		if !schedule.Enabled || schedule.NextRunAt.After(now) {
			continue
		}

		clone := *schedule
		due = append(due, &clone)

		if limit > 0 && len(due) == limit {
			break
		}
	}

	return due, nil
}

func (s *memScheduleStore) MarkDispatched(_ context.Context, id string, ranAt, nextRunAt time.Time, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return ErrScheduleNotFound
	}

	schedule.LastRunAt = &ranAt
	schedule.NextRunAt = nextRunAt
	schedule.LastJobID = jobID

	return nil
}

// stubProvisioner records prepared specs.
type stubProvisioner struct {
	mu    sync.Mutex
	specs []*adapter.Spec
	err   error
}

var _ TableProvisioner = (*stubProvisioner)(nil)

func (p *stubProvisioner) Prepare(_ context.Context, spec *adapter.Spec) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return false, p.err
	}

	p.specs = append(p.specs, spec)

	return len(p.specs) == 1, nil
}

// stubWriter accumulates written rows and records batch sizes.
type stubWriter struct {
	mu      sync.Mutex
	rows    []adapter.Row
	batches []int
	err     error
}

var _ RowWriter = (*stubWriter)(nil)

func (w *stubWriter) Write(_ context.Context, _ *adapter.Spec, rows []adapter.Row) (WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return WriteResult{}, w.err
	}

	w.rows = append(w.rows, rows...)
	w.batches = append(w.batches, len(rows))

	return WriteResult{Inserted: int64(len(rows))}, nil
}

// captureSink records published completion events.
type captureSink struct {
	mu     sync.Mutex
	events []CompletionEvent
}

var _ EventSink = (*captureSink)(nil)

func (s *captureSink) Publish(_ context.Context, event CompletionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
}

func (s *captureSink) all() []CompletionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CompletionEvent, len(s.events))
	copy(out, s.events)

	return out
}
