package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/engine"
)

const defaultJobListLimit = 50

type (
	// ingestRequest is the POST body for job submission. Config keys are
	// source-specific; max_retries defaults to the engine's budget.
	ingestRequest struct {
		Config     map[string]string `json:"config"`
		MaxRetries *int              `json:"max_retries,omitempty"`
	}

	// ingestResponse acknowledges an accepted job.
	ingestResponse struct {
		JobID    string `json:"job_id"`
		Status   string `json:"status"`
		CheckURL string `json:"check_url"`
	}

	// jobResponse is the wire shape of one job record.
	jobResponse struct {
		JobID        string            `json:"job_id"`
		Source       string            `json:"source"`
		Status       string            `json:"status"`
		Config       map[string]string `json:"config,omitempty"`
		CreatedAt    time.Time         `json:"created_at"`
		StartedAt    *time.Time        `json:"started_at,omitempty"`
		CompletedAt  *time.Time        `json:"completed_at,omitempty"`
		RowsInserted *int64            `json:"rows_inserted,omitempty"`
		ErrorMessage string            `json:"error_message,omitempty"`
		ErrorDetails map[string]any    `json:"error_details,omitempty"`
		RetryCount   int               `json:"retry_count"`
		MaxRetries   int               `json:"max_retries"`
		NextRetryAt  *time.Time        `json:"next_retry_at,omitempty"`
		ParentJobID  string            `json:"parent_job_id,omitempty"`
	}
)

func toJobResponse(job *engine.Job) jobResponse {
	return jobResponse{
		JobID:        job.ID,
		Source:       job.Source,
		Status:       string(job.Status),
		Config:       job.Config,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		RowsInserted: job.RowsInserted,
		ErrorMessage: job.ErrorMessage,
		ErrorDetails: job.ErrorDetails,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		NextRetryAt:  job.NextRetryAt,
		ParentJobID:  job.ParentJobID,
	}
}

// handleIngest accepts a job for the source in the path, validates the
// config against the adapter, persists a PENDING job, and starts it.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("src")

	src, err := s.deps.Registry.Lookup(source)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("Unknown source %q", source)))

		return
	}

	var req ingestRequest

	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body must be valid JSON"))

		return
	}

	cfg := adapter.Config(req.Config)

	// Schema validation catches bad configs before a job row exists, so a
	// typo never burns a retry budget.
	if _, err := src.Schema(cfg); err != nil {
		if errors.Is(err, adapter.ErrMissingConfig) || errors.Is(err, adapter.ErrInvalidConfig) {
			WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to validate job config"))

		return
	}

	maxRetries := engine.DefaultMaxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	job := &engine.Job{
		ID:         uuid.NewString(),
		Source:     source,
		Status:     engine.StatusPending,
		Config:     cfg,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	}

	if err := s.deps.Jobs.Create(r.Context(), job); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create job"))

		return
	}

	s.runJob(job.ID)

	s.writeJSON(w, r, http.StatusCreated, ingestResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		CheckURL: "/api/v1/jobs/" + job.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := s.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, engine.ErrJobNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("Job %q not found", jobID)))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load job"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := engine.Status(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		WriteErrorResponse(w, r, s.logger, BadRequest(fmt.Sprintf("Unknown status %q", status)))

		return
	}

	jobs, err := s.deps.Jobs.List(r.Context(), status, r.URL.Query().Get("source"), defaultJobListLimit)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list jobs"))

		return
	}

	responses := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, toJobResponse(job))
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"jobs": responses})
}

// handleRetryJob resets a FAILED job in place and restarts it.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := s.deps.Retries.MarkForRetry(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, engine.ErrJobNotFound):
			WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("Job %q not found", jobID)))
		case errors.Is(err, engine.ErrJobNotRetryable):
			WriteErrorResponse(w, r, s.logger, Conflict(err.Error()))
		default:
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to retry job"))
		}

		return
	}

	s.runJob(jobID)

	job, err := s.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load job"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toJobResponse(job))
}
