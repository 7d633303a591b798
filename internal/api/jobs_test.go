package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestor-io/ingestor/internal/engine"
)

func decodeJSON[T any](t *testing.T, body string) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))

	return v
}

func TestHandleIngest_Accepted(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/sources/stub/ingest",
		strings.NewReader(`{"config": {"api_key": "k", "series_id": "GDP"}}`))

	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeJSON[ingestResponse](t, rec.Body.String())
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, string(engine.StatusPending), resp.Status)
	assert.Equal(t, "/api/v1/jobs/"+resp.JobID, resp.CheckURL)

	job, err := ts.jobs.Get(t.Context(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "stub", job.Source)
	assert.Equal(t, engine.DefaultMaxRetries, job.MaxRetries)
	assert.Equal(t, "GDP", job.Config["series_id"])
}

func TestHandleIngest_MaxRetriesOverride(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/sources/stub/ingest",
		strings.NewReader(`{"config": {"api_key": "k"}, "max_retries": 0}`))

	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeJSON[ingestResponse](t, rec.Body.String())

	job, err := ts.jobs.Get(t.Context(), resp.JobID)
	require.NoError(t, err)
	assert.Zero(t, job.MaxRetries)
}

func TestHandleIngest_UnknownSource(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/sources/nonexistent/ingest",
		strings.NewReader(`{"config": {}}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandleIngest_InvalidJSON(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/sources/stub/ingest",
		strings.NewReader(`{not json`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngest_MissingConfigKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/sources/stub/ingest",
		strings.NewReader(`{"config": {}}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)

	problem := decodeJSON[ProblemDetail](t, rec.Body.String())
	assert.Contains(t, problem.Detail, "api_key",
		"the rejected config key is named so a typo never burns a retry budget")
}

func TestHandleGetJob(t *testing.T) {
	ts := newTestServer(t)

	rows := int64(5037)
	job := seedJob(t, ts.jobs, engine.StatusSuccess, func(j *engine.Job) {
		j.RowsInserted = &rows
	})

	rec := ts.do(http.MethodGet, "/api/v1/jobs/"+job.ID, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[jobResponse](t, rec.Body.String())
	assert.Equal(t, job.ID, resp.JobID)
	assert.Equal(t, "SUCCESS", resp.Status)
	require.NotNil(t, resp.RowsInserted)
	assert.Equal(t, rows, *resp.RowsInserted)
}

func TestHandleGetJob_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/jobs/absent", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListJobs(t *testing.T) {
	ts := newTestServer(t)

	seedJob(t, ts.jobs, engine.StatusSuccess)
	seedJob(t, ts.jobs, engine.StatusFailed)
	seedJob(t, ts.jobs, engine.StatusFailed)

	rec := ts.do(http.MethodGet, "/api/v1/jobs?status=FAILED", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[map[string][]jobResponse](t, rec.Body.String())
	assert.Len(t, resp["jobs"], 2)
}

func TestHandleListJobs_UnknownStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/jobs?status=EXPLODED", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetryJob(t *testing.T) {
	ts := newTestServer(t)

	now := time.Now().UTC()
	job := seedJob(t, ts.jobs, engine.StatusFailed, func(j *engine.Job) {
		j.ErrorMessage = "transient fetch failure"
		j.CompletedAt = &now
	})

	rec := ts.do(http.MethodPost, "/api/v1/jobs/"+job.ID+"/retry", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[jobResponse](t, rec.Body.String())
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, 1, resp.RetryCount)
	assert.Empty(t, resp.ErrorMessage, "the in-place reset clears the error record")
}

func TestHandleRetryJob_NotRetryable(t *testing.T) {
	ts := newTestServer(t)

	job := seedJob(t, ts.jobs, engine.StatusSuccess)

	rec := ts.do(http.MethodPost, "/api/v1/jobs/"+job.ID+"/retry", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleRetryJob_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/jobs/absent/retry", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
