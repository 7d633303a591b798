package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestor-io/ingestor/internal/quality"
)

func TestHandleProfileTable_PipelineNotConfigured(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/quality/tables/eia_petroleum_pri/profile", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListAlerts(t *testing.T) {
	ts := newTestServer(t, func(deps *Dependencies) {
		deps.Quality = &stubQualityStore{alerts: []*quality.Alert{
			{ID: "a-1", TableName: "eia_petroleum_pri", Type: "row_count_drift", Status: quality.AlertOpen},
			{ID: "a-2", TableName: "fred_gdp", Type: "null_pct_jump", Status: quality.AlertOpen},
		}}
	})

	rec := ts.do(http.MethodGet, "/api/v1/quality/alerts?table=fred_gdp", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[map[string][]*quality.Alert](t, rec.Body.String())
	require.Len(t, resp["alerts"], 1)
	assert.Equal(t, "a-2", resp["alerts"][0].ID)
}

func TestHandleListAlerts_NotConfigured(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/quality/alerts", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAcknowledgeAlert(t *testing.T) {
	store := &stubQualityStore{alerts: []*quality.Alert{
		{ID: "a-1", TableName: "eia_petroleum_pri", Status: quality.AlertOpen},
	}}

	ts := newTestServer(t, func(deps *Dependencies) {
		deps.Quality = store
	})

	rec := ts.do(http.MethodPost, "/api/v1/quality/alerts/a-1/acknowledge", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, quality.AlertAcknowledged, store.alerts[0].Status)
}

func TestHandleAcknowledgeAlert_NotFound(t *testing.T) {
	ts := newTestServer(t, func(deps *Dependencies) {
		deps.Quality = &stubQualityStore{}
	})

	rec := ts.do(http.MethodPost, "/api/v1/quality/alerts/absent/acknowledge", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[healthResponse](t, rec.Body.String())
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ingestor", resp.Service)
}

func TestHandleNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
