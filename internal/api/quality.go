package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ingestor-io/ingestor/internal/quality"
)

// handleProfileTable triggers a full quality pass on a table and returns the
// resulting composite score. Runs synchronously; callers use it for on-demand
// checks outside the post-ingest trigger.
func (s *Server) handleProfileTable(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("Quality pipeline is not configured"))

		return
	}

	tableName := r.PathValue("table")

	score, err := s.deps.Pipeline.RunTable(r.Context(), tableName)
	if err != nil {
		s.logger.Error("on-demand quality pass failed",
			"table", tableName,
			"error", err.Error(),
		)

		WriteErrorResponse(w, r, s.logger,
			InternalServerError(fmt.Sprintf("Quality pass failed for table %q", tableName)))

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"table":        score.TableName,
		"completeness": score.Completeness,
		"freshness":    score.Freshness,
		"validity":     score.Validity,
		"consistency":  score.Consistency,
		"composite":    score.Composite,
		"computed_at":  score.ComputedAt,
	})
}

// handleListAlerts returns open alerts, optionally filtered by ?table=.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quality == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("Quality pipeline is not configured"))

		return
	}

	alerts, err := s.deps.Quality.OpenAlerts(r.Context(), r.URL.Query().Get("table"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load alerts"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"alerts": alerts})
}

// handleAcknowledgeAlert moves an open alert to acknowledged.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quality == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("Quality pipeline is not configured"))

		return
	}

	alertID := r.PathValue("id")

	if err := s.deps.Quality.SetAlertStatus(r.Context(), alertID, quality.AlertAcknowledged); err != nil {
		if errors.Is(err, quality.ErrAlertNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("Alert %q not found", alertID)))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to update alert"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"alert_id": alertID,
		"status":   string(quality.AlertAcknowledged),
	})
}
