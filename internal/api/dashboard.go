package api

import (
	"net/http"
	"time"

	"github.com/ingestor-io/ingestor/internal/storage"
)

const (
	dashboardDayWindow  = 24 * time.Hour
	dashboardHourWindow = time.Hour

	// degradedFailureRate is the failure fraction above which a source is
	// reported degraded rather than healthy.
	degradedFailureRate = 0.1
)

type (
	// sourceHealth augments raw stats with a derived health state.
	sourceHealth struct {
		storage.SourceStats

		Health string `json:"health"`
	}

	dashboardResponse struct {
		GeneratedAt time.Time      `json:"generated_at"`
		Last24h     []sourceHealth `json:"last_24h"`
		LastHour    []sourceHealth `json:"last_hour"`
		OpenAlerts  int            `json:"open_alerts"`
	}
)

// healthState grades a source by its failure rate inside the window:
// healthy, degraded (>10% failed), or failing (every terminal job failed).
func healthState(stats storage.SourceStats) string {
	terminal := stats.Succeeded + stats.Failed
	if terminal == 0 {
		return "idle"
	}

	if stats.Succeeded == 0 {
		return "failing"
	}

	if float64(stats.Failed)/float64(terminal) > degradedFailureRate {
		return "degraded"
	}

	return "healthy"
}

// handleDashboard reports per-source aggregates over the last 24 hours and
// the last hour, plus the open quality alert count.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	day, err := s.deps.Jobs.SourceStats(r.Context(), now.Add(-dashboardDayWindow))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to aggregate job stats"))

		return
	}

	hour, err := s.deps.Jobs.SourceStats(r.Context(), now.Add(-dashboardHourWindow))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to aggregate job stats"))

		return
	}

	resp := dashboardResponse{
		GeneratedAt: now,
		Last24h:     toSourceHealth(day),
		LastHour:    toSourceHealth(hour),
	}

	if s.deps.Quality != nil {
		alerts, err := s.deps.Quality.OpenAlerts(r.Context(), "")
		if err != nil {
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load open alerts"))

			return
		}

		resp.OpenAlerts = len(alerts)
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func toSourceHealth(stats []storage.SourceStats) []sourceHealth {
	out := make([]sourceHealth, 0, len(stats))

	for _, st := range stats {
		out = append(out, sourceHealth{SourceStats: st, Health: healthState(st)})
	}

	return out
}
