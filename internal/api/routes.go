package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ingestor-io/ingestor/internal/api/middleware"
)

const healthCheckTimeout = 2 * time.Second

// setupRoutes registers every HTTP route on the mux.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Health and metrics bypass authentication.
	mux.HandleFunc("GET /healthz", s.handleHealth)
	middleware.RegisterPublicEndpoint("/healthz")

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
		middleware.RegisterPublicEndpoint("/metrics")
	}

	// Job submission and inspection.
	mux.HandleFunc("POST /api/v1/sources/{src}/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/retry", s.handleRetryJob)

	// Chains.
	mux.HandleFunc("POST /api/v1/chains", s.handleDefineChain)
	mux.HandleFunc("POST /api/v1/chains/{id}/execute", s.handleExecuteChain)

	// Monitoring and quality.
	mux.HandleFunc("GET /api/v1/monitoring/dashboard", s.handleDashboard)
	mux.HandleFunc("POST /api/v1/quality/tables/{table}/profile", s.handleProfileTable)
	mux.HandleFunc("GET /api/v1/quality/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /api/v1/quality/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)

	// Catch-all 404.
	mux.HandleFunc("/", s.handleNotFound)
	middleware.RegisterPublicEndpoint("/")
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Uptime   string `json:"uptime,omitempty"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := healthResponse{
		Status:   "healthy",
		Service:  "ingestor",
		Database: "ok",
	}

	if !s.startTime.IsZero() {
		health.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	status := http.StatusOK

	if s.deps.Conn != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.deps.Conn.HealthCheck(ctx); err != nil {
			health.Status = "degraded"
			health.Database = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, r, status, health)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals v and writes it with the given status. Marshal failures
// become 500 problems; write failures after headers are only logged.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}
