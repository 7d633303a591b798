package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/api/middleware"
	"github.com/ingestor-io/ingestor/internal/engine"
	"github.com/ingestor-io/ingestor/internal/quality"
	"github.com/ingestor-io/ingestor/internal/storage"
)

type (
	// JobStore is the job access the API needs: the engine's durable store
	// plus the dashboard aggregates. Implemented by *storage.JobStore.
	JobStore interface {
		engine.JobStore

		SourceStats(ctx context.Context, since time.Time) ([]storage.SourceStats, error)
	}

	// Dependencies groups the runtime collaborators injected into the server.
	// Optional fields (Keys, Limiter, Quality, Pipeline) may be nil; the
	// corresponding surface degrades gracefully.
	Dependencies struct {
		Conn     *storage.Connection
		Jobs     JobStore
		Registry *adapter.Registry
		Runner   *engine.Runner
		Retries  *engine.Scheduler
		Chains   *engine.ChainEngine
		Quality  quality.Store
		Pipeline *quality.Pipeline
		Keys     *KeyStore
		Limiter  middleware.RateLimiter

		// Metrics serves the Prometheus exposition endpoint; Instrument wraps
		// the whole handler chain with request counting. Both optional.
		Metrics    http.Handler
		Instrument func(http.Handler) http.Handler
	}

	// Server is the HTTP API server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		startTime  time.Time
		deps       Dependencies
	}
)

// NewServer builds the server with its middleware chain and routes.
func NewServer(cfg *ServerConfig, deps Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	server.setupRoutes(mux)

	if deps.Keys == nil {
		logger.Warn("no API keys configured, authentication disabled")
	}

	if deps.Limiter == nil {
		logger.Warn("no rate limiter configured, rate limiting disabled")
	}

	var verifier middleware.KeyVerifier
	if deps.Keys != nil {
		verifier = deps.Keys
	}

	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAPIKeyAuth(verifier, logger),
		middleware.WithRateLimit(deps.Limiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	// Instrumentation sits outside the chain so rejected requests count too.
	if deps.Instrument != nil {
		handler = deps.Instrument(handler)
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start runs the server and blocks until SIGINT/SIGTERM or a listen error.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting ingestion API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown drains in-flight requests, waits for quality passes, and closes
// the rate limiter and database connection.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.deps.Pipeline != nil {
		s.deps.Pipeline.Wait()
	}

	if closer, ok := s.deps.Limiter.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			s.logger.Error("failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	if s.deps.Conn != nil {
		if err := s.deps.Conn.Close(); err != nil {
			s.logger.Error("failed to close database connection", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("server shutdown completed")

	return nil
}

// runJob executes a job asynchronously. The job carries its own durable
// record; request contexts must not cancel its execution.
func (s *Server) runJob(jobID string) {
	if s.deps.Runner == nil {
		return
	}

	go func() {
		if err := s.deps.Runner.Run(context.Background(), jobID); err != nil {
			s.logger.Warn("job finished with error",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
