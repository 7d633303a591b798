// Package main provides the ingestion platform service: the job-submission
// API, the retry scheduler, the schedule dispatcher, the dependency engine,
// and the post-ingest quality pipeline, all in one process.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/api"
	"github.com/ingestor-io/ingestor/internal/api/middleware"
	"github.com/ingestor-io/ingestor/internal/config"
	"github.com/ingestor-io/ingestor/internal/engine"
	"github.com/ingestor-io/ingestor/internal/llm"
	"github.com/ingestor-io/ingestor/internal/metrics"
	"github.com/ingestor-io/ingestor/internal/quality"
	"github.com/ingestor-io/ingestor/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ingestor"
)

const (
	defaultRetrySweepInterval = 30 * time.Second
	defaultDispatchInterval   = time.Minute
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting ingestion service",
		slog.String("service", name),
		slog.String("version", version),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageConfig := storage.LoadConfig()

	conn, err := storage.Connect(ctx, storageConfig, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	jobs, err := storage.NewJobStore(conn)
	if err != nil {
		fatal(logger, conn, "job store", err)
	}

	catalog, err := storage.NewCatalog(conn)
	if err != nil {
		fatal(logger, conn, "dataset catalog", err)
	}

	provisioner, err := storage.NewProvisioner(conn, catalog)
	if err != nil {
		fatal(logger, conn, "table provisioner", err)
	}

	writer, err := storage.NewWriter(conn)
	if err != nil {
		fatal(logger, conn, "batch writer", err)
	}

	chainStore, err := storage.NewChainStore(conn)
	if err != nil {
		fatal(logger, conn, "chain store", err)
	}

	scheduleStore, err := storage.NewScheduleStore(conn)
	if err != nil {
		fatal(logger, conn, "schedule store", err)
	}

	qualityStore, err := storage.NewQualityStore(conn)
	if err != nil {
		fatal(logger, conn, "quality store", err)
	}

	registry := adapter.NewRegistry()
	adapter.RegisterBuiltins(registry, logger)
	registry.Register(adapter.NewCAFR(
		llm.NewFinancialExtractor(llm.FromEnv(logger), logger), logger))

	// Completion events fan out to metrics, the dependency engine, the
	// quality pipeline, and (optionally) Kafka.
	bus := engine.NewEventBus()

	prom := metrics.New()
	bus.Subscribe(prom)

	brokers := config.ParseCommaSeparatedList(config.GetEnvStr("INGESTOR_KAFKA_BROKERS", ""))
	if len(brokers) > 0 {
		topic := config.GetEnvStr("INGESTOR_KAFKA_TOPIC", "ingestion.job.completions")
		publisher := engine.NewKafkaPublisher(brokers, topic, logger)

		defer func() { _ = publisher.Close() }()

		bus.Subscribe(publisher)
		logger.Info("kafka completion publisher enabled", slog.String("topic", topic))
	}

	runner := engine.NewRunner(jobs, registry, provisioner, writer,
		engine.NewClientFactory(logger), bus, logger)

	// Loops and the chain engine hand jobs back to the runner; each job runs
	// detached so a cancelled caller context cannot abort it mid-write.
	runJob := func(_ context.Context, jobID string) {
		go func() {
			if err := runner.Run(context.Background(), jobID); err != nil {
				logger.Warn("job finished with error",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	scheduler := engine.NewScheduler(jobs, runJob, logger)
	go scheduler.Loop(ctx, config.GetEnvDuration("INGESTOR_RETRY_SWEEP_INTERVAL", defaultRetrySweepInterval))

	dispatcher := engine.NewDispatcher(scheduleStore, jobs, runJob, logger)
	go dispatcher.Loop(ctx, config.GetEnvDuration("INGESTOR_DISPATCH_INTERVAL", defaultDispatchInterval))

	chains := engine.NewChainEngine(chainStore, jobs, runJob, logger)
	bus.Subscribe(chains)

	pipeline := setupQuality(ctx, conn, qualityStore, logger)
	if pipeline != nil {
		bus.Subscribe(pipeline)
	}

	limiter := middleware.NewInMemoryRateLimiter(middleware.LoadRateLimitConfig())

	keys := api.LoadKeyStore()
	if keys == nil {
		logger.Warn("INGESTOR_API_KEYS not set, API authentication disabled")
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Conn:       conn,
		Jobs:       jobs,
		Registry:   registry,
		Runner:     runner,
		Retries:    scheduler,
		Chains:     chains,
		Quality:    qualityStore,
		Pipeline:   pipeline,
		Keys:       keys,
		Limiter:    limiter,
		Metrics:    prom.Handler(),
		Instrument: prom.InstrumentHTTP,
	})

	if err := server.Start(); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupQuality loads declared rules and cross-check config and builds the
// post-ingest pipeline. Both files are optional.
func setupQuality(ctx context.Context, conn *storage.Connection, store *storage.QualityStore, logger *slog.Logger) *quality.Pipeline {
	rulesPath := config.GetEnvStr("INGESTOR_QUALITY_RULES", "")
	if rulesPath != "" {
		rules, err := quality.LoadRuleFile(rulesPath)
		if err != nil {
			logger.Error("failed to load quality rules", slog.String("error", err.Error()))
			os.Exit(1)
		}

		for _, rule := range rules {
			if err := store.SaveRule(ctx, rule); err != nil {
				logger.Error("failed to save quality rule",
					slog.String("rule_id", rule.ID),
					slog.String("error", err.Error()),
				)
				os.Exit(1)
			}
		}

		logger.Info("loaded quality rules", slog.Int("count", len(rules)))
	}

	pipelineConfig, err := quality.LoadPipelineConfig(
		config.GetEnvStr("INGESTOR_QUALITY_CONFIG", "quality.yaml"))
	if err != nil {
		logger.Error("failed to load quality config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	return quality.NewPipeline(conn, store, pipelineConfig, logger)
}

func fatal(logger *slog.Logger, conn *storage.Connection, component string, err error) {
	logger.Error("failed to initialize "+component, slog.String("error", err.Error()))

	_ = conn.Close()
	os.Exit(1)
}
