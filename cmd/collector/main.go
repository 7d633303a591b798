// Package main provides the collection CLI: one pass of the website
// collectors over the targets selected by the given filter.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ingestor-io/ingestor/internal/collector"
	"github.com/ingestor-io/ingestor/internal/collector/filings"
	"github.com/ingestor-io/ingestor/internal/collector/webcrawl"
	"github.com/ingestor-io/ingestor/internal/config"
	"github.com/ingestor-io/ingestor/internal/fetch"
	"github.com/ingestor-io/ingestor/internal/llm"
	"github.com/ingestor-io/ingestor/internal/storage"
)

// progressEvery sets how many completed targets pass between progress lines.
const progressEvery = 10

func main() {
	var (
		registryPath = flag.String("registry", "targets.json", "path to the target registry JSON file")
		types        = flag.String("types", "", "comma-separated target types (lp, fo)")
		regions      = flag.String("regions", "", "comma-separated regions")
		minPriority  = flag.Int("min-priority", 0, "minimum target priority")
		staleDays    = flag.Int("stale-days", 0, "only targets not collected in this many days (0 = all)")
		concurrency  = flag.Int("concurrency", 0, "max targets collected concurrently (0 = default)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	registry, err := collector.LoadRegistry(*registryPath)
	if err != nil {
		logger.Error("failed to load target registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := storage.Connect(ctx, storage.LoadConfig(), logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	store, err := storage.NewCollectorStore(conn)
	if err != nil {
		logger.Error("failed to initialize collector store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// One shared client for all website collectors: polite pacing per host
	// matters less than a global cap when walking many small sites.
	client := fetch.NewClient(fetch.Config{
		MaxConcurrency: 4,
		MaxRetries:     2,
		RateInterval:   500 * time.Millisecond,
		UserAgent:      config.GetEnvStr("INGESTOR_CRAWL_USER_AGENT", "ingestor-collector/1.0"),
	}, logger)

	// EDGAR gets its own client: SEC fair access wants a descriptive
	// User-Agent and a tighter request rate than the website crawl.
	secUserAgent := config.GetEnvStr("INGESTOR_SEC_USER_AGENT", "ingestor-collector/1.0 admin@ingestor.io")
	secClient := fetch.NewClient(fetch.Config{
		MaxConcurrency: 1,
		MaxRetries:     3,
		RateInterval:   110 * time.Millisecond,
		UserAgent:      secUserAgent,
	}, logger)

	extractor := llm.NewPortfolioExtractor(llm.FromEnv(logger), logger)

	collectors := []collector.Collector{
		webcrawl.NewTeamCollector(client, logger),
		webcrawl.NewNewsCollector(client, logger),
		webcrawl.NewDocumentCollector(client, logger),
		webcrawl.NewPortfolioCollector(client, extractor, logger),
		filings.NewHoldingsCollector(secClient, secUserAgent, logger),
	}

	var completed atomic.Int64

	opts := []collector.OrchestratorOption{
		collector.WithProgress(func(p collector.Progress) {
			if n := completed.Add(1); n%progressEvery != 0 {
				return
			}

			logger.Info("collection progress",
				slog.Int("completed", p.Completed),
				slog.Int("total", p.Total),
				slog.String("current", p.CurrentTarget),
				slog.Float64("percent", p.PercentComplete()),
			)
		}),
	}

	if *concurrency > 0 {
		opts = append(opts, collector.WithMaxConcurrentTargets(*concurrency))
	}

	orchestrator := collector.NewOrchestrator(registry, collectors, store, logger, opts...)

	filter := collector.Filter{
		Types:       splitList(*types),
		Regions:     splitList(*regions),
		MinPriority: *minPriority,
		StaleDays:   *staleDays,
	}

	result, tracker, err := orchestrator.Run(ctx, filter)
	if err != nil {
		logger.Error("collection run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	final := tracker.Snapshot()
	logger.Info("collection complete",
		slog.Int("targets", result.Targets),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("items", result.Items),
		slog.Int("new_items", result.NewItems),
		slog.Float64("percent", final.PercentComplete()),
	)

	if result.Failed > 0 {
		os.Exit(1)
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}
