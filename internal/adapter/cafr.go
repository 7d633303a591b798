package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ingestor-io/ingestor/internal/llm"
)

// cafrExtractTimeout bounds the model call made while parsing; pattern
// fallback kicks in past it.
const cafrExtractTimeout = 90 * time.Second

// CAFR ingests annual comprehensive financial reports: one PDF download per
// job, text extraction, then keyword-proximity chunking and structured
// extraction through the model collaborator (pattern matching when no model
// is configured).
type CAFR struct {
	extractor *llm.FinancialExtractor
	logger    *slog.Logger
}

var _ Adapter = (*CAFR)(nil)

// NewCAFR creates the financial report adapter. extractor must not be nil;
// build it with a nil completer to run pattern extraction only.
func NewCAFR(extractor *llm.FinancialExtractor, logger *slog.Logger) *CAFR {
	if logger == nil {
		logger = slog.Default()
	}

	if extractor == nil {
		extractor = llm.NewFinancialExtractor(nil, logger)
	}

	return &CAFR{extractor: extractor, logger: logger}
}

// Name implements Adapter.
func (a *CAFR) Name() string { return "cafr" }

// Defaults implements Adapter. Reports are large; the timeout covers the
// download, and concurrency stays at one since each job fetches one file.
func (a *CAFR) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 1,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        5 * time.Minute,
	}
}

// Schema implements Adapter.
func (a *CAFR) Schema(cfg Config) (*Spec, error) {
	if _, err := cfg.Require("entity"); err != nil {
		return nil, err
	}

	if _, err := requireInt(cfg, "fiscal_year"); err != nil {
		return nil, err
	}

	return &Spec{
		Source:      a.Name(),
		DatasetID:   "financial_reports",
		TableName:   "cafr_financials",
		DisplayName: "Government Financial Reports",
		Description: "Figures extracted from annual comprehensive financial report PDFs",
		Columns: []Column{
			{Name: "entity", Type: TypeText},
			{Name: "fiscal_year", Type: TypeBigInt},
			{Name: "metric", Type: TypeText},
			{Name: "value", Type: TypeNumeric, Nullable: true},
			{Name: "extraction_method", Type: TypeText, Nullable: true},
			{Name: "report_url", Type: TypeText, Nullable: true},
		},
		UniqueKey: []string{"entity", "fiscal_year", "metric"},
		Indexes:   [][]string{{"entity"}, {"fiscal_year"}},
	}, nil
}

// Plan implements Adapter: a single PDF download.
func (a *CAFR) Plan(cfg Config) (Planner, error) {
	reportURL, err := cfg.Require("url")
	if err != nil {
		return nil, err
	}

	if _, err := cfg.Require("entity"); err != nil {
		return nil, err
	}

	if _, err := requireInt(cfg, "fiscal_year"); err != nil {
		return nil, err
	}

	return Steps(Step{
		URL:     reportURL,
		Method:  http.MethodGet,
		Headers: map[string]string{"Accept": "application/pdf"},
		Page:    1,
	}), nil
}

// Parse implements Adapter. Config values were validated by Plan; the step
// URL carries the report provenance.
func (a *CAFR) Parse(step *Step, payload []byte) ([]Row, error) {
	text, err := ExtractPDFText(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseablePayload, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cafrExtractTimeout)
	defer cancel()

	metrics, fromModel := a.extractor.Extract(ctx, text)

	method := "pattern"
	if fromModel {
		method = "model"
	}

	if len(metrics) == 0 {
		a.logger.Warn("no financial figures extracted from report",
			slog.String("url", step.URL),
		)
	}

	rows := make([]Row, 0, len(metrics))

	for _, metric := range metrics {
		rows = append(rows, Row{
			"metric":            Text(metric.Name),
			"value":             Float(metric.Value),
			"extraction_method": Text(method),
			"report_url":        Text(step.URL),
		})
	}

	return rows, nil
}

// Enrich implements the optional row-enrichment capability: entity and
// fiscal year come from the job config, not the payload, so the runner
// stamps them onto every parsed row.
func (a *CAFR) Enrich(cfg Config, rows []Row) []Row {
	entity := cfg.Get("entity", "")
	year, _ := strconv.ParseInt(cfg.Get("fiscal_year", "0"), 10, 64)

	for _, row := range rows {
		row["entity"] = Text(entity)
		row["fiscal_year"] = Int(year)
	}

	return rows
}
