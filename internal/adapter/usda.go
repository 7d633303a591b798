package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// The QuickStats API returns at most 50,000 records per call and has no
// pagination; callers narrow by commodity and year instead.
const usdaBaseURL = "https://quickstats.nass.usda.gov/api/api_GET/"

// USDA ingests the NASS QuickStats survey/census statistics API: one call
// per (commodity, year window), one row per published statistic.
type USDA struct {
	logger *slog.Logger
}

var _ Adapter = (*USDA)(nil)

// NewUSDA creates the USDA QuickStats adapter.
func NewUSDA(logger *slog.Logger) *USDA {
	if logger == nil {
		logger = slog.Default()
	}

	return &USDA{logger: logger}
}

// Name implements Adapter.
func (a *USDA) Name() string { return "usda_quickstats" }

// Defaults implements Adapter.
func (a *USDA) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        120 * time.Second,
	}
}

// Schema implements Adapter.
func (a *USDA) Schema(cfg Config) (*Spec, error) {
	commodity, err := cfg.Require("commodity")
	if err != nil {
		return nil, err
	}

	tableName := NormalizeIdentifier("usda_" + commodity)

	return &Spec{
		Source:      a.Name(),
		DatasetID:   commodity,
		TableName:   tableName,
		DisplayName: "USDA QuickStats " + commodity,
		Description: fmt.Sprintf("NASS QuickStats statistics for %s", commodity),
		Columns: []Column{
			{Name: "year", Type: TypeBigInt},
			{Name: "state_alpha", Type: TypeText},
			{Name: "county_code", Type: TypeText},
			{Name: "short_desc", Type: TypeText},
			{Name: "commodity_desc", Type: TypeText, Nullable: true},
			{Name: "statisticcat_desc", Type: TypeText, Nullable: true},
			{Name: "agg_level_desc", Type: TypeText, Nullable: true},
			{Name: "unit_desc", Type: TypeText, Nullable: true},
			{Name: "reference_period_desc", Type: TypeText, Nullable: true},
			{Name: "value", Type: TypeNumeric, Nullable: true},
		},
		UniqueKey: []string{"year", "state_alpha", "county_code", "short_desc"},
		Indexes:   [][]string{{"year"}, {"state_alpha"}},
	}, nil
}

// Plan implements Adapter: one GET per year in the window, since QuickStats
// rejects unbounded queries above its record ceiling.
func (a *USDA) Plan(cfg Config) (Planner, error) {
	apiKey, err := cfg.RequireOrEnv("api_key", "USDA_API_KEY")
	if err != nil {
		return nil, err
	}

	commodity, err := cfg.Require("commodity")
	if err != nil {
		return nil, err
	}

	startYear, err := requireInt(cfg, "start_year")
	if err != nil {
		return nil, err
	}

	endYear, err := requireInt(cfg, "end_year")
	if err != nil {
		return nil, err
	}

	if endYear < startYear {
		return nil, fmt.Errorf("%w: end_year %d before start_year %d", ErrInvalidConfig, endYear, startYear)
	}

	aggLevel := cfg.Get("agg_level", "STATE")
	endpoint := cfg.Get("base_url", usdaBaseURL)

	var list []Step

	for year := startYear; year <= endYear; year++ {
		query := url.Values{}
		query.Set("key", apiKey)
		query.Set("commodity_desc", commodity)
		query.Set("year", fmt.Sprintf("%d", year))
		query.Set("agg_level_desc", aggLevel)
		query.Set("format", "JSON")

		list = append(list, Step{URL: endpoint, Method: http.MethodGet, Query: query, Page: year - startYear + 1})
	}

	return Steps(list...), nil
}

type usdaEnvelope struct {
	Data []struct {
		Year            json.Number `json:"year"`
		StateAlpha      string      `json:"state_alpha"`
		CountyCode      string      `json:"county_code"`
		ShortDesc       string      `json:"short_desc"`
		CommodityDesc   string      `json:"commodity_desc"`
		StatisticcatDes string      `json:"statisticcat_desc"`
		AggLevelDesc    string      `json:"agg_level_desc"`
		UnitDesc        string      `json:"unit_desc"`
		ReferencePeriod string      `json:"reference_period_desc"`
		// Value arrives as a formatted string; suppressed cells carry
		// markers like "(D)" which coerce to NULL.
		Value string `json:"Value"`
	} `json:"data"`
}

// Parse implements Adapter.
func (a *USDA) Parse(step *Step, payload []byte) ([]Row, error) {
	var envelope usdaEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: usda response: %w", ErrUnparseablePayload, err)
	}

	rows := make([]Row, 0, len(envelope.Data))

	for _, record := range envelope.Data {
		year, err := record.Year.Int64()
		if err != nil || record.StateAlpha == "" || record.ShortDesc == "" {
			a.logger.Warn("skipping usda record without year, state, or statistic",
				slog.Int("page", step.Page),
			)

			continue
		}

		rows = append(rows, Row{
			"year":                  Int(year),
			"state_alpha":           Text(record.StateAlpha),
			"county_code":           coerceKeyText(record.CountyCode),
			"short_desc":            Text(record.ShortDesc),
			"commodity_desc":        CoerceText(record.CommodityDesc),
			"statisticcat_desc":     CoerceText(record.StatisticcatDes),
			"agg_level_desc":        CoerceText(record.AggLevelDesc),
			"unit_desc":             CoerceText(record.UnitDesc),
			"reference_period_desc": CoerceText(record.ReferencePeriod),
			"value":                 CoerceNumeric(record.Value),
		})
	}

	return rows, nil
}
