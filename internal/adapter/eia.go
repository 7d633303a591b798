package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// EIA API v2 limits the page length to 5000 records.
const (
	eiaBaseURL     = "https://api.eia.gov/v2"
	eiaPageSize    = 5000
	eiaMaxRetries  = 3
	eiaConcurrency = 2
)

// EIA ingests the U.S. Energy Information Administration API v2. Datasets
// are addressed by category/subcategory route segments; pagination is
// offset-based with the API's reported total as the terminator.
type EIA struct {
	logger *slog.Logger
}

var _ Adapter = (*EIA)(nil)

// NewEIA creates the EIA adapter.
func NewEIA(logger *slog.Logger) *EIA {
	if logger == nil {
		logger = slog.Default()
	}

	return &EIA{logger: logger}
}

// Name implements Adapter.
func (a *EIA) Name() string { return "eia" }

// Defaults implements Adapter.
func (a *EIA) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: eiaConcurrency,
		MaxRetries:     eiaMaxRetries,
		RateInterval:   time.Second,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter. Table names follow eia_<category>_<subcategory>;
// the natural key is (period, series_id, area_code, product), which uniquely
// identifies an observation across every EIA v2 dataset we ingest.
func (a *EIA) Schema(cfg Config) (*Spec, error) {
	category, err := cfg.Require("category")
	if err != nil {
		return nil, err
	}

	subcategory, err := cfg.Require("subcategory")
	if err != nil {
		return nil, err
	}

	tableName := NormalizeIdentifier(fmt.Sprintf("eia_%s_%s", category, subcategory))

	return &Spec{
		Source:      a.Name(),
		DatasetID:   category + "/" + subcategory,
		TableName:   tableName,
		DisplayName: fmt.Sprintf("EIA %s %s", category, subcategory),
		Description: fmt.Sprintf("EIA API v2 %s/%s observations", category, subcategory),
		Columns: []Column{
			{Name: "period", Type: TypeText},
			{Name: "series_id", Type: TypeText},
			{Name: "area_code", Type: TypeText},
			{Name: "product", Type: TypeText},
			{Name: "product_name", Type: TypeText, Nullable: true},
			{Name: "process", Type: TypeText, Nullable: true},
			{Name: "series_description", Type: TypeText, Nullable: true},
			{Name: "units", Type: TypeText, Nullable: true},
			{Name: "value", Type: TypeDouble, Nullable: true},
		},
		UniqueKey: []string{"period", "series_id", "area_code", "product"},
		Indexes:   [][]string{{"period"}, {"series_id"}},
	}, nil
}

// Plan implements Adapter with offset pagination.
func (a *EIA) Plan(cfg Config) (Planner, error) {
	apiKey, err := cfg.RequireOrEnv("api_key", "EIA_API_KEY")
	if err != nil {
		return nil, err
	}

	category, err := cfg.Require("category")
	if err != nil {
		return nil, err
	}

	subcategory, err := cfg.Require("subcategory")
	if err != nil {
		return nil, err
	}

	frequency := cfg.Get("frequency", "annual")
	start := cfg.Get("start", "")
	end := cfg.Get("end", "")
	endpoint := cfg.Get("base_url", eiaBaseURL) + "/" + category + "/" + subcategory + "/data/"

	fetched := 0
	page := 0

	return PlanFunc(func(last *PageInfo) (*Step, error) {
		// Advance by records received, not rows parsed: a skipped
		// malformed record must not shift the next page's offset.
		fetched += last.Count()

		if Exhausted(last, eiaPageSize, fetched) {
			return nil, nil
		}

		query := url.Values{}
		query.Set("api_key", apiKey)
		query.Set("frequency", frequency)
		query.Set("data[0]", "value")
		query.Set("offset", strconv.Itoa(fetched))
		query.Set("length", strconv.Itoa(eiaPageSize))

		if start != "" {
			query.Set("start", start)
		}

		if end != "" {
			query.Set("end", end)
		}

		page++

		return &Step{URL: endpoint, Method: http.MethodGet, Query: query, Page: page}, nil
	}), nil
}

// eiaEnvelope is the EIA v2 response shape. Total arrives as a JSON string.
type eiaEnvelope struct {
	Response struct {
		Total json.Number      `json:"total"`
		Data  []map[string]any `json:"data"`
	} `json:"response"`
}

// Parse implements Adapter.
func (a *EIA) Parse(step *Step, payload []byte) ([]Row, error) {
	var envelope eiaEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: eia response: %w", ErrUnparseablePayload, err)
	}

	rows := make([]Row, 0, len(envelope.Response.Data))

	for _, record := range envelope.Response.Data {
		period, _ := record["period"].(string)
		seriesID, _ := record["series"].(string)

		if period == "" || seriesID == "" {
			a.logger.Warn("skipping eia record without period or series",
				slog.Int("page", step.Page),
			)

			continue
		}

		rows = append(rows, Row{
			"period":             Text(period),
			"series_id":          Text(seriesID),
			"area_code":          coerceKeyText(record["duoarea"]),
			"product":            coerceKeyText(record["product"]),
			"product_name":       CoerceValue(record["product-name"]),
			"process":            CoerceValue(record["process"]),
			"series_description": CoerceValue(record["series-description"]),
			"units":              CoerceValue(record["units"]),
			"value":              coerceNumericAny(record["value"]),
		})
	}

	return rows, nil
}

// PageMeta implements the optional pagination-metadata capability: the
// reported total lets the planner stop without an extra empty-page fetch.
func (a *EIA) PageMeta(_ *Step, payload []byte) (*bool, *int, string) {
	var envelope eiaEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, nil, ""
	}

	total, err := envelope.Response.Total.Int64()
	if err != nil {
		return nil, nil, ""
	}

	n := int(total)

	return nil, &n, ""
}

// RecordCount implements the optional raw-record-count capability used by
// the offset planner.
func (a *EIA) RecordCount(_ *Step, payload []byte) int {
	var envelope eiaEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return 0
	}

	return len(envelope.Response.Data)
}

// coerceKeyText is for natural-key columns: missing values become the empty
// string, never SQL NULL, so the unique constraint stays enforceable.
func coerceKeyText(raw any) Value {
	if s, ok := raw.(string); ok {
		return Text(s)
	}

	if raw == nil {
		return Text("")
	}

	return Text(fmt.Sprintf("%v", raw))
}

// coerceNumericAny handles numeric cells that arrive as JSON numbers or
// strings.
func coerceNumericAny(raw any) Value {
	switch t := raw.(type) {
	case string:
		return CoerceNumeric(t)
	default:
		return CoerceValue(raw)
	}
}
