package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const beaBaseURL = "https://apps.bea.gov/api/data"

// BEA ingests the Bureau of Economic Analysis API. One job pulls one table
// of one dataset for a year list; the API returns everything in one page.
type BEA struct {
	logger *slog.Logger
}

var _ Adapter = (*BEA)(nil)

// NewBEA creates the BEA adapter.
func NewBEA(logger *slog.Logger) *BEA {
	if logger == nil {
		logger = slog.Default()
	}

	return &BEA{logger: logger}
}

// Name implements Adapter.
func (a *BEA) Name() string { return "bea" }

// Defaults implements Adapter.
func (a *BEA) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 1,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter.
func (a *BEA) Schema(cfg Config) (*Spec, error) {
	dataset, err := cfg.Require("dataset")
	if err != nil {
		return nil, err
	}

	tableID, err := cfg.Require("table")
	if err != nil {
		return nil, err
	}

	tableName := NormalizeIdentifier(fmt.Sprintf("bea_%s_%s", dataset, tableID))

	return &Spec{
		Source:      a.Name(),
		DatasetID:   dataset + "/" + tableID,
		TableName:   tableName,
		DisplayName: fmt.Sprintf("BEA %s table %s", dataset, tableID),
		Description: fmt.Sprintf("BEA API dataset %s, table %s", dataset, tableID),
		Columns: []Column{
			{Name: "time_period", Type: TypeText},
			{Name: "series_code", Type: TypeText},
			{Name: "line_number", Type: TypeText},
			{Name: "line_description", Type: TypeText, Nullable: true},
			{Name: "unit", Type: TypeText, Nullable: true},
			{Name: "data_value", Type: TypeNumeric, Nullable: true},
		},
		UniqueKey: []string{"time_period", "series_code", "line_number"},
		Indexes:   [][]string{{"time_period"}},
	}, nil
}

// Plan implements Adapter: a single GetData call.
func (a *BEA) Plan(cfg Config) (Planner, error) {
	apiKey, err := cfg.RequireOrEnv("api_key", "BEA_API_KEY")
	if err != nil {
		return nil, err
	}

	dataset, err := cfg.Require("dataset")
	if err != nil {
		return nil, err
	}

	tableID, err := cfg.Require("table")
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("UserID", apiKey)
	query.Set("method", "GetData")
	query.Set("datasetname", dataset)
	query.Set("TableName", tableID)
	query.Set("Frequency", cfg.Get("frequency", "A"))
	query.Set("Year", cfg.Get("year", "ALL"))
	query.Set("ResultFormat", "json")

	return Steps(Step{
		URL:    cfg.Get("base_url", beaBaseURL),
		Method: http.MethodGet,
		Query:  query,
		Page:   1,
	}), nil
}

type beaEnvelope struct {
	BEAAPI struct {
		Results struct {
			Data []struct {
				TimePeriod      string `json:"TimePeriod"`
				SeriesCode      string `json:"SeriesCode"`
				LineNumber      string `json:"LineNumber"`
				LineDescription string `json:"LineDescription"`
				Unit            string `json:"UNIT_MULT"`
				DataValue       string `json:"DataValue"`
			} `json:"Data"`
			Error *struct {
				Description string `json:"APIErrorDescription"`
			} `json:"Error"`
		} `json:"Results"`
	} `json:"BEAAPI"`
}

// Parse implements Adapter. BEA reports request errors inside a 200 body.
func (a *BEA) Parse(_ *Step, payload []byte) ([]Row, error) {
	var envelope beaEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: bea response: %w", ErrUnparseablePayload, err)
	}

	if apiErr := envelope.BEAAPI.Results.Error; apiErr != nil {
		return nil, fmt.Errorf("%w: bea error: %s", ErrUnparseablePayload, apiErr.Description)
	}

	rows := make([]Row, 0, len(envelope.BEAAPI.Results.Data))

	for _, record := range envelope.BEAAPI.Results.Data {
		if record.TimePeriod == "" || record.SeriesCode == "" {
			a.logger.Warn("skipping bea record without time period or series code")

			continue
		}

		rows = append(rows, Row{
			"time_period":      Text(record.TimePeriod),
			"series_code":      Text(record.SeriesCode),
			"line_number":      Text(record.LineNumber),
			"line_description": CoerceText(record.LineDescription),
			"unit":             CoerceText(record.Unit),
			"data_value":       CoerceNumeric(record.DataValue),
		})
	}

	return rows, nil
}
