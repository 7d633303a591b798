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

const (
	fredBaseURL  = "https://api.stlouisfed.org/fred"
	fredPageSize = 10000
)

// FRED ingests series observations from the St. Louis Fed FRED API.
// One job ingests one series; observations paginate by offset.
type FRED struct {
	logger *slog.Logger
}

var _ Adapter = (*FRED)(nil)

// NewFRED creates the FRED adapter.
func NewFRED(logger *slog.Logger) *FRED {
	if logger == nil {
		logger = slog.Default()
	}

	return &FRED{logger: logger}
}

// Name implements Adapter.
func (a *FRED) Name() string { return "fred" }

// Defaults implements Adapter.
func (a *FRED) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   500 * time.Millisecond,
		Timeout:        30 * time.Second,
	}
}

// Schema implements Adapter. All FRED series share one table keyed by
// (series_id, date).
func (a *FRED) Schema(cfg Config) (*Spec, error) {
	if _, err := cfg.Require("series_id"); err != nil {
		return nil, err
	}

	return &Spec{
		Source:      a.Name(),
		DatasetID:   "observations",
		TableName:   "fred_observations",
		DisplayName: "FRED Series Observations",
		Description: "Observations from the St. Louis Fed FRED API, all series",
		Columns: []Column{
			{Name: "series_id", Type: TypeText},
			{Name: "date", Type: TypeDate},
			{Name: "value", Type: TypeDouble, Nullable: true},
			{Name: "realtime_start", Type: TypeDate, Nullable: true},
			{Name: "realtime_end", Type: TypeDate, Nullable: true},
		},
		UniqueKey: []string{"series_id", "date"},
		Indexes:   [][]string{{"series_id"}, {"date"}},
	}, nil
}

// Plan implements Adapter with offset pagination over observations.
func (a *FRED) Plan(cfg Config) (Planner, error) {
	apiKey, err := cfg.RequireOrEnv("api_key", "FRED_API_KEY")
	if err != nil {
		return nil, err
	}

	seriesID, err := cfg.Require("series_id")
	if err != nil {
		return nil, err
	}

	start := cfg.Get("start", "")
	end := cfg.Get("end", "")
	endpoint := cfg.Get("base_url", fredBaseURL) + "/series/observations"

	fetched := 0
	page := 0

	return PlanFunc(func(last *PageInfo) (*Step, error) {
		fetched += last.Count()

		if Exhausted(last, fredPageSize, fetched) {
			return nil, nil
		}

		query := url.Values{}
		query.Set("api_key", apiKey)
		query.Set("series_id", seriesID)
		query.Set("file_type", "json")
		query.Set("offset", strconv.Itoa(fetched))
		query.Set("limit", strconv.Itoa(fredPageSize))

		if start != "" {
			query.Set("observation_start", start)
		}

		if end != "" {
			query.Set("observation_end", end)
		}

		page++

		return &Step{URL: endpoint, Method: http.MethodGet, Query: query, Page: page}, nil
	}), nil
}

type fredEnvelope struct {
	Count        int `json:"count"`
	Observations []struct {
		RealtimeStart string `json:"realtime_start"`
		RealtimeEnd   string `json:"realtime_end"`
		Date          string `json:"date"`
		Value         string `json:"value"`
	} `json:"observations"`
}

// Parse implements Adapter. FRED encodes missing observations as value ".",
// which coerces to NULL.
func (a *FRED) Parse(step *Step, payload []byte) ([]Row, error) {
	var envelope fredEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: fred response: %w", ErrUnparseablePayload, err)
	}

	seriesID := step.Query.Get("series_id")
	rows := make([]Row, 0, len(envelope.Observations))

	for _, obs := range envelope.Observations {
		date := CoerceDate(obs.Date, "2006-01-02")
		if date.IsNull() {
			a.logger.Warn("skipping fred observation with invalid date",
				slog.String("series_id", seriesID),
				slog.String("date", obs.Date),
			)

			continue
		}

		rows = append(rows, Row{
			"series_id":      Text(seriesID),
			"date":           date,
			"value":          CoerceNumeric(obs.Value),
			"realtime_start": CoerceDate(obs.RealtimeStart, "2006-01-02"),
			"realtime_end":   CoerceDate(obs.RealtimeEnd, "2006-01-02"),
		})
	}

	return rows, nil
}

// PageMeta implements the optional pagination-metadata capability.
func (a *FRED) PageMeta(_ *Step, payload []byte) (*bool, *int, string) {
	var envelope fredEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, nil, ""
	}

	return nil, &envelope.Count, ""
}
