package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	blsBaseURL = "https://api.bls.gov/publicAPI/v2/timeseries/data/"
	// The BLS v2 API caps one request at 20 years of data.
	blsMaxYearsPerRequest = 20
)

// BLS ingests Bureau of Labor Statistics time series. The API takes POST
// bodies listing series ids and a year window; windows wider than the API
// cap are split into multiple steps up front.
type BLS struct {
	logger *slog.Logger
}

var _ Adapter = (*BLS)(nil)

// NewBLS creates the BLS adapter.
func NewBLS(logger *slog.Logger) *BLS {
	if logger == nil {
		logger = slog.Default()
	}

	return &BLS{logger: logger}
}

// Name implements Adapter.
func (a *BLS) Name() string { return "bls" }

// Defaults implements Adapter.
func (a *BLS) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        30 * time.Second,
	}
}

// Schema implements Adapter.
func (a *BLS) Schema(cfg Config) (*Spec, error) {
	if _, err := cfg.Require("series_ids"); err != nil {
		return nil, err
	}

	return &Spec{
		Source:      a.Name(),
		DatasetID:   "timeseries",
		TableName:   "bls_timeseries",
		DisplayName: "BLS Time Series",
		Description: "Bureau of Labor Statistics public API v2 time series observations",
		Columns: []Column{
			{Name: "series_id", Type: TypeText},
			{Name: "year", Type: TypeBigInt},
			{Name: "period", Type: TypeText},
			{Name: "period_name", Type: TypeText, Nullable: true},
			{Name: "value", Type: TypeDouble, Nullable: true},
			{Name: "footnotes", Type: TypeText, Nullable: true},
		},
		UniqueKey: []string{"series_id", "year", "period"},
		Indexes:   [][]string{{"series_id"}, {"year"}},
	}, nil
}

// Plan implements Adapter. The full plan is known up front: one POST per
// year window.
func (a *BLS) Plan(cfg Config) (Planner, error) {
	seriesIDs, err := cfg.Require("series_ids")
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

	registrationKey := cfg.GetOrEnv("api_key", "BLS_API_KEY")
	endpoint := cfg.Get("base_url", blsBaseURL)
	ids := strings.Split(seriesIDs, ",")

	var list []Step

	for windowStart := startYear; windowStart <= endYear; windowStart += blsMaxYearsPerRequest {
		windowEnd := windowStart + blsMaxYearsPerRequest - 1
		if windowEnd > endYear {
			windowEnd = endYear
		}

		body := map[string]any{
			"seriesid":  ids,
			"startyear": strconv.Itoa(windowStart),
			"endyear":   strconv.Itoa(windowEnd),
		}

		if registrationKey != "" {
			body["registrationkey"] = registrationKey
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal request body: %v", ErrInvalidConfig, err)
		}

		list = append(list, Step{
			URL:     endpoint,
			Method:  http.MethodPost,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    payload,
			Page:    len(list) + 1,
		})
	}

	return Steps(list...), nil
}

type blsEnvelope struct {
	Status  string `json:"status"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Data     []struct {
				Year       string `json:"year"`
				Period     string `json:"period"`
				PeriodName string `json:"periodName"`
				Value      string `json:"value"`
				Footnotes  []struct {
					Text string `json:"text"`
				} `json:"footnotes"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// Parse implements Adapter.
func (a *BLS) Parse(_ *Step, payload []byte) ([]Row, error) {
	var envelope blsEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: bls response: %w", ErrUnparseablePayload, err)
	}

	if envelope.Status != "REQUEST_SUCCEEDED" {
		return nil, fmt.Errorf("%w: bls status %q", ErrUnparseablePayload, envelope.Status)
	}

	var rows []Row

	for _, series := range envelope.Results.Series {
		for _, obs := range series.Data {
			year, err := strconv.ParseInt(obs.Year, 10, 64)
			if err != nil {
				a.logger.Warn("skipping bls observation with invalid year",
					slog.String("series_id", series.SeriesID),
					slog.String("year", obs.Year),
				)

				continue
			}

			var footnotes []string
			for _, fn := range obs.Footnotes {
				if fn.Text != "" {
					footnotes = append(footnotes, fn.Text)
				}
			}

			rows = append(rows, Row{
				"series_id":   Text(series.SeriesID),
				"year":        Int(year),
				"period":      Text(obs.Period),
				"period_name": CoerceText(obs.PeriodName),
				"value":       CoerceNumeric(obs.Value),
				"footnotes":   CoerceText(strings.Join(footnotes, "; ")),
			})
		}
	}

	return rows, nil
}

// requireInt parses a required integer config field.
func requireInt(cfg Config, key string) (int, error) {
	raw, err := cfg.Require(key)
	if err != nil {
		return 0, err
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q must be an integer, got %q", ErrInvalidConfig, key, raw)
	}

	return v, nil
}
