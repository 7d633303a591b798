package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const censusBaseURL = "https://api.census.gov/data"

// Census ingests American Community Survey estimates from the Census Bureau
// API. Responses are arrays of arrays with a header row; rows are unpivoted
// into long form, one row per (geography, variable), so every survey shares
// one table shape.
type Census struct {
	logger *slog.Logger
}

var _ Adapter = (*Census)(nil)

// NewCensus creates the Census ACS adapter.
func NewCensus(logger *slog.Logger) *Census {
	if logger == nil {
		logger = slog.Default()
	}

	return &Census{logger: logger}
}

// Name implements Adapter.
func (a *Census) Name() string { return "census" }

// Defaults implements Adapter.
func (a *Census) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter.
func (a *Census) Schema(cfg Config) (*Spec, error) {
	survey, err := cfg.Require("survey")
	if err != nil {
		return nil, err
	}

	if _, err := cfg.Require("variables"); err != nil {
		return nil, err
	}

	tableName := NormalizeIdentifier("census_" + survey)

	return &Spec{
		Source:      a.Name(),
		DatasetID:   survey,
		TableName:   tableName,
		DisplayName: "Census " + strings.ToUpper(survey),
		Description: "Census Bureau API estimates for survey " + survey + ", long form",
		Columns: []Column{
			{Name: "year", Type: TypeBigInt},
			{Name: "geo_id", Type: TypeText},
			{Name: "geography", Type: TypeText, Nullable: true},
			{Name: "variable", Type: TypeText},
			{Name: "value", Type: TypeNumeric, Nullable: true},
		},
		UniqueKey: []string{"year", "geo_id", "variable"},
		Indexes:   [][]string{{"variable"}, {"geo_id"}},
	}, nil
}

// Plan implements Adapter. One step per configured year; the API has no
// pagination within a year.
func (a *Census) Plan(cfg Config) (Planner, error) {
	survey, err := cfg.Require("survey")
	if err != nil {
		return nil, err
	}

	variables, err := cfg.Require("variables")
	if err != nil {
		return nil, err
	}

	geography := cfg.Get("for", "state:*")
	apiKey := cfg.GetOrEnv("api_key", "CENSUS_API_KEY")
	base := cfg.Get("base_url", censusBaseURL)

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

	var list []Step

	for year := startYear; year <= endYear; year++ {
		query := url.Values{}
		query.Set("get", "NAME,"+variables)
		query.Set("for", geography)

		if apiKey != "" {
			query.Set("key", apiKey)
		}

		list = append(list, Step{
			URL:    fmt.Sprintf("%s/%d/%s", base, year, strings.ReplaceAll(survey, "_", "/")),
			Method: http.MethodGet,
			Query:  query,
			Page:   year,
		})
	}

	return Steps(list...), nil
}

// Parse implements Adapter. The header row names each column; variable
// columns are those requested via get=, geo columns are whatever the API
// appended for the for= clause.
func (a *Census) Parse(step *Step, payload []byte) ([]Row, error) {
	var table [][]string
	if err := json.Unmarshal(payload, &table); err != nil {
		return nil, fmt.Errorf("%w: census response: %w", ErrUnparseablePayload, err)
	}

	if len(table) < 1 {
		return nil, fmt.Errorf("%w: census response has no header row", ErrUnparseablePayload)
	}

	header := table[0]
	requested := make(map[string]bool)

	for _, v := range strings.Split(step.Query.Get("get"), ",") {
		if v != "" && v != "NAME" {
			requested[v] = true
		}
	}

	var rows []Row

	for _, record := range table[1:] {
		if len(record) != len(header) {
			a.logger.Warn("skipping census record with mismatched width",
				slog.Int("year", step.Page),
				slog.Int("expected", len(header)),
				slog.Int("got", len(record)),
			)

			continue
		}

		var (
			name     string
			geoParts []string
		)

		variables := make(map[string]string)

		for i, col := range header {
			switch {
			case col == "NAME":
				name = record[i]
			case requested[col]:
				variables[col] = record[i]
			default:
				// Remaining columns are geography identifiers (state, county, ...).
				geoParts = append(geoParts, record[i])
			}
		}

		geoID := strings.Join(geoParts, "-")

		for variable, raw := range variables {
			rows = append(rows, Row{
				"year":      Int(int64(step.Page)),
				"geo_id":    Text(geoID),
				"geography": CoerceText(name),
				"variable":  Text(variable),
				"value":     CoerceNumeric(raw),
			})
		}
	}

	return rows, nil
}
