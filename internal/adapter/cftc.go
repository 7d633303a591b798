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
	cftcBaseURL    = "https://publicreporting.cftc.gov/resource"
	cftcResourceID = "6dca-aqww" // legacy futures-only commitments of traders
	cftcPageSize   = 1000
)

// CFTC ingests the weekly Commitments of Traders report (legacy futures-only
// format) from the commission's Socrata endpoint.
type CFTC struct {
	logger *slog.Logger
}

var _ Adapter = (*CFTC)(nil)

// NewCFTC creates the CFTC COT adapter.
func NewCFTC(logger *slog.Logger) *CFTC {
	if logger == nil {
		logger = slog.Default()
	}

	return &CFTC{logger: logger}
}

// Name implements Adapter.
func (a *CFTC) Name() string { return "cftc_cot" }

// Defaults implements Adapter.
func (a *CFTC) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter.
func (a *CFTC) Schema(_ Config) (*Spec, error) {
	return &Spec{
		Source:      a.Name(),
		DatasetID:   cftcResourceID,
		TableName:   "cftc_cot_legacy",
		DisplayName: "CFTC Commitments of Traders",
		Description: "Weekly legacy futures-only COT positions per contract market",
		Columns: []Column{
			{Name: "report_date", Type: TypeDate},
			{Name: "contract_market_code", Type: TypeText},
			{Name: "market_and_exchange_names", Type: TypeText, Nullable: true},
			{Name: "commodity_name", Type: TypeText, Nullable: true},
			{Name: "open_interest_all", Type: TypeBigInt, Nullable: true},
			{Name: "noncomm_positions_long_all", Type: TypeBigInt, Nullable: true},
			{Name: "noncomm_positions_short_all", Type: TypeBigInt, Nullable: true},
			{Name: "comm_positions_long_all", Type: TypeBigInt, Nullable: true},
			{Name: "comm_positions_short_all", Type: TypeBigInt, Nullable: true},
			{Name: "nonrept_positions_long_all", Type: TypeBigInt, Nullable: true},
			{Name: "nonrept_positions_short_all", Type: TypeBigInt, Nullable: true},
		},
		UniqueKey: []string{"report_date", "contract_market_code"},
		Indexes:   [][]string{{"report_date"}, {"contract_market_code"}},
	}, nil
}

// Plan implements Adapter with SODA offset pagination, oldest report first.
func (a *CFTC) Plan(cfg Config) (Planner, error) {
	endpoint := cfg.Get("base_url", cftcBaseURL) + "/" + cfg.Get("resource_id", cftcResourceID) + ".json"
	appToken := cfg.GetOrEnv("app_token", "CFTC_APP_TOKEN")
	where := socrataDateWindow("report_date_as_yyyy_mm_dd", cfg.Get("start", ""), cfg.Get("end", ""))

	fetched := 0
	page := 0

	return PlanFunc(func(last *PageInfo) (*Step, error) {
		fetched += last.Count()

		if Exhausted(last, cftcPageSize, fetched) {
			return nil, nil
		}

		query := url.Values{}
		query.Set("$limit", strconv.Itoa(cftcPageSize))
		query.Set("$offset", strconv.Itoa(fetched))
		query.Set("$order", "report_date_as_yyyy_mm_dd,cftc_contract_market_code")

		if where != "" {
			query.Set("$where", where)
		}

		headers := map[string]string{}
		if appToken != "" {
			headers["X-App-Token"] = appToken
		}

		page++

		return &Step{URL: endpoint, Method: http.MethodGet, Query: query, Headers: headers, Page: page}, nil
	}), nil
}

type cftcRecord struct {
	ReportDate    string `json:"report_date_as_yyyy_mm_dd"`
	MarketCode    string `json:"cftc_contract_market_code"`
	MarketNames   string `json:"market_and_exchange_names"`
	CommodityName string `json:"commodity_name"`
	OpenInterest  string `json:"open_interest_all"`
	NoncommLong   string `json:"noncomm_positions_long_all"`
	NoncommShort  string `json:"noncomm_positions_short_all"`
	CommLong      string `json:"comm_positions_long_all"`
	CommShort     string `json:"comm_positions_short_all"`
	NonreptLong   string `json:"nonrept_positions_long_all"`
	NonreptShort  string `json:"nonrept_positions_short_all"`
}

// Parse implements Adapter.
func (a *CFTC) Parse(step *Step, payload []byte) ([]Row, error) {
	var records []cftcRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("%w: cftc response: %w", ErrUnparseablePayload, err)
	}

	rows := make([]Row, 0, len(records))

	for _, record := range records {
		date := CoerceDate(record.ReportDate, "2006-01-02T15:04:05.000", time.RFC3339, "2006-01-02")

		if record.MarketCode == "" || date.IsNull() {
			a.logger.Warn("skipping cftc record without market code or report date",
				slog.Int("page", step.Page),
			)

			continue
		}

		rows = append(rows, Row{
			"report_date":                 date,
			"contract_market_code":        Text(record.MarketCode),
			"market_and_exchange_names":   CoerceText(record.MarketNames),
			"commodity_name":              CoerceText(record.CommodityName),
			"open_interest_all":           CoerceNumeric(record.OpenInterest),
			"noncomm_positions_long_all":  CoerceNumeric(record.NoncommLong),
			"noncomm_positions_short_all": CoerceNumeric(record.NoncommShort),
			"comm_positions_long_all":     CoerceNumeric(record.CommLong),
			"comm_positions_short_all":    CoerceNumeric(record.CommShort),
			"nonrept_positions_long_all":  CoerceNumeric(record.NonreptLong),
			"nonrept_positions_short_all": CoerceNumeric(record.NonreptShort),
		})
	}

	return rows, nil
}
