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

// BTS publishes through Socrata; SODA paginates with $limit/$offset and
// needs a stable $order for the walk to be exhaustive.
const (
	btsBaseURL    = "https://data.transportation.gov/resource"
	btsResourceID = "keg4-3bc2" // border crossing entry data
	btsPageSize   = 1000
)

// BTS ingests the Bureau of Transportation Statistics border crossing/entry
// dataset from the department's Socrata endpoint: monthly counts per port,
// border, and measure.
type BTS struct {
	logger *slog.Logger
}

var _ Adapter = (*BTS)(nil)

// NewBTS creates the BTS border crossing adapter.
func NewBTS(logger *slog.Logger) *BTS {
	if logger == nil {
		logger = slog.Default()
	}

	return &BTS{logger: logger}
}

// Name implements Adapter.
func (a *BTS) Name() string { return "bts" }

// Defaults implements Adapter. Socrata throttles anonymous clients hard;
// an app token (BTS_APP_TOKEN) raises the ceiling.
func (a *BTS) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter.
func (a *BTS) Schema(_ Config) (*Spec, error) {
	return &Spec{
		Source:      a.Name(),
		DatasetID:   btsResourceID,
		TableName:   "bts_border_crossings",
		DisplayName: "BTS Border Crossings",
		Description: "Monthly inbound crossing counts per port of entry, border, and measure",
		Columns: []Column{
			{Name: "port_code", Type: TypeText},
			{Name: "border", Type: TypeText},
			{Name: "crossing_date", Type: TypeDate},
			{Name: "measure", Type: TypeText},
			{Name: "port_name", Type: TypeText, Nullable: true},
			{Name: "state", Type: TypeText, Nullable: true},
			{Name: "crossing_count", Type: TypeBigInt, Nullable: true},
			{Name: "latitude", Type: TypeDouble, Nullable: true},
			{Name: "longitude", Type: TypeDouble, Nullable: true},
		},
		UniqueKey: []string{"port_code", "border", "crossing_date", "measure"},
		Indexes:   [][]string{{"crossing_date"}, {"border"}},
	}, nil
}

// Plan implements Adapter with SODA offset pagination. Optional start/end
// (YYYY-MM) bound the walk through a $where clause.
func (a *BTS) Plan(cfg Config) (Planner, error) {
	endpoint := cfg.Get("base_url", btsBaseURL) + "/" + cfg.Get("resource_id", btsResourceID) + ".json"
	appToken := cfg.GetOrEnv("app_token", "BTS_APP_TOKEN")
	where := socrataDateWindow("date", cfg.Get("start", ""), cfg.Get("end", ""))

	fetched := 0
	page := 0

	return PlanFunc(func(last *PageInfo) (*Step, error) {
		fetched += last.Count()

		if Exhausted(last, btsPageSize, fetched) {
			return nil, nil
		}

		query := url.Values{}
		query.Set("$limit", strconv.Itoa(btsPageSize))
		query.Set("$offset", strconv.Itoa(fetched))
		query.Set("$order", "date,port_code,measure")

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

// btsRecord is one Socrata row; every field arrives as a string.
type btsRecord struct {
	PortName  string `json:"port_name"`
	State     string `json:"state"`
	PortCode  string `json:"port_code"`
	Border    string `json:"border"`
	Date      string `json:"date"`
	Measure   string `json:"measure"`
	Value     string `json:"value"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// Parse implements Adapter.
func (a *BTS) Parse(step *Step, payload []byte) ([]Row, error) {
	var records []btsRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("%w: bts response: %w", ErrUnparseablePayload, err)
	}

	rows := make([]Row, 0, len(records))

	for _, record := range records {
		date := CoerceDate(record.Date, "2006-01-02T15:04:05.000", time.RFC3339, "2006-01-02")

		if record.PortCode == "" || record.Measure == "" || date.IsNull() {
			a.logger.Warn("skipping bts record without port_code, measure, or date",
				slog.Int("page", step.Page),
			)

			continue
		}

		rows = append(rows, Row{
			"port_code":      Text(record.PortCode),
			"border":         Text(record.Border),
			"crossing_date":  date,
			"measure":        Text(record.Measure),
			"port_name":      CoerceText(record.PortName),
			"state":          CoerceText(record.State),
			"crossing_count": CoerceNumeric(record.Value),
			"latitude":       CoerceNumeric(record.Latitude),
			"longitude":      CoerceNumeric(record.Longitude),
		})
	}

	return rows, nil
}

// socrataDateWindow builds a SODA $where clause bounding a floating-timestamp
// column to [start, end]. Either bound may be empty.
func socrataDateWindow(column, start, end string) string {
	switch {
	case start != "" && end != "":
		return fmt.Sprintf("%s >= '%s-01T00:00:00' AND %s <= '%s-01T00:00:00'", column, start, column, end)
	case start != "":
		return fmt.Sprintf("%s >= '%s-01T00:00:00'", column, start)
	case end != "":
		return fmt.Sprintf("%s <= '%s-01T00:00:00'", column, end)
	default:
		return ""
	}
}
