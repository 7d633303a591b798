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
	kalshiBaseURL  = "https://api.elections.kalshi.com/trade-api/v2"
	kalshiPageSize = 200
)

// Prediction ingests market snapshots from a Kalshi-compatible prediction
// market API. Pagination is cursor-based: each page returns the cursor for
// the next one, and an empty cursor ends the walk.
type Prediction struct {
	logger *slog.Logger
}

var _ Adapter = (*Prediction)(nil)

// NewPrediction creates the prediction markets adapter.
func NewPrediction(logger *slog.Logger) *Prediction {
	if logger == nil {
		logger = slog.Default()
	}

	return &Prediction{logger: logger}
}

// Name implements Adapter.
func (a *Prediction) Name() string { return "prediction_markets" }

// Defaults implements Adapter.
func (a *Prediction) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   500 * time.Millisecond,
		Timeout:        30 * time.Second,
	}
}

// Schema implements Adapter. Tickers are unique across the exchange, so a
// snapshot keyed by (ticker, snapshot_date) tracks daily market state.
func (a *Prediction) Schema(_ Config) (*Spec, error) {
	return &Spec{
		Source:      a.Name(),
		DatasetID:   "markets",
		TableName:   "prediction_markets",
		DisplayName: "Prediction Markets",
		Description: "Daily prediction market snapshots: prices, volume, open interest",
		Columns: []Column{
			{Name: "ticker", Type: TypeText},
			{Name: "snapshot_date", Type: TypeDate},
			{Name: "event_ticker", Type: TypeText, Nullable: true},
			{Name: "title", Type: TypeText, Nullable: true},
			{Name: "status", Type: TypeText, Nullable: true},
			{Name: "yes_bid", Type: TypeBigInt, Nullable: true},
			{Name: "yes_ask", Type: TypeBigInt, Nullable: true},
			{Name: "last_price", Type: TypeBigInt, Nullable: true},
			{Name: "volume", Type: TypeBigInt, Nullable: true},
			{Name: "open_interest", Type: TypeBigInt, Nullable: true},
			{Name: "close_time", Type: TypeTimestamp, Nullable: true},
		},
		UniqueKey: []string{"ticker", "snapshot_date"},
		Indexes:   [][]string{{"event_ticker"}, {"status"}},
	}, nil
}

// Plan implements Adapter with cursor pagination.
func (a *Prediction) Plan(cfg Config) (Planner, error) {
	endpoint := cfg.Get("base_url", kalshiBaseURL) + "/markets"
	status := cfg.Get("status", "open")
	seriesTicker := cfg.Get("series_ticker", "")

	page := 0

	return PlanFunc(func(last *PageInfo) (*Step, error) {
		cursor := ""

		if last != nil {
			if last.Cursor == "" {
				return nil, nil
			}

			cursor = last.Cursor
		}

		query := url.Values{}
		query.Set("limit", strconv.Itoa(kalshiPageSize))

		if status != "" {
			query.Set("status", status)
		}

		if seriesTicker != "" {
			query.Set("series_ticker", seriesTicker)
		}

		if cursor != "" {
			query.Set("cursor", cursor)
		}

		page++

		return &Step{URL: endpoint, Method: http.MethodGet, Query: query, Page: page, Cursor: cursor}, nil
	}), nil
}

type kalshiEnvelope struct {
	Cursor  string `json:"cursor"`
	Markets []struct {
		Ticker       string `json:"ticker"`
		EventTicker  string `json:"event_ticker"`
		Title        string `json:"title"`
		Status       string `json:"status"`
		YesBid       *int64 `json:"yes_bid"`
		YesAsk       *int64 `json:"yes_ask"`
		LastPrice    *int64 `json:"last_price"`
		Volume       *int64 `json:"volume"`
		OpenInterest *int64 `json:"open_interest"`
		CloseTime    string `json:"close_time"`
	} `json:"markets"`
}

// Parse implements Adapter. Snapshot date is the ingest day (UTC), so each
// daily run appends one observation per market.
func (a *Prediction) Parse(step *Step, payload []byte) ([]Row, error) {
	var envelope kalshiEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: prediction markets response: %w", ErrUnparseablePayload, err)
	}

	snapshot := Time(time.Now().UTC().Truncate(24 * time.Hour))

	rows := make([]Row, 0, len(envelope.Markets))

	for _, market := range envelope.Markets {
		if market.Ticker == "" {
			a.logger.Warn("skipping market without ticker", slog.Int("page", step.Page))

			continue
		}

		rows = append(rows, Row{
			"ticker":        Text(market.Ticker),
			"snapshot_date": snapshot,
			"event_ticker":  CoerceText(market.EventTicker),
			"title":         CoerceText(market.Title),
			"status":        CoerceText(market.Status),
			"yes_bid":       coerceIntPtr(market.YesBid),
			"yes_ask":       coerceIntPtr(market.YesAsk),
			"last_price":    coerceIntPtr(market.LastPrice),
			"volume":        coerceIntPtr(market.Volume),
			"open_interest": coerceIntPtr(market.OpenInterest),
			"close_time":    CoerceDate(market.CloseTime, time.RFC3339),
		})
	}

	return rows, nil
}

// PageMeta implements the optional pagination-metadata capability: the
// next-page cursor drives the planner.
func (a *Prediction) PageMeta(_ *Step, payload []byte) (*bool, *int, string) {
	var envelope kalshiEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, nil, ""
	}

	return nil, nil, envelope.Cursor
}

func coerceIntPtr(v *int64) Value {
	if v == nil {
		return Null()
	}

	return Int(*v)
}
