package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	treasuryBaseURL = "https://api.fiscaldata.treasury.gov/services/api/fiscal_service"
	// FiscalData caps page[size] at 10000.
	treasuryPageSize = 10000
)

// Treasury ingests the U.S. Treasury FiscalData API. Datasets are addressed
// by endpoint path; pagination uses page[number]/page[size] with the meta
// total-count as the terminator.
type Treasury struct {
	logger *slog.Logger
}

var _ Adapter = (*Treasury)(nil)

// NewTreasury creates the Treasury FiscalData adapter.
func NewTreasury(logger *slog.Logger) *Treasury {
	if logger == nil {
		logger = slog.Default()
	}

	return &Treasury{logger: logger}
}

// Name implements Adapter.
func (a *Treasury) Name() string { return "treasury" }

// Defaults implements Adapter.
func (a *Treasury) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 3,
		MaxRetries:     3,
		RateInterval:   250 * time.Millisecond,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter. FiscalData datasets are self-describing, so the
// config declares the fields to keep; record_date plus the declared key
// fields form the natural key.
func (a *Treasury) Schema(cfg Config) (*Spec, error) {
	endpoint, err := cfg.Require("endpoint")
	if err != nil {
		return nil, err
	}

	fields, err := splitFields(cfg, "fields")
	if err != nil {
		return nil, err
	}

	keyFields, err := splitFields(cfg, "key_fields")
	if err != nil {
		return nil, err
	}

	tableName := NormalizeIdentifier("treasury_" + endpoint)

	columns := []Column{{Name: "record_date", Type: TypeDate}}
	uniqueKey := []string{"record_date"}

	keys := make(map[string]bool, len(keyFields))
	for _, key := range keyFields {
		keys[NormalizeIdentifier(key)] = true
	}

	for _, field := range fields {
		name := NormalizeIdentifier(field)
		if name == "record_date" {
			continue
		}

		if keys[name] {
			columns = append(columns, Column{Name: name, Type: TypeText})
			uniqueKey = append(uniqueKey, name)

			continue
		}

		columns = append(columns, Column{Name: name, Type: TypeText, Nullable: true})
	}

	return &Spec{
		Source:      a.Name(),
		DatasetID:   endpoint,
		TableName:   tableName,
		DisplayName: "Treasury FiscalData " + endpoint,
		Description: "U.S. Treasury FiscalData dataset " + endpoint,
		Columns:     columns,
		UniqueKey:   uniqueKey,
		Indexes:     [][]string{{"record_date"}},
	}, nil
}

// Plan implements Adapter with page-number pagination.
func (a *Treasury) Plan(cfg Config) (Planner, error) {
	endpoint, err := cfg.Require("endpoint")
	if err != nil {
		return nil, err
	}

	fields, err := splitFields(cfg, "fields")
	if err != nil {
		return nil, err
	}

	filter := cfg.Get("filter", "")
	base := cfg.Get("base_url", treasuryBaseURL) + "/" + endpoint

	fieldList := "record_date"

	for _, field := range fields {
		if field != "record_date" {
			fieldList += "," + field
		}
	}

	fetched := 0
	page := 0

	return PlanFunc(func(last *PageInfo) (*Step, error) {
		fetched += last.Count()

		if Exhausted(last, treasuryPageSize, fetched) {
			return nil, nil
		}

		page++

		query := url.Values{}
		query.Set("fields", fieldList)
		query.Set("page[number]", strconv.Itoa(page))
		query.Set("page[size]", strconv.Itoa(treasuryPageSize))
		query.Set("sort", "record_date")

		if filter != "" {
			query.Set("filter", filter)
		}

		return &Step{URL: base, Method: http.MethodGet, Query: query, Page: page}, nil
	}), nil
}

type treasuryEnvelope struct {
	Data []map[string]any `json:"data"`
	Meta struct {
		TotalCount int `json:"total-count"`
	} `json:"meta"`
}

// Parse implements Adapter. Field values arrive as strings; key fields keep
// empty strings instead of NULL so the unique constraint holds.
func (a *Treasury) Parse(step *Step, payload []byte) ([]Row, error) {
	var envelope treasuryEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: treasury response: %w", ErrUnparseablePayload, err)
	}

	rows := make([]Row, 0, len(envelope.Data))

	for _, record := range envelope.Data {
		recordDate, _ := record["record_date"].(string)

		date := CoerceDate(recordDate, "2006-01-02")
		if date.IsNull() {
			a.logger.Warn("skipping treasury record without record_date",
				slog.Int("page", step.Page),
			)

			continue
		}

		row := Row{"record_date": date}

		for field, raw := range record {
			name := NormalizeIdentifier(field)
			if name == "record_date" {
				continue
			}

			// Key fields must never be NULL, and every declared column is
			// TEXT, so plain text coercion covers both cases.
			row[name] = coerceKeyText(raw)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// PageMeta implements the optional pagination-metadata capability.
func (a *Treasury) PageMeta(_ *Step, payload []byte) (*bool, *int, string) {
	var envelope treasuryEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, nil, ""
	}

	return nil, &envelope.Meta.TotalCount, ""
}

// splitFields parses a required comma-separated config field into its parts.
func splitFields(cfg Config, key string) ([]string, error) {
	raw, err := cfg.Require(key)
	if err != nil {
		return nil, err
	}

	var fields []string

	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %q is empty", ErrInvalidConfig, key)
	}

	return fields, nil
}
