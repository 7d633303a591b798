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
	cmsBaseURL   = "https://data.cms.gov/provider-data/api/1/datastore/query"
	cmsDatasetID = "xubh-q36u" // hospital general information
	cmsPageSize  = 500
)

// CMS ingests the Hospital General Information dataset from the CMS
// provider-data datastore API. Some CMS datastore revisions go silently
// unavailable and return empty result sets; the engine records those runs
// as zero-row successes.
type CMS struct {
	logger *slog.Logger
}

var _ Adapter = (*CMS)(nil)

// NewCMS creates the CMS hospitals adapter.
func NewCMS(logger *slog.Logger) *CMS {
	if logger == nil {
		logger = slog.Default()
	}

	return &CMS{logger: logger}
}

// Name implements Adapter.
func (a *CMS) Name() string { return "cms_hospitals" }

// Defaults implements Adapter.
func (a *CMS) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter.
func (a *CMS) Schema(_ Config) (*Spec, error) {
	return &Spec{
		Source:      a.Name(),
		DatasetID:   cmsDatasetID,
		TableName:   "cms_hospitals",
		DisplayName: "CMS Hospital General Information",
		Description: "Medicare-certified hospital directory with overall star ratings",
		Columns: []Column{
			{Name: "facility_id", Type: TypeText},
			{Name: "facility_name", Type: TypeText, Nullable: true},
			{Name: "address", Type: TypeText, Nullable: true},
			{Name: "city", Type: TypeText, Nullable: true},
			{Name: "state", Type: TypeText, Nullable: true},
			{Name: "zip_code", Type: TypeText, Nullable: true},
			{Name: "county_name", Type: TypeText, Nullable: true},
			{Name: "hospital_type", Type: TypeText, Nullable: true},
			{Name: "hospital_ownership", Type: TypeText, Nullable: true},
			{Name: "emergency_services", Type: TypeText, Nullable: true},
			{Name: "hospital_overall_rating", Type: TypeBigInt, Nullable: true},
		},
		UniqueKey: []string{"facility_id"},
		Indexes:   [][]string{{"state"}},
	}, nil
}

// Plan implements Adapter with datastore offset pagination; the reported
// count terminates the walk.
func (a *CMS) Plan(cfg Config) (Planner, error) {
	endpoint := cfg.Get("base_url", cmsBaseURL) + "/" + cfg.Get("dataset_id", cmsDatasetID) + "/0"

	fetched := 0
	page := 0

	return PlanFunc(func(last *PageInfo) (*Step, error) {
		fetched += last.Count()

		if Exhausted(last, cmsPageSize, fetched) {
			return nil, nil
		}

		query := url.Values{}
		query.Set("limit", strconv.Itoa(cmsPageSize))
		query.Set("offset", strconv.Itoa(fetched))
		query.Set("count", "true")

		page++

		return &Step{URL: endpoint, Method: http.MethodGet, Query: query, Page: page}, nil
	}), nil
}

// cmsEnvelope is the datastore query response: results keyed by the
// dataset's human-readable column headers.
type cmsEnvelope struct {
	Count   int                 `json:"count"`
	Results []map[string]string `json:"results"`
}

// Parse implements Adapter.
func (a *CMS) Parse(step *Step, payload []byte) ([]Row, error) {
	var envelope cmsEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: cms response: %w", ErrUnparseablePayload, err)
	}

	rows := make([]Row, 0, len(envelope.Results))

	for _, record := range envelope.Results {
		facilityID := record["facility_id"]
		if facilityID == "" {
			facilityID = record["Facility ID"]
		}

		if facilityID == "" {
			a.logger.Warn("skipping cms record without facility id",
				slog.Int("page", step.Page),
			)

			continue
		}

		rows = append(rows, Row{
			"facility_id":             Text(facilityID),
			"facility_name":           CoerceText(cmsField(record, "facility_name", "Facility Name")),
			"address":                 CoerceText(cmsField(record, "address", "Address")),
			"city":                    CoerceText(cmsField(record, "citytown", "City/Town")),
			"state":                   CoerceText(cmsField(record, "state", "State")),
			"zip_code":                CoerceText(cmsField(record, "zip_code", "ZIP Code")),
			"county_name":             CoerceText(cmsField(record, "countyparish", "County/Parish")),
			"hospital_type":           CoerceText(cmsField(record, "hospital_type", "Hospital Type")),
			"hospital_ownership":      CoerceText(cmsField(record, "hospital_ownership", "Hospital Ownership")),
			"emergency_services":      CoerceText(cmsField(record, "emergency_services", "Emergency Services")),
			"hospital_overall_rating": CoerceNumeric(cmsField(record, "hospital_overall_rating", "Hospital overall rating")),
		})
	}

	return rows, nil
}

// PageMeta implements the optional pagination-metadata capability.
func (a *CMS) PageMeta(_ *Step, payload []byte) (*bool, *int, string) {
	var envelope cmsEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, nil, ""
	}

	return nil, &envelope.Count, ""
}

// cmsField reads a result cell under either the machine or display header;
// the datastore API has shipped both shapes.
func cmsField(record map[string]string, machine, display string) string {
	if v := record[machine]; v != "" {
		return v
	}

	return record[display]
}
