package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const propublicaBaseURL = "https://projects.propublica.org/nonprofits/api/v2"

// ProPublica ingests Form 990 filing data from the ProPublica Nonprofit
// Explorer API: one JSON fetch per EIN, one row per filing year.
type ProPublica struct {
	logger *slog.Logger
}

var _ Adapter = (*ProPublica)(nil)

// NewProPublica creates the ProPublica Form 990 adapter.
func NewProPublica(logger *slog.Logger) *ProPublica {
	if logger == nil {
		logger = slog.Default()
	}

	return &ProPublica{logger: logger}
}

// Name implements Adapter.
func (a *ProPublica) Name() string { return "propublica_990" }

// Defaults implements Adapter.
func (a *ProPublica) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        30 * time.Second,
	}
}

// Schema implements Adapter.
func (a *ProPublica) Schema(cfg Config) (*Spec, error) {
	if _, err := cfg.Require("eins"); err != nil {
		return nil, err
	}

	return &Spec{
		Source:      a.Name(),
		DatasetID:   "form990_filings",
		TableName:   "form990_filings",
		DisplayName: "Form 990 Filings",
		Description: "Nonprofit Form 990 filing data via the ProPublica Nonprofit Explorer API",
		Columns: []Column{
			{Name: "ein", Type: TypeText},
			{Name: "tax_year", Type: TypeBigInt},
			{Name: "organization_name", Type: TypeText, Nullable: true},
			{Name: "total_revenue", Type: TypeNumeric, Nullable: true},
			{Name: "total_expenses", Type: TypeNumeric, Nullable: true},
			{Name: "total_assets", Type: TypeNumeric, Nullable: true},
			{Name: "total_liabilities", Type: TypeNumeric, Nullable: true},
			{Name: "pdf_url", Type: TypeText, Nullable: true},
		},
		UniqueKey: []string{"ein", "tax_year"},
		Indexes:   [][]string{{"ein"}},
	}, nil
}

// Plan implements Adapter: one step per configured EIN.
func (a *ProPublica) Plan(cfg Config) (Planner, error) {
	eins, err := splitFields(cfg, "eins")
	if err != nil {
		return nil, err
	}

	base := cfg.Get("base_url", propublicaBaseURL)
	list := make([]Step, 0, len(eins))

	for i, ein := range eins {
		list = append(list, Step{
			URL:    base + "/organizations/" + ein + ".json",
			Method: http.MethodGet,
			Page:   i + 1,
			Cursor: ein,
		})
	}

	return Steps(list...), nil
}

type propublicaEnvelope struct {
	Organization struct {
		Name string `json:"name"`
	} `json:"organization"`
	FilingsWithData []struct {
		TaxPrdYr         int      `json:"tax_prd_yr"`
		TotRevenue       *float64 `json:"totrevenue"`
		TotFuncExpns     *float64 `json:"totfuncexpns"`
		TotAssetsEnd     *float64 `json:"totassetsend"`
		TotLiabilitiesEn *float64 `json:"totliabend"`
		PDFURL           string   `json:"pdf_url"`
	} `json:"filings_with_data"`
}

// Parse implements Adapter.
func (a *ProPublica) Parse(step *Step, payload []byte) ([]Row, error) {
	var envelope propublicaEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: propublica response: %w", ErrUnparseablePayload, err)
	}

	ein := step.Cursor
	if ein == "" {
		ein = einFromURL(step.URL)
	}

	rows := make([]Row, 0, len(envelope.FilingsWithData))

	for _, filing := range envelope.FilingsWithData {
		if filing.TaxPrdYr == 0 {
			a.logger.Warn("skipping form 990 filing without tax year",
				slog.String("ein", ein),
			)

			continue
		}

		rows = append(rows, Row{
			"ein":               Text(ein),
			"tax_year":          Int(int64(filing.TaxPrdYr)),
			"organization_name": CoerceText(envelope.Organization.Name),
			"total_revenue":     optionalFloat(filing.TotRevenue),
			"total_expenses":    optionalFloat(filing.TotFuncExpns),
			"total_assets":      optionalFloat(filing.TotAssetsEnd),
			"total_liabilities": optionalFloat(filing.TotLiabilitiesEn),
			"pdf_url":           CoerceText(filing.PDFURL),
		})
	}

	return rows, nil
}

func optionalFloat(v *float64) Value {
	if v == nil {
		return Null()
	}

	return Float(*v)
}

func einFromURL(rawURL string) string {
	trimmed := strings.TrimSuffix(rawURL, ".json")
	parts := strings.Split(trimmed, "/")

	return parts[len(parts)-1]
}
