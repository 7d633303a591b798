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
	advSearchURL = "https://api.adviserinfo.sec.gov/search/firm"
	// SEC IAPD sits behind the same fair-access policy as EDGAR.
	advRateInterval = 250 * time.Millisecond

	advDefaultMaxFirms = 10
)

// FormADV ingests SEC Form ADV registrations from the IAPD firm API. Like
// the 13F adapter the plan is two-phase: a firm search resolves a name query
// to CRD numbers, then one detail fetch per firm. Callers that already know
// their CRDs can pass them directly and skip the search.
type FormADV struct {
	logger *slog.Logger
}

var _ Adapter = (*FormADV)(nil)

// NewFormADV creates the Form ADV adapter.
func NewFormADV(logger *slog.Logger) *FormADV {
	if logger == nil {
		logger = slog.Default()
	}

	return &FormADV{logger: logger}
}

// Name implements Adapter.
func (a *FormADV) Name() string { return "form_adv" }

// Defaults implements Adapter.
func (a *FormADV) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 1,
		MaxRetries:     3,
		RateInterval:   advRateInterval,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter. Rows are keyed by the firm's CRD number; a
// re-run replaces the firm's registration snapshot in place.
func (a *FormADV) Schema(cfg Config) (*Spec, error) {
	if _, _, err := advTargets(cfg); err != nil {
		return nil, err
	}

	return &Spec{
		Source:      a.Name(),
		DatasetID:   "adv_firms",
		TableName:   "form_adv_firms",
		DisplayName: "SEC Form ADV Registrations",
		Description: "Investment adviser registrations from the SEC IAPD firm API",
		Columns: []Column{
			{Name: "crd", Type: TypeText},
			{Name: "firm_name", Type: TypeText, Nullable: true},
			{Name: "sec_number", Type: TypeText, Nullable: true},
			{Name: "registration_status", Type: TypeText, Nullable: true},
			{Name: "latest_filing_date", Type: TypeDate, Nullable: true},
			{Name: "main_office_city", Type: TypeText, Nullable: true},
			{Name: "main_office_state", Type: TypeText, Nullable: true},
			{Name: "total_aum", Type: TypeBigInt, Nullable: true},
			{Name: "employee_count", Type: TypeBigInt, Nullable: true},
		},
		UniqueKey: []string{"crd"},
		Indexes:   [][]string{{"main_office_state"}},
	}, nil
}

// advTargets resolves the plan inputs: either an explicit CRD list or a firm
// name query for the search phase.
func advTargets(cfg Config) (crds []string, query string, err error) {
	if cfg.Get("crds", "") != "" {
		crds, err = splitFields(cfg, "crds")

		return crds, "", err
	}

	query, err = cfg.Require("query")

	return nil, query, err
}

// Plan implements Adapter. With a CRD list the detail steps are known up
// front; with a name query step 0 is the firm search and its PageMeta cursor
// carries the resolved CRDs, one per line.
func (a *FormADV) Plan(cfg Config) (Planner, error) {
	crds, query, err := advTargets(cfg)
	if err != nil {
		return nil, err
	}

	userAgent, err := cfg.Require("user_agent")
	if err != nil {
		return nil, err
	}

	maxFirms := advDefaultMaxFirms

	if raw := cfg.Get("max_firms", ""); raw != "" {
		if maxFirms, err = requireInt(cfg, "max_firms"); err != nil {
			return nil, err
		}
	}

	base := cfg.Get("base_url", advSearchURL)
	headers := map[string]string{"User-Agent": userAgent}

	detail := func(crd string, page int) Step {
		return Step{
			URL:     base + "/" + crd,
			Method:  http.MethodGet,
			Headers: headers,
			Page:    page,
			Cursor:  crd,
		}
	}

	if len(crds) > 0 {
		if len(crds) > maxFirms {
			crds = crds[:maxFirms]
		}

		steps := make([]Step, len(crds))
		for i, crd := range crds {
			steps[i] = detail(crd, i+1)
		}

		return Steps(steps...), nil
	}

	var (
		pending []Step
		indexed bool
	)

	return PlanFunc(func(last *PageInfo) (*Step, error) {
		if last == nil {
			return &Step{
				URL:     base,
				Method:  http.MethodGet,
				Query:   url.Values{"query": {query}, "hits": {strconv.Itoa(maxFirms)}},
				Headers: headers,
				Page:    0,
			}, nil
		}

		if !indexed {
			indexed = true

			for _, crd := range strings.Split(last.Cursor, "\n") {
				if crd == "" {
					continue
				}

				pending = append(pending, detail(crd, len(pending)+1))

				if len(pending) == maxFirms {
					break
				}
			}
		}

		if len(pending) == 0 {
			return nil, nil
		}

		step := pending[0]
		pending = pending[1:]

		return &step, nil
	}), nil
}

// advSearch is the IAPD firm-search response shape.
type advSearch struct {
	Hits struct {
		Hits []struct {
			Source struct {
				CRD json.Number `json:"org_crd_nb"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// advFirm is the IAPD firm-detail response shape.
type advFirm struct {
	Basic struct {
		CRD              json.Number `json:"firmId"`
		Name             string      `json:"firmName"`
		SECNumber        string      `json:"secNumber"`
		Status           string      `json:"registrationStatus"`
		LatestFilingDate string      `json:"latestFilingDate"`
	} `json:"basicInformation"`
	Address struct {
		City  string `json:"city"`
		State string `json:"state"`
	} `json:"mainAddress"`
	AUM       json.Number `json:"totalAUM"`
	Employees json.Number `json:"totalEmployees"`
}

// Parse implements Adapter. The search step yields no rows; each detail step
// yields the firm's registration snapshot.
func (a *FormADV) Parse(step *Step, payload []byte) ([]Row, error) {
	if step.Page == 0 {
		// Firm search: consumed via PageMeta, contributes no rows.
		if !json.Valid(payload) {
			return nil, fmt.Errorf("%w: adv firm search", ErrUnparseablePayload)
		}

		return nil, nil
	}

	var firm advFirm
	if err := json.Unmarshal(payload, &firm); err != nil {
		return nil, fmt.Errorf("%w: adv firm detail: %w", ErrUnparseablePayload, err)
	}

	crd := firm.Basic.CRD.String()
	if crd == "" || crd == "0" {
		// Fall back to the CRD the step was planned for.
		crd = step.Cursor
	}

	if crd == "" {
		a.logger.Warn("skipping adv firm without crd", slog.String("url", step.URL))

		return nil, nil
	}

	return []Row{{
		"crd":                 Text(crd),
		"firm_name":           CoerceText(firm.Basic.Name),
		"sec_number":          CoerceText(firm.Basic.SECNumber),
		"registration_status": CoerceText(firm.Basic.Status),
		"latest_filing_date":  CoerceDate(firm.Basic.LatestFilingDate, "01/02/2006", "2006-01-02"),
		"main_office_city":    CoerceText(firm.Address.City),
		"main_office_state":   CoerceText(firm.Address.State),
		"total_aum":           CoerceNumeric(firm.AUM.String()),
		"employee_count":      CoerceNumeric(firm.Employees.String()),
	}}, nil
}

// PageMeta implements the optional pagination-metadata capability: on the
// search step it encodes the matched CRD numbers as cursor lines.
func (a *FormADV) PageMeta(step *Step, payload []byte) (*bool, *int, string) {
	if step.Page != 0 {
		return nil, nil, ""
	}

	var search advSearch
	if err := json.Unmarshal(payload, &search); err != nil {
		return nil, nil, ""
	}

	var lines []string

	for _, hit := range search.Hits.Hits {
		if crd := hit.Source.CRD.String(); crd != "" && crd != "0" {
			lines = append(lines, crd)
		}
	}

	return nil, nil, strings.Join(lines, "\n")
}
