package adapter

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	edgarSubmissionsURL = "https://data.sec.gov/submissions"
	edgarArchivesURL    = "https://www.sec.gov/Archives/edgar/data"
	// SEC fair-access policy: at most 10 requests per second, identified
	// by a descriptive User-Agent.
	edgarRateInterval = 110 * time.Millisecond
)

// Edgar13F ingests SEC EDGAR 13F-HR holdings. The plan is two-phase: the
// submissions JSON index is fetched first, then one XML information table
// per 13F-HR filing found in the index. The filing list travels from the
// index payload to the planner through the page cursor.
type Edgar13F struct {
	logger *slog.Logger
}

var _ Adapter = (*Edgar13F)(nil)

// NewEdgar13F creates the EDGAR 13F adapter.
func NewEdgar13F(logger *slog.Logger) *Edgar13F {
	if logger == nil {
		logger = slog.Default()
	}

	return &Edgar13F{logger: logger}
}

// Name implements Adapter.
func (a *Edgar13F) Name() string { return "edgar_13f" }

// Defaults implements Adapter.
func (a *Edgar13F) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 1,
		MaxRetries:     3,
		RateInterval:   edgarRateInterval,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter. Holdings are CUSIP-keyed within a filing.
func (a *Edgar13F) Schema(cfg Config) (*Spec, error) {
	if _, err := cfg.Require("cik"); err != nil {
		return nil, err
	}

	return &Spec{
		Source:      a.Name(),
		DatasetID:   "13f_holdings",
		TableName:   "edgar_13f_holdings",
		DisplayName: "SEC EDGAR 13F Holdings",
		Description: "Institutional holdings from SEC EDGAR 13F-HR information tables",
		Columns: []Column{
			{Name: "cik", Type: TypeText},
			{Name: "accession_number", Type: TypeText},
			{Name: "cusip", Type: TypeText},
			{Name: "name_of_issuer", Type: TypeText, Nullable: true},
			{Name: "title_of_class", Type: TypeText},
			{Name: "value_thousands", Type: TypeBigInt, Nullable: true},
			{Name: "shares", Type: TypeBigInt, Nullable: true},
			{Name: "share_type", Type: TypeText, Nullable: true},
			{Name: "investment_discretion", Type: TypeText, Nullable: true},
			{Name: "voting_sole", Type: TypeBigInt, Nullable: true},
			{Name: "voting_shared", Type: TypeBigInt, Nullable: true},
			{Name: "voting_none", Type: TypeBigInt, Nullable: true},
		},
		UniqueKey: []string{"cik", "accession_number", "cusip", "title_of_class"},
		Indexes:   [][]string{{"cusip"}, {"cik"}},
	}, nil
}

// Plan implements Adapter. Step 0 is the submissions index; the cursor
// produced by its PageMeta carries "accession|url" lines that become the XML
// info-table steps.
func (a *Edgar13F) Plan(cfg Config) (Planner, error) {
	cik, err := cfg.Require("cik")
	if err != nil {
		return nil, err
	}

	userAgent, err := cfg.Require("user_agent")
	if err != nil {
		return nil, err
	}

	maxFilings := 4

	if raw := cfg.Get("max_filings", ""); raw != "" {
		if maxFilings, err = requireInt(cfg, "max_filings"); err != nil {
			return nil, err
		}
	}

	submissionsBase := cfg.Get("submissions_url", edgarSubmissionsURL)
	headers := map[string]string{"User-Agent": userAgent}
	padded := fmt.Sprintf("%010s", cik)

	var (
		pending []Step
		indexed bool
	)

	return PlanFunc(func(last *PageInfo) (*Step, error) {
		if last == nil {
			return &Step{
				URL:     submissionsBase + "/CIK" + padded + ".json",
				Method:  http.MethodGet,
				Headers: headers,
				Page:    0,
			}, nil
		}

		if !indexed {
			indexed = true

			for _, line := range strings.Split(last.Cursor, "\n") {
				accession, docURL, ok := strings.Cut(line, "|")
				if !ok {
					continue
				}

				pending = append(pending, Step{
					URL:     docURL,
					Method:  http.MethodGet,
					Headers: headers,
					Page:    len(pending) + 1,
					Cursor:  accession,
				})

				if len(pending) == maxFilings {
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

// edgarSubmissions is the relevant slice of the submissions index: parallel
// arrays describing recent filings.
type edgarSubmissions struct {
	CIK     string `json:"cik"`
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			Form            []string `json:"form"`
		} `json:"recent"`
	} `json:"filings"`
}

// edgarInfoTable is the 13F information table XML shape.
type edgarInfoTable struct {
	XMLName xml.Name `xml:"informationTable"`
	Entries []struct {
		NameOfIssuer         string `xml:"nameOfIssuer"`
		TitleOfClass         string `xml:"titleOfClass"`
		CUSIP                string `xml:"cusip"`
		Value                string `xml:"value"`
		InvestmentDiscretion string `xml:"investmentDiscretion"`
		SharesOrPrincipal    struct {
			Amount string `xml:"sshPrnamt"`
			Type   string `xml:"sshPrnamtType"`
		} `xml:"shrsOrPrnAmt"`
		VotingAuthority struct {
			Sole   string `xml:"Sole"`
			Shared string `xml:"Shared"`
			None   string `xml:"None"`
		} `xml:"votingAuthority"`
	} `xml:"infoTable"`
}

// Parse implements Adapter. The index step yields no rows; info-table steps
// yield one row per holding.
func (a *Edgar13F) Parse(step *Step, payload []byte) ([]Row, error) {
	if step.Page == 0 {
		// Submissions index: consumed via PageMeta, contributes no rows.
		if !json.Valid(payload) {
			return nil, fmt.Errorf("%w: edgar submissions index", ErrUnparseablePayload)
		}

		return nil, nil
	}

	var table edgarInfoTable
	if err := xml.Unmarshal(payload, &table); err != nil {
		return nil, fmt.Errorf("%w: edgar info table: %w", ErrUnparseablePayload, err)
	}

	cik := cikFromURL(step.URL)
	rows := make([]Row, 0, len(table.Entries))

	for _, entry := range table.Entries {
		cusip := strings.TrimSpace(entry.CUSIP)
		if cusip == "" {
			a.logger.Warn("skipping 13f holding without cusip",
				slog.String("accession", step.Cursor),
			)

			continue
		}

		rows = append(rows, Row{
			"cik":                   Text(cik),
			"accession_number":      Text(step.Cursor),
			"cusip":                 Text(cusip),
			"name_of_issuer":        CoerceText(entry.NameOfIssuer),
			"title_of_class":        coerceKeyText(strings.TrimSpace(entry.TitleOfClass)),
			"value_thousands":       CoerceNumeric(entry.Value),
			"shares":                CoerceNumeric(entry.SharesOrPrincipal.Amount),
			"share_type":            CoerceText(entry.SharesOrPrincipal.Type),
			"investment_discretion": CoerceText(entry.InvestmentDiscretion),
			"voting_sole":           CoerceNumeric(entry.VotingAuthority.Sole),
			"voting_shared":         CoerceNumeric(entry.VotingAuthority.Shared),
			"voting_none":           CoerceNumeric(entry.VotingAuthority.None),
		})
	}

	return rows, nil
}

// PageMeta implements the optional pagination-metadata capability: on the
// index step it selects 13F-HR filings and encodes them as cursor lines.
func (a *Edgar13F) PageMeta(step *Step, payload []byte) (*bool, *int, string) {
	if step.Page != 0 {
		return nil, nil, ""
	}

	var submissions edgarSubmissions
	if err := json.Unmarshal(payload, &submissions); err != nil {
		return nil, nil, ""
	}

	recent := submissions.Filings.Recent
	cik := strings.TrimLeft(submissions.CIK, "0")

	var lines []string

	for i, form := range recent.Form {
		if form != "13F-HR" || i >= len(recent.AccessionNumber) {
			continue
		}

		accession := recent.AccessionNumber[i]
		docURL := fmt.Sprintf("%s/%s/%s/infotable.xml",
			edgarArchivesURL, cik, strings.ReplaceAll(accession, "-", ""))

		lines = append(lines, accession+"|"+docURL)
	}

	return nil, nil, strings.Join(lines, "\n")
}

// cikFromURL recovers the CIK path segment from an archives URL.
func cikFromURL(rawURL string) string {
	parts := strings.Split(rawURL, "/")
	for i, part := range parts {
		if part == "data" && i+1 < len(parts) {
			return parts[i+1]
		}
	}

	return ""
}
