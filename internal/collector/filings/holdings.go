// Package filings implements SEC-filing collectors for institutional
// targets: the latest 13F-HR information table on EDGAR becomes holding
// items keyed by (cusip, report_date).
package filings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ingestor-io/ingestor/internal/adapter"
	"github.com/ingestor-io/ingestor/internal/collector"
	"github.com/ingestor-io/ingestor/internal/fetch"
)

// ErrNoCIK is returned when a target declares no CIK to look up on EDGAR.
var ErrNoCIK = errors.New("target has no cik")

const (
	submissionsURL = "https://data.sec.gov/submissions"
	archivesURL    = "https://www.sec.gov/Archives/edgar/data"
)

// Fetcher is the subset of fetch.Client the collector needs; stubbed in tests.
type Fetcher interface {
	Do(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
}

// HoldingsCollector pulls a target's most recent 13F-HR holdings from EDGAR.
// The XML information table is parsed by the EDGAR ingestion adapter, so the
// collection path and the scheduled ingestion path cannot drift apart.
type HoldingsCollector struct {
	client    Fetcher
	parser    *adapter.Edgar13F
	userAgent string
	logger    *slog.Logger
}

var _ collector.Collector = (*HoldingsCollector)(nil)

// NewHoldingsCollector creates the 13F holdings collector.
func NewHoldingsCollector(client Fetcher, userAgent string, logger *slog.Logger) *HoldingsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	return &HoldingsCollector{
		client:    client,
		parser:    adapter.NewEdgar13F(logger),
		userAgent: userAgent,
		logger:    logger,
	}
}

// Name implements collector.Collector.
func (c *HoldingsCollector) Name() string { return "sec_13f" }

// submissionsIndex is the slice of the EDGAR submissions JSON the collector
// needs: parallel arrays describing recent filings.
type submissionsIndex struct {
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			Form            []string `json:"form"`
			ReportDate      []string `json:"reportDate"`
		} `json:"recent"`
	} `json:"filings"`
}

// latest13F returns the newest 13F-HR filing's accession number and report
// date. The recent arrays are ordered newest first.
func (s *submissionsIndex) latest13F() (accession, reportDate string, ok bool) {
	recent := s.Filings.Recent

	for i, form := range recent.Form {
		if form != "13F-HR" || i >= len(recent.AccessionNumber) {
			continue
		}

		if i < len(recent.ReportDate) {
			reportDate = recent.ReportDate[i]
		}

		return recent.AccessionNumber[i], reportDate, true
	}

	return "", "", false
}

// Collect implements collector.Collector.
func (c *HoldingsCollector) Collect(ctx context.Context, target collector.Target) ([]collector.Item, error) {
	if target.CIK == "" {
		return nil, ErrNoCIK
	}

	headers := map[string]string{"User-Agent": c.userAgent}

	resp, err := c.client.Do(ctx, &fetch.Request{
		URL:        fmt.Sprintf("%s/CIK%010s.json", submissionsURL, target.CIK),
		Method:     http.MethodGet,
		Headers:    headers,
		ResourceID: target.ID,
	})
	if err != nil {
		return nil, err
	}

	var index submissionsIndex
	if err := json.Unmarshal(resp.Body, &index); err != nil {
		return nil, fmt.Errorf("parse submissions index: %w", err)
	}

	accession, reportDate, ok := index.latest13F()
	if !ok {
		// Not an institutional filer; an empty result, not a failure.
		c.logger.Debug("no 13f-hr on file", slog.String("target", target.Name))

		return nil, nil
	}

	docURL := fmt.Sprintf("%s/%s/%s/infotable.xml", archivesURL,
		strings.TrimLeft(target.CIK, "0"), strings.ReplaceAll(accession, "-", ""))

	doc, err := c.client.Do(ctx, &fetch.Request{
		URL:        docURL,
		Method:     http.MethodGet,
		Headers:    headers,
		ResourceID: target.ID,
	})
	if err != nil {
		return nil, err
	}

	rows, err := c.parser.Parse(&adapter.Step{URL: docURL, Page: 1, Cursor: accession}, doc.Body)
	if err != nil {
		return nil, err
	}

	items := make([]collector.Item, 0, len(rows))

	for _, row := range rows {
		items = append(items, collector.Item{
			Type: collector.ItemHolding,
			Data: map[string]string{
				"cusip":            row["cusip"].String(),
				"report_date":      reportDate,
				"accession_number": accession,
				"issuer":           row["name_of_issuer"].String(),
				"title_of_class":   row["title_of_class"].String(),
				"value_thousands":  row["value_thousands"].String(),
				"shares":           row["shares"].String(),
			},
			SourceURL:  docURL,
			Confidence: collector.ConfidenceHigh,
		})
	}

	return items, nil
}
