package webcrawl

import (
	"context"
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/ingestor-io/ingestor/internal/collector"
	"github.com/ingestor-io/ingestor/internal/llm"
)

var portfolioPaths = []string{"/portfolio", "/investments", "/companies", "/our-investments", "/portfolio-companies"}

// PortfolioCollector extracts portfolio companies from a target's portfolio
// pages. Structured markup is read directly; free-form pages go through the
// extractor, which uses a model when one is configured and corporate-suffix
// patterns otherwise.
type PortfolioCollector struct {
	crawler

	extractor *llm.PortfolioExtractor
}

var _ collector.Collector = (*PortfolioCollector)(nil)

// NewPortfolioCollector creates the portfolio-page collector.
func NewPortfolioCollector(client Fetcher, extractor *llm.PortfolioExtractor, logger *slog.Logger) *PortfolioCollector {
	return &PortfolioCollector{
		crawler:   crawler{client: client, logger: logger},
		extractor: extractor,
	}
}

// Name implements collector.Collector.
func (c *PortfolioCollector) Name() string { return "website_portfolio" }

// Collect implements collector.Collector.
func (c *PortfolioCollector) Collect(ctx context.Context, target collector.Target) ([]collector.Item, error) {
	if target.Website == "" {
		return nil, ErrNoWebsite
	}

	for _, pageURL := range candidateURLs(target.Website, portfolioPaths) {
		doc, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		if doc == nil {
			continue
		}

		items := c.extractStructured(doc, pageURL)
		if len(items) == 0 {
			items = c.extractFreeform(ctx, cleanText(doc.Text()), pageURL)
		}

		if len(items) > 0 {
			return items, nil
		}
	}

	return nil, nil
}

// extractStructured reads portfolio-card markup directly.
func (c *PortfolioCollector) extractStructured(doc *goquery.Document, pageURL string) []collector.Item {
	var items []collector.Item

	doc.Find(".portfolio-item, .company, .investment, [class*=portfolio-card]").Each(func(_ int, sel *goquery.Selection) {
		name := cleanText(sel.Find("h2, h3, h4, .name, .company-name").First().Text())
		if name == "" {
			return
		}

		sector := cleanText(sel.Find(".sector, .industry, .category").First().Text())

		items = append(items, collector.Item{
			Type:       collector.ItemPortfolio,
			Data:       map[string]string{"company_name": name, "sector": sector},
			SourceURL:  pageURL,
			Confidence: collector.ConfidenceHigh,
		})
	})

	return items
}

// extractFreeform runs the extractor over page text. Model output is graded
// medium, pattern fallback low.
func (c *PortfolioCollector) extractFreeform(ctx context.Context, text, pageURL string) []collector.Item {
	companies, fromModel := c.extractor.Extract(ctx, text)

	confidence := collector.ConfidenceLow
	if fromModel {
		confidence = collector.ConfidenceMedium
	}

	items := make([]collector.Item, 0, len(companies))

	for _, company := range companies {
		items = append(items, collector.Item{
			Type:       collector.ItemPortfolio,
			Data:       map[string]string{"company_name": company.Name, "sector": company.Sector},
			SourceURL:  pageURL,
			Confidence: confidence,
		})
	}

	return items
}
