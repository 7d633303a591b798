package webcrawl

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ingestor-io/ingestor/internal/collector"
)

// Candidate paths probed per collector. Sites vary; absent pages are
// skipped silently.
var (
	teamPaths = []string{"/team", "/our-team", "/people", "/about/team", "/about-us/team", "/leadership"}
	newsPaths = []string{"/news", "/press", "/press-releases", "/insights", "/media"}
	docsPaths = []string{"/documents", "/reports", "/publications", "/investor-relations"}
)

type (
	// TeamCollector extracts people (name, title) from a target's team pages.
	TeamCollector struct {
		crawler
	}

	// NewsCollector extracts article links from a target's news pages.
	NewsCollector struct {
		crawler
	}

	// DocumentCollector extracts PDF links from a target's document pages.
	DocumentCollector struct {
		crawler
	}
)

var (
	_ collector.Collector = (*TeamCollector)(nil)
	_ collector.Collector = (*NewsCollector)(nil)
	_ collector.Collector = (*DocumentCollector)(nil)
)

// NewTeamCollector creates the team-page collector.
func NewTeamCollector(client Fetcher, logger *slog.Logger) *TeamCollector {
	return &TeamCollector{crawler{client: client, logger: logger}}
}

// Name implements collector.Collector.
func (c *TeamCollector) Name() string { return "website_team" }

// Collect implements collector.Collector.
func (c *TeamCollector) Collect(ctx context.Context, target collector.Target) ([]collector.Item, error) {
	if target.Website == "" {
		return nil, ErrNoWebsite
	}

	var items []collector.Item

	for _, pageURL := range candidateURLs(target.Website, teamPaths) {
		doc, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		if doc == nil {
			continue
		}

		items = append(items, extractTeam(doc, pageURL)...)

		if len(items) > 0 {
			// One team page is enough; further candidates duplicate it.
			break
		}
	}

	return items, nil
}

// extractTeam pulls (name, title) pairs from a team page. Structured
// team-member blocks are preferred; heading-based extraction is the
// lower-confidence fallback.
func extractTeam(doc *goquery.Document, pageURL string) []collector.Item {
	var items []collector.Item

	doc.Find(".team-member, .person, .bio, .profile, [class*=team-card]").Each(func(_ int, sel *goquery.Selection) {
		name := cleanText(sel.Find("h2, h3, h4, .name").First().Text())
		if !ValidPersonName(name) {
			return
		}

		title := cleanText(sel.Find(".title, .role, .position, p").First().Text())

		items = append(items, collector.Item{
			Type:       collector.ItemContact,
			Data:       map[string]string{"name": name, "title": title},
			SourceURL:  pageURL,
			Confidence: collector.ConfidenceHigh,
		})
	})

	if len(items) > 0 {
		return items
	}

	doc.Find("h2, h3, h4").Each(func(_ int, sel *goquery.Selection) {
		name := cleanText(sel.Text())
		if !ValidPersonName(name) {
			return
		}

		title := cleanText(sel.Next().Text())

		items = append(items, collector.Item{
			Type:       collector.ItemContact,
			Data:       map[string]string{"name": name, "title": title},
			SourceURL:  pageURL,
			Confidence: collector.ConfidenceMedium,
		})
	})

	return items
}

// NewNewsCollector creates the news-page collector.
func NewNewsCollector(client Fetcher, logger *slog.Logger) *NewsCollector {
	return &NewsCollector{crawler{client: client, logger: logger}}
}

// Name implements collector.Collector.
func (c *NewsCollector) Name() string { return "website_news" }

// Collect implements collector.Collector.
func (c *NewsCollector) Collect(ctx context.Context, target collector.Target) ([]collector.Item, error) {
	if target.Website == "" {
		return nil, ErrNoWebsite
	}

	var items []collector.Item

	for _, pageURL := range candidateURLs(target.Website, newsPaths) {
		doc, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		if doc == nil {
			continue
		}

		doc.Find("article a, .news-item a, .post a, h2 a, h3 a").Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok {
				return
			}

			articleURL, ok := resolveURL(pageURL, href)
			if !ok {
				return
			}

			title := cleanText(sel.Text())
			if len(title) < 10 {
				// Too short to be a headline.
				return
			}

			items = append(items, collector.Item{
				Type:       collector.ItemNews,
				Data:       map[string]string{"url": articleURL, "title": title},
				SourceURL:  pageURL,
				Confidence: collector.ConfidenceMedium,
			})
		})

		if len(items) > 0 {
			break
		}
	}

	return items, nil
}

// NewDocumentCollector creates the document-link collector.
func NewDocumentCollector(client Fetcher, logger *slog.Logger) *DocumentCollector {
	return &DocumentCollector{crawler{client: client, logger: logger}}
}

// Name implements collector.Collector.
func (c *DocumentCollector) Name() string { return "website_documents" }

// Collect implements collector.Collector.
func (c *DocumentCollector) Collect(ctx context.Context, target collector.Target) ([]collector.Item, error) {
	if target.Website == "" {
		return nil, ErrNoWebsite
	}

	var items []collector.Item

	for _, pageURL := range candidateURLs(target.Website, docsPaths) {
		doc, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		if doc == nil {
			continue
		}

		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(href)), ".pdf") {
				return
			}

			docURL, ok := resolveURL(pageURL, href)
			if !ok {
				return
			}

			items = append(items, collector.Item{
				Type:       collector.ItemDocument,
				Data:       map[string]string{"url": docURL, "title": cleanText(sel.Text())},
				SourceURL:  pageURL,
				Confidence: collector.ConfidenceHigh,
			})
		})
	}

	return items, nil
}
