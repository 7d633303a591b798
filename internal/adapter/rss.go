package adapter

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// RSS ingests news feeds. One job fetches one or more feed URLs; items are
// keyed by feed URL plus item GUID (falling back to link) so re-polling a
// feed is idempotent.
type RSS struct {
	logger *slog.Logger
}

var _ Adapter = (*RSS)(nil)

// NewRSS creates the RSS feed adapter.
func NewRSS(logger *slog.Logger) *RSS {
	if logger == nil {
		logger = slog.Default()
	}

	return &RSS{logger: logger}
}

// Name implements Adapter.
func (a *RSS) Name() string { return "rss" }

// Defaults implements Adapter.
func (a *RSS) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 4,
		MaxRetries:     2,
		RateInterval:   500 * time.Millisecond,
		Timeout:        30 * time.Second,
	}
}

// Schema implements Adapter.
func (a *RSS) Schema(cfg Config) (*Spec, error) {
	if _, err := cfg.Require("feed_urls"); err != nil {
		return nil, err
	}

	return &Spec{
		Source:      a.Name(),
		DatasetID:   "news_items",
		TableName:   "rss_news_items",
		DisplayName: "RSS News Items",
		Description: "News items collected from configured RSS feeds",
		Columns: []Column{
			{Name: "feed_url", Type: TypeText},
			{Name: "guid", Type: TypeText},
			{Name: "title", Type: TypeText, Nullable: true},
			{Name: "link", Type: TypeText, Nullable: true},
			{Name: "description", Type: TypeText, Nullable: true},
			{Name: "published_at", Type: TypeTimestamp, Nullable: true},
		},
		UniqueKey: []string{"feed_url", "guid"},
		Indexes:   [][]string{{"published_at"}},
	}, nil
}

// Plan implements Adapter: one step per feed URL.
func (a *RSS) Plan(cfg Config) (Planner, error) {
	feedURLs, err := splitFields(cfg, "feed_urls")
	if err != nil {
		return nil, err
	}

	list := make([]Step, 0, len(feedURLs))

	for i, feedURL := range feedURLs {
		list = append(list, Step{
			URL:    feedURL,
			Method: http.MethodGet,
			Page:   i + 1,
		})
	}

	return Steps(list...), nil
}

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			GUID        string `xml:"guid"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Parse implements Adapter. Items without a GUID fall back to their link;
// items with neither are skipped.
func (a *RSS) Parse(step *Step, payload []byte) ([]Row, error) {
	var doc rssDocument
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: rss feed: %w", ErrUnparseablePayload, err)
	}

	rows := make([]Row, 0, len(doc.Channel.Items))

	for _, item := range doc.Channel.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}

		if guid == "" {
			a.logger.Warn("skipping rss item without guid or link",
				slog.String("feed_url", step.URL),
			)

			continue
		}

		rows = append(rows, Row{
			"feed_url":     Text(step.URL),
			"guid":         Text(guid),
			"title":        CoerceText(item.Title),
			"link":         CoerceText(item.Link),
			"description":  CoerceText(item.Description),
			"published_at": CoerceDate(item.PubDate, time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822),
		})
	}

	return rows, nil
}
