// Package webcrawl implements website collectors for LP and FO targets:
// same-domain HTML crawling with pattern-based extraction of team contacts,
// news, and documents.
package webcrawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/ingestor-io/ingestor/internal/fetch"
)

// ErrNoWebsite is returned when a target declares no website to crawl.
var ErrNoWebsite = errors.New("target has no website")

// Fetcher is the subset of fetch.Client the crawler needs; stubbed in tests.
type Fetcher interface {
	Do(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
}

// crawler fetches pages on a target's domain and parses them into documents.
// Crawling never leaves the target's host.
type crawler struct {
	client Fetcher
	logger *slog.Logger
}

// fetchPage retrieves one page and parses it. A nil document with nil error
// means the page was absent (404) rather than broken.
func (c *crawler) fetchPage(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := c.client.Do(ctx, &fetch.Request{
		URL:        pageURL,
		Method:     http.MethodGet,
		ResourceID: pageURL,
	})
	if err != nil {
		var fe *fetch.Error
		if errors.As(err, &fe) && fe.Kind == fetch.KindClientError {
			// Missing page, not a failure: candidate paths are speculative.
			return nil, nil
		}

		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	return doc, nil
}

// resolveURL resolves href against the page URL and returns it only when it
// stays on the same host.
func resolveURL(pageURL, href string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}

	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}

	if resolved.Host != base.Host {
		return "", false
	}

	resolved.Fragment = ""

	return resolved.String(), true
}

// candidateURLs joins the site root with each candidate path.
func candidateURLs(website string, paths []string) []string {
	root := strings.TrimRight(website, "/")
	urls := make([]string, 0, len(paths)+1)

	for _, path := range paths {
		urls = append(urls, root+path)
	}

	return urls
}

// nameStoplist rejects navigation text that pattern-extraction mistakes for
// person names.
var nameStoplist = map[string]bool{
	"contact us":         true,
	"privacy policy":     true,
	"terms of use":       true,
	"our team":           true,
	"learn more":         true,
	"read more":          true,
	"board of directors": true,
	"investment team":    true,
	"about us":           true,
}

// ValidPersonName reports whether the extracted text plausibly names a
// person: two to four capitalized words, letters only (allowing hyphens,
// apostrophes, and single-letter initials), and not navigation boilerplate.
func ValidPersonName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if nameStoplist[strings.ToLower(trimmed)] {
		return false
	}

	words := strings.Fields(trimmed)
	if len(words) < 2 || len(words) > 4 {
		return false
	}

	for _, word := range words {
		runes := []rune(strings.TrimSuffix(word, "."))
		if len(runes) == 0 || !unicode.IsUpper(runes[0]) {
			return false
		}

		for _, r := range runes {
			if !unicode.IsLetter(r) && r != '-' && r != '\'' {
				return false
			}
		}
	}

	return true
}

// cleanText collapses whitespace in extracted text.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
