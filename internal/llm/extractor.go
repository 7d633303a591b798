package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

const (
	extractSystem = "You extract structured data from investor website text. " +
		"Respond with JSON only."

	extractPromptHeader = "List every portfolio company named in the text below. " +
		`Respond as {"companies": [{"name": "...", "sector": "..."}]}; ` +
		"use an empty string for unknown sectors.\n\nTEXT:\n"

	// maxPromptChars bounds the page text sent to the model.
	maxPromptChars = 12000
)

type (
	// Company is one extracted portfolio company.
	Company struct {
		Name   string `json:"name"`
		Sector string `json:"sector"`
	}

	// PortfolioExtractor pulls portfolio companies out of page text. With a
	// completer it asks the model; without one it falls back to matching
	// corporate-suffix patterns in the text.
	PortfolioExtractor struct {
		completer Completer
		logger    *slog.Logger
	}
)

// NewPortfolioExtractor creates an extractor. completer may be nil.
func NewPortfolioExtractor(completer Completer, logger *slog.Logger) *PortfolioExtractor {
	if logger == nil {
		logger = slog.Default()
	}

	return &PortfolioExtractor{completer: completer, logger: logger}
}

// Extract returns the companies found in text. The second return reports
// whether the model produced them (pattern fallback otherwise); callers use
// it to grade confidence.
func (e *PortfolioExtractor) Extract(ctx context.Context, text string) ([]Company, bool) {
	if e.completer != nil {
		companies, err := e.complete(ctx, text)
		if err == nil {
			return companies, true
		}

		e.logger.Warn("model extraction failed, falling back to patterns",
			slog.String("error", err.Error()),
		)
	}

	return extractByPattern(text), false
}

func (e *PortfolioExtractor) complete(ctx context.Context, text string) ([]Company, error) {
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	raw, err := e.completer.Complete(ctx, Request{
		System:   extractSystem,
		Prompt:   extractPromptHeader + text,
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Companies []Company `json:"companies"`
	}

	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, err
	}

	companies := parsed.Companies[:0]

	for _, c := range parsed.Companies {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name != "" {
			companies = append(companies, c)
		}
	}

	return companies, nil
}

// companyPattern matches capitalized phrases ending in a corporate suffix.
var companyPattern = regexp.MustCompile(
	`\b([A-Z][A-Za-z0-9&'.\-]*(?: [A-Z][A-Za-z0-9&'.\-]*){0,4}` +
		` (?:Inc\.?|LLC|Ltd\.?|Corp\.?|Corporation|Company|Technologies|Therapeutics|Labs|Capital|Partners|Holdings|Systems|Group))\b`)

// extractByPattern is the no-model fallback: corporate-suffix phrases,
// deduplicated in order of first appearance.
func extractByPattern(text string) []Company {
	matches := companyPattern.FindAllStringSubmatch(text, -1)

	seen := make(map[string]bool, len(matches))

	var companies []Company

	for _, m := range matches {
		name := strings.TrimSpace(m[1])

		key := strings.ToLower(name)
		if seen[key] {
			continue
		}

		seen[key] = true

		companies = append(companies, Company{Name: name})
	}

	return companies
}
