package collector

import (
	"strings"
)

type (
	// Confidence grades how reliable a collected item's extraction is.
	Confidence string

	// Item is one typed record produced by a collector for a target.
	Item struct {
		// Type tags the record: "contact", "holding_13f", "document",
		// "news", "portfolio_company".
		Type string
		// Data holds the extracted fields, keyed by field name.
		Data map[string]string
		// SourceURL is where the item was extracted from, when known.
		SourceURL string
		// Confidence grades the extraction.
		Confidence Confidence
		// AdditionalSources lists other URLs that corroborated the item
		// after dedup merged duplicates.
		AdditionalSources []string
		// IsNew is derived during persistence: true when the upsert inserted
		// rather than updated.
		IsNew bool
	}
)

// Confidence grades, ordered.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Rank orders confidences for dedup: higher rank wins.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// Item type tags.
const (
	ItemContact   = "contact"
	ItemHolding   = "holding_13f"
	ItemDocument  = "document"
	ItemNews      = "news"
	ItemPortfolio = "portfolio_company"
)

// DedupKey computes the item-type-specific identity used for deduplication:
// contacts key on the target plus normalized person name, 13F holdings on
// (cusip, report_date), documents and news on their URL. Unknown types fall
// back to the source URL.
func (i Item) DedupKey(targetID string) string {
	switch i.Type {
	case ItemContact:
		return targetID + "|" + NormalizeName(i.Data["name"])
	case ItemHolding:
		return i.Data["cusip"] + "|" + i.Data["report_date"]
	case ItemDocument, ItemNews:
		if u := i.Data["url"]; u != "" {
			return u
		}

		return i.SourceURL
	case ItemPortfolio:
		return targetID + "|" + NormalizeName(i.Data["company_name"])
	default:
		return i.SourceURL
	}
}

// NormalizeName canonicalizes a person or company name for dedup: lowercase,
// collapsed whitespace, common honorifics and suffixes stripped.
func NormalizeName(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))

	for _, prefix := range []string{"dr. ", "dr ", "mr. ", "mr ", "ms. ", "ms ", "mrs. ", "mrs "} {
		lowered = strings.TrimPrefix(lowered, prefix)
	}

	for _, suffix := range []string{" jr.", " jr", " sr.", " sr", ", cfa", ", cpa", ", phd"} {
		lowered = strings.TrimSuffix(lowered, suffix)
	}

	return strings.Join(strings.Fields(lowered), " ")
}

// Merge folds a duplicate into the item: the higher-confidence side's fields
// win, missing fields are filled from the loser, and the loser's source URL
// is recorded as an additional source.
func Merge(a, b Item) Item {
	winner, loser := a, b
	if b.Confidence.Rank() > a.Confidence.Rank() {
		winner, loser = b, a
	}

	merged := winner

	merged.Data = make(map[string]string, len(winner.Data))
	for k, v := range winner.Data {
		merged.Data[k] = v
	}

	for k, v := range loser.Data {
		if merged.Data[k] == "" && v != "" {
			merged.Data[k] = v
		}
	}

	merged.AdditionalSources = append([]string{}, winner.AdditionalSources...)
	merged.AdditionalSources = append(merged.AdditionalSources, loser.AdditionalSources...)

	if loser.SourceURL != "" && loser.SourceURL != winner.SourceURL {
		merged.AdditionalSources = append(merged.AdditionalSources, loser.SourceURL)
	}

	return merged
}
