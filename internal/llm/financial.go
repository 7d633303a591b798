package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

const (
	financialSystem = "You extract financial statement figures from municipal " +
		"annual comprehensive financial report text. Respond with JSON only."

	financialPromptHeader = "Extract the government-wide financial figures from the " +
		"report text below. Respond as " +
		`{"metrics": [{"name": "total_revenues", "value": 1234567.0}]}. ` +
		"Use these metric names where present: total_revenues, total_expenses, " +
		"total_assets, total_liabilities, net_position, fund_balance, " +
		"long_term_debt. Values are whole dollars; omit metrics you cannot " +
		"find.\n\nTEXT:\n"

	// chunkWindow is how much text around a statement keyword survives
	// chunking, in bytes each direction.
	chunkWindow = 600
)

type (
	// Metric is one extracted financial figure.
	Metric struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}

	// FinancialExtractor pulls statement figures out of report text. With a
	// completer it asks the model over keyword-proximate chunks; without one
	// it falls back to matching dollar amounts near statement captions.
	FinancialExtractor struct {
		completer Completer
		logger    *slog.Logger
	}
)

// NewFinancialExtractor creates an extractor. completer may be nil.
func NewFinancialExtractor(completer Completer, logger *slog.Logger) *FinancialExtractor {
	if logger == nil {
		logger = slog.Default()
	}

	return &FinancialExtractor{completer: completer, logger: logger}
}

// statementKeywords anchor the chunks sent to the model and the fallback
// patterns. Order matters: the fallback keeps the first match per metric.
var statementKeywords = []string{
	"statement of net position",
	"statement of activities",
	"total revenues",
	"total expenses",
	"total expenditures",
	"total assets",
	"total liabilities",
	"net position",
	"fund balance",
	"long-term debt",
	"long-term liabilities",
}

// Extract returns the figures found in text. The second return reports
// whether the model produced them (pattern fallback otherwise); callers use
// it to grade confidence.
func (e *FinancialExtractor) Extract(ctx context.Context, text string) ([]Metric, bool) {
	if e.completer != nil {
		metrics, err := e.complete(ctx, RelevantChunks(text, chunkWindow))
		if err == nil && len(metrics) > 0 {
			return metrics, true
		}

		if err != nil {
			e.logger.Warn("model extraction failed, falling back to patterns",
				slog.String("error", err.Error()),
			)
		}
	}

	return extractFiguresByPattern(text), false
}

func (e *FinancialExtractor) complete(ctx context.Context, text string) ([]Metric, error) {
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	raw, err := e.completer.Complete(ctx, Request{
		System:   financialSystem,
		Prompt:   financialPromptHeader + text,
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Metrics []Metric `json:"metrics"`
	}

	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, err
	}

	metrics := parsed.Metrics[:0]

	for _, m := range parsed.Metrics {
		m.Name = strings.ToLower(strings.TrimSpace(m.Name))
		if m.Name != "" {
			metrics = append(metrics, m)
		}
	}

	return metrics, nil
}

// RelevantChunks keeps only the text windows around statement keywords,
// in document order, separated by markers. Reports run to hundreds of
// pages; the statements the model needs sit near a handful of captions.
func RelevantChunks(text string, window int) string {
	lower := strings.ToLower(text)

	type span struct{ start, end int }

	var spans []span

	for _, keyword := range statementKeywords {
		from := 0

		for {
			idx := strings.Index(lower[from:], keyword)
			if idx < 0 {
				break
			}

			at := from + idx

			start := at - window
			if start < 0 {
				start = 0
			}

			end := at + len(keyword) + window
			if end > len(text) {
				end = len(text)
			}

			spans = append(spans, span{start, end})
			from = at + len(keyword)
		}
	}

	if len(spans) == 0 {
		return text
	}

	// Merge overlapping windows so no text repeats.
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[j].start < spans[i].start {
				spans[i], spans[j] = spans[j], spans[i]
			}
		}
	}

	var out strings.Builder

	covered := 0

	for _, s := range spans {
		if s.end <= covered {
			continue
		}

		if s.start < covered {
			s.start = covered
		}

		if out.Len() > 0 {
			out.WriteString("\n...\n")
		}

		out.WriteString(text[s.start:s.end])
		covered = s.end
	}

	return out.String()
}

// fallbackPatterns map metric names to caption regexps. Each matches a
// dollar amount within forty characters of the caption; parenthesized
// amounts are negative.
var fallbackPatterns = map[string]*regexp.Regexp{
	"total_revenues":    figurePattern(`total revenues`),
	"total_expenses":    figurePattern(`total expenses|total expenditures`),
	"total_assets":      figurePattern(`total assets`),
	"total_liabilities": figurePattern(`total liabilities`),
	"net_position":      figurePattern(`(?:total )?net position`),
	"fund_balance":      figurePattern(`(?:total )?fund balance(?:s)?`),
	"long_term_debt":    figurePattern(`long-term (?:debt|liabilities)`),
}

func figurePattern(caption string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + caption + `)[^0-9$\n]{0,40}\$?\s*(\()?([\d,]+(?:\.\d+)?)(\))?`)
}

// extractFiguresByPattern is the no-model fallback: the first captioned
// dollar amount per metric.
func extractFiguresByPattern(text string) []Metric {
	var metrics []Metric

	for _, name := range []string{
		"total_revenues", "total_expenses", "total_assets",
		"total_liabilities", "net_position", "fund_balance", "long_term_debt",
	} {
		m := fallbackPatterns[name].FindStringSubmatch(text)
		if m == nil {
			continue
		}

		value, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			continue
		}

		if m[1] == "(" && m[3] == ")" {
			value = -value
		}

		metrics = append(metrics, Metric{Name: name, Value: value})
	}

	return metrics
}
