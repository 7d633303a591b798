package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	response string
	err      error
	gotReq   Request
}

func (c *stubCompleter) Complete(_ context.Context, req Request) (string, error) {
	c.gotReq = req

	return c.response, c.err
}

func TestExtract_ModelPath(t *testing.T) {
	completer := &stubCompleter{
		response: `{"companies": [{"name": "Acme Robotics", "sector": "Robotics"}, {"name": "  ", "sector": "dropped"}]}`,
	}

	e := NewPortfolioExtractor(completer, slog.New(slog.DiscardHandler))

	companies, fromModel := e.Extract(context.Background(), "Our portfolio includes Acme Robotics.")

	assert.True(t, fromModel)
	require.Len(t, companies, 1, "blank names are dropped")
	assert.Equal(t, "Acme Robotics", companies[0].Name)
	assert.Equal(t, "Robotics", companies[0].Sector)

	assert.True(t, completer.gotReq.JSONMode)
	assert.Contains(t, completer.gotReq.Prompt, "Acme Robotics")
}

func TestExtract_ModelFailureFallsBackToPatterns(t *testing.T) {
	completer := &stubCompleter{err: errors.New("rate limited")}

	e := NewPortfolioExtractor(completer, slog.New(slog.DiscardHandler))

	companies, fromModel := e.Extract(context.Background(),
		"Positions include Acme Robotics Inc and Northwind Capital.")

	assert.False(t, fromModel)

	names := make([]string, len(companies))
	for i, c := range companies {
		names[i] = c.Name
	}

	assert.Contains(t, names, "Acme Robotics Inc")
	assert.Contains(t, names, "Northwind Capital")
}

func TestExtract_ModelGarbageFallsBack(t *testing.T) {
	completer := &stubCompleter{response: "I could not find any companies."}

	e := NewPortfolioExtractor(completer, slog.New(slog.DiscardHandler))

	_, fromModel := e.Extract(context.Background(), "text")

	assert.False(t, fromModel, "unparseable model output falls back to patterns")
}

func TestExtract_NoCompleter(t *testing.T) {
	e := NewPortfolioExtractor(nil, slog.New(slog.DiscardHandler))

	companies, fromModel := e.Extract(context.Background(),
		"The fund backed Bolt Therapeutics early.")

	assert.False(t, fromModel)
	require.Len(t, companies, 1)
	assert.Equal(t, "Bolt Therapeutics", companies[0].Name)
}

func TestExtract_PromptTruncated(t *testing.T) {
	completer := &stubCompleter{response: `{"companies": []}`}

	e := NewPortfolioExtractor(completer, slog.New(slog.DiscardHandler))

	_, _ = e.Extract(context.Background(), strings.Repeat("x", 3*maxPromptChars))

	assert.LessOrEqual(t, len(completer.gotReq.Prompt), len(extractPromptHeader)+maxPromptChars)
}

func TestExtractByPattern(t *testing.T) {
	text := "Acme Robotics Inc raised a round. ACME Robotics Inc announced. " +
		"Separately, Northwind Capital and Bolt Therapeutics joined; lowercase co llc is ignored."

	companies := extractByPattern(text)

	names := make([]string, len(companies))
	for i, c := range companies {
		names[i] = c.Name
	}

	assert.Contains(t, names, "Acme Robotics Inc")
	assert.Contains(t, names, "Northwind Capital")
	assert.Contains(t, names, "Bolt Therapeutics")

	// Case-insensitive dedup keeps the first spelling.
	count := 0

	for _, n := range names {
		if strings.EqualFold(n, "acme robotics inc") {
			count++
		}
	}

	assert.Equal(t, 1, count)
}

func TestExtractByPattern_NoMatches(t *testing.T) {
	assert.Empty(t, extractByPattern("nothing corporate in here"))
}
