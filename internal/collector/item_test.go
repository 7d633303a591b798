package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidence_Rank(t *testing.T) {
	assert.Greater(t, ConfidenceHigh.Rank(), ConfidenceMedium.Rank())
	assert.Greater(t, ConfidenceMedium.Rank(), ConfidenceLow.Rank())
	assert.Greater(t, ConfidenceLow.Rank(), Confidence("").Rank())
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Dr. Jane Smith", "jane smith"},
		{"JANE   SMITH", "jane smith"},
		{"Mr. John Doe Jr.", "john doe"},
		{"Sarah Lee, CFA", "sarah lee"},
		{"  Padded Name  ", "padded name"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.input))
		})
	}
}

func TestItem_DedupKey(t *testing.T) {
	contact := Item{Type: ItemContact, Data: map[string]string{"name": "Dr. Jane Smith"}}
	assert.Equal(t, "t1|jane smith", contact.DedupKey("t1"))

	holding := Item{Type: ItemHolding, Data: map[string]string{"cusip": "037833100", "report_date": "2024-03-31"}}
	assert.Equal(t, "037833100|2024-03-31", holding.DedupKey("t1"))

	news := Item{Type: ItemNews, Data: map[string]string{"url": "https://example.com/a"}, SourceURL: "https://example.com/feed"}
	assert.Equal(t, "https://example.com/a", news.DedupKey("t1"))

	newsNoURL := Item{Type: ItemNews, SourceURL: "https://example.com/feed"}
	assert.Equal(t, "https://example.com/feed", newsNoURL.DedupKey("t1"))

	portfolio := Item{Type: ItemPortfolio, Data: map[string]string{"company_name": "Acme Inc"}}
	assert.Equal(t, "t1|acme inc", portfolio.DedupKey("t1"))

	unknown := Item{Type: "mystery", SourceURL: "https://example.com/x"}
	assert.Equal(t, "https://example.com/x", unknown.DedupKey("t1"))
}

func TestMerge_HigherConfidenceWins(t *testing.T) {
	structured := Item{
		Type:       ItemPortfolio,
		Data:       map[string]string{"company_name": "Acme Inc", "sector": "Robotics"},
		SourceURL:  "https://fund.example/portfolio",
		Confidence: ConfidenceHigh,
	}
	guessed := Item{
		Type:       ItemPortfolio,
		Data:       map[string]string{"company_name": "ACME INC", "founded": "2015"},
		SourceURL:  "https://fund.example/investments",
		Confidence: ConfidenceLow,
	}

	merged := Merge(guessed, structured)

	assert.Equal(t, ConfidenceHigh, merged.Confidence)
	assert.Equal(t, "Acme Inc", merged.Data["company_name"], "the winner's fields are kept")
	assert.Equal(t, "Robotics", merged.Data["sector"])
	assert.Equal(t, "2015", merged.Data["founded"], "missing fields are filled from the loser")
	assert.Equal(t, "https://fund.example/portfolio", merged.SourceURL)
	assert.Contains(t, merged.AdditionalSources, "https://fund.example/investments")
}

func TestMerge_SameSourceURLNotDuplicated(t *testing.T) {
	a := Item{Type: ItemNews, SourceURL: "https://x.example", Confidence: ConfidenceHigh}
	b := Item{Type: ItemNews, SourceURL: "https://x.example", Confidence: ConfidenceLow}

	merged := Merge(a, b)

	assert.Empty(t, merged.AdditionalSources)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	a := Item{Type: ItemContact, Data: map[string]string{"name": "A"}, Confidence: ConfidenceHigh}
	b := Item{Type: ItemContact, Data: map[string]string{"name": "B", "title": "CIO"}, Confidence: ConfidenceLow}

	_ = Merge(a, b)

	assert.Equal(t, map[string]string{"name": "A"}, a.Data)
	assert.Equal(t, map[string]string{"name": "B", "title": "CIO"}, b.Data)
}
