package quality

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteness(t *testing.T) {
	assert.Equal(t, 0.0, completeness(&Snapshot{}))

	snapshot := &Snapshot{Columns: map[string]ColumnProfile{
		"a": {Name: "a", NullPct: 0},
		"b": {Name: "b", NullPct: 50},
	}}

	assert.InDelta(t, 0.75, completeness(snapshot), 0.001)
}

func TestValidity(t *testing.T) {
	assert.Equal(t, 1.0, validity(nil), "no rules means unvalidated, not invalid")

	results := []*Result{
		{Passed: true},
		{Passed: true},
		{Passed: false},
	}

	assert.InDelta(t, 2.0/3.0, validity(results), 0.001)
}

func TestConsistency(t *testing.T) {
	assert.Equal(t, 1.0, consistency(nil))

	crossResults := []*CrossResult{
		{MatchRate: 1.0},
		{MatchRate: 0.5},
	}

	assert.InDelta(t, 0.75, consistency(crossResults), 0.001)
}

func TestScore_Dimension(t *testing.T) {
	score := &Score{
		Completeness: 0.1,
		Freshness:    0.2,
		Validity:     0.3,
		Consistency:  0.4,
		Composite:    0.5,
	}

	for name, want := range map[string]float64{
		"completeness": 0.1,
		"freshness":    0.2,
		"validity":     0.3,
		"consistency":  0.4,
		"composite":    0.5,
	} {
		got, err := score.dimension(name)

		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := score.dimension("accuracy")
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestScorer_Enforce(t *testing.T) {
	store := newMemQualityStore()
	s := NewScorer(nil, store, slog.New(slog.DiscardHandler))

	score := &Score{
		TableName:    "eia_petroleum_pri",
		Completeness: 0.95,
		Freshness:    0.5,
		Validity:     1.0,
		Consistency:  1.0,
		Composite:    0.835,
	}

	targets := []SLATarget{
		{Dimension: "composite", Threshold: 0.9},
		{Dimension: "freshness", Threshold: 0.4},
		{TableName: "other_table", Dimension: "validity", Threshold: 1.0},
	}

	require.NoError(t, s.Enforce(context.Background(), score, targets))

	alerts, err := store.OpenAlerts(context.Background(), "eia_petroleum_pri")
	require.NoError(t, err)
	require.Len(t, alerts, 1, "only the composite floor is breached")

	assert.Equal(t, "sla_breach", alerts[0].Type)
	assert.Equal(t, "composite", alerts[0].Details["dimension"])
	assert.InDelta(t, 0.835, alerts[0].Details["value"].(float64), 0.001)
}

func TestScorer_EnforceUnknownDimension(t *testing.T) {
	s := NewScorer(nil, newMemQualityStore(), slog.New(slog.DiscardHandler))

	err := s.Enforce(context.Background(), &Score{TableName: "t"}, []SLATarget{
		{Dimension: "accuracy", Threshold: 0.9},
	})

	assert.ErrorIs(t, err, ErrInvalidRule)
}
