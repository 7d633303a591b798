package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestor-io/ingestor/internal/quality"
)

func TestQualityStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStorageTest(ctx, t)

	store, err := NewQualityStore(conn)
	require.NoError(t, err)

	const table = "fred_gdp"

	t.Run("snapshots round trip newest first", func(t *testing.T) {
		base := time.Now().UTC()

		older := &quality.Snapshot{
			ID:        uuid.NewString(),
			TableName: table,
			RowCount:  1000,
			Columns: map[string]quality.ColumnProfile{
				"value": {
					Name:          "value",
					NullPct:       1.5,
					DistinctCount: 950,
					Stats:         map[string]float64{"mean": 102.4, "stddev": 8.1},
				},
			},
			CreatedAt: base.Add(-time.Hour),
		}
		newer := &quality.Snapshot{
			ID:        uuid.NewString(),
			TableName: table,
			RowCount:  1100,
			Sampled:   true,
			Columns:   map[string]quality.ColumnProfile{},
			CreatedAt: base,
		}

		require.NoError(t, store.SaveSnapshot(ctx, older))
		require.NoError(t, store.SaveSnapshot(ctx, newer))

		snapshots, err := store.RecentSnapshots(ctx, table, 10)
		require.NoError(t, err)
		require.Len(t, snapshots, 2)

		assert.Equal(t, newer.ID, snapshots[0].ID)
		assert.True(t, snapshots[0].Sampled)

		profile := snapshots[1].Columns["value"]
		assert.InDelta(t, 1.5, profile.NullPct, 0.001)
		assert.Equal(t, int64(950), profile.DistinctCount)
		assert.InDelta(t, 8.1, profile.Stats["stddev"], 0.001)

		limited, err := store.RecentSnapshots(ctx, table, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("rules upsert in place", func(t *testing.T) {
		rule := &quality.Rule{
			ID:        uuid.NewString(),
			TableName: table,
			Column:    "value",
			Type:      quality.RuleRange,
			Params:    map[string]any{"min": 0.0, "max": 1000.0},
			Severity:  quality.SeverityWarning,
			Enabled:   true,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveRule(ctx, rule))

		// Retuning keeps the identity, replaces params and severity.
		rule.Params = map[string]any{"min": -10.0, "max": 2000.0}
		rule.Severity = quality.SeverityError
		rule.Enabled = false
		require.NoError(t, store.SaveRule(ctx, rule))

		rules, err := store.ListRules(ctx, table, false)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, quality.SeverityError, rules[0].Severity)
		assert.False(t, rules[0].Enabled)
		assert.InDelta(t, 2000.0, rules[0].Params["max"].(float64), 0.001)

		enabled, err := store.ListRules(ctx, table, true)
		require.NoError(t, err)
		assert.Empty(t, enabled)
	})

	t.Run("results round trip", func(t *testing.T) {
		rule := &quality.Rule{
			ID:        uuid.NewString(),
			TableName: table,
			Type:      quality.RuleRowCount,
			Params:    map[string]any{"min": 1.0},
			Severity:  quality.SeverityInfo,
			Enabled:   true,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveRule(ctx, rule))

		result := &quality.Result{
			RuleID:      rule.ID,
			TableName:   table,
			Passed:      false,
			Details:     map[string]any{"row_count": 0.0},
			EvaluatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveResult(ctx, result))

		results, err := store.RecentResults(ctx, table, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, rule.ID, results[0].RuleID)
		assert.False(t, results[0].Passed)
		assert.Equal(t, 0.0, results[0].Details["row_count"])
	})

	t.Run("alert lifecycle", func(t *testing.T) {
		alert := &quality.Alert{
			ID:        uuid.NewString(),
			TableName: table,
			Column:    "value",
			Type:      "null_pct_jump",
			Status:    quality.AlertOpen,
			Details:   map[string]any{"jump_points": 35.0},
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveAlert(ctx, alert))

		otherTable := &quality.Alert{
			ID:        uuid.NewString(),
			TableName: "census_population",
			Type:      "row_count_drop",
			Status:    quality.AlertOpen,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveAlert(ctx, otherTable))

		open, err := store.OpenAlerts(ctx, table)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, alert.ID, open[0].ID)
		assert.Equal(t, 35.0, open[0].Details["jump_points"])

		// Empty table name spans every table.
		all, err := store.OpenAlerts(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, store.SetAlertStatus(ctx, alert.ID, quality.AlertResolved))

		open, err = store.OpenAlerts(ctx, table)
		require.NoError(t, err)
		assert.Empty(t, open)

		assert.ErrorIs(t, store.SetAlertStatus(ctx, "no-such-alert", quality.AlertAcknowledged),
			quality.ErrAlertNotFound)
	})

	t.Run("scores round trip newest first", func(t *testing.T) {
		base := time.Now().UTC()

		older := &quality.Score{
			ID:           uuid.NewString(),
			TableName:    table,
			Completeness: 0.98,
			Freshness:    1.0,
			Validity:     0.92,
			Consistency:  0.95,
			Composite:    0.958,
			ComputedAt:   base.Add(-time.Hour),
		}
		newer := &quality.Score{
			ID:           uuid.NewString(),
			TableName:    table,
			Completeness: 0.97,
			Freshness:    0.5,
			Validity:     0.92,
			Consistency:  0.95,
			Composite:    0.857,
			ComputedAt:   base,
		}

		require.NoError(t, store.SaveScore(ctx, older))
		require.NoError(t, store.SaveScore(ctx, newer))

		scores, err := store.RecentScores(ctx, table, 10)
		require.NoError(t, err)
		require.Len(t, scores, 2)
		assert.Equal(t, newer.ID, scores[0].ID)
		assert.InDelta(t, 0.857, scores[0].Composite, 0.001)
		assert.InDelta(t, 1.0, scores[1].Freshness, 0.001)
	})
}
