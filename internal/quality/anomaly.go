package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	// minSnapshotsForDetection is how much history detection needs before it
	// trusts a baseline.
	minSnapshotsForDetection = 3
	// detectionHistoryLimit caps how many snapshots form the baseline.
	detectionHistoryLimit = 10

	// rowCountDropThreshold flags a table that shrank by more than this
	// fraction against its baseline mean.
	rowCountDropThreshold = 0.5
	// nullPctJumpThreshold flags a null percentage that rose by more than
	// this many points against the baseline.
	nullPctJumpThreshold = 20.0
	// distinctDropThreshold flags distinct counts that collapsed below this
	// fraction of the baseline.
	distinctDropThreshold = 0.5
)

// Detector compares the newest snapshot of a table against its history and
// opens alerts for structural drift.
type Detector struct {
	store  Store
	logger *slog.Logger
}

// NewDetector creates an anomaly detector.
func NewDetector(store Store, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{store: store, logger: logger}
}

// Detect evaluates the latest snapshot against its predecessors and persists
// one alert per finding. Returns ErrInsufficientHistory until the table has
// enough snapshots to form a baseline.
func (d *Detector) Detect(ctx context.Context, tableName string) ([]*Alert, error) {
	snapshots, err := d.store.RecentSnapshots(ctx, tableName, detectionHistoryLimit)
	if err != nil {
		return nil, err
	}

	if len(snapshots) < minSnapshotsForDetection {
		return nil, fmt.Errorf("%w: %s has %d snapshots, need %d",
			ErrInsufficientHistory, tableName, len(snapshots), minSnapshotsForDetection)
	}

	latest, history := snapshots[0], snapshots[1:]

	var alerts []*Alert

	alerts = append(alerts, d.checkRowCount(latest, history)...)
	alerts = append(alerts, d.checkColumns(latest, history)...)

	for _, alert := range alerts {
		if err := d.store.SaveAlert(ctx, alert); err != nil {
			return alerts, err
		}

		d.logger.Warn("anomaly detected",
			slog.String("table", tableName),
			slog.String("type", alert.Type),
			slog.String("column", alert.Column),
		)
	}

	return alerts, nil
}

func (d *Detector) checkRowCount(latest *Snapshot, history []*Snapshot) []*Alert {
	counts := make([]float64, 0, len(history))
	for _, snap := range history {
		counts = append(counts, float64(snap.RowCount))
	}

	baseline := mean(counts)
	if baseline <= 0 {
		return nil
	}

	drop := (baseline - float64(latest.RowCount)) / baseline

	// Either a raw drop past the threshold or a statistically wild swing on
	// an otherwise stable table.
	wild := false
	if sd := stddev(counts); sd > 0 {
		wild = math.Abs(float64(latest.RowCount)-baseline)/sd > 3
	}

	if drop <= rowCountDropThreshold && !wild {
		return nil
	}

	return []*Alert{newAlert(latest.TableName, "", "row_count_drift", map[string]any{
		"row_count":     latest.RowCount,
		"baseline_mean": baseline,
		"drop_fraction": drop,
	})}
}

// checkColumns flags schema changes, null-rate jumps, and cardinality
// collapses against the immediately preceding snapshots.
func (d *Detector) checkColumns(latest *Snapshot, history []*Snapshot) []*Alert {
	previous := history[0]

	var alerts []*Alert

	for name := range previous.Columns {
		if _, ok := latest.Columns[name]; !ok {
			alerts = append(alerts, newAlert(latest.TableName, name, "column_removed", map[string]any{
				"previous_snapshot": previous.ID,
			}))
		}
	}

	for _, name := range latest.sortedColumnNames() {
		current := latest.Columns[name]

		if _, ok := previous.Columns[name]; !ok {
			alerts = append(alerts, newAlert(latest.TableName, name, "column_added", map[string]any{
				"previous_snapshot": previous.ID,
			}))

			continue
		}

		baseline := baselineFor(name, history)

		if jump := current.NullPct - baseline.nullPct; jump > nullPctJumpThreshold {
			alerts = append(alerts, newAlert(latest.TableName, name, "null_pct_jump", map[string]any{
				"null_pct":     current.NullPct,
				"baseline_pct": baseline.nullPct,
				"jump_points":  jump,
			}))
		}

		if baseline.distinct > 0 {
			ratio := float64(current.DistinctCount) / baseline.distinct
			if ratio < distinctDropThreshold {
				alerts = append(alerts, newAlert(latest.TableName, name, "distinct_count_drop", map[string]any{
					"distinct_count":    current.DistinctCount,
					"baseline_distinct": baseline.distinct,
				}))
			}
		}
	}

	return alerts
}

type columnBaseline struct {
	nullPct  float64
	distinct float64
}

// baselineFor averages a column's stats over the historical snapshots that
// observed it.
func baselineFor(name string, history []*Snapshot) columnBaseline {
	var (
		nullPcts  []float64
		distincts []float64
	)

	for _, snap := range history {
		if profile, ok := snap.Columns[name]; ok {
			nullPcts = append(nullPcts, profile.NullPct)
			distincts = append(distincts, float64(profile.DistinctCount))
		}
	}

	return columnBaseline{
		nullPct:  mean(nullPcts),
		distinct: mean(distincts),
	}
}

func newAlert(tableName, column, alertType string, details map[string]any) *Alert {
	return &Alert{
		ID:        uuid.NewString(),
		TableName: tableName,
		Column:    column,
		Type:      alertType,
		Status:    AlertOpen,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	m := mean(values)

	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}

	return math.Sqrt(sum / float64(len(values)-1))
}
