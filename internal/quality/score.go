package quality

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Dimension weights for the composite score.
const (
	weightCompleteness = 0.30
	weightFreshness    = 0.20
	weightValidity     = 0.30
	weightConsistency  = 0.20

	// freshnessWindowHours is the age at which the freshness dimension decays
	// to zero when no FRESHNESS rule declares a tighter expectation.
	freshnessWindowHours = 48.0
)

type (
	// Score is one composite quality measurement for a table. Dimensions are
	// in [0, 1]; Composite is their weighted sum.
	Score struct {
		ID           string
		TableName    string
		Completeness float64
		Freshness    float64
		Validity     float64
		Consistency  float64
		Composite    float64
		ComputedAt   time.Time
	}

	// SLATarget sets a floor on one dimension (or "composite"); dipping below
	// it opens an alert.
	SLATarget struct {
		TableName string  `yaml:"table"`
		Dimension string  `yaml:"dimension"`
		Threshold float64 `yaml:"threshold"`
	}

	// Scorer computes composite scores and enforces SLA targets.
	Scorer struct {
		db     Querier
		store  Store
		logger *slog.Logger
	}
)

// NewScorer creates a quality scorer.
func NewScorer(db Querier, store Store, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scorer{db: db, store: store, logger: logger}
}

// Compute derives the table's score from its latest snapshot, its recent rule
// results, and any cross-check outcomes, then persists it.
func (s *Scorer) Compute(
	ctx context.Context,
	snapshot *Snapshot,
	results []*Result,
	crossResults []*CrossResult,
) (*Score, error) {
	score := &Score{
		ID:         uuid.NewString(),
		TableName:  snapshot.TableName,
		ComputedAt: time.Now().UTC(),
	}

	score.Completeness = completeness(snapshot)

	freshness, err := s.freshness(ctx, snapshot.TableName)
	if err != nil {
		return nil, err
	}

	score.Freshness = freshness
	score.Validity = validity(results)
	score.Consistency = consistency(crossResults)

	score.Composite = weightCompleteness*score.Completeness +
		weightFreshness*score.Freshness +
		weightValidity*score.Validity +
		weightConsistency*score.Consistency

	if err := s.store.SaveScore(ctx, score); err != nil {
		return nil, err
	}

	s.logger.Info("quality score computed",
		slog.String("table", score.TableName),
		slog.Float64("composite", score.Composite),
	)

	return score, nil
}

// Enforce opens an alert for every SLA target the score breaches.
func (s *Scorer) Enforce(ctx context.Context, score *Score, targets []SLATarget) error {
	for _, target := range targets {
		if target.TableName != "" && target.TableName != score.TableName {
			continue
		}

		value, err := score.dimension(target.Dimension)
		if err != nil {
			return err
		}

		if value >= target.Threshold {
			continue
		}

		s.logger.Warn("sla breach",
			slog.String("table", score.TableName),
			slog.String("dimension", target.Dimension),
			slog.Float64("value", value),
			slog.Float64("threshold", target.Threshold),
		)

		alert := newAlert(score.TableName, "", "sla_breach", map[string]any{
			"dimension": target.Dimension,
			"value":     value,
			"threshold": target.Threshold,
		})

		if err := s.store.SaveAlert(ctx, alert); err != nil {
			return err
		}
	}

	return nil
}

func (sc *Score) dimension(name string) (float64, error) {
	switch name {
	case "completeness":
		return sc.Completeness, nil
	case "freshness":
		return sc.Freshness, nil
	case "validity":
		return sc.Validity, nil
	case "consistency":
		return sc.Consistency, nil
	case "composite":
		return sc.Composite, nil
	default:
		return 0, fmt.Errorf("%w: unknown score dimension %q", ErrInvalidRule, name)
	}
}

// completeness is the mean filled fraction across profiled columns.
func completeness(snapshot *Snapshot) float64 {
	if len(snapshot.Columns) == 0 {
		return 0
	}

	var sum float64
	for _, profile := range snapshot.Columns {
		sum += 1 - profile.NullPct/100
	}

	return sum / float64(len(snapshot.Columns))
}

// freshness decays linearly from 1 (just ingested) to 0 at the window edge.
func (s *Scorer) freshness(ctx context.Context, tableName string) (float64, error) {
	var latest sql.NullTime

	query := "SELECT MAX(ingested_at) FROM " + pq.QuoteIdentifier(tableName)
	if err := s.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return 0, fmt.Errorf("freshness of %s: %w", tableName, err)
	}

	if !latest.Valid {
		return 0, nil
	}

	ageHours := time.Since(latest.Time).Hours()
	if ageHours >= freshnessWindowHours {
		return 0, nil
	}

	return 1 - ageHours/freshnessWindowHours, nil
}

// validity is the pass fraction over rule results. A table with no rules is
// unvalidated, not invalid, and scores full.
func validity(results []*Result) float64 {
	if len(results) == 0 {
		return 1
	}

	var passed int
	for _, result := range results {
		if result.Passed {
			passed++
		}
	}

	return float64(passed) / float64(len(results))
}

// consistency averages cross-check match rates; tables with no checks score
// full for the same reason as validity.
func consistency(crossResults []*CrossResult) float64 {
	if len(crossResults) == 0 {
		return 1
	}

	var sum float64
	for _, result := range crossResults {
		sum += result.MatchRate
	}

	return sum / float64(len(crossResults))
}
