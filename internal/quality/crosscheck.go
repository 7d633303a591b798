package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

type (
	// CrossCheck declares one referential check between two tables: the
	// fraction of distinct left-side values present on the right side must
	// meet the threshold. Geographic code alignment between sources is the
	// canonical use.
	CrossCheck struct {
		Name        string  `yaml:"name"`
		LeftTable   string  `yaml:"left_table"`
		LeftColumn  string  `yaml:"left_column"`
		RightTable  string  `yaml:"right_table"`
		RightColumn string  `yaml:"right_column"`
		Threshold   float64 `yaml:"threshold"`
	}

	// CrossResult is the outcome of one cross check. MatchRate is continuous;
	// Passed applies the declared threshold.
	CrossResult struct {
		Check       CrossCheck
		MatchRate   float64
		LeftCount   int64
		MatchCount  int64
		Passed      bool
		EvaluatedAt time.Time
	}

	// Validator runs cross checks and opens alerts for failures.
	Validator struct {
		db     Querier
		store  Store
		logger *slog.Logger
	}
)

// Validate checks the declaration is runnable.
func (c CrossCheck) Validate() error {
	if c.LeftTable == "" || c.LeftColumn == "" || c.RightTable == "" || c.RightColumn == "" {
		return fmt.Errorf("%w: cross check %q needs both sides", ErrInvalidRule, c.Name)
	}

	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: cross check %q threshold must be in (0, 1]", ErrInvalidRule, c.Name)
	}

	return nil
}

// NewValidator creates a cross-source validator.
func NewValidator(db Querier, store Store, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Validator{db: db, store: store, logger: logger}
}

// Run evaluates one cross check. An empty left side passes trivially with a
// match rate of 1.
func (v *Validator) Run(ctx context.Context, check CrossCheck) (*CrossResult, error) {
	if err := check.Validate(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(DISTINCT l.%[1]s),
			COUNT(DISTINCT l.%[1]s) FILTER (WHERE r.%[3]s IS NOT NULL)
		FROM %[2]s l
		LEFT JOIN %[4]s r ON l.%[1]s::text = r.%[3]s::text
		WHERE l.%[1]s IS NOT NULL
	`,
		pq.QuoteIdentifier(check.LeftColumn), pq.QuoteIdentifier(check.LeftTable),
		pq.QuoteIdentifier(check.RightColumn), pq.QuoteIdentifier(check.RightTable))

	result := &CrossResult{Check: check, EvaluatedAt: time.Now().UTC()}

	err := v.db.QueryRowContext(ctx, query).Scan(&result.LeftCount, &result.MatchCount)
	if err != nil {
		return nil, fmt.Errorf("cross check %q: %w", check.Name, err)
	}

	if result.LeftCount == 0 {
		result.MatchRate = 1
	} else {
		result.MatchRate = float64(result.MatchCount) / float64(result.LeftCount)
	}

	result.Passed = result.MatchRate >= check.Threshold

	if !result.Passed {
		v.logger.Warn("cross check failed",
			slog.String("check", check.Name),
			slog.Float64("match_rate", result.MatchRate),
			slog.Float64("threshold", check.Threshold),
		)

		alert := newAlert(check.LeftTable, check.LeftColumn, "cross_check_failure", map[string]any{
			"check":       check.Name,
			"right_table": check.RightTable,
			"match_rate":  result.MatchRate,
			"threshold":   check.Threshold,
		})

		if err := v.store.SaveAlert(ctx, alert); err != nil {
			return result, err
		}
	}

	return result, nil
}

// RunAll evaluates every check whose left table matches tableName (or all
// checks when tableName is empty).
func (v *Validator) RunAll(ctx context.Context, checks []CrossCheck, tableName string) ([]*CrossResult, error) {
	var results []*CrossResult

	for _, check := range checks {
		if tableName != "" && check.LeftTable != tableName {
			continue
		}

		result, err := v.Run(ctx, check)
		if err != nil {
			return results, err
		}

		results = append(results, result)
	}

	return results, nil
}
