package quality

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Evaluator runs enabled rules against live table data and records one
// Result per rule. Failed error-severity rules additionally open an alert.
type Evaluator struct {
	db     Querier
	store  Store
	logger *slog.Logger
}

// NewEvaluator creates a rule evaluator.
func NewEvaluator(db Querier, store Store, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Evaluator{db: db, store: store, logger: logger}
}

// Evaluate runs every enabled rule for the table. Individual rule failures
// (the data kind) are recorded, not returned; only infrastructure errors
// surface.
func (e *Evaluator) Evaluate(ctx context.Context, tableName string) ([]*Result, error) {
	rules, err := e.store.ListRules(ctx, tableName, true)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(rules))

	for _, rule := range rules {
		result, err := e.evaluateRule(ctx, rule)
		if err != nil {
			return results, fmt.Errorf("evaluate rule %s on %s: %w", rule.Type, tableName, err)
		}

		if err := e.store.SaveResult(ctx, result); err != nil {
			return results, err
		}

		if !result.Passed {
			e.logger.Warn("quality rule failed",
				slog.String("table", tableName),
				slog.String("rule_type", string(rule.Type)),
				slog.String("column", rule.Column),
				slog.String("severity", string(rule.Severity)),
			)

			if rule.Severity == SeverityError {
				if err := e.raiseAlert(ctx, rule, result); err != nil {
					return results, err
				}
			}
		}

		results = append(results, result)
	}

	return results, nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule *Rule) (*Result, error) {
	result := &Result{
		RuleID:      rule.ID,
		TableName:   rule.TableName,
		Details:     map[string]any{"rule_type": string(rule.Type), "column": rule.Column},
		EvaluatedAt: time.Now().UTC(),
	}

	var err error

	switch rule.Type {
	case RuleNotNull:
		err = e.countViolations(ctx, rule, result,
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL",
				pq.QuoteIdentifier(rule.TableName), pq.QuoteIdentifier(rule.Column)))
	case RuleRange:
		err = e.evaluateRange(ctx, rule, result)
	case RuleEnum:
		values := paramStrings(rule.Params, "values")
		err = e.countViolations(ctx, rule, result,
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND %s::text <> ALL($1)",
				pq.QuoteIdentifier(rule.TableName), pq.QuoteIdentifier(rule.Column),
				pq.QuoteIdentifier(rule.Column)),
			pq.Array(values))
	case RuleRegex:
		pattern, _ := paramString(rule.Params, "pattern")
		err = e.countViolations(ctx, rule, result,
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND %s !~ $1",
				pq.QuoteIdentifier(rule.TableName), pq.QuoteIdentifier(rule.Column),
				pq.QuoteIdentifier(rule.Column)),
			pattern)
	case RuleRowCount:
		err = e.evaluateRowCount(ctx, rule, result)
	case RuleFreshness:
		err = e.evaluateFreshness(ctx, rule, result)
	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, rule.Type)
	}

	if err != nil {
		return nil, err
	}

	return result, nil
}

// countViolations runs a COUNT query where any nonzero count is a failure.
func (e *Evaluator) countViolations(ctx context.Context, rule *Rule, result *Result, query string, args ...any) error {
	var violations int64
	if err := e.db.QueryRowContext(ctx, query, args...).Scan(&violations); err != nil {
		return err
	}

	result.Passed = violations == 0
	result.Details["violations"] = violations

	return nil
}

func (e *Evaluator) evaluateRange(ctx context.Context, rule *Rule, result *Result) error {
	quoted := pq.QuoteIdentifier(rule.Column)

	var (
		conditions []string
		args       []any
	)

	if minV, ok := paramFloat(rule.Params, "min"); ok {
		args = append(args, minV)
		conditions = append(conditions, fmt.Sprintf("%s < $%d", quoted, len(args)))
		result.Details["min"] = minV
	}

	if maxV, ok := paramFloat(rule.Params, "max"); ok {
		args = append(args, maxV)
		conditions = append(conditions, fmt.Sprintf("%s > $%d", quoted, len(args)))
		result.Details["max"] = maxV
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND (%s)",
		pq.QuoteIdentifier(rule.TableName), quoted, strings.Join(conditions, " OR "))

	return e.countViolations(ctx, rule, result, query, args...)
}

func (e *Evaluator) evaluateRowCount(ctx context.Context, rule *Rule, result *Result) error {
	var count int64

	query := "SELECT COUNT(*) FROM " + pq.QuoteIdentifier(rule.TableName)
	if err := e.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return err
	}

	minV, _ := paramFloat(rule.Params, "min")
	result.Passed = float64(count) >= minV
	result.Details["row_count"] = count
	result.Details["min"] = minV

	if maxV, ok := paramFloat(rule.Params, "max"); ok {
		result.Details["max"] = maxV

		if float64(count) > maxV {
			result.Passed = false
		}
	}

	return nil
}

func (e *Evaluator) evaluateFreshness(ctx context.Context, rule *Rule, result *Result) error {
	var latest sql.NullTime

	query := "SELECT MAX(ingested_at) FROM " + pq.QuoteIdentifier(rule.TableName)
	if err := e.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return err
	}

	maxAgeHours, _ := paramFloat(rule.Params, "max_age_hours")
	result.Details["max_age_hours"] = maxAgeHours

	if !latest.Valid {
		// Empty table: nothing was ever ingested, so nothing is fresh.
		result.Passed = false
		result.Details["age_hours"] = nil

		return nil
	}

	age := time.Since(latest.Time)
	result.Passed = age <= time.Duration(maxAgeHours*float64(time.Hour))
	result.Details["age_hours"] = age.Hours()

	return nil
}

func (e *Evaluator) raiseAlert(ctx context.Context, rule *Rule, result *Result) error {
	return e.store.SaveAlert(ctx, &Alert{
		ID:        uuid.NewString(),
		TableName: rule.TableName,
		Column:    rule.Column,
		Type:      "rule_violation",
		Status:    AlertOpen,
		Details: map[string]any{
			"rule_id":   rule.ID,
			"rule_type": string(rule.Type),
			"details":   result.Details,
		},
		CreatedAt: time.Now().UTC(),
	})
}
