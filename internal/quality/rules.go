package quality

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type (
	// ruleFile is the on-disk YAML shape for declared rules.
	ruleFile struct {
		Tables map[string]tableRules `yaml:"tables"`
	}

	tableRules struct {
		Rules []ruleDecl `yaml:"rules"`
	}

	ruleDecl struct {
		Column   string         `yaml:"column"`
		Type     string         `yaml:"type"`
		Params   map[string]any `yaml:"params"`
		Severity string         `yaml:"severity"`
	}
)

// LoadRuleFile parses a YAML rule file into validated rules. Declared rules
// are enabled immediately and carry Seeded=false so they are never replaced
// by the auto-seeder.
func LoadRuleFile(path string) ([]*Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}

	now := time.Now().UTC()

	var rules []*Rule

	for tableName, table := range file.Tables {
		for _, decl := range table.Rules {
			rule := &Rule{
				ID:        uuid.NewString(),
				TableName: tableName,
				Column:    decl.Column,
				Type:      RuleType(decl.Type),
				Params:    decl.Params,
				Severity:  Severity(decl.Severity),
				Enabled:   true,
				CreatedAt: now,
			}

			if rule.Severity == "" {
				rule.Severity = SeverityWarning
			}

			if err := ValidateRule(rule); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", tableName, decl.Column, err)
			}

			rules = append(rules, rule)
		}
	}

	return rules, nil
}

// ValidateRule checks that a rule's parameters fit its type.
func ValidateRule(rule *Rule) error {
	if rule.TableName == "" {
		return fmt.Errorf("%w: missing table name", ErrInvalidRule)
	}

	switch rule.Severity {
	case SeverityInfo, SeverityWarning, SeverityError:
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidRule, rule.Severity)
	}

	switch rule.Type {
	case RuleNotNull:
		if rule.Column == "" {
			return fmt.Errorf("%w: NOT_NULL requires a column", ErrInvalidRule)
		}
	case RuleRange:
		if rule.Column == "" {
			return fmt.Errorf("%w: RANGE requires a column", ErrInvalidRule)
		}

		_, hasMin := paramFloat(rule.Params, "min")
		_, hasMax := paramFloat(rule.Params, "max")

		if !hasMin && !hasMax {
			return fmt.Errorf("%w: RANGE requires min or max", ErrInvalidRule)
		}
	case RuleEnum:
		if rule.Column == "" {
			return fmt.Errorf("%w: ENUM requires a column", ErrInvalidRule)
		}

		if len(paramStrings(rule.Params, "values")) == 0 {
			return fmt.Errorf("%w: ENUM requires a values list", ErrInvalidRule)
		}
	case RuleRegex:
		if rule.Column == "" {
			return fmt.Errorf("%w: REGEX requires a column", ErrInvalidRule)
		}

		pattern, ok := paramString(rule.Params, "pattern")
		if !ok {
			return fmt.Errorf("%w: REGEX requires a pattern", ErrInvalidRule)
		}

		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: bad pattern: %w", ErrInvalidRule, err)
		}
	case RuleRowCount:
		if _, ok := paramFloat(rule.Params, "min"); !ok {
			return fmt.Errorf("%w: ROW_COUNT requires min", ErrInvalidRule)
		}
	case RuleFreshness:
		if hours, ok := paramFloat(rule.Params, "max_age_hours"); !ok || hours <= 0 {
			return fmt.Errorf("%w: FRESHNESS requires positive max_age_hours", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, rule.Type)
	}

	return nil
}

// paramFloat reads a numeric rule parameter. YAML and JSON decode numbers
// into several Go types, so every numeric shape is accepted.
func paramFloat(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func paramString(params map[string]any, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok
}

// paramStrings reads a list parameter, tolerating []any from decoders.
func paramStrings(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprintf("%v", item))
			}
		}

		return out
	default:
		return nil
	}
}
