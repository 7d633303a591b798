package quality

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRuleFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadRuleFile(t *testing.T) {
	path := writeRuleFile(t, `
tables:
  eia_petroleum_pri:
    rules:
      - column: value
        type: RANGE
        params:
          min: 0
        severity: error
      - column: units
        type: NOT_NULL
  fred_gdp:
    rules:
      - type: ROW_COUNT
        params:
          min: 100
`)

	rules, err := LoadRuleFile(path)

	require.NoError(t, err)
	require.Len(t, rules, 3)

	byTable := map[string]int{}
	for _, rule := range rules {
		byTable[rule.TableName]++

		assert.True(t, rule.Enabled)
		assert.False(t, rule.Seeded, "declared rules are never seeded")
		assert.NotEmpty(t, rule.ID)
	}

	assert.Equal(t, 2, byTable["eia_petroleum_pri"])
	assert.Equal(t, 1, byTable["fred_gdp"])
}

func TestLoadRuleFile_SeverityDefaultsToWarning(t *testing.T) {
	path := writeRuleFile(t, `
tables:
  t:
    rules:
      - column: c
        type: NOT_NULL
`)

	rules, err := LoadRuleFile(path)

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, SeverityWarning, rules[0].Severity)
}

func TestLoadRuleFile_InvalidRule(t *testing.T) {
	path := writeRuleFile(t, `
tables:
  t:
    rules:
      - column: c
        type: RANGE
`)

	_, err := LoadRuleFile(path)

	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestLoadRuleFile_MissingFile(t *testing.T) {
	_, err := LoadRuleFile(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Error(t, err)
}

func TestLoadRuleFile_MalformedYAML(t *testing.T) {
	path := writeRuleFile(t, "tables: [not: a: map")

	_, err := LoadRuleFile(path)

	assert.Error(t, err)
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    *Rule
		wantErr bool
	}{
		{
			name: "valid not null",
			rule: &Rule{TableName: "t", Column: "c", Type: RuleNotNull, Severity: SeverityWarning},
		},
		{
			name:    "not null without column",
			rule:    &Rule{TableName: "t", Type: RuleNotNull, Severity: SeverityWarning},
			wantErr: true,
		},
		{
			name: "valid range with min only",
			rule: &Rule{
				TableName: "t", Column: "c", Type: RuleRange, Severity: SeverityError,
				Params: map[string]any{"min": 0},
			},
		},
		{
			name: "valid range with max only",
			rule: &Rule{
				TableName: "t", Column: "c", Type: RuleRange, Severity: SeverityError,
				Params: map[string]any{"max": 100.5},
			},
		},
		{
			name:    "range without bounds",
			rule:    &Rule{TableName: "t", Column: "c", Type: RuleRange, Severity: SeverityWarning},
			wantErr: true,
		},
		{
			name:    "range without column",
			rule:    &Rule{TableName: "t", Type: RuleRange, Severity: SeverityWarning, Params: map[string]any{"min": 0}},
			wantErr: true,
		},
		{
			name: "valid enum",
			rule: &Rule{
				TableName: "t", Column: "c", Type: RuleEnum, Severity: SeverityInfo,
				Params: map[string]any{"values": []any{"a", "b"}},
			},
		},
		{
			name:    "enum without values",
			rule:    &Rule{TableName: "t", Column: "c", Type: RuleEnum, Severity: SeverityWarning},
			wantErr: true,
		},
		{
			name: "valid regex",
			rule: &Rule{
				TableName: "t", Column: "c", Type: RuleRegex, Severity: SeverityWarning,
				Params: map[string]any{"pattern": `^\d{4}-\d{2}$`},
			},
		},
		{
			name: "regex with bad pattern",
			rule: &Rule{
				TableName: "t", Column: "c", Type: RuleRegex, Severity: SeverityWarning,
				Params: map[string]any{"pattern": "("},
			},
			wantErr: true,
		},
		{
			name:    "regex without pattern",
			rule:    &Rule{TableName: "t", Column: "c", Type: RuleRegex, Severity: SeverityWarning},
			wantErr: true,
		},
		{
			name: "valid row count",
			rule: &Rule{
				TableName: "t", Type: RuleRowCount, Severity: SeverityWarning,
				Params: map[string]any{"min": 1},
			},
		},
		{
			name:    "row count without min",
			rule:    &Rule{TableName: "t", Type: RuleRowCount, Severity: SeverityWarning},
			wantErr: true,
		},
		{
			name: "valid freshness",
			rule: &Rule{
				TableName: "t", Type: RuleFreshness, Severity: SeverityWarning,
				Params: map[string]any{"max_age_hours": 24},
			},
		},
		{
			name: "freshness with zero age",
			rule: &Rule{
				TableName: "t", Type: RuleFreshness, Severity: SeverityWarning,
				Params: map[string]any{"max_age_hours": 0},
			},
			wantErr: true,
		},
		{
			name:    "missing table name",
			rule:    &Rule{Column: "c", Type: RuleNotNull, Severity: SeverityWarning},
			wantErr: true,
		},
		{
			name:    "unknown type",
			rule:    &Rule{TableName: "t", Column: "c", Type: "UNIQUE", Severity: SeverityWarning},
			wantErr: true,
		},
		{
			name:    "unknown severity",
			rule:    &Rule{TableName: "t", Column: "c", Type: RuleNotNull, Severity: "critical"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRule(tt.rule)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParamFloat(t *testing.T) {
	params := map[string]any{
		"i":   7,
		"i64": int64(8),
		"f32": float32(9.5),
		"f64": 10.25,
		"s":   "not a number",
	}

	for key, want := range map[string]float64{"i": 7, "i64": 8, "f32": 9.5, "f64": 10.25} {
		got, ok := paramFloat(params, key)

		assert.True(t, ok, key)
		assert.InDelta(t, want, got, 0.001, key)
	}

	_, ok := paramFloat(params, "s")
	assert.False(t, ok)

	_, ok = paramFloat(params, "missing")
	assert.False(t, ok)
}

func TestParamStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, paramStrings(map[string]any{"v": []string{"a", "b"}}, "v"))
	assert.Equal(t, []string{"a", "2"}, paramStrings(map[string]any{"v": []any{"a", 2}}, "v"))
	assert.Nil(t, paramStrings(map[string]any{"v": "scalar"}, "v"))
	assert.Nil(t, paramStrings(map[string]any{}, "v"))
}
