package quality

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// seedMinRows is the smallest table the seeder will draw conclusions from.
	seedMinRows = 50
	// seedEnumMaxDistinct bounds how many distinct values still look like an
	// enumeration rather than free text.
	seedEnumMaxDistinct = 20
	// seedEnumMaxCardinality is the distinct/total ratio ceiling for ENUM
	// candidates.
	seedEnumMaxCardinality = 0.05
)

// Seeder proposes rules from observed profile statistics. Seeded rules are
// marked Seeded=true and never overwrite operator-declared rules on the same
// column and type.
type Seeder struct {
	store  Store
	logger *slog.Logger
}

// NewSeeder creates a rule seeder.
func NewSeeder(store Store, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Seeder{store: store, logger: logger}
}

// Seed derives candidate rules from the snapshot and persists the ones that
// do not collide with existing rules. Returns the rules it created.
func (s *Seeder) Seed(ctx context.Context, snapshot *Snapshot) ([]*Rule, error) {
	if snapshot.RowCount < seedMinRows {
		return nil, nil
	}

	existing, err := s.store.ListRules(ctx, snapshot.TableName, false)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(existing))
	for _, rule := range existing {
		taken[rule.Column+"|"+string(rule.Type)] = true
	}

	now := time.Now().UTC()

	var seeded []*Rule

	for _, name := range snapshot.sortedColumnNames() {
		profile := snapshot.Columns[name]

		for _, candidate := range s.candidates(snapshot.TableName, profile, now) {
			if taken[candidate.Column+"|"+string(candidate.Type)] {
				continue
			}

			if err := s.store.SaveRule(ctx, candidate); err != nil {
				return seeded, err
			}

			taken[candidate.Column+"|"+string(candidate.Type)] = true
			seeded = append(seeded, candidate)
		}
	}

	if len(seeded) > 0 {
		s.logger.Info("seeded quality rules",
			slog.String("table", snapshot.TableName),
			slog.Int("count", len(seeded)),
		)
	}

	return seeded, nil
}

func (s *Seeder) candidates(tableName string, profile ColumnProfile, now time.Time) []*Rule {
	var rules []*Rule

	// A column that has never been NULL is expected to stay that way.
	if profile.NullPct == 0 {
		rules = append(rules, &Rule{
			ID:        uuid.NewString(),
			TableName: tableName,
			Column:    profile.Name,
			Type:      RuleNotNull,
			Severity:  SeverityWarning,
			Enabled:   true,
			Seeded:    true,
			CreatedAt: now,
		})
	}

	// Few distinct values on a non-identifier column reads as an enumeration.
	if len(profile.TopValues) > 0 &&
		profile.DistinctCount > 0 &&
		profile.DistinctCount <= seedEnumMaxDistinct &&
		profile.CardinalityRatio <= seedEnumMaxCardinality &&
		!identifierColumn(profile.Name) {
		values := make([]string, 0, len(profile.TopValues))
		for value := range profile.TopValues {
			values = append(values, value)
		}

		rules = append(rules, &Rule{
			ID:        uuid.NewString(),
			TableName: tableName,
			Column:    profile.Name,
			Type:      RuleEnum,
			Params:    map[string]any{"values": values},
			Severity:  SeverityInfo,
			Enabled:   true,
			Seeded:    true,
			CreatedAt: now,
		})
	}

	if bounds, ok := rangeBounds(profile.Stats); ok {
		rules = append(rules, &Rule{
			ID:        uuid.NewString(),
			TableName: tableName,
			Column:    profile.Name,
			Type:      RuleRange,
			Params:    bounds,
			Severity:  SeverityInfo,
			Enabled:   true,
			Seeded:    true,
			CreatedAt: now,
		})
	}

	return rules
}

// rangeBounds derives a plausible value envelope for a numeric column. The
// default is mean +/- 4 stddev; heavily skewed columns (coefficient of
// variation above 1.5) get the sturdier quartile spread instead.
func rangeBounds(stats map[string]float64) (map[string]any, bool) {
	if stats == nil {
		return nil, false
	}

	mean, okMean := stats["mean"]
	stddev, okStddev := stats["stddev"]

	if !okMean || !okStddev || stddev == 0 {
		return nil, false
	}

	lower := mean - 4*stddev
	upper := mean + 4*stddev

	cv := stddev / mean
	if cv < 0 {
		cv = -cv
	}

	if cv > 1.5 {
		p25, okP25 := stats["p25"]
		p75, okP75 := stats["p75"]

		if okP25 && okP75 && p75 > p25 {
			iqr := p75 - p25
			lower = p25 - 6*iqr
			upper = p75 + 6*iqr
		}
	}

	// Never propose bounds tighter than what was actually observed.
	if minV, ok := stats["min"]; ok && minV < lower {
		lower = minV
	}

	if maxV, ok := stats["max"]; ok && maxV > upper {
		upper = maxV
	}

	return map[string]any{"min": lower, "max": upper}, true
}

// identifierColumn filters out columns that look like keys, which have low
// value as enumerations even when cardinality is low in a small sample.
func identifierColumn(name string) bool {
	lower := strings.ToLower(name)

	return lower == "id" ||
		strings.HasSuffix(lower, "_id") ||
		strings.HasSuffix(lower, "_key") ||
		strings.HasSuffix(lower, "_code")
}
