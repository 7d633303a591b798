package collector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "targets.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const testRegistryJSON = `[
	{"id": "lp-1", "name": "Evergreen Pension", "type": "lp", "region": "us", "website": "https://evergreen.example", "priority": 8},
	{"id": "lp-2", "name": "Northern Trust Fund", "type": "lp", "region": "eu", "priority": 5},
	{"id": "fo-1", "name": "Halcyon Family Office", "type": "fo", "region": "us", "priority": 3}
]`

func TestLoadRegistry(t *testing.T) {
	registry, err := LoadRegistry(writeRegistry(t, testRegistryJSON))

	require.NoError(t, err)
	assert.Equal(t, 3, registry.Len())

	target, err := registry.Get("lp-1")
	require.NoError(t, err)
	assert.Equal(t, "Evergreen Pension", target.Name)
	assert.Equal(t, 8, target.Priority)
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.json"))

	assert.ErrorIs(t, err, ErrRegistryLoadFailed)
}

func TestLoadRegistry_MalformedJSON(t *testing.T) {
	_, err := LoadRegistry(writeRegistry(t, "{not json"))

	assert.ErrorIs(t, err, ErrRegistryLoadFailed)
}

func TestLoadRegistry_TargetMissingID(t *testing.T) {
	_, err := LoadRegistry(writeRegistry(t, `[{"name": "No ID"}]`))

	assert.ErrorIs(t, err, ErrRegistryLoadFailed)
}

func TestRegistry_Get_NotFound(t *testing.T) {
	registry, err := LoadRegistry(writeRegistry(t, testRegistryJSON))
	require.NoError(t, err)

	_, err = registry.Get("ghost")

	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestRegistry_Select_Filters(t *testing.T) {
	registry, err := LoadRegistry(writeRegistry(t, testRegistryJSON))
	require.NoError(t, err)

	now := time.Now().UTC()

	all := registry.Select(Filter{}, nil, now)
	assert.Len(t, all, 3)

	lps := registry.Select(Filter{Types: []string{"lp"}}, nil, now)
	assert.Len(t, lps, 2)

	usOnly := registry.Select(Filter{Regions: []string{"us"}}, nil, now)
	assert.Len(t, usOnly, 2)

	highPriority := registry.Select(Filter{MinPriority: 5}, nil, now)
	assert.Len(t, highPriority, 2)

	usLPs := registry.Select(Filter{Types: []string{"lp"}, Regions: []string{"us"}}, nil, now)
	require.Len(t, usLPs, 1)
	assert.Equal(t, "lp-1", usLPs[0].ID)
}

func TestRegistry_Select_Staleness(t *testing.T) {
	registry, err := LoadRegistry(writeRegistry(t, testRegistryJSON))
	require.NoError(t, err)

	now := time.Now().UTC()
	// lp-1 is fresh, lp-2 is stale, fo-1 was never collected.
	lastCollected := map[string]time.Time{
		"lp-1": now.Add(-time.Hour),
		"lp-2": now.AddDate(0, 0, -10),
	}

	selected := registry.Select(Filter{StaleDays: 7}, lastCollected, now)

	ids := make([]string, len(selected))
	for i, target := range selected {
		ids[i] = target.ID
	}

	assert.ElementsMatch(t, []string{"lp-2", "fo-1"}, ids,
		"fresh targets are skipped, stale and never-collected ones selected")
}
