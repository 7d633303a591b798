package collector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCollectorStore is an in-memory Store that keys items by dedup key, the
// same identity the SQL upsert uses.
type memCollectorStore struct {
	mu        sync.Mutex
	items     map[string]Item
	collected map[string]time.Time
	upsertErr error
}

var _ Store = (*memCollectorStore)(nil)

func newMemCollectorStore() *memCollectorStore {
	return &memCollectorStore{
		items:     make(map[string]Item),
		collected: make(map[string]time.Time),
	}
}

func (s *memCollectorStore) UpsertItems(_ context.Context, targetID string, items []Item) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upsertErr != nil {
		return nil, s.upsertErr
	}

	out := make([]Item, len(items))

	for i, item := range items {
		key := targetID + "|" + item.Type + "|" + item.DedupKey(targetID)
		_, exists := s.items[key]
		item.IsNew = !exists
		s.items[key] = item
		out[i] = item
	}

	return out, nil
}

func (s *memCollectorStore) TouchTarget(_ context.Context, targetID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collected[targetID] = at

	return nil
}

func (s *memCollectorStore) LastCollections(_ context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.collected))
	for k, v := range s.collected {
		out[k] = v
	}

	return out, nil
}

// funcCollector adapts a function into a Collector.
type funcCollector struct {
	name    string
	collect func(ctx context.Context, target Target) ([]Item, error)
}

func (c *funcCollector) Name() string { return c.name }

func (c *funcCollector) Collect(ctx context.Context, target Target) ([]Item, error) {
	return c.collect(ctx, target)
}

func testOrchestratorRegistry(t *testing.T) *Registry {
	t.Helper()

	path := filepath.Join(t.TempDir(), "targets.json")
	require.NoError(t, os.WriteFile(path, []byte(testRegistryJSON), 0o600))

	registry, err := LoadRegistry(path)
	require.NoError(t, err)

	return registry
}

func TestOrchestrator_Run(t *testing.T) {
	registry := testOrchestratorRegistry(t)
	store := newMemCollectorStore()

	team := &funcCollector{name: "website_team", collect: func(_ context.Context, target Target) ([]Item, error) {
		return []Item{
			{Type: ItemContact, Data: map[string]string{"name": "Jane Smith"}, Confidence: ConfidenceHigh},
		}, nil
	}}
	news := &funcCollector{name: "website_news", collect: func(_ context.Context, target Target) ([]Item, error) {
		return []Item{
			{Type: ItemContact, Data: map[string]string{"name": "jane smith", "title": "CIO"}, Confidence: ConfidenceLow},
		}, nil
	}}

	orchestrator := NewOrchestrator(registry, []Collector{team, news}, store,
		slog.New(slog.DiscardHandler))

	result, tracker, err := orchestrator.Run(context.Background(), Filter{})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Targets)
	assert.Equal(t, 3, result.Succeeded)
	assert.Zero(t, result.Failed)

	// Both sources found the same contact; dedup persists one per target.
	assert.Equal(t, 3, result.Items)
	assert.Equal(t, 3, result.NewItems)

	p := tracker.Snapshot()
	assert.Equal(t, 3, p.Completed)
	assert.Equal(t, 3, p.Succeeded)

	for _, collectedAt := range store.collected {
		assert.WithinDuration(t, time.Now().UTC(), collectedAt, time.Minute)
	}
}

// TestOrchestrator_Run_RepeatIsNotNew re-runs collection over the same
// targets: items upsert onto their dedup keys, so nothing counts as new.
func TestOrchestrator_Run_RepeatIsNotNew(t *testing.T) {
	registry := testOrchestratorRegistry(t)
	store := newMemCollectorStore()

	c := &funcCollector{name: "website_team", collect: func(_ context.Context, target Target) ([]Item, error) {
		return []Item{
			{Type: ItemContact, Data: map[string]string{"name": "Jane Smith"}, Confidence: ConfidenceHigh},
		}, nil
	}}

	orchestrator := NewOrchestrator(registry, []Collector{c}, store, slog.New(slog.DiscardHandler))

	first, _, err := orchestrator.Run(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, first.NewItems)

	second, _, err := orchestrator.Run(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, second.Items)
	assert.Zero(t, second.NewItems)
}

func TestOrchestrator_Run_OneSourceFailing(t *testing.T) {
	registry := testOrchestratorRegistry(t)
	store := newMemCollectorStore()

	broken := &funcCollector{name: "website_docs", collect: func(_ context.Context, _ Target) ([]Item, error) {
		return nil, errors.New("fetch failed")
	}}
	working := &funcCollector{name: "website_team", collect: func(_ context.Context, _ Target) ([]Item, error) {
		return []Item{{Type: ItemContact, Data: map[string]string{"name": "Jane"}, Confidence: ConfidenceHigh}}, nil
	}}

	orchestrator := NewOrchestrator(registry, []Collector{broken, working}, store,
		slog.New(slog.DiscardHandler))

	result, _, err := orchestrator.Run(context.Background(), Filter{})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Succeeded, "one failing source does not fail the target")
	assert.Equal(t, 3, result.Items)
}

func TestOrchestrator_Run_AllSourcesFailing(t *testing.T) {
	registry := testOrchestratorRegistry(t)
	store := newMemCollectorStore()

	broken := &funcCollector{name: "website_team", collect: func(_ context.Context, _ Target) ([]Item, error) {
		return nil, errors.New("unreachable")
	}}

	orchestrator := NewOrchestrator(registry, []Collector{broken}, store,
		slog.New(slog.DiscardHandler))

	result, _, err := orchestrator.Run(context.Background(), Filter{})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Failed)
	assert.Zero(t, result.Succeeded)
	assert.Empty(t, store.collected, "failed targets do not get their collection time touched")
}

func TestOrchestrator_Run_PersistFailure(t *testing.T) {
	registry := testOrchestratorRegistry(t)
	store := newMemCollectorStore()
	store.upsertErr = errors.New("connection reset")

	c := &funcCollector{name: "website_team", collect: func(_ context.Context, _ Target) ([]Item, error) {
		return []Item{{Type: ItemContact, Data: map[string]string{"name": "Jane"}, Confidence: ConfidenceHigh}}, nil
	}}

	orchestrator := NewOrchestrator(registry, []Collector{c}, store, slog.New(slog.DiscardHandler))

	result, _, err := orchestrator.Run(context.Background(), Filter{})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Failed)
}

func TestOrchestrator_Run_ProgressCallback(t *testing.T) {
	registry := testOrchestratorRegistry(t)
	store := newMemCollectorStore()

	c := &funcCollector{name: "website_team", collect: func(_ context.Context, _ Target) ([]Item, error) {
		return nil, errors.New("down")
	}}

	var (
		mu        sync.Mutex
		snapshots []Progress
	)

	orchestrator := NewOrchestrator(registry, []Collector{c}, store,
		slog.New(slog.DiscardHandler),
		WithProgress(func(p Progress) {
			mu.Lock()
			defer mu.Unlock()

			snapshots = append(snapshots, p)
		}),
	)

	_, _, err := orchestrator.Run(context.Background(), Filter{})

	require.NoError(t, err)
	require.Len(t, snapshots, 3, "the callback fires once per completed target")

	final := snapshots[len(snapshots)-1]
	assert.Equal(t, 3, final.Total)
}

func TestOrchestrator_Run_StaleFilterSkipsFresh(t *testing.T) {
	registry := testOrchestratorRegistry(t)
	store := newMemCollectorStore()

	// Everything was just collected.
	for _, id := range []string{"lp-1", "lp-2", "fo-1"} {
		require.NoError(t, store.TouchTarget(context.Background(), id, time.Now().UTC()))
	}

	var collectedAny sync.Map

	c := &funcCollector{name: "website_team", collect: func(_ context.Context, target Target) ([]Item, error) {
		collectedAny.Store(target.ID, true)

		return nil, nil
	}}

	orchestrator := NewOrchestrator(registry, []Collector{c}, store, slog.New(slog.DiscardHandler))

	result, _, err := orchestrator.Run(context.Background(), Filter{StaleDays: 7})

	require.NoError(t, err)
	assert.Zero(t, result.Targets)

	collectedAny.Range(func(key, _ any) bool {
		t.Errorf("target %v should not have been collected", key)

		return true
	})
}
