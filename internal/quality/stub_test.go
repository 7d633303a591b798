package quality

import (
	"context"
	"sync"
)

// memQualityStore is an in-memory Store for unit tests.
type memQualityStore struct {
	mu        sync.Mutex
	snapshots map[string][]*Snapshot
	rules     []*Rule
	results   []*Result
	alerts    []*Alert
	scores    []*Score
	saveErr   error
}

func newMemQualityStore() *memQualityStore {
	return &memQualityStore{snapshots: make(map[string][]*Snapshot)}
}

func (m *memQualityStore) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	// Newest first, matching the SQL store's ordering.
	m.snapshots[snapshot.TableName] = append([]*Snapshot{snapshot}, m.snapshots[snapshot.TableName]...)

	return nil
}

func (m *memQualityStore) RecentSnapshots(_ context.Context, tableName string, limit int) ([]*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshots := m.snapshots[tableName]
	if len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}

	return snapshots, nil
}

func (m *memQualityStore) SaveRule(_ context.Context, rule *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	m.rules = append(m.rules, rule)

	return nil
}

func (m *memQualityStore) ListRules(_ context.Context, tableName string, enabledOnly bool) ([]*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Rule

	for _, rule := range m.rules {
		if rule.TableName != tableName {
			continue
		}

		if enabledOnly && !rule.Enabled {
			continue
		}

		out = append(out, rule)
	}

	return out, nil
}

func (m *memQualityStore) SaveResult(_ context.Context, result *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results = append(m.results, result)

	return nil
}

func (m *memQualityStore) RecentResults(_ context.Context, tableName string, limit int) ([]*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Result

	for i := len(m.results) - 1; i >= 0 && len(out) < limit; i-- {
		if m.results[i].TableName == tableName {
			out = append(out, m.results[i])
		}
	}

	return out, nil
}

func (m *memQualityStore) SaveAlert(_ context.Context, alert *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	m.alerts = append(m.alerts, alert)

	return nil
}

func (m *memQualityStore) OpenAlerts(_ context.Context, tableName string) ([]*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Alert

	for _, alert := range m.alerts {
		if alert.Status != AlertOpen {
			continue
		}

		if tableName != "" && alert.TableName != tableName {
			continue
		}

		out = append(out, alert)
	}

	return out, nil
}

func (m *memQualityStore) SetAlertStatus(_ context.Context, id string, status AlertStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, alert := range m.alerts {
		if alert.ID == id {
			alert.Status = status
			return nil
		}
	}

	return ErrAlertNotFound
}

func (m *memQualityStore) SaveScore(_ context.Context, score *Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scores = append(m.scores, score)

	return nil
}

func (m *memQualityStore) RecentScores(_ context.Context, tableName string, limit int) ([]*Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Score

	for i := len(m.scores) - 1; i >= 0 && len(out) < limit; i-- {
		if m.scores[i].TableName == tableName {
			out = append(out, m.scores[i])
		}
	}

	return out, nil
}

func (m *memQualityStore) alertTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, len(m.alerts))
	for i, alert := range m.alerts {
		types[i] = alert.Type
	}

	return types
}

var _ Store = (*memQualityStore)(nil)
