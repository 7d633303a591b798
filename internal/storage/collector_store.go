package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ingestor-io/ingestor/internal/collector"
)

// Sentinel errors for collected-item storage.
var (
	// ErrCollectorStoreFailed is returned when a collection storage operation fails.
	ErrCollectorStoreFailed = errors.New("collector storage failed")

	// CollectorStore implements collector.Store.
	_ collector.Store = (*CollectorStore)(nil)
)

// CollectorStore persists collected items and per-target collection
// timestamps. Items upsert on (target_id, item_type, dedup_key); the target
// registry itself stays in its JSON file and is never written here.
type CollectorStore struct {
	conn *Connection
}

// NewCollectorStore creates a PostgreSQL-backed collector store.
func NewCollectorStore(conn *Connection) (*CollectorStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &CollectorStore{conn: conn}, nil
}

// UpsertItems implements collector.Store. IsNew is derived from the upsert:
// xmax = 0 on the returned row means the row was inserted, not updated.
func (s *CollectorStore) UpsertItems(ctx context.Context, targetID string, items []collector.Item) ([]collector.Item, error) {
	query := `
		INSERT INTO collected_items (
			target_id, item_type, dedup_key, data, source_url, confidence,
			additional_sources, first_seen_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (target_id, item_type, dedup_key) DO UPDATE SET
			data = EXCLUDED.data,
			source_url = EXCLUDED.source_url,
			confidence = EXCLUDED.confidence,
			additional_sources = EXCLUDED.additional_sources,
			last_seen_at = NOW()
		RETURNING (xmax = 0) AS is_new
	`

	persisted := make([]collector.Item, 0, len(items))

	for _, item := range items {
		data, err := json.Marshal(item.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal item data: %w", ErrCollectorStoreFailed, err)
		}

		sources, err := json.Marshal(item.AdditionalSources)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal additional sources: %w", ErrCollectorStoreFailed, err)
		}

		var isNew bool

		err = s.conn.QueryRowContext(ctx, query,
			targetID, item.Type, item.DedupKey(targetID), data,
			item.SourceURL, string(item.Confidence), sources,
		).Scan(&isNew)
		if err != nil {
			return nil, fmt.Errorf("%w: upsert %s item: %w", ErrCollectorStoreFailed, item.Type, err)
		}

		item.IsNew = isNew
		persisted = append(persisted, item)
	}

	return persisted, nil
}

// TouchTarget implements collector.Store.
func (s *CollectorStore) TouchTarget(ctx context.Context, targetID string, at time.Time) error {
	query := `
		INSERT INTO collection_targets (target_id, last_collection_at)
		VALUES ($1, $2)
		ON CONFLICT (target_id) DO UPDATE SET last_collection_at = EXCLUDED.last_collection_at
	`

	if _, err := s.conn.ExecContext(ctx, query, targetID, at); err != nil {
		return fmt.Errorf("%w: touch target %s: %w", ErrCollectorStoreFailed, targetID, err)
	}

	return nil
}

// LastCollections implements collector.Store.
func (s *CollectorStore) LastCollections(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT target_id, last_collection_at FROM collection_targets`)
	if err != nil {
		return nil, fmt.Errorf("%w: query collection times: %w", ErrCollectorStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	collected := make(map[string]time.Time)

	for rows.Next() {
		var (
			targetID string
			at       time.Time
		)

		if err := rows.Scan(&targetID, &at); err != nil {
			return nil, fmt.Errorf("%w: scan collection time: %w", ErrCollectorStoreFailed, err)
		}

		collected[targetID] = at
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate collection times: %w", ErrCollectorStoreFailed, err)
	}

	return collected, nil
}

// ItemsByType returns persisted items of one type for a target, newest first.
func (s *CollectorStore) ItemsByType(ctx context.Context, targetID, itemType string, limit int) ([]collector.Item, error) {
	query := `
		SELECT item_type, data, source_url, confidence, additional_sources
		FROM collected_items
		WHERE target_id = $1 AND item_type = $2
		ORDER BY last_seen_at DESC
		LIMIT $3
	`

	rows, err := s.conn.QueryContext(ctx, query, targetID, itemType, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query items: %w", ErrCollectorStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var items []collector.Item

	for rows.Next() {
		var (
			item       collector.Item
			confidence string
			data       []byte
			sources    []byte
		)

		if err := rows.Scan(&item.Type, &data, &item.SourceURL, &confidence, &sources); err != nil {
			return nil, fmt.Errorf("%w: scan item: %w", ErrCollectorStoreFailed, err)
		}

		item.Confidence = collector.Confidence(confidence)

		if len(data) > 0 {
			if err := json.Unmarshal(data, &item.Data); err != nil {
				return nil, fmt.Errorf("%w: unmarshal item data: %w", ErrCollectorStoreFailed, err)
			}
		}

		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &item.AdditionalSources); err != nil {
				return nil, fmt.Errorf("%w: unmarshal additional sources: %w", ErrCollectorStoreFailed, err)
			}
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate items: %w", ErrCollectorStoreFailed, err)
	}

	return items, nil
}
