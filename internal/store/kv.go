package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/coinsync/internal/model"
)

// ErrNotFound is returned when a cache key has no entry.
var ErrNotFound = errors.New("store: key not found")

// GetEntry retrieves a cache entry by key.
// Returns ErrNotFound if the key has never been written or was deleted.
func (s *Store) GetEntry(ctx context.Context, key string) (model.CacheEntry, error) {
	var (
		value     string
		writtenAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT value, written_at FROM kv_cache WHERE key = ?
	`, key).Scan(&value, &writtenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return model.CacheEntry{}, fmt.Errorf("get entry %q: %w", key, err)
	}

	return model.CacheEntry{
		Key:       key,
		Value:     json.RawMessage(value),
		WrittenAt: time.UnixMilli(writtenAt).UTC(),
	}, nil
}

// PutEntry creates or overwrites a cache entry.
// The value is re-encoded as canonical JSON; WrittenAt is stamped by the store.
func (s *Store) PutEntry(ctx context.Context, key string, value any) error {
	encoded, err := model.MarshalCanonical(value)
	if err != nil {
		return fmt.Errorf("put entry %q: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv_cache (key, value, written_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, written_at = excluded.written_at
	`, key, string(encoded), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put entry %q: %w", key, err)
	}
	return nil
}

// DeleteEntries removes the given keys. Missing keys are ignored.
func (s *Store) DeleteEntries(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM kv_cache WHERE key IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

// ListEntries returns every cache entry ordered by key.
func (s *Store) ListEntries(ctx context.Context) ([]model.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, written_at FROM kv_cache ORDER BY key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := []model.CacheEntry{}
	for rows.Next() {
		var (
			entry     model.CacheEntry
			value     string
			writtenAt int64
		)
		if err := rows.Scan(&entry.Key, &value, &writtenAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Value = json.RawMessage(value)
		entry.WrittenAt = time.UnixMilli(writtenAt).UTC()
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
