package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WatermarkStore keeps high-water marks in a key/value table. Writes never
// move a stored mark backwards.
//
//	CREATE TABLE watermarks (
//	    key        TEXT PRIMARY KEY,
//	    value      BIGINT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type WatermarkStore struct {
	pool  Pool
	table string
}

// NewWatermarkStore wraps an existing pool.
func NewWatermarkStore(pool Pool, table string) (*WatermarkStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "watermarks")
	if err != nil {
		return nil, err
	}
	return &WatermarkStore{pool: pool, table: name}, nil
}

// Get returns the stored mark for key.
func (s *WatermarkStore) Get(ctx context.Context, key string) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table)
	var value int64
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select watermark: %w", err)
	}
	return value, true, nil
}

// Set upserts value, keeping the larger of the stored and new marks.
func (s *WatermarkStore) Set(ctx context.Context, key string, value int64) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET value = GREATEST(%[1]s.value, EXCLUDED.value),
    updated_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert watermark: %w", err)
	}
	return nil
}

// Reset deletes the stored mark so the next run falls back to the lookback window.
func (s *WatermarkStore) Reset(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete watermark: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *WatermarkStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
