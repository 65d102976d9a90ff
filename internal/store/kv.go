package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldops/hnsync/internal/kv"
)

// KV implements kv.Store on the kv table
type KV struct {
	db *DB
}

var _ kv.Store = (*KV)(nil)

// Get implements kv.Store. Expired rows are removed on read.
func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, kv.ErrEmptyKey
	}

	var value string
	var expiresAt int64
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}

	if expiresAt > 0 && s.db.now().UnixNano() >= expiresAt {
		if _, err := s.db.sql.ExecContext(ctx, `DELETE FROM kv WHERE key = ? AND expires_at = ?`, key, expiresAt); err != nil {
			return "", false, fmt.Errorf("expire %s: %w", key, err)
		}
		return "", false, nil
	}
	return value, true, nil
}

// Put implements kv.Store
func (s *KV) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return kv.ErrEmptyKey
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.db.now().Add(ttl).UnixNano()
	}
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete implements kv.Store
func (s *KV) Delete(ctx context.Context, key string) error {
	if key == "" {
		return kv.ErrEmptyKey
	}
	if _, err := s.db.sql.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
