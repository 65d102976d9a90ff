// Package store keeps the kv data, trips and cached routing legs in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // sqlite driver (pure Go)
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trips (
	user_id    TEXT NOT NULL,
	id         TEXT NOT NULL,
	date       TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS trips_by_date ON trips (user_id, date);

CREATE TABLE IF NOT EXISTS route_legs (
	key              TEXT PRIMARY KEY,
	distance_meters  REAL NOT NULL,
	duration_seconds REAL NOT NULL,
	created_at       INTEGER NOT NULL
);
`

// DB is the application database
type DB struct {
	sql *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. Foreign keys and a busy timeout are enabled on every connection.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	db := &DB{sql: conn, now: time.Now}
	if err := db.Init(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Init creates missing tables
func (db *DB) Init(ctx context.Context) error {
	if _, err := db.sql.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.sql.Close()
}

// SetClock overrides the time source used for expiry
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// KV returns the key-value view
func (db *DB) KV() *KV {
	return &KV{db: db}
}

// Trips returns the trip view
func (db *DB) Trips() *Trips {
	return &Trips{db: db}
}

// Legs returns the routing leg cache view
func (db *DB) Legs() *Legs {
	return &Legs{db: db}
}
