package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldops/hnsync/internal/cache"
	"github.com/fieldops/hnsync/pkg/models"
)

// Legs implements cache.LegCache on the route_legs table
type Legs struct {
	db *DB
}

var _ cache.LegCache = (*Legs)(nil)

// Get implements cache.LegCache
func (s *Legs) Get(ctx context.Context, key string) (*models.Leg, bool, error) {
	var leg models.Leg
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT distance_meters, duration_seconds FROM route_legs WHERE key = ?`, key).
		Scan(&leg.DistanceMeters, &leg.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get leg: %w", err)
	}
	return &leg, true, nil
}

// Set implements cache.LegCache
func (s *Legs) Set(ctx context.Context, key string, leg models.Leg) error {
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO route_legs (key, distance_meters, duration_seconds, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			distance_meters = excluded.distance_meters, duration_seconds = excluded.duration_seconds`,
		key, leg.DistanceMeters, leg.DurationSeconds, s.db.now().UnixNano())
	if err != nil {
		return fmt.Errorf("set leg: %w", err)
	}
	return nil
}

// Count returns the number of cached legs
func (s *Legs) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM route_legs`).Scan(&n)
	return n, err
}
