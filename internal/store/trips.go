package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldops/hnsync/internal/trips"
	"github.com/fieldops/hnsync/pkg/models"
)

// Trips implements trips.Store on the trips table
type Trips struct {
	db *DB
}

var _ trips.Store = (*Trips)(nil)

// List returns a user's trips ordered by date
func (s *Trips) List(ctx context.Context, userID string) ([]*models.Trip, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT body FROM trips WHERE user_id = ? ORDER BY date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var out []*models.Trip
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trip, err := decodeTrip(body)
		if err != nil {
			return nil, err
		}
		out = append(out, trip)
	}
	return out, rows.Err()
}

// Get implements trips.Store
func (s *Trips) Get(ctx context.Context, userID, tripID string) (*models.Trip, error) {
	var body string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT body FROM trips WHERE user_id = ? AND id = ?`, userID, tripID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trip %s: %w", tripID, err)
	}
	return decodeTrip(body)
}

// Put implements trips.Store
func (s *Trips) Put(ctx context.Context, trip *models.Trip) error {
	body, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("encode trip: %w", err)
	}
	_, err = s.db.sql.ExecContext(ctx, `
		INSERT INTO trips (user_id, id, date, updated_at, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			date = excluded.date, updated_at = excluded.updated_at, body = excluded.body`,
		trip.UserID, trip.ID, trip.Date, trip.UpdatedAt.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("put trip %s: %w", trip.ID, err)
	}
	return nil
}

// Delete implements trips.Store
func (s *Trips) Delete(ctx context.Context, userID, tripID string) error {
	if _, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM trips WHERE user_id = ? AND id = ?`, userID, tripID); err != nil {
		return fmt.Errorf("delete trip %s: %w", tripID, err)
	}
	return nil
}

func decodeTrip(body string) (*models.Trip, error) {
	var trip models.Trip
	if err := json.Unmarshal([]byte(body), &trip); err != nil {
		return nil, fmt.Errorf("decode trip: %w", err)
	}
	return &trip, nil
}
