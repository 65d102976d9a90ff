package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldops/hnsync/internal/kv"
	"github.com/fieldops/hnsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "hnsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestKV_PutGetExpire(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Date(2025, 12, 10, 8, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })
	store := db.KV()

	require.NoError(t, store.Put(ctx, kv.OrderDBKey("u1"), `{"1":{}}`, 0))
	require.NoError(t, store.Put(ctx, kv.SessionKey("u1"), "JSESSIONID=a", time.Hour))
	require.NoError(t, store.Put(ctx, kv.SessionKey("u1"), "JSESSIONID=b", time.Hour))

	v, ok, err := store.Get(ctx, kv.SessionKey("u1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "JSESSIONID=b", v)

	now = now.Add(2 * time.Hour)
	_, ok, err = store.Get(ctx, kv.SessionKey("u1"))
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = store.Get(ctx, kv.OrderDBKey("u1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"1":{}}`, v)

	require.NoError(t, store.Delete(ctx, kv.OrderDBKey("u1")))
	require.NoError(t, store.Delete(ctx, "missing"))
	_, ok, err = store.Get(ctx, kv.OrderDBKey("u1"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, store.Put(ctx, "", "x", 0), kv.ErrEmptyKey)
}

func TestTrips_CRUD(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Trips()

	missing, err := store.Get(ctx, "u1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	later := &models.Trip{ID: "t2", UserID: "u1", Date: "2025-12-11", TotalMiles: 3}
	earlier := &models.Trip{
		ID: "t1", UserID: "u1", Date: "2025-12-10", TotalMiles: 12.5,
		Stops:     []models.Stop{{Address: "1 A St", Order: 0, Earnings: 60}},
		UpdatedAt: time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Put(ctx, later))
	require.NoError(t, store.Put(ctx, earlier))
	require.NoError(t, store.Put(ctx, &models.Trip{ID: "x", UserID: "u2", Date: "2025-12-10"}))

	list, err := store.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].ID)
	assert.Equal(t, 60.0, list[0].Stops[0].Earnings)
	assert.True(t, earlier.UpdatedAt.Equal(list[0].UpdatedAt))

	earlier.TotalMiles = 20
	require.NoError(t, store.Put(ctx, earlier))
	got, err := store.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.TotalMiles)

	require.NoError(t, store.Delete(ctx, "u1", "t1"))
	list, err = store.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLegs(t *testing.T) {
	ctx := context.Background()
	legs := openTestDB(t).Legs()

	_, ok, err := legs.Get(ctx, "a|b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, legs.Set(ctx, "a|b", models.Leg{DistanceMeters: 100, DurationSeconds: 10}))
	require.NoError(t, legs.Set(ctx, "a|b", models.Leg{DistanceMeters: 200, DurationSeconds: 20}))

	leg, ok, err := legs.Get(ctx, "a|b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.Leg{DistanceMeters: 200, DurationSeconds: 20}, *leg)

	n, err := legs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
