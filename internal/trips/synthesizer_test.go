package trips

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/routing"
	"github.com/fieldops/hnsync/pkg/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tenMileRouter answers every leg with ten miles and thirty minutes
func tenMileRouter(calls *atomic.Int32) routing.Router {
	return routing.RouterFunc(func(context.Context, string, string) (*models.Leg, error) {
		if calls != nil {
			calls.Add(1)
		}
		return &models.Leg{DistanceMeters: 10 * MetersPerMile, DurationSeconds: 1800}, nil
	})
}

func order(id, addr, at string) *models.Order {
	o := models.NewStub(id)
	_ = o.Promote(models.ParsedOrder{
		Address:             addr,
		City:                "Eugene",
		State:               "OR",
		Zip:                 "97401",
		ConfirmScheduleDate: "12/10/2025",
		BeginTime:           at,
		Type:                models.JobRepair,
		JobDuration:         60,
	}, time.Unix(0, 0))
	return o
}

func settings() models.TripSettings {
	return models.TripSettings{
		Routing: models.RoutingConfig{StartAddress: "1 Depot Rd, Eugene, OR 97402"},
		Cost: models.CostConfig{
			MPG: 20, GasPrice: 4,
			InstallPay: 100, RepairPay: 60, UpgradePay: 80,
			PoleCharge: 25, PoleCost: 10, ConcreteCost: 5,
		},
	}
}

func TestBuild_TwoOrderDay(t *testing.T) {
	var calls atomic.Int32
	s := New(NewMemoryStore())

	late := order("2", "20 Pine St", "10:30")
	early := order("1", "10 Oak St", "08:00")

	trip, err := s.Build(context.Background(), tenMileRouter(&calls), "u1", "2025-12-10", []*models.Order{late, early}, settings())
	require.NoError(t, err)

	require.Len(t, trip.Stops, 2)
	assert.Equal(t, 0, trip.Stops[0].Order)
	assert.Equal(t, "1", trip.Stops[0].OrderID)
	assert.Equal(t, "10 Oak St, Eugene, OR 97401", trip.Stops[0].Address)
	assert.Equal(t, 1, trip.Stops[1].Order)

	// commute of thirty minutes before the 08:00 appointment
	assert.Equal(t, "07:30", trip.StartTime)
	assert.Less(t, trip.StartTime, "08:00")

	// three legs, the commute counted once
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 30.0, trip.TotalMiles)
	assert.Equal(t, 6.0, trip.FuelCost)
	assert.Equal(t, 90+120, trip.EstimatedTime)
	assert.Equal(t, "3h 30m", trip.TotalTime)
	assert.Equal(t, 3.5, trip.HoursWorked)
	assert.Equal(t, "11:00", trip.EndTime)
	assert.Equal(t, ID("u1", "2025-12-10"), trip.ID)
	assert.Equal(t, trip.StartAddress, trip.EndAddress)
}

func TestBuild_Deterministic(t *testing.T) {
	s := New(NewMemoryStore())
	orders := []*models.Order{order("b", "2 B St", "09:00"), order("a", "1 A St", "09:00"), order("c", "3 C St", "")}

	first, err := s.Build(context.Background(), tenMileRouter(nil), "u1", "2025-12-10", orders, settings())
	require.NoError(t, err)
	second, err := s.Build(context.Background(), tenMileRouter(nil), "u1", "2025-12-10", orders, settings())
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Build() not deterministic (-first +second):\n%s", diff)
	}
	ids := []string{}
	for _, stop := range first.Stops {
		ids = append(ids, stop.OrderID)
	}
	// equal times break ties by id, unknown times go last
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestBuild_PoleMountEarnings(t *testing.T) {
	s := New(NewMemoryStore())
	o := order("1", "1 A St", "08:00")
	o.HasPoleMount = true

	trip, err := s.Build(context.Background(), tenMileRouter(nil), "u1", "2025-12-10", []*models.Order{o}, settings())
	require.NoError(t, err)

	assert.Equal(t, 125.0, trip.Stops[0].Earnings)
	assert.Equal(t, []models.SupplyItem{{Type: "Pole", Cost: 10}, {Type: "Concrete", Cost: 5}}, trip.SupplyItems)
	assert.Equal(t, 15.0, trip.SuppliesCost)
}

func TestBuild_DepartureIncompleteEarnsNothing(t *testing.T) {
	s := New(NewMemoryStore())
	o := order("1", "1 A St", "08:00")
	o.Type = models.JobInstall
	o.DepartureIncomplete = true

	trip, err := s.Build(context.Background(), tenMileRouter(nil), "u1", "2025-12-10", []*models.Order{o}, settings())
	require.NoError(t, err)

	assert.Equal(t, 0.0, trip.Stops[0].Earnings)
	assert.Equal(t, NoteDepartureIncomplete, trip.Stops[0].Notes)
}

func TestBuild_NoDefaultStartUsesFirstStop(t *testing.T) {
	var calls atomic.Int32
	s := New(NewMemoryStore())
	cfg := settings()
	cfg.Routing = models.RoutingConfig{EndAddress: "ignored"}

	trip, err := s.Build(context.Background(), tenMileRouter(&calls), "u1", "2025-12-10",
		[]*models.Order{order("1", "1 A St", "08:00"), order("2", "2 B St", "09:00")}, cfg)
	require.NoError(t, err)

	assert.Equal(t, "1 A St, Eugene, OR 97401", trip.StartAddress)
	assert.Equal(t, trip.StartAddress, trip.EndAddress)
	// start -> first stop is free, so only two lookups and no commute
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "08:00", trip.StartTime)
}

func TestBuild_LegOutcomes(t *testing.T) {
	s := New(NewMemoryStore())
	orders := []*models.Order{order("1", "1 A St", "08:00")}

	unknown := routing.RouterFunc(func(context.Context, string, string) (*models.Leg, error) { return nil, nil })
	trip, err := s.Build(context.Background(), unknown, "u1", "2025-12-10", orders, settings())
	require.NoError(t, err)
	assert.Equal(t, 0.0, trip.TotalMiles)

	failing := routing.RouterFunc(func(context.Context, string, string) (*models.Leg, error) {
		return nil, errors.New("boom")
	})
	_, err = s.Build(context.Background(), failing, "u1", "2025-12-10", orders, settings())
	assert.ErrorIs(t, err, routing.ErrLegFailed)

	spent := routing.RouterFunc(func(context.Context, string, string) (*models.Leg, error) {
		return nil, fetch.ErrRequestLimitExceeded
	})
	_, err = s.Build(context.Background(), spent, "u1", "2025-12-10", orders, settings())
	assert.ErrorIs(t, err, fetch.ErrRequestLimitExceeded)
}

func TestSave_RespectsUserEdits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New(store)
	now := time.Date(2025, 12, 10, 20, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	trip, written, err := s.Synthesize(ctx, tenMileRouter(nil), "u1", "2025-12-10", []*models.Order{order("1", "1 A St", "08:00")}, settings())
	require.NoError(t, err)
	require.True(t, written)

	stored, err := store.Get(ctx, "u1", trip.ID)
	require.NoError(t, err)
	assert.Equal(t, now, stored.SyncedAt)

	needs, err := s.NeedsTrip(ctx, "u1", "2025-12-10", 1)
	require.NoError(t, err)
	assert.False(t, needs)
	needs, err = s.NeedsTrip(ctx, "u1", "2025-12-10", 2)
	require.NoError(t, err)
	assert.True(t, needs)

	// A later manual edit is never overwritten
	stored.UpdatedAt = now.Add(time.Hour)
	stored.Stops[0].Notes = "customer rescheduled"
	require.NoError(t, store.Put(ctx, stored))

	now = now.Add(2 * time.Hour)
	written, err = s.Save(ctx, trip)
	require.NoError(t, err)
	assert.False(t, written)

	needs, err = s.NeedsTrip(ctx, "u1", "2025-12-10", 2)
	require.NoError(t, err)
	assert.False(t, needs)

	kept, err := store.Get(ctx, "u1", trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "customer rescheduled", kept.Stops[0].Notes)
}

func TestClock(t *testing.T) {
	cases := map[string]int{"08:00": 480, "8:00": 480, "10:30 AM": 630, "1:15PM": 795, "2:00 p.m.": 840, "08:00 - 10:00": 480}
	for raw, want := range cases {
		got, ok := ParseClock(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := ParseClock("TBD")
	assert.False(t, ok)

	assert.Equal(t, "00:30", FormatClock(24*60+30))
	assert.Equal(t, "2h 5m", FormatDuration(125))
}

func TestID_Stable(t *testing.T) {
	assert.Equal(t, ID("u1", "2025-12-10"), ID("u1", "2025-12-10"))
	assert.NotEqual(t, ID("u1", "2025-12-10"), ID("u2", "2025-12-10"))
	assert.NotEqual(t, ID("u1", "2025-12-10"), ID("u1", "2025-12-11"))
}
