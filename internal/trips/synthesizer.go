// Package trips turns a day's orders into a routed trip with earnings and costs.
package trips

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/routing"
	"github.com/fieldops/hnsync/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MetersPerMile converts routing distances
const MetersPerMile = 1609.344

// Supply item types
const (
	SupplyPole     = "Pole"
	SupplyConcrete = "Concrete"
)

// Stop notes
const (
	NoteDepartureIncomplete = "Departure incomplete: not paid"
	NotePoleMount           = "Pole mount"
)

// tripNamespace scopes deterministic trip ids
var tripNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://hnsync.fieldops.dev/trips"))

// ID derives the trip id for a user and day
func ID(userID, date string) string {
	return uuid.NewSHA1(tripNamespace, []byte(userID+"\x00"+date)).String()
}

// Synthesizer builds and saves trips
type Synthesizer struct {
	store Store
	now   func() time.Time
}

// New creates a synthesizer writing to store
func New(store Store) *Synthesizer {
	return &Synthesizer{store: store, now: time.Now}
}

// SetClock overrides the time source for written timestamps
func (s *Synthesizer) SetClock(now func() time.Time) {
	s.now = now
}

// Store returns the trip store
func (s *Synthesizer) Store() Store {
	return s.store
}

// Build computes the trip for one day. It uses one routing lookup per leg,
// the first of which is the commute. A lookup error aborts the day so a
// partly routed trip is never produced; a leg without a route counts as zero.
func (s *Synthesizer) Build(ctx context.Context, router routing.Router, userID, date string, orders []*models.Order, settings models.TripSettings) (*models.Trip, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("no orders for %s", date)
	}

	sorted := SortOrders(orders)
	startAddr, endAddr := endpoints(sorted[0], settings.Routing)

	addresses := make([]string, 0, len(sorted)+2)
	addresses = append(addresses, startAddr)
	for _, o := range sorted {
		addresses = append(addresses, o.FullAddress())
	}
	addresses = append(addresses, endAddr)

	var meters, seconds, commuteSeconds float64
	for i := 0; i+1 < len(addresses); i++ {
		if routing.SamePlace(addresses[i], addresses[i+1]) {
			continue
		}
		leg, err := router.Route(ctx, addresses[i], addresses[i+1])
		if err != nil {
			if errors.Is(err, fetch.ErrRequestLimitExceeded) {
				return nil, err
			}
			if !errors.Is(err, routing.ErrLegFailed) {
				err = fmt.Errorf("%w: %v", routing.ErrLegFailed, err)
			}
			return nil, err
		}
		if leg == nil {
			log.Warn().
				Str("date", date).
				Str("origin", addresses[i]).
				Str("destination", addresses[i+1]).
				Msg("No route for leg, counting it as zero")
			continue
		}
		meters += leg.DistanceMeters
		seconds += leg.DurationSeconds
		if i == 0 {
			commuteSeconds = leg.DurationSeconds
		}
	}

	start := DefaultDayStart
	if first, ok := ParseClock(sorted[0].BeginTime); ok {
		start = first - int(math.Round(commuteSeconds/60))
		if start < 0 {
			start = 0
		}
	}

	trip := &models.Trip{
		ID:           ID(userID, date),
		UserID:       userID,
		Date:         date,
		StartAddress: startAddr,
		EndAddress:   endAddr,
		MPG:          settings.Cost.MPG,
		GasPrice:     settings.Cost.GasPrice,
		SupplyItems:  []models.SupplyItem{},
	}

	supplies := map[string]float64{}
	jobMinutes := 0
	for i, o := range sorted {
		stop := stopFor(o, i, settings.Cost, supplies)
		jobMinutes += stop.Duration
		trip.Stops = append(trip.Stops, stop)
	}
	for _, kind := range []string{SupplyPole, SupplyConcrete} {
		if cost, ok := supplies[kind]; ok {
			trip.SupplyItems = append(trip.SupplyItems, models.SupplyItem{Type: kind, Cost: round2(cost)})
			trip.SuppliesCost += cost
		}
	}
	trip.SuppliesCost = round2(trip.SuppliesCost)

	driveMinutes := int(math.Round(seconds / 60))
	trip.TotalMiles = round2(meters / MetersPerMile)
	if settings.Cost.MPG > 0 {
		trip.FuelCost = round2(trip.TotalMiles / settings.Cost.MPG * settings.Cost.GasPrice)
	}
	trip.EstimatedTime = driveMinutes + jobMinutes
	trip.TotalTime = FormatDuration(trip.EstimatedTime)
	trip.HoursWorked = round2(float64(trip.EstimatedTime) / 60)
	trip.StartTime = FormatClock(start)
	trip.EndTime = FormatClock(start + trip.EstimatedTime)

	return trip, nil
}

// stopFor prices one order. Departure-incomplete jobs earn nothing; pole
// mounts earn the install rate plus the pole charge and add their supplies.
func stopFor(o *models.Order, index int, cost models.CostConfig, supplies map[string]float64) models.Stop {
	jobType := o.Type
	if jobType == "" {
		jobType = models.JobRepair
	}
	duration := o.JobDuration
	if duration <= 0 {
		duration = jobType.DefaultDuration()
	}

	stop := models.Stop{
		Address:         o.FullAddress(),
		Order:           index,
		AppointmentTime: o.BeginTime,
		Type:            jobType,
		Duration:        duration,
		OrderID:         o.ID,
	}

	switch {
	case o.DepartureIncomplete:
		stop.Earnings = 0
		stop.Notes = NoteDepartureIncomplete
	case o.HasPoleMount:
		stop.Earnings = cost.InstallPay + cost.PoleCharge
		stop.Notes = NotePoleMount
		supplies[SupplyPole] += cost.PoleCost
		supplies[SupplyConcrete] += cost.ConcreteCost
	default:
		stop.Earnings = cost.PayFor(jobType)
	}
	stop.Earnings = round2(stop.Earnings)
	return stop
}

// endpoints picks the day's start and end. Without a configured start the
// first stop is used for both ends.
func endpoints(first *models.Order, cfg models.RoutingConfig) (string, string) {
	start := routing.Normalize(cfg.StartAddress)
	end := routing.Normalize(cfg.EndAddress)
	if start == "" {
		addr := first.FullAddress()
		return addr, addr
	}
	if end == "" {
		end = start
	}
	return start, end
}

// SortOrders orders by appointment time. Orders without a readable time go
// last; ties keep id order.
func SortOrders(orders []*models.Order) []*models.Order {
	sorted := append([]*models.Order(nil), orders...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, okI := ParseClock(sorted[i].BeginTime)
		tj, okJ := ParseClock(sorted[j].BeginTime)
		if okI != okJ {
			return okI
		}
		if okI && ti != tj {
			return ti < tj
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// NeedsTrip reports whether the day's trip has to be (re)computed: it is
// missing, was never routed, or no longer matches the number of orders.
// Trips edited by the user are left alone.
func (s *Synthesizer) NeedsTrip(ctx context.Context, userID, date string, orderCount int) (bool, error) {
	existing, err := s.store.Get(ctx, userID, ID(userID, date))
	if err != nil {
		return false, fmt.Errorf("load trip %s: %w", date, err)
	}
	if existing == nil {
		return true, nil
	}
	if existing.EditedByUser() {
		return false, nil
	}
	return existing.TotalMiles <= 0 || len(existing.Stops) != orderCount, nil
}

// Save writes the trip unless the stored copy was edited after the last
// sync. It reports whether the trip was written.
func (s *Synthesizer) Save(ctx context.Context, trip *models.Trip) (bool, error) {
	existing, err := s.store.Get(ctx, trip.UserID, trip.ID)
	if err != nil {
		return false, fmt.Errorf("load trip %s: %w", trip.Date, err)
	}

	now := s.now().UTC()
	if existing != nil {
		if existing.EditedByUser() {
			log.Info().
				Str("date", trip.Date).
				Time("updated_at", existing.UpdatedAt).
				Time("synced_at", existing.SyncedAt).
				Msg("Trip edited by user, not overwriting")
			return false, nil
		}
		trip.CreatedAt = existing.CreatedAt
	}
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = now
	}
	trip.UpdatedAt = now
	trip.SyncedAt = now

	if err := s.store.Put(ctx, trip); err != nil {
		return false, fmt.Errorf("save trip %s: %w", trip.Date, err)
	}
	return true, nil
}

// Synthesize builds and saves one day's trip
func (s *Synthesizer) Synthesize(ctx context.Context, router routing.Router, userID, date string, orders []*models.Order, settings models.TripSettings) (*models.Trip, bool, error) {
	trip, err := s.Build(ctx, router, userID, date, orders, settings)
	if err != nil {
		return nil, false, err
	}
	written, err := s.Save(ctx, trip)
	if err != nil {
		return trip, false, err
	}

	log.Info().
		Str("date", date).
		Int("stops", len(trip.Stops)).
		Float64("miles", trip.TotalMiles).
		Str("start", trip.StartTime).
		Bool("written", written).
		Msg("Trip synthesized")
	return trip, written, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Earnings sums stop earnings
func Earnings(t *models.Trip) float64 {
	total := 0.0
	for _, s := range t.Stops {
		total += s.Earnings
	}
	return round2(total)
}

// Summary is a one-line description used by the CLI
func Summary(t *models.Trip) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s-%s  %d stops  %.1f mi  $%.2f earned  $%.2f fuel",
		t.Date, t.StartTime, t.EndTime, len(t.Stops), t.TotalMiles, Earnings(t), t.FuelCost)
	if t.SuppliesCost > 0 {
		fmt.Fprintf(&b, "  $%.2f supplies", t.SuppliesCost)
	}
	return b.String()
}
