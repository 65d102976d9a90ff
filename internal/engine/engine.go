// Package engine runs the resumable sync pipeline: authenticate, harvest
// order ids, fetch order details and build trips, all under one request
// budget per run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fieldops/hnsync/internal/auth"
	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/harvest"
	"github.com/fieldops/hnsync/internal/kv"
	"github.com/fieldops/hnsync/internal/orders"
	"github.com/fieldops/hnsync/internal/routing"
	"github.com/fieldops/hnsync/internal/trips"
	"github.com/fieldops/hnsync/pkg/models"
)

// Defaults for Options
const (
	DefaultTripReserve   = 3
	DefaultDetailWorkers = 2
)

// Stage names reported to progress callbacks
const (
	StageAuth    = "auth"
	StageHarvest = "harvest"
	StageDetail  = "detail"
	StageTrips   = "trips"
)

// RouterFactory builds the routing lookup for one run. Lookups made through
// the fetcher are charged to the run's budget.
type RouterFactory func(f *fetch.Fetcher) routing.Router

// Options tunes a sync
type Options struct {
	RequestLimit int
	// TripReserve is the budget a day's trip needs left before it is attempted
	TripReserve   int
	DetailWorkers int
	Harvest       harvest.Options
	// LogWriter receives the run log in addition to the result buffer
	LogWriter io.Writer
}

// Deps are the collaborators a sync uses
type Deps struct {
	Client      *fetch.Client
	Auth        *auth.Manager
	Store       kv.Store
	Synthesizer *trips.Synthesizer
	Router      RouterFactory
}

// Request asks for one sync run
type Request struct {
	UserID   string
	Settings models.TripSettings
	SkipScan bool
	// Progress, when set, is called as stages advance
	Progress func(stage string, done, total int)
}

// Stats counts what a run did
type Stats struct {
	Harvested    int `json:"harvested"`
	NewOrders    int `json:"newOrders"`
	Pruned       int `json:"pruned"`
	Fetched      int `json:"fetched"`
	Failed       int `json:"failed"`
	Pending      int `json:"pending"`
	TripsWritten int `json:"tripsWritten"`
	TripsSkipped int `json:"tripsSkipped"`
	RequestsUsed int `json:"requestsUsed"`
	RequestLimit int `json:"requestLimit"`
}

// Result is what a run produced. Incomplete asks the caller to run again,
// usually with SkipScan.
type Result struct {
	RunID      string            `json:"runId"`
	Orders     []*models.Order   `json:"orders"`
	Trips      []*models.Trip    `json:"trips"`
	Incomplete bool              `json:"incomplete"`
	Stats      Stats             `json:"stats"`
	Removed    []string          `json:"removed,omitempty"`
	Dates      map[string]string `json:"dates,omitempty"`
	Duration   time.Duration     `json:"duration"`
	Log        []string          `json:"log"`
}

// Engine runs syncs
type Engine struct {
	deps  Deps
	opts  Options
	locks sync.Map
}

// New creates an engine
func New(deps Deps, opts Options) *Engine {
	if opts.RequestLimit <= 0 {
		opts.RequestLimit = fetch.DefaultRequestLimit
	}
	if opts.TripReserve <= 0 {
		opts.TripReserve = DefaultTripReserve
	}
	if opts.DetailWorkers <= 0 {
		opts.DetailWorkers = DefaultDetailWorkers
	}
	return &Engine{deps: deps, opts: opts}
}

// lock serializes runs for one user; they share the order database
func (e *Engine) lock(userID string) func() {
	m, _ := e.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Sync runs one bounded pass of the pipeline. On NO_PROGRESS the partial
// result is returned together with the error.
func (e *Engine) Sync(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, NewSyncError(ErrCodeInvalid, "user id is required", nil)
	}
	defer e.lock(req.UserID)()

	started := time.Now()
	f := e.deps.Client.NewFetcher(e.opts.RequestLimit)
	sc := newSyncContext(req.UserID, f, e.deps.Auth, e.opts.LogWriter)
	progress := req.Progress
	if progress == nil {
		progress = func(string, int, int) {}
	}

	result := &Result{RunID: sc.RunID, Dates: map[string]string{}}
	finish := func(db *orders.DB) *Result {
		if db != nil {
			result.Orders = db.List()
			result.Stats.Pending = len(db.Pending())
		}
		if list, err := e.deps.Synthesizer.Store().List(ctx, req.UserID); err == nil {
			result.Trips = list
		} else {
			sc.Log.Warn().Err(err).Msg("Could not list trips")
		}
		result.Stats.RequestsUsed = f.Budget().Used()
		result.Stats.RequestLimit = f.Budget().Limit()
		result.Duration = time.Since(started)

		sc.Log.Info().
			Bool("incomplete", result.Incomplete).
			Int("requests", result.Stats.RequestsUsed).
			Int("fetched", result.Stats.Fetched).
			Int("pending", result.Stats.Pending).
			Int("trips_written", result.Stats.TripsWritten).
			Dur("duration", result.Duration).
			Msg("Sync finished")
		result.Log = sc.Lines()
		return result
	}

	sc.Log.Info().
		Bool("skip_scan", req.SkipScan).
		Int("budget", e.opts.RequestLimit).
		Str("user_agent", f.UserAgent()).
		Msg("Sync started")

	db, err := orders.Load(ctx, e.deps.Store, req.UserID)
	if err != nil {
		return finish(nil), NewSyncError(ErrCodeStore, "load order database", err)
	}

	// Authenticate
	progress(StageAuth, 0, 1)
	var home *fetch.Response
	if req.SkipScan {
		cookie, err := e.deps.Auth.EnsureSession(ctx, f, req.UserID)
		if err != nil {
			return e.authFailure(sc, db, err, result, finish)
		}
		sc.setCookie(cookie)
	} else {
		cookie, res, err := e.deps.Auth.HomePage(ctx, f, req.UserID)
		if err != nil {
			return e.authFailure(sc, db, err, result, finish)
		}
		sc.setCookie(cookie)
		home = res
	}
	progress(StageAuth, 1, 1)

	// Harvest
	if !req.SkipScan {
		progress(StageHarvest, 0, 1)
		if err := e.harvest(ctx, sc, db, home, result); err != nil {
			return finish(db), err
		}
		progress(StageHarvest, 1, 1)
	}

	// Detail pages
	pendingBefore := len(db.Pending())
	exhausted, err := e.fetchDetails(ctx, sc, db, result, progress)
	if err != nil {
		return finish(db), err
	}
	if exhausted {
		result.Incomplete = true
		if pendingBefore > 0 && result.Stats.Fetched == 0 {
			return finish(db), NewSyncError(ErrCodeNoProgress,
				"request budget exhausted before any order detail was fetched", fetch.ErrRequestLimitExceeded).
				WithRetry().
				WithDetail("pending", pendingBefore)
		}
		sc.Log.Warn().Msg("Request budget exhausted during detail fetch, trips deferred to the next run")
		return finish(db), nil
	}

	// Trips
	if err := e.buildTrips(ctx, sc, db, req, result, progress); err != nil {
		return finish(db), err
	}
	return finish(db), nil
}

func (e *Engine) authFailure(sc *SyncContext, db *orders.DB, err error, result *Result, finish func(*orders.DB) *Result) (*Result, error) {
	if errors.Is(err, fetch.ErrRequestLimitExceeded) {
		result.Incomplete = true
		sc.Log.Warn().Err(err).Msg("Request budget exhausted during login")
		if len(db.Pending()) > 0 || db.Len() == 0 {
			return finish(db), NewSyncError(ErrCodeNoProgress, "request budget exhausted during login", err).WithRetry()
		}
		return finish(db), nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return finish(db), err
	}
	if !errors.Is(err, auth.ErrAuthenticationFailed) {
		sc.Log.Error().Err(err).Msg("Portal unreachable")
		return finish(db), NewSyncError(ErrCodePortal, "portal unreachable", err).WithRetry()
	}
	sc.Log.Error().Err(err).Msg("Authentication failed")
	return finish(db), NewSyncError(ErrCodeAuthFailed, "please reconnect your portal account", err)
}

func (e *Engine) harvest(ctx context.Context, sc *SyncContext, db *orders.DB, home *fetch.Response, result *Result) error {
	h := harvest.New(e.deps.Auth.Portal(), e.opts.Harvest)
	found, err := h.Harvest(ctx, sc.Fetcher, sc.Cookie(), home)
	if err != nil {
		sc.Log.Warn().Err(err).Msg("Harvest interrupted")
		result.Incomplete = true
		return nil
	}

	ids := found.IDs.Sorted()
	result.Stats.Harvested = len(ids)
	result.Stats.NewOrders = db.Merge(ids)
	if found.Partial {
		result.Incomplete = true
	}

	// A partial or empty scan says nothing about which orders are gone.
	// Failed pages and a rejected session make a scan partial too.
	if !found.Partial && len(ids) > 0 {
		result.Removed = db.Prune(found.IDs.Has)
		result.Stats.Pruned = len(result.Removed)
	}

	sc.Log.Info().
		Int("found", len(ids)).
		Int("new", result.Stats.NewOrders).
		Int("pruned", result.Stats.Pruned).
		Int("pages", found.Pages).
		Int("failed_pages", found.Failed).
		Bool("partial", found.Partial).
		Msg("Harvest merged")

	if err := db.Save(ctx, e.deps.Store, sc.UserID); err != nil {
		return NewSyncError(ErrCodeStore, "save order database", err)
	}
	return nil
}

// buildTrips synthesizes a trip for every day that needs one, keeping a
// reserve of budget for each day's routing.
func (e *Engine) buildTrips(ctx context.Context, sc *SyncContext, db *orders.DB, req Request, result *Result, progress func(string, int, int)) error {
	groups := db.ByDate()
	dates := make([]string, 0, len(groups))
	for date := range groups {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	router := e.deps.Router(sc.Fetcher)
	for i, date := range dates {
		progress(StageTrips, i, len(dates))
		dayOrders := groups[date]

		needs, err := e.deps.Synthesizer.NeedsTrip(ctx, sc.UserID, date, len(dayOrders))
		if err != nil {
			return NewSyncError(ErrCodeStore, "load trip", err).WithDetail("date", date)
		}
		if !needs {
			result.Stats.TripsSkipped++
			result.Dates[date] = "up-to-date"
			continue
		}

		if remaining := sc.Fetcher.Budget().Remaining(); remaining < e.opts.TripReserve {
			sc.Log.Warn().
				Int("remaining", remaining).
				Int("reserve", e.opts.TripReserve).
				Str("date", date).
				Msg("Budget below routing reserve, remaining trips deferred")
			result.Incomplete = true
			result.Dates[date] = "deferred"
			break
		}

		trip, written, err := e.deps.Synthesizer.Synthesize(ctx, router, sc.UserID, date, dayOrders, req.Settings)
		switch {
		case errors.Is(err, fetch.ErrRequestLimitExceeded):
			sc.Log.Warn().Str("date", date).Msg("Budget exhausted while routing, trip deferred")
			result.Incomplete = true
			result.Dates[date] = "deferred"
			progress(StageTrips, len(dates), len(dates))
			return nil
		case errors.Is(err, routing.ErrLegFailed):
			sc.Log.Warn().Err(err).Str("date", date).Msg("Routing failed, trip will be retried")
			result.Incomplete = true
			result.Dates[date] = "routing-failed"
			continue
		case err != nil:
			return NewSyncError(ErrCodeStore, "save trip", err).WithDetail("date", date)
		}

		if written {
			result.Stats.TripsWritten++
			result.Dates[date] = "written"
		} else {
			result.Stats.TripsSkipped++
			result.Dates[date] = "user-edited"
		}
		sc.Log.Info().
			Str("date", date).
			Str("trip", trip.ID).
			Int("stops", len(trip.Stops)).
			Bool("written", written).
			Msg("Trip processed")
	}
	progress(StageTrips, len(dates), len(dates))
	return nil
}

// String renders the stats on one line
func (s Stats) String() string {
	return fmt.Sprintf("harvested=%d new=%d pruned=%d fetched=%d failed=%d pending=%d trips=%d/%d requests=%d/%d",
		s.Harvested, s.NewOrders, s.Pruned, s.Fetched, s.Failed, s.Pending,
		s.TripsWritten, s.TripsWritten+s.TripsSkipped, s.RequestsUsed, s.RequestLimit)
}
