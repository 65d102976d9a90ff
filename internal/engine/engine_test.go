package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldops/hnsync/internal/auth"
	"github.com/fieldops/hnsync/internal/cache"
	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/harvest"
	"github.com/fieldops/hnsync/internal/kv"
	"github.com/fieldops/hnsync/internal/orders"
	"github.com/fieldops/hnsync/internal/portal"
	"github.com/fieldops/hnsync/internal/routing"
	"github.com/fieldops/hnsync/internal/trips"
	"github.com/fieldops/hnsync/pkg/models"
)

const loginForm = `<form action="/start/login.jsp"><input name="User"><input type="password" name="Password"></form>`

// testPortal fakes the portal and a directions endpoint
type testPortal struct {
	server *httptest.Server

	mu      sync.Mutex
	listed  []string
	details map[string]string
	// search, when set, serves the order search page linked from home
	search http.HandlerFunc

	detailHits atomic.Int32
	routeHits  atomic.Int32
}

func detailHTML(addr, date, at string) string {
	return fmt.Sprintf(`<html><body><td>Service Order # - Repair</td>
<input name="ADDRESS1" value="%s"><input name="CITY" value="Eugene">
<input name="STATE" value="OR"><input name="ZIP" value="97401">
<input name="CONFIRM_SCHEDULE_DATE" value="%s"><input name="BEGIN_TIME" value="%s">
</body></html>`, addr, date, at)
}

func newTestPortal(t *testing.T) *testPortal {
	t.Helper()
	p := &testPortal{details: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/start/login.jsp", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("Password") != "pw" {
			w.Write([]byte(loginForm))
			return
		}
		w.Header().Add("Set-Cookie", "JSESSIONID=ok; Path=/")
		http.Redirect(w, r, "/start/Home.jsp", http.StatusFound)
	})
	mux.HandleFunc("/start/Home.jsp", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "JSESSIONID=ok" {
			w.Write([]byte(loginForm))
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, id := range p.listed {
			fmt.Fprintf(w, `<a href="/forms/viewservice.jsp?id=%s">%s</a>`, id, id)
		}
		if p.search != nil {
			fmt.Fprint(w, `<a href="forms/SoSearch.jsp">Search</a>`)
		}
	})
	mux.HandleFunc("/forms/SoSearch.jsp", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		search := p.search
		p.mu.Unlock()
		if search == nil {
			http.NotFound(w, r)
			return
		}
		search(w, r)
	})
	mux.HandleFunc("/forms/viewservice.jsp", func(w http.ResponseWriter, r *http.Request) {
		p.detailHits.Add(1)
		if r.Header.Get("Cookie") != "JSESSIONID=ok" {
			w.Write([]byte(loginForm))
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		w.Write([]byte(p.details[r.URL.Query().Get("id")]))
	})
	mux.HandleFunc("/maps", func(w http.ResponseWriter, r *http.Request) {
		p.routeHits.Add(1)
		w.Write([]byte(`{"status":"OK","routes":[{"legs":[{"distance":{"value":8046.72},"duration":{"value":1200}}]}]}`))
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *testPortal) list(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listed = ids
}

func (p *testPortal) setSearch(fn http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.search = fn
}

func (p *testPortal) detail(id, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.details[id] = html
}

type harness struct {
	harvest harvest.Options

	portal *testPortal
	store  *kv.Memory
	trips  *trips.MemoryStore
	auth   *auth.Manager
	client *fetch.Client
}

func newHarness(t *testing.T, connect bool) *harness {
	t.Helper()
	p := newTestPortal(t)
	sealer, err := auth.NewSealer([]byte(strings.Repeat("s", auth.MinSecretKeyLength)))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	h := &harness{
		portal: p,
		store:  kv.NewMemory(),
		trips:  trips.NewMemoryStore(),
		client: fetch.NewClient(fetch.Options{Timeout: 5 * time.Second}),
	}
	h.auth = auth.NewManager(h.store, sealer, portal.Config{BaseURL: p.server.URL}, 0)

	if connect {
		ok, err := h.auth.Connect(context.Background(), h.client.NewFetcher(10), "u1", "tech", "pw")
		if err != nil || !ok {
			t.Fatalf("Connect() = %v, %v", ok, err)
		}
	}
	return h
}

func (h *harness) engine(limit int) *Engine {
	legs := cache.NewMemoryCache(100)
	return New(Deps{
		Client:      h.client,
		Auth:        h.auth,
		Store:       h.store,
		Synthesizer: trips.New(h.trips),
		Router: func(f *fetch.Fetcher) routing.Router {
			return routing.NewCached(routing.NewDirections(f, h.portal.server.URL+"/maps", ""), legs)
		},
	}, Options{
		RequestLimit:  limit,
		DetailWorkers: 2,
		Harvest:       h.harvest,
		LogWriter:     &bytes.Buffer{},
	})
}

func tripSettings() models.TripSettings {
	return models.TripSettings{
		Routing: models.RoutingConfig{StartAddress: "1 Depot Rd, Eugene, OR 97402"},
		Cost:    models.CostConfig{MPG: 25, GasPrice: 3.5, RepairPay: 60, InstallPay: 100, UpgradePay: 80},
	}
}

func TestSync_EndToEnd(t *testing.T) {
	h := newHarness(t, true)
	h.portal.list("10000001", "10000002")
	h.portal.detail("10000001", detailHTML("20 Pine St", "12/10/2025", "10:30"))
	h.portal.detail("10000002", detailHTML("10 Oak St", "12/10/2025", "08:00"))

	result, err := h.engine(35).Sync(context.Background(), Request{UserID: "u1", Settings: tripSettings()})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Incomplete {
		t.Errorf("expected a complete run, stats %s", result.Stats)
	}
	if result.Stats.Fetched != 2 {
		t.Errorf("expected 2 fetched orders, got %d", result.Stats.Fetched)
	}
	if len(result.Trips) != 1 {
		t.Fatalf("expected 1 trip, got %d", len(result.Trips))
	}

	trip := result.Trips[0]
	if len(trip.Stops) != 2 {
		t.Fatalf("expected 2 stops, got %d", len(trip.Stops))
	}
	if trip.Stops[0].Order != 0 || trip.Stops[0].OrderID != "10000002" {
		t.Errorf("expected the 08:00 order first, got %+v", trip.Stops[0])
	}
	// twenty minute commute
	if trip.StartTime != "07:40" {
		t.Errorf("expected start 07:40, got %s", trip.StartTime)
	}
	if trip.Date != "2025-12-10" || trip.ID != trips.ID("u1", "2025-12-10") {
		t.Errorf("unexpected trip identity %s %s", trip.ID, trip.Date)
	}
	// home, two details, three legs
	if result.Stats.RequestsUsed != 6 {
		t.Errorf("expected 6 requests, got %d", result.Stats.RequestsUsed)
	}
	if len(result.Log) == 0 || result.RunID == "" {
		t.Error("expected a run id and log lines")
	}
}

func TestSync_Idempotent(t *testing.T) {
	h := newHarness(t, true)
	h.portal.list("10000001", "10000002")
	h.portal.detail("10000001", detailHTML("20 Pine St", "12/10/2025", "10:30"))
	h.portal.detail("10000002", detailHTML("10 Oak St", "12/10/2025", "08:00"))
	e := h.engine(35)
	ctx := context.Background()

	first, err := e.Sync(ctx, Request{UserID: "u1", Settings: tripSettings()})
	if err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}
	detailHits, routeHits := h.portal.detailHits.Load(), h.portal.routeHits.Load()

	second, err := e.Sync(ctx, Request{UserID: "u1", Settings: tripSettings()})
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}

	if h.portal.detailHits.Load() != detailHits || h.portal.routeHits.Load() != routeHits {
		t.Error("second run should not refetch details or routes")
	}
	if second.Stats.NewOrders != 0 || second.Stats.TripsWritten != 0 || second.Stats.TripsSkipped != 1 {
		t.Errorf("unexpected second run stats: %s", second.Stats)
	}
	if len(second.Trips) != 1 || second.Trips[0].ID != first.Trips[0].ID {
		t.Errorf("expected the same single trip, got %d trips", len(second.Trips))
	}
	if len(second.Orders) != len(first.Orders) {
		t.Errorf("order count changed from %d to %d", len(first.Orders), len(second.Orders))
	}
}

func TestSync_PrunesButProtectsDepartureIncomplete(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	db := orders.New()
	busy := models.NewStub("90000001")
	_ = busy.Promote(models.ParsedOrder{Address: "5 Elm St", ConfirmScheduleDate: "12/09/2025", DepartureIncomplete: true}, time.Now())
	gone := models.NewStub("90000002")
	_ = gone.Promote(models.ParsedOrder{Address: "6 Elm St", ConfirmScheduleDate: "12/09/2025"}, time.Now())
	db.Orders[busy.ID] = busy
	db.Orders[gone.ID] = gone
	if err := db.Save(ctx, h.store, "u1"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	h.portal.list("10000001")
	h.portal.detail("10000001", detailHTML("20 Pine St", "12/10/2025", "10:30"))

	result, err := h.engine(35).Sync(ctx, Request{UserID: "u1", Settings: tripSettings()})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	saved, err := orders.Load(ctx, h.store, "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := saved.Get("90000001"); !ok {
		t.Error("departure-incomplete order must survive pruning")
	}
	if _, ok := saved.Get("90000002"); ok {
		t.Error("unlisted order should have been pruned")
	}
	if len(result.Removed) != 1 || result.Removed[0] != "90000002" {
		t.Errorf("unexpected removed ids %v", result.Removed)
	}
}

// seedFetched stores one fully fetched order the portal no longer lists on
// its home page
func seedFetched(t *testing.T, h *harness, id string) {
	t.Helper()
	db := orders.New()
	o := models.NewStub(id)
	if err := o.Promote(models.ParsedOrder{Address: "7 Cedar St", ConfirmScheduleDate: "12/11/2025", BeginTime: "09:00"}, time.Now()); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	db.Orders[o.ID] = o
	if err := db.Save(context.Background(), h.store, "u1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestSync_UnreadableSearchPageDoesNotPrune(t *testing.T) {
	tests := []struct {
		name   string
		search http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"login form served", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(loginForm))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			h.harvest = harvest.Options{MaxSecondaryPages: 3}
			ctx := context.Background()

			seedFetched(t, h, "20000002")
			h.portal.list("10000001")
			h.portal.detail("10000001", detailHTML("20 Pine St", "12/10/2025", "10:30"))
			h.portal.setSearch(tt.search)

			result, err := h.engine(35).Sync(ctx, Request{UserID: "u1", Settings: tripSettings()})
			if err != nil {
				t.Fatalf("Sync failed: %v", err)
			}
			if !result.Incomplete {
				t.Error("a harvest with an unreadable page should leave the run incomplete")
			}
			if len(result.Removed) != 0 {
				t.Errorf("nothing should be pruned, removed %v", result.Removed)
			}

			saved, err := orders.Load(ctx, h.store, "u1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			o, ok := saved.Get("20000002")
			if !ok {
				t.Fatal("fetched order was lost")
			}
			if o.Address != "7 Cedar St" {
				t.Errorf("fetched order changed: %+v", o)
			}
			if _, ok := saved.Get("10000001"); !ok {
				t.Error("order from the home page should still be merged")
			}
		})
	}
}

func TestSync_ReadableSearchPagePrunes(t *testing.T) {
	h := newHarness(t, true)
	h.harvest = harvest.Options{MaxSecondaryPages: 3}
	ctx := context.Background()

	seedFetched(t, h, "20000002")
	h.portal.list("10000001")
	h.portal.detail("10000001", detailHTML("20 Pine St", "12/10/2025", "10:30"))
	h.portal.setSearch(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p>No open orders</p>`))
	})

	result, err := h.engine(35).Sync(ctx, Request{UserID: "u1", Settings: tripSettings()})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "20000002" {
		t.Errorf("expected 20000002 pruned after a full scan, removed %v", result.Removed)
	}
}

func TestSync_EmptyHarvestDoesNotPrune(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	db := orders.New()
	db.Merge([]string{"10000009"})
	if err := db.Save(ctx, h.store, "u1"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, _ = h.engine(35).Sync(ctx, Request{UserID: "u1", Settings: tripSettings()})

	saved, _ := orders.Load(ctx, h.store, "u1")
	if _, ok := saved.Get("10000009"); !ok {
		t.Error("an empty scan must not prune known orders")
	}
}

func TestSync_BudgetStopsAndResumes(t *testing.T) {
	h := newHarness(t, true)
	h.portal.list("10000001", "10000002", "10000003")
	for i, addr := range []string{"1 A St", "2 B St", "3 C St"} {
		h.portal.detail(fmt.Sprintf("1000000%d", i+1), detailHTML(addr, "12/10/2025", fmt.Sprintf("%02d:00", 8+i)))
	}
	ctx := context.Background()

	// home page plus one detail
	result, err := h.engine(2).Sync(ctx, Request{UserID: "u1", Settings: tripSettings()})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !result.Incomplete {
		t.Error("expected an incomplete run")
	}
	if result.Stats.Fetched != 1 || result.Stats.Pending != 2 {
		t.Errorf("unexpected stats: %s", result.Stats)
	}
	if len(result.Trips) != 0 {
		t.Error("trips must wait until details are fetched")
	}

	saved, _ := orders.Load(ctx, h.store, "u1")
	if saved.Len() != 3 || len(saved.Pending()) != 2 {
		t.Errorf("progress not persisted: %d orders, %d pending", saved.Len(), len(saved.Pending()))
	}

	result, err = h.engine(35).Sync(ctx, Request{UserID: "u1", Settings: tripSettings(), SkipScan: true})
	if err != nil {
		t.Fatalf("resumed Sync failed: %v", err)
	}
	if result.Incomplete || result.Stats.Fetched != 2 || len(result.Trips) != 1 {
		t.Errorf("resume did not finish: incomplete=%v %s", result.Incomplete, result.Stats)
	}
	if got := len(result.Trips[0].Stops); got != 3 {
		t.Errorf("expected 3 stops, got %d", got)
	}
}

func TestSync_NoProgress(t *testing.T) {
	h := newHarness(t, true)
	h.portal.list("10000001")
	h.portal.detail("10000001", detailHTML("1 A St", "12/10/2025", "08:00"))

	result, err := h.engine(1).Sync(context.Background(), Request{UserID: "u1", Settings: tripSettings()})
	if Code(err) != ErrCodeNoProgress {
		t.Fatalf("expected NO_PROGRESS, got %v", err)
	}
	if result == nil || !result.Incomplete {
		t.Fatal("expected a partial result alongside the error")
	}
	if !strings.Contains(err.Error(), "request limit exceeded") {
		t.Errorf("error should carry the budget cause: %v", err)
	}
}

func TestSync_AuthFailure(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.engine(35).Sync(context.Background(), Request{UserID: "u1"})
	if Code(err) != ErrCodeAuthFailed {
		t.Fatalf("expected AUTH_FAILED, got %v", err)
	}
}

func TestSync_ExpiredSessionLogsInAgain(t *testing.T) {
	h := newHarness(t, true)
	h.portal.list("10000001")
	h.portal.detail("10000001", detailHTML("1 A St", "12/10/2025", "08:00"))
	ctx := context.Background()

	if err := h.store.Put(ctx, kv.SessionKey("u1"), "JSESSIONID=stale", 0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := h.engine(35).Sync(ctx, Request{UserID: "u1", Settings: tripSettings()})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Stats.Fetched != 1 {
		t.Errorf("expected the order to be fetched after relogin, stats %s", result.Stats)
	}
}

func TestSyncError_Is(t *testing.T) {
	err := NewSyncError(ErrCodeNoProgress, "x", fetch.ErrRequestLimitExceeded)
	if !err.Is(&SyncError{Code: ErrCodeNoProgress}) {
		t.Error("expected code match")
	}
	if !err.Is(fetch.ErrRequestLimitExceeded) {
		t.Error("expected underlying match")
	}
	if Code(fmt.Errorf("wrapped: %w", err)) != ErrCodeNoProgress {
		t.Error("Code should see through wrapping")
	}
}
