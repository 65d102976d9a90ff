// Package orders keeps the per-user order database, the unit a sync run
// resumes from.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fieldops/hnsync/internal/kv"
	"github.com/fieldops/hnsync/pkg/models"
)

// DB maps order id to order
type DB struct {
	Orders map[string]*models.Order
}

// New creates an empty database
func New() *DB {
	return &DB{Orders: make(map[string]*models.Order)}
}

// Load reads the user's database. A missing blob is an empty database.
func Load(ctx context.Context, store kv.Store, userID string) (*DB, error) {
	raw, ok, err := store.Get(ctx, kv.OrderDBKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load order database: %w", err)
	}
	db := New()
	if !ok || strings.TrimSpace(raw) == "" {
		return db, nil
	}
	if err := json.Unmarshal([]byte(raw), &db.Orders); err != nil {
		return nil, fmt.Errorf("decode order database: %w", err)
	}
	if db.Orders == nil {
		db.Orders = make(map[string]*models.Order)
	}
	for id, o := range db.Orders {
		if o == nil {
			delete(db.Orders, id)
			continue
		}
		o.ID = id
		if o.Status == "" {
			o.Status = models.StatusPending
		}
	}
	return db, nil
}

// Save writes the whole database as one blob
func (db *DB) Save(ctx context.Context, store kv.Store, userID string) error {
	raw, err := json.Marshal(db.Orders)
	if err != nil {
		return fmt.Errorf("encode order database: %w", err)
	}
	if err := store.Put(ctx, kv.OrderDBKey(userID), string(raw), 0); err != nil {
		return fmt.Errorf("save order database: %w", err)
	}
	return nil
}

// Len returns the number of orders
func (db *DB) Len() int {
	return len(db.Orders)
}

// Get returns the order with the given id
func (db *DB) Get(id string) (*models.Order, bool) {
	o, ok := db.Orders[id]
	return o, ok
}

// Merge adds a pending stub for every unknown id and returns how many were new
func (db *DB) Merge(ids []string) int {
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := db.Orders[id]; !ok {
			db.Orders[id] = models.NewStub(id)
			added++
		}
	}
	return added
}

// Prune removes orders missing from a fresh harvest. Orders whose departure
// is still incomplete are kept. The removed ids are returned sorted.
func (db *DB) Prune(found func(id string) bool) []string {
	var removed []string
	for id, o := range db.Orders {
		if found(id) || o.DepartureIncomplete {
			continue
		}
		delete(db.Orders, id)
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed
}

// Pending returns the orders that still need their detail page: never
// attempted first, then by fewest attempts, then by id.
func (db *DB) Pending() []*models.Order {
	var out []*models.Order
	for _, o := range db.Orders {
		if o.NeedsDetail() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts < out[j].Attempts
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// List returns every order sorted by id
func (db *DB) List() []*models.Order {
	out := make([]*models.Order, 0, len(db.Orders))
	for _, o := range db.Orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByDate groups ready orders by normalized schedule date. Orders whose date
// cannot be read are left out.
func (db *DB) ByDate() map[string][]*models.Order {
	groups := make(map[string][]*models.Order)
	for _, o := range db.List() {
		if !o.Ready() {
			continue
		}
		date, ok := NormalizeDate(o.ConfirmScheduleDate)
		if !ok {
			continue
		}
		groups[date] = append(groups[date], o)
	}
	return groups
}

// Counts summarizes the database by status
func (db *DB) Counts() map[models.OrderStatus]int {
	counts := make(map[models.OrderStatus]int)
	for _, o := range db.Orders {
		counts[o.Status]++
	}
	return counts
}

// DateLayout is the canonical schedule date format
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"Mon 1/2/2006",
	"Mon, Jan 2, 2006",
}

// NormalizeDate converts a portal schedule date to YYYY-MM-DD
func NormalizeDate(raw string) (string, bool) {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(DateLayout), true
		}
	}
	return "", false
}
