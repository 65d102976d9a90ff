package trips

import (
	"context"
	"sort"
	"sync"

	"github.com/fieldops/hnsync/pkg/models"
)

// Store persists trips. Get returns nil without an error for unknown trips.
type Store interface {
	List(ctx context.Context, userID string) ([]*models.Trip, error)
	Get(ctx context.Context, userID, tripID string) (*models.Trip, error)
	Put(ctx context.Context, trip *models.Trip) error
	Delete(ctx context.Context, userID, tripID string) error
}

// MemoryStore keeps trips in process
type MemoryStore struct {
	mu    sync.RWMutex
	trips map[string]map[string]models.Trip
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[string]map[string]models.Trip)}
}

// List returns a user's trips ordered by date
func (m *MemoryStore) List(_ context.Context, userID string) ([]*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Trip, 0, len(m.trips[userID]))
	for _, t := range m.trips[userID] {
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, userID, tripID string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.trips[userID][tripID]
	if !ok {
		return nil, nil
	}
	return clone(t), nil
}

// Put implements Store
func (m *MemoryStore) Put(_ context.Context, trip *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.trips[trip.UserID] == nil {
		m.trips[trip.UserID] = make(map[string]models.Trip)
	}
	m.trips[trip.UserID][trip.ID] = *clone(*trip)
	return nil
}

func clone(t models.Trip) *models.Trip {
	t.Stops = append([]models.Stop(nil), t.Stops...)
	t.SupplyItems = append([]models.SupplyItem(nil), t.SupplyItems...)
	return &t
}

// Delete implements Store
func (m *MemoryStore) Delete(_ context.Context, userID, tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trips[userID], tripID)
	return nil
}
