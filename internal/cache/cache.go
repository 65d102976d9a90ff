// Package cache memoizes routing legs. Legs never expire: a computed
// origin/destination pair is treated as fixed.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/fieldops/hnsync/pkg/models"
	"github.com/rs/zerolog/log"
)

// LegCache stores routing legs by normalized key
type LegCache interface {
	// Get returns the cached leg and whether it was present
	Get(ctx context.Context, key string) (*models.Leg, bool, error)
	// Set stores a leg, replacing any previous value
	Set(ctx context.Context, key string, leg models.Leg) error
}

// Key builds the cache key for an origin/destination pair: case and
// whitespace differences do not produce separate entries.
func Key(origin, destination string) string {
	return normalize(origin) + "|" + normalize(destination)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// cacheEntry is one cached leg with its key for LRU tracking
type cacheEntry struct {
	Key string
	Leg models.Leg
}

// MemoryCache is an in-process LRU bounded by entry count
type MemoryCache struct {
	store      map[string]*list.Element
	lruList    *list.List
	mu         sync.Mutex
	maxEntries int
	hits       uint64
	misses     uint64
}

// NewMemoryCache creates an LRU holding at most maxEntries legs
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryCache{
		store:      make(map[string]*list.Element),
		lruList:    list.New(),
		maxEntries: maxEntries,
	}
}

// Get retrieves a leg and marks it most recently used
func (mc *MemoryCache) Get(_ context.Context, key string) (*models.Leg, bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	element, exists := mc.store[key]
	if !exists {
		mc.misses++
		return nil, false, nil
	}

	mc.lruList.MoveToFront(element)
	mc.hits++
	leg := element.Value.(*cacheEntry).Leg
	return &leg, true, nil
}

// Set stores a leg, evicting the least recently used entry when full
func (mc *MemoryCache) Set(_ context.Context, key string, leg models.Leg) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if element, exists := mc.store[key]; exists {
		element.Value.(*cacheEntry).Leg = leg
		mc.lruList.MoveToFront(element)
		return nil
	}

	for mc.lruList.Len() >= mc.maxEntries {
		mc.evictLRU()
	}

	mc.store[key] = mc.lruList.PushFront(&cacheEntry{Key: key, Leg: leg})
	return nil
}

// Len returns the number of cached legs
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lruList.Len()
}

// evictLRU removes the least recently used entry (must be called with lock held)
func (mc *MemoryCache) evictLRU() {
	element := mc.lruList.Back()
	if element == nil {
		return
	}
	entry := element.Value.(*cacheEntry)
	mc.lruList.Remove(element)
	delete(mc.store, entry.Key)
	log.Debug().Str("key", entry.Key).Msg("Evicted leg from cache (LRU)")
}

// Stats returns cache statistics including hit rate
func (mc *MemoryCache) Stats() map[string]interface{} {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	hitRate := 0.0
	total := mc.hits + mc.misses
	if total > 0 {
		hitRate = float64(mc.hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"entries":  mc.lruList.Len(),
		"max":      mc.maxEntries,
		"hits":     mc.hits,
		"misses":   mc.misses,
		"hit_rate": hitRate,
	}
}

// Tiered checks a fast cache before a persistent one and fills the fast
// cache from persistent hits.
type Tiered struct {
	Fast    LegCache
	Backing LegCache
}

// Get implements LegCache
func (t Tiered) Get(ctx context.Context, key string) (*models.Leg, bool, error) {
	if leg, ok, err := t.Fast.Get(ctx, key); err == nil && ok {
		return leg, true, nil
	}
	if t.Backing == nil {
		return nil, false, nil
	}
	leg, ok, err := t.Backing.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.Fast.Set(ctx, key, *leg)
	return leg, true, nil
}

// Set implements LegCache, writing both tiers
func (t Tiered) Set(ctx context.Context, key string, leg models.Leg) error {
	if err := t.Fast.Set(ctx, key, leg); err != nil {
		return err
	}
	if t.Backing == nil {
		return nil
	}
	return t.Backing.Set(ctx, key, leg)
}
