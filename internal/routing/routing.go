// Package routing looks up driving distance and time between two addresses.
package routing

import (
	"context"
	"errors"
	"strings"

	"github.com/fieldops/hnsync/internal/cache"
	"github.com/fieldops/hnsync/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrLegFailed wraps lookups that errored rather than finding no route
var ErrLegFailed = errors.New("routing leg failed")

// Router finds the leg between two addresses. A nil leg with a nil error
// means the provider knows no route.
type Router interface {
	Route(ctx context.Context, origin, destination string) (*models.Leg, error)
}

// RouterFunc adapts a function to Router
type RouterFunc func(ctx context.Context, origin, destination string) (*models.Leg, error)

// Route implements Router
func (f RouterFunc) Route(ctx context.Context, origin, destination string) (*models.Leg, error) {
	return f(ctx, origin, destination)
}

// SamePlace reports whether two addresses normalize to the same text
func SamePlace(a, b string) bool {
	return cache.Key(a, "") == cache.Key(b, "")
}

// Cached memoizes a Router. Unknown routes and errors are not cached.
type Cached struct {
	inner Router
	cache cache.LegCache
}

// NewCached wraps inner with c
func NewCached(inner Router, c cache.LegCache) *Cached {
	return &Cached{inner: inner, cache: c}
}

// Route implements Router
func (c *Cached) Route(ctx context.Context, origin, destination string) (*models.Leg, error) {
	if SamePlace(origin, destination) {
		return &models.Leg{}, nil
	}

	key := cache.Key(origin, destination)
	leg, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Leg cache read failed")
	} else if ok {
		log.Debug().Str("key", key).Msg("Leg cache hit")
		return leg, nil
	}

	leg, err = c.inner.Route(ctx, origin, destination)
	if err != nil || leg == nil {
		return leg, err
	}

	if err := c.cache.Set(ctx, key, *leg); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Leg cache write failed")
	}
	return leg, nil
}

// Normalize trims and collapses whitespace in an address
func Normalize(address string) string {
	return strings.Join(strings.Fields(address), " ")
}
