// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound portal requests.
//
// The portal is a single legacy host, so pacing is per host: requests to the
// routing provider are not slowed down by portal crawling and vice versa.
type RateLimiter interface {
	// Wait blocks until a request for the given URL may proceed.
	Wait(ctx context.Context, urlStr string) error

	// Allow reports whether a request could proceed right now without waiting.
	Allow(urlStr string) bool
}

// HostLimiter is a token bucket per host
type HostLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	perHost  rate.Limit
	burst    int
}

// NewHostLimiter creates a limiter allowing requestsPerSecond per host with the given burst
func NewHostLimiter(requestsPerSecond float64, burst int) *HostLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2.0
	}
	if burst <= 0 {
		burst = 4
	}

	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHost:  rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Wait blocks until the request may proceed or ctx is done
func (hl *HostLimiter) Wait(ctx context.Context, urlStr string) error {
	host := hostOf(urlStr)
	if host == "" {
		// Unparseable URLs fail later in the request itself
		return nil
	}
	return hl.get(host).Wait(ctx)
}

// Allow reports whether a request may proceed immediately
func (hl *HostLimiter) Allow(urlStr string) bool {
	host := hostOf(urlStr)
	if host == "" {
		return true
	}
	return hl.get(host).Allow()
}

// SetLimit overrides pacing for one host
func (hl *HostLimiter) SetLimit(host string, requestsPerSecond float64, burst int) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	if limiter, ok := hl.limiters[host]; ok {
		limiter.SetLimit(rate.Limit(requestsPerSecond))
		limiter.SetBurst(burst)
		return
	}
	hl.limiters[host] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (hl *HostLimiter) get(host string) *rate.Limiter {
	hl.mu.RLock()
	limiter, ok := hl.limiters[host]
	hl.mu.RUnlock()
	if ok {
		return limiter
	}

	hl.mu.Lock()
	defer hl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, ok := hl.limiters[host]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(hl.perHost, hl.burst)
	hl.limiters[host] = limiter
	return limiter
}

func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Host
}
