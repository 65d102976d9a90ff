package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiter_BurstThenThrottle(t *testing.T) {
	hl := NewHostLimiter(1, 2)

	assert.True(t, hl.Allow("https://portal.example.com/a"))
	assert.True(t, hl.Allow("https://portal.example.com/b"))
	assert.False(t, hl.Allow("https://portal.example.com/c"), "third request should exceed the burst")

	// Other hosts have their own bucket
	assert.True(t, hl.Allow("https://maps.example.com/route"))
}

func TestHostLimiter_WaitHonoursContext(t *testing.T) {
	hl := NewHostLimiter(0.1, 1)
	require.NoError(t, hl.Wait(context.Background(), "https://portal.example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, hl.Wait(ctx, "https://portal.example.com/"))
}

func TestHostLimiter_InvalidURLPassesThrough(t *testing.T) {
	hl := NewHostLimiter(1, 1)
	assert.NoError(t, hl.Wait(context.Background(), "://bad"))
	assert.True(t, hl.Allow("://bad"))
}
