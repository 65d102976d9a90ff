package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldops/hnsync/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_FailsOnceLimitReached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	f := NewClient(Options{Timeout: 5 * time.Second}).NewFetcher(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.Get(ctx, server.URL, "")
		require.NoError(t, err, "call %d should be within budget", i+1)
	}

	for i := 0; i < 2; i++ {
		_, err := f.Get(ctx, server.URL, "")
		assert.ErrorIs(t, err, ErrRequestLimitExceeded)
	}

	assert.Equal(t, int32(3), hits.Load(), "calls past the limit must not reach the network")
	assert.True(t, f.Budget().Exhausted())
}

func TestBudget_ChargedEvenWhenRequestFails(t *testing.T) {
	f := NewClient(Options{Timeout: time.Second}).NewFetcher(2)

	_, err := f.Get(context.Background(), "http://127.0.0.1:1/unreachable", "")
	require.Error(t, err)
	assert.Equal(t, 1, f.Budget().Used())
}

func TestBudget_ConcurrentAcquireNeverOvershoots(t *testing.T) {
	b := NewBudget(10)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Acquire() == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, 10, b.Used())
	assert.Equal(t, 0, b.Remaining())
}

func TestFetcher_SendsCookieAndStableUserAgent(t *testing.T) {
	var agents []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		assert.Equal(t, "JSESSIONID=abc", r.Header.Get("Cookie"))
	}))
	defer server.Close()

	client := NewClient(Options{UserAgents: []string{"agent-a", "agent-b"}})
	f := client.NewFetcher(5)

	for i := 0; i < 3; i++ {
		_, err := f.Get(context.Background(), server.URL, "JSESSIONID=abc")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"agent-a", "agent-a", "agent-a"}, agents)

	// The next run rotates to the next agent
	assert.Equal(t, "agent-b", client.NewFetcher(5).UserAgent())
}

func TestFetcher_NoRedirectReturnsLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.Redirect(w, r, "/home", http.StatusFound)
			return
		}
		w.Write([]byte("home"))
	}))
	defer server.Close()

	f := NewClient(Options{}).NewFetcher(5)

	res, err := f.Do(context.Background(), Request{Method: http.MethodPost, URL: server.URL + "/login", NoRedirect: true})
	require.NoError(t, err)
	assert.True(t, res.IsRedirect())
	assert.Equal(t, "/home", res.Header.Get("Location"))

	res, err = f.Get(context.Background(), server.URL+"/login", "")
	require.NoError(t, err)
	assert.Equal(t, "home", res.String())
	assert.Equal(t, server.URL+"/home", res.URL)
}

func TestFetcher_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := NewClient(Options{}).NewFetcher(5)
	res, err := f.Get(context.Background(), server.URL, "")
	require.Error(t, err)
	require.NotNil(t, res)

	var httpErr retry.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestAgentPool_Rotation(t *testing.T) {
	pool := NewAgentPool([]string{"a", "", "b"})
	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, "a", pool.Next())
	assert.Equal(t, "b", pool.Next())
	assert.Equal(t, "a", pool.Next())

	assert.Equal(t, len(DefaultUserAgents), NewAgentPool(nil).Size())
}
