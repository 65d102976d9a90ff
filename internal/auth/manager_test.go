package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/kv"
	"github.com/fieldops/hnsync/internal/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><form action="/start/login.jsp" method="post">
<input type="text" name="User"><input type="password" name="Password"></form></html>`

// fakePortal accepts tech/pw and issues a folded session cookie on the
// login redirect. With ssoHop set, the cookie is only issued one hop later.
type fakePortal struct {
	server  *httptest.Server
	ssoHop  bool
	logins  atomic.Int32
	expired atomic.Bool
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{}
	mux := http.NewServeMux()
	mux.HandleFunc("/start/login.jsp", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		p.logins.Add(1)
		if r.PostForm.Get("User") != "tech" || r.PostForm.Get("Password") != "pw" {
			w.Write([]byte(loginPage))
			return
		}
		assert.Equal(t, "HNS", r.PostForm.Get("AuthSystem"))
		if p.ssoHop {
			http.Redirect(w, r, "/start/sso.jsp", http.StatusFound)
			return
		}
		w.Header().Add("Set-Cookie", "JSESSIONID=good; Path=/, route=r1; Path=/")
		http.Redirect(w, r, "/start/Home.jsp", http.StatusFound)
	})
	mux.HandleFunc("/start/sso.jsp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "JSESSIONID=good; Path=/")
		http.Redirect(w, r, "/start/Home.jsp", http.StatusFound)
	})
	mux.HandleFunc("/start/Home.jsp", func(w http.ResponseWriter, r *http.Request) {
		if p.expired.Load() || !strings.Contains(r.Header.Get("Cookie"), "JSESSIONID=good") {
			w.Write([]byte(loginPage))
			return
		}
		w.Write([]byte("<html><frameset><frame src=\"menu.jsp\"></frameset></html>"))
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func newTestManager(t *testing.T, p *fakePortal) (*Manager, *kv.Memory) {
	t.Helper()
	store := kv.NewMemory()
	m := NewManager(store, testSealer(t), portal.Config{BaseURL: p.server.URL}, 0)
	return m, store
}

func newFetcher(limit int) *fetch.Fetcher {
	return fetch.NewClient(fetch.Options{}).NewFetcher(limit)
}

func TestConnect_Success(t *testing.T) {
	p := newFakePortal(t)
	m, store := newTestManager(t, p)
	ctx := context.Background()

	ok, err := m.Connect(ctx, newFetcher(10), "u1", "tech", "pw")
	require.NoError(t, err)
	assert.True(t, ok)

	cookie, found, err := store.Get(ctx, kv.SessionKey("u1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "JSESSIONID=good; route=r1", cookie)

	creds, err := m.Credentials(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "tech", creds.Username)
	assert.Equal(t, p.server.URL+portal.DefaultLoginPath, creds.LoginURL)

	sealed, _, _ := store.Get(ctx, kv.CredentialKey("u1"))
	assert.NotContains(t, sealed, "pw")
}

func TestConnect_RejectedClearsCredentials(t *testing.T) {
	p := newFakePortal(t)
	m, store := newTestManager(t, p)
	ctx := context.Background()

	ok, err := m.Connect(ctx, newFetcher(10), "u1", "tech", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, _ := store.Get(ctx, kv.CredentialKey("u1"))
	assert.False(t, found)
	_, found, _ = store.Get(ctx, kv.SessionKey("u1"))
	assert.False(t, found)
}

func TestLogin_FollowsOneRedirectForCookie(t *testing.T) {
	p := newFakePortal(t)
	p.ssoHop = true
	m, _ := newTestManager(t, p)

	f := newFetcher(10)
	cookie, err := m.Login(context.Background(), f, "u1", "tech", "pw")
	require.NoError(t, err)
	assert.Equal(t, "JSESSIONID=good", cookie)
	assert.Equal(t, 2, f.Budget().Used())
}

func TestLogin_BudgetErrorIsNotAuthFailure(t *testing.T) {
	p := newFakePortal(t)
	m, _ := newTestManager(t, p)

	f := newFetcher(1)
	require.NoError(t, f.Budget().Acquire())

	_, err := m.Login(context.Background(), f, "u1", "tech", "pw")
	assert.ErrorIs(t, err, fetch.ErrRequestLimitExceeded)
	assert.NotErrorIs(t, err, ErrAuthenticationFailed)
}

func TestEnsureSession(t *testing.T) {
	p := newFakePortal(t)
	m, store := newTestManager(t, p)
	ctx := context.Background()

	_, err := m.EnsureSession(ctx, newFetcher(10), "nobody")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	ok, err := m.Connect(ctx, newFetcher(10), "u1", "tech", "pw")
	require.NoError(t, err)
	require.True(t, ok)
	before := p.logins.Load()

	// Cached session costs no requests
	f := newFetcher(10)
	cookie, err := m.EnsureSession(ctx, f, "u1")
	require.NoError(t, err)
	assert.Equal(t, "JSESSIONID=good; route=r1", cookie)
	assert.Equal(t, 0, f.Budget().Used())

	// Without a session the stored credentials are used
	require.NoError(t, store.Delete(ctx, kv.SessionKey("u1")))
	_, err = m.EnsureSession(ctx, f, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, p.logins.Load())
}

func TestEnsureSession_UndecryptableCredentials(t *testing.T) {
	p := newFakePortal(t)
	m, store := newTestManager(t, p)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, kv.CredentialKey("u1"), "garbage", 0))
	_, err := m.EnsureSession(ctx, newFetcher(10), "u1")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestHomePage_RelogsOnceOnExpiredSession(t *testing.T) {
	p := newFakePortal(t)
	m, store := newTestManager(t, p)
	ctx := context.Background()

	ok, err := m.Connect(ctx, newFetcher(10), "u1", "tech", "pw")
	require.NoError(t, err)
	require.True(t, ok)

	// A stale cookie gets replaced by a fresh login
	require.NoError(t, store.Put(ctx, kv.SessionKey("u1"), "JSESSIONID=stale", 0))
	cookie, res, err := m.HomePage(ctx, newFetcher(10), "u1")
	require.NoError(t, err)
	assert.Equal(t, "JSESSIONID=good; route=r1", cookie)
	assert.Contains(t, res.String(), "frameset")

	// A portal that keeps rejecting the session is an auth failure
	p.expired.Store(true)
	_, _, err = m.HomePage(ctx, newFetcher(10), "u1")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestDisconnect_RemovesEverything(t *testing.T) {
	p := newFakePortal(t)
	m, store := newTestManager(t, p)
	ctx := context.Background()

	ok, err := m.Connect(ctx, newFetcher(10), "u1", "tech", "pw")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Put(ctx, kv.OrderDBKey("u1"), "{}", 0))

	require.NoError(t, m.Disconnect(ctx, "u1"))

	for _, key := range []string{kv.SessionKey("u1"), kv.CredentialKey("u1"), kv.OrderDBKey("u1")} {
		_, found, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found, key)
	}

	connected, err := m.Connected(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, connected)
}
