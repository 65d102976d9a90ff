// Package auth logs into the portal and keeps per-user sessions and sealed
// credentials in a kv.Store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/kv"
	"github.com/fieldops/hnsync/internal/portal"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAuthenticationFailed means the user has to reconnect
	ErrAuthenticationFailed = errors.New("authentication failed, please reconnect")
	// ErrSessionExpired means the portal served its login form to a stored session
	ErrSessionExpired = errors.New("portal session expired")
	// ErrNoCredentials means connect was never run for the user
	ErrNoCredentials = errors.New("no stored credentials")
)

// DefaultSessionTTL is how long a portal cookie is reused before logging in again
const DefaultSessionTTL = 48 * time.Hour

// Fixed login form values the portal expects besides the user and password
const (
	formSubmit     = "Login"
	formScreenSize = "MED"
	formAuthSystem = "HNS"
)

// Credentials is the record sealed under cred:{userID}
type Credentials struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	LoginURL  string    `json:"loginUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager owns credentials and sessions for every user
type Manager struct {
	store  kv.Store
	sealer *Sealer
	portal portal.Config
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a session manager. A zero ttl uses DefaultSessionTTL.
func NewManager(store kv.Store, sealer *Sealer, cfg portal.Config, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{
		store:  store,
		sealer: sealer,
		portal: cfg.WithDefaults(),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Portal returns the portal layout the manager logs into
func (m *Manager) Portal() portal.Config {
	return m.portal
}

// Connect stores the credentials, logs in and verifies the home page no
// longer shows the login form. A rejected login removes what was stored and
// reports false without an error; only budget, store and transport problems
// are returned as errors.
func (m *Manager) Connect(ctx context.Context, f *fetch.Fetcher, userID, username, password string) (bool, error) {
	if userID == "" || username == "" || password == "" {
		return false, fmt.Errorf("user id, username and password are required")
	}

	if err := m.saveCredentials(ctx, userID, Credentials{
		Username:  username,
		Password:  password,
		LoginURL:  m.portal.LoginURL(),
		CreatedAt: m.now().UTC(),
	}); err != nil {
		return false, err
	}

	cookie, err := m.Login(ctx, f, userID, username, password)
	if err != nil {
		m.forget(ctx, userID)
		if errors.Is(err, ErrAuthenticationFailed) {
			log.Warn().Str("user", userID).Err(err).Msg("Portal rejected login")
			return false, nil
		}
		return false, err
	}

	res, err := f.Get(ctx, m.portal.HomeURL(), cookie)
	if err != nil {
		m.forget(ctx, userID)
		if errors.Is(err, fetch.ErrRequestLimitExceeded) {
			return false, err
		}
		log.Warn().Str("user", userID).Err(err).Msg("Could not verify portal login")
		return false, nil
	}
	if portal.IsLoginPage(res.String()) {
		m.forget(ctx, userID)
		log.Warn().Str("user", userID).Msg("Portal returned the login form after login")
		return false, nil
	}

	log.Info().Str("user", userID).Msg("Connected to portal")
	return true, nil
}

// Login posts the login form and stores the resulting session cookie
func (m *Manager) Login(ctx context.Context, f *fetch.Fetcher, userID, username, password string) (string, error) {
	return m.login(ctx, f, userID, Credentials{Username: username, Password: password, LoginURL: m.portal.LoginURL()})
}

func (m *Manager) login(ctx context.Context, f *fetch.Fetcher, userID string, creds Credentials) (string, error) {
	loginURL := creds.LoginURL
	if loginURL == "" {
		loginURL = m.portal.LoginURL()
	}

	log.Debug().Str("user", userID).Str("url", loginURL).Msg("Logging into portal")

	res, err := f.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    loginURL,
		Form: map[string]string{
			"User":       creds.Username,
			"Password":   creds.Password,
			"Submit":     formSubmit,
			"ScreenSize": formScreenSize,
			"AuthSystem": formAuthSystem,
		},
		NoRedirect: true,
	})
	if err != nil {
		return "", loginError(err)
	}

	cookie := ExtractCookie(res.Header.Values("Set-Cookie"))
	if cookie == "" && res.IsRedirect() {
		next := portal.ResolveURL(loginURL, res.Header.Get("Location"))
		log.Debug().Str("location", next).Msg("Following login redirect for cookie")

		hop, err := f.Do(ctx, fetch.Request{Method: http.MethodGet, URL: next, NoRedirect: true})
		if err != nil {
			return "", loginError(err)
		}
		cookie = ExtractCookie(hop.Header.Values("Set-Cookie"))
	}
	if cookie == "" {
		return "", fmt.Errorf("%w: portal did not issue a session cookie", ErrAuthenticationFailed)
	}

	if err := m.store.Put(ctx, kv.SessionKey(userID), cookie, m.ttl); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return cookie, nil
}

// loginError keeps budget exhaustion visible and folds everything else into
// an authentication failure.
func loginError(err error) error {
	if errors.Is(err, fetch.ErrRequestLimitExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
}

// EnsureSession returns the cached cookie or logs in again from the stored
// credentials.
func (m *Manager) EnsureSession(ctx context.Context, f *fetch.Fetcher, userID string) (string, error) {
	cookie, ok, err := m.store.Get(ctx, kv.SessionKey(userID))
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if ok && cookie != "" {
		return cookie, nil
	}

	creds, err := m.Credentials(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	log.Info().Str("user", userID).Msg("No cached session, logging in")
	return m.login(ctx, f, userID, *creds)
}

// HomePage fetches the portal home page with a valid session. When the
// portal answers with its login form the session is dropped and one fresh
// login is attempted; a second login form is an authentication failure.
func (m *Manager) HomePage(ctx context.Context, f *fetch.Fetcher, userID string) (cookie string, res *fetch.Response, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		cookie, err = m.EnsureSession(ctx, f, userID)
		if err != nil {
			return "", nil, err
		}

		res, err = f.Get(ctx, m.portal.HomeURL(), cookie)
		if err != nil {
			return "", nil, err
		}
		if !portal.IsLoginPage(res.String()) {
			return cookie, res, nil
		}

		log.Warn().Str("user", userID).Int("attempt", attempt+1).Err(ErrSessionExpired).Msg("Session rejected by portal")
		if err := m.Invalidate(ctx, userID); err != nil {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, ErrSessionExpired)
}

// Invalidate drops the cached session so the next EnsureSession logs in
func (m *Manager) Invalidate(ctx context.Context, userID string) error {
	return m.store.Delete(ctx, kv.SessionKey(userID))
}

// Disconnect removes the session, the credentials and the order database
func (m *Manager) Disconnect(ctx context.Context, userID string) error {
	var errs []error
	for _, key := range []string{kv.SessionKey(userID), kv.CredentialKey(userID), kv.OrderDBKey(userID)} {
		if err := m.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info().Str("user", userID).Msg("Disconnected from portal")
	return nil
}

// Connected reports whether credentials are stored for the user
func (m *Manager) Connected(ctx context.Context, userID string) (bool, error) {
	_, ok, err := m.store.Get(ctx, kv.CredentialKey(userID))
	return ok, err
}

// Credentials loads and decrypts the stored credential record
func (m *Manager) Credentials(ctx context.Context, userID string) (*Credentials, error) {
	sealed, ok, err := m.store.Get(ctx, kv.CredentialKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if !ok || strings.TrimSpace(sealed) == "" {
		return nil, ErrNoCredentials
	}

	plain, err := m.sealer.Open(userID, sealed)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return &creds, nil
}

func (m *Manager) saveCredentials(ctx context.Context, userID string, creds Credentials) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	sealed, err := m.sealer.Seal(userID, plain)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, kv.CredentialKey(userID), sealed, 0); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// forget removes what a failed connect left behind
func (m *Manager) forget(ctx context.Context, userID string) {
	for _, key := range []string{kv.SessionKey(userID), kv.CredentialKey(userID)} {
		if err := m.store.Delete(ctx, key); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("Failed to clean up after rejected login")
		}
	}
}
