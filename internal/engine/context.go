package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fieldops/hnsync/internal/auth"
	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SyncContext carries the state of one sync run through every stage: its
// budgeted fetcher, its session cookie and its log.
type SyncContext struct {
	RunID   string
	UserID  string
	Fetcher *fetch.Fetcher
	Log     zerolog.Logger

	buf     *runLog
	auth    *auth.Manager
	mu      sync.Mutex
	cookie  string
	relogin bool
}

func newSyncContext(userID string, f *fetch.Fetcher, am *auth.Manager, out io.Writer) *SyncContext {
	buf := &runLog{}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: buf, NoColor: true, TimeFormat: time.TimeOnly}}
	if out != nil {
		writers = append(writers, out)
	}

	runID := uuid.NewString()
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("run", runID).
		Str("user", userID).
		Logger()

	return &SyncContext{
		RunID:   runID,
		UserID:  userID,
		Fetcher: f,
		Log:     logger,
		buf:     buf,
		auth:    am,
	}
}

// Cookie returns the current session cookie
func (sc *SyncContext) Cookie() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cookie
}

func (sc *SyncContext) setCookie(cookie string) {
	sc.mu.Lock()
	sc.cookie = cookie
	sc.mu.Unlock()
}

// Relogin replaces a cookie the portal rejected. Only one fresh login is
// attempted per run; workers that saw the same stale cookie share it.
func (sc *SyncContext) Relogin(ctx context.Context, stale string) (string, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.cookie != stale {
		return sc.cookie, nil
	}
	if sc.relogin {
		return "", auth.ErrAuthenticationFailed
	}
	sc.relogin = true

	sc.Log.Warn().Msg("Session rejected mid-run, logging in again")
	if err := sc.auth.Invalidate(ctx, sc.UserID); err != nil {
		return "", err
	}
	cookie, err := sc.auth.EnsureSession(ctx, sc.Fetcher, sc.UserID)
	if err != nil {
		return "", err
	}
	sc.cookie = cookie
	return cookie, nil
}

// Lines returns the run log so far
func (sc *SyncContext) Lines() []string {
	return sc.buf.Lines()
}

// runLog collects formatted log lines for the run result
type runLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *runLog) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *runLog) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := strings.TrimRight(r.buf.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
