// Package server exposes connect, sync and read endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/hnsync/internal/auth"
	"github.com/fieldops/hnsync/internal/engine"
	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/kv"
	"github.com/fieldops/hnsync/internal/orders"
	"github.com/fieldops/hnsync/internal/trips"
	"github.com/fieldops/hnsync/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Deps are the collaborators behind the endpoints
type Deps struct {
	Engine *engine.Engine
	Auth   *auth.Manager
	Store  kv.Store
	Trips  trips.Store
	// NewFetcher starts the budget used by connect
	NewFetcher func() *fetch.Fetcher
	// Settings are used when a sync request carries none
	Settings models.TripSettings
}

// Server serves the HTTP surface. Syncs for one user are serialized by the engine.
type Server struct {
	deps Deps
}

// New creates a server
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Router configures all routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Post("/connect", s.handleConnect)
		r.Post("/sync", s.handleSync)
		r.Delete("/", s.handleDisconnect)
		r.Get("/orders", s.handleOrders)
		r.Get("/trips", s.handleTrips)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	if strings.TrimSpace(payload.Username) == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	ok, err := s.deps.Auth.Connect(r.Context(), s.deps.NewFetcher(), userID, payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadGateway, "connect: %v", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"connected": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true})
}

// syncRequest is the optional body of a sync call
type syncRequest struct {
	SkipScan bool                 `json:"skipScan"`
	Settings *models.TripSettings `json:"settings,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var payload syncRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	settings := s.deps.Settings
	if payload.Settings != nil {
		settings = *payload.Settings
	}

	result, err := s.deps.Engine.Sync(r.Context(), engine.Request{
		UserID:   userID,
		Settings: settings,
		SkipScan: payload.SkipScan,
	})
	if err != nil {
		status := statusFor(err)
		body := map[string]any{
			"error": map[string]any{
				"code":    engine.Code(err),
				"message": err.Error(),
				"status":  status,
			},
		}
		if result != nil {
			body["result"] = result
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// statusFor maps sync error codes to HTTP statuses
func statusFor(err error) int {
	switch engine.Code(err) {
	case engine.ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case engine.ErrCodeNoProgress:
		return http.StatusServiceUnavailable
	case engine.ErrCodePortal:
		return http.StatusBadGateway
	case engine.ErrCodeInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	if err := s.deps.Auth.Disconnect(ctx, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "disconnect: %v", err)
		return
	}

	list, err := s.deps.Trips.List(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list trips: %v", err)
		return
	}
	for _, t := range list {
		if err := s.deps.Trips.Delete(ctx, userID, t.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "delete trip %s: %v", t.ID, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	db, err := orders.Load(r.Context(), s.deps.Store, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load orders: %v", err)
		return
	}
	list := db.List()
	if list == nil {
		list = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": list,
		"counts": db.Counts(),
	})
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	list, err := s.deps.Trips.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list trips: %v", err)
		return
	}
	if list == nil {
		list = []*models.Trip{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trips": list})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}
