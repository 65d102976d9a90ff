package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldops/hnsync/internal/auth"
	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/orders"
	"github.com/fieldops/hnsync/internal/parser"
	"github.com/fieldops/hnsync/internal/portal"
	"golang.org/x/sync/errgroup"
)

// fetchDetails fetches and parses every order that still needs its detail
// page. Orders are saved after each successful parse so a killed run keeps
// its progress. It reports whether the budget ran out.
func (e *Engine) fetchDetails(ctx context.Context, sc *SyncContext, db *orders.DB, result *Result, progress func(string, int, int)) (bool, error) {
	pending := db.Pending()
	if len(pending) == 0 {
		return false, nil
	}

	sc.Log.Info().Int("pending", len(pending)).Int("workers", e.opts.DetailWorkers).Msg("Fetching order details")
	progress(StageDetail, 0, len(pending))

	var (
		mu        sync.Mutex // guards db and result
		exhausted atomic.Bool
		authErr   error
		done      atomic.Int32
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.DetailWorkers)

	for _, o := range pending {
		if exhausted.Load() || sc.Fetcher.Budget().Exhausted() {
			exhausted.Store(true)
			break
		}
		if gctx.Err() != nil {
			break
		}

		id := o.ID
		g.Go(func() error {
			defer func() {
				progress(StageDetail, int(done.Add(1)), len(pending))
			}()
			if exhausted.Load() {
				return nil
			}

			page, err := e.detailPage(gctx, sc, id)
			if errors.Is(err, fetch.ErrRequestLimitExceeded) {
				exhausted.Store(true)
				return nil
			}
			if errors.Is(err, auth.ErrAuthenticationFailed) {
				mu.Lock()
				authErr = err
				mu.Unlock()
				// Stops the remaining workers; nothing else returns an error
				return err
			}

			if err != nil && gctx.Err() != nil {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			order, ok := db.Get(id)
			if !ok {
				return nil
			}
			if err != nil {
				order.Fail(err)
				result.Stats.Failed++
				sc.Log.Warn().Str("order", id).Str("stage", StageDetail).Err(err).Msg("Detail fetch failed, will retry next run")
				return nil
			}

			parsed := parser.Parse(page)
			if err := order.Promote(parsed.Order, time.Now().UTC()); err != nil {
				result.Stats.Failed++
				sc.Log.Warn().Str("order", id).Str("stage", StageDetail).Err(err).Msg("Detail page had no address, left for retry")
				return nil
			}
			result.Stats.Fetched++

			if err := db.Save(ctx, e.deps.Store, sc.UserID); err != nil {
				sc.Log.Error().Str("order", id).Err(err).Msg("Could not save order database")
				return nil
			}
			sc.Log.Debug().
				Str("order", id).
				Str("date", order.ConfirmScheduleDate).
				Str("type", string(order.Type)).
				Msg("Order detail saved")
			return nil
		})
	}

	waitErr := g.Wait()

	// Failed attempts are worth keeping too
	mu.Lock()
	saveErr := db.Save(ctx, e.deps.Store, sc.UserID)
	mu.Unlock()

	if authErr != nil {
		return exhausted.Load(), NewSyncError(ErrCodeAuthFailed, "please reconnect your portal account", authErr)
	}
	if waitErr != nil {
		return exhausted.Load(), waitErr
	}
	if saveErr != nil {
		return exhausted.Load(), NewSyncError(ErrCodeStore, "save order database", saveErr)
	}
	if err := ctx.Err(); err != nil {
		return exhausted.Load(), err
	}
	return exhausted.Load(), nil
}

// detailPage fetches one order page, logging in again once if the portal
// answers with its login form.
func (e *Engine) detailPage(ctx context.Context, sc *SyncContext, id string) (string, error) {
	url := e.deps.Auth.Portal().DetailURL(id)

	for attempt := 0; attempt < 2; attempt++ {
		cookie := sc.Cookie()
		res, err := sc.Fetcher.Get(ctx, url, cookie)
		if err != nil {
			return "", err
		}
		page := res.String()
		if !portal.IsLoginPage(page) {
			return page, nil
		}
		if _, err := sc.Relogin(ctx, cookie); err != nil {
			if errors.Is(err, fetch.ErrRequestLimitExceeded) {
				return "", err
			}
			return "", errors.Join(auth.ErrAuthenticationFailed, err)
		}
	}
	return "", auth.ErrAuthenticationFailed
}
