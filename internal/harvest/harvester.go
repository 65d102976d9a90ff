// Package harvest discovers order ids by walking the portal's home page,
// its menu links, its frames and their pagers.
package harvest

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/portal"
	"github.com/rs/zerolog/log"
)

// ErrSessionRejected is returned by Scan when the portal answers with its
// login form instead of the requested page
var ErrSessionRejected = errors.New("portal served login form during scan")

// Defaults bounding one harvest
const (
	DefaultMaxSecondaryPages = 6
	// MaxPageHops caps pager links followed from a single starting page
	MaxPageHops = 5
	DefaultPageDelay = 250 * time.Millisecond
)

// Options bounds the crawl
type Options struct {
	MaxSecondaryPages int
	MaxPageHops       int
	// PageDelay is waited between sequential secondary page fetches
	PageDelay time.Duration
}

// DefaultOptions returns the production bounds
func DefaultOptions() Options {
	return Options{
		MaxSecondaryPages: DefaultMaxSecondaryPages,
		MaxPageHops:       MaxPageHops,
		PageDelay:         DefaultPageDelay,
	}
}

// Result is the outcome of one harvest
type Result struct {
	IDs IDSet
	// Pages counts every page fetched beyond the home page, pager hops included
	Pages int
	// Failed counts secondary pages that could not be read
	Failed int
	// Partial is set when the crawl did not read every page it meant to:
	// the budget ran out, a page failed or the session was rejected.
	// A partial result cannot tell which known orders are gone.
	Partial bool
}

// Harvester walks the portal for order ids
type Harvester struct {
	portal portal.Config
	opts   Options
}

// New creates a harvester
func New(cfg portal.Config, opts Options) *Harvester {
	if opts.MaxSecondaryPages < 0 {
		opts.MaxSecondaryPages = 0
	}
	if opts.MaxPageHops <= 0 || opts.MaxPageHops > MaxPageHops {
		opts.MaxPageHops = MaxPageHops
	}
	return &Harvester{portal: cfg.WithDefaults(), opts: opts}
}

// Harvest collects ids from the already fetched home page and then scans a
// bounded number of secondary pages breadth first. Running out of budget
// ends the crawl with a partial result instead of an error. Other page
// failures are skipped but still mark the result partial.
func (h *Harvester) Harvest(ctx context.Context, f *fetch.Fetcher, cookie string, home *fetch.Response) (*Result, error) {
	result := &Result{IDs: make(IDSet)}
	result.IDs.Add(ExtractIDs(home.String())...)

	visited := map[string]bool{home.URL: true, h.portal.HomeURL(): true}
	queue := h.candidates(home.String(), home.URL, visited)

	log.Debug().
		Int("ids", len(result.IDs)).
		Int("candidates", len(queue)).
		Msg("Home page harvested")

	scanned := 0
	for len(queue) > 0 && scanned < h.opts.MaxSecondaryPages {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		next := queue[0]
		queue = queue[1:]

		if scanned > 0 && h.opts.PageDelay > 0 {
			select {
			case <-time.After(h.opts.PageDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
		scanned++

		scan, err := h.Scan(ctx, f, next, cookie, func(id string) {
			result.IDs.Add(id)
		})
		if scan != nil {
			result.Pages += scan.Pages
			for _, u := range scan.Visited {
				visited[u] = true
			}
			queue = append(queue, h.candidates(scan.Body, next, visited)...)
		}
		switch {
		case errors.Is(err, fetch.ErrRequestLimitExceeded):
			log.Warn().
				Str("url", next).
				Int("ids", len(result.IDs)).
				Msg("Request budget exhausted, harvest stopped early")
			result.Partial = true
		case errors.Is(err, ErrSessionRejected):
			log.Warn().Str("url", next).Msg("Session rejected during harvest, stopping")
			result.Failed++
			result.Partial = true
		case err != nil:
			log.Warn().Str("url", next).Err(err).Msg("Secondary page failed, skipping")
			result.Failed++
			result.Partial = true
			continue
		default:
			continue
		}
		break
	}

	log.Info().
		Int("ids", len(result.IDs)).
		Int("pages", result.Pages).
		Int("failed", result.Failed).
		Bool("partial", result.Partial).
		Msg("Harvest finished")

	return result, nil
}

// candidates returns unvisited menu and frame links, search pages first,
// and marks them visited.
func (h *Harvester) candidates(page, pageURL string, visited map[string]bool) []string {
	links, err := ExtractLinks(page, pageURL, h.portal)
	if err != nil {
		log.Debug().Err(err).Str("url", pageURL).Msg("Could not read page links")
		return nil
	}

	var out []string
	for _, u := range append(links.Frames, links.Menu...) {
		if visited[u] {
			continue
		}
		visited[u] = true
		out = append(out, u)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priority(out[i]) < priority(out[j])
	})
	return out
}

// ScanResult describes one scanned page and its pager chain
type ScanResult struct {
	Pages   int
	Visited []string
	// Body is the first page of the chain, used to discover further links
	Body string
}

// Scan fetches url and follows its pager at most MaxPageHops times,
// reporting every id found. The budget is checked before each fetch. A
// login form anywhere in the chain ends the scan with ErrSessionRejected.
func (h *Harvester) Scan(ctx context.Context, f *fetch.Fetcher, url, cookie string, onID func(id string)) (*ScanResult, error) {
	result := &ScanResult{}
	seen := make(map[string]bool)

	for hop := 0; url != "" && hop <= h.opts.MaxPageHops; hop++ {
		if seen[url] {
			break
		}
		seen[url] = true

		if f.Budget().Exhausted() {
			return result, fetch.ErrRequestLimitExceeded
		}

		res, err := f.Get(ctx, url, cookie)
		if err != nil {
			return result, err
		}
		result.Pages++
		result.Visited = append(result.Visited, url, res.URL)

		page := res.String()
		if portal.IsLoginPage(page) {
			return result, ErrSessionRejected
		}
		if hop == 0 {
			result.Body = page
		}

		ids := ExtractIDs(page)
		for _, id := range ids {
			onID(id)
		}
		log.Debug().Str("url", url).Int("hop", hop).Int("ids", len(ids)).Msg("Scanned page")

		links, err := ExtractLinks(page, res.URL, h.portal)
		if err != nil {
			break
		}
		url = links.Next
	}
	return result, nil
}
