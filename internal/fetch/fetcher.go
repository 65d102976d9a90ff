// Package fetch issues portal and routing requests under a per-run request budget.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/hnsync/internal/ratelimit"
	"github.com/fieldops/hnsync/internal/retry"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Options configures the shared HTTP client
type Options struct {
	Timeout    time.Duration
	Proxy      string
	UserAgents []string
	// Limiter paces requests per host. Nil disables pacing.
	Limiter ratelimit.RateLimiter
}

// Client holds the long-lived HTTP machinery shared by every run
type Client struct {
	follow   *resty.Client
	noFollow *resty.Client
	agents   *AgentPool
	limiter  ratelimit.RateLimiter
}

// NewClient builds the shared client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	// Sessions are carried explicitly per user, never through a shared jar
	follow := resty.New().
		SetCookieJar(nil).
		SetTimeout(opts.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	// Login responses carry their cookie on the redirect itself, so that
	// client hands back the 3xx instead of following it.
	noFollow := resty.New().
		SetCookieJar(nil).
		SetTimeout(opts.Timeout).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))

	if opts.Proxy != "" {
		follow.SetProxy(opts.Proxy)
		noFollow.SetProxy(opts.Proxy)
	}

	return &Client{
		follow:   follow,
		noFollow: noFollow,
		agents:   NewAgentPool(opts.UserAgents),
		limiter:  opts.Limiter,
	}
}

// NewFetcher starts a run: a fresh budget and one user agent for all of its requests
func (c *Client) NewFetcher(limit int) *Fetcher {
	return &Fetcher{
		client:    c,
		budget:    NewBudget(limit),
		userAgent: c.agents.Next(),
	}
}

// Close releases idle connections
func (c *Client) Close() {
	c.follow.GetClient().CloseIdleConnections()
	c.noFollow.GetClient().CloseIdleConnections()
}

// Request describes one outbound call
type Request struct {
	Method     string
	URL        string
	Cookie     string
	Form       map[string]string
	Query      map[string]string
	Headers    map[string]string
	NoRedirect bool
}

// Response is the buffered result of a request
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// String returns the body as text
func (r *Response) String() string {
	return string(r.Body)
}

// IsRedirect reports whether the response is a 3xx with a Location header
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Header.Get("Location") != ""
}

// Doer performs a single request
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Fetcher is the budgeted view of the client used by one run
type Fetcher struct {
	client    *Client
	budget    *Budget
	userAgent string
}

// Name returns the name of this fetcher
func (f *Fetcher) Name() string {
	return "BudgetedFetcher"
}

// Budget exposes the run's request budget
func (f *Fetcher) Budget() *Budget {
	return f.budget
}

// UserAgent returns the agent used for every request of this run
func (f *Fetcher) UserAgent() string {
	return f.userAgent
}

// Get is a convenience wrapper for a cookie-authenticated GET
func (f *Fetcher) Get(ctx context.Context, url, cookie string) (*Response, error) {
	return f.Do(ctx, Request{Method: http.MethodGet, URL: url, Cookie: cookie})
}

// Do charges the budget and performs the request. The budget is charged
// before any network activity, so failed requests still count. Statuses of
// 400 and above are returned together with a retry.HTTPError.
func (f *Fetcher) Do(ctx context.Context, req Request) (*Response, error) {
	if err := f.budget.Acquire(); err != nil {
		return nil, err
	}

	if f.client.limiter != nil {
		if err := f.client.limiter.Wait(ctx, req.URL); err != nil {
			return nil, fmt.Errorf("pacing %s: %w", req.URL, err)
		}
	}

	start := time.Now()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	log.Debug().
		Str("method", method).
		Str("url", req.URL).
		Int("budget_used", f.budget.Used()).
		Int("budget_limit", f.budget.Limit()).
		Msg("Starting fetch")

	hc := f.client.follow
	if req.NoRedirect {
		hc = f.client.noFollow
	}

	r := hc.R().
		SetContext(ctx).
		SetHeader("User-Agent", f.userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9")
	if req.Cookie != "" {
		r.SetHeader("Cookie", req.Cookie)
	}
	for key, value := range req.Headers {
		r.SetHeader(key, value)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if len(req.Form) > 0 {
		r.SetFormData(req.Form)
	}

	res, err := r.Execute(strings.ToUpper(method), req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL, err)
	}

	out := &Response{
		URL:        req.URL,
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
	}
	if raw := res.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		out.URL = raw.Request.URL.String()
	}

	log.Debug().
		Str("url", out.URL).
		Int("status", out.StatusCode).
		Int64("response_time_ms", time.Since(start).Milliseconds()).
		Int("bytes", len(out.Body)).
		Msg("Fetch completed")

	if out.StatusCode >= 400 {
		return out, retry.NewHTTPError(out.StatusCode, http.StatusText(out.StatusCode), out.URL)
	}
	return out, nil
}
