// internal/sipp/client.go
package sipp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	custom_errors "sipp-sync/internal/errors"
	"sipp-sync/internal/metrics"
	"sipp-sync/internal/model"
)

// maxErrorBodySize bounds how much of a failed response is kept for the error message.
const maxErrorBodySize = 4 * 1024

const breakerName = "sipp-api"

// Options configures a Client.
type Options struct {
	BaseURL           string
	APIKey            string
	BearerToken       string
	Timeout           time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// PageRequest selects one page of a SIPP resource.
type PageRequest struct {
	Page         int
	PerPage      int
	UpdatedSince *time.Time
}

// Page is one page of raw SIPP records.
type Page struct {
	Records []json.RawMessage
	Number  int
	Total   int
	HasMore bool
}

// Fetcher is the part of the client the sync job depends on.
type Fetcher interface {
	FetchPage(ctx context.Context, entity model.EntityType, req PageRequest) (Page, error)
}

// Client talks to the SIPP API with authentication, client-side rate
// limiting, fixed-delay retries and a circuit breaker.
type Client struct {
	baseURL       *url.URL
	http          *http.Client
	limiter       *WindowLimiter
	breaker       *gobreaker.CircuitBreaker[[]byte]
	retryAttempts int
	retryDelay    time.Duration
	logger        *slog.Logger
}

var _ Fetcher = (*Client)(nil)

// NewClient creates and configures a new Client instance.
// A bearer token is attached through an oauth2 transport; an API key is sent as X-API-Key.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid SIPP base URL %q", opts.BaseURL)
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}

	var transport http.RoundTripper = http.DefaultTransport
	if opts.APIKey != "" {
		transport = &apiKeyTransport{key: opts.APIKey, base: transport}
	}
	if opts.BearerToken != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.BearerToken, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	c := &Client{
		baseURL:       base,
		http:          &http.Client{Transport: transport, Timeout: opts.Timeout},
		limiter:       NewWindowLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		retryAttempts: opts.RetryAttempts,
		retryDelay:    opts.RetryDelay,
		logger:        logger,
	}
	c.breaker = newBreaker(logger)
	return c, nil
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only an unhealthy upstream trips the breaker; rejected credentials,
		// rate limiting and 4xx responses say nothing about availability.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var rateErr *custom_errors.RateLimitError
			if errors.As(err, &rateErr) {
				return true
			}
			return !custom_errors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("SIPP circuit breaker state changed", "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// FetchPage fetches one page of records for an entity type.
func (c *Client) FetchPage(ctx context.Context, entity model.EntityType, req PageRequest) (Page, error) {
	resource := entity.Resource()
	if resource == "" {
		return Page{}, &custom_errors.ErrUnknownEntityType{Name: string(entity)}
	}
	if req.Page < 1 {
		req.Page = 1
	}

	reqURL := c.baseURL.JoinPath(resource)
	q := reqURL.Query()
	q.Set("page", strconv.Itoa(req.Page))
	if req.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(req.PerPage))
	}
	if req.UpdatedSince != nil {
		q.Set("updated_since", req.UpdatedSince.UTC().Format(time.RFC3339))
	}
	reqURL.RawQuery = q.Encode()

	c.logger.Debug("Fetching SIPP page", "resource", resource, "page", req.Page, "per_page", req.PerPage)

	body, err := c.getWithRetry(ctx, resource, reqURL.String())
	if err != nil {
		return Page{}, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page{}, &custom_errors.TransportError{Resource: resource, StatusCode: http.StatusOK, Err: fmt.Errorf("decode page: %w", err)}
	}

	page := Page{
		Records: env.Data,
		Number:  req.Page,
		Total:   env.Meta.Total,
	}
	if env.Meta.CurrentPage > 0 {
		page.Number = env.Meta.CurrentPage
	}
	if env.Meta.LastPage > 0 {
		page.HasMore = page.Number < env.Meta.LastPage
	} else {
		// Without pagination metadata a full page implies there may be another.
		page.HasMore = req.PerPage > 0 && len(env.Data) == req.PerPage
	}
	return page, nil
}

type envelope struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		CurrentPage int `json:"current_page"`
		LastPage    int `json:"last_page"`
		PerPage     int `json:"per_page"`
		Total       int `json:"total"`
	} `json:"meta"`
}

// getWithRetry performs up to retryAttempts attempts with a fixed delay between them.
func (c *Client) getWithRetry(ctx context.Context, resource, reqURL string) ([]byte, error) {
	var (
		body    []byte
		attempt int
	)

	operation := func() error {
		attempt++

		waited, err := c.limiter.Wait(ctx)
		if waited > 0 {
			metrics.RateLimitWaitSeconds.Add(waited.Seconds())
			c.logger.Debug("Waited for SIPP rate limiter", "resource", resource, "waited", waited.String())
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		b, err := c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, resource, reqURL)
		})
		if err == nil {
			metrics.APIRequests.WithLabelValues(resource, "success").Inc()
			body = b
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.APIRequests.WithLabelValues(resource, "rejected").Inc()
			return backoff.Permanent(&custom_errors.TransportError{Resource: resource, Err: err})
		}
		metrics.APIRequests.WithLabelValues(resource, resultLabel(err)).Inc()

		if ctx.Err() != nil || !custom_errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}

		var rateErr *custom_errors.RateLimitError
		if errors.As(err, &rateErr) && attempt < c.retryAttempts {
			wait := rateErr.RetryAfter
			if wait <= 0 {
				wait = c.limiter.Window()
			}
			c.logger.Warn("SIPP rate limited the client, waiting", "resource", resource, "wait", wait.String())
			if err := sleep(ctx, wait); err != nil {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.retryAttempts-1)),
		ctx,
	)
	notify := func(err error, next time.Duration) {
		c.logger.Warn("SIPP request failed, retrying", "resource", resource, "attempt", attempt, "max_attempts", c.retryAttempts, "retry_in", next.String(), "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// do performs a single HTTP attempt and maps failures onto the error taxonomy.
func (c *Client) do(ctx context.Context, resource, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, &custom_errors.TransportError{Resource: resource, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &custom_errors.TimeoutError{Resource: resource, Err: err}
		}
		return nil, &custom_errors.TransportError{Resource: resource, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, &custom_errors.TimeoutError{Resource: resource, Err: err}
			}
			return nil, &custom_errors.TransportError{Resource: resource, Err: fmt.Errorf("read body: %w", err)}
		}
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &custom_errors.AuthError{Resource: resource, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &custom_errors.RateLimitError{Resource: resource, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &custom_errors.TransportError{Resource: resource, StatusCode: resp.StatusCode, Err: errors.New(string(msg))}
	}
}

func resultLabel(err error) string {
	var (
		timeoutErr *custom_errors.TimeoutError
		authErr    *custom_errors.AuthError
		rateErr    *custom_errors.RateLimitError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &rateErr):
		return "rate_limited"
	default:
		return "error"
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apiKeyTransport adds the SIPP API key header to every request.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("X-API-Key", t.key)
	return t.base.RoundTrip(r)
}
