// Package frontapi is a read-only client for the Front API.
//
// Every request goes through a shared ratelimit.Limiter. Backpressure (HTTP 429)
// is retried with bounded exponential backoff; retries bypass the limiter so
// the backoff does not queue behind it and compound the delay.
package frontapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/roach88/frontcache/internal/ratelimit"
)

// DefaultBaseURL is the public Front API endpoint.
const DefaultBaseURL = "https://api2.frontapp.com"

// maxErrorBody bounds how much of a failed response is kept in HTTPError.
const maxErrorBody = 512

// Config holds client settings.
type Config struct {
	BaseURL      string
	Token        string
	PageSize     int
	MaxAttempts  int
	BackoffFloor time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// DefaultConfig returns the default client settings (without a token).
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		PageSize:     100,
		MaxAttempts:  5,
		BackoffFloor: 2 * time.Second,
		BackoffBase:  time.Second,
		BackoffMax:   2 * time.Minute,
	}
}

// Client performs authenticated GETs against the Front API.
type Client struct {
	cfg     Config
	limiter *ratelimit.Limiter
	clock   ratelimit.Clock
	logger  *slog.Logger
	base    *http.Client
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client the bearer transport wraps.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

// WithClock sets the clock used for backoff sleeps.
func WithClock(clock ratelimit.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client. It fails with ErrMissingCredential when no token
// is configured, before any request is attempted.
func NewClient(cfg Config, limiter *ratelimit.Limiter, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingCredential
	}

	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}

	c := &Client{
		cfg:     cfg,
		limiter: limiter,
		clock:   ratelimit.SystemClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.DefaultConfig(), c.clock)
	}

	ctx := context.Background()
	if c.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	}
	c.http = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.Token,
		TokenType:   "Bearer",
	}))

	return c, nil
}

// BackoffWait computes the wait before retrying a 429 at the given attempt:
// max(floor, hint, base·2^attempt), with the exponential term capped.
func (c *Client) BackoffWait(attempt int, hint time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20
	}
	wait := c.cfg.BackoffBase << attempt
	if wait > c.cfg.BackoffMax {
		wait = c.cfg.BackoffMax
	}
	if hint > wait {
		wait = hint
	}
	if c.cfg.BackoffFloor > wait {
		wait = c.cfg.BackoffFloor
	}
	return wait
}

type response struct {
	status     int
	retryAfter time.Duration
	body       []byte
}

// FetchWithRetry GETs rawURL and returns the response body.
//
// attempt is the 1-based attempt number of this call. When useLimiter is true
// the first request waits its turn on the shared limiter; retries after a 429
// never do. Fails with RateLimitExceededError once attempt reaches the
// configured maximum, and with HTTPError on any other non-2xx status.
func (c *Client) FetchWithRetry(ctx context.Context, rawURL string, attempt int, useLimiter bool) ([]byte, error) {
	if attempt < 1 {
		attempt = 1
	}

	for {
		res, err := c.fetchOnce(ctx, rawURL, useLimiter)
		if err != nil {
			return nil, err
		}

		switch {
		case res.status == http.StatusTooManyRequests:
			if attempt >= c.cfg.MaxAttempts {
				return nil, &RateLimitExceededError{URL: rawURL, Attempts: attempt}
			}
			wait := c.BackoffWait(attempt, res.retryAfter)
			c.logger.Warn("rate limited, backing off",
				"url", rawURL, "attempt", attempt, "wait", wait, "retry_after", res.retryAfter)
			if err := c.clock.Sleep(ctx, wait); err != nil {
				return nil, err
			}
			attempt++
			useLimiter = false

		case res.status < 200 || res.status > 299:
			body := string(res.body)
			if len(body) > maxErrorBody {
				body = body[:maxErrorBody]
			}
			return nil, &HTTPError{Status: res.status, URL: rawURL, Body: strings.TrimSpace(body)}

		default:
			return res.body, nil
		}
	}
}

// fetchOnce issues a single GET, optionally holding a limiter slot for the
// duration of the request including the body read.
func (c *Client) fetchOnce(ctx context.Context, rawURL string, useLimiter bool) (response, error) {
	var res response
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("get %s: %w", rawURL, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s: %w", rawURL, err)
		}
		res = response{
			status:     resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			body:       body,
		}
		return nil
	}

	var err error
	if useLimiter {
		err = c.limiter.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	return res, err
}

// parseRetryAfter reads a Retry-After value in (possibly fractional) seconds.
// Missing or malformed hints yield zero.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// getPage fetches and decodes one page of a Front listing.
func getPage[T any](ctx context.Context, c *Client, rawURL string) (Page[T], error) {
	body, err := c.FetchWithRetry(ctx, rawURL, 1, true)
	if err != nil {
		return Page[T]{}, err
	}

	var lr listResponse[T]
	if err := json.Unmarshal(body, &lr); err != nil {
		return Page[T]{}, fmt.Errorf("decode %s: %w", rawURL, err)
	}

	page := Page[T]{Results: lr.Results}
	if lr.Pagination.Next != nil {
		page.Next = *lr.Pagination.Next
	}
	return page, nil
}

// listAll walks a listing to the end and returns every result.
func listAll[T any](ctx context.Context, c *Client, rawURL string) ([]T, error) {
	var all []T
	seen := make(map[string]bool)
	for next := rawURL; next != "" && !seen[next]; {
		seen[next] = true
		page, err := getPage[T](ctx, c, next)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		next = page.Next
	}
	return all, nil
}

// ListInboxes returns every inbox visible to the token.
func (c *Client) ListInboxes(ctx context.Context) ([]Inbox, error) {
	inboxes, err := listAll[Inbox](ctx, c, c.cfg.BaseURL+"/inboxes")
	if err != nil {
		return nil, fmt.Errorf("list inboxes: %w", err)
	}
	return inboxes, nil
}

// ConversationsURL returns the first-page URL of an inbox's conversation listing.
func (c *Client) ConversationsURL(inboxID string) string {
	return fmt.Sprintf("%s/inboxes/%s/conversations?limit=%d",
		c.cfg.BaseURL, url.PathEscape(inboxID), c.cfg.PageSize)
}

// FetchConversations fetches one page of conversations.
func (c *Client) FetchConversations(ctx context.Context, pageURL string) (ConversationPage, error) {
	return getPage[Conversation](ctx, c, pageURL)
}

// ListMessages returns every message of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	msgs, err := listAll[Message](ctx, c, c.cfg.BaseURL+"/conversations/"+url.PathEscape(conversationID)+"/messages")
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", conversationID, err)
	}
	return msgs, nil
}
