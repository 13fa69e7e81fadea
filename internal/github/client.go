package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"harvestbot/internal/retry"
	"harvestbot/pkg/logx"
)

const (
	apiVersion     = "2022-11-28"
	defaultBaseURL = "https://api.github.com"
	userAgent      = "harvestbot"

	// maxResponseBytes bounds a single response body read.
	maxResponseBytes = 16 << 20
)

// Config configures a Client. Only Token is required.
type Config struct {
	// BaseURL defaults to https://api.github.com. It must use HTTPS unless
	// AllowInsecure is set.
	BaseURL       string
	AllowInsecure bool

	Token string

	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration

	// RatePerSec caps outbound requests. Zero means unlimited.
	RatePerSec float64

	// Retry is applied to transport errors, 5xx and rate-limited replies.
	// Retry.Max defaults to 3 when zero; use a negative value to disable.
	Retry retry.Policy

	// ETagCacheSize bounds the conditional-GET cache; zero means 256 URLs.
	ETagCacheSize int

	Logger logx.Logger

	// OnResponse observes every attempt. Status is 0 for transport errors.
	OnResponse func(method string, status int)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Client is a GitHub REST client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	rateLimit  *rateLimitTracker
	etags      *etagCache
	policy     retry.Policy
	log        logx.Logger
	onResponse func(method string, status int)
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "https://") {
		if !cfg.AllowInsecure || !strings.HasPrefix(baseURL, "http://") {
			return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
		}
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("github: token is required")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	policy := cfg.Retry
	if policy.Max == 0 {
		policy.Max = 3
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 2 * time.Minute
	}

	log := cfg.Logger
	if log.IsZero() {
		log = logx.Nop()
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: hc,
		limiter:    lim,
		rateLimit:  newRateLimitTracker(cfg.Now),
		etags:      newETagCache(cfg.ETagCacheSize),
		policy:     policy,
		log:        log.With(logx.String("comp", "github")),
		onResponse: cfg.OnResponse,
	}, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// do performs a request against a path relative to the base URL and
// decodes a JSON reply into out (when out is non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, _, err := c.doURL(ctx, method, c.baseURL+path, in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("github: decode %s %s: %w", method, path, err)
	}
	return nil
}

// doURL runs one logical request with retries and returns the raw reply.
func (c *Client) doURL(ctx context.Context, method, url string, in any) ([]byte, http.Header, error) {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("github: encode request: %w", err)
		}
		payload = b
	}

	var (
		body   []byte
		header http.Header
	)
	err := retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		b, h, err := c.attempt(ctx, method, url, payload)
		if err != nil {
			if !retry.IsNoRetry(err) {
				c.log.Warn("github request failed",
					logx.String("method", method),
					logx.String("url", url),
					logx.Int("attempt", attempt),
					logx.Err(err),
				)
			}
			return err
		}
		body, header = b, h
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return body, header, nil
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte) ([]byte, http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, retry.NoRetry(err)
		}
	}
	if err := c.rateLimit.wait(ctx); err != nil {
		return nil, nil, retry.NoRetry(err)
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, nil, retry.NoRetry(fmt.Errorf("github: build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var cached etagEntry
	var haveCached bool
	if method == http.MethodGet {
		if cached, haveCached = c.etags.get(url); haveCached {
			req.Header.Set("If-None-Match", cached.etag)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, 0)
		if ctx.Err() != nil {
			return nil, nil, retry.NoRetry(err)
		}
		return nil, nil, fmt.Errorf("github: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	c.observe(method, resp.StatusCode)
	c.rateLimit.update(resp.Header)

	if resp.StatusCode == http.StatusNotModified && haveCached {
		return cached.body, resp.Header, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("github: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIErrorFromBody(resp.StatusCode, body)
		switch {
		case IsRateLimited(apiErr):
			return nil, nil, retry.RetryAfter(apiErr, c.rateLimit.retryAfter(resp.Header))
		case resp.StatusCode >= 500:
			return nil, nil, apiErr
		default:
			return nil, nil, retry.NoRetry(apiErr)
		}
	}

	if method == http.MethodGet {
		c.etags.put(url, resp.Header.Get("ETag"), body)
	}
	return body, resp.Header, nil
}

func (c *Client) observe(method string, status int) {
	if c.onResponse != nil {
		c.onResponse(method, status)
	}
}
