// Package fetch implements the store listing client: per-domain pooled HTTP
// transport, DNS fallback through the resolver, 429 handling, and capped
// exponential backoff on repeated failures.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/restockd/restockd/internal/monitor"
	"github.com/restockd/restockd/internal/telemetry"
)

// Resolver is the subset of the DNS resolver used by the client.
type Resolver interface {
	Resolve(ctx context.Context, domain string) (string, error)
	Probe(ctx context.Context, addr string) bool
}

// Waiter gates outbound requests per domain.
type Waiter interface {
	Wait(ctx context.Context, domain string) error
}

// Config controls the fetch client.
type Config struct {
	// PageLimit is the listing page size requested from the store.
	PageLimit int
	// UserAgent is sent on every listing request.
	UserAgent string
	// Timeout bounds one HTTP round trip.
	Timeout time.Duration
	// MaxBackoff caps the per-domain failure backoff window.
	MaxBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.PageLimit <= 0 {
		c.PageLimit = 100
	}
	if c.UserAgent == "" {
		c.UserAgent = "restockd/1.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

type listingResponse struct {
	Products []monitor.ProductRecord `json:"products"`
}

// Client fetches product listings. One reusable HTTP client is kept per
// domain so connections survive across cycles; pools are torn down by Close.
type Client struct {
	cfg      Config
	resolver Resolver
	limiter  Waiter
	logger   *zap.Logger
	retries  *retryTracker

	mu      sync.Mutex
	clients map[string]*http.Client

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Client.
func New(cfg Config, res Resolver, limiter Waiter, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:      cfg,
		resolver: res,
		limiter:  limiter,
		logger:   logger,
		retries:  newRetryTracker(cfg.MaxBackoff),
		clients:  make(map[string]*http.Client),
		sleep:    sleepCtx,
	}
}

// FetchListing retrieves and parses the product listing for one store.
// Failure classes: monitor.ErrDomainBackoff while inside the backoff window,
// monitor.ErrResolutionFailure / monitor.ErrProbeFailure when the store is
// unreachable, *monitor.FetchError on non-success responses, and
// *monitor.ParseError on a malformed payload.
func (c *Client) FetchListing(ctx context.Context, storeURL string) ([]monitor.ProductRecord, error) {
	u, err := url.Parse(storeURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("parse store url %q: %w", storeURL, err)
	}
	domain := u.Hostname()

	if until, blocked := c.retries.Blocked(domain); blocked {
		return nil, fmt.Errorf("%w: %s until %s", monitor.ErrDomainBackoff, domain, until.Format(time.RFC3339))
	}

	addr, err := c.resolver.Resolve(ctx, domain)
	if err != nil {
		return nil, err
	}
	if !c.resolver.Probe(ctx, addr) {
		return nil, fmt.Errorf("%w: %s (%s)", monitor.ErrProbeFailure, domain, addr)
	}

	if err := c.limiter.Wait(ctx, domain); err != nil {
		return nil, err
	}

	resp, body, err := c.issue(ctx, domain, storeURL)
	if err != nil {
		c.markFailure(domain, err)
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.logger.Warn("listing rate limited, retrying once",
			zap.String("domain", domain),
			zap.Duration("retry_after", retryAfter),
		)
		if err := c.sleep(ctx, retryAfter); err != nil {
			return nil, err
		}
		resp, body, err = c.issue(ctx, domain, storeURL)
		if err != nil {
			c.markFailure(domain, err)
			return nil, err
		}
	}

	if resp.StatusCode != http.StatusOK {
		ferr := &monitor.FetchError{Domain: domain, Status: resp.StatusCode}
		c.markFailure(domain, ferr)
		return nil, ferr
	}
	c.retries.Clear(domain)

	var listing listingResponse
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, &monitor.ParseError{Store: storeURL, Err: err}
	}
	return listing.Products, nil
}

// Close tears down the per-domain connection pools.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cl := range c.clients {
		if t, ok := cl.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
	c.clients = make(map[string]*http.Client)
}

func (c *Client) issue(ctx context.Context, domain, storeURL string) (*http.Response, []byte, error) {
	listingURL := fmt.Sprintf("%s/products.json?limit=%d", trimSlash(storeURL), c.cfg.PageLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.clientFor(domain).Do(req)
	if err != nil {
		return nil, nil, &monitor.FetchError{Domain: domain, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp)
	if err != nil {
		return nil, nil, &monitor.FetchError{Domain: domain, Status: resp.StatusCode, Err: err}
	}
	return resp, body, nil
}

// clientFor returns the pooled client for a domain, creating it on first use.
// The transport dials through the resolver so fallback DNS answers apply to
// the actual connection, not just the probe.
func (c *Client) clientFor(domain string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[domain]; ok {
		return cl
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, splitErr := net.SplitHostPort(addr)
			if splitErr != nil {
				return nil, fmt.Errorf("split dial addr %q: %w", addr, splitErr)
			}
			ip, resolveErr := c.resolver.Resolve(ctx, host)
			if resolveErr != nil {
				return nil, resolveErr
			}
			d := net.Dialer{Timeout: 10 * time.Second}
			return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
		},
	}
	cl := &http.Client{Timeout: c.cfg.Timeout, Transport: transport}
	c.clients[domain] = cl
	return cl
}

func (c *Client) markFailure(domain string, cause error) {
	failures := c.retries.MarkFailure(domain)
	telemetry.ObserveFetchFailure(domain)
	c.logger.Warn("listing fetch failed",
		zap.String("domain", domain),
		zap.Int("consecutive_failures", failures),
		zap.Error(cause),
	)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func readBody(resp *http.Response) ([]byte, error) {
	const maxBody = 8 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read listing body: %w", err)
	}
	return body, nil
}
