package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"docgate/internal/metrics"
)

const maxBodyBytes = 32 << 20

// Headers copied from the caller onto the origin request.
var forwardedHeaders = []string{"cookie", "authorization"}

type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// Breaker settings; zero values use 5 consecutive failures and 30s.
	FailureThreshold uint32
	OpenTimeout      time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Client fetches pages through a rate limiter and a circuit breaker.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rateLimiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		limiter: newRateLimiter(opts.RequestsPerSecond, opts.Burst),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}

	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := opts.OpenTimeout
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "origin",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only an unreachable origin trips the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("origin circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			c.metrics.OriginCircuitBreaker.Set(breakerGauge(to))
		},
	})
	return c
}

func breakerGauge(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Fetch reads the page's edit resource, forwarding the caller's cookie. The
// error is nil, ErrNotFound, ErrUnavailable or ErrMalformed (possibly wrapped).
func (c *Client) Fetch(ctx context.Context, pageID, spaceID string, caller map[string]string) (Document, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	doc, err := c.fetch(ctx, pageID, spaceID, caller)
	c.metrics.OriginRequests.WithLabelValues(outcome(err)).Inc()
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.Warn("origin fetch failed",
			zap.String("page_id", pageID),
			zap.String("space_id", spaceID),
			zap.Error(err),
		)
	}
	return doc, err
}

func (c *Client) fetch(ctx context.Context, pageID, spaceID string, caller map[string]string) (Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Document{}, fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, pageID, spaceID, caller)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Document{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return Document{}, err
	}
	return result.(Document), nil
}

func (c *Client) pageURL(pageID, spaceID string) string {
	return c.baseURL + "/space/" + url.PathEscape(spaceID) + "/page/" + url.PathEscape(pageID) + "/edit"
}

func (c *Client) get(ctx context.Context, pageID, spaceID string, caller map[string]string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(pageID, spaceID), nil)
	if err != nil {
		return Document{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	for _, name := range forwardedHeaders {
		if value, ok := headerValue(caller, name); ok {
			req.Header.Set(name, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Document{}, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.backoff(retryAfter(resp.Header.Get("Retry-After")))
		return Document{}, fmt.Errorf("%w: rate limited by origin", ErrUnavailable)
	case resp.StatusCode >= 500:
		return Document{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		// The caller may not see this page; treat it as absent for them.
		return Document{}, fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode >= 300:
		return Document{}, fmt.Errorf("%w: unexpected status %d", ErrMalformed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Document{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return decodeDocument(body)
}

func headerValue(headers map[string]string, name string) (string, bool) {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}

func retryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unavailable"
	}
}
