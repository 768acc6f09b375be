// Package provider talks to the social data provider. Client owns transport
// concerns (retry, backoff, circuit breaking); API decodes the two endpoints
// the analysis needs.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/DukeRupert/reelstat/internal/metrics"
)

const (
	DefaultKeyHeader      = "x-access-key"
	DefaultOverloadStatus = http.StatusTooManyRequests
	DefaultMaxAttempts    = 3
	DefaultInitialDelay   = time.Second
	DefaultRequestTimeout = 30 * time.Second

	maxResponseBytes = 8 << 20
)

// Config contains configuration for the provider client.
type Config struct {
	BaseURL        string
	APIKey         string
	KeyHeader      string
	OverloadStatus int // provider-specific "slow down" status
	MaxAttempts    int // attempts per logical call, including the first
	InitialDelay   time.Duration
	RequestTimeout time.Duration
}

// Client performs provider calls with retry and a shared circuit breaker.
type Client struct {
	config  Config
	base    *url.URL
	http    *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates a client. The breaker is injected so a single instance
// can be shared process-wide.
func NewClient(config Config, breaker *CircuitBreaker, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base URL %q", config.BaseURL)
	}
	if breaker == nil {
		return nil, errors.New("circuit breaker is required")
	}

	if config.KeyHeader == "" {
		config.KeyHeader = DefaultKeyHeader
	}
	if config.OverloadStatus == 0 {
		config.OverloadStatus = DefaultOverloadStatus
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultInitialDelay
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}

	return &Client{
		config:  config,
		base:    base,
		http:    httpClient,
		breaker: breaker,
		logger:  logger.With("component", "provider"),
	}, nil
}

// FetchWithRetry GETs endpoint (a path relative to the provider base URL)
// and returns the response body. Failures are *FetchError.
//
// 404 and 500 are returned immediately. The overload status, other non-2xx
// statuses and network errors count against the breaker and are retried
// with delays of InitialDelay*2^n. The breaker is consulted before every
// attempt; while open the call fails with ServiceUnavailable and nothing is
// sent.
func (c *Client) FetchWithRetry(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	target, err := c.resolve(endpoint, query)
	if err != nil {
		return nil, err
	}

	label := target.Path
	backoff := retry.WithMaxRetries(uint64(c.config.MaxAttempts-1), retry.NewExponential(c.config.InitialDelay))

	var (
		body    []byte
		attempt int
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.ProviderRetriesTotal.WithLabelValues(label).Inc()
		}

		if !c.breaker.Allow() {
			metrics.BreakerRejectionsTotal.Inc()
			metrics.ProviderRequestsTotal.WithLabelValues(label, string(KindServiceUnavailable)).Inc()
			return &FetchError{Kind: KindServiceUnavailable, Endpoint: label}
		}

		data, err := c.do(ctx, target)
		if err == nil {
			c.breaker.RecordSuccess()
			metrics.ProviderRequestsTotal.WithLabelValues(label, "ok").Inc()
			body = data
			return nil
		}

		outcome := string(KindOf(err))
		if outcome == "" {
			outcome = "canceled"
		}
		metrics.ProviderRequestsTotal.WithLabelValues(label, outcome).Inc()

		if !retryable(err) {
			return err
		}
		c.breaker.RecordFailure()
		if attempt < c.config.MaxAttempts {
			c.logger.Warn("Retrying provider request",
				"endpoint", label,
				"attempt", attempt,
				"error", err,
			)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// resolve joins endpoint onto the base URL. Endpoints that name another
// host are refused.
func (c *Client) resolve(endpoint string, query url.Values) (*url.URL, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, &FetchError{Kind: KindHTTPError, Endpoint: endpoint, Err: err}
	}
	if ref.Host != "" && ref.Host != c.base.Host {
		return nil, &FetchError{Kind: KindHTTPError, Endpoint: endpoint, Err: ErrForeignHost}
	}

	target := *c.base
	target.Path = strings.TrimSuffix(c.base.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	target.RawQuery = query.Encode()
	return &target, nil
}

// do performs one attempt and classifies the outcome.
func (c *Client) do(ctx context.Context, target *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &FetchError{Kind: KindHTTPError, Endpoint: target.Path, Err: err}
	}
	req.Header.Set(c.config.KeyHeader, c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{Kind: KindProviderUnavailable, Endpoint: target.Path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &FetchError{Kind: KindProviderUnavailable, Status: resp.StatusCode, Endpoint: target.Path, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, &FetchError{Kind: KindProfileNotFound, Status: resp.StatusCode, Endpoint: target.Path}
	case resp.StatusCode == http.StatusInternalServerError:
		return nil, &FetchError{Kind: KindProviderServerError, Status: resp.StatusCode, Endpoint: target.Path}
	case resp.StatusCode == c.config.OverloadStatus:
		return nil, &FetchError{Kind: KindProviderUnavailable, Status: resp.StatusCode, Endpoint: target.Path}
	default:
		return nil, &FetchError{Kind: KindHTTPError, Status: resp.StatusCode, Endpoint: target.Path}
	}
}

// retryable reports whether err counts against the breaker and may be retried.
func retryable(err error) bool {
	switch KindOf(err) {
	case KindProviderUnavailable, KindHTTPError:
		return true
	}
	return false
}
