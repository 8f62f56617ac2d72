// Package feedapi implements the client for the upstream article service:
// the bulk-fetch endpoint used by the poll path and the status endpoint used
// by the health monitor.
package feedapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/resilience/circuitbreaker"
	"marketfeed/internal/resilience/retry"
)

const (
	// bulkFetchTimeout bounds one bulk refresh request. Full refreshes can
	// be large, so this is deliberately generous.
	bulkFetchTimeout = 90 * time.Second

	// maxResponseBytes caps the bulk response body to prevent memory
	// exhaustion from a misbehaving upstream.
	maxResponseBytes = 32 << 20 // 32 MiB
)

// Client talks to the upstream article service.
// It includes circuit breaker and retry logic for improved reliability.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	logger         *slog.Logger
}

// NewClient creates a Client for the given base URL. httpClient may be nil,
// in which case a client with sane timeouts is constructed.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: bulkFetchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:        baseURL,
		httpClient:     httpClient,
		circuitBreaker: circuitbreaker.New(circuitbreaker.FeedFetchConfig()),
		retryConfig:    retry.FeedFetchConfig(),
		logger:         logger,
	}
}

// FetchArticles retrieves the current article set from the upstream bulk
// endpoint. fresh asks the upstream to bypass its own caches.
//
// Non-2xx responses fail with *retry.HTTPError; a payload that is not a JSON
// array fails with entity.ErrMalformedResponse and is never retried.
func (c *Client) FetchArticles(ctx context.Context, fresh bool) ([]entity.RawArticle, error) {
	articles, err := retry.Do(ctx, c.retryConfig, func(ctx context.Context) ([]entity.RawArticle, error) {
		result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doFetch(ctx, fresh)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				c.logger.Warn("bulk fetch circuit breaker open, request rejected",
					slog.String("state", c.circuitBreaker.State().String()))
			}
			return nil, err
		}
		return result.([]entity.RawArticle), nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch articles: %w", err)
	}
	return articles, nil
}

// CheckHealth probes the upstream status endpoint once. Implements
// health.Prober.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &retry.HTTPError{StatusCode: resp.StatusCode, Message: "health probe failed"}
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&status); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if status.Status != "ok" && status.Status != "healthy" {
		return fmt.Errorf("upstream reports status %q", status.Status)
	}
	return nil
}

// doFetch performs the actual bulk request without retry or circuit breaker.
func (c *Client) doFetch(ctx context.Context, fresh bool) ([]entity.RawArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkFetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/articles?fresh=%t", c.baseURL, fresh)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build bulk request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &retry.HTTPError{StatusCode: resp.StatusCode, Message: "bulk fetch failed"}
		if !httpErr.IsRetryable() {
			return nil, retry.Permanent(httpErr)
		}
		return nil, httpErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read bulk response: %w", err)
	}

	var articles []entity.RawArticle
	if err := json.Unmarshal(body, &articles); err != nil {
		// A non-list payload is a contract violation, not a transient fault.
		return nil, retry.Permanent(fmt.Errorf("%w: bulk payload is not an article list: %v",
			entity.ErrMalformedResponse, err))
	}

	c.logger.Debug("bulk fetch completed",
		slog.Int("articles", len(articles)),
		slog.Bool("fresh", fresh),
		slog.Duration("duration", time.Since(start)))
	return articles, nil
}
