// Package fetcher provides full-article content extraction used to enhance
// thin articles before analysis. It fetches the article page and runs the
// Mozilla Readability algorithm over it.
package fetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"

	"marketfeed/internal/resilience/circuitbreaker"
)

// Sentinel errors for content fetching.
var (
	ErrInvalidURL         = errors.New("invalid url")
	ErrTooManyRedirects   = errors.New("too many redirects")
	ErrBodyTooLarge       = errors.New("response body too large")
	ErrExtractionFailed   = errors.New("content extraction failed")
	ErrNoContentExtracted = errors.New("no content extracted")
)

// Config holds settings for content fetching.
type Config struct {
	// Timeout bounds one page fetch.
	Timeout time.Duration

	// MaxBodySize caps the fetched page size in bytes.
	MaxBodySize int64

	// MaxRedirects bounds redirect chains.
	MaxRedirects int

	// DenyPrivateIPs blocks requests to private address space.
	DenyPrivateIPs bool

	// MinContentLength is the content length below which an article is
	// considered thin and worth enhancing.
	MinContentLength int
}

// DefaultConfig returns sane content fetch settings.
func DefaultConfig() Config {
	return Config{
		Timeout:          20 * time.Second,
		MaxBodySize:      10 * 1024 * 1024,
		MaxRedirects:     5,
		DenyPrivateIPs:   true,
		MinContentLength: 200,
	}
}

// ReadabilityFetcher fetches article pages and extracts clean text.
// Safe for concurrent use.
type ReadabilityFetcher struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	config         Config
	logger         *slog.Logger
}

// NewReadabilityFetcher creates a fetcher with redirect validation and a
// circuit breaker.
func NewReadabilityFetcher(config Config, logger *slog.Logger) *ReadabilityFetcher {
	if logger == nil {
		logger = slog.Default()
	}

	f := &ReadabilityFetcher{
		circuitBreaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "content-fetch",
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.6,
			MinRequests:      5,
		}),
		config: config,
		logger: logger,
	}

	f.client = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.config.MaxRedirects {
				return fmt.Errorf("%w: %d redirects", ErrTooManyRedirects, len(via))
			}
			if err := validateURL(req.URL.String(), f.config.DenyPrivateIPs); err != nil {
				return fmt.Errorf("redirect target rejected: %w", err)
			}
			return nil
		},
	}
	return f
}

// NeedsEnhancement reports whether an article's content is thin enough to
// justify a page fetch.
func (f *ReadabilityFetcher) NeedsEnhancement(content string) bool {
	return len(content) < f.config.MinContentLength
}

// FetchContent fetches the page at urlStr and returns the extracted article
// text. Callers fall back to the original content on error.
func (f *ReadabilityFetcher) FetchContent(ctx context.Context, urlStr string) (string, error) {
	if err := validateURL(urlStr, f.config.DenyPrivateIPs); err != nil {
		return "", err
	}

	result, err := f.circuitBreaker.Execute(func() (interface{}, error) {
		return f.doFetch(ctx, urlStr)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// doFetch performs the request and extraction without the circuit breaker.
func (f *ReadabilityFetcher) doFetch(ctx context.Context, urlStr string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", "MarketFeedBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Err != nil {
			return "", urlErr.Err
		}
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	htmlBytes, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize+1))
	if err != nil {
		return "", fmt.Errorf("read page body: %w", err)
	}
	if int64(len(htmlBytes)) > f.config.MaxBodySize {
		return "", fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, f.config.MaxBodySize)
	}

	// Redirects may have moved the page; Readability wants the final URL.
	pageURL, _ := url.Parse(urlStr)
	if resp.Request != nil && resp.Request.URL != nil {
		pageURL = resp.Request.URL
	}

	article, err := readability.FromReader(bytes.NewReader(htmlBytes), pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if article.TextContent == "" {
		return "", ErrNoContentExtracted
	}

	f.logger.Debug("content extracted",
		slog.String("url", urlStr),
		slog.Int("length", len(article.TextContent)))
	return article.TextContent, nil
}
