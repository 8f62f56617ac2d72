package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sony/gobreaker"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/resilience/circuitbreaker"
	"marketfeed/internal/resilience/retry"
)

const (
	// DefaultTradingEconomicsURL is the US news stream page.
	DefaultTradingEconomicsURL = "https://tradingeconomics.com/stream?c=united+states"

	tradingEconomicsSource = "Trading Economics"

	// maxBodySize limits the scraped page to prevent memory exhaustion.
	maxBodySize = 10 * 1024 * 1024
)

// TradingEconomicsSource scrapes the Trading Economics news stream.
// Stream items carry a title, a description and a timestamp attribute; the
// page has no per-article URLs, so articles keep the stream URL and their
// identity comes from title plus timestamp.
type TradingEconomicsSource struct {
	streamURL      string
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	logger         *slog.Logger
}

// NewTradingEconomicsSource creates the scraper. streamURL may be empty to
// use the default US stream; client may be nil.
func NewTradingEconomicsSource(streamURL string, client *http.Client, logger *slog.Logger) *TradingEconomicsSource {
	if streamURL == "" {
		streamURL = DefaultTradingEconomicsURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TradingEconomicsSource{
		streamURL:      streamURL,
		client:         client,
		circuitBreaker: circuitbreaker.New(circuitbreaker.ScraperConfig()),
		retryConfig:    retry.FeedFetchConfig(),
		logger:         logger.With(slog.String("source", tradingEconomicsSource)),
	}
}

// Name implements Source.
func (s *TradingEconomicsSource) Name() string { return tradingEconomicsSource }

// Fetch scrapes the stream page with retry and circuit breaker.
func (s *TradingEconomicsSource) Fetch(ctx context.Context) ([]entity.RawArticle, error) {
	articles, err := retry.Do(ctx, s.retryConfig, func(ctx context.Context) ([]entity.RawArticle, error) {
		cbResult, err := s.circuitBreaker.Execute(func() (interface{}, error) {
			return s.doFetch(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				s.logger.Warn("scraper circuit breaker open, request rejected",
					slog.String("state", s.circuitBreaker.State().String()))
			}
			return nil, err
		}
		return cbResult.([]entity.RawArticle), nil
	})
	if err != nil {
		return nil, err
	}
	return articles, nil
}

// doFetch performs the actual scrape without retry or circuit breaker.
func (s *TradingEconomicsSource) doFetch(ctx context.Context) ([]entity.RawArticle, error) {
	doc, err := s.fetchHTML(ctx)
	if err != nil {
		return nil, err
	}
	return s.extractItems(doc), nil
}

// fetchHTML fetches and parses the stream page.
func (s *TradingEconomicsSource) fetchHTML(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status: %s", resp.Status),
		}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return doc, nil
}

// extractItems pulls stream items out of the parsed page. Items without a
// title are skipped.
func (s *TradingEconomicsSource) extractItems(doc *goquery.Document) []entity.RawArticle {
	var articles []entity.RawArticle

	doc.Find(".stream-item").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find(".title").Text())
		if title == "" {
			return
		}
		content := strings.TrimSpace(sel.Find(".description").Text())

		timestamp, ok := sel.Find(".date").Attr("data-value")
		if !ok {
			timestamp = ""
		}

		articles = append(articles, entity.RawArticle{
			Title:       title,
			Content:     content,
			URL:         s.streamURL,
			Source:      tradingEconomicsSource,
			PublishedAt: timestamp,
		})
	})

	s.logger.Debug("trading economics stream scraped", slog.Int("articles", len(articles)))
	return articles
}
