// Package scraper provides secondary poll sources: RSS/Atom feeds and HTML
// scraping of news streams. Each source produces raw articles in the same
// wire shape as the upstream bulk fetch, so the reconciler treats all of
// them uniformly.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sony/gobreaker"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/resilience/circuitbreaker"
	"marketfeed/internal/resilience/retry"
)

const userAgent = "MarketFeedBot/1.0"

// Source is one secondary article source polled alongside the upstream bulk
// fetch.
type Source interface {
	// Name identifies the source in logs and on produced articles.
	Name() string

	// Fetch retrieves the source's current articles.
	Fetch(ctx context.Context) ([]entity.RawArticle, error)
}

// RSSSource fetches articles from one RSS/Atom feed using gofeed.
// It includes circuit breaker and retry logic for improved reliability.
type RSSSource struct {
	name           string
	feedURL        string
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	logger         *slog.Logger
}

// NewRSSSource creates an RSSSource for one feed URL. client may be nil.
func NewRSSSource(name, feedURL string, client *http.Client, logger *slog.Logger) *RSSSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RSSSource{
		name:           name,
		feedURL:        feedURL,
		client:         client,
		circuitBreaker: circuitbreaker.New(circuitbreaker.FeedFetchConfig()),
		retryConfig:    retry.FeedFetchConfig(),
		logger:         logger.With(slog.String("source", name)),
	}
}

// Name implements Source.
func (s *RSSSource) Name() string { return s.name }

// Fetch retrieves and parses the feed with retry and circuit breaker.
func (s *RSSSource) Fetch(ctx context.Context) ([]entity.RawArticle, error) {
	articles, err := retry.Do(ctx, s.retryConfig, func(ctx context.Context) ([]entity.RawArticle, error) {
		cbResult, err := s.circuitBreaker.Execute(func() (interface{}, error) {
			return s.doFetch(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				s.logger.Warn("rss fetch circuit breaker open, request rejected",
					slog.String("url", s.feedURL),
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

// doFetch performs the actual feed fetch without retry or circuit breaker.
func (s *RSSSource) doFetch(ctx context.Context) ([]entity.RawArticle, error) {
	fp := gofeed.NewParser()
	fp.UserAgent = userAgent
	fp.Client = s.client

	feed, err := fp.ParseURLWithContext(s.feedURL, ctx)
	if err != nil {
		return nil, err
	}

	articles := make([]entity.RawArticle, 0, len(feed.Items))
	for _, it := range feed.Items {
		var publishedAt string
		if it.PublishedParsed != nil {
			publishedAt = it.PublishedParsed.Format(time.RFC3339)
		} else {
			publishedAt = it.Published
		}

		content := it.Content
		if content == "" {
			content = it.Description
		}

		articles = append(articles, entity.RawArticle{
			Title:       it.Title,
			URL:         it.Link,
			Content:     content,
			Source:      s.name,
			PublishedAt: publishedAt,
			Tags:        it.Categories,
		})
	}

	s.logger.Debug("rss feed fetched", slog.Int("articles", len(articles)))
	return articles, nil
}
