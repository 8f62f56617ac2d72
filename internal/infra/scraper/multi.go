package scraper

import (
	"context"
	"log/slog"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/feed"
)

// MultiFetcher combines the upstream bulk fetch with secondary sources into
// one poll result. The primary fetch failing fails the poll; a secondary
// source failing only loses that source's articles for the cycle.
type MultiFetcher struct {
	primary feed.BulkFetcher
	sources []Source
	logger  *slog.Logger
}

// NewMultiFetcher builds a MultiFetcher. primary may be nil when the feed
// runs entirely on scraped sources.
func NewMultiFetcher(primary feed.BulkFetcher, sources []Source, logger *slog.Logger) *MultiFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiFetcher{primary: primary, sources: sources, logger: logger}
}

// FetchArticles implements feed.BulkFetcher.
func (m *MultiFetcher) FetchArticles(ctx context.Context, fresh bool) ([]entity.RawArticle, error) {
	var articles []entity.RawArticle

	if m.primary != nil {
		primary, err := m.primary.FetchArticles(ctx, fresh)
		if err != nil {
			return nil, err
		}
		articles = append(articles, primary...)
	}

	for _, source := range m.sources {
		items, err := source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("secondary source fetch failed",
				slog.String("source", source.Name()),
				slog.String("error", err.Error()))
			continue
		}
		articles = append(articles, items...)
	}

	return articles, nil
}
