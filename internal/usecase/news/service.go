// Package news is the application surface over the reconciliation core: it
// exposes the live article set, change subscriptions and on-demand analysis
// to the presentation layer.
package news

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"marketfeed/internal/cache"
	"marketfeed/internal/domain/entity"
	"marketfeed/internal/feed"
	"marketfeed/internal/infra/analyzer"
	"marketfeed/internal/reconcile"
)

// batchParallelism bounds concurrent analysis calls in AnalyzeBatch. Matches
// the rate limits of the analysis APIs.
const batchParallelism = 3

// ContentFetcher enhances thin article content before analysis. Optional.
type ContentFetcher interface {
	NeedsEnhancement(content string) bool
	FetchContent(ctx context.Context, url string) (string, error)
}

// Service wires the feed subscription, the reconciler and the analysis cache
// into the operations the presentation layer needs.
type Service struct {
	reconciler     *reconcile.Reconciler
	subscription   *feed.Subscription
	analysisCache  *cache.AnalysisCache
	analyzer       analyzer.Analyzer
	contentFetcher ContentFetcher
	logger         *slog.Logger

	closeOnce sync.Once
}

// NewService builds the news service. contentFetcher may be nil to disable
// content enhancement.
func NewService(
	reconciler *reconcile.Reconciler,
	subscription *feed.Subscription,
	analysisCache *cache.AnalysisCache,
	articleAnalyzer analyzer.Analyzer,
	contentFetcher ContentFetcher,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		reconciler:     reconciler,
		subscription:   subscription,
		analysisCache:  analysisCache,
		analyzer:       articleAnalyzer,
		contentFetcher: contentFetcher,
		logger:         logger,
	}
}

// Start begins article delivery: initial load, push channel, poll loop.
func (s *Service) Start(ctx context.Context) error {
	return s.subscription.Start(ctx)
}

// Subscribe registers a callback invoked after every batch that visibly
// changes the article set. The returned function unsubscribes and is safe to
// call more than once.
func (s *Service) Subscribe(onChange func(articles []*entity.Article)) (unsubscribe func()) {
	return s.reconciler.Subscribe(onChange)
}

// Articles returns the current article set, newest first.
func (s *Service) Articles() []*entity.Article {
	return s.reconciler.CurrentOrdered()
}

// GetAnalysis returns the analysis for an article, computing it at most once
// across tiers. A successful result is also attached to the reconciled
// article so subscribers see it.
func (s *Service) GetAnalysis(ctx context.Context, article *entity.Article) (*entity.AnalysisResult, error) {
	result, err := s.analysisCache.GetOrCompute(ctx, article, s.compute)
	if err != nil {
		return nil, err
	}
	s.reconciler.AttachAnalysis(article.Identity, result)
	return result, nil
}

// AnalyzeBatch analyzes several articles with bounded parallelism. Articles
// whose analysis fails are skipped; only context cancellation aborts the
// batch. Returns results keyed by article identity.
func (s *Service) AnalyzeBatch(ctx context.Context, articles []*entity.Article) (map[string]*entity.AnalysisResult, error) {
	results := make(map[string]*entity.AnalysisResult, len(articles))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(batchParallelism)

	for _, article := range articles {
		article := article
		eg.Go(func() error {
			result, err := s.GetAnalysis(egCtx, article)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.logger.Warn("analysis failed, skipping article",
					slog.String("identity", article.Identity),
					slog.String("title", article.Title),
					slog.String("error", err.Error()))
				return nil
			}

			mu.Lock()
			results[article.Identity] = result
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return results, fmt.Errorf("analyze batch: %w", err)
	}
	return results, nil
}

// Refresh forces a full bulk fetch bypassing upstream caches.
func (s *Service) Refresh(ctx context.Context) error {
	return s.subscription.Refresh(ctx)
}

// SweepCache evicts expired local cache entries and returns the count.
func (s *Service) SweepCache() int {
	return s.analysisCache.Sweep()
}

// Close stops article delivery. Idempotent.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.subscription.Close()
	})
	return err
}

// compute is the cache miss path: enhance thin content, then call the
// analyzer.
func (s *Service) compute(ctx context.Context, article *entity.Article) (*entity.AnalysisResult, error) {
	enhanced := s.enhanceContent(ctx, article)
	return s.analyzer.Analyze(ctx, enhanced)
}

// enhanceContent fetches the full article page when the reconciled content
// is thin. It never fails; on any error the original article is used.
func (s *Service) enhanceContent(ctx context.Context, article *entity.Article) *entity.Article {
	if s.contentFetcher == nil || article.URL == "" || !s.contentFetcher.NeedsEnhancement(article.Content) {
		return article
	}

	content, err := s.contentFetcher.FetchContent(ctx, article.URL)
	if err != nil {
		s.logger.Debug("content enhancement failed, using original",
			slog.String("url", article.URL),
			slog.String("error", err.Error()))
		return article
	}
	if len(content) <= len(article.Content) {
		return article
	}

	enriched := *article
	enriched.Content = content
	return &enriched
}
