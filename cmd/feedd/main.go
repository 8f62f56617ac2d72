// feedd is the market feed daemon. It keeps a reconciled article set fed by
// push delivery, polling and secondary scrapers, serves analysis through the
// two-tier cache, and exposes Prometheus metrics and a health endpoint.
package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"marketfeed/internal/cache"
	"marketfeed/internal/config"
	"marketfeed/internal/feed"
	"marketfeed/internal/health"
	"marketfeed/internal/infra/adapter/persistence/postgres"
	"marketfeed/internal/infra/analyzer"
	"marketfeed/internal/infra/db"
	"marketfeed/internal/infra/feedapi"
	"marketfeed/internal/infra/fetcher"
	"marketfeed/internal/infra/pushchannel"
	"marketfeed/internal/infra/scraper"
	"marketfeed/internal/observability/logging"
	"marketfeed/internal/reconcile"
	"marketfeed/internal/repository"
	"marketfeed/internal/usecase/news"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// .env is optional; env vars win either way.
	_ = godotenv.Load()

	logger := logging.NewLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		slog.String("feed_api", cfg.FeedAPIBaseURL),
		slog.String("analyzer", cfg.AnalyzerProvider),
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Bool("push_enabled", cfg.PushWebSocketURL != ""),
		slog.Bool("durable_cache", cfg.DatabaseURL != ""))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, analysisRepo := initDurableStore(logger, cfg)
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", slog.Any("error", err))
			}
		}()
	}

	analysisCache := cache.New(cache.NewMemoryStore(), analysisRepo, cache.Config{
		MaxSize: cfg.CacheMaxSize,
		MaxAge:  cfg.CacheMaxAge,
	}, logging.WithComponent(logger, "cache"))
	stopSweep := analysisCache.StartSweep(cfg.CacheSweepInterval)
	defer stopSweep()

	articleAnalyzer := createAnalyzer(logging.WithComponent(logger, "analyzer"), cfg)
	contentFetcher := createContentFetcher(logging.WithComponent(logger, "fetcher"), cfg)

	apiClient := feedapi.NewClient(cfg.FeedAPIBaseURL, createHTTPClient(), logging.WithComponent(logger, "feed-api"))
	bulkFetcher := createBulkFetcher(logging.WithComponent(logger, "scraper"), cfg, apiClient)
	push := createPushChannel(logging.WithComponent(logger, "push"), cfg)

	reconciler := reconcile.New()
	subscription := feed.NewSubscription(reconciler, bulkFetcher, push, logging.WithComponent(logger, "subscription"),
		feed.WithPollInterval(cfg.PollInterval),
		feed.WithFreshWindow(cfg.FreshWindow))

	service := news.NewService(reconciler, subscription, analysisCache, articleAnalyzer, contentFetcher, logging.WithComponent(logger, "news"))
	defer func() {
		if err := service.Close(); err != nil {
			logger.Error("failed to close service", slog.Any("error", err))
		}
	}()

	monitor := health.NewMonitor(apiClient, cfg.HealthCheckInterval, logging.WithComponent(logger, "health"))
	monitor.Start(ctx)
	defer monitor.Stop()

	metricsServer := startMetricsServer(logger, cfg.MetricsAddr)
	healthServer := startHealthServer(logger, cfg.HealthAddr, monitor, service)

	if err := service.Start(ctx); err != nil {
		logger.Error("failed to start feed service", slog.Any("error", err))
		os.Exit(1)
	}

	scheduler := startScheduler(logger, cfg, service)
	defer func() {
		<-scheduler.Stop().Done()
	}()

	logger.Info("feedd started")
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown failed", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

// initDurableStore opens the database and returns the analysis repository.
// Without DATABASE_URL the durable tier is disabled and the cache runs on
// the local tier alone.
func initDurableStore(logger *slog.Logger, cfg config.Config) (*sql.DB, repository.AnalysisRepository) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, durable analysis cache disabled")
		return nil, nil
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := db.MigrateUp(database); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	return database, postgres.NewAnalysisRepo(database)
}

// createAnalyzer selects the analysis backend from configuration.
func createAnalyzer(logger *slog.Logger, cfg config.Config) analyzer.Analyzer {
	switch cfg.AnalyzerProvider {
	case config.ProviderOpenAI:
		a, err := analyzer.NewOpenAI(cfg.OpenAIAPIKey, analyzer.DefaultOpenAIConfig(), logger)
		if err != nil {
			logger.Error("failed to create OpenAI analyzer", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("using OpenAI analysis backend")
		return a
	case config.ProviderClaude:
		logger.Info("using Claude analysis backend")
		return analyzer.NewClaude(cfg.ClaudeAPIKey, analyzer.DefaultClaudeConfig(), logger)
	default:
		logger.Info("using no-op analysis backend")
		return analyzer.NewNoOp()
	}
}

func createContentFetcher(logger *slog.Logger, cfg config.Config) news.ContentFetcher {
	if !cfg.EnableContentFetch {
		logger.Info("content fetching disabled")
		return nil
	}
	fetchCfg := fetcher.DefaultConfig()
	if cfg.MinContentLength > 0 {
		fetchCfg.MinContentLength = cfg.MinContentLength
	}
	logger.Info("content fetching enabled", slog.Int("min_content_length", fetchCfg.MinContentLength))
	return fetcher.NewReadabilityFetcher(fetchCfg, logger)
}

// createBulkFetcher wraps the primary API client with the configured
// secondary sources.
func createBulkFetcher(logger *slog.Logger, cfg config.Config, apiClient *feedapi.Client) feed.BulkFetcher {
	var sources []scraper.Source
	scraperClient := createScraperHTTPClient()
	for _, f := range cfg.RSSFeeds {
		sources = append(sources, scraper.NewRSSSource(f.Name, f.URL, scraperClient, logger))
	}
	if cfg.EnableTradingEconomics {
		sources = append(sources, scraper.NewTradingEconomicsSource(cfg.TradingEconomicsURL, scraperClient, logger))
	}
	if len(sources) == 0 {
		return apiClient
	}
	logger.Info("secondary sources enabled", slog.Int("count", len(sources)))
	return scraper.NewMultiFetcher(apiClient, sources, logger)
}

func createPushChannel(logger *slog.Logger, cfg config.Config) feed.PushChannel {
	if cfg.PushWebSocketURL == "" {
		logger.Info("push channel disabled, polling only")
		return nil
	}
	return pushchannel.NewWebSocket(pushchannel.Config{
		URL:    cfg.PushWebSocketURL,
		Stream: cfg.PushStream,
	}, logger)
}

// createHTTPClient builds the shared HTTP client for the upstream API.
// TLS 1.2+ is enforced.
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// createScraperHTTPClient builds the client for secondary sources, with a
// shorter timeout since scrapes are best effort.
func createScraperHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

func startMetricsServer(logger *slog.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return server
}

// startHealthServer exposes /healthz (process liveness) and /readyz
// (upstream availability plus current article count).
func startHealthServer(logger *slog.Logger, addr string, monitor *health.Monitor, service *news.Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		upstream := monitor.IsAvailable()
		if !upstream {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"upstream_available": upstream,
			"checking":           monitor.IsChecking(),
			"articles":           len(service.Articles()),
		})
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("health server listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	return server
}

// startScheduler runs the daily fresh refresh and a cache sweep on the
// configured cron schedule.
func startScheduler(logger *slog.Logger, cfg config.Config, service *news.Service) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc(cfg.RefreshSchedule, func() {
		jobCtx, jobCancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer jobCancel()

		start := time.Now()
		if err := service.Refresh(jobCtx); err != nil {
			logger.Error("scheduled refresh failed", slog.Any("error", err))
		} else {
			logger.Info("scheduled refresh completed", slog.Duration("duration", time.Since(start)))
		}
		removed := service.SweepCache()
		if removed > 0 {
			logger.Info("scheduled cache sweep", slog.Int("removed", removed))
		}
	})
	if err != nil {
		logger.Error("invalid refresh schedule", slog.String("schedule", cfg.RefreshSchedule), slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()
	logger.Info("scheduler started", slog.String("schedule", cfg.RefreshSchedule))
	return c
}
