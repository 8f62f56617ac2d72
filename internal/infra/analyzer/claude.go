package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/observability/metrics"
	"marketfeed/internal/resilience/circuitbreaker"
	"marketfeed/internal/resilience/retry"
)

// ClaudeConfig holds configuration parameters for the Claude analyzer.
type ClaudeConfig struct {
	// Model is the Claude API model identifier.
	Model string

	// MaxTokens is the maximum number of tokens for the API response.
	MaxTokens int

	// Timeout is the maximum duration for a single analysis API call.
	Timeout time.Duration

	// RequestsPerSecond and Burst bound the client-side call rate.
	RequestsPerSecond float64
	Burst             int
}

// DefaultClaudeConfig returns the default Claude analyzer configuration.
func DefaultClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		Model:             string(anthropic.Model("claude-sonnet-4-5-20250929")),
		MaxTokens:         1024,
		Timeout:           60 * time.Second,
		RequestsPerSecond: 1.0,
		Burst:             3,
	}
}

// Claude implements the Analyzer interface using Anthropic's Claude API.
// It includes circuit breaker, retry and rate limiting for reliability.
type Claude struct {
	client         anthropic.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	rateLimiter    *RateLimiter
	config         ClaudeConfig
	logger         *slog.Logger
	now            func() time.Time
}

// NewClaude creates a new Claude analyzer with the given API key.
func NewClaude(apiKey string, config ClaudeConfig, logger *slog.Logger) *Claude {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("initialized claude analyzer",
		slog.String("model", config.Model),
		slog.Int("max_tokens", config.MaxTokens))

	return &Claude{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		circuitBreaker: circuitbreaker.New(circuitbreaker.AnalysisAPIConfig()),
		retryConfig:    retry.AIAPIConfig(),
		rateLimiter:    NewRateLimiter(config.RequestsPerSecond, config.Burst),
		config:         config,
		logger:         logger,
		now:            time.Now,
	}
}

// Analyze derives an AnalysisResult for the article using the messages API.
func (c *Claude) Analyze(ctx context.Context, article *entity.Article) (*entity.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("claude rate limit wait: %w", err)
	}

	result, err := retry.Do(ctx, c.retryConfig, func(ctx context.Context) (*entity.AnalysisResult, error) {
		cbResult, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doAnalyze(ctx, article)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				c.logger.Warn("claude api circuit breaker open, request rejected",
					slog.String("state", c.circuitBreaker.State().String()))
				return nil, fmt.Errorf("%w: circuit breaker open", entity.ErrAnalysisUnavailable)
			}
			return nil, err
		}
		return cbResult.(*entity.AnalysisResult), nil
	})
	if err != nil {
		return nil, fmt.Errorf("claude analyze failed: %w", err)
	}
	return result, nil
}

// doAnalyze performs the actual API call without retry or circuit breaker.
func (c *Claude) doAnalyze(ctx context.Context, article *entity.Article) (*entity.AnalysisResult, error) {
	requestID := uuid.New().String()
	start := c.now()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(buildPrompt(article)),
			),
		},
	})

	duration := time.Since(start)

	if err != nil {
		metrics.RecordAnalysis(duration, false)
		c.logger.ErrorContext(ctx, "analysis failed",
			slog.String("request_id", requestID),
			slog.String("identity", article.Identity),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("claude api error: %w", err)
	}

	if len(message.Content) == 0 {
		metrics.RecordAnalysis(duration, false)
		return nil, retry.Permanent(fmt.Errorf("%w: claude returned empty response", entity.ErrMalformedResponse))
	}

	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		metrics.RecordAnalysis(duration, false)
		return nil, retry.Permanent(fmt.Errorf("%w: claude returned unexpected content type", entity.ErrMalformedResponse))
	}

	result, err := parseAnalysis(textBlock.Text)
	if err != nil {
		metrics.RecordAnalysis(duration, false)
		return nil, retry.Permanent(err)
	}
	result.CreatedAt = c.now()

	metrics.RecordAnalysis(duration, true)
	c.logger.InfoContext(ctx, "analysis completed",
		slog.String("request_id", requestID),
		slog.String("identity", article.Identity),
		slog.String("sentiment", result.Sentiment.Label),
		slog.Duration("duration", duration))
	return result, nil
}
