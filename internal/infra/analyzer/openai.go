package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/observability/metrics"
	"marketfeed/internal/resilience/circuitbreaker"
	"marketfeed/internal/resilience/retry"
)

// OpenAIConfig holds configuration parameters for the OpenAI analyzer.
type OpenAIConfig struct {
	// Model is the OpenAI API model identifier.
	Model string

	// MaxTokens is the maximum number of tokens for the API response.
	MaxTokens int

	// Timeout is the maximum duration for a single analysis API call.
	Timeout time.Duration

	// RequestsPerSecond and Burst bound the client-side call rate.
	RequestsPerSecond float64
	Burst             int
}

// DefaultOpenAIConfig returns the default OpenAI analyzer configuration.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:             openai.GPT4oMini,
		MaxTokens:         1024,
		Timeout:           60 * time.Second,
		RequestsPerSecond: 1.0,
		Burst:             3,
	}
}

// Validate checks the configuration.
func (c *OpenAIConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	}
	return nil
}

// OpenAI implements the Analyzer interface using OpenAI's chat API.
// It includes circuit breaker, retry and rate limiting for reliability.
type OpenAI struct {
	client         *openai.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	rateLimiter    *RateLimiter
	config         OpenAIConfig
	logger         *slog.Logger
	now            func() time.Time
}

// NewOpenAI creates a new OpenAI analyzer with the given API key.
func NewOpenAI(apiKey string, config OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OpenAI configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("initialized openai analyzer",
		slog.String("model", config.Model),
		slog.Int("max_tokens", config.MaxTokens))

	return &OpenAI{
		client:         openai.NewClient(apiKey),
		circuitBreaker: circuitbreaker.New(circuitbreaker.AnalysisAPIConfig()),
		retryConfig:    retry.AIAPIConfig(),
		rateLimiter:    NewRateLimiter(config.RequestsPerSecond, config.Burst),
		config:         config,
		logger:         logger,
		now:            time.Now,
	}, nil
}

// Analyze derives an AnalysisResult for the article using the chat API.
func (o *OpenAI) Analyze(ctx context.Context, article *entity.Article) (*entity.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	if err := o.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("openai rate limit wait: %w", err)
	}

	result, err := retry.Do(ctx, o.retryConfig, func(ctx context.Context) (*entity.AnalysisResult, error) {
		cbResult, err := o.circuitBreaker.Execute(func() (interface{}, error) {
			return o.doAnalyze(ctx, article)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				o.logger.Warn("openai api circuit breaker open, request rejected",
					slog.String("state", o.circuitBreaker.State().String()))
				return nil, fmt.Errorf("%w: circuit breaker open", entity.ErrAnalysisUnavailable)
			}
			return nil, err
		}
		return cbResult.(*entity.AnalysisResult), nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai analyze failed: %w", err)
	}
	return result, nil
}

// doAnalyze performs the actual API call without retry or circuit breaker.
func (o *OpenAI) doAnalyze(ctx context.Context, article *entity.Article) (*entity.AnalysisResult, error) {
	start := o.now()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.config.Model,
		MaxTokens: o.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a financial analyst expert. Analyze the provided news article and market context.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(article),
			},
		},
	})

	duration := time.Since(start)

	if err != nil {
		metrics.RecordAnalysis(duration, false)
		o.logger.ErrorContext(ctx, "analysis failed",
			slog.String("identity", article.Identity),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		metrics.RecordAnalysis(duration, false)
		return nil, retry.Permanent(fmt.Errorf("%w: openai returned no choices", entity.ErrMalformedResponse))
	}

	result, err := parseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		metrics.RecordAnalysis(duration, false)
		return nil, retry.Permanent(err)
	}
	result.CreatedAt = o.now()

	metrics.RecordAnalysis(duration, true)
	o.logger.InfoContext(ctx, "analysis completed",
		slog.String("identity", article.Identity),
		slog.String("sentiment", result.Sentiment.Label),
		slog.Duration("duration", duration))
	return result, nil
}
