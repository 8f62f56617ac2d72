// Package analyzer provides AI-powered market analysis implementations.
// It includes adapters for Claude (Anthropic) and OpenAI APIs with reliability
// patterns: circuit breaker, bounded retry and client-side rate limiting.
// Model output is parsed field by field with defaults so a sloppy response
// degrades the result instead of failing it.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"marketfeed/internal/domain/entity"
)

// Analyzer derives an AnalysisResult from one article. Implementations are
// expensive; callers go through the analysis cache.
type Analyzer interface {
	Analyze(ctx context.Context, article *entity.Article) (*entity.AnalysisResult, error)
}

// maxContentChars bounds the article content included in the prompt to stay
// well inside model token limits.
const maxContentChars = 10000

// defaults applied when the model omits or mangles a field.
const (
	defaultSummary   = "Analysis completed"
	defaultShortTerm = "No immediate impact analysis"
	defaultLongTerm  = "No long-term impact"
)

// RateLimiter is a token bucket limiter for analysis API calls.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter with the given sustained rate and burst.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// buildPrompt constructs the analysis prompt. The model is instructed to
// answer with a single JSON object in a fixed structure.
func buildPrompt(article *entity.Article) string {
	content := article.Content
	if len(content) > maxContentChars {
		content = content[:maxContentChars] + "..."
	}

	return fmt.Sprintf(`Analyze this financial news article and provide insights in JSON format.

Article Title: %s
Article Content: %s

Provide your analysis in this exact JSON structure:
{
  "summary": "Brief 2-3 sentence summary of the article",
  "sentiment": {
    "score": "number between -1 and 1",
    "label": "one of: positive, negative, neutral",
    "confidence": "number between 0 and 1"
  },
  "marketImpact": {
    "shortTerm": "1-2 sentence analysis of short-term market impact",
    "longTerm": "1-2 sentence analysis of long-term implications",
    "affectedSectors": ["list", "of", "affected", "sectors"]
  },
  "keyPoints": [
    "3-5 key points from the article"
  ],
  "relatedIndicators": [
    "list of relevant economic indicators"
  ]
}

Return only the JSON object, no other text.`, article.Title, content)
}

// wireAnalysis is the loose shape the model is asked to produce. Numbers
// arrive as raw messages because models sometimes quote them.
type wireAnalysis struct {
	Summary   string `json:"summary"`
	Sentiment struct {
		Score      json.RawMessage `json:"score"`
		Label      string          `json:"label"`
		Confidence json.RawMessage `json:"confidence"`
	} `json:"sentiment"`
	MarketImpact struct {
		ShortTerm       string   `json:"shortTerm"`
		Immediate       string   `json:"immediate"`
		LongTerm        string   `json:"longTerm"`
		AffectedSectors []string `json:"affectedSectors"`
	} `json:"marketImpact"`
	KeyPoints         []string `json:"keyPoints"`
	RelatedIndicators []string `json:"relatedIndicators"`
}

// parseAnalysis turns raw model output into an AnalysisResult. Missing or
// malformed fields fall back to defaults; only output with no extractable
// JSON object at all fails, wrapping entity.ErrMalformedResponse.
func parseAnalysis(content string) (*entity.AnalysisResult, error) {
	payload, ok := extractJSON(content)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in model output", entity.ErrMalformedResponse)
	}

	var wire wireAnalysis
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedResponse, err)
	}

	result := &entity.AnalysisResult{
		Summary: wire.Summary,
		Sentiment: entity.Sentiment{
			Score:      parseNumber(wire.Sentiment.Score),
			Label:      wire.Sentiment.Label,
			Confidence: parseNumber(wire.Sentiment.Confidence),
		},
		MarketImpact: entity.MarketImpact{
			ShortTerm:       wire.MarketImpact.ShortTerm,
			LongTerm:        wire.MarketImpact.LongTerm,
			AffectedSectors: wire.MarketImpact.AffectedSectors,
		},
		KeyPoints:         wire.KeyPoints,
		RelatedIndicators: wire.RelatedIndicators,
	}

	if result.Summary == "" {
		result.Summary = defaultSummary
	}
	if !entity.ValidLabel(result.Sentiment.Label) {
		result.Sentiment.Label = entity.SentimentNeutral
	}
	if result.MarketImpact.ShortTerm == "" {
		// Some models answer with the older "immediate" field name.
		result.MarketImpact.ShortTerm = wire.MarketImpact.Immediate
	}
	if result.MarketImpact.ShortTerm == "" {
		result.MarketImpact.ShortTerm = defaultShortTerm
	}
	if result.MarketImpact.LongTerm == "" {
		result.MarketImpact.LongTerm = defaultLongTerm
	}
	if result.MarketImpact.AffectedSectors == nil {
		result.MarketImpact.AffectedSectors = []string{}
	}
	if len(result.KeyPoints) == 0 {
		result.KeyPoints = []string{"No key points available"}
	}
	if result.RelatedIndicators == nil {
		result.RelatedIndicators = []string{}
	}

	return result, nil
}

// extractJSON strips markdown fences and surrounding chatter, returning the
// outermost JSON object.
func extractJSON(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

// parseNumber reads a JSON number that may arrive bare or quoted. Anything
// unreadable becomes 0.
func parseNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}
