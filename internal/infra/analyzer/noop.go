package analyzer

import (
	"context"
	"time"

	"marketfeed/internal/domain/entity"
)

// NoOp is an analyzer that derives a trivial result from the article itself
// without calling any API. Useful for development and tests.
type NoOp struct{}

// NewNoOp creates a new NoOp analyzer.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Analyze returns a neutral result whose summary is the truncated content.
func (n *NoOp) Analyze(_ context.Context, article *entity.Article) (*entity.AnalysisResult, error) {
	const maxLength = 500
	summary := article.Content
	if summary == "" {
		summary = article.Title
	}
	if len(summary) > maxLength {
		summary = summary[:maxLength] + "..."
	}

	return &entity.AnalysisResult{
		Summary: summary,
		Sentiment: entity.Sentiment{
			Label: entity.SentimentNeutral,
		},
		MarketImpact: entity.MarketImpact{
			ShortTerm:       defaultShortTerm,
			LongTerm:        defaultLongTerm,
			AffectedSectors: []string{},
		},
		KeyPoints:         []string{"No key points available"},
		RelatedIndicators: []string{},
		CreatedAt:         time.Now(),
	}, nil
}
