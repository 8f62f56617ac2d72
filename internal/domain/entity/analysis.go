package entity

import "time"

// Sentiment labels produced by the analysis service.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// AnalysisResult is the expensive derived artifact for one article.
// At most one result is durably persisted per article identity; once created
// it is never mutated, only re-derived.
type AnalysisResult struct {
	Summary           string       `json:"summary"`
	Sentiment         Sentiment    `json:"sentiment"`
	MarketImpact      MarketImpact `json:"marketImpact"`
	KeyPoints         []string     `json:"keyPoints"`
	RelatedIndicators []string     `json:"relatedIndicators"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// MarketImpact describes the expected short and long term market effect of
// an article.
type MarketImpact struct {
	ShortTerm       string   `json:"shortTerm"`
	LongTerm        string   `json:"longTerm"`
	AffectedSectors []string `json:"affectedSectors"`
}

// ValidLabel reports whether a sentiment label is one of the known values.
func ValidLabel(label string) bool {
	switch label {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}
