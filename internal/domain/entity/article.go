// Package entity defines the core domain entities for the news reconciliation
// core: articles merged from multiple upstream sources and the expensive
// analysis artifacts derived from them.
package entity

import "time"

// Origin identifies which delivery path produced an article batch.
type Origin string

const (
	// OriginPush marks articles delivered by the real-time change feed.
	OriginPush Origin = "push"
	// OriginPoll marks articles delivered by the periodic bulk fetch.
	OriginPoll Origin = "poll"
)

// Article represents one ingested news item after reconciliation.
// Identity is derived deterministically from the normalized URL, normalized
// title and the resolved publish timestamp truncated to the minute, so two
// deliveries of the same story collapse to one record.
type Article struct {
	Identity    string
	Source      string
	Title       string
	Content     string
	URL         string
	Category    string
	Tags        []string
	PublishedAt time.Time
	// TimestampInferred is true when no upstream timestamp field parsed and
	// PublishedAt was substituted with the ingestion instant.
	TimestampInferred bool
	IngestedAt        time.Time

	// Sentiment and Analysis are attached asynchronously and are the only
	// fields mutated after first ingestion.
	Sentiment *Sentiment
	Analysis  *AnalysisResult
}

// Sentiment is the per-article sentiment attached by analysis or carried
// inline on an upstream record.
type Sentiment struct {
	Score      float64 `json:"score"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// RawArticle is the wire shape delivered by the upstream bulk fetch and the
// push channel. Timestamp fields are raw strings because upstream sources
// disagree about which field they populate and how they format it.
type RawArticle struct {
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags"`
	PublishedAt string     `json:"publishedAt"`
	CreatedAt   string     `json:"created_at"`
	Date        string     `json:"date"`
	Sentiment   *Sentiment `json:"sentiment"`
}

// TimestampCandidates returns the raw timestamp fields in resolution priority
// order: the explicit published field first, then created, then generic date.
func (r RawArticle) TimestampCandidates() []string {
	return []string{r.PublishedAt, r.CreatedAt, r.Date}
}
