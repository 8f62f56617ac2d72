package reconcile

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/observability/metrics"
)

// Reconciler is the single source of truth for the merged, ordered article
// collection. Push deltas and poll snapshots both funnel through IngestBatch;
// deduplication makes the final state convergent regardless of arrival order.
//
// All mutation happens under one mutex, so batches are applied strictly in
// invocation order. Reconciler is safe for concurrent use.
type Reconciler struct {
	mu          sync.Mutex
	articles    map[string]*entity.Article
	subscribers map[int]func([]*entity.Article)
	nextSubID   int

	now func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the clock used for inferred timestamps and ingestion
// times. Used by tests for deterministic behavior.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates an empty Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		articles:    make(map[string]*entity.Article),
		subscribers: make(map[int]func([]*entity.Article)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IngestBatch deduplicates the batch against the known articles, resolves
// each timestamp, inserts new articles and merges additional fields into
// existing ones. It reports whether the visible set changed.
//
// Subscribers are notified exactly once per batch that actually changed the
// visible set; no-op batches produce no notification. Records that carry
// neither a URL nor a title cannot be identified and are dropped without
// affecting the rest of the batch.
func (r *Reconciler) IngestBatch(raw []entity.RawArticle, origin entity.Origin) bool {
	if len(raw) == 0 {
		return false
	}

	r.mu.Lock()
	changed := false
	inserted, merged, dropped := 0, 0, 0

	// Resolve every identifiable record into a candidate article first, so
	// Dedupe can partition the batch into inserts and merges in one pass.
	candidates := make([]*entity.Article, 0, len(raw))
	records := make([]entity.RawArticle, 0, len(raw))
	for _, record := range raw {
		if record.URL == "" && record.Title == "" {
			dropped++
			continue
		}

		now := r.now()
		publishedAt, inferred := ResolveTimestamp(record.TimestampCandidates(), now)
		candidates = append(candidates, &entity.Article{
			Identity:          Identity(record.URL, record.Title, publishedAt),
			Source:            record.Source,
			Title:             record.Title,
			Content:           record.Content,
			URL:               record.URL,
			Category:          record.Category,
			Tags:              slices.Clone(record.Tags),
			PublishedAt:       publishedAt,
			TimestampInferred: inferred,
			IngestedAt:        now,
			Sentiment:         record.Sentiment,
		})
		records = append(records, record)
	}

	existingIDs := make(map[string]struct{}, len(r.articles))
	for id := range r.articles {
		existingIDs[id] = struct{}{}
	}

	for _, fresh := range Dedupe(candidates, existingIDs) {
		r.articles[fresh.Identity] = fresh
		inserted++
		changed = true
	}

	// Everything Dedupe filtered out names a known article: either one that
	// existed before the batch or the first occurrence inserted above.
	// Later duplicates merge their fields into it.
	for i, candidate := range candidates {
		existing := r.articles[candidate.Identity]
		if existing == candidate {
			continue
		}
		if mergeFields(existing, records[i]) {
			merged++
			changed = true
		}
	}

	metrics.UpdateReconciledArticles(len(r.articles))
	r.mu.Unlock()

	metrics.RecordIngestBatch(string(origin), inserted, merged, dropped)

	if dropped > 0 {
		slog.Warn("dropped unidentifiable records from batch",
			slog.String("origin", string(origin)),
			slog.Int("dropped", dropped))
	}

	if changed {
		r.notify()
	}
	return changed
}

// AttachAnalysis merges an analysis result into the article with the given
// identity. Analysis results are immutable once attached; a second attach for
// the same identity is a no-op. Returns false if the article is unknown.
func (r *Reconciler) AttachAnalysis(identity string, result *entity.AnalysisResult) bool {
	if result == nil {
		return false
	}

	r.mu.Lock()
	article, ok := r.articles[identity]
	if !ok || article.Analysis != nil {
		r.mu.Unlock()
		return false
	}
	article.Analysis = result
	if article.Sentiment == nil {
		s := result.Sentiment
		article.Sentiment = &s
	}
	r.mu.Unlock()

	r.notify()
	return true
}

// CurrentOrdered returns all known articles sorted by publishedAt descending,
// ties broken by identity ascending. The returned slice is a snapshot; the
// pointed-to articles are shared and must be treated as read-only.
func (r *Reconciler) CurrentOrdered() []*entity.Article {
	r.mu.Lock()
	ordered := make([]*entity.Article, 0, len(r.articles))
	for _, a := range r.articles {
		ordered = append(ordered, a)
	}
	r.mu.Unlock()

	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].PublishedAt.Equal(ordered[j].PublishedAt) {
			return ordered[i].PublishedAt.After(ordered[j].PublishedAt)
		}
		return ordered[i].Identity < ordered[j].Identity
	})
	return ordered
}

// Known reports whether an identity is already reconciled.
func (r *Reconciler) Known(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.articles[identity]
	return ok
}

// Len returns the number of reconciled articles.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.articles)
}

// Subscribe registers a change listener invoked with the current ordered set
// after every batch that changed it. The returned function unsubscribes and
// is safe to call multiple times.
func (r *Reconciler) Subscribe(fn func(articles []*entity.Article)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, id)
			r.mu.Unlock()
		})
	}
}

// notify delivers the current snapshot to all subscribers. Callbacks run
// outside the lock so a subscriber may call back into the reconciler.
func (r *Reconciler) notify() {
	r.mu.Lock()
	fns := make([]func([]*entity.Article), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	snapshot := r.CurrentOrdered()
	for _, fn := range fns {
		fn(snapshot)
	}
}

// mergeFields applies the incoming record's non-empty fields onto the
// existing article, last-non-null wins per field. Prior data is never
// discarded by an empty incoming field. Reports whether anything changed.
func mergeFields(existing *entity.Article, incoming entity.RawArticle) bool {
	changed := false

	if incoming.Content != "" && incoming.Content != existing.Content {
		existing.Content = incoming.Content
		changed = true
	}
	if incoming.Source != "" && incoming.Source != existing.Source {
		existing.Source = incoming.Source
		changed = true
	}
	if incoming.Category != "" && incoming.Category != existing.Category {
		existing.Category = incoming.Category
		changed = true
	}
	if len(incoming.Tags) > 0 && !slices.Equal(incoming.Tags, existing.Tags) {
		existing.Tags = slices.Clone(incoming.Tags)
		changed = true
	}
	if incoming.Sentiment != nil {
		if existing.Sentiment == nil || *existing.Sentiment != *incoming.Sentiment {
			existing.Sentiment = incoming.Sentiment
			changed = true
		}
	}
	return changed
}
