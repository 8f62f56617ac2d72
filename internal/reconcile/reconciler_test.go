package reconcile

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/observability/metrics"
)

func fixedClock() func() time.Time {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func TestIngestBatch_InsertAndOrder(t *testing.T) {
	r := New(WithClock(fixedClock()))

	changed := r.IngestBatch([]entity.RawArticle{
		{Title: "Older", URL: "x.com/older", Date: "2024-01-01"},
		{Title: "Newer", URL: "x.com/newer", Date: "2024-02-01"},
	}, entity.OriginPoll)

	if !changed {
		t.Fatal("expected visible change")
	}

	ordered := r.CurrentOrdered()
	if len(ordered) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(ordered))
	}
	if ordered[0].Title != "Newer" || ordered[1].Title != "Older" {
		t.Errorf("expected publishedAt descending, got %q then %q", ordered[0].Title, ordered[1].Title)
	}
	if got := testutil.ToFloat64(metrics.ReconciledArticles); got != 2 {
		t.Errorf("expected reconciled size gauge 2, got %v", got)
	}
}

func TestIngestBatch_DuplicateBatchIsNoOp(t *testing.T) {
	r := New(WithClock(fixedClock()))
	batch := []entity.RawArticle{
		{Title: "A", URL: "x.com/a", Date: "2024-01-01"},
	}

	notifications := 0
	r.Subscribe(func([]*entity.Article) { notifications++ })

	if !r.IngestBatch(batch, entity.OriginPoll) {
		t.Fatal("first batch should change the set")
	}
	if r.IngestBatch(batch, entity.OriginPush) {
		t.Error("identical batch should be a no-op")
	}

	if r.Len() != 1 {
		t.Errorf("expected 1 article, got %d", r.Len())
	}
	if notifications != 1 {
		t.Errorf("expected exactly 1 notification, got %d", notifications)
	}
}

func TestIngestBatch_DuplicateTaggedBatchIsNoOp(t *testing.T) {
	r := New(WithClock(fixedClock()))
	batch := []entity.RawArticle{
		{Title: "A", URL: "x.com/a", Date: "2024-01-01", Tags: []string{"fed", "rates"}},
	}

	notifications := 0
	r.Subscribe(func([]*entity.Article) { notifications++ })

	if !r.IngestBatch(batch, entity.OriginPoll) {
		t.Fatal("first batch should change the set")
	}
	if r.IngestBatch(batch, entity.OriginPoll) {
		t.Error("identical tagged batch should be a no-op")
	}

	if notifications != 1 {
		t.Errorf("expected exactly 1 notification, got %d", notifications)
	}

	changed := r.IngestBatch([]entity.RawArticle{
		{Title: "A", URL: "x.com/a", Date: "2024-01-01", Tags: []string{"fed", "inflation"}},
	}, entity.OriginPoll)
	if !changed {
		t.Error("a batch with different tags should change the set")
	}
	if diff := cmp.Diff([]string{"fed", "inflation"}, r.CurrentOrdered()[0].Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestIngestBatch_MergeCommutative(t *testing.T) {
	batchA := []entity.RawArticle{
		{Title: "A", URL: "x.com/a", Date: "2024-01-01", Source: "alpha"},
	}
	batchB := []entity.RawArticle{
		{Title: "B", URL: "x.com/b", Date: "2024-02-01", Source: "beta"},
	}

	ab := New(WithClock(fixedClock()))
	ab.IngestBatch(batchA, entity.OriginPoll)
	ab.IngestBatch(batchB, entity.OriginPush)

	ba := New(WithClock(fixedClock()))
	ba.IngestBatch(batchB, entity.OriginPush)
	ba.IngestBatch(batchA, entity.OriginPoll)

	if diff := cmp.Diff(ab.CurrentOrdered(), ba.CurrentOrdered()); diff != "" {
		t.Errorf("arrival order changed the final set (-ab +ba):\n%s", diff)
	}
}

func TestIngestBatch_MergesLaterFields(t *testing.T) {
	r := New(WithClock(fixedClock()))

	r.IngestBatch([]entity.RawArticle{
		{Title: "A", URL: "x.com/a", Date: "2024-01-01"},
	}, entity.OriginPoll)

	// Same story, delivered over push with sentiment attached.
	changed := r.IngestBatch([]entity.RawArticle{
		{
			Title:     "A",
			URL:       "x.com/a",
			Date:      "2024-01-01",
			Sentiment: &entity.Sentiment{Score: 0.8, Label: entity.SentimentPositive, Confidence: 0.9},
		},
	}, entity.OriginPush)

	if !changed {
		t.Fatal("sentiment attach should count as a visible change")
	}

	ordered := r.CurrentOrdered()
	if len(ordered) != 1 {
		t.Fatalf("expected one merged article, got %d", len(ordered))
	}
	if ordered[0].Sentiment == nil || ordered[0].Sentiment.Label != entity.SentimentPositive {
		t.Error("expected merged sentiment field")
	}
}

func TestIngestBatch_MergeNeverDiscardsPriorData(t *testing.T) {
	r := New(WithClock(fixedClock()))

	r.IngestBatch([]entity.RawArticle{
		{Title: "A", URL: "x.com/a", Date: "2024-01-01", Content: "full text", Category: "markets"},
	}, entity.OriginPoll)

	// Later delivery with empty payload fields must not erase them.
	r.IngestBatch([]entity.RawArticle{
		{Title: "A", URL: "x.com/a", Date: "2024-01-01"},
	}, entity.OriginPush)

	got := r.CurrentOrdered()[0]
	if got.Content != "full text" {
		t.Errorf("content discarded by empty merge: %q", got.Content)
	}
	if got.Category != "markets" {
		t.Errorf("category discarded by empty merge: %q", got.Category)
	}
}

func TestIngestBatch_UnidentifiableRecordsDoNotFailBatch(t *testing.T) {
	r := New(WithClock(fixedClock()))

	changed := r.IngestBatch([]entity.RawArticle{
		{},
		{Title: "A", URL: "x.com/a", Date: "2024-01-01"},
	}, entity.OriginPoll)

	if !changed {
		t.Fatal("parsable record should still be applied")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 article, got %d", r.Len())
	}
}

func TestIngestBatch_InferredTimestampMarked(t *testing.T) {
	clock := fixedClock()
	r := New(WithClock(clock))

	r.IngestBatch([]entity.RawArticle{
		{Title: "A", URL: "x.com/a"},
	}, entity.OriginPoll)

	got := r.CurrentOrdered()[0]
	if !got.TimestampInferred {
		t.Error("expected inferred marker on article without timestamps")
	}
	if !got.PublishedAt.Equal(clock()) {
		t.Errorf("expected ingestion time, got %v", got.PublishedAt)
	}
}

func TestAttachAnalysis(t *testing.T) {
	r := New(WithClock(fixedClock()))
	r.IngestBatch([]entity.RawArticle{
		{Title: "A", URL: "x.com/a", Date: "2024-01-01"},
	}, entity.OriginPoll)
	identity := r.CurrentOrdered()[0].Identity

	notifications := 0
	r.Subscribe(func([]*entity.Article) { notifications++ })

	result := &entity.AnalysisResult{
		Summary:   "summary",
		Sentiment: entity.Sentiment{Score: 0.5, Label: entity.SentimentNeutral},
	}
	if !r.AttachAnalysis(identity, result) {
		t.Fatal("expected attach to succeed")
	}
	if notifications != 1 {
		t.Errorf("expected 1 notification, got %d", notifications)
	}

	// Results are immutable once attached; a second attach is a no-op.
	if r.AttachAnalysis(identity, &entity.AnalysisResult{Summary: "other"}) {
		t.Error("second attach must be a no-op")
	}
	if got := r.CurrentOrdered()[0].Analysis.Summary; got != "summary" {
		t.Errorf("analysis overwritten: %q", got)
	}

	if r.AttachAnalysis("unknown", result) {
		t.Error("attach to unknown identity must fail")
	}
}

func TestSubscribe_UnsubscribeStopsNotifications(t *testing.T) {
	r := New(WithClock(fixedClock()))

	notifications := 0
	unsubscribe := r.Subscribe(func([]*entity.Article) { notifications++ })

	r.IngestBatch([]entity.RawArticle{{Title: "A", URL: "x.com/a", Date: "2024-01-01"}}, entity.OriginPoll)
	unsubscribe()
	unsubscribe() // idempotent
	r.IngestBatch([]entity.RawArticle{{Title: "B", URL: "x.com/b", Date: "2024-01-02"}}, entity.OriginPoll)

	if notifications != 1 {
		t.Errorf("expected 1 notification, got %d", notifications)
	}
}

func TestCurrentOrdered_TieBrokenByIdentity(t *testing.T) {
	r := New(WithClock(fixedClock()))
	r.IngestBatch([]entity.RawArticle{
		{Title: "B", URL: "x.com/b", Date: "2024-01-01T10:00:00Z"},
		{Title: "A", URL: "x.com/a", Date: "2024-01-01T10:00:00Z"},
	}, entity.OriginPoll)

	first := r.CurrentOrdered()
	second := r.CurrentOrdered()
	for i := range first {
		if first[i].Identity != second[i].Identity {
			t.Fatal("ordering must be deterministic across calls")
		}
	}
	if first[0].Identity >= first[1].Identity {
		t.Error("equal timestamps must be ordered by identity ascending")
	}
}
