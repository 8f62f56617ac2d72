package reconcile

import (
	"testing"
	"time"

	"marketfeed/internal/domain/entity"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"adds scheme and strips www", "WWW.Example.com/Path/", "https://example.com/path"},
		{"keeps existing scheme", "https://example.com/Path", "https://example.com/path"},
		{"strips trailing slashes", "https://example.com/path///", "https://example.com/path"},
		{"strips www after scheme", "https://www.example.com/a", "https://example.com/a"},
		{"http scheme preserved", "http://example.com", "http://example.com"},
		{"bare host", "example.com", "https://example.com"},
		{"whitespace trimmed", "  example.com/a  ", "https://example.com/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL_EquivalentFormsCollide(t *testing.T) {
	a := NormalizeURL("WWW.Example.com/Path/")
	b := NormalizeURL("https://example.com/Path")
	if a != b {
		t.Errorf("expected equal normalized URLs, got %q and %q", a, b)
	}
}

func TestIdentity_MinuteTruncationAbsorbsJitter(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	jittered := time.Date(2024, 3, 1, 10, 0, 42, 0, time.UTC)
	nextMinute := time.Date(2024, 3, 1, 10, 1, 0, 0, time.UTC)

	a := Identity("example.com/story", "Headline", base)
	b := Identity("www.example.com/story/", "  headline ", jittered)
	c := Identity("example.com/story", "Headline", nextMinute)

	if a != b {
		t.Error("same minute with formatting jitter must produce the same identity")
	}
	if a == c {
		t.Error("different minutes must produce different identities")
	}
}

func TestDedupe_PreservesFirstSeenOrder(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := []*entity.Article{
		{Title: "A", URL: "x.com/a", PublishedAt: ts},
		{Title: "B", URL: "x.com/b", PublishedAt: ts},
		{Title: "A", URL: "x.com/a", PublishedAt: ts}, // in-batch duplicate
		{Title: "C", URL: "x.com/c", PublishedAt: ts},
	}

	fresh := Dedupe(batch, map[string]struct{}{})

	if len(fresh) != 3 {
		t.Fatalf("expected 3 unique articles, got %d", len(fresh))
	}
	if fresh[0].Title != "A" || fresh[1].Title != "B" || fresh[2].Title != "C" {
		t.Errorf("order not preserved: %v %v %v", fresh[0].Title, fresh[1].Title, fresh[2].Title)
	}
}

func TestDedupe_Idempotent(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := []*entity.Article{
		{Title: "A", URL: "x.com/a", PublishedAt: ts},
		{Title: "B", URL: "x.com/b", PublishedAt: ts},
	}

	existing := map[string]struct{}{}
	first := Dedupe(batch, existing)
	for _, a := range first {
		existing[IdentityOf(a)] = struct{}{}
	}

	second := Dedupe(batch, existing)
	if len(second) != 0 {
		t.Errorf("expected empty second pass, got %d articles", len(second))
	}
}

func TestDedupe_FiltersExisting(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	known := &entity.Article{Title: "A", URL: "x.com/a", PublishedAt: ts}
	batch := []*entity.Article{
		known,
		{Title: "B", URL: "x.com/b", PublishedAt: ts},
	}

	existing := map[string]struct{}{IdentityOf(known): {}}
	fresh := Dedupe(batch, existing)

	if len(fresh) != 1 || fresh[0].Title != "B" {
		t.Errorf("expected only B, got %d articles", len(fresh))
	}
}
