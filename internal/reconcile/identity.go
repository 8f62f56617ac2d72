package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"marketfeed/internal/domain/entity"
)

// NormalizeURL canonicalizes an article URL so the same story reported by
// different sources compares equal: lower-cased, trailing slashes stripped,
// https:// prepended when no scheme is present, leading www. removed.
func NormalizeURL(rawURL string) string {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	u = strings.TrimRight(u, "/")

	scheme := ""
	if i := strings.Index(u, "://"); i >= 0 {
		scheme = u[:i]
		u = u[i+3:]
	}
	u = strings.TrimPrefix(u, "www.")

	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u
}

// normalizeTitle canonicalizes an article title for identity derivation.
func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Identity derives the deterministic composite key naming an article across
// duplicate deliveries. The resolved timestamp is truncated to the minute so
// clock skew and formatting jitter between sources reporting the "same"
// instant do not split one story into two identities.
func Identity(rawURL, title string, publishedAt time.Time) string {
	composite := NormalizeURL(rawURL) + "|" +
		normalizeTitle(title) + "|" +
		publishedAt.UTC().Truncate(time.Minute).Format(time.RFC3339)

	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}

// IdentityOf derives the identity for a reconciled article.
func IdentityOf(a *entity.Article) string {
	return Identity(a.URL, a.Title, a.PublishedAt)
}

// Dedupe returns only the articles whose identity is not already present in
// existing, preserving first-seen order within the batch. Duplicates inside
// the batch itself are also collapsed. The input set is not modified, which
// makes Dedupe idempotent: a second pass with the same existing set plus the
// first pass's identities yields nothing.
func Dedupe(batch []*entity.Article, existing map[string]struct{}) []*entity.Article {
	seen := make(map[string]struct{}, len(batch))
	fresh := make([]*entity.Article, 0, len(batch))

	for _, a := range batch {
		id := a.Identity
		if id == "" {
			id = IdentityOf(a)
		}
		if _, ok := existing[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, a)
	}
	return fresh
}
