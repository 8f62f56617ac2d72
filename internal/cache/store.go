// Package cache implements the bounded, expiring two-tier cache for expensive
// analysis results. The local tier is an injected key-value store so the same
// cache logic runs against an in-memory structure in production and a stub in
// tests; the durable tier is the shared analysis repository.
package cache

import (
	"time"

	"marketfeed/internal/domain/entity"
)

// Entry is one local cache record. Owned exclusively by the cache; never
// exposed outside the package.
type Entry struct {
	Key      string
	Value    *entity.AnalysisResult
	StoredAt time.Time
	TTL      time.Duration
}

// expiredAt reports whether the entry's age exceeds its TTL at the instant t.
func (e Entry) expiredAt(t time.Time) bool {
	return t.Sub(e.StoredAt) >= e.TTL
}

// Store is the key-value abstraction backing the local tier.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(key string) (Entry, bool)
	Set(entry Entry)
	Delete(key string)
	// ScanPrefix returns all entries whose key starts with prefix, in
	// unspecified order.
	ScanPrefix(prefix string) []Entry
	Len() int
}
