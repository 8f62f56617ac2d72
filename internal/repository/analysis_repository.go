// Package repository defines persistence interfaces for the durable tier.
package repository

import (
	"context"

	"marketfeed/internal/domain/entity"
)

// AnalysisRepository is the durable store for expensive analysis artifacts,
// shared across consumer instances. The store's uniqueness constraint on the
// article identity is the conflict-resolution mechanism under concurrent
// writers; no application-level lock exists.
type AnalysisRepository interface {
	// Get returns the stored result for an identity, or entity.ErrNotFound
	// when absent.
	Get(ctx context.Context, identity string) (*entity.AnalysisResult, error)

	// InsertIfAbsent stores the result for an identity at most once. On a
	// uniqueness conflict it returns the already-stored value instead of an
	// error; the returned result is always the durable one.
	InsertIfAbsent(ctx context.Context, identity string, result *entity.AnalysisResult) (*entity.AnalysisResult, error)
}
