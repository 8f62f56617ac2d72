// Package postgres implements the durable analysis repository on Postgres.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"marketfeed/internal/domain/entity"
	"marketfeed/internal/repository"
)

// AnalysisRepo stores analysis results keyed by article identity. The table's
// uniqueness constraint resolves concurrent inserts; the repo never updates a
// stored result.
type AnalysisRepo struct{ db *sql.DB }

// NewAnalysisRepo creates an AnalysisRepo backed by the given database.
func NewAnalysisRepo(db *sql.DB) repository.AnalysisRepository {
	return &AnalysisRepo{db: db}
}

// Get returns the stored result for an identity, or entity.ErrNotFound.
func (repo *AnalysisRepo) Get(ctx context.Context, identity string) (*entity.AnalysisResult, error) {
	const query = `
SELECT analysis
FROM article_analysis
WHERE article_identity = $1
LIMIT 1`
	var payload []byte
	err := repo.db.QueryRowContext(ctx, query, identity).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	var result entity.AnalysisResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("Get: unmarshal analysis: %w", err)
	}
	return &result, nil
}

// InsertIfAbsent stores the result unless one already exists for the
// identity. On conflict it re-selects and returns the stored value, so the
// caller always ends up with the durable winner.
func (repo *AnalysisRepo) InsertIfAbsent(ctx context.Context, identity string, result *entity.AnalysisResult) (*entity.AnalysisResult, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("InsertIfAbsent: marshal analysis: %w", err)
	}

	const insert = `
INSERT INTO article_analysis (article_identity, analysis, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (article_identity) DO NOTHING`
	res, err := repo.db.ExecContext(ctx, insert, identity, payload, result.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("InsertIfAbsent: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("InsertIfAbsent: rows affected: %w", err)
	}
	if affected > 0 {
		return result, nil
	}

	// Lost the race. The stored row is authoritative.
	stored, err := repo.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			// Conflicting row deleted between insert and select. Surface the
			// inconsistency rather than guessing.
			return nil, fmt.Errorf("InsertIfAbsent: conflict row vanished for %s", identity)
		}
		return nil, err
	}
	return stored, nil
}
