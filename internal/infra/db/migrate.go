package db

import "database/sql"

// MigrateUp creates the schema for the durable analysis tier. The UNIQUE
// constraint on article_identity is the conflict arbiter for concurrent
// writers; inserts race and the first one wins.
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS article_analysis (
    id               SERIAL PRIMARY KEY,
    article_identity TEXT NOT NULL UNIQUE,
    analysis         JSONB NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_article_analysis_created_at ON article_analysis(created_at DESC)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}
