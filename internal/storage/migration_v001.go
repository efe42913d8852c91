package storage

import "database/sql"

// migrateV001 creates the feedback event log and the preference score
// table. Every statement uses IF NOT EXISTS for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS feedback_events (
			id          TEXT PRIMARY KEY,
			ts          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			output_id   TEXT NOT NULL,
			prompt_text TEXT NOT NULL DEFAULT '',
			platform_id TEXT NOT NULL DEFAULT '',
			kind        TEXT NOT NULL CHECK (kind IN ('like', 'dislike', 'delete', 'upscale', 'vary', 'reroll')),
			strength    TEXT NOT NULL CHECK (strength IN ('weak', 'moderate', 'strong')),
			reason_code TEXT NOT NULL DEFAULT '',
			custom_text TEXT NOT NULL DEFAULT '',
			intensity   INTEGER NOT NULL DEFAULT 0 CHECK (intensity BETWEEN 0 AND 5),
			source      TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS preference_scores (
			category   TEXT NOT NULL,
			keyword    TEXT NOT NULL,
			score      REAL NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (category, keyword)
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_feedback_ts          ON feedback_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_output      ON feedback_events(output_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_platform    ON feedback_events(platform_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_kind        ON feedback_events(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_ts_platform ON feedback_events(ts, platform_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_score         ON preference_scores(score)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
