package storage

import "database/sql"

// migrateV002 adds the popup audit log. event_id links a submitted popup to
// the feedback event it produced; it is cleared if that event is pruned.
func migrateV002(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS popup_audit (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL,
			ts          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			kind        TEXT NOT NULL,
			output_id   TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL,
			reason_code TEXT NOT NULL DEFAULT '',
			intensity   INTEGER NOT NULL DEFAULT 0,
			event_id    TEXT REFERENCES feedback_events(id) ON DELETE SET NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_popup_audit_ts      ON popup_audit(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_popup_audit_outcome ON popup_audit(outcome)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
