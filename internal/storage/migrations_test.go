package storage

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationRunner_SchemaObjects(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run())

	objects := []struct{ typ, name string }{
		{"table", "feedback_events"},
		{"table", "preference_scores"},
		{"table", "popup_audit"},
		{"table", "schema_migrations"},
		{"index", "idx_feedback_ts"},
		{"index", "idx_feedback_output"},
		{"index", "idx_feedback_platform"},
		{"index", "idx_feedback_kind"},
		{"index", "idx_feedback_ts_platform"},
		{"index", "idx_scores_score"},
		{"index", "idx_popup_audit_ts"},
		{"index", "idx_popup_audit_outcome"},
	}
	for _, o := range objects {
		t.Run(o.name, func(t *testing.T) {
			var name string
			err := db.QueryRow("SELECT name FROM sqlite_master WHERE type=? AND name=?", o.typ, o.name).Scan(&name)
			require.NoError(t, err, "%s %s should exist", o.typ, o.name)
		})
	}
}

func TestMigrationRunner_RecordsEachMigrationOnce(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	require.NoError(t, runner.Run())
	require.NoError(t, runner.Run())

	rows, err := db.Query("SELECT version, name FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var version int
		var name string
		require.NoError(t, rows.Scan(&version, &name))
		got = append(got, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"initial_schema", "popup_audit"}, got)
}

func TestMigrationRunner_UpgradesOlderSchema(t *testing.T) {
	db := openTestDB(t)

	old := &MigrationRunner{db: db, migrations: schema[:1]}
	require.NoError(t, old.Run())
	v, err := old.Version()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = db.Exec(`INSERT INTO feedback_events (id, output_id, kind, strength) VALUES ('e1', 'o1', 'like', 'strong')`)
	require.NoError(t, err)

	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run())
	v, err = runner.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM feedback_events").Scan(&n))
	assert.Equal(t, 1, n, "existing rows survive the upgrade")
}

func TestMigrationRunner_Version(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	v, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, 0, v, "unmigrated database should report version 0")

	require.NoError(t, runner.Run())

	v, err = runner.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMigrationRunner_CancelledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, NewMigrationRunner(db).RunContext(ctx))
}

func TestMigrationRunner_Pragmas(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run())

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	// In-memory databases report "memory"; WAL only applies to file-backed DBs.
	assert.Contains(t, []string{"wal", "memory"}, journalMode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk, "foreign_keys should be enabled")

	_, err := db.Exec(`
		INSERT INTO popup_audit (session_id, kind, outcome, event_id)
		VALUES ('s1', 'like-detail', 'submitted', 'nonexistent')
	`)
	assert.Error(t, err, "foreign key constraint should prevent orphan audit links")
}

func TestMigrationRunner_CheckConstraints(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run())

	tests := []struct {
		name    string
		stmt    string
		wantErr bool
	}{
		{"valid", `INSERT INTO feedback_events (id, output_id, kind, strength) VALUES ('e1', 'o1', 'like', 'strong')`, false},
		{"unknown kind", `INSERT INTO feedback_events (id, output_id, kind, strength) VALUES ('e2', 'o1', 'love', 'strong')`, true},
		{"unknown strength", `INSERT INTO feedback_events (id, output_id, kind, strength) VALUES ('e3', 'o1', 'like', 'mild')`, true},
		{"intensity above 5", `INSERT INTO feedback_events (id, output_id, kind, strength, intensity) VALUES ('e4', 'o1', 'like', 'weak', 9)`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Exec(tt.stmt)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
