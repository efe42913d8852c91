package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/feedback"
	"github.com/runnerr0/refyn/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// openTestDB creates a migrated in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	runner := storage.NewMigrationRunner(db)
	require.NoError(t, runner.Run())

	return db
}

func openTestStore(t *testing.T) (*storage.SQLiteStore, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, db
}

// testConfig returns defaults pointed at a port nothing listens on.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Daemon.Host = "127.0.0.1"
	cfg.Daemon.Port = 1
	return cfg
}

func seedEvent(t *testing.T, store storage.Store, kind feedback.Kind, platform, prompt string, at time.Time) feedback.Event {
	t.Helper()
	ev := feedback.New(kind, feedback.StrengthModerate, feedback.SourceComposite, at)
	ev.OutputID = "out-" + ev.ID[:8]
	ev.PlatformID = platform
	ev.PromptText = prompt
	require.NoError(t, store.RecordFeedback(context.Background(), ev))
	return ev
}
