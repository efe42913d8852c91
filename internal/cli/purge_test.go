package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/refyn/internal/feedback"
	"github.com/runnerr0/refyn/internal/storage"
)

func TestPurge_WithoutAllFlag_Errors(t *testing.T) {
	err := RunWithArgs("test", []string{"purge"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purge requires --all flag for safety")
}

func TestPurge_WithAllAndForce_Succeeds(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()

	ev := seedEvent(t, store, feedback.KindLike, "midjourney", "neon skyline", time.Now())
	require.NoError(t, store.RecordDelta(ctx, "style", "neon", 1, time.Now()))
	require.NoError(t, store.RecordAudit(ctx, storage.PopupAudit{
		SessionID: "s1", Kind: "like-detail", OutputID: ev.OutputID, Outcome: "submitted", EventID: ev.ID, Timestamp: time.Now(),
	}))

	cmd := &PurgeCommand{All: true, Force: true, globals: &GlobalFlags{}}
	cmd.setDB(db)

	var err error
	output := captureOutput(t, func() {
		err = cmd.Execute(nil)
	})

	require.NoError(t, err)
	assert.Contains(t, output, "Purged all data")

	for _, table := range []string{"feedback_events", "preference_scores", "popup_audit"} {
		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&count))
		assert.Zero(t, count, "%s should be empty", table)
	}
}

func TestPurge_JSONOutput(t *testing.T) {
	_, db := openTestStore(t)

	cmd := &PurgeCommand{All: true, Force: true, globals: &GlobalFlags{JSON: true}}
	cmd.setDB(db)

	var err error
	output := captureOutput(t, func() {
		err = cmd.Execute(nil)
	})
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &result), "output should be valid JSON: %s", output)
	assert.Equal(t, true, result["purged"])
	assert.Equal(t, "all data deleted", result["message"])
}

func TestPurge_SchemaSurvives(t *testing.T) {
	store, db := openTestStore(t)

	cmd := &PurgeCommand{All: true, Force: true, globals: &GlobalFlags{}}
	cmd.setDB(db)
	captureOutput(t, func() { require.NoError(t, cmd.Execute(nil)) })

	// The store is still usable after a purge.
	seedEvent(t, store, feedback.KindLike, "suno", "lofi beat", time.Now())
	version, err := storage.NewMigrationRunner(db).Version()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}
