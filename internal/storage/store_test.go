package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/refyn/internal/feedback"
)

// openTestStore creates a migrated in-memory Store for testing.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run())

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testEvent(kind feedback.Kind, output, platform string, at time.Time) feedback.Event {
	ev := feedback.New(kind, feedback.StrengthModerate, feedback.SourceToggle, at)
	ev.OutputID = output
	ev.PlatformID = platform
	ev.PromptText = "neon skyline at dusk"
	return ev
}

// --- RecordFeedback + GetFeedback roundtrip ---

func TestRecordFeedback_GetFeedback_Roundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := testEvent(feedback.KindDislike, "mj-1", "midjourney", base)
	ev.ReasonCode = "too_dark"
	ev.CustomText = "muddy shadows"
	ev.Intensity = 4
	ev.Source = feedback.SourcePopup

	require.NoError(t, store.RecordFeedback(ctx, ev))

	got, err := store.GetFeedback(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "mj-1", got.OutputID)
	assert.Equal(t, "midjourney", got.PlatformID)
	assert.Equal(t, "neon skyline at dusk", got.PromptText)
	assert.Equal(t, feedback.KindDislike, got.Kind)
	assert.Equal(t, feedback.StrengthModerate, got.Strength)
	assert.Equal(t, "too_dark", got.ReasonCode)
	assert.Equal(t, "muddy shadows", got.CustomText)
	assert.Equal(t, 4, got.Intensity)
	assert.Equal(t, feedback.SourcePopup, got.Source)
	assert.True(t, base.Equal(got.Timestamp))
}

func TestRecordFeedback_DuplicateIsNoop(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := testEvent(feedback.KindLike, "mj-1", "midjourney", base)
	require.NoError(t, store.RecordFeedback(ctx, ev))
	require.NoError(t, store.RecordFeedback(ctx, ev))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalFeedback)
}

func TestRecordFeedback_Rejects(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	noID := testEvent(feedback.KindLike, "mj-1", "midjourney", base)
	noID.ID = ""
	assert.Error(t, store.RecordFeedback(ctx, noID))

	badKind := testEvent(feedback.Kind("love"), "mj-1", "midjourney", base)
	assert.Error(t, store.RecordFeedback(ctx, badKind))
}

func TestGetFeedback_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetFeedback(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

// --- Scores ---

func TestRecordDelta_Accumulates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordDelta(ctx, "style", "neon", 2.0, base))
	require.NoError(t, store.RecordDelta(ctx, "style", "neon", -0.5, base.Add(time.Hour)))
	require.NoError(t, store.RecordDelta(ctx, "lighting", "rim light", 1.0, base))

	scores, err := store.LoadScores(ctx)
	require.NoError(t, err)
	require.Len(t, scores, 2)

	assert.Equal(t, "lighting", scores[0].Category)
	assert.Equal(t, "rim light", scores[0].Keyword)

	assert.Equal(t, "style", scores[1].Category)
	assert.Equal(t, "neon", scores[1].Keyword)
	assert.InDelta(t, 1.5, scores[1].Score, 1e-9)
	assert.True(t, base.Add(time.Hour).Equal(scores[1].UpdatedAt), "updated_at should track the latest delta")
}

func TestRecordDelta_RequiresKey(t *testing.T) {
	store := openTestStore(t)
	assert.Error(t, store.RecordDelta(context.Background(), "", "neon", 1, base))
	assert.Error(t, store.RecordDelta(context.Background(), "style", "", 1, base))
}

func TestLoadScores_Empty(t *testing.T) {
	store := openTestStore(t)

	scores, err := store.LoadScores(context.Background())
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.NotNil(t, scores)
}

// --- Audit ---

func TestRecordAudit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := testEvent(feedback.KindLike, "mj-1", "midjourney", base)
	require.NoError(t, store.RecordFeedback(ctx, ev))

	require.NoError(t, store.RecordAudit(ctx, PopupAudit{
		SessionID: "s1", Kind: "like-detail", OutputID: "mj-1",
		Outcome: "submitted", ReasonCode: "colors", EventID: ev.ID, Timestamp: base,
	}))
	require.NoError(t, store.RecordAudit(ctx, PopupAudit{
		SessionID: "s2", Kind: "dislike-detail", OutputID: "mj-2", Outcome: "cancelled", Timestamp: base,
	}))

	assert.Error(t, store.RecordAudit(ctx, PopupAudit{
		SessionID: "s3", Kind: "like-detail", Outcome: "submitted", EventID: "no-such-event",
	}), "audit rows may only link to recorded events")

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalPopups)
}

// --- RecentFeedback ---

func seedFeedback(t *testing.T, store *SQLiteStore) []feedback.Event {
	t.Helper()
	ctx := context.Background()
	events := []feedback.Event{
		testEvent(feedback.KindLike, "mj-1", "midjourney", base),
		testEvent(feedback.KindDislike, "mj-2", "midjourney", base.Add(1*time.Hour)),
		testEvent(feedback.KindUpscale, "mj-1", "midjourney", base.Add(2*time.Hour)),
		testEvent(feedback.KindLike, "suno-1", "suno", base.Add(3*time.Hour)),
	}
	for _, ev := range events {
		require.NoError(t, store.RecordFeedback(ctx, ev))
	}
	return events
}

func TestRecentFeedback_NewestFirst(t *testing.T) {
	store := openTestStore(t)
	events := seedFeedback(t, store)

	got, err := store.RecentFeedback(context.Background(), FeedbackQuery{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, events[3].ID, got[0].ID)
	assert.Equal(t, events[0].ID, got[3].ID)
}

func TestRecentFeedback_Filters(t *testing.T) {
	store := openTestStore(t)
	seedFeedback(t, store)
	ctx := context.Background()

	tests := []struct {
		name  string
		query FeedbackQuery
		want  int
	}{
		{"by kind", FeedbackQuery{Kind: "like"}, 2},
		{"by platform", FeedbackQuery{PlatformID: "suno"}, 1},
		{"by output", FeedbackQuery{OutputID: "mj-1"}, 2},
		{"by source", FeedbackQuery{Source: "toggle"}, 4},
		{"since", FeedbackQuery{Since: base.Add(90 * time.Minute)}, 2},
		{"until", FeedbackQuery{Until: base.Add(time.Hour)}, 2},
		{"limit", FeedbackQuery{Limit: 3}, 3},
		{"offset", FeedbackQuery{Limit: 3, Offset: 3}, 1},
		{"combined", FeedbackQuery{Kind: "like", PlatformID: "midjourney"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.RecentFeedback(ctx, tt.query)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

// --- Prune / Purge ---

func TestPruneFeedback(t *testing.T) {
	store := openTestStore(t)
	events := seedFeedback(t, store)
	ctx := context.Background()

	require.NoError(t, store.RecordDelta(ctx, "style", "neon", 1, base))
	require.NoError(t, store.RecordAudit(ctx, PopupAudit{
		SessionID: "old", Kind: "like-detail", Outcome: "submitted", EventID: events[0].ID, Timestamp: base,
	}))

	cutoff := base.Add(90 * time.Minute)
	pending, err := store.CountFeedbackBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	n, err := store.PruneFeedback(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalFeedback)
	assert.Equal(t, int64(0), stats.TotalPopups)
	assert.Equal(t, int64(1), stats.TotalKeywords, "scores survive pruning")
}

func TestPurgeAll(t *testing.T) {
	store := openTestStore(t)
	seedFeedback(t, store)
	ctx := context.Background()
	require.NoError(t, store.RecordDelta(ctx, "style", "neon", 1, base))

	require.NoError(t, store.PurgeAll(ctx))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFeedback)
	assert.Zero(t, stats.TotalKeywords)
	assert.Equal(t, 2, stats.SchemaVersion, "schema survives purge")
}

// --- Stats ---

func TestGetStats(t *testing.T) {
	store := openTestStore(t)
	seedFeedback(t, store)
	ctx := context.Background()

	require.NoError(t, store.RecordDelta(ctx, "style", "neon", 2, base))
	require.NoError(t, store.RecordDelta(ctx, "mood", "gloomy", -1, base))
	require.NoError(t, store.RecordDelta(ctx, "mood", "calm", 0, base))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.TotalFeedback)
	assert.Equal(t, int64(3), stats.TotalKeywords)
	assert.Equal(t, int64(1), stats.LikedKeywords)
	assert.Equal(t, int64(1), stats.AvoidedKeywords)
	assert.True(t, base.Equal(stats.OldestFeedback))
	assert.True(t, base.Add(3*time.Hour).Equal(stats.NewestFeedback))

	require.NotEmpty(t, stats.ByKind)
	assert.Equal(t, KindCount{Kind: "like", Count: 2}, stats.ByKind[0])

	require.Len(t, stats.TopPlatforms, 2)
	assert.Equal(t, PlatformCount{PlatformID: "midjourney", Count: 3}, stats.TopPlatforms[0])
}

func TestGetStats_Empty(t *testing.T) {
	store := openTestStore(t)

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFeedback)
	assert.True(t, stats.OldestFeedback.IsZero())
	assert.Empty(t, stats.ByKind)
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2026-03-01T12:00:00Z",
		"2026-03-01 12:00:00",
		"2026-03-01T12:00:00.5+02:00",
	} {
		_, err := parseTimestamp(s)
		assert.NoError(t, err, s)
	}
	_, err := parseTimestamp("yesterday")
	assert.Error(t, err)
}
