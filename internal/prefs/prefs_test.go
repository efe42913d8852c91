package prefs

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/feedback"
)

var epoch = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

func newTestModel(t *testing.T, mutate ...func(*config.Config)) (*Model, *time.Time) {
	t.Helper()
	cfg := config.DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}
	now := epoch
	m := New(cfg.Scoring, NewVocabulary(cfg.ResolvedVocabulary()), cfg.Popups.ReasonCategories(), cfg.ResolvedPlatforms(), func() time.Time { return now })
	return m, &now
}

func keywords(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Keyword)
	}
	return out
}

func eventFor(kind feedback.Kind, strength feedback.Strength, prompt string) feedback.Event {
	ev := feedback.New(kind, strength, feedback.SourceComposite, epoch)
	ev.OutputID = "out-1"
	ev.PlatformID = "midjourney"
	ev.PromptText = prompt
	return ev
}

// --- Accumulation ---

func TestApplyDelta_AdditiveAndOrderIndependent(t *testing.T) {
	deltas := []float64{2, -1, 0.5}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, order := range orders {
		m, _ := newTestModel(t)
		for _, i := range order {
			m.ApplyDelta("style", "Cinematic", deltas[i])
		}
		assert.InDelta(t, 1.5, m.Score("style", "cinematic"), 1e-9, "order %v", order)
	}
}

func TestMergeAndRestoreAccumulate(t *testing.T) {
	m, _ := newTestModel(t)
	m.ApplyDelta("mood", "dreamy", 1)

	d := make(Deltas)
	d.Add("mood", "dreamy", 0.5)
	d.Add("colors", "pastel", -2)
	m.Merge(d)

	m.Restore([]Entry{{Category: "mood", Keyword: "dreamy", Score: 1, UpdatedAt: epoch.Add(-time.Hour)}})

	want := []Entry{
		{Category: "colors", Keyword: "pastel", Score: -2},
		{Category: "mood", Keyword: "dreamy", Score: 2.5},
	}
	if diff := cmp.Diff(want, m.Snapshot(), cmpopts.IgnoreFields(Entry{}, "UpdatedAt")); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, m.Len())
}

func TestApplyDelta_IgnoresDegenerateInput(t *testing.T) {
	m, _ := newTestModel(t)
	m.ApplyDelta("", "neon", 1)
	m.ApplyDelta("style", " ", 1)
	m.ApplyDelta("style", "neon", 0)
	assert.Zero(t, m.Len())
}

// --- Event scoring ---

func TestUpscaleScenarioRaisesNeon(t *testing.T) {
	m, _ := newTestModel(t)

	ev := eventFor(feedback.KindUpscale, feedback.StrengthStrong, "neon skyline over a rainy city")
	d := m.ApplyEvent(ev)

	assert.Equal(t, 2.0, d["style"]["neon"])
	assert.Equal(t, 2.0, m.Score("style", "neon"), "strong weight times confidence 1.0")
	assert.Equal(t, 2.0, m.Score("composition", "skyline"))
	assert.Equal(t, 2.0, m.Score("subject", "city"))

	liked := m.TopLiked(Query{PlatformID: "midjourney", K: 5, Prompt: "a lighthouse at dawn"})
	assert.Contains(t, keywords(liked), "neon")

	liked = m.TopLiked(Query{PlatformID: "midjourney", K: 5, Prompt: "NEON lighthouse"})
	assert.NotContains(t, keywords(liked), "neon")
}

func TestEventDeltas_Weights(t *testing.T) {
	m, _ := newTestModel(t)

	tests := []struct {
		name string
		ev   func() feedback.Event
		cat  string
		kw   string
		want float64
	}{
		{
			name: "inferred delete is weak",
			ev: func() feedback.Event {
				ev := eventFor(feedback.KindDelete, feedback.StrengthWeak, "watercolor fox")
				ev.Source = feedback.SourceInferredDelete
				return ev
			},
			cat: "medium", kw: "watercolor", want: -0.5,
		},
		{
			name: "reroll is a moderate negative",
			ev:   func() feedback.Event { return eventFor(feedback.KindReroll, feedback.StrengthModerate, "watercolor fox") },
			cat:  "medium", kw: "watercolor", want: -1.0,
		},
		{
			name: "reason category gets the larger multiplier",
			ev: func() feedback.Event {
				return eventFor(feedback.KindLike, feedback.StrengthStrong, "vibrant portrait").
					WithEvidence("colors", "", 3, feedback.StrengthStrong, feedback.SourcePopup, epoch)
			},
			cat: "colors", kw: "vibrant", want: 3.0,
		},
		{
			name: "other categories of a reasoned event",
			ev: func() feedback.Event {
				return eventFor(feedback.KindLike, feedback.StrengthStrong, "vibrant portrait").
					WithEvidence("colors", "", 3, feedback.StrengthStrong, feedback.SourcePopup, epoch)
			},
			cat: "composition", kw: "portrait", want: 2.5,
		},
		{
			name: "intensity scales around three",
			ev: func() feedback.Event {
				return eventFor(feedback.KindDislike, feedback.StrengthModerate, "grainy photo").
					WithEvidence("", "", 6-3, feedback.StrengthModerate, feedback.SourcePopup, epoch)
			},
			cat: "quality", kw: "grainy", want: -1.0,
		},
		{
			name: "quick-rate one is an emphatic dislike",
			ev: func() feedback.Event {
				ev := eventFor(feedback.KindLike, feedback.StrengthModerate, "grainy photo").
					WithEvidence("", "", 1, feedback.StrengthModerate, feedback.SourceQuickRate, epoch)
				ev.Kind = feedback.KindDislike
				return ev
			},
			cat: "quality", kw: "grainy", want: -5.0 / 3,
		},
		{
			name: "custom text contributes descriptors",
			ev: func() feedback.Event {
				return eventFor(feedback.KindLike, feedback.StrengthModerate, "a fox").
					WithEvidence("", "love the golden hour glow", 0, feedback.StrengthModerate, feedback.SourcePopup, epoch)
			},
			cat: "lighting", kw: "golden hour", want: 1.25,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := m.EventDeltas(tc.ev())
			assert.InDelta(t, tc.want, d[tc.cat][tc.kw], 1e-9)
		})
	}
}

func TestEventDeltas_NothingToExtract(t *testing.T) {
	m, _ := newTestModel(t)
	assert.Zero(t, m.EventDeltas(eventFor(feedback.KindLike, feedback.StrengthStrong, "")).Len())
	assert.Zero(t, m.EventDeltas(eventFor(feedback.KindLike, feedback.StrengthStrong, "qwerty asdf")).Len())
}

// --- Queries ---

func TestTopLiked_ExcludesPresentKeywords(t *testing.T) {
	m, _ := newTestModel(t)
	m.ApplyDelta("lighting", "golden hour", 10)
	m.ApplyDelta("mood", "dreamy", 2)
	m.ApplyDelta("style", "retro", 1)

	got := m.TopLiked(Query{PlatformID: "midjourney", K: 5, Prompt: "Portrait at Golden   Hour"})
	assert.Equal(t, []string{"dreamy", "retro"}, keywords(got))

	got = m.TopLiked(Query{PlatformID: "midjourney", K: 1, Prompt: ""})
	assert.Equal(t, []string{"golden hour"}, keywords(got))
}

func TestTopAvoided_OrdersMostNegativeFirst(t *testing.T) {
	m, _ := newTestModel(t)
	m.ApplyDelta("quality", "grainy", -1)
	m.ApplyDelta("colors", "sepia", -3)
	m.ApplyDelta("mood", "eerie", -3)
	m.ApplyDelta("style", "anime", 4)

	got := m.TopAvoided(Query{PlatformID: "midjourney", K: 5})
	assert.Equal(t, []string{"eerie", "sepia", "grainy"}, keywords(got), "ties break alphabetically")
}

func TestTop_PlatformCategories(t *testing.T) {
	m, _ := newTestModel(t)
	m.ApplyDelta("style", "neon", 5)
	m.ApplyDelta("genre", "jazz", 2)

	assert.Equal(t, []string{"jazz"}, keywords(m.TopLiked(Query{PlatformID: "suno", K: 5})))
	assert.Equal(t, []string{"neon", "jazz"}, keywords(m.TopLiked(Query{PlatformID: "midjourney", K: 5})))
}

func TestTop_MinEntries(t *testing.T) {
	m, _ := newTestModel(t, func(c *config.Config) { c.Scoring.MinEntries = 3 })
	m.ApplyDelta("style", "neon", 1)
	m.ApplyDelta("mood", "calm", 1)

	got := m.TopLiked(Query{PlatformID: "midjourney", K: 5})
	require.NotNil(t, got)
	assert.Empty(t, got, "not enough data yet")

	m.ApplyDelta("mood", "epic", 1)
	assert.Len(t, m.TopLiked(Query{PlatformID: "midjourney", K: 5}), 3)
	assert.Empty(t, m.TopLiked(Query{PlatformID: "midjourney", K: 0}))
}

func TestTop_DecayReordersByAge(t *testing.T) {
	m, now := newTestModel(t, func(c *config.Config) { c.Scoring.DecayHalfLife = time.Hour })
	m.ApplyDelta("style", "baroque", 4)

	*now = now.Add(2 * time.Hour)
	m.ApplyDelta("style", "retro", 2)

	got := m.TopLiked(Query{PlatformID: "midjourney", K: 2})
	require.Len(t, got, 2)
	assert.Equal(t, "retro", got[0].Keyword)
	assert.InDelta(t, 1.0, got[1].Score, 1e-9)
	assert.Equal(t, 4.0, m.Score("style", "baroque"), "stored scores are never decayed")
}

func TestFormatContext(t *testing.T) {
	liked := []Entry{{Keyword: "neon"}, {Keyword: "golden hour"}}
	avoided := []Entry{{Keyword: "grainy"}}

	assert.Equal(t, "Preferred: neon, golden hour\nAvoid: grainy", FormatContext(liked, avoided))
	assert.Equal(t, "Avoid: grainy", FormatContext(nil, avoided))
	assert.Empty(t, FormatContext(nil, nil))
}

// --- Vocabulary ---

func TestExtractWordBoundaries(t *testing.T) {
	v := NewVocabulary(map[string][]string{
		"subject":  {"cat"},
		"lighting": {"golden hour"},
		"style":    {"art deco"},
	})

	got := v.Extract("A cathedral at GOLDEN hour, art-deco trim, one cat.")
	want := []Descriptor{
		{Category: "lighting", Keyword: "golden hour"},
		{Category: "subject", Keyword: "cat"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, v.Extract("   "))
	assert.Equal(t, 3, v.Len())
}

func TestVocabularyMentions(t *testing.T) {
	v := NewVocabulary(map[string][]string{"lighting": {"golden hour"}, "composition": {"close-up"}})

	assert.True(t, v.Mentions("misty golden hour glow", "golden hour"))
	assert.True(t, v.Mentions("Close-Up of a fox", "close-up"))
	assert.Empty(t, v.extra, "table keywords use their compiled patterns")

	assert.False(t, v.Mentions("cathedral", "cat"))
	assert.False(t, v.Mentions("", "cat"))
	assert.True(t, v.Mentions("a teal harbor", "Teal"))
	assert.Len(t, v.extra, 2, "other keywords are compiled once and cached")

	v.Mentions("teal again", "teal")
	assert.Len(t, v.extra, 2)
}
