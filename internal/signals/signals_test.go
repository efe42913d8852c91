package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/dom"
	"github.com/runnerr0/refyn/internal/feedback"
	"github.com/runnerr0/refyn/internal/registry"
)

var clickAt = time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

func newTestClassifier(t *testing.T) (*Classifier, *registry.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	platforms := cfg.ResolvedPlatforms()
	reg := registry.New(platforms, cfg.Registry, func() time.Time { return clickAt }, nil)
	return New(platforms, cfg.Signals, reg, nil), reg
}

func rootOf(n dom.Node) dom.Node {
	for p := n.Parent(); p != nil; p = n.Parent() {
		n = p
	}
	return n
}

// registerAll registers every output in the snapshot containing n.
func registerAll(t *testing.T, reg *registry.Registry, n dom.Node) {
	t.Helper()
	for _, c := range dom.FindAll(rootOf(n), func(dom.Node) bool { return true }) {
		reg.RegisterCandidate("midjourney", c)
	}
	require.NotZero(t, reg.Len())
}

func click(c *Classifier, n dom.Node) *Match {
	return c.Classify(Interaction{PlatformID: "midjourney", Target: n, At: clickAt})
}

const twoBatches = `
<main>
  <div class="job-grid">
    <p class="prompt">neon skyline at dusk</p>
    <img data-image-id="i1" src="1.png" data-refyn-width="256" data-refyn-height="256">
    <img data-image-id="i2" src="2.png" data-refyn-width="256" data-refyn-height="256">
    <div class="toolbar">
      <button>U1</button>
      <button data-refyn-ref="u2">U2</button>
      <button title="Delete">x</button>
    </div>
  </div>
  <div class="job-grid">
    <p class="prompt">watercolor fox</p>
    <img data-image-id="i3" src="3.png" data-refyn-width="256" data-refyn-height="256">
    <img data-image-id="i4" src="4.png" data-refyn-width="256" data-refyn-height="256">
    <div class="toolbar"><button data-refyn-ref="reroll">🔄</button></div>
  </div>
</main>`

// --- Composite actions ---

func TestClassify_UpscalePicksIndexedOutput(t *testing.T) {
	c, reg := newTestClassifier(t)
	btn := dom.MustParse(twoBatches)
	registerAll(t, reg, btn)

	m := click(c, btn)
	require.NotNil(t, m)
	assert.Equal(t, config.RuleComposite, m.Rule)
	assert.Equal(t, feedback.KindUpscale, m.Kind)
	assert.Equal(t, feedback.StrengthStrong, m.Strength)
	assert.False(t, m.Deferred())
	require.Len(t, m.Targets, 1)
	assert.Equal(t, "i2", m.Targets[0].OutputID)
	assert.Equal(t, "neon skyline at dusk", m.Targets[0].PromptText)
}

func TestClassify_RerollScopesToEnclosingBatch(t *testing.T) {
	c, reg := newTestClassifier(t)
	root := rootOf(dom.MustParse(twoBatches))
	registerAll(t, reg, root)

	btn := dom.Find(root, func(n dom.Node) bool {
		v, _ := n.Attr(dom.RefAttr)
		return v == "reroll"
	})
	require.NotNil(t, btn)

	m := click(c, btn)
	require.NotNil(t, m)
	assert.Equal(t, feedback.KindReroll, m.Kind)
	assert.Equal(t, feedback.StrengthModerate, m.Strength)

	var ids []string
	for _, o := range m.Targets {
		ids = append(ids, o.OutputID)
	}
	assert.Equal(t, []string{"i3", "i4"}, ids)

	events := c.Events(m, clickAt)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, feedback.KindReroll, ev.Kind)
		assert.Equal(t, "watercolor fox", ev.PromptText)
	}
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestClassify_ClickOnInnerIconResolvesControl(t *testing.T) {
	c, reg := newTestClassifier(t)
	icon := dom.MustParse(`
		<div class="job-grid">
		  <img data-image-id="i9" src="9.png" data-refyn-width="256" data-refyn-height="256">
		  <button aria-label="Upscale"><span><i data-refyn-ref="icon" class="glyph"></i></span></button>
		</div>`)
	registerAll(t, reg, icon)

	m := click(c, icon)
	require.NotNil(t, m)
	assert.Equal(t, feedback.KindUpscale, m.Kind)
	assert.Equal(t, "button", m.Control.Tag())
	require.Len(t, m.Targets, 1)
	assert.Equal(t, "i9", m.Targets[0].OutputID)
}

// --- Delete affordance ---

func TestClassify_DeleteButton(t *testing.T) {
	c, reg := newTestClassifier(t)
	root := rootOf(dom.MustParse(twoBatches))
	registerAll(t, reg, root)

	del := dom.Find(root, func(n dom.Node) bool {
		v, _ := n.Attr("title")
		return v == "Delete"
	})
	require.NotNil(t, del)

	m := click(c, del)
	require.NotNil(t, m)
	assert.Equal(t, config.RuleDelete, m.Rule)
	assert.Equal(t, feedback.KindDelete, m.Kind)
	assert.Equal(t, feedback.StrengthModerate, m.Strength)
	assert.Equal(t, feedback.SourceDeleteButton, m.Source)
	require.Len(t, m.Targets, 1)
	assert.Equal(t, "i1", m.Targets[0].OutputID)

	c.Events(m, clickAt)
	out, ok := reg.Get("i1")
	require.True(t, ok)
	assert.False(t, out.Rated, "classifying alone leaves the output unrated")
}

// --- Priority ---

func TestClassify_CompositeOutranksDelete(t *testing.T) {
	c, reg := newTestClassifier(t)
	btn := dom.MustParse(`
		<div class="job-grid">
		  <img data-image-id="i1" src="1.png" data-refyn-width="256" data-refyn-height="256">
		  <button data-refyn-ref="b" aria-label="Delete and rerun">rerun</button>
		</div>`)
	registerAll(t, reg, btn)

	m := click(c, btn)
	require.NotNil(t, m)
	assert.Equal(t, config.RuleComposite, m.Rule)
	assert.Equal(t, feedback.KindReroll, m.Kind)
}

func TestClassify_NoMatch(t *testing.T) {
	c, _ := newTestClassifier(t)
	assert.Nil(t, click(c, dom.MustParse(`<button>Share</button>`)))
	assert.Nil(t, c.Classify(Interaction{PlatformID: "elsewhere", Target: dom.MustParse(`<button>U1</button>`)}))
	assert.Nil(t, c.Classify(Interaction{PlatformID: "midjourney"}))
}

func TestClassify_UnattributedStillClassifies(t *testing.T) {
	c, _ := newTestClassifier(t)

	m := click(c, dom.MustParse(`<button aria-label="Like"></button>`))
	require.NotNil(t, m)
	assert.Equal(t, feedback.KindLike, m.Kind)
	assert.False(t, m.Attributed())

	events := c.Events(m, clickAt)
	require.Len(t, events, 1)
	assert.False(t, events[0].Attributed())
	assert.Equal(t, "midjourney", events[0].PlatformID)
}

// --- Toggle verification ---

const likeOff = `
<div class="job-grid">
  <img data-image-id="i1" src="1.png" data-refyn-width="256" data-refyn-height="256">
  <button data-refyn-ref="like" class="btn">Like</button>
</div>`

const likeOn = `
<div class="job-grid">
  <img data-image-id="i1" src="1.png" data-refyn-width="256" data-refyn-height="256">
  <button data-refyn-ref="like" class="btn is-liked">Like</button>
</div>`

func TestToggle_DeferredUntilVerified(t *testing.T) {
	c, reg := newTestClassifier(t)
	doc := dom.NewDocument()
	require.NoError(t, doc.Put("like", likeOff))
	registerAll(t, reg, dom.MustParse(likeOff))

	m := click(c, doc.Handle("like"))
	require.NotNil(t, m)
	assert.True(t, m.Deferred())
	assert.Equal(t, feedback.SourceToggle, m.Source)

	assert.False(t, c.Verify(m), "button has not switched on yet")

	require.NoError(t, doc.Put("like", likeOn))
	assert.True(t, c.Verify(m))
}

func TestToggle_OffNeverDoubleSignals(t *testing.T) {
	c, reg := newTestClassifier(t)
	doc := dom.NewDocument()
	require.NoError(t, doc.Put("like", likeOff))
	registerAll(t, reg, dom.MustParse(likeOff))

	var emitted []feedback.Event

	// First click turns the like on.
	m := click(c, doc.Handle("like"))
	require.NotNil(t, m)
	require.NoError(t, doc.Put("like", likeOn))
	if c.Verify(m) {
		emitted = append(emitted, c.Events(m, clickAt)...)
	}

	// Second click turns it off again.
	m = click(c, doc.Handle("like"))
	require.NotNil(t, m)
	require.NoError(t, doc.Put("like", likeOff))
	if c.Verify(m) {
		emitted = append(emitted, c.Events(m, clickAt)...)
	}

	require.Len(t, emitted, 1)
	assert.Equal(t, feedback.KindLike, emitted[0].Kind)
	assert.Equal(t, feedback.StrengthModerate, emitted[0].Strength)
	assert.Equal(t, "i1", emitted[0].OutputID)
}

func TestToggle_InnerIconVerifiesLiveButton(t *testing.T) {
	const off = `
<div class="job-grid">
  <img data-image-id="i1" src="1.png" data-refyn-width="256" data-refyn-height="256">
  <button class="btn" aria-label="Like"><span data-refyn-ref="icon">♥</span></button>
</div>`
	const on = `
<div class="job-grid">
  <img data-image-id="i1" src="1.png" data-refyn-width="256" data-refyn-height="256">
  <button class="btn is-liked" aria-label="Like"><span data-refyn-ref="icon">♥</span></button>
</div>`

	c, reg := newTestClassifier(t)
	registerAll(t, reg, dom.MustParse(off))
	doc := dom.NewDocument()

	require.NoError(t, doc.Put("icon", off))
	m := click(c, doc.Handle("icon"))
	require.NotNil(t, m)
	assert.Equal(t, "button", m.Control.Tag())
	require.NoError(t, doc.Put("icon", on))
	assert.True(t, c.Verify(m), "liking through the icon is confirmed on the updated button")

	m = click(c, doc.Handle("icon"))
	require.NotNil(t, m)
	require.NoError(t, doc.Put("icon", off))
	assert.False(t, c.Verify(m), "unliking through the icon is dropped")
}

func TestVerify_RemovedControl(t *testing.T) {
	c, _ := newTestClassifier(t)
	doc := dom.NewDocument()
	require.NoError(t, doc.Put("like", likeOff))

	m := click(c, doc.Handle("like"))
	require.NotNil(t, m)
	doc.Remove("like")
	assert.False(t, c.Verify(m))
}

func TestIsActive(t *testing.T) {
	tests := []struct {
		markup string
		want   bool
	}{
		{`<button class="btn">Like</button>`, false},
		{`<button class="button">Like</button>`, false},
		{`<button class="btn is-active">Like</button>`, true},
		{`<button class="heart_filled">Like</button>`, true},
		{`<button aria-pressed="true">Like</button>`, true},
		{`<button aria-pressed="false">Like</button>`, false},
		{`<div role="switch" aria-checked="true"></div>`, true},
		{`<button data-state="on">Like</button>`, true},
		{`<button data-state="off">Like</button>`, false},
		{`<button data-liked="true"></button>`, true},
		{`<button><svg fill="none"><path d="M0 0"></path></svg></button>`, false},
		{`<button><svg><path d="M0 0" fill="#e11d48"></path></svg></button>`, true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsActive(dom.MustParse(tc.markup)), tc.markup)
	}
}

func TestCaptionIndex(t *testing.T) {
	assert.Equal(t, 3, captionIndex("V3"))
	assert.Equal(t, 1, captionIndex(" U1 "))
	assert.Zero(t, captionIndex("Upscale"))
}
