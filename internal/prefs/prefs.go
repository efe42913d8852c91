// Package prefs holds the preference model: an additive keyword score per
// category, with ranking queries for "more of this" and "avoid this"
// suggestions.
package prefs

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/feedback"
)

// Deltas maps category -> keyword -> score change.
type Deltas map[string]map[string]float64

// Add accumulates v into the (category, keyword) cell.
func (d Deltas) Add(category, keyword string, v float64) {
	category = strings.ToLower(strings.TrimSpace(category))
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if category == "" || keyword == "" || v == 0 {
		return
	}
	if d[category] == nil {
		d[category] = make(map[string]float64)
	}
	d[category][keyword] += v
}

// Len returns the number of cells.
func (d Deltas) Len() int {
	n := 0
	for _, kws := range d {
		n += len(kws)
	}
	return n
}

// Each calls fn for every cell in category/keyword order.
func (d Deltas) Each(fn func(category, keyword string, v float64)) {
	cats := make([]string, 0, len(d))
	for c := range d {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		kws := make([]string, 0, len(d[c]))
		for k := range d[c] {
			kws = append(kws, k)
		}
		sort.Strings(kws)
		for _, k := range kws {
			fn(c, k, d[c][k])
		}
	}
}

// Entry is one scored keyword.
type Entry struct {
	Category  string    `json:"category"`
	Keyword   string    `json:"keyword"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Query selects suggestions for the prompt being edited.
type Query struct {
	PlatformID string
	K          int
	// Prompt is the text currently being edited; keywords it already
	// mentions are never suggested.
	Prompt string
}

type cell struct {
	score   float64
	updated time.Time
}

// Model is the preference store. It is safe for concurrent use.
type Model struct {
	cfg     config.ScoringConfig
	vocab   *Vocabulary
	reasons map[string]string
	// categories restricts suggestions per platform; absent or empty means
	// every category.
	categories map[string]map[string]bool
	now        func() time.Time

	mu     sync.RWMutex
	scores map[string]map[string]*cell
}

// New creates an empty model. reasons maps popup reason codes to the
// category they name.
func New(cfg config.ScoringConfig, vocab *Vocabulary, reasons map[string]string, platforms []config.Platform, now func() time.Time) *Model {
	if now == nil {
		now = time.Now
	}
	if vocab == nil {
		vocab = NewVocabulary(nil)
	}
	cats := make(map[string]map[string]bool, len(platforms))
	for _, p := range platforms {
		if len(p.Categories) == 0 {
			continue
		}
		set := make(map[string]bool, len(p.Categories))
		for _, c := range p.Categories {
			set[strings.ToLower(c)] = true
		}
		cats[p.ID] = set
	}
	return &Model{
		cfg:        cfg,
		vocab:      vocab,
		reasons:    reasons,
		categories: cats,
		now:        now,
		scores:     make(map[string]map[string]*cell),
	}
}

// ApplyDelta adds delta to the keyword's score. Scores are only ever
// accumulated, never assigned.
func (m *Model) ApplyDelta(category, keyword string, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(category, keyword, delta, m.now())
}

// Merge applies every cell of d.
func (m *Model) Merge(d Deltas) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for c, kws := range d {
		for k, v := range kws {
			m.applyLocked(c, k, v, now)
		}
	}
}

// Restore adds previously persisted entries, keeping their timestamps.
func (m *Model) Restore(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.applyLocked(e.Category, e.Keyword, e.Score, e.UpdatedAt)
	}
}

func (m *Model) applyLocked(category, keyword string, delta float64, at time.Time) {
	category = strings.ToLower(strings.TrimSpace(category))
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if category == "" || keyword == "" || delta == 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return
	}
	kws := m.scores[category]
	if kws == nil {
		kws = make(map[string]*cell)
		m.scores[category] = kws
	}
	c := kws[keyword]
	if c == nil {
		c = &cell{}
		kws[keyword] = c
	}
	c.score += delta
	if at.After(c.updated) {
		c.updated = at
	}
}

// EventDeltas computes the score changes an event implies without applying
// them. Descriptors come from the event's prompt and free text. Events
// with nothing to extract yield no deltas.
func (m *Model) EventDeltas(ev feedback.Event) Deltas {
	d := make(Deltas)
	sign := ev.Kind.Sign()
	if sign == 0 {
		return d
	}

	base := m.strengthWeight(ev.Strength) * intensityFactor(ev)
	reasonCat := m.reasons[ev.ReasonCode]

	text := ev.PromptText
	if ev.CustomText != "" {
		text += "\n" + ev.CustomText
	}
	for _, desc := range m.vocab.Extract(text) {
		mult := 1.0
		if ev.HasReason() {
			mult = m.cfg.ReasonOtherMultiplier
			if desc.Category == reasonCat {
				mult = m.cfg.ReasonCategoryMultiplier
			}
		}
		d.Add(desc.Category, desc.Keyword, sign*base*mult)
	}
	return d
}

// ApplyEvent merges the event's deltas and returns them.
func (m *Model) ApplyEvent(ev feedback.Event) Deltas {
	d := m.EventDeltas(ev)
	m.Merge(d)
	return d
}

func (m *Model) strengthWeight(s feedback.Strength) float64 {
	switch s {
	case feedback.StrengthWeak:
		return m.cfg.WeakWeight
	case feedback.StrengthStrong:
		return m.cfg.StrongWeight
	}
	return m.cfg.ModerateWeight
}

// intensityFactor scales by intensity around the neutral midpoint of 3. A
// quick rating encodes direction in the intensity itself, so a 1 is as
// emphatic a dislike as a 5 is a like.
func intensityFactor(ev feedback.Event) float64 {
	if ev.Intensity <= 0 {
		return 1
	}
	n := ev.Intensity
	if ev.Source == feedback.SourceQuickRate && ev.Kind == feedback.KindDislike {
		n = feedback.MaxIntensity + 1 - n
	}
	return float64(n) / 3
}

// Score returns the raw accumulated score.
func (m *Model) Score(category, keyword string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.scores[strings.ToLower(category)][strings.ToLower(keyword)]; c != nil {
		return c.score
	}
	return 0
}

// Len returns the number of scored keywords.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, kws := range m.scores {
		n += len(kws)
	}
	return n
}

// Snapshot returns every entry with its raw score, ordered by category then
// keyword.
func (m *Model) Snapshot() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for cat, kws := range m.scores {
		for kw, c := range kws {
			out = append(out, Entry{Category: cat, Keyword: kw, Score: c.score, UpdatedAt: c.updated})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out
}

// Reset drops every score.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = make(map[string]map[string]*cell)
}

// TopLiked returns up to q.K keywords with the highest positive scores.
func (m *Model) TopLiked(q Query) []Entry {
	return m.top(q, 1)
}

// TopAvoided returns up to q.K keywords with the most negative scores.
func (m *Model) TopAvoided(q Query) []Entry {
	return m.top(q, -1)
}

// top ranks entries whose score has the given sign. Scores are decayed for
// ranking when a half-life is configured. Fewer qualifying entries than
// the configured minimum yields an empty result.
func (m *Model) top(q Query, sign float64) []Entry {
	if q.K <= 0 {
		return []Entry{}
	}
	allowed := m.categories[q.PlatformID]
	now := m.now()

	m.mu.RLock()
	var out []Entry
	for cat, kws := range m.scores {
		if len(allowed) > 0 && !allowed[cat] {
			continue
		}
		for kw, c := range kws {
			s := m.decayed(c, now)
			if s*sign <= 0 {
				continue
			}
			out = append(out, Entry{Category: cat, Keyword: kw, Score: s, UpdatedAt: c.updated})
		}
	}
	m.mu.RUnlock()

	kept := out[:0]
	for _, e := range out {
		if !m.vocab.Mentions(q.Prompt, e.Keyword) {
			kept = append(kept, e)
		}
	}
	out = kept

	if len(out) == 0 || len(out) < m.cfg.MinEntries {
		return []Entry{}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score*sign > out[j].Score*sign
		}
		if out[i].Keyword != out[j].Keyword {
			return out[i].Keyword < out[j].Keyword
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out
}

func (m *Model) decayed(c *cell, now time.Time) float64 {
	if m.cfg.DecayHalfLife <= 0 || c.updated.IsZero() {
		return c.score
	}
	age := now.Sub(c.updated)
	if age <= 0 {
		return c.score
	}
	return c.score * math.Pow(0.5, float64(age)/float64(m.cfg.DecayHalfLife))
}

// FormatContext renders suggestion lists as the short keyword lines spliced
// into a generation request. Empty lists are omitted.
func FormatContext(liked, avoided []Entry) string {
	var lines []string
	if len(liked) > 0 {
		lines = append(lines, "Preferred: "+joinKeywords(liked))
	}
	if len(avoided) > 0 {
		lines = append(lines, "Avoid: "+joinKeywords(avoided))
	}
	return strings.Join(lines, "\n")
}

func joinKeywords(entries []Entry) string {
	kws := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Keyword] {
			continue
		}
		seen[e.Keyword] = true
		kws = append(kws, e.Keyword)
	}
	return strings.Join(kws, ", ")
}
