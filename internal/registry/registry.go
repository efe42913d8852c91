// Package registry tracks the generated outputs discovered on a page: their
// identity, their best-effort prompt, and whether feedback has already been
// recorded for them.
//
// A Registry is not safe for concurrent use; the engine serializes access.
package registry

import (
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/dom"
	"github.com/runnerr0/refyn/internal/feedback"
)

// TrackedOutput is one discovered output element.
type TrackedOutput struct {
	OutputID     string
	PromptText   string
	PlatformID   string
	MediaURL     string
	DiscoveredAt time.Time
	LastSeen     time.Time
	Rated        bool
}

// Registry owns every TrackedOutput.
type Registry struct {
	cfg       config.RegistryConfig
	platforms map[string]config.Platform
	now       func() time.Time
	log       *zap.Logger

	entries map[string]*TrackedOutput
	// positions remembers the id assigned to a platform|x|y position so the
	// positional fallback stays stable across re-scans.
	positions map[string]string
	seq       int
	lastInput string
}

// New creates an empty registry for the given platform tables.
func New(platforms []config.Platform, cfg config.RegistryConfig, now func() time.Time, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	byID := make(map[string]config.Platform, len(platforms))
	for _, p := range platforms {
		byID[p.ID] = p
	}
	return &Registry{
		cfg:       cfg,
		platforms: byID,
		now:       now,
		log:       log,
		entries:   make(map[string]*TrackedOutput),
		positions: make(map[string]string),
	}
}

// RegisterCandidate matches n against the platform's output pattern and
// starts tracking it. It returns ok=false when n is not an output. Registering
// an already tracked output only refreshes LastSeen.
func (r *Registry) RegisterCandidate(platformID string, n dom.Node) (string, bool) {
	p, ok := r.platforms[platformID]
	if !ok || !r.isOutput(p, n) {
		return "", false
	}

	id := r.identify(p, n, true)
	now := r.now()

	if existing, ok := r.entries[id]; ok {
		existing.LastSeen = now
		return id, true
	}

	out := &TrackedOutput{
		OutputID:     id,
		PromptText:   r.associatePrompt(p, n),
		PlatformID:   platformID,
		MediaURL:     dom.MediaURL(n),
		DiscoveredAt: now,
		LastSeen:     now,
	}
	r.entries[id] = out

	if out.PromptText == "" {
		r.log.Debug("output has no prompt association", zap.String("output_id", id), zap.String("platform", platformID))
	}

	r.evict()
	return id, true
}

// Identify computes n's output id without registering anything.
func (r *Registry) Identify(platformID string, n dom.Node) (string, bool) {
	p, ok := r.platforms[platformID]
	if !ok || !r.isOutput(p, n) {
		return "", false
	}
	id := r.identify(p, n, false)
	return id, id != ""
}

// ObserveInput records the latest value typed into a page text input. It is
// the fallback prompt for outputs with no prompt element nearby.
func (r *Registry) ObserveInput(text string) {
	text = strings.TrimSpace(text)
	if len(text) > r.cfg.MinInputLength {
		r.lastInput = text
	}
}

// Retire handles an output confirmed removed from the page. It synthesises a
// weak delete event unless feedback was already recorded, and drops the
// entry either way. Unknown ids return nil.
func (r *Registry) Retire(id string) *feedback.Event {
	out, ok := r.entries[id]
	if !ok {
		return nil
	}
	r.remove(id)

	if out.Rated {
		return nil
	}
	out.Rated = true

	ev := feedback.New(feedback.KindDelete, feedback.StrengthWeak, feedback.SourceInferredDelete, r.now())
	ev.OutputID = out.OutputID
	ev.PromptText = out.PromptText
	ev.PlatformID = out.PlatformID
	return &ev
}

// RetireNode identifies n and retires it.
func (r *Registry) RetireNode(platformID string, n dom.Node) *feedback.Event {
	id, ok := r.Identify(platformID, n)
	if !ok {
		return nil
	}
	return r.Retire(id)
}

// MarkRated records that feedback exists for id.
func (r *Registry) MarkRated(id string) bool {
	out, ok := r.entries[id]
	if !ok {
		return false
	}
	out.Rated = true
	return true
}

// ClearRated undoes MarkRated for an output whose pending feedback was
// withdrawn, so its removal infers a delete again.
func (r *Registry) ClearRated(id string) bool {
	out, ok := r.entries[id]
	if !ok {
		return false
	}
	out.Rated = false
	return true
}

// Get returns a copy of the tracked output.
func (r *Registry) Get(id string) (TrackedOutput, bool) {
	out, ok := r.entries[id]
	if !ok {
		return TrackedOutput{}, false
	}
	return *out, true
}

// Len returns the number of tracked outputs.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Snapshot returns copies of all tracked outputs ordered by discovery time.
func (r *Registry) Snapshot() []TrackedOutput {
	out := make([]TrackedOutput, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].OutputID < out[j].OutputID
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	return out
}

// OutputsWithin returns the tracked outputs whose elements lie in root's
// subtree, in document order.
func (r *Registry) OutputsWithin(platformID string, root dom.Node) []TrackedOutput {
	p, ok := r.platforms[platformID]
	if !ok || root == nil {
		return nil
	}

	var out []TrackedOutput
	seen := make(map[string]bool)
	for _, n := range dom.FindAll(root, func(c dom.Node) bool { return r.isOutput(p, c) }) {
		id := r.identify(p, n, false)
		if id == "" || seen[id] {
			continue
		}
		if e, ok := r.entries[id]; ok {
			seen[id] = true
			out = append(out, *e)
		}
	}
	return out
}

func (r *Registry) isOutput(p config.Platform, n dom.Node) bool {
	if n == nil {
		return false
	}
	pat := p.Output
	if !pat.Matcher.IsZero() && !pat.Matcher.Matches(n) {
		return false
	}
	if b, ok := n.Bounds(); ok {
		if b.Width < pat.MinWidth || b.Height < pat.MinHeight {
			return false
		}
	}
	if pat.RequireMedia && dom.MediaURL(n) == "" {
		return false
	}
	return !pat.Matcher.IsZero() || pat.RequireMedia
}

// identify walks the id fallback chain: native id, data identifiers, media
// URL hash, then position. assign controls whether a new positional id may
// be minted.
func (r *Registry) identify(p config.Platform, n dom.Node, assign bool) string {
	if id := strings.TrimSpace(n.ID()); id != "" {
		return id
	}
	if id := dataIdentifier(n, p.Output.IDAttrs); id != "" {
		return id
	}
	if u := dom.MediaURL(n); u != "" {
		return mediaID(u)
	}
	return r.positionalID(p.ID, n, assign)
}

func dataIdentifier(n dom.Node, preferred []string) string {
	for _, name := range preferred {
		if v, ok := n.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	for _, kv := range n.Attrs() {
		name, val := kv[0], strings.TrimSpace(kv[1])
		if val == "" || strings.HasPrefix(name, "data-refyn-") {
			continue
		}
		if strings.HasPrefix(name, "data-") && strings.HasSuffix(name, "-id") {
			return val
		}
	}
	return ""
}

// mediaID hashes the base64 encoding of a media URL.
func mediaID(u string) string {
	h := fnv.New64a()
	h.Write([]byte(base64.StdEncoding.EncodeToString([]byte(u))))
	return fmt.Sprintf("media-%016x", h.Sum64())
}

// positionalID is the last link of the chain. Elements with a layout box
// are keyed by position; elements without one all sit at 0,0 and are keyed
// by their own shape instead, so re-reporting the same element maps to the
// same id.
func (r *Registry) positionalID(platformID string, n dom.Node, assign bool) string {
	b, known := n.Bounds()
	pos := fmt.Sprintf("%s|%.0f|%.0f", platformID, b.X, b.Y)
	key := pos
	if !known {
		key = fmt.Sprintf("%s|%016x", pos, fingerprint(n))
	}

	if id, ok := r.positions[key]; ok {
		return id
	}
	if !assign {
		return ""
	}

	id := fmt.Sprintf("%s|%d", pos, r.now().UnixMilli())
	if !known {
		// Two unplaced elements can be minted in the same millisecond.
		r.seq++
		id = fmt.Sprintf("%s-%d", id, r.seq)
	}
	r.positions[key] = id
	return id
}

// fingerprint hashes an element's tag, classes, attributes and text. Our
// own data-refyn-* stamps are left out.
func fingerprint(n dom.Node) uint64 {
	h := fnv.New64a()
	h.Write([]byte(n.Tag()))
	for _, c := range n.Classes() {
		h.Write([]byte{0})
		h.Write([]byte(c))
	}
	for _, kv := range n.Attrs() {
		if kv[0] == "class" || strings.HasPrefix(kv[0], "data-refyn-") {
			continue
		}
		h.Write([]byte{1})
		h.Write([]byte(kv[0] + "=" + kv[1]))
	}
	h.Write([]byte{2})
	h.Write([]byte(n.Text()))
	return h.Sum64()
}

func (r *Registry) associatePrompt(p config.Platform, n dom.Node) string {
	if !p.PromptSource.IsZero() {
		for _, anc := range dom.Ancestors(n, r.cfg.PromptSearchDepth) {
			found := dom.Find(anc, func(c dom.Node) bool {
				return p.PromptSource.Matches(c) && c.Text() != ""
			})
			if found != nil {
				return found.Text()
			}
		}
	}
	return r.lastInput
}

func (r *Registry) remove(id string) {
	delete(r.entries, id)
	for key, v := range r.positions {
		if v == id {
			delete(r.positions, key)
		}
	}
}

// evict drops the least recently seen rated entries once the registry is
// over capacity. Unrated entries are never evicted: they still owe a
// terminal signal.
func (r *Registry) evict() {
	if r.cfg.MaxEntries <= 0 || len(r.entries) <= r.cfg.MaxEntries {
		return
	}

	var rated []*TrackedOutput
	for _, e := range r.entries {
		if e.Rated {
			rated = append(rated, e)
		}
	}
	sort.Slice(rated, func(i, j int) bool { return rated[i].LastSeen.Before(rated[j].LastSeen) })

	for _, e := range rated {
		if len(r.entries) <= r.cfg.MaxEntries {
			break
		}
		r.remove(e.OutputID)
		r.log.Debug("evicted rated output", zap.String("output_id", e.OutputID))
	}
}
