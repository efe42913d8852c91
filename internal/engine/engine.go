// Package engine wires the output registry, the signal classifier, the
// popup coordinator and the preference model into one serialized pipeline.
//
// Every notification from the page, every popup interaction and every timer
// firing runs under a single lock, so classify, coordinate and score never
// interleave. Close cancels all pending timers and waits for in-flight
// vision requests; anything that fires afterwards is a no-op.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/dom"
	"github.com/runnerr0/refyn/internal/elicit"
	"github.com/runnerr0/refyn/internal/feedback"
	"github.com/runnerr0/refyn/internal/prefs"
	"github.com/runnerr0/refyn/internal/registry"
	"github.com/runnerr0/refyn/internal/sched"
	"github.com/runnerr0/refyn/internal/signals"
	"github.com/runnerr0/refyn/internal/storage"
	"github.com/runnerr0/refyn/internal/vision"
)

var (
	ErrClosed          = errors.New("engine closed")
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrUnknownElement  = errors.New("unknown element ref")
	ErrUnknownOutput   = errors.New("unknown output")
)

const mirrorTimeout = 5 * time.Second

// Options carries the engine's collaborators. Every field is optional.
type Options struct {
	// Clock defaults to sched.Real.
	Clock sched.Scheduler
	// Store mirrors committed events and score deltas. Nil keeps state in
	// memory only.
	Store storage.Store
	// Analyzer is asked for descriptors of liked and disliked media when
	// vision is enabled.
	Analyzer vision.Analyzer
	Logger   *zap.Logger
}

// ClickResult describes how a click was classified.
type ClickResult struct {
	Matched  bool          `json:"matched"`
	Action   string        `json:"action,omitempty"`
	Kind     feedback.Kind `json:"kind,omitempty"`
	Deferred bool          `json:"deferred,omitempty"`
	Outputs  []string      `json:"outputs,omitempty"`
}

// Status is a point-in-time summary of the engine.
type Status struct {
	Tracked     int   `json:"tracked_outputs"`
	Elements    int   `json:"elements"`
	Committed   int64 `json:"committed_events"`
	Dropped     int64 `json:"dropped_events"`
	Keywords    int   `json:"keywords"`
	PopupActive bool  `json:"popup_active"`
	Timers      int   `json:"pending_timers"`
}

// Suggestions is the answer to a suggestion query.
type Suggestions struct {
	Liked   []prefs.Entry `json:"liked"`
	Avoided []prefs.Entry `json:"avoided"`
	Context string        `json:"context"`
}

// Engine is the feedback pipeline for one browsing session.
type Engine struct {
	cfg      *config.Config
	clock    sched.Scheduler
	store    storage.Store
	analyzer vision.Analyzer
	adapter  vision.Adapter
	log      *zap.Logger

	platforms map[string]config.Platform

	mu     sync.Mutex
	closed bool
	timers map[*guardedTimer]struct{}

	doc   *dom.Document
	reg   *registry.Registry
	cls   *signals.Classifier
	pop   *elicit.Coordinator
	model *prefs.Model

	// refs maps an element ref reported as an output to the ids registered
	// from it, so removal can retire them without re-reading the markup.
	refs map[string][]string
	// held tracks the output each open popup holds an event for.
	held map[string]heldOutput

	committed int64
	dropped   int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine from cfg and restores the preference model from the
// store, if one is given.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = sched.Real{}
	}

	platforms := cfg.ResolvedPlatforms()
	byID := make(map[string]config.Platform, len(platforms))
	for _, p := range platforms {
		byID[p.ID] = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		clock:     clock,
		store:     opts.Store,
		analyzer:  opts.Analyzer,
		adapter:   vision.NewAdapter(cfg.Vision),
		log:       log,
		platforms: byID,
		timers:    make(map[*guardedTimer]struct{}),
		doc:       dom.NewDocument(),
		refs:      make(map[string][]string),
		held:      make(map[string]heldOutput),
		ctx:       ctx,
		cancel:    cancel,
	}

	e.reg = registry.New(platforms, cfg.Registry, clock.Now, log.Named("registry"))
	e.cls = signals.New(platforms, cfg.Signals, e.reg, log.Named("signals"))
	e.pop = elicit.New(cfg.Popups, guardedClock{e}, e.commit, e.recordAudit, log.Named("elicit"))
	e.model = prefs.New(
		cfg.Scoring,
		prefs.NewVocabulary(cfg.ResolvedVocabulary()),
		cfg.Popups.ReasonCategories(),
		platforms,
		clock.Now,
	)

	e.restore()
	return e, nil
}

func (e *Engine) restore() {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	rows, err := e.store.LoadScores(ctx)
	if err != nil {
		e.log.Warn("could not restore preference scores", zap.Error(err))
		return
	}
	entries := make([]prefs.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, prefs.Entry{Category: r.Category, Keyword: r.Keyword, Score: r.Score, UpdatedAt: r.UpdatedAt})
	}
	e.model.Restore(entries)
	e.log.Info("preference scores restored", zap.Int("keywords", len(entries)))
}

// Close tears the engine down: the live popup is dismissed, pending timers
// are cancelled and in-flight vision requests are awaited. It is safe to
// call more than once. The store is not closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.pop.Close()
	e.closed = true
	for t := range e.timers {
		t.inner.Stop()
	}
	e.timers = make(map[*guardedTimer]struct{})
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	e.log.Debug("engine closed")
	return nil
}

// platform resolves a platform id, or a host name when id is empty.
func (e *Engine) platform(id, host string) (string, error) {
	if id != "" {
		if _, ok := e.platforms[id]; ok {
			return id, nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, id)
	}
	if host != "" {
		if p, ok := e.cfg.PlatformForHost(host); ok {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: host %q", ErrUnknownPlatform, host)
}

// ResolvePlatform returns the platform id for an explicit id or a host.
func (e *Engine) ResolvePlatform(id, host string) (string, error) {
	return e.platform(id, host)
}

// OutputAppeared records the latest markup for ref and registers the
// outputs it holds: ref itself when it is an output, otherwise the outermost
// outputs inside it. Reporting the same element again is harmless.
func (e *Engine) OutputAppeared(platformID, ref, markup string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.platforms[platformID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platformID)
	}
	if err := e.doc.Put(ref, markup); err != nil {
		return nil, err
	}
	n := e.doc.Handle(ref)

	ids := e.registerWithin(platformID, n, nil)

	if len(ids) == 0 {
		if _, tracked := e.refs[ref]; !tracked {
			e.doc.Remove(ref)
		}
		return nil, nil
	}
	e.refs[ref] = mergeIDs(e.refs[ref], ids)
	return ids, nil
}

// registerWithin registers n when it is an output, otherwise the outermost
// outputs below it. Parts of an output that happen to match the pattern
// too (a clip's clip-title) are not outputs of their own.
func (e *Engine) registerWithin(platformID string, n dom.Node, ids []string) []string {
	if id, ok := e.reg.RegisterCandidate(platformID, n); ok {
		return appendUnique(ids, id)
	}
	for _, c := range n.Children() {
		ids = e.registerWithin(platformID, c, ids)
	}
	return ids
}

// OutputRemoved handles an element confirmed gone from the page. Each
// tracked output it held that was never rated yields a weak delete.
func (e *Engine) OutputRemoved(platformID, ref, markup string) ([]feedback.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.platforms[platformID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platformID)
	}

	ids, known := e.refs[ref]
	if !known && markup != "" {
		n, err := dom.Parse(markup)
		if err != nil {
			return nil, err
		}
		if id, ok := e.reg.Identify(platformID, n); ok {
			ids = []string{id}
		}
		for _, o := range e.reg.OutputsWithin(platformID, n) {
			ids = appendUnique(ids, o.OutputID)
		}
	}
	delete(e.refs, ref)
	e.doc.Remove(ref)

	var events []feedback.Event
	for _, id := range ids {
		if ev := e.reg.Retire(id); ev != nil {
			e.commit(*ev)
			events = append(events, *ev)
		}
	}
	return events, nil
}

// UpdateElement replaces the snapshot behind ref. Toggle verification
// reads whatever snapshot is current when its settle delay ends.
func (e *Engine) UpdateElement(ref, markup string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	return e.doc.Put(ref, markup)
}

// ObserveInput records text typed into the page's prompt field.
func (e *Engine) ObserveInput(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	e.reg.ObserveInput(text)
	return nil
}

// Click classifies a click on ref. markup, when given, replaces the
// element's snapshot first. Toggle matches are verified after the settle
// delay and emit nothing if the control did not end up active.
func (e *Engine) Click(platformID, ref, markup string) (ClickResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ClickResult{}, ErrClosed
	}
	if _, ok := e.platforms[platformID]; !ok {
		return ClickResult{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, platformID)
	}
	if markup != "" {
		if err := e.doc.Put(ref, markup); err != nil {
			return ClickResult{}, err
		}
	}
	target := e.doc.Handle(ref)
	if target == nil {
		return ClickResult{}, fmt.Errorf("%w: %q", ErrUnknownElement, ref)
	}

	m := e.cls.Classify(signals.Interaction{PlatformID: platformID, Target: target, At: e.clock.Now()})
	if m == nil {
		e.release(ref)
		return ClickResult{}, nil
	}

	res := ClickResult{Matched: true, Action: m.Action, Kind: m.Kind, Deferred: m.Deferred()}
	for _, t := range m.Targets {
		res.Outputs = append(res.Outputs, t.OutputID)
	}

	if m.Deferred() {
		guardedClock{e}.AfterFunc(e.cfg.Signals.ToggleSettle, func() {
			if e.cls.Verify(m) {
				e.emitMatch(m)
			}
			e.release(ref)
		})
		return res, nil
	}

	e.emitMatch(m)
	e.release(ref)
	return res, nil
}

// release forgets a click snapshot unless ref also names a tracked output.
func (e *Engine) release(ref string) {
	if _, ok := e.refs[ref]; !ok {
		e.doc.Remove(ref)
	}
}

func (e *Engine) emitMatch(m *signals.Match) {
	for _, ev := range e.cls.Events(m, e.clock.Now()) {
		e.dispatch(ev)
	}
}

type heldOutput struct {
	outputID string
	wasRated bool
}

// dispatch routes a classified event through the popup coordinator.
func (e *Engine) dispatch(ev feedback.Event) {
	if !ev.Attributed() {
		e.dropped++
		e.log.Debug("dropping unattributed event", zap.String("kind", string(ev.Kind)), zap.String("platform", ev.PlatformID))
		return
	}
	res, session := e.pop.Offer(ev)
	switch res {
	case elicit.Direct:
		e.commit(ev)
	case elicit.Shown:
		// The popup owes this output its event, so removal must not infer
		// a delete meanwhile.
		out, _ := e.reg.Get(ev.OutputID)
		e.held[session] = heldOutput{outputID: ev.OutputID, wasRated: out.Rated}
		e.reg.MarkRated(ev.OutputID)
		e.log.Debug("event held by popup", zap.String("session", session), zap.String("output_id", ev.OutputID))
	case elicit.Ignored:
		e.dropped++
	}
}

// commit scores a finalized event and mirrors it. Must be called with the
// lock held.
func (e *Engine) commit(ev feedback.Event) {
	e.commitEvent(ev)
}

func (e *Engine) commitEvent(ev feedback.Event) prefs.Deltas {
	if !ev.Attributed() {
		e.dropped++
		return nil
	}
	e.reg.MarkRated(ev.OutputID)
	deltas := e.model.ApplyEvent(ev)
	e.committed++

	e.log.Info("feedback committed",
		zap.String("event_id", ev.ID),
		zap.String("output_id", ev.OutputID),
		zap.String("kind", string(ev.Kind)),
		zap.String("strength", string(ev.Strength)),
		zap.String("source", string(ev.Source)),
		zap.Int("keywords", deltas.Len()),
	)

	e.mirror("record feedback", func(ctx context.Context) error {
		return e.store.RecordFeedback(ctx, ev)
	})
	e.mirrorDeltas(deltas, ev.Timestamp)
	e.analyze(ev)
	return deltas
}

func (e *Engine) mirrorDeltas(d prefs.Deltas, at time.Time) {
	d.Each(func(category, keyword string, v float64) {
		e.mirror("record delta", func(ctx context.Context) error {
			return e.store.RecordDelta(ctx, category, keyword, v, at)
		})
	})
}

// recordAudit runs once per ended popup session. A session that held an
// event but emitted nothing gives the output back its unrated state.
func (e *Engine) recordAudit(a elicit.Audit) {
	if h, ok := e.held[a.SessionID]; ok {
		delete(e.held, a.SessionID)
		if a.EventID == "" && !h.wasRated {
			e.reg.ClearRated(h.outputID)
		}
	}
	e.mirror("record popup audit", func(ctx context.Context) error {
		return e.store.RecordAudit(ctx, storage.PopupAudit{
			SessionID:  a.SessionID,
			Kind:       string(a.Kind),
			OutputID:   a.OutputID,
			Outcome:    string(a.Outcome),
			ReasonCode: a.ReasonCode,
			Intensity:  a.Intensity,
			EventID:    a.EventID,
			Timestamp:  a.At,
		})
	})
}

// mirror runs a store write. Failures are logged and never surface to the
// caller.
func (e *Engine) mirror(what string, fn func(ctx context.Context) error) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		e.log.Warn("mirror write failed", zap.String("op", what), zap.Error(err))
	}
}

// SelectReason forwards a reason selection to the live popup.
func (e *Engine) SelectReason(sessionID, code, custom string) error {
	return e.withPopup(func() error { return e.pop.SelectReason(sessionID, code, custom) })
}

// SelectIntensity forwards an intensity rating to the live popup.
func (e *Engine) SelectIntensity(sessionID string, n int) error {
	return e.withPopup(func() error { return e.pop.SelectIntensity(sessionID, n) })
}

// Skip submits the live popup with its partial evidence.
func (e *Engine) Skip(sessionID string) error {
	return e.withPopup(func() error { return e.pop.Skip(sessionID) })
}

// Cancel dismisses the live popup without a signal.
func (e *Engine) Cancel(sessionID string) error {
	return e.withPopup(func() error { return e.pop.Cancel(sessionID) })
}

func (e *Engine) withPopup(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	return fn()
}

// ActivePopup returns the live popup, or nil.
func (e *Engine) ActivePopup() *elicit.View {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	return e.pop.Active()
}

// RequestQuickRate opens the quick-rate popup for a tracked output.
func (e *Engine) RequestQuickRate(outputID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", ErrClosed
	}
	out, ok := e.reg.Get(outputID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOutput, outputID)
	}
	// The kind is replaced by the intensity the user picks.
	base := feedback.New(feedback.KindLike, feedback.StrengthWeak, feedback.SourceQuickRate, e.clock.Now())
	base.OutputID = out.OutputID
	base.PromptText = out.PromptText
	base.PlatformID = out.PlatformID
	return e.pop.RequestQuickRate(base)
}

// Rate commits a manually entered event, bypassing classification and
// popups. The event must name an output.
func (e *Engine) Rate(ev feedback.Event) (prefs.Deltas, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if !ev.Attributed() {
		return nil, fmt.Errorf("%w: empty output id", ErrUnknownOutput)
	}
	if ev.PlatformID != "" {
		if _, ok := e.platforms[ev.PlatformID]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, ev.PlatformID)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	return e.commitEvent(ev), nil
}

// Suggestions returns the top liked and avoided keywords for q.
func (e *Engine) Suggestions(q prefs.Query) (Suggestions, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Suggestions{}, ErrClosed
	}
	liked := e.model.TopLiked(q)
	avoided := e.model.TopAvoided(q)
	return Suggestions{
		Liked:   liked,
		Avoided: avoided,
		Context: prefs.FormatContext(liked, avoided),
	}, nil
}

// Snapshot returns every scored keyword.
func (e *Engine) Snapshot() []prefs.Entry {
	return e.model.Snapshot()
}

// Outputs returns the tracked outputs in discovery order.
func (e *Engine) Outputs() []registry.TrackedOutput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.Snapshot()
}

// Status summarizes the engine's state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Status{
		Tracked:     e.reg.Len(),
		Elements:    e.doc.Len(),
		Committed:   e.committed,
		Dropped:     e.dropped,
		Keywords:    e.model.Len(),
		PopupActive: e.pop.Active() != nil,
		Timers:      len(e.timers),
	}
}

func appendUnique(ids []string, id string) []string {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

func mergeIDs(a, b []string) []string {
	for _, id := range b {
		a = appendUnique(a, id)
	}
	return a
}
