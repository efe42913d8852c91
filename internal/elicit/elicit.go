// Package elicit runs the "tell us why" popups that augment a feedback event
// with a reason and an intensity before it reaches the preference model.
//
// At most one session is live at a time. A session collects its two pieces
// of evidence in either order, auto-submits shortly after both are present,
// and is submitted at most once: by that confirmation, by Skip, by its
// timeout, or by another popup replacing it. Only Cancel and Close emit
// nothing.
//
// A Coordinator is not safe for concurrent use. Timer callbacks run through
// the Scheduler it is given, which must serialize them with every other
// call.
package elicit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/feedback"
	"github.com/runnerr0/refyn/internal/sched"
)

// Kind names a popup.
type Kind string

const (
	KindLikeDetail    Kind = "like-detail"
	KindDislikeDetail Kind = "dislike-detail"
	KindQuickRate     Kind = "quick-rate"
	KindTrashReason   Kind = "trash-reason"
)

// ForEvent returns the popup that collects detail for an event kind.
func ForEvent(k feedback.Kind) (Kind, bool) {
	switch k {
	case feedback.KindLike:
		return KindLikeDetail, true
	case feedback.KindDislike:
		return KindDislikeDetail, true
	case feedback.KindDelete:
		return KindTrashReason, true
	}
	return "", false
}

// State is a session's position in the collection protocol.
type State string

const (
	StateCollecting State = "collecting"
	StateConfirming State = "confirming"
	StateSubmitted  State = "submitted"
	StateClosed     State = "closed"
)

// Outcome is how a session ended.
type Outcome string

// OutcomeSuperseded marks a session submitted early because another popup
// opened.
const (
	OutcomeSubmitted  Outcome = "submitted"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeClosed     Outcome = "closed"
)

// OfferResult says what Offer did with an event.
type OfferResult int

const (
	// Direct means no popup applies; the caller forwards the event itself.
	Direct OfferResult = iota
	// Shown means a popup now holds the event until it is submitted.
	Shown
	// Ignored means the event fell inside the cooldown of a popup for the
	// same output and must be dropped.
	Ignored
)

var (
	ErrNoSession        = errors.New("no such popup session")
	ErrSubmitted        = errors.New("popup session already submitted")
	ErrUnknownReason    = errors.New("unknown reason")
	ErrInvalidIntensity = fmt.Errorf("intensity must be between 1 and %d", feedback.MaxIntensity)
	ErrDisabled         = errors.New("popup kind disabled")
)

// View is the read-only state of the live session, for rendering.
type View struct {
	ID                string          `json:"id"`
	Kind              Kind            `json:"kind"`
	State             State           `json:"state"`
	OutputID          string          `json:"output_id"`
	PromptText        string          `json:"prompt_text,omitempty"`
	Reasons           []config.Reason `json:"reasons"`
	SelectedReason    string          `json:"selected_reason,omitempty"`
	CustomText        string          `json:"custom_text,omitempty"`
	SelectedIntensity int             `json:"selected_intensity,omitempty"`
	OpenedAt          time.Time       `json:"opened_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
}

// Audit records how a session ended. EventID is empty when nothing was
// emitted.
type Audit struct {
	SessionID  string
	Kind       Kind
	OutputID   string
	Outcome    Outcome
	ReasonCode string
	Intensity  int
	EventID    string
	At         time.Time
}

type session struct {
	id        string
	kind      Kind
	group     string
	base      feedback.Event
	reason    string
	custom    string
	intensity int
	state     State
	openedAt  time.Time
	expiresAt time.Time
	timeout   sched.Timer
	confirm   sched.Timer
}

func (s *session) hasReason() bool { return s.reason != "" || s.custom != "" }

func (s *session) stopTimers() {
	if s.timeout != nil {
		s.timeout.Stop()
	}
	if s.confirm != nil {
		s.confirm.Stop()
	}
}

// Coordinator owns the popup sessions.
type Coordinator struct {
	cfg   config.PopupsConfig
	clock sched.Scheduler
	emit  func(feedback.Event)
	audit func(Audit)
	log   *zap.Logger

	current *session
	// last is the most recently ended session, kept to tell late
	// interactions apart from unknown ids.
	last     *session
	cooldown map[string]time.Time
}

// New creates a Coordinator. emit receives every finalized event; audit,
// when non-nil, receives one record per ended session.
func New(cfg config.PopupsConfig, clock sched.Scheduler, emit func(feedback.Event), audit func(Audit), log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if audit == nil {
		audit = func(Audit) {}
	}
	return &Coordinator{
		cfg:      cfg,
		clock:    clock,
		emit:     emit,
		audit:    audit,
		log:      log,
		cooldown: make(map[string]time.Time),
	}
}

// Offer routes a classified event. Like, dislike and delete events for a
// known output open their detail popup when enabled; everything else is
// returned as Direct. Within the cooldown after a popup opens for an
// output, further events for that output are Ignored.
func (c *Coordinator) Offer(ev feedback.Event) (OfferResult, string) {
	now := c.clock.Now()
	if ev.OutputID != "" {
		if until, ok := c.cooldown[ev.OutputID]; ok && now.Before(until) {
			c.log.Debug("event inside popup cooldown", zap.String("output_id", ev.OutputID), zap.String("kind", string(ev.Kind)))
			return Ignored, ""
		}
	}

	kind, ok := ForEvent(ev.Kind)
	if !ok || !ev.Attributed() || !c.cfg.KindEnabled(string(kind)) {
		return Direct, ""
	}
	return Shown, c.open(kind, ev)
}

// RequestQuickRate opens the quick-rate popup for an output. The event kind
// is decided by the intensity chosen.
func (c *Coordinator) RequestQuickRate(base feedback.Event) (string, error) {
	if !c.cfg.KindEnabled(string(KindQuickRate)) {
		return "", ErrDisabled
	}
	return c.open(KindQuickRate, base), nil
}

// SelectReason records a preset reason code, free text, or both.
func (c *Coordinator) SelectReason(id, code, custom string) error {
	s, err := c.lookup(id)
	if err != nil {
		return err
	}
	code, custom = strings.TrimSpace(code), strings.TrimSpace(custom)
	if code == "" && custom == "" {
		return ErrUnknownReason
	}
	if code != "" {
		if _, ok := c.cfg.ReasonFor(string(s.kind), code); !ok {
			return fmt.Errorf("%w: %q for %s", ErrUnknownReason, code, s.kind)
		}
	}
	s.reason, s.custom = code, custom
	c.advance(s)
	return nil
}

// SelectIntensity records a 1..5 rating.
func (c *Coordinator) SelectIntensity(id string, n int) error {
	s, err := c.lookup(id)
	if err != nil {
		return err
	}
	if n < 1 || n > feedback.MaxIntensity {
		return ErrInvalidIntensity
	}
	s.intensity = n
	c.advance(s)
	return nil
}

// Skip submits the session with whatever evidence it has.
func (c *Coordinator) Skip(id string) error {
	s, err := c.lookup(id)
	if err != nil {
		return err
	}
	c.finish(s, OutcomeSkipped)
	return nil
}

// Cancel closes the session without emitting anything.
func (c *Coordinator) Cancel(id string) error {
	s, err := c.lookup(id)
	if err != nil {
		return err
	}
	c.discard(s, OutcomeCancelled)
	return nil
}

// Active returns the live session, or nil.
func (c *Coordinator) Active() *View {
	s := c.current
	if s == nil {
		return nil
	}
	return &View{
		ID:                s.id,
		Kind:              s.kind,
		State:             s.state,
		OutputID:          s.base.OutputID,
		PromptText:        s.base.PromptText,
		Reasons:           c.cfg.Reasons[string(s.kind)],
		SelectedReason:    s.reason,
		CustomText:        s.custom,
		SelectedIntensity: s.intensity,
		OpenedAt:          s.openedAt,
		ExpiresAt:         s.expiresAt,
	}
}

// Close discards the live session and forgets all cooldowns.
func (c *Coordinator) Close() {
	if c.current != nil {
		c.discard(c.current, OutcomeClosed)
	}
	c.cooldown = make(map[string]time.Time)
}

func (c *Coordinator) open(kind Kind, base feedback.Event) string {
	if c.current != nil {
		c.finish(c.current, OutcomeSuperseded)
	}

	now := c.clock.Now()
	timeout := c.cfg.Timeout(string(kind))
	s := &session{
		id:        uuid.NewString(),
		kind:      kind,
		group:     base.OutputID,
		base:      base,
		state:     StateCollecting,
		openedAt:  now,
		expiresAt: now.Add(timeout),
	}
	s.timeout = c.clock.AfterFunc(timeout, func() { c.finish(s, OutcomeTimeout) })
	c.current = s

	for g, until := range c.cooldown {
		if !now.Before(until) {
			delete(c.cooldown, g)
		}
	}
	if s.group != "" && c.cfg.Cooldown > 0 {
		c.cooldown[s.group] = now.Add(c.cfg.Cooldown)
	}

	c.log.Debug("popup shown", zap.String("session", s.id), zap.String("kind", string(kind)), zap.String("output_id", s.group))
	return s.id
}

func (c *Coordinator) lookup(id string) (*session, error) {
	if c.current != nil && c.current.id == id {
		return c.current, nil
	}
	if c.last != nil && c.last.id == id && c.last.state == StateSubmitted {
		return nil, ErrSubmitted
	}
	return nil, ErrNoSession
}

// advance moves a session to confirming once both pieces of evidence are
// present. Changing a selection while confirming restarts the delay.
func (c *Coordinator) advance(s *session) {
	if !s.hasReason() || s.intensity == 0 {
		return
	}
	s.state = StateConfirming
	if s.confirm != nil {
		s.confirm.Stop()
	}
	s.confirm = c.clock.AfterFunc(c.cfg.ConfirmDelay, func() { c.finish(s, OutcomeSubmitted) })
}

// finish submits s exactly once. Stale timer firings for a session that is
// no longer live are no-ops.
func (c *Coordinator) finish(s *session, outcome Outcome) {
	if c.current != s || s.state == StateSubmitted || s.state == StateClosed {
		return
	}
	s.state = StateSubmitted
	s.stopTimers()
	c.current = nil
	c.last = s

	rec := c.record(s, outcome)
	if ev, ok := c.finalize(s); ok {
		rec.EventID = ev.ID
		c.emit(ev)
	} else {
		c.log.Debug("popup ended without a signal", zap.String("session", s.id), zap.String("kind", string(s.kind)))
	}
	c.audit(rec)
}

func (c *Coordinator) discard(s *session, outcome Outcome) {
	s.state = StateClosed
	s.stopTimers()
	if c.current == s {
		c.current = nil
	}
	c.last = s
	c.audit(c.record(s, outcome))
	c.log.Debug("popup closed", zap.String("session", s.id), zap.String("outcome", string(outcome)))
}

func (c *Coordinator) record(s *session, outcome Outcome) Audit {
	return Audit{
		SessionID:  s.id,
		Kind:       s.kind,
		OutputID:   s.base.OutputID,
		Outcome:    outcome,
		ReasonCode: s.reason,
		Intensity:  s.intensity,
		At:         c.clock.Now(),
	}
}

// finalize merges the collected evidence into the held event. The more
// evidence, the stronger the signal; a popup with none still counts as a
// weak one. Quick-rate takes its direction from the intensity and emits
// nothing for a neutral or missing rating.
func (c *Coordinator) finalize(s *session) (feedback.Event, bool) {
	evidence := 0
	if s.hasReason() {
		evidence++
	}
	if s.intensity > 0 {
		evidence++
	}
	strength := feedback.StrengthWeak
	switch evidence {
	case 1:
		strength = feedback.StrengthModerate
	case 2:
		strength = feedback.StrengthStrong
	}

	base := s.base
	source := feedback.SourcePopup
	if s.kind == KindQuickRate {
		source = feedback.SourceQuickRate
		switch {
		case s.intensity >= 4:
			base.Kind = feedback.KindLike
		case s.intensity >= 1 && s.intensity <= 2:
			base.Kind = feedback.KindDislike
		default:
			return feedback.Event{}, false
		}
	}
	return base.WithEvidence(s.reason, s.custom, s.intensity, strength, source, c.clock.Now()), true
}
