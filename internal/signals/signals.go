// Package signals classifies raw interactions with a page into feedback
// events. Classification follows a fixed priority: composite platform
// actions, then explicit delete affordances, then toggle-style ratings.
// Toggles are two-phase: Classify reports a deferred match and Verify
// re-inspects the control after a settle interval.
package signals

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/dom"
	"github.com/runnerr0/refyn/internal/feedback"
	"github.com/runnerr0/refyn/internal/registry"
)

// Interaction is a click on something that is not one of our own controls.
type Interaction struct {
	PlatformID string
	Target     dom.Node
	At         time.Time
}

// Match is a classified interaction.
type Match struct {
	PlatformID string
	Action     string
	Rule       string
	Kind       feedback.Kind
	Strength   feedback.Strength
	Source     feedback.Source
	// Control is the element whose caption matched. For toggles it is
	// re-inspected by Verify.
	Control dom.Node
	// Targets are the tracked outputs the interaction applies to. Empty when
	// no output could be attributed.
	Targets []registry.TrackedOutput
	At      time.Time
}

// Deferred reports whether the match must be verified before emitting.
func (m *Match) Deferred() bool {
	return m.Rule == config.RuleToggle
}

// Attributed reports whether at least one output was resolved.
func (m *Match) Attributed() bool {
	return len(m.Targets) > 0
}

type action struct {
	pattern  config.ActionPattern
	captions []*regexp.Regexp
}

type platform struct {
	cfg     config.Platform
	byRule  map[string][]action
	hasRule bool
}

var rulePriority = []string{config.RuleComposite, config.RuleDelete, config.RuleToggle}

// Classifier maps interactions to matches using the platform action tables.
type Classifier struct {
	cfg       config.SignalsConfig
	reg       *registry.Registry
	platforms map[string]platform
	log       *zap.Logger
}

// New compiles the action tables of every platform. Actions whose captions
// fail to compile are skipped and logged.
func New(platforms []config.Platform, cfg config.SignalsConfig, reg *registry.Registry, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Classifier{
		cfg:       cfg,
		reg:       reg,
		platforms: make(map[string]platform, len(platforms)),
		log:       log,
	}
	for _, p := range platforms {
		cp := platform{cfg: p, byRule: make(map[string][]action)}
		for _, a := range p.Actions {
			res, err := a.CompileCaptions()
			if err != nil {
				log.Warn("skipping action", zap.String("platform", p.ID), zap.Error(err))
				continue
			}
			cp.byRule[a.Rule] = append(cp.byRule[a.Rule], action{pattern: a, captions: res})
			cp.hasRule = true
		}
		c.platforms[p.ID] = cp
	}
	return c
}

// Classify returns the first matching action for in, or nil.
func (c *Classifier) Classify(in Interaction) *Match {
	p, ok := c.platforms[in.PlatformID]
	if !ok || in.Target == nil || !p.hasRule {
		return nil
	}

	control := controlFor(in.Target, c.cfg.CaptionDepth)
	labels := dom.Captions(control)
	if control != in.Target {
		labels = append(labels, dom.Captions(in.Target)...)
	}

	for _, rule := range rulePriority {
		for _, a := range p.byRule[rule] {
			label, hit := a.matches(control, labels)
			if !hit {
				continue
			}
			m := &Match{
				PlatformID: in.PlatformID,
				Action:     a.pattern.Name,
				Rule:       rule,
				Kind:       feedback.Kind(a.pattern.Kind),
				Control:    control,
				At:         in.At,
			}
			m.Strength, m.Source = weigh(rule, m.Kind)
			if !m.Kind.Valid() {
				c.log.Warn("action maps to unknown kind", zap.String("action", a.pattern.Name), zap.String("kind", a.pattern.Kind))
				return nil
			}

			if rule == config.RuleComposite && m.Kind == feedback.KindReroll {
				m.Targets = c.batchOutputs(p.cfg, control)
			} else if out, ok := c.nearestOutput(p.cfg, control, label); ok {
				m.Targets = []registry.TrackedOutput{out}
			}

			if !m.Attributed() {
				c.log.Debug("interaction not attributed to an output",
					zap.String("platform", in.PlatformID), zap.String("action", m.Action))
			}
			return m
		}
	}
	return nil
}

// Verify re-inspects a deferred match's control. It reports true only when
// the control now reads as active; a click that toggled it off is dropped.
func (c *Classifier) Verify(m *Match) bool {
	if !m.Deferred() {
		return true
	}
	if m.Control == nil {
		return false
	}
	if IsActive(m.Control) {
		return true
	}
	c.log.Debug("toggle not confirmed active", zap.String("action", m.Action), zap.String("platform", m.PlatformID))
	return false
}

// Events builds one event per target output, or a single unattributed event
// when no output was resolved. It does not touch the registry: an output
// becomes rated only once an event for it is committed or held by a popup.
func (c *Classifier) Events(m *Match, at time.Time) []feedback.Event {
	if !m.Attributed() {
		ev := feedback.New(m.Kind, m.Strength, m.Source, at)
		ev.PlatformID = m.PlatformID
		return []feedback.Event{ev}
	}
	events := make([]feedback.Event, 0, len(m.Targets))
	for _, t := range m.Targets {
		ev := feedback.New(m.Kind, m.Strength, m.Source, at)
		ev.OutputID = t.OutputID
		ev.PromptText = t.PromptText
		ev.PlatformID = t.PlatformID
		events = append(events, ev)
	}
	return events
}

func weigh(rule string, kind feedback.Kind) (feedback.Strength, feedback.Source) {
	switch rule {
	case config.RuleComposite:
		if kind == feedback.KindUpscale {
			return feedback.StrengthStrong, feedback.SourceComposite
		}
		return feedback.StrengthModerate, feedback.SourceComposite
	case config.RuleDelete:
		return feedback.StrengthModerate, feedback.SourceDeleteButton
	}
	return feedback.StrengthModerate, feedback.SourceToggle
}

// matches reports whether the control fits the action, returning the label
// that matched (empty for shape-only matches).
func (a action) matches(control dom.Node, labels []string) (string, bool) {
	if !a.pattern.Matcher.IsZero() && a.pattern.Matcher.Matches(control) {
		return "", true
	}
	for _, l := range labels {
		for _, re := range a.captions {
			if re.MatchString(l) {
				return l, true
			}
		}
	}
	return "", false
}

var controlTags = map[string]bool{"button": true, "a": true, "summary": true}

var controlRoles = map[string]bool{"button": true, "menuitem": true, "switch": true, "checkbox": true, "tab": true}

// controlFor resolves the clickable control a click landed in. Clicks often
// hit an inner icon or span, so up to depth ancestors are considered.
func controlFor(target dom.Node, depth int) dom.Node {
	for _, n := range append([]dom.Node{target}, dom.Ancestors(target, depth)...) {
		if isControl(n) {
			return n
		}
	}
	return target
}

func isControl(n dom.Node) bool {
	if controlTags[n.Tag()] {
		return true
	}
	if n.Tag() == "input" {
		t, _ := n.Attr("type")
		return t == "button" || t == "submit"
	}
	if role, ok := n.Attr("role"); ok && controlRoles[strings.ToLower(role)] {
		return true
	}
	_, pressed := n.Attr("aria-pressed")
	return pressed
}

// nearestOutput finds the tracked output closest to the control: the first
// ancestor whose subtree holds tracked outputs. A trailing index in the
// caption (U2, V3) picks that output of a group.
func (c *Classifier) nearestOutput(p config.Platform, control dom.Node, label string) (registry.TrackedOutput, bool) {
	for n := control; n != nil; n = n.Parent() {
		outs := c.reg.OutputsWithin(p.ID, n)
		if len(outs) == 0 {
			continue
		}
		if i := captionIndex(label); i > 0 && i <= len(outs) {
			return outs[i-1], true
		}
		return outs[0], true
	}
	return registry.TrackedOutput{}, false
}

// batchOutputs returns every tracked output of the generation batch that
// encloses the control.
func (c *Classifier) batchOutputs(p config.Platform, control dom.Node) []registry.TrackedOutput {
	if !p.Batch.IsZero() {
		for n := control.Parent(); n != nil; n = n.Parent() {
			if p.Batch.Matches(n) {
				if outs := c.reg.OutputsWithin(p.ID, n); len(outs) > 0 {
					return outs
				}
			}
		}
	}
	for n := control; n != nil; n = n.Parent() {
		if outs := c.reg.OutputsWithin(p.ID, n); len(outs) > 0 {
			return outs
		}
	}
	return nil
}

var trailingIndex = regexp.MustCompile(`(\d)\s*$`)

func captionIndex(label string) int {
	m := trailingIndex.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return 0
	}
	i, _ := strconv.Atoi(m[1])
	return i
}
