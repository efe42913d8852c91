package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/runnerr0/refyn/internal/dom"
)

// Action rules, in classifier priority order.
const (
	RuleComposite = "composite"
	RuleDelete    = "delete"
	RuleToggle    = "toggle"
)

// Matcher describes an element shape as data. Every non-empty criterion must
// hold; values within one criterion are alternatives.
type Matcher struct {
	Tags          []string `yaml:"tags,omitempty"`
	ClassContains []string `yaml:"class_contains,omitempty"`
	// Attrs lists required attributes as "name" (present) or "name=value".
	Attrs []string `yaml:"attrs,omitempty"`
}

// IsZero reports whether the matcher has no criteria. A zero matcher
// matches nothing.
func (m Matcher) IsZero() bool {
	return len(m.Tags) == 0 && len(m.ClassContains) == 0 && len(m.Attrs) == 0
}

// Matches reports whether n has the described shape.
func (m Matcher) Matches(n dom.Node) bool {
	if n == nil || m.IsZero() {
		return false
	}
	if len(m.Tags) > 0 && !containsFold(m.Tags, n.Tag()) {
		return false
	}
	if len(m.ClassContains) > 0 && !dom.HasClassContaining(n, m.ClassContains...) {
		return false
	}
	if len(m.Attrs) > 0 && !matchAnyAttr(n, m.Attrs) {
		return false
	}
	return true
}

func matchAnyAttr(n dom.Node, specs []string) bool {
	for _, spec := range specs {
		name, want, hasValue := strings.Cut(spec, "=")
		v, ok := n.Attr(name)
		if !ok {
			continue
		}
		if !hasValue || strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// OutputPattern describes what a generated output looks like on a platform.
type OutputPattern struct {
	Matcher      `yaml:",inline"`
	MinWidth     float64 `yaml:"min_width"`
	MinHeight    float64 `yaml:"min_height"`
	RequireMedia bool    `yaml:"require_media"`
	// IDAttrs are data attributes tried, in order, for a platform identifier.
	IDAttrs []string `yaml:"id_attrs"`
}

// ActionPattern maps a control on the page to a feedback kind.
type ActionPattern struct {
	Name string `yaml:"name"`
	Rule string `yaml:"rule"`
	Kind string `yaml:"kind"`
	// Captions are case-insensitive regular expressions matched against the
	// control's text, aria-label and title.
	Captions []string `yaml:"captions,omitempty"`
	Matcher  `yaml:",inline"`
}

// CompileCaptions compiles the caption expressions.
func (a ActionPattern) CompileCaptions() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(a.Captions))
	for _, c := range a.Captions {
		re, err := regexp.Compile("(?i)" + c)
		if err != nil {
			return nil, fmt.Errorf("action %s: caption %q: %w", a.Name, c, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Platform is the static selector table for one generation site.
type Platform struct {
	ID           string          `yaml:"id"`
	Name         string          `yaml:"name"`
	Hosts        []string        `yaml:"hosts"`
	Output       OutputPattern   `yaml:"output"`
	PromptSource Matcher         `yaml:"prompt_source"`
	Batch        Matcher         `yaml:"batch"`
	Actions      []ActionPattern `yaml:"actions"`
	// Categories restricts which preference categories suggestions draw
	// from. Empty means all.
	Categories []string `yaml:"categories"`
}

func (p Platform) compile() error {
	for _, a := range p.Actions {
		switch a.Rule {
		case RuleComposite, RuleDelete, RuleToggle:
		default:
			return fmt.Errorf("action %s: unknown rule %q", a.Name, a.Rule)
		}
		if _, err := a.CompileCaptions(); err != nil {
			return err
		}
	}
	return nil
}

// ResolvedPlatforms returns the built-in platforms with configured entries
// replacing built-ins of the same ID and new IDs appended.
func (c *Config) ResolvedPlatforms() []Platform {
	out := DefaultPlatforms()
	for _, p := range c.Platforms {
		replaced := false
		for i := range out {
			if out[i].ID == p.ID {
				out[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, p)
		}
	}
	return out
}

// PlatformForHost finds the platform serving host.
func (c *Config) PlatformForHost(host string) (Platform, bool) {
	host = strings.ToLower(host)
	for _, p := range c.ResolvedPlatforms() {
		for _, h := range p.Hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return p, true
			}
		}
	}
	return Platform{}, false
}

// DefaultPlatforms returns the curated selector tables for supported sites.
func DefaultPlatforms() []Platform {
	return []Platform{
		{
			ID:    "midjourney",
			Name:  "Midjourney",
			Hosts: []string{"midjourney.com"},
			Output: OutputPattern{
				Matcher:      Matcher{Tags: []string{"img", "video"}},
				MinWidth:     100,
				MinHeight:    100,
				RequireMedia: true,
				IDAttrs:      []string{"data-job-id", "data-image-id", "data-id"},
			},
			PromptSource: Matcher{ClassContains: []string{"prompt"}},
			Batch:        Matcher{ClassContains: []string{"job", "grid"}},
			Actions: []ActionPattern{
				{Name: "upscale", Rule: RuleComposite, Kind: "upscale", Captions: []string{`^U[1-4]$`, `\bupscale\b`}},
				{Name: "vary", Rule: RuleComposite, Kind: "vary", Captions: []string{`^V[1-4]$`, `\bvary\b`, `\bvariation`}},
				{Name: "reroll", Rule: RuleComposite, Kind: "reroll", Captions: []string{`🔄`, `\breroll\b`, `\brerun\b`}},
				{Name: "delete", Rule: RuleDelete, Kind: "delete", Captions: []string{`\bdelete\b`, `\btrash\b`}},
				{Name: "like", Rule: RuleToggle, Kind: "like", Captions: []string{`\blike\b`, `\bfavou?rite\b`, `❤|♥`}},
				{Name: "dislike", Rule: RuleToggle, Kind: "dislike", Captions: []string{`\bdislike\b`, `👎`}},
			},
			Categories: []string{},
		},
		{
			ID:    "leonardo",
			Name:  "Leonardo.Ai",
			Hosts: []string{"leonardo.ai"},
			Output: OutputPattern{
				Matcher:      Matcher{Tags: []string{"img"}},
				MinWidth:     120,
				MinHeight:    120,
				RequireMedia: true,
				IDAttrs:      []string{"data-generation-id", "data-image-id"},
			},
			PromptSource: Matcher{ClassContains: []string{"prompt"}},
			Batch:        Matcher{ClassContains: []string{"generation"}},
			Actions: []ActionPattern{
				{Name: "upscale", Rule: RuleComposite, Kind: "upscale", Captions: []string{`\bupscale\b`, `\bunzoom\b`}},
				{Name: "vary", Rule: RuleComposite, Kind: "vary", Captions: []string{`\bvariations?\b`, `\bremix\b`}},
				{Name: "reroll", Rule: RuleComposite, Kind: "reroll", Captions: []string{`\bregenerate\b`, `\bgenerate again\b`}},
				{Name: "delete", Rule: RuleDelete, Kind: "delete", Captions: []string{`\bdelete\b`}},
				{Name: "like", Rule: RuleToggle, Kind: "like", Captions: []string{`\blike\b`, `\bfavou?rite\b`}},
			},
			Categories: []string{},
		},
		{
			ID:    "ideogram",
			Name:  "Ideogram",
			Hosts: []string{"ideogram.ai"},
			Output: OutputPattern{
				Matcher:      Matcher{Tags: []string{"img"}},
				MinWidth:     100,
				MinHeight:    100,
				RequireMedia: true,
				IDAttrs:      []string{"data-request-id", "data-id"},
			},
			PromptSource: Matcher{ClassContains: []string{"prompt", "caption"}},
			Actions: []ActionPattern{
				{Name: "upscale", Rule: RuleComposite, Kind: "upscale", Captions: []string{`\bupscale\b`}},
				{Name: "vary", Rule: RuleComposite, Kind: "vary", Captions: []string{`\bremix\b`, `\bvary\b`}},
				{Name: "reroll", Rule: RuleComposite, Kind: "reroll", Captions: []string{`\bregenerate\b`, `\bretry\b`}},
				{Name: "delete", Rule: RuleDelete, Kind: "delete", Captions: []string{`\bdelete\b`, `\bhide\b`}},
				{Name: "like", Rule: RuleToggle, Kind: "like", Captions: []string{`\blike\b`}},
			},
			Categories: []string{},
		},
		{
			ID:    "suno",
			Name:  "Suno",
			Hosts: []string{"suno.com", "suno.ai"},
			Output: OutputPattern{
				Matcher: Matcher{ClassContains: []string{"clip", "song-row"}},
				IDAttrs: []string{"data-clip-id", "data-song-id"},
			},
			PromptSource: Matcher{ClassContains: []string{"prompt", "style-tags"}},
			Actions: []ActionPattern{
				{Name: "extend", Rule: RuleComposite, Kind: "vary", Captions: []string{`\bextend\b`, `\bcover\b`}},
				{Name: "reroll", Rule: RuleComposite, Kind: "reroll", Captions: []string{`\bregenerate\b`, `\bcreate again\b`}},
				{Name: "delete", Rule: RuleDelete, Kind: "delete", Captions: []string{`\bmove to trash\b`, `\bdelete\b`}},
				{Name: "like", Rule: RuleToggle, Kind: "like", Captions: []string{`\blike\b`}},
				{Name: "dislike", Rule: RuleToggle, Kind: "dislike", Captions: []string{`\bdislike\b`}},
			},
			Categories: []string{"mood", "genre", "medium", "quality"},
		},
	}
}
