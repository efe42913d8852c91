// Package feedback defines the feedback event exchanged between the
// classifier, the elicitation coordinator and the preference model.
package feedback

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is what the user did to an output.
type Kind string

const (
	KindLike    Kind = "like"
	KindDislike Kind = "dislike"
	KindDelete  Kind = "delete"
	KindUpscale Kind = "upscale"
	KindVary    Kind = "vary"
	KindReroll  Kind = "reroll"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindLike, KindDislike, KindDelete, KindUpscale, KindVary, KindReroll:
		return true
	}
	return false
}

// Sign is +1 for positive kinds and -1 for negative ones.
func (k Kind) Sign() float64 {
	switch k {
	case KindLike, KindUpscale, KindVary:
		return 1
	case KindDislike, KindDelete, KindReroll:
		return -1
	}
	return 0
}

// Strength is a coarse evidence weight.
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// Valid reports whether s is a known strength.
func (s Strength) Valid() bool {
	return s == StrengthWeak || s == StrengthModerate || s == StrengthStrong
}

// Source records which path produced an event.
type Source string

const (
	SourceComposite      Source = "composite"
	SourceDeleteButton   Source = "delete-button"
	SourceToggle         Source = "toggle"
	SourceInferredDelete Source = "inferred-delete"
	SourcePopup          Source = "popup"
	SourceQuickRate      Source = "quick-rate"
	SourceManual         Source = "manual"
)

// MaxIntensity is the top of the 1..5 intensity scale.
const MaxIntensity = 5

// Event is one directional, weighted inference about an output. Values are
// never mutated after construction; augmentation returns a new Event.
type Event struct {
	ID         string    `json:"id"`
	OutputID   string    `json:"output_id"`
	PromptText string    `json:"prompt_text"`
	PlatformID string    `json:"platform_id"`
	Kind       Kind      `json:"kind"`
	Strength   Strength  `json:"strength"`
	ReasonCode string    `json:"reason_code,omitempty"`
	CustomText string    `json:"custom_text,omitempty"`
	Intensity  int       `json:"intensity,omitempty"`
	Source     Source    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// New builds an event with a fresh ID.
func New(kind Kind, strength Strength, source Source, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Strength:  strength,
		Source:    source,
		Timestamp: at,
	}
}

// Attributed reports whether the event is tied to an output. Unattributed
// events are dropped before they reach the preference model.
func (e Event) Attributed() bool {
	return e.OutputID != ""
}

// HasReason reports whether the user supplied a reason or free text.
func (e Event) HasReason() bool {
	return e.ReasonCode != "" || e.CustomText != ""
}

// WithEvidence returns a copy carrying the collected popup evidence under a
// new ID.
func (e Event) WithEvidence(reason, custom string, intensity int, strength Strength, source Source, at time.Time) Event {
	out := e
	out.ID = uuid.NewString()
	out.ReasonCode = reason
	out.CustomText = custom
	out.Intensity = intensity
	out.Strength = strength
	out.Source = source
	out.Timestamp = at
	return out
}

// Validate checks the enumerated fields.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid kind %q", e.Kind)
	}
	if !e.Strength.Valid() {
		return fmt.Errorf("invalid strength %q", e.Strength)
	}
	if e.Intensity < 0 || e.Intensity > MaxIntensity {
		return fmt.Errorf("intensity %d out of range 1..%d", e.Intensity, MaxIntensity)
	}
	return nil
}
