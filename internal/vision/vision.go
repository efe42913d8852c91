// Package vision turns an external image-understanding result into
// preference score deltas, and talks to the service that produces it.
package vision

import (
	"context"
	"math"
	"strings"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/prefs"
)

// Descriptors is an image-understanding result: descriptive terms per
// category plus an overall confidence in [0, 1].
type Descriptors struct {
	Categories map[string][]string `json:"categories"`
	Confidence float64             `json:"confidence"`
}

// Len returns the number of terms across categories.
func (d Descriptors) Len() int {
	n := 0
	for _, terms := range d.Categories {
		n += len(terms)
	}
	return n
}

// Request identifies the media to analyze.
type Request struct {
	MediaURL   string `json:"media_url"`
	PlatformID string `json:"platform_id"`
	OutputID   string `json:"output_id,omitempty"`
	PromptText string `json:"prompt_text,omitempty"`
}

// Analyzer produces descriptors for a media reference.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Descriptors, error)
}

// Adapter scales descriptors into score deltas.
type Adapter struct {
	LikeMultiplier    float64
	DislikeMultiplier float64
}

// NewAdapter reads the multipliers from config.
func NewAdapter(cfg config.VisionConfig) Adapter {
	return Adapter{LikeMultiplier: cfg.LikeMultiplier, DislikeMultiplier: cfg.DislikeMultiplier}
}

// ToScores converts descriptors into deltas: each distinct term gets
// sign * multiplier * confidence, with confidence clamped to [0, 1]. Terms
// are lowercased and trimmed.
func (a Adapter) ToScores(d Descriptors, isLiked bool) prefs.Deltas {
	out := make(prefs.Deltas)

	conf := d.Confidence
	if math.IsNaN(conf) {
		return out
	}
	conf = math.Max(0, math.Min(1, conf))

	v := -a.DislikeMultiplier * conf
	if isLiked {
		v = a.LikeMultiplier * conf
	}
	if v == 0 {
		return out
	}

	for cat, terms := range d.Categories {
		cat = strings.ToLower(strings.TrimSpace(cat))
		seen := make(map[string]bool, len(terms))
		for _, t := range terms {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out.Add(cat, t, v)
		}
	}
	return out
}
