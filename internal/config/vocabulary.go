package config

import "strings"

// Preference categories.
const (
	CategoryStyle       = "style"
	CategoryMood        = "mood"
	CategoryColors      = "colors"
	CategoryLighting    = "lighting"
	CategoryComposition = "composition"
	CategoryQuality     = "quality"
	CategoryMedium      = "medium"
	CategoryTechnique   = "technique"
	CategorySubject     = "subject"
	CategoryGenre       = "genre"
)

// DefaultVocabulary returns the curated keyword list per category used to
// pull descriptors out of prompt text. Multi-word terms are matched as
// phrases.
func DefaultVocabulary() map[string][]string {
	return map[string][]string{
		CategoryStyle: {
			"neon", "cyberpunk", "steampunk", "vaporwave", "synthwave", "art deco",
			"art nouveau", "minimalist", "surreal", "baroque", "gothic", "anime",
			"photorealistic", "hyperrealistic", "impressionist", "cinematic",
			"retro", "futuristic", "fantasy", "pixel art", "low poly", "ukiyo-e",
		},
		CategoryMood: {
			"moody", "dreamy", "ethereal", "melancholic", "serene", "whimsical",
			"eerie", "dramatic", "nostalgic", "joyful", "dark", "cozy", "epic",
			"mysterious", "uplifting", "calm", "energetic",
		},
		CategoryColors: {
			"pastel", "monochrome", "vibrant", "muted", "teal and orange",
			"black and white", "sepia", "iridescent", "neon pink", "earth tones",
			"desaturated", "gold", "crimson",
		},
		CategoryLighting: {
			"golden hour", "blue hour", "rim light", "backlit", "volumetric",
			"soft light", "hard light", "studio lighting", "chiaroscuro",
			"bioluminescent", "candlelight", "god rays", "low key", "high key",
		},
		CategoryComposition: {
			"close-up", "wide angle", "aerial view", "symmetrical", "rule of thirds",
			"portrait", "landscape", "isometric", "bokeh", "macro", "panoramic",
			"top-down", "full body", "skyline",
		},
		CategoryQuality: {
			"highly detailed", "intricate", "sharp focus", "8k", "4k", "masterpiece",
			"high resolution", "clean", "lo-fi", "grainy", "polished",
		},
		CategoryMedium: {
			"oil painting", "watercolor", "charcoal", "ink", "pencil sketch",
			"digital art", "3d render", "photograph", "film photo", "collage",
			"vinyl", "acoustic", "orchestral", "synth",
		},
		CategoryTechnique: {
			"long exposure", "double exposure", "tilt-shift", "impasto",
			"cel shading", "ray tracing", "octane render", "unreal engine",
			"tilt shift", "halftone",
		},
		CategorySubject: {
			"city", "forest", "ocean", "mountains", "robot", "dragon", "castle",
			"astronaut", "cat", "portrait of a woman", "street",
		},
		CategoryGenre: {
			"lo-fi hip hop", "jazz", "ambient", "synthpop", "rock", "folk", "edm",
			"classical", "trap", "house", "indie",
		},
	}
}

// ResolvedVocabulary merges configured keywords into the defaults.
// Keywords are lowercased and de-duplicated per category.
func (c *Config) ResolvedVocabulary() map[string][]string {
	out := DefaultVocabulary()
	for cat, words := range c.Vocabulary {
		cat = strings.ToLower(strings.TrimSpace(cat))
		out[cat] = append(out[cat], words...)
	}
	for cat, words := range out {
		seen := make(map[string]bool, len(words))
		uniq := words[:0]
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" || seen[w] {
				continue
			}
			seen[w] = true
			uniq = append(uniq, w)
		}
		out[cat] = uniq
	}
	return out
}
