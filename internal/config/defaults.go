package config

import "time"

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:       "~/.config/refyn",
			SQLiteFile: "refyn.db",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           7781,
			AuthToken:      "",
			MaxRequestSize: 1 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
			JSON:  false,
		},
		Retention: RetentionConfig{
			Days: 180,
		},
		Registry: RegistryConfig{
			MaxEntries:        2000,
			PromptSearchDepth: 10,
			MinInputLength:    10,
		},
		Signals: SignalsConfig{
			ToggleSettle: 100 * time.Millisecond,
			CaptionDepth: 3,
		},
		Popups: PopupsConfig{
			Enabled:          true,
			Cooldown:         500 * time.Millisecond,
			ConfirmDelay:     400 * time.Millisecond,
			LikeTimeout:      25 * time.Second,
			DislikeTimeout:   25 * time.Second,
			TrashTimeout:     20 * time.Second,
			QuickRateTimeout: 8 * time.Second,
			Reasons:          DefaultReasons(),
			DisabledKinds:    []string{},
		},
		Scoring: ScoringConfig{
			WeakWeight:               0.5,
			ModerateWeight:           1.0,
			StrongWeight:             2.0,
			ReasonCategoryMultiplier: 1.5,
			ReasonOtherMultiplier:    1.25,
			MinEntries:               1,
			DecayHalfLife:            0,
		},
		Vision: VisionConfig{
			Enabled:           false,
			URL:               "",
			Timeout:           15 * time.Second,
			LikeMultiplier:    1.0,
			DislikeMultiplier: 1.0,
		},
		Platforms:  []Platform{},
		Vocabulary: map[string][]string{},
	}
}

// DefaultReasons returns the preset answers offered by each popup kind.
func DefaultReasons() map[string][]Reason {
	liked := []Reason{
		{Code: "style", Label: "Love the style", Category: "style"},
		{Code: "colors", Label: "Great colors", Category: "colors"},
		{Code: "lighting", Label: "Beautiful lighting", Category: "lighting"},
		{Code: "composition", Label: "Strong composition", Category: "composition"},
		{Code: "mood", Label: "Perfect mood", Category: "mood"},
		{Code: "detail", Label: "Amazing detail", Category: "quality"},
	}
	return map[string][]Reason{
		"like-detail": liked,
		"quick-rate":  liked,
		"dislike-detail": {
			{Code: "wrong_style", Label: "Wrong style", Category: "style"},
			{Code: "bad_colors", Label: "Bad colors", Category: "colors"},
			{Code: "bad_lighting", Label: "Bad lighting", Category: "lighting"},
			{Code: "bad_composition", Label: "Awkward composition", Category: "composition"},
			{Code: "wrong_mood", Label: "Wrong mood", Category: "mood"},
			{Code: "low_quality", Label: "Low quality", Category: "quality"},
		},
		"trash-reason": {
			{Code: "not_what_i_asked", Label: "Not what I asked for"},
			{Code: "artifacts", Label: "Artifacts or glitches", Category: "quality"},
			{Code: "ugly_style", Label: "Ugly style", Category: "style"},
			{Code: "boring", Label: "Boring composition", Category: "composition"},
		},
	}
}
