package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/refyn/config.yaml"

// Config holds all Refyn engine configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
	Registry  RegistryConfig  `yaml:"registry"`
	Signals   SignalsConfig   `yaml:"signals"`
	Popups    PopupsConfig    `yaml:"popups"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Vision    VisionConfig    `yaml:"vision"`

	// Platforms extends or replaces (by ID) the built-in platform tables.
	Platforms []Platform `yaml:"platforms"`
	// Vocabulary adds keywords per category to the built-in vocabulary.
	Vocabulary map[string][]string `yaml:"vocabulary"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	SQLiteFile string `yaml:"sqlite_file"`
}

type DaemonConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	AuthToken      string `yaml:"auth_token"`
	MaxRequestSize int64  `yaml:"max_request_size"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

type RetentionConfig struct {
	Days int `yaml:"days"`
}

type RegistryConfig struct {
	// MaxEntries caps tracked outputs; only rated entries are evicted. 0 = unbounded.
	MaxEntries        int `yaml:"max_entries"`
	PromptSearchDepth int `yaml:"prompt_search_depth"`
	MinInputLength    int `yaml:"min_input_length"`
}

type SignalsConfig struct {
	ToggleSettle time.Duration `yaml:"toggle_settle"`
	// CaptionDepth is how many ancestors of the clicked node are searched
	// for a control caption.
	CaptionDepth int `yaml:"caption_depth"`
}

type PopupsConfig struct {
	Enabled          bool                `yaml:"enabled"`
	Cooldown         time.Duration       `yaml:"cooldown"`
	ConfirmDelay     time.Duration       `yaml:"confirm_delay"`
	LikeTimeout      time.Duration       `yaml:"like_timeout"`
	DislikeTimeout   time.Duration       `yaml:"dislike_timeout"`
	TrashTimeout     time.Duration       `yaml:"trash_timeout"`
	QuickRateTimeout time.Duration       `yaml:"quick_rate_timeout"`
	Reasons          map[string][]Reason `yaml:"reasons"`
	DisabledKinds    []string            `yaml:"disabled_kinds"`
}

// Reason is one preset answer in a "tell us why" popup.
type Reason struct {
	Code     string `yaml:"code" json:"code"`
	Label    string `yaml:"label" json:"label"`
	Category string `yaml:"category" json:"category,omitempty"`
}

type ScoringConfig struct {
	WeakWeight     float64 `yaml:"weak_weight"`
	ModerateWeight float64 `yaml:"moderate_weight"`
	StrongWeight   float64 `yaml:"strong_weight"`
	// ReasonCategoryMultiplier applies to keywords in the category a reason names.
	ReasonCategoryMultiplier float64 `yaml:"reason_category_multiplier"`
	// ReasonOtherMultiplier applies to the remaining keywords of a reasoned event.
	ReasonOtherMultiplier float64       `yaml:"reason_other_multiplier"`
	MinEntries            int           `yaml:"min_entries"`
	DecayHalfLife         time.Duration `yaml:"decay_half_life"`
}

// VisionConfig configures the optional image-analysis service. APIKey, when
// set, is sent as a bearer token.
type VisionConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key,omitempty"`
	Timeout           time.Duration `yaml:"timeout"`
	LikeMultiplier    float64       `yaml:"like_multiplier"`
	DislikeMultiplier float64       `yaml:"dislike_multiplier"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Registry.PromptSearchDepth < 0 {
		return fmt.Errorf("registry.prompt_search_depth must be >= 0")
	}
	if c.Scoring.MinEntries < 0 {
		return fmt.Errorf("scoring.min_entries must be >= 0")
	}
	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", c.Daemon.Port)
	}
	for _, p := range c.Platforms {
		if p.ID == "" {
			return fmt.Errorf("platform entry without id")
		}
		if err := p.compile(); err != nil {
			return fmt.Errorf("platform %s: %w", p.ID, err)
		}
	}
	return nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}

// ApplyEnv overlays REFYN_* environment variables, reading an optional
// .env file from the working directory first. Variables already set in the
// process environment win over the file.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if v := os.Getenv("REFYN_DB_PATH"); v != "" {
		c.Storage.Path = filepath.Dir(v)
		c.Storage.SQLiteFile = filepath.Base(v)
	}
	if v := os.Getenv("REFYN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REFYN_PORT %q: %w", v, err)
		}
		c.Daemon.Port = port
	}
	if v := os.Getenv("REFYN_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("REFYN_AUTH_TOKEN"); v != "" {
		c.Daemon.AuthToken = v
	}
	if v := os.Getenv("REFYN_VISION_URL"); v != "" {
		c.Vision.URL = v
		c.Vision.Enabled = true
	}
	if v := os.Getenv("REFYN_VISION_KEY"); v != "" {
		c.Vision.APIKey = v
	}
	return c.Validate()
}

// DBPath returns the expanded SQLite database path.
func (c *Config) DBPath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// LogPath returns the expanded log file path, or "" for stderr.
func (c *Config) LogPath() (string, error) {
	if c.Logging.File == "" {
		return "", nil
	}
	if filepath.IsAbs(c.Logging.File) || strings.HasPrefix(c.Logging.File, "~") {
		return expandPath(c.Logging.File)
	}
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Logging.File), nil
}

// Timeout returns the auto-dismiss delay for a popup kind.
func (p PopupsConfig) Timeout(kind string) time.Duration {
	switch kind {
	case "like-detail":
		return p.LikeTimeout
	case "dislike-detail":
		return p.DislikeTimeout
	case "trash-reason":
		return p.TrashTimeout
	case "quick-rate":
		return p.QuickRateTimeout
	}
	return p.LikeTimeout
}

// KindEnabled reports whether popups of kind may be shown.
func (p PopupsConfig) KindEnabled(kind string) bool {
	if !p.Enabled {
		return false
	}
	for _, k := range p.DisabledKinds {
		if k == kind {
			return false
		}
	}
	return true
}

// ReasonCategories maps every configured reason code to the preference
// category it names. Codes without a category are omitted.
func (p PopupsConfig) ReasonCategories() map[string]string {
	out := make(map[string]string)
	for _, reasons := range p.Reasons {
		for _, r := range reasons {
			if r.Category != "" {
				out[r.Code] = r.Category
			}
		}
	}
	return out
}

// ReasonFor looks up a preset reason by code for a popup kind.
func (p PopupsConfig) ReasonFor(kind, code string) (Reason, bool) {
	for _, r := range p.Reasons[kind] {
		if r.Code == code {
			return r, true
		}
	}
	return Reason{}, false
}
