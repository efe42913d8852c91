package cli

import "database/sql"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand starts the local daemon.
type ServeCommand struct {
	Host     string `long:"host" description:"Override daemon listen host"`
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`
	NoPrune  bool   `long:"no-prune" description:"Skip retention pruning at startup"`

	globals *GlobalFlags
	version string
}

// SuggestCommand prints the top preferred and avoided keywords.
type SuggestCommand struct {
	Platform string `long:"platform" description:"Platform id (e.g., midjourney, suno)"`
	Host     string `long:"host" description:"Resolve the platform from a page host"`
	K        int    `long:"k" description:"Keywords per list" default:"8"`
	Prompt   string `long:"prompt" description:"Prompt being edited; keywords it mentions are skipped"`
	Context  bool   `long:"context" description:"Print only the context block for a generation request"`

	globals *GlobalFlags
	version string
}

// RateCommand records manual feedback for a prompt.
type RateCommand struct {
	Prompt    string `long:"prompt" description:"Prompt text the rating applies to (required)"`
	Kind      string `long:"kind" description:"like | dislike | delete | upscale | vary | reroll" default:"like"`
	Strength  string `long:"strength" description:"weak | moderate | strong" default:"moderate"`
	Intensity int    `long:"intensity" description:"Optional intensity 1..5"`
	Reason    string `long:"reason" description:"Preset reason code"`
	Note      string `long:"note" description:"Free-text note; keywords in it are scored too"`
	Platform  string `long:"platform" description:"Platform id the output came from"`
	OutputID  string `long:"output-id" description:"Output id; generated when empty"`

	globals *GlobalFlags
	version string
}

// HistoryCommand lists recorded feedback.
type HistoryCommand struct {
	Since    string `long:"since" description:"Only feedback newer than duration (e.g., 7d, 24h, 2w)" default:"30d"`
	Until    string `long:"until" description:"Only feedback older than duration"`
	Kind     string `long:"kind" description:"Filter by feedback kind"`
	Platform string `long:"platform" description:"Filter by platform id"`
	Source   string `long:"source" description:"Filter by source (composite, toggle, popup, manual, ...)"`
	OutputID string `long:"output-id" description:"Filter by output id"`
	Limit    int    `long:"limit" description:"Maximum results" default:"20"`
	Offset   int    `long:"offset" description:"Skip first N results" default:"0"`

	globals *GlobalFlags
	version string
}

// StatusCommand shows database statistics and daemon health.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// PruneCommand applies retention pruning to feedback history.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
}

// PurgeCommand deletes ALL Refyn data with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	db      *sql.DB // injectable for testing; nil means open the configured DB
}
