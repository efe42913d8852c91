package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string              `json:"version"`
	DatabasePath      string              `json:"database_path"`
	DatabaseSizeBytes int64               `json:"database_size_bytes"`
	SchemaVersion     int                 `json:"schema_version"`
	TotalFeedback     int64               `json:"total_feedback"`
	TotalKeywords     int64               `json:"total_keywords"`
	LikedKeywords     int64               `json:"liked_keywords"`
	AvoidedKeywords   int64               `json:"avoided_keywords"`
	TotalPopups       int64               `json:"total_popups"`
	OldestFeedback    string              `json:"oldest_feedback,omitempty"`
	NewestFeedback    string              `json:"newest_feedback,omitempty"`
	RetentionDays     int                 `json:"retention_days"`
	ByKind            []kindCountJSON     `json:"by_kind"`
	TopPlatforms      []platformCountJSON `json:"top_platforms"`
	DaemonAddr        string              `json:"daemon_addr"`
	DaemonRunning     bool                `json:"daemon_running"`
	VisionEnabled     bool                `json:"vision_enabled"`
}

type kindCountJSON struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

type platformCountJSON struct {
	Platform string `json:"platform"`
	Count    int64  `json:"count"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	store, db, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	return c.executeWithStore(cfg, store, db, dbPath)
}

// executeWithStore runs status against a provided store and db (for testing).
func (c *StatusCommand) executeWithStore(cfg *config.Config, store *storage.SQLiteStore, db *sql.DB, dbPath string) error {
	ctx := context.Background()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	stats.DatabaseSizeBytes = getDatabaseSize(db, dbPath)

	addr := net.JoinHostPort(cfg.Daemon.Host, strconv.Itoa(cfg.Daemon.Port))
	daemonRunning := checkDaemon(addr)

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(cfg, stats, dbPath, addr, daemonRunning)
	}
	return c.printStatusHuman(cfg, stats, dbPath, addr, daemonRunning)
}

func (c *StatusCommand) printStatusHuman(cfg *config.Config, stats *storage.Stats, dbPath, addr string, daemonRunning bool) error {
	fmt.Println("Refyn Status")
	fmt.Println("============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", dbPath, formatBytes(stats.DatabaseSizeBytes))
	fmt.Printf("Schema:        v%d\n", stats.SchemaVersion)
	fmt.Printf("Feedback:      %s\n", formatNumber(stats.TotalFeedback))
	fmt.Printf("Keywords:      %s (%s liked, %s avoided)\n",
		formatNumber(stats.TotalKeywords), formatNumber(stats.LikedKeywords), formatNumber(stats.AvoidedKeywords))
	fmt.Printf("Popups:        %s\n", formatNumber(stats.TotalPopups))

	if stats.TotalFeedback > 0 {
		fmt.Printf("Oldest:        %s\n", stats.OldestFeedback.Local().Format("2006-01-02"))
		fmt.Printf("Newest:        %s\n", stats.NewestFeedback.Local().Format("2006-01-02"))
	}

	fmt.Printf("Retention:     %d days\n", cfg.Retention.Days)

	if len(stats.ByKind) > 0 {
		fmt.Println()
		fmt.Println("By Kind:")
		for _, k := range stats.ByKind {
			fmt.Printf("  %-20s %s\n", k.Kind, formatNumber(k.Count))
		}
	}

	if len(stats.TopPlatforms) > 0 {
		fmt.Println()
		fmt.Println("Top Platforms:")
		for _, p := range stats.TopPlatforms {
			fmt.Printf("  %-20s %s\n", p.PlatformID, formatNumber(p.Count))
		}
	}

	fmt.Println()
	if daemonRunning {
		fmt.Printf("Daemon:        running (%s)\n", addr)
	} else {
		fmt.Printf("Daemon:        not running (%s)\n", addr)
	}
	if cfg.Vision.Enabled {
		fmt.Println("Vision:        enabled")
	} else {
		fmt.Println("Vision:        disabled")
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(cfg *config.Config, stats *storage.Stats, dbPath, addr string, daemonRunning bool) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: stats.DatabaseSizeBytes,
		SchemaVersion:     stats.SchemaVersion,
		TotalFeedback:     stats.TotalFeedback,
		TotalKeywords:     stats.TotalKeywords,
		LikedKeywords:     stats.LikedKeywords,
		AvoidedKeywords:   stats.AvoidedKeywords,
		TotalPopups:       stats.TotalPopups,
		RetentionDays:     cfg.Retention.Days,
		ByKind:            make([]kindCountJSON, len(stats.ByKind)),
		TopPlatforms:      make([]platformCountJSON, len(stats.TopPlatforms)),
		DaemonAddr:        addr,
		DaemonRunning:     daemonRunning,
		VisionEnabled:     cfg.Vision.Enabled,
	}

	if stats.TotalFeedback > 0 {
		out.OldestFeedback = stats.OldestFeedback.UTC().Format(time.RFC3339)
		out.NewestFeedback = stats.NewestFeedback.UTC().Format(time.RFC3339)
	}

	for i, k := range stats.ByKind {
		out.ByKind[i] = kindCountJSON{Kind: k.Kind, Count: k.Count}
	}
	for i, p := range stats.TopPlatforms {
		out.TopPlatforms[i] = platformCountJSON{Platform: p.PlatformID, Count: p.Count}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. For in-memory databases,
// it queries page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// checkDaemon attempts an HTTP GET to the daemon's status endpoint.
// Returns true if the daemon responds within 1 second.
func checkDaemon(addr string) bool {
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
