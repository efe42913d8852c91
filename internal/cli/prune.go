package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/storage"
)

type pruneJSON struct {
	Cutoff  string `json:"cutoff"`
	DryRun  bool   `json:"dry_run"`
	Deleted int64  `json:"deleted"`
}

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	store, db, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	return c.executeWithStore(cfg, store, time.Now())
}

// executeWithStore prunes a provided store relative to now (for testing).
func (c *PruneCommand) executeWithStore(cfg *config.Config, store *storage.SQLiteStore, now time.Time) error {
	retention := time.Duration(cfg.Retention.Days) * 24 * time.Hour
	if c.OlderThan != "" {
		dur, err := parseDuration(c.OlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value %q: %w", c.OlderThan, err)
		}
		retention = dur
	}
	if retention <= 0 {
		return fmt.Errorf("retention is disabled; pass --older-than to prune")
	}

	cutoff := now.Add(-retention)
	ctx := context.Background()

	var n int64
	var err error
	if c.DryRun {
		n, err = store.CountFeedbackBefore(ctx, cutoff)
	} else {
		n, err = store.PruneFeedback(ctx, cutoff)
	}
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return json.NewEncoder(os.Stdout).Encode(pruneJSON{
			Cutoff:  cutoff.UTC().Format(time.RFC3339),
			DryRun:  c.DryRun,
			Deleted: n,
		})
	}

	if c.DryRun {
		fmt.Printf("Would prune %s feedback events older than %s.\n", formatNumber(n), formatDurationHuman(retention))
		return nil
	}
	fmt.Printf("Pruned %s feedback events older than %s. Keyword scores were kept.\n", formatNumber(n), formatDurationHuman(retention))
	return nil
}
