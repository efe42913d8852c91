package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/engine"
	"github.com/runnerr0/refyn/internal/prefs"
	"github.com/runnerr0/refyn/internal/storage"
)

// Execute implements the go-flags Commander interface for SuggestCommand.
func (c *SuggestCommand) Execute(args []string) error {
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

	return c.executeWithStore(cfg, store, args)
}

// executeWithStore answers the query from the scores in a provided store (for testing).
func (c *SuggestCommand) executeWithStore(cfg *config.Config, store storage.Store, args []string) error {
	if c.K <= 0 {
		return fmt.Errorf("--k must be positive")
	}

	eng, err := engine.New(cfg, engine.Options{Store: store})
	if err != nil {
		return err
	}
	defer eng.Close()

	var platformID string
	if c.Platform != "" || c.Host != "" {
		platformID, err = eng.ResolvePlatform(c.Platform, c.Host)
		if err != nil {
			return err
		}
	}

	prompt := c.Prompt
	if prompt == "" && len(args) > 0 {
		prompt = strings.Join(args, " ")
	}

	sugg, err := eng.Suggestions(prefs.Query{PlatformID: platformID, K: c.K, Prompt: prompt})
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sugg)
	}
	if c.Context {
		if sugg.Context != "" {
			fmt.Println(sugg.Context)
		}
		return nil
	}
	return c.printHuman(platformID, sugg)
}

func (c *SuggestCommand) printHuman(platformID string, sugg engine.Suggestions) error {
	if len(sugg.Liked) == 0 && len(sugg.Avoided) == 0 {
		fmt.Println("No preferences learned yet.")
		return nil
	}

	scope := "all platforms"
	if platformID != "" {
		scope = platformID
	}
	fmt.Printf("Suggestions for %s\n", scope)

	printEntries := func(title string, entries []prefs.Entry) {
		if len(entries) == 0 {
			return
		}
		fmt.Println()
		fmt.Printf("%s:\n", title)
		for _, e := range entries {
			fmt.Printf("  %-20s %-12s %+.2f\n", e.Keyword, e.Category, e.Score)
		}
	}
	printEntries("Preferred", sugg.Liked)
	printEntries("Avoid", sugg.Avoided)

	fmt.Println()
	fmt.Println(sugg.Context)
	return nil
}
