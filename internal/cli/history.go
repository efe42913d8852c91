package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/refyn/internal/feedback"
	"github.com/runnerr0/refyn/internal/storage"
)

// Execute implements the go-flags Commander interface for HistoryCommand.
func (c *HistoryCommand) Execute(args []string) error {
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

	return c.executeWithStore(store)
}

// executeWithStore lists feedback from a provided store (for testing).
func (c *HistoryCommand) executeWithStore(store storage.Store) error {
	if c.Kind != "" && !feedback.Kind(c.Kind).Valid() {
		return fmt.Errorf("invalid --kind value %q", c.Kind)
	}

	now := time.Now()
	var since time.Time
	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		since = now.Add(-dur)
	}

	var until time.Time
	if c.Until != "" {
		dur, err := parseDuration(c.Until)
		if err != nil {
			return fmt.Errorf("invalid --until value %q: %w", c.Until, err)
		}
		until = now.Add(-dur)
	}

	q := storage.FeedbackQuery{
		Kind:       c.Kind,
		PlatformID: c.Platform,
		OutputID:   c.OutputID,
		Source:     c.Source,
		Since:      since,
		Until:      until,
		Limit:      c.Limit,
		Offset:     c.Offset,
	}

	events, err := store.RecentFeedback(context.Background(), q)
	if err != nil {
		return fmt.Errorf("list feedback: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		if events == nil {
			events = []feedback.Event{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	return c.printHuman(events)
}

func (c *HistoryCommand) printHuman(events []feedback.Event) error {
	if len(events) == 0 {
		fmt.Printf("No feedback recorded (since %s)\n", c.Since)
		return nil
	}

	word := "events"
	if len(events) == 1 {
		word = "event"
	}
	fmt.Printf("%d feedback %s (since %s)\n\n", len(events), word, c.Since)

	for i, ev := range events {
		head := fmt.Sprintf("%s (%s)", ev.Kind, ev.Strength)
		if ev.PlatformID != "" {
			head += " · " + ev.PlatformID
		}
		head += " · " + string(ev.Source)
		fmt.Printf("%d. %s\n", i+1+c.Offset, head)

		if ev.PromptText != "" {
			fmt.Printf("   %s\n", ev.PromptText)
		}

		meta := []string{ev.Timestamp.Local().Format("2006-01-02 15:04"), "output " + ev.OutputID}
		if ev.ReasonCode != "" {
			meta = append(meta, "reason: "+ev.ReasonCode)
		}
		if ev.Intensity > 0 {
			meta = append(meta, fmt.Sprintf("intensity %d", ev.Intensity))
		}
		fmt.Printf("   %s\n", strings.Join(meta, " · "))

		if ev.CustomText != "" {
			fmt.Printf("   %q\n", ev.CustomText)
		}
		if i < len(events)-1 {
			fmt.Println()
		}
	}
	return nil
}
