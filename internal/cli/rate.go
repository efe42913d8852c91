package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/refyn/internal/config"
	"github.com/runnerr0/refyn/internal/engine"
	"github.com/runnerr0/refyn/internal/feedback"
	"github.com/runnerr0/refyn/internal/prefs"
	"github.com/runnerr0/refyn/internal/storage"
)

type deltaJSON struct {
	Category string  `json:"category"`
	Keyword  string  `json:"keyword"`
	Delta    float64 `json:"delta"`
}

type rateJSON struct {
	Event  feedback.Event `json:"event"`
	Deltas []deltaJSON    `json:"deltas"`
}

// Execute implements the go-flags Commander interface for RateCommand.
func (c *RateCommand) Execute(args []string) error {
	if c.Prompt == "" && len(args) == 0 {
		return fmt.Errorf("--prompt is required for rate command")
	}

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

// executeWithStore commits the rating through an engine backed by a provided store (for testing).
func (c *RateCommand) executeWithStore(cfg *config.Config, store storage.Store, args []string) error {
	prompt := strings.TrimSpace(c.Prompt)
	if prompt == "" {
		prompt = strings.TrimSpace(strings.Join(args, " "))
	}
	if prompt == "" {
		return fmt.Errorf("--prompt is required for rate command")
	}
	if c.Reason != "" && !knownReason(cfg.Popups, c.Reason) {
		return fmt.Errorf("unknown reason code %q", c.Reason)
	}

	ev := feedback.New(feedback.Kind(c.Kind), feedback.Strength(c.Strength), feedback.SourceManual, time.Now())
	ev.PromptText = prompt
	ev.PlatformID = c.Platform
	ev.ReasonCode = c.Reason
	ev.CustomText = c.Note
	ev.Intensity = c.Intensity
	ev.OutputID = c.OutputID
	if ev.OutputID == "" {
		ev.OutputID = "manual-" + uuid.NewString()
	}

	eng, err := engine.New(cfg, engine.Options{Store: store})
	if err != nil {
		return err
	}
	defer eng.Close()

	deltas, err := eng.Rate(ev)
	if err != nil {
		return fmt.Errorf("rate: %w", err)
	}

	rows := make([]deltaJSON, 0, deltas.Len())
	deltas.Each(func(category, keyword string, v float64) {
		rows = append(rows, deltaJSON{Category: category, Keyword: keyword, Delta: v})
	})

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rateJSON{Event: ev, Deltas: rows})
	}
	return c.printHuman(ev, deltas)
}

func (c *RateCommand) printHuman(ev feedback.Event, deltas prefs.Deltas) error {
	fmt.Printf("Recorded %s (%s) for %q\n", ev.Kind, ev.Strength, ev.PromptText)
	fmt.Printf("  ID: %s\n", ev.ID)

	if deltas.Len() == 0 {
		fmt.Println("  No known keywords in the prompt; nothing was scored.")
		return nil
	}
	fmt.Printf("  %d keywords updated:\n", deltas.Len())
	deltas.Each(func(category, keyword string, v float64) {
		fmt.Printf("    %-20s %-12s %+.2f\n", keyword, category, v)
	})
	return nil
}

// knownReason reports whether code is a preset reason of any popup kind.
func knownReason(p config.PopupsConfig, code string) bool {
	for kind := range p.Reasons {
		if _, ok := p.ReasonFor(kind, code); ok {
			return true
		}
	}
	return false
}
