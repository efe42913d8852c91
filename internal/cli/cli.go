package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve   *ServeCommand
	Suggest *SuggestCommand
	Rate    *RateCommand
	History *HistoryCommand
	Status  *StatusCommand
	Prune   *PruneCommand
	Purge   *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "refyn"
	parser.LongDescription = "Learns generative-media taste from how you interact with outputs and suggests prompt keywords."

	cmds := &commands{
		Serve:   &ServeCommand{globals: &globals, version: version},
		Suggest: &SuggestCommand{globals: &globals, version: version},
		Rate:    &RateCommand{globals: &globals, version: version},
		History: &HistoryCommand{globals: &globals, version: version},
		Status:  &StatusCommand{globals: &globals, version: version},
		Prune:   &PruneCommand{globals: &globals, version: version},
		Purge:   &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("serve", "Start the Refyn daemon", "Start the local HTTP daemon that receives page notifications and answers suggestion queries.", cmds.Serve)
	parser.AddCommand("suggest", "Show preferred and avoided keywords", "Show the top preferred and avoided keywords for a platform and prompt.", cmds.Suggest)
	parser.AddCommand("rate", "Record manual feedback for a prompt", "Record a like, dislike or other feedback for a prompt without the browser.", cmds.Rate)
	parser.AddCommand("history", "List recorded feedback", "List recorded feedback events, newest first, with optional filters.", cmds.History)
	parser.AddCommand("status", "Show database and daemon statistics", "Show feedback and keyword statistics, database size and daemon health.", cmds.Status)
	parser.AddCommand("prune", "Apply retention pruning", "Delete feedback history older than the retention period. Keyword scores are kept.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL Refyn data", "Delete ALL Refyn data. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the Refyn CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// go-flags requires a subcommand, but --version is valid without one.
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("refyn %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
