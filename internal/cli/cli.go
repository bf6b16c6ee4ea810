package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status  *StatusCommand
	Top     *TopCommand
	Pages   *PagesCommand
	Sync    *SyncCommand
	Exclude *ExcludeCommand
	Ingest  *IngestCommand
	Prune   *PruneCommand
	Purge   *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "pagetrail"
	parser.LongDescription = "Tracks active time per page in the browser and syncs it to a collector."

	cmds := &commands{
		Status:  &StatusCommand{globals: &globals, version: version},
		Top:     &TopCommand{globals: &globals, version: version},
		Pages:   &PagesCommand{globals: &globals, version: version},
		Sync:    &SyncCommand{globals: &globals, version: version},
		Exclude: &ExcludeCommand{globals: &globals, version: version},
		Ingest:  &IngestCommand{globals: &globals, version: version},
		Prune:   &PruneCommand{globals: &globals, version: version},
		Purge:   &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show tracking statistics and sync health", "Show page totals, sync markers, storage backend and daemon health.", cmds.Status)
	parser.AddCommand("top", "Show domains by active time", "Show the domains with the most active time in the current aggregate.", cmds.Top)
	parser.AddCommand("pages", "List tracked pages", "List tracked pages, with optional domain, sync and age filters.", cmds.Pages)
	parser.AddCommand("sync", "Push unsynced pages now", "Push unsynced pages to the configured collector once.", cmds.Sync)
	parser.AddCommand("exclude", "Manage exclusion rules", "List, add or remove URL exclusion rules. Changes apply on daemon restart.", cmds.Exclude)
	parser.AddCommand("ingest", "Start the PageTrail daemon", "Start the PageTrail daemon (local HTTP service).", cmds.Ingest)
	parser.AddCommand("prune", "Drop synced pages", "Drop pages the collector already accepted.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL PageTrail data", "Delete ALL PageTrail data. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the PageTrail CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("pagetrail %s\n", version)
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
