package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/pagetrail/internal/aggregate"
	"github.com/runnerr0/pagetrail/internal/storage"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	return withEnv(c.globals, c.env, c.run)
}

func (c *PruneCommand) run(env *appEnv) error {
	ctx := context.Background()

	var removed int
	if c.DryRun {
		domains, err := env.pages.LoadPages(ctx)
		if err != nil {
			return fmt.Errorf("load pages: %w", err)
		}
		_, removed = aggregate.PruneSynced(domains)
	} else {
		_, err := env.pages.UpdatePages(ctx, func(current []storage.Domain) ([]storage.Domain, error) {
			next, n := aggregate.PruneSynced(current)
			removed = n
			return next, nil
		})
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"dry_run": c.DryRun,
			"pruned":  removed,
		})
	}

	if c.DryRun {
		fmt.Printf("Would remove %d synced pages.\n", removed)
	} else {
		fmt.Printf("Removed %d synced pages.\n", removed)
	}
	return nil
}
