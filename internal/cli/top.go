package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/pagetrail/internal/aggregate"
)

// Execute implements the go-flags Commander interface for TopCommand.
func (c *TopCommand) Execute(args []string) error {
	if c.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	return withEnv(c.globals, c.env, c.run)
}

func (c *TopCommand) run(env *appEnv) error {
	domains, err := env.pages.LoadPages(context.Background())
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}
	totals := aggregate.TopDomains(domains, c.Limit)

	if c.globals != nil && c.globals.JSON {
		return printJSON(totals)
	}

	if len(totals) == 0 {
		fmt.Println("No tracked time yet.")
		return nil
	}
	for i, d := range totals {
		pageWord := "pages"
		if d.Pages == 1 {
			pageWord = "page"
		}
		fmt.Printf("%2d. %-32s %12s  %d %s\n", i+1, d.Domain, formatSeconds(d.TotalSeconds), d.Pages, pageWord)
	}
	return nil
}
