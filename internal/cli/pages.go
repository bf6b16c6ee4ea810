package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/runnerr0/pagetrail/internal/aggregate"
	"github.com/runnerr0/pagetrail/internal/resolver"
	"github.com/runnerr0/pagetrail/internal/storage"
)

// Execute implements the go-flags Commander interface for PagesCommand.
func (c *PagesCommand) Execute(args []string) error {
	return withEnv(c.globals, c.env, c.run)
}

func (c *PagesCommand) run(env *appEnv) error {
	var since time.Time
	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		since = time.Now().Add(-dur)
	}

	domains, err := env.pages.LoadPages(context.Background())
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}
	if c.Unsynced {
		domains = aggregate.Unsynced(domains)
	}

	pages := c.selectPages(domains, since)

	if c.globals != nil && c.globals.JSON {
		return printJSON(pages)
	}
	c.printHuman(pages)
	return nil
}

// selectPages flattens domains, applies the domain and age filters and
// returns the most recently visited pages first.
func (c *PagesCommand) selectPages(domains []storage.Domain, since time.Time) []storage.Page {
	want := ""
	if c.Domain != "" {
		want = canonicalDomain(c.Domain)
	}

	pages := []storage.Page{}
	for _, d := range domains {
		if want != "" && !strings.EqualFold(d.Domain, want) {
			continue
		}
		for _, p := range d.Pages {
			if !since.IsZero() && p.LastVisited < storage.UnixMillis(since) {
				continue
			}
			pages = append(pages, p)
		}
	}

	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].LastVisited > pages[j].LastVisited
	})
	if c.Limit > 0 && len(pages) > c.Limit {
		pages = pages[:c.Limit]
	}
	return pages
}

// canonicalDomain maps user input such as "www.github.com" or a full URL to
// the domain pages are grouped under.
func canonicalDomain(input string) string {
	raw := strings.TrimSpace(input)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	if d, err := resolver.MainDomain(raw); err == nil {
		return d
	}
	return strings.ToLower(strings.TrimSpace(input))
}

func (c *PagesCommand) printHuman(pages []storage.Page) {
	if len(pages) == 0 {
		fmt.Println("No pages found.")
		return
	}

	for i, p := range pages {
		title := p.Meta.Title
		if title == "" {
			title = p.Page
		}
		fmt.Printf("%d. %s \u2014 %s\n", i+1, title, p.Domain)
		fmt.Printf("   %s\n", p.Page)

		state := "unsynced"
		if p.Synced {
			state = "synced"
		}
		last := time.UnixMilli(p.LastVisited).Local().Format("2006-01-02 15:04")
		fmt.Printf("   %s \u00b7 last visited %s \u00b7 %s\n", formatSeconds(p.TimeSpent), last, state)

		if i < len(pages)-1 {
			fmt.Println()
		}
	}
}
