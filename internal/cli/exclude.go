package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/runnerr0/pagetrail/internal/filter"
	"github.com/runnerr0/pagetrail/internal/storage"
)

type exclusionJSON struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	Reason    string `json:"reason,omitempty"`
	IsDefault bool   `json:"is_default"`
	CreatedAt string `json:"created_at"`
}

// Execute implements the go-flags Commander interface for ExcludeCommand.
func (c *ExcludeCommand) Execute(args []string) error {
	if c.List || len(args) == 0 {
		return withEnv(c.globals, c.env, c.list)
	}
	if len(args) > 1 {
		return fmt.Errorf("exclude takes a single rule value, got %d", len(args))
	}

	value := strings.TrimSpace(args[0])
	if value == "" {
		return fmt.Errorf("rule value must not be empty")
	}
	kind := strings.ToLower(c.Type)
	if _, err := filter.New([]filter.Rule{{Kind: kind, Value: value}}); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	return withEnv(c.globals, c.env, func(env *appEnv) error {
		if c.Remove {
			return c.remove(env, kind, value)
		}
		return c.add(env, kind, value)
	})
}

func (c *ExcludeCommand) add(env *appEnv, kind, value string) error {
	e := &storage.Exclusion{RuleType: kind, RuleValue: value, Reason: c.Reason}
	err := env.local.AddExclusion(context.Background(), e)
	if errors.Is(err, storage.ErrDuplicate) {
		return fmt.Errorf("%s rule %q already exists", kind, value)
	}
	if err != nil {
		return fmt.Errorf("add exclusion: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"added": true, "id": e.ID, "type": kind, "value": value})
	}
	fmt.Printf("Added %s rule %q (id %d). Restart the daemon to apply it.\n", kind, value, e.ID)
	return nil
}

func (c *ExcludeCommand) remove(env *appEnv, kind, value string) error {
	err := env.local.RemoveExclusion(context.Background(), kind, value)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no %s rule %q", kind, value)
	}
	if err != nil {
		return fmt.Errorf("remove exclusion: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"removed": true, "type": kind, "value": value})
	}
	fmt.Printf("Removed %s rule %q. Restart the daemon to apply it.\n", kind, value)
	return nil
}

func (c *ExcludeCommand) list(env *appEnv) error {
	rules, err := env.local.ListExclusions(context.Background())
	if err != nil {
		return fmt.Errorf("list exclusions: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		out := make([]exclusionJSON, len(rules))
		for i, r := range rules {
			out[i] = exclusionJSON{
				ID:        r.ID,
				Type:      r.RuleType,
				Value:     r.RuleValue,
				Reason:    r.Reason,
				IsDefault: r.IsDefault,
				CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
			}
		}
		return printJSON(out)
	}

	if len(rules) == 0 {
		fmt.Println("No exclusion rules.")
		return nil
	}
	for _, r := range rules {
		origin := "user"
		if r.IsDefault {
			origin = "default"
		}
		line := fmt.Sprintf("%4d  %-7s %-8s %s", r.ID, origin, r.RuleType, r.RuleValue)
		if r.Reason != "" {
			line += "  (" + r.Reason + ")"
		}
		fmt.Println(line)
	}
	return nil
}
