package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	if !c.Force {
		if err := confirmPurge(os.Stdin); err != nil {
			return err
		}
	}

	return withEnv(c.globals, c.env, c.run)
}

// confirmPurge prints the warning and reads the confirmation word from in.
func confirmPurge(in io.Reader) error {
	fmt.Println("\u26a0 WARNING: This will permanently delete ALL PageTrail data.")
	fmt.Println("  - All tracked pages, synced or not")
	fmt.Println("  - The last sync and last reset markers")
	fmt.Println("  - The sync log")
	fmt.Println()
	fmt.Println("Exclusion rules are kept. This action cannot be undone.")
	fmt.Println()
	fmt.Print(`Type "PURGE" to confirm: `)

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	input := strings.TrimSpace(scanner.Text())
	if input != "PURGE" {
		return fmt.Errorf("aborted: confirmation text did not match")
	}
	return nil
}

func (c *PurgeCommand) run(env *appEnv) error {
	ctx := context.Background()

	if env.redis != nil {
		if err := env.redis.Purge(ctx); err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}
	}
	if err := env.local.PurgeAll(ctx); err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"purged":  true,
			"message": "all data deleted",
		})
	}

	fmt.Println("Purged all data. PageTrail is empty.")
	return nil
}
