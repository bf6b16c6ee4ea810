package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagetrail/internal/storage"
)

func runPages(t *testing.T, cmd *PagesCommand) []storage.Page {
	t.Helper()
	cmd.globals = &GlobalFlags{JSON: true}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	var got []storage.Page
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	return got
}

func pageURLs(pages []storage.Page) []string {
	urls := make([]string, len(pages))
	for i, p := range pages {
		urls[i] = p.Page
	}
	return urls
}

func TestPages_MostRecentFirst(t *testing.T) {
	env := newTestEnv(t)
	seedPages(t, env, sampleDomains())

	got := runPages(t, &PagesCommand{Limit: 50, env: env})
	assert.Equal(t, []string{
		"https://github.com/b",
		"https://example.com/",
		"https://github.com/a",
	}, pageURLs(got))
}

func TestPages_Filters(t *testing.T) {
	env := newTestEnv(t)
	seedPages(t, env, sampleDomains())

	tests := []struct {
		name string
		cmd  PagesCommand
		want []string
	}{
		{"domain", PagesCommand{Domain: "github.com"}, []string{"https://github.com/b", "https://github.com/a"}},
		{"www domain", PagesCommand{Domain: "www.GitHub.com"}, []string{"https://github.com/b", "https://github.com/a"}},
		{"domain as url", PagesCommand{Domain: "https://example.com/x"}, []string{"https://example.com/"}},
		{"unsynced", PagesCommand{Unsynced: true}, []string{"https://example.com/", "https://github.com/a"}},
		{"limit", PagesCommand{Limit: 1}, []string{"https://github.com/b"}},
		{"unknown domain", PagesCommand{Domain: "nowhere.test"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd
			cmd.env = env
			assert.Equal(t, tt.want, pageURLs(runPages(t, &cmd)))
		})
	}
}

func TestPages_Since(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	seedPages(t, env, []storage.Domain{
		{Domain: "example.com", Pages: []storage.Page{
			{Page: "https://example.com/old", Domain: "example.com", LastVisited: storage.UnixMillis(now.Add(-72 * time.Hour))},
			{Page: "https://example.com/new", Domain: "example.com", LastVisited: storage.UnixMillis(now.Add(-time.Hour))},
		}},
	})

	got := runPages(t, &PagesCommand{Since: "1d", env: env})
	assert.Equal(t, []string{"https://example.com/new"}, pageURLs(got))
}

func TestPages_InvalidSince(t *testing.T) {
	cmd := &PagesCommand{Since: "soon", globals: &GlobalFlags{}, env: newTestEnv(t)}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --since")
}

func TestPages_HumanOutput(t *testing.T) {
	env := newTestEnv(t)
	seedPages(t, env, sampleDomains())
	cmd := &PagesCommand{Domain: "example.com", globals: &GlobalFlags{}, env: env}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "1. Example \u2014 example.com")
	assert.Contains(t, output, "https://example.com/")
	assert.Contains(t, output, "12s")
	assert.Contains(t, output, "unsynced")
}

func TestPages_HumanOutputEmpty(t *testing.T) {
	cmd := &PagesCommand{globals: &GlobalFlags{}, env: newTestEnv(t)}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "No pages found.")
}
