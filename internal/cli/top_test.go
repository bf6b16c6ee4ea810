package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagetrail/internal/aggregate"
)

func TestTop_Empty(t *testing.T) {
	cmd := &TopCommand{Limit: 10, globals: &GlobalFlags{}, env: newTestEnv(t)}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "No tracked time yet.")
}

func TestTop_OrdersByActiveTime(t *testing.T) {
	env := newTestEnv(t)
	seedPages(t, env, sampleDomains())
	cmd := &TopCommand{Limit: 10, globals: &GlobalFlags{}, env: env}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Regexp(t, `(?s) 1\. github\.com\s+1h 03m 10s\s+2 pages.* 2\. example\.com\s+12s\s+1 page\n`, output)
}

func TestTop_Limit(t *testing.T) {
	env := newTestEnv(t)
	seedPages(t, env, sampleDomains())
	cmd := &TopCommand{Limit: 1, globals: &GlobalFlags{JSON: true}, env: env}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	var got []aggregate.DomainTotal
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "github.com", got[0].Domain)
	assert.InDelta(t, 3790.0, got[0].TotalSeconds, 0.001)
	assert.Equal(t, 2, got[0].Pages)
}
