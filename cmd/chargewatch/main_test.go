package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsFlagsAfterCommand(t *testing.T) {
	var out bytes.Buffer
	opts, cmd, err := parseArgs([]string{"-config", "cw.yaml", "voltage", "-start", "2025-06-02", "-output", "r.csv"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "voltage", cmd)
	assert.Equal(t, "cw.yaml", opts.configPath)
	assert.Equal(t, "2025-06-02", opts.start)
	assert.Equal(t, "r.csv", opts.output)
	assert.Empty(t, opts.end)
}

func TestParseArgsRejects(t *testing.T) {
	var out bytes.Buffer
	for _, args := range [][]string{
		nil,
		{"rebuild"},
		{"alerts", "extra"},
		{"alerts", "-bogus"},
	} {
		_, _, err := parseArgs(args, &out)
		assert.Error(t, err, "%v", args)
	}
}

func TestRunUsageErrorExitCode(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, run([]string{"nope"}, &out))
	assert.Contains(t, out.String(), "usage: chargewatch")
}
