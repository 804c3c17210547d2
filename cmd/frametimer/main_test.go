//go:build !notiming

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	logLevel = ""

	cmd := rootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestOverheadCommand(t *testing.T) {
	out, err := execute(t, "overhead", "--threads", "2", "--frames", "10", "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "Threads: 2\n")
	assert.Contains(t, out, "20 pairs of start stop events")
	assert.Contains(t, out, "nsec")
	assert.NotContains(t, out, "cycles")
}

func TestRunCommand_RequiresConfig(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "config" not set`)
}

func TestMigrateCommand_RequiresClickHouse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: 1\n"), 0o644))

	_, err := execute(t, "migrate", "status", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sinks.clickhouse is not enabled")
}

func TestNewLogger(t *testing.T) {
	logLevel = ""

	log, err := newLogger("debug")
	require.NoError(t, err)
	assert.Equal(t, "debug", log.GetLevel().String())

	logLevel = "warn"
	log, err = newLogger("debug")
	require.NoError(t, err)
	assert.Equal(t, "warning", log.GetLevel().String())

	logLevel = "loud"
	_, err = newLogger("")
	require.Error(t, err)

	logLevel = ""
}
