package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "narrate", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{
		"daemon", "project", "item", "synthesize", "generate", "cancel",
		"reset", "status", "video", "worker", "doctor", "test-notify", "logs", "config",
	} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestRootCommandPersistentFlags(t *testing.T) {
	cmd := newRootCommand()

	config := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "c", config.Shorthand)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("api"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("json"))
}

func TestDaemonSubcommands(t *testing.T) {
	cmd := newRootCommand()
	daemonCmd, _, err := cmd.Find([]string{"daemon"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, sub := range daemonCmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"start", "stop", "status", "run"} {
		assert.True(t, names[want], "missing daemon subcommand %q", want)
	}

	run, _, err := cmd.Find([]string{"daemon", "run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("stop-worker"))
	assert.NotNil(t, run.Flags().Lookup("log-level"))

	start, _, err := cmd.Find([]string{"daemon", "start"})
	require.NoError(t, err)
	wait := start.Flags().Lookup("wait")
	require.NotNil(t, wait)
	assert.Equal(t, "10s", wait.DefValue)
}

func TestCommandFlags(t *testing.T) {
	cmd := newRootCommand()

	generate, _, err := cmd.Find([]string{"generate"})
	require.NoError(t, err)
	wait := generate.Flags().Lookup("wait")
	require.NotNil(t, wait)
	assert.Equal(t, "w", wait.Shorthand)

	edit, _, err := cmd.Find([]string{"item", "edit"})
	require.NoError(t, err)
	assert.NotNil(t, edit.Flags().Lookup("text"))
	assert.NotNil(t, edit.Flags().Lookup("instruct"))

	synth, _, err := cmd.Find([]string{"tts"})
	require.NoError(t, err)
	assert.Equal(t, "synthesize", synth.Name())
	assert.NotNil(t, synth.Flags().Lookup("background"))

	video, _, err := cmd.Find([]string{"video"})
	require.NoError(t, err)
	assert.NotNil(t, video.Flags().ShorthandLookup("o"))
}

func TestConfigInitSkipsConfigLoad(t *testing.T) {
	cmd := newRootCommand()
	initCmd, _, err := cmd.Find([]string{"config", "init"})
	require.NoError(t, err)
	assert.True(t, shouldSkipConfig(initCmd))

	list, _, err := cmd.Find([]string{"project", "list"})
	require.NoError(t, err)
	assert.False(t, shouldSkipConfig(list))
}

func TestParseID(t *testing.T) {
	id, err := parseID("project", " 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-1"} {
		_, err := parseID("item", bad)
		assert.Error(t, err, "expected %q to be rejected", bad)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	got := truncate("a very long line of narration text", 10)
	assert.LessOrEqual(t, len([]rune(got)), 10)
}
