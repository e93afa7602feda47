package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/engine"
	"github.com/normanking/avatarmotion/internal/logging"
)

const testModel = `{
  "asset": {"version": "2.0"},
  "accessors": [{"componentType": 5126, "count": 2, "type": "SCALAR", "min": [0], "max": [1.5]}],
  "animations": [
    {"name": "Idle", "channels": [{"sampler": 0, "target": {"path": "rotation"}}], "samplers": [{"input": 0, "output": 0}]},
    {"name": "Robot_Running", "channels": [{"sampler": 0, "target": {"path": "rotation"}}], "samplers": [{"input": 0, "output": 0}]}
  ]
}`

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfgPath = ""
	return dir
}

func TestResolveCommandWithClips(t *testing.T) {
	isolate(t)
	cmd := resolveCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run", "--clips", "Idle, Walking,Running"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "\"run\" -> Running (alias)\n", out.String())
}

func TestResolveCommandWithModel(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "robot.gltf")
	require.NoError(t, os.WriteFile(path, []byte(testModel), 0o644))

	cmd := resolveCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run", "--model", path})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "\"run\" -> Robot_Running (substring)\n", out.String())
}

func TestResolveCommandNeedsClips(t *testing.T) {
	isolate(t)
	cmd := resolveCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"walk"})
	assert.Error(t, cmd.Execute())
}

func TestClipsCommand(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "robot.gltf")
	require.NoError(t, os.WriteFile(path, []byte(testModel), 0o644))

	cmd := clipsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "robot.gltf: 2 clips")
	assert.Contains(t, out.String(), "Robot_Running")
	assert.Contains(t, out.String(), "1.50s")
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t)
	cmd := configCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init"})

	require.NoError(t, cmd.Execute())
	_, err := os.Stat(filepath.Join(dir, ".avatarmotion", "config.yaml"))
	assert.NoError(t, err)

	cmd = configCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"init"})
	assert.Error(t, cmd.Execute())
}

func TestChatSinkLogsDroppedCommand(t *testing.T) {
	log, err := logging.New(&logging.Config{Level: logging.LevelDebug})
	require.NoError(t, err)

	var pushed []command.Event
	sink := chatSink(func(ev command.Event) error {
		pushed = append(pushed, ev)
		return nil
	}, log)
	sink(command.Dance)
	require.Len(t, pushed, 1)
	assert.Equal(t, command.SourceChat, pushed[0].Source)

	sink = chatSink(func(command.Event) error { return engine.ErrInboxFull }, log)
	sink(command.Jump)

	hist := log.GetHistory(1)
	require.Len(t, hist, 1)
	assert.Equal(t, "Chat command not queued", hist[0].Message)
	assert.Contains(t, hist[0].Data, "command=jump")
}
