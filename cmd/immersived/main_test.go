package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	require.Equal(t, "immersived dev\n", out)
}

func TestFeedbackCommands(t *testing.T) {
	t.Setenv("IMMERSIVE_DATABASE_PATH", filepath.Join(t.TempDir(), "immersive.db"))
	t.Setenv("IMMERSIVE_FEEDBACK_FREQUENCY", "4")

	out, err := runCLI(t, "feedback", "status")
	require.NoError(t, err)
	require.Equal(t, "feedback: opted in, 0/4 exits since last prompt\n", out)

	out, err = runCLI(t, "feedback", "opt-out")
	require.NoError(t, err)
	require.Contains(t, out, "opted out")

	out, err = runCLI(t, "feedback", "status")
	require.NoError(t, err)
	require.Contains(t, out, "opted out")

	out, err = runCLI(t, "feedback", "opt-in")
	require.NoError(t, err)
	require.Contains(t, out, "opted in")
}

func TestInvalidConfigIsReported(t *testing.T) {
	t.Setenv("IMMERSIVE_FEEDBACK_FREQUENCY", "0")

	_, err := runCLI(t, "feedback", "status")
	require.ErrorContains(t, err, "invalid configuration")
}
