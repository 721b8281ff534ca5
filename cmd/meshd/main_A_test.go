package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDCommandIsStable(t *testing.T) { // A
	t.Parallel()
	dir := t.TempDir()

	run := func() string {
		cmd := newIDCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--data", dir})
		require.NoError(t, cmd.Execute())
		return strings.TrimSpace(out.String())
	}

	first := run()
	require.NotEmpty(t, first)
	require.Equal(t, first, run())
}

func TestIDCommandNeedsDataDir(t *testing.T) { // A
	t.Parallel()
	cmd := newIDCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	require.Error(t, cmd.Execute())
}
