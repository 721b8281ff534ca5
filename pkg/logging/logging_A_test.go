package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRespectsLevel(t *testing.T) { // A
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, Options{Level: slog.LevelInfo, NoColor: true})

	log.Debug("hidden")
	require.Zero(t, buf.Len())

	log.Info("record stored", "key", "abc")
	require.Contains(t, buf.String(), "record stored")
	require.Contains(t, buf.String(), "key=abc")
}

func TestForDebug(t *testing.T) { // A
	t.Parallel()
	require.True(t, ForDebug(true).Enabled(context.Background(), slog.LevelDebug))
	require.False(t, ForDebug(false).Enabled(context.Background(), slog.LevelDebug))
}
