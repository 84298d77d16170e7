package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	l, closer, err := Init(Options{})
	require.NoError(t, err)
	require.NoError(t, closer())
	require.False(t, l.Enabled(context.Background(), slog.LevelError))
}

func TestNoop_DiscardsAllLevels(t *testing.T) {
	l := Noop()
	for _, lvl := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		require.False(t, l.Enabled(context.Background(), lvl))
	}
	require.False(t, Wrap(nil).Enabled(context.Background(), slog.LevelError))
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pmctl.log")
	l, closer, err := Init(Options{Enabled: true, File: path, JSON: true})
	require.NoError(t, err)

	l.WithPool("abc").LogRecovery(context.Background(), 7, 3, nil)
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"pool":"abc"`)
	require.Contains(t, string(data), `"entries_undone":3`)
}

func TestHelpers_LevelSelection(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	l.LogCommit(context.Background(), 1, 64, 0, nil)
	require.Empty(t, buf.String(), "successful commits are debug level")

	l.WithComponent("tx").LogCommit(context.Background(), 2, 0, 0, errors.New("boom"))
	require.Contains(t, buf.String(), "commit failed")
	require.Contains(t, buf.String(), "component=tx")
}

func TestWrap_Nil(t *testing.T) {
	require.NotNil(t, Wrap(nil).Logger)
}
