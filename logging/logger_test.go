package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ikv.log")

	l, err := New(Options{Level: "warn", File: path})
	require.NoError(t, err)

	l.Info("hidden")
	l.With("handle", 7).Warn("index closed twice")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "index closed twice")
	assert.Contains(t, string(data), "handle=7")
}

func TestNew_NoOutput(t *testing.T) {
	l, err := New(Options{Level: "debug"})
	require.NoError(t, err)
	l.Error("dropped")
	assert.NoError(t, l.Close())
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	l := NewText(&buf, slog.LevelDebug)
	l.Debug("lookup", "field", "name")
	assert.Contains(t, buf.String(), "field=name")
}
