package logger

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
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestSetupPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := Setup(Config{Level: slog.LevelInfo, Output: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("Subscribed", "channel", "private-orders")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO - Subscribed channel=private-orders")
	assert.NotContains(t, out, "\033[")
}

func TestWithComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	log, err := Setup(Config{Level: slog.LevelDebug, Output: &buf})
	require.NoError(t, err)

	log.WithComponent("socket").With("socket_id", "1.2").Debug("Connected")

	assert.Contains(t, buf.String(), "[socket] Connected socket_id=1.2")
}

func TestWithComponentSharesLogFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	log, err := Setup(Config{Level: slog.LevelInfo, FileLevel: slog.LevelDebug, Output: &buf, LogDir: dir})
	require.NoError(t, err)

	socketLog := log.WithComponent("socket")
	triggerLog := log.WithComponent("trigger")
	socketLog.Debug("Frame received", "event", "pusher:pong")
	triggerLog.Info("Event triggered")

	assert.Contains(t, buf.String(), "[trigger] Event triggered")
	assert.NotContains(t, buf.String(), "Frame received")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, "pusher.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "component=socket")
	assert.Contains(t, string(data), "component=trigger")
	assert.Contains(t, string(data), "Frame received")
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	assert.Same(t, log, log.WithComponent("x"))
	log.Error("nothing happens")
}
