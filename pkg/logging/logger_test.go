package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"blackhole/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		cfg  *config.LoggingConfig
		name string
	}{
		{name: "text format stdout", cfg: &config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"}},
		{name: "json format stderr", cfg: &config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"}},
		{name: "file output", cfg: &config.LoggingConfig{Level: "warn", Format: "text", Output: "file",
			FilePath: filepath.Join(t.TempDir(), "blackhole.log")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.NoError(t, logger.Close())
		})
	}
}

func TestNewFileWritesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(&config.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: path})
	require.NoError(t, err)

	logger.Info("rules loaded", "clients", 3)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "rules loaded", rec["msg"])
	assert.Equal(t, float64(3), rec["clients"])
}

func TestNewFileBadPath(t *testing.T) {
	_, err := New(&config.LoggingConfig{Output: "file", FilePath: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.Equal(t, "info", logger.cfg.Level)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.level))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, &config.LoggingConfig{Level: "warn", Format: "text"})

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, &config.LoggingConfig{Level: "info", Format: "text"})

	logger.WithFields(map[string]any{"client": "10.0.0.1"}).WithField("kind", "MX").Info("answered")

	out := buf.String()
	assert.Contains(t, out, "client=10.0.0.1")
	assert.Contains(t, out, "kind=MX")
}

func TestSetGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	var buf bytes.Buffer
	SetGlobal(NewWithWriter(&buf, &config.LoggingConfig{Level: "debug", Format: "text"}))

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	for _, msg := range []string{"msg=d", "msg=i", "msg=w", "msg=e"} {
		assert.Contains(t, buf.String(), msg)
	}
}
