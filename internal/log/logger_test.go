package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("AUTOMENU_DEBUG", "")
	t.Setenv("AUTOMENU_LOG_LEVEL", "WARN")
	t.Setenv("AUTOMENU_LOG_FORMAT", "json")
	t.Setenv("AUTOMENU_LOG_FILE", "")

	cfg := FromEnv()
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.False(t, cfg.AddSource)
}

func TestFromEnv_DebugWins(t *testing.T) {
	t.Setenv("AUTOMENU_DEBUG", "1")
	t.Setenv("AUTOMENU_LOG_LEVEL", "error")

	cfg := FromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)
}

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	defer closer.Close()

	WithComponent(logger, "runner").Info("spawned", PIDKey, 42)
	logger.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "spawned", entry["msg"])
	assert.Equal(t, "runner", entry["component"])
	assert.Equal(t, 42.0, entry[PIDKey])
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automenu.log")
	logger, closer := New(&Config{Level: "debug", Format: FormatText, File: path, MaxSizeMB: 1})

	logger.Debug("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, parseLevel("trace"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
