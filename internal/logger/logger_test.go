package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesISO8601JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(Config{Level: "warn", Encoding: "yaml", OutputPath: path})
	require.NoError(t, err)

	log.Info("dropped")
	log.Named("Worker").Warn("kept", zap.String("story_title", "Salt Road"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "Worker", entry["logger"])
	assert.Equal(t, "Salt Road", entry["story_title"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T`, entry["timestamp"])
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	log, err := New(Config{Level: "loud"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.InfoLevel))
	assert.False(t, log.Core().Enabled(zap.DebugLevel))
}
