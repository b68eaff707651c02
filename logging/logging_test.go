package logging

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

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, err := New(Config{Level: "warn", Format: "json", OutputPath: path})
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("pay run calculated with errors", zap.Int("errors", 3))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "info is below the configured level")

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	assert.Equal(t, "pay run calculated with errors", line["msg"])
	assert.Equal(t, float64(3), line["errors"])
	assert.Contains(t, line, "timestamp")
	assert.Contains(t, line, "caller")
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	logger, err := New(Config{Level: "loud", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}
