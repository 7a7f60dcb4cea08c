package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmitsTimestampAsTS(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&Config{Output: &buf})
	logger.Info("state loaded", "verbs", 42)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Contains(t, line, "ts")
	assert.NotContains(t, line, "time")
	assert.Equal(t, "state loaded", line["msg"])
	assert.Equal(t, float64(42), line["verbs"])
}

func TestNew_LevelGating(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&Config{Output: &buf, Level: slog.LevelWarn})
	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestNew_DebugOverridesLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&Config{Output: &buf, Level: slog.LevelError, Debug: true})
	logger.Debug("visible")
	assert.NotZero(t, buf.Len())
}

func TestNew_NilConfigDefaults(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, New(nil))
}

func TestNewFromEnv_DebugFlag(t *testing.T) {
	t.Setenv("PSCUE_DEBUG", "1")
	logger := NewFromEnv()
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
