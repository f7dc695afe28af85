package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestJSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, "info", "json").With("component", "pool").Info("server ready", "server", "mcp_todayinfo")
	New(&buf, "info", "json").Debug("dropped")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "server ready", rec["msg"])
	assert.Equal(t, "pool", rec["component"])
	assert.Equal(t, "mcp_todayinfo", rec["server"])
}

func TestColorFormat(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := New(&buf, "debug", "text").With("component", "hub").WithGroup("call")
	logger.Warn("slow tool", "tool", "fixture.sleep", slog.Group("timing", "ms", 1200))

	line := buf.String()
	assert.Contains(t, line, "WRN slow tool")
	assert.Contains(t, line, " component=hub")
	assert.Contains(t, line, " call.tool=fixture.sleep")
	assert.Contains(t, line, " call.timing.ms=1200")
	assert.Equal(t, byte('\n'), line[len(line)-1])
}
