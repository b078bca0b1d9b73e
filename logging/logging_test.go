package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(buf *bytes.Buffer) []string {
	out := strings.TrimSuffix(buf.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Output: &buf, LogLevel: LEVEL_WARNING})

	l.Info("hidden")
	l.Warning("shown")
	l.Error("also shown", 42)
	got := lines(&buf)
	require.Len(t, got, 2)

	fields := strings.Split(got[0], "|")
	require.Len(t, fields, 4)
	assert.Equal(t, "warning", fields[1])
	assert.True(t, strings.HasPrefix(fields[2], "logging_test.go#"))
	assert.Equal(t, "shown", fields[3])
	assert.True(t, strings.HasSuffix(got[1], "also shown|[42]"))
}

func TestLogger_DebugLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Output: &buf, LogLevel: LEVEL_DEBUG, DebugLevel: DEBUG_LEVEL_INFO})

	l.Debug(DEBUG_LEVEL_TRACE, "trace")
	l.DebugF(DEBUG_LEVEL_INFO, "kernel %s", "updateNeurons")
	l.Debug(DEBUG_LEVEL_DUMP, "dump")
	got := lines(&buf)
	require.Len(t, got, 2)
	assert.True(t, strings.HasSuffix(got[1], "|kernel updateNeurons"))
}

func TestLogger_DebugNeedsDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Output: &buf, LogLevel: LEVEL_INFO, DebugLevel: DEBUG_LEVEL_DUMP})
	l.DebugF(DEBUG_LEVEL_TRACE, "array %s", "V")
	l.Info("allocated")
	got := lines(&buf)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "|info|")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	require.NotNil(t, l)
	l.Error("dropped")
	l.DebugF(DEBUG_LEVEL_TRACE, "dropped %d", 1)
}
