package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_FormatsLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "breaker")

	l.Risk("tripped at %.2f", 0.25)
	l.LogWarning("persist", "retry %d", 2)
	l.LogError("save", assert.AnError)

	out := buf.String()
	assert.Contains(t, out, "[RISK] [breaker] tripped at 0.25")
	assert.Contains(t, out, "[WARN] [breaker] persist: retry 2")
	assert.Contains(t, out, "[ERROR] [breaker] save: "+assert.AnError.Error())
}

// Debug entries are dropped until enabled
func TestLogger_DebugGated(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "engine")

	l.LogDebugOnly("hidden")
	assert.Empty(t, buf.String())

	l.SetDebug(true)
	l.LogDebugOnly("shown")
	assert.Contains(t, buf.String(), "[DEBUG] [engine] shown")
}

func TestLogger_WithSharesSink(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, "root")
	root.With("api").Info("listening")
	assert.True(t, strings.Contains(buf.String(), "[INFO] [api] listening"))
}

func TestNewFileLogger_WritesSession(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLogger(dir, "risk", DefaultRotation())
	require.NoError(t, err)

	l.Info("hello")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "SESSION STARTED")
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "SESSION ENDED")
}
