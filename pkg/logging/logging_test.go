package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelWarn, &buf)

	Debug("Test", "this should not appear")
	Info("Test", "this should not appear either")
	Warn("Test", "warn message %d", 1)
	Error("Test", assert.AnError, "error message")

	out := buf.String()
	assert.NotContains(t, out, "this should not appear")
	assert.Contains(t, out, "warn message 1")
	assert.Contains(t, out, "error message")
	assert.Contains(t, out, assert.AnError.Error())
}

func TestTruncateID(t *testing.T) {
	require.Equal(t, "short", TruncateID("short"))
	require.Equal(t, "12345678...", TruncateID("1234567890123456"))
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Audit(AuditEvent{Action: "requirements_install", Outcome: "success", Target: "plugin-a"})

	out := buf.String()
	assert.True(t, strings.Contains(out, "action=requirements_install"))
	assert.True(t, strings.Contains(out, "outcome=success"))
	assert.True(t, strings.Contains(out, "target=plugin-a"))
}
