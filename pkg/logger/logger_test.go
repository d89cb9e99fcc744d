package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("lending-flow", &buf, "debug")

	log.WithFields(map[string]interface{}{"run_id": "r-1"}).Info("step finished", map[string]interface{}{
		"step": "vault-create",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "lending-flow", entry["service"])
	assert.Equal(t, "step finished", entry["message"])
	assert.Equal(t, "r-1", entry["run_id"])
	assert.Equal(t, "vault-create", entry["step"])
}

func TestJSONLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("lending-flow", &buf, "warn")

	log.Debug("hidden", nil)
	log.Info("hidden", nil)
	log.Warn("shown", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"shown"`)
}
