package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logLevel  Level
		shouldLog bool
	}{
		{"Debug logs at DEBUG level", "debug", DEBUG, true},
		{"Info logs at DEBUG level", "debug", INFO, true},
		{"Debug doesn't log at INFO level", "info", DEBUG, false},
		{"Info logs at INFO level", "info", INFO, true},
		{"Warn logs at INFO level", "info", WARN, true},
		{"Info doesn't log at WARN level", "warn", INFO, false},
		{"Error logs at WARN level", "warn", ERROR, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, tt.level, "text", "test")

			switch tt.logLevel {
			case DEBUG:
				logger.Debug("test message")
			case INFO:
				logger.Info("test message")
			case WARN:
				logger.Warn("test message")
			case ERROR:
				logger.Error("test message")
			}

			assert.Equal(t, tt.shouldLog, buf.Len() > 0, "output: %q", buf.String())
		})
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text", "dispatch")

	logger.Info("task dispatched", Fields{
		"session_id": "abc123",
		"status":     200,
		"ambiguous":  false,
	})

	output := buf.String()
	assert.Contains(t, output, "level=INFO")
	assert.Contains(t, output, "component=dispatch")
	assert.Contains(t, output, `msg="task dispatched"`)
	assert.Contains(t, output, "session_id=abc123")
	assert.Contains(t, output, "status=200")
	assert.Contains(t, output, "ambiguous=false")
}

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json", "gateway")

	logger.Error("remote rejected task", Fields{
		"error":    errors.New("Error code: 401 - invalid x-api-key"),
		"endpoint": "http://localhost:7888/chat",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "gateway", entry["component"])
	assert.Equal(t, "remote rejected task", entry["msg"])
	assert.Equal(t, "Error code: 401 - invalid x-api-key", entry["error"])
	assert.Equal(t, "http://localhost:7888/chat", entry["endpoint"])
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, "debug", "text", "root")
	child := base.WithComponent("conversation")

	child.Debug("bound session")

	assert.Contains(t, buf.String(), "component=conversation")
	assert.NotContains(t, buf.String(), "component=root")
	assert.Equal(t, DEBUG, child.Level())
}

func TestLogger_MergeFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text", "")

	logger.Info("merged", Fields{"a": 1}, Fields{"b": 2, "a": 3})

	output := buf.String()
	assert.Contains(t, output, "a=3")
	assert.Contains(t, output, "b=2")
	assert.NotContains(t, output, "component=")
}

func TestLogger_FieldOrderIsStable(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text", "")

	logger.Info("ordered", Fields{"zeta": 1, "alpha": 2, "mid": 3})

	output := buf.String()
	alpha := strings.Index(output, "alpha=")
	mid := strings.Index(output, "mid=")
	zeta := strings.Index(output, "zeta=")
	assert.True(t, alpha < mid && mid < zeta, "fields out of order: %s", output)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Warn":    WARN,
		"error":   ERROR,
		"fatal":   FATAL,
		"":        INFO,
		"verbose": INFO,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "parseLevel(%q)", in)
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DEBUG.String())
	assert.Equal(t, "FATAL", FATAL.String())
	assert.Equal(t, "INFO", Level(42).String())
}

func TestOrDefault(t *testing.T) {
	var buf bytes.Buffer
	explicit := NewWithWriter(&buf, "info", "text", "explicit")
	assert.Same(t, explicit, OrDefault(explicit, "ignored"))

	fallback := OrDefault(nil, "fallback")
	require.NotNil(t, fallback)
}
