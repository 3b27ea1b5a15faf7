// ABOUTME: Tests for the CLI log handler
// ABOUTME: Checks component tags, level filtering, groups and JSON output

package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/config"
)

func TestColorHandler_ComponentTag(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "info"})

	logger.With("component", "session").Info("role resolved", "user_id", "u1", "role", "admin")
	line := buf.String()

	assert.Contains(t, line, "INF [session] role resolved user_id=u1 role=admin\n")
	assert.NotContains(t, line, "component=")
}

func TestColorHandler_LevelAndGroups(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "warn"})

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.WithGroup("feed").With("backend", "redis").Warn("subscription lost", "attempt", 2)
	assert.Contains(t, buf.String(), "WRN subscription lost feed.backend=redis feed.attempt=2\n")
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "debug", Format: "json"})

	logger.Debug("saved message", "id", "m1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "saved message", rec["msg"])
	assert.Equal(t, "m1", rec["id"])
}
