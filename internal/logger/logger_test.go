package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestProductionLoggerWritesJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(Config{Env: "production", Level: "info"}, &buf), "draft")

	l.Debug().Msg("hidden")
	l.Warn().Str("form", "facture_brouillon_13").Msg("draft save failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "draft", entry["component"])
	assert.Equal(t, "facture_brouillon_13", entry["form"])
	assert.Equal(t, "draft save failed", entry["message"])
}
