package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerConsoleMode(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	require.NotNil(t, l)
	l.Debugf("debug %d", 1)
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestZerologLoggerDebugwFields(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	SetLevel("debug")

	var buf bytes.Buffer
	NewWithWriter(&buf, "ride").Debugw("ride requested", map[string]any{"zone": "88abc", "fare": 12.5})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "88abc", line["zone"])
	assert.InDelta(t, 12.5, line["fare"], 1e-9)
	assert.Equal(t, "debug", line["level"])
}

func TestZerologLoggerComponentField(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	SetLevel("info")

	var buf bytes.Buffer
	l := NewWithWriter(&buf, "surge")
	l.Debugf("hidden")
	l.Infof("zone %s flipped", "abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "surge", line["component"])
	assert.Equal(t, "zone abc flipped", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestSetLevelFallback(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	SetLevel("bogus")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	SetLevel("debug")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
