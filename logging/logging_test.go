package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelWarn, Output: &buf})

	log.Info().Msg("hidden")
	l := Component(log, "dispatch")
	l.Warn().Str("provider", "p1").Msg("visible")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "visible", line["message"])
	assert.Equal(t, "dispatch", line["component"])
	assert.Equal(t, "p1", line["provider"])
	assert.Equal(t, "toolgateway", line["app"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "console", Output: &buf})
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(LevelError))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

type ctxKey struct{}

func TestDetachWithTimeout(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	detached, stop := DetachWithTimeout(parent, 50*time.Millisecond)
	defer stop()

	cancel()
	assert.NoError(t, detached.Err(), "parent cancellation does not propagate")
	assert.Equal(t, "v", detached.Value(ctxKey{}))

	select {
	case <-detached.Done():
	case <-time.After(time.Second):
		t.Fatal("detached context never expired")
	}
	assert.ErrorIs(t, detached.Err(), context.DeadlineExceeded)
}
