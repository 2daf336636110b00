package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pathpilot/logging"
)

func sampleEvent() logging.Event {
	return logging.Event{
		Type:     "navigation.path_accepted",
		Tick:     42,
		Time:     time.Unix(1700000000, 0).UTC(),
		Actor:    logging.EntityRef{ID: "bot", Kind: logging.EntityKindAgent},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryAcquisition,
		Payload:  map[string]any{"reason": "no current path"},
		Extra:    map[string]any{"round": "r1"},
	}
}

func TestConsoleSinkFormatsEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, logging.ConsoleConfig{ShowExtra: true})
	require.NoError(t, sink.Write(sampleEvent()))
	line := buf.String()
	assert.Contains(t, line, "[navigation.path_accepted] tick=42 actor=agent:bot severity=warn")
	assert.Contains(t, line, `payload={"reason":"no current path"}`)
	assert.Contains(t, line, "round=r1")
}

func TestJSONSinkEncodesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)
	require.NoError(t, sink.Write(sampleEvent()))
	require.NoError(t, sink.Close(context.Background()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &decoded))
	assert.Equal(t, "navigation.path_accepted", decoded["type"])
	assert.Equal(t, "warn", decoded["severity"])
	assert.Equal(t, float64(42), decoded["tick"])
}

func TestJSONSinkPeriodicFlushStopsOnClose(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, time.Hour)
	require.NoError(t, sink.Write(sampleEvent()))
	assert.Zero(t, buf.Len())
	require.NoError(t, sink.Close(context.Background()))
	assert.NotZero(t, buf.Len())
	require.NoError(t, sink.Close(context.Background()))
}

func TestMemorySinkClones(t *testing.T) {
	sink := NewMemorySink()
	event := sampleEvent()
	sink.Publish(context.Background(), event)
	event.Extra["round"] = "mutated"

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "r1", events[0].Extra["round"])
	assert.Len(t, sink.OfType("navigation.path_accepted"), 1)
	sink.Reset()
	assert.Empty(t, sink.Events())
}

func TestZapSinkMapsSeverity(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewZap(zap.New(core))
	require.NoError(t, sink.Write(sampleEvent()))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "navigation.path_accepted", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, uint64(42), fields["tick"])
	assert.Equal(t, "r1", fields["round"])
	assert.Equal(t, "agent:bot", fields["actor"])

	require.NoError(t, NewZap(nil).Write(sampleEvent()))
}
