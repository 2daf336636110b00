package logging_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pathpilot/logging"
	"pathpilot/logging/sinks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRouterDeliversToSinks(t *testing.T) {
	memory := sinks.NewMemorySink()
	metrics := &logging.Metrics{}
	cfg := logging.DefaultConfig()
	cfg.Fields = map[string]any{"session": "s1"}
	fixed := time.Unix(1700000000, 0)

	router, err := logging.NewRouter(logging.ClockFunc(func() time.Time { return fixed }), cfg, []logging.NamedSink{{Name: "memory", Sink: memory}}, metrics)
	require.NoError(t, err)

	router.Publish(context.Background(), logging.Event{Type: "test.one", Severity: logging.SeverityInfo})
	router.Publish(context.Background(), logging.Event{Type: "test.debug", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{})

	require.NoError(t, router.Close(context.Background()))

	events := memory.Events()
	require.Len(t, events, 1)
	assert.Equal(t, logging.EventType("test.one"), events[0].Type)
	assert.Equal(t, fixed, events[0].Time)
	assert.Equal(t, "s1", events[0].Extra["session"])
	assert.Equal(t, uint64(1), router.Stats().EventsTotal)
	assert.Equal(t, uint64(1), metrics.Snapshot()["log_events_total"])
	assert.Same(t, memory, router.Sink("memory"))
	assert.Nil(t, router.Sink("missing"))

	// Publishing after close is ignored.
	router.Publish(context.Background(), logging.Event{Type: "late"})
	assert.NoError(t, router.Close(context.Background()))
}

type closeErrSink struct {
	mu     sync.Mutex
	writes int
}

func (s *closeErrSink) Write(logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return nil
}

func (s *closeErrSink) Close(context.Context) error { return errors.New("boom") }

func TestRouterCloseReportsSinkError(t *testing.T) {
	sink := &closeErrSink{}
	router, err := logging.NewRouter(nil, logging.DefaultConfig(), []logging.NamedSink{{Name: "bad", Sink: sink}}, nil)
	require.NoError(t, err)
	router.Publish(context.Background(), logging.Event{Type: "x", Severity: logging.SeverityWarn})
	assert.EqualError(t, router.Close(context.Background()), "boom")
	assert.Equal(t, 1, sink.writes)
}

func TestWithFieldsDoesNotOverwrite(t *testing.T) {
	var got logging.Event
	pub := logging.WithFields(logging.PublisherFunc(func(_ context.Context, e logging.Event) { got = e }), map[string]any{"a": 1, "b": 2})
	pub.Publish(context.Background(), logging.Event{Type: "t", Extra: map[string]any{"a": "kept"}})
	assert.Equal(t, "kept", got.Extra["a"])
	assert.Equal(t, 2, got.Extra["b"])

	assert.NotNil(t, logging.WithFields(nil, nil))
}

func TestParseSeverity(t *testing.T) {
	for raw, want := range map[string]logging.Severity{
		"debug": logging.SeverityDebug,
		"":      logging.SeverityInfo,
		"WARN":  logging.SeverityWarn,
		"error": logging.SeverityError,
	} {
		got, err := logging.ParseSeverity(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := logging.ParseSeverity("loud")
	assert.Error(t, err)
}

func TestMetricsSnapshot(t *testing.T) {
	var m logging.Metrics
	m.TelemetryAdd("a", 2)
	m.TelemetryStore("a", 5)
	m.TelemetryAdd("a", 3)
	m.TelemetryAdd("", 1)
	assert.Equal(t, map[string]uint64{"a": 8}, m.Snapshot())
	assert.Equal(t, []string{"a"}, m.Keys())

	var nilMetrics *logging.Metrics
	nilMetrics.TelemetryAdd("x", 1)
	assert.Empty(t, nilMetrics.Snapshot())
}
