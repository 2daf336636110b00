package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pathpilot/internal/bot"
	"pathpilot/internal/config"
	"pathpilot/internal/geom"
	"pathpilot/internal/oracle/wsoracle"
	"pathpilot/internal/telemetry"
	"pathpilot/internal/world"
	"pathpilot/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Logging.Sinks = []string{"console"}
	cfg.Bot.StatusInterval = 0
	cfg.Bot.TickRate = 50
	return cfg
}

func runApp(t *testing.T, a *App) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	return stop, errCh
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Pursuit.Radius = 0
	_, err := New(Options{Config: cfg, Stdout: io.Discard})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewRejectsMissingScenario(t *testing.T) {
	cfg := testConfig()
	cfg.World.Scenario = "/nonexistent/scenario.yaml"
	_, err := New(Options{Config: cfg, Stdout: io.Discard})
	assert.Error(t, err)
}

func TestRunStopsAtRuntimeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.MaxRuntime = 300 * time.Millisecond
	var events strings.Builder
	a, err := New(Options{Config: cfg, Stdout: &lockedWriter{w: &events}})
	require.NoError(t, err)

	_, done := runApp(t, a)
	waitRun(t, done)

	assert.Equal(t, bot.PhaseIdle, a.Bot().Status().Phase)
	assert.Greater(t, a.Metrics().Snapshot()["bot_ticks_total"], uint64(0))
	assert.Contains(t, events.String(), "navigation.limit_reached")
}

// brokenFeed is a world whose position source has failed.
type brokenFeed struct {
	*world.Sim
}

var errFeedLost = errors.New("position feed lost")

func (brokenFeed) Position() (geom.Point, error) {
	return geom.Point{}, errFeedLost
}

func TestRunExitsWhenBotFaults(t *testing.T) {
	a, err := New(Options{Config: testConfig(), Stdout: io.Discard})
	require.NoError(t, err)
	a.bot, err = bot.New(a.cfg.BotConfig(), bot.Deps{
		Oracle:    a.client,
		World:     brokenFeed{Sim: a.world},
		Sink:      a.world,
		Publisher: a.router,
		Logger:    a.logger,
		Metrics:   telemetry.WrapMetrics(a.metrics),
		Clock:     logging.SystemClock{},
	})
	require.NoError(t, err)

	_, done := runApp(t, a)
	select {
	case err := <-done:
		require.ErrorIs(t, err, bot.ErrFaulted)
		assert.ErrorIs(t, err, errFeedLost)
	case <-time.After(5 * time.Second):
		t.Fatal("faulted bot kept the run alive")
	}
	assert.Equal(t, bot.PhaseFaulted, a.Bot().Status().Phase)
}

func TestRunDrivesAgentWithInProcessOracle(t *testing.T) {
	a, err := New(Options{Config: testConfig(), Stdout: io.Discard})
	require.NoError(t, err)
	cancel, done := runApp(t, a)

	require.Eventually(t, func() bool {
		_, clicks, _ := a.World().Stats()
		return clicks > 0
	}, 8*time.Second, 50*time.Millisecond)

	cancel()
	waitRun(t, done)
	assert.Equal(t, bot.PhaseIdle, a.Bot().Status().Phase, "shutdown stops the bot")
}

func TestRunDrivesAgentWithRemoteOracle(t *testing.T) {
	cfg := testConfig()
	grid := NewGridOracle(cfg, world.DefaultScenario(), nil)
	t.Cleanup(grid.Close)
	handler := wsoracle.NewHandler(grid, wsoracle.HandlerConfig{Logger: log.New(io.Discard, "", 0)})
	srv := httptest.NewServer(wsoracle.NewMux(handler))
	t.Cleanup(srv.Close)

	cfg.Oracle.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + wsoracle.DefaultPath
	a, err := New(Options{Config: cfg, Stdout: io.Discard})
	require.NoError(t, err)
	cancel, done := runApp(t, a)

	require.Eventually(t, func() bool {
		_, clicks, _ := a.World().Stats()
		return a.Bot().Status().OracleReady && clicks > 0
	}, 8*time.Second, 50*time.Millisecond)

	cancel()
	waitRun(t, done)
}

func TestServeShutsDownWithContext(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeReportsListenFailure(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1", Handler: http.NotFoundHandler()}
	err := Serve(context.Background(), srv)
	assert.Error(t, err)
}
