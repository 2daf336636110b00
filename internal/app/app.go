// Package app wires the simulated world, the oracle and the bot into a running
// process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pathpilot/internal/bot"
	"pathpilot/internal/config"
	"pathpilot/internal/oracle"
	"pathpilot/internal/oracle/gridoracle"
	"pathpilot/internal/oracle/wsoracle"
	"pathpilot/internal/telemetry"
	"pathpilot/internal/world"
	"pathpilot/logging"
	loggingSinks "pathpilot/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Config config.Config
	// Loader enables hot reload of the tuning settings. May be nil.
	Loader *config.Loader
	Logger *zap.Logger
	// Stdout receives console events and JSON events without a file path.
	Stdout io.Writer
}

// App owns every long-lived component of a bot process.
type App struct {
	cfg     config.Config
	loader  *config.Loader
	zap     *zap.Logger
	logger  telemetry.Logger
	metrics *logging.Metrics
	router  *logging.Router
	events  io.Closer

	world  *world.Sim
	grid   *gridoracle.Oracle
	remote *wsoracle.Client
	client *oracle.Client
	bot    *bot.Bot
}

// New builds the process. Nothing runs until Run is called.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	zl := opts.Logger
	if zl == nil {
		zl = zap.NewNop()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	a := &App{
		cfg:     cfg,
		loader:  opts.Loader,
		zap:     zl,
		logger:  telemetry.WrapZap(zl),
		metrics: &logging.Metrics{},
	}

	scenario := world.DefaultScenario()
	if cfg.World.Scenario != "" {
		loaded, err := world.LoadScenario(cfg.World.Scenario)
		if err != nil {
			return nil, err
		}
		scenario = loaded
	}
	a.world = world.NewSim(scenario)

	if err := a.openRouter(stdout); err != nil {
		return nil, err
	}

	var o oracle.Oracle
	if cfg.Oracle.URL != "" {
		a.remote = wsoracle.NewClient(cfg.Oracle.URL, wsoracle.ClientConfig{
			Logger: zap.NewStdLog(zl),
			Origin: a.world.Position,
		})
		o = a.remote
	} else {
		a.grid = NewGridOracle(cfg, scenario, a.world)
		o = a.grid
	}

	metrics := telemetry.WrapMetrics(a.metrics)
	a.client = oracle.NewClient(o, cfg.OracleClient(), oracle.Deps{
		Logger:  a.logger,
		Metrics: metrics,
	})

	b, err := bot.New(cfg.BotConfig(), bot.Deps{
		Oracle:    a.client,
		World:     a.world,
		Sink:      a.world,
		Publisher: a.router,
		Logger:    a.logger,
		Metrics:   metrics,
		Clock:     logging.SystemClock{},
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build bot: %w", err)
	}
	a.bot = b
	return a, nil
}

// NewGridOracle builds the in-process oracle for a scenario. locator may be
// nil when requests carry their own origin.
func NewGridOracle(cfg config.Config, scenario world.Scenario, locator gridoracle.Locator) *gridoracle.Oracle {
	return gridoracle.New(gridoracle.Config{
		Bounds:    scenario.Bounds,
		Obstacles: scenario.Obstacles,
		CellSize:  cfg.Oracle.CellSize,
		Clearance: scenario.Radius,
		Latency:   cfg.Oracle.Latency,
	}, locator)
}

func (a *App) openRouter(stdout io.Writer) error {
	routerCfg, err := a.cfg.Router()
	if err != nil {
		return err
	}

	var named []logging.NamedSink
	for _, name := range routerCfg.EnabledSinks {
		switch name {
		case "zap":
			named = append(named, logging.NamedSink{Name: name, Sink: loggingSinks.NewZap(a.zap)})
		case "console":
			named = append(named, logging.NamedSink{Name: name, Sink: loggingSinks.NewConsoleSink(stdout, routerCfg.Console)})
		case "json":
			w := stdout
			if path := routerCfg.JSON.FilePath; path != "" {
				file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("open event log: %w", err)
				}
				a.events = file
				w = file
			}
			named = append(named, logging.NamedSink{Name: name, Sink: loggingSinks.NewJSON(w, routerCfg.JSON.FlushInterval)})
		}
	}

	router, err := logging.NewRouter(logging.SystemClock{}, routerCfg, named, a.metrics)
	if err != nil {
		if a.events != nil {
			a.events.Close()
		}
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	a.router = router
	return nil
}

// Bot exposes the run control surface, for signal handlers.
func (a *App) Bot() *bot.Bot { return a.bot }

// World exposes the simulated world.
func (a *App) World() *world.Sim { return a.world }

// Metrics exposes the process counters.
func (a *App) Metrics() *logging.Metrics { return a.metrics }

// Run starts the bot and blocks until ctx is done or, without a control
// endpoint, until the bot returns to idle or faults. A fault is returned as an
// error wrapping bot.ErrFaulted. Every component is released before Run
// returns.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Queued before the loop starts: an idle first tick would end the run.
	a.bot.Start()

	g.Go(func() error {
		return a.world.Run(gctx, a.cfg.World.Step)
	})

	interval := a.cfg.Bot.StatusInterval
	exitWhenIdle := a.cfg.Bot.ControlListen == ""
	var lastStatus time.Time
	var fault error
	loop := bot.NewLoop(a.bot, bot.LoopConfig{TickRate: a.cfg.Bot.TickRate}, bot.LoopHooks{
		AfterTick: func(status bot.Status, err error) {
			// Without a control endpoint nothing can restart the bot.
			if exitWhenIdle {
				switch status.Phase {
				case bot.PhaseIdle:
					a.logger.Printf("[app] bot idle after %d runs, shutting down", status.Runs)
					cancel()
					return
				case bot.PhaseFaulted:
					if fault == nil {
						fault = err
						if fault == nil {
							fault = fmt.Errorf("%w: %s", bot.ErrFaulted, status.Fault)
						}
						a.logger.Printf("[app] shutting down: %v", fault)
					}
					cancel()
					return
				}
			}
			if interval <= 0 {
				return
			}
			if now := time.Now(); now.Sub(lastStatus) >= interval {
				lastStatus = now
				a.logStatus(status)
			}
		},
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})

	if a.loader != nil && a.loader.Path() != "" {
		g.Go(func() error {
			err := a.loader.Watch(gctx, a.applyReload, func(err error) {
				a.logger.Printf("[config] reload rejected: %v", err)
			})
			if err != nil {
				a.logger.Printf("[config] hot reload disabled: %v", err)
			}
			return nil
		})
	}

	if addr := a.cfg.Bot.ControlListen; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           NewHTTPHandler(a.bot, HTTPHandlerConfig{Logger: zap.NewStdLog(a.zap), Metrics: a.metrics}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.logger.Printf("[app] control endpoint listening on %s", addr)
		g.Go(func() error {
			return Serve(gctx, srv)
		})
	}

	if a.remote != nil {
		a.client.Reconnect()
	}
	a.logger.Printf("[app] bot started, target zone %q", a.cfg.Bot.TargetZone)

	if err := g.Wait(); err != nil {
		return err
	}
	return fault
}

func (a *App) applyReload(cfg config.Config) {
	if !a.bot.Configure(cfg.Tuning()) {
		a.logger.Printf("[config] reload dropped: control queue full")
		return
	}
	a.logger.Printf("[config] tuning reloaded from %s", a.loader.Path())
}

func (a *App) logStatus(status bot.Status) {
	exits, clicks, keypresses := a.world.Stats()
	a.zap.Info("status",
		zap.Stringer("phase", status.Phase),
		zap.Uint64("tick", status.Tick),
		zap.Int("runs", status.Runs),
		zap.Duration("runtime", status.Runtime),
		zap.Int("pathPoints", status.PathPoints),
		zap.Float64("progress", status.Progress),
		zap.Bool("oracleReady", status.OracleReady),
		zap.String("lastEvent", status.LastEvent),
		zap.Int("exits", exits),
		zap.Int("clicks", clicks),
		zap.Int("keypresses", keypresses),
	)
}

// close releases components in dependency order: the client first so no
// callback outlives the oracle, the router last so shutdown events are
// written.
func (a *App) close() {
	a.client.Close()
	if a.remote != nil {
		if err := a.remote.Close(); err != nil && !errors.Is(err, oracle.ErrClosed) {
			a.logger.Printf("[app] close oracle connection: %v", err)
		}
	}
	if a.grid != nil {
		a.grid.Close()
	}
	if a.router != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.router.Close(ctx); err != nil {
			a.logger.Printf("failed to close logging router: %v", err)
		}
	}
	if a.events != nil {
		a.events.Close()
	}
}

// ServeOracle serves the grid oracle for a scenario over websocket until ctx
// is done. Requests are planned from the origin each client sends.
func ServeOracle(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	scenario := world.DefaultScenario()
	if cfg.World.Scenario != "" {
		loaded, err := world.LoadScenario(cfg.World.Scenario)
		if err != nil {
			return err
		}
		scenario = loaded
	}

	grid := NewGridOracle(cfg, scenario, nil)
	defer grid.Close()

	handler := wsoracle.NewHandler(grid, wsoracle.HandlerConfig{Logger: zap.NewStdLog(logger)})
	srv := &http.Server{
		Addr:              cfg.Oracle.Listen,
		Handler:           wsoracle.NewMux(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("oracle listening",
		zap.String("addr", srv.Addr),
		zap.String("path", wsoracle.DefaultPath),
		zap.String("zone", scenario.Zone.Name),
	)
	return Serve(ctx, srv)
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
		}
		<-errCh
		return nil
	}
}
