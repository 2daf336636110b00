package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: bot.targetZone is read from
// PATHPILOT_BOT_TARGETZONE.
const EnvPrefix = "PATHPILOT"

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"zone":             "bot.targetZone",
	"max-runs":         "bot.maxRuns",
	"max-runtime":      "bot.maxRuntime",
	"tick-rate":        "bot.tickRate",
	"control-listen":   "bot.controlListen",
	"radius":           "pursuit.radius",
	"use-movement-key": "actuation.useMovementKey",
	"movement-key":     "actuation.movementKey",
	"oracle":           "oracle.url",
	"listen":           "oracle.listen",
	"scenario":         "world.scenario",
	"log-level":        "logging.level",
	"log-sinks":        "logging.sinks",
}

// BindFlags registers the command-line overrides on fs.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("zone", d.Bot.TargetZone, "target zone name or ID substring")
	fs.Int("max-runs", d.Bot.MaxRuns, "stop after this many runs (0 = unlimited)")
	fs.Duration("max-runtime", d.Bot.MaxRuntime, "stop after this long (0 = unlimited)")
	fs.Int("tick-rate", d.Bot.TickRate, "control ticks per second")
	fs.String("control-listen", d.Bot.ControlListen, "address of the HTTP status and control endpoints")
	fs.Float64("radius", d.Pursuit.Radius, "pure-pursuit radius in grid units")
	fs.Bool("use-movement-key", d.Actuation.UseMovementKey, "move with a key press instead of a click")
	fs.String("movement-key", d.Actuation.MovementKey, "key pressed when --use-movement-key is set")
	fs.String("oracle", d.Oracle.URL, "websocket oracle URL (empty = in-process grid oracle)")
	fs.String("listen", d.Oracle.Listen, "address served by the oracle server")
	fs.String("scenario", d.World.Scenario, "simulated world scenario file")
	fs.String("log-level", d.Logging.Level, "minimum event severity")
	fs.StringSlice("log-sinks", d.Logging.Sinks, "event sinks: zap, console, json")
}

// Loader resolves configuration and can re-read its file. It is safe for
// concurrent use.
type Loader struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewLoader layers flags (may be nil), environment, the file at path (may be
// empty) and defaults.
func NewLoader(path string, flags *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	for key, value := range defaults(Default()) {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	l := &Loader{v: v, path: path}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return l, nil
}

// Load is NewLoader followed by Config.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	l, err := NewLoader(path, flags)
	if err != nil {
		return Config{}, err
	}
	return l.Config()
}

// Path returns the config file in use, if any.
func (l *Loader) Path() string { return l.path }

// Config decodes and validates the current settings.
func (l *Loader) Config() (Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decodeLocked()
}

// Settings returns the merged settings as a nested map.
func (l *Loader) Settings() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v.AllSettings()
}

// Reload re-reads the config file.
func (l *Loader) Reload() (Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reload config %s: %w", l.path, err)
		}
	}
	return l.decodeLocked()
}

func (l *Loader) decodeLocked() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch reloads the config file whenever it changes and hands every valid
// result to onChange. Invalid edits go to onError and the previous settings
// stay in force. Watch blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, onChange func(Config), onError func(error)) error {
	if l.path == "" {
		return errors.New("config: no file to watch")
	}
	if onError == nil {
		onError = func(error) {}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(l.path)
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := l.Reload()
			if err != nil {
				onError(err)
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onError(fmt.Errorf("watch config: %w", err))
		}
	}
}

// defaults flattens a Config into viper keys. Durations are written as
// strings so that Settings renders them readably.
func defaults(d Config) map[string]any {
	return map[string]any{
		"bot.targetZone":          d.Bot.TargetZone,
		"bot.maxRuns":             d.Bot.MaxRuns,
		"bot.maxRuntime":          d.Bot.MaxRuntime.String(),
		"bot.tickRate":            d.Bot.TickRate,
		"bot.oracleRetryInterval": d.Bot.OracleRetryInterval.String(),
		"bot.zoneChangeTimeout":   d.Bot.ZoneChangeTimeout.String(),
		"bot.statusInterval":      d.Bot.StatusInterval.String(),
		"bot.controlListen":       d.Bot.ControlListen,

		"pursuit.radius":           d.Pursuit.Radius,
		"pursuit.arrivalTolerance": d.Pursuit.ArrivalTolerance,
		"pursuit.goalTolerance":    d.Pursuit.GoalTolerance,
		"pursuit.lookaheadMin":     d.Pursuit.LookaheadMin,
		"pursuit.lookaheadMax":     d.Pursuit.LookaheadMax,
		"pursuit.shrinkFactors":    d.Pursuit.ShrinkFactors,
		"pursuit.sweepAngles":      d.Pursuit.SweepAngles,
		"pursuit.sweepFactor":      d.Pursuit.SweepFactor,

		"stuck.window":             d.Stuck.Window,
		"stuck.precision":          d.Stuck.Precision,
		"stuck.advanceSteps":       d.Stuck.AdvanceSteps,
		"stuck.nearEnd":            d.Stuck.NearEnd,
		"stuck.repeatTolerance":    d.Stuck.RepeatTolerance,
		"stuck.repeatThreshold":    d.Stuck.RepeatThreshold,
		"stuck.repeatAdvance":      d.Stuck.RepeatAdvance,
		"stuck.duplicateTolerance": d.Stuck.DuplicateTolerance,
		"stuck.duplicateThreshold": d.Stuck.DuplicateThreshold,

		"actuation.minMoveDelay":   d.Actuation.MinMoveDelay.String(),
		"actuation.maxMoveDelay":   d.Actuation.MaxMoveDelay.String(),
		"actuation.delayDistance":  d.Actuation.DelayDistance,
		"actuation.slack":          d.Actuation.Slack,
		"actuation.useMovementKey": d.Actuation.UseMovementKey,
		"actuation.movementKey":    d.Actuation.MovementKey,

		"acquire.stabilityGrace":    d.Acquire.StabilityGrace.String(),
		"acquire.staleness":         d.Acquire.Staleness.String(),
		"acquire.margin":            d.Acquire.Margin,
		"acquire.shorterRatio":      d.Acquire.ShorterRatio,
		"acquire.roundTimeout":      d.Acquire.RoundTimeout.String(),
		"acquire.requestInterval":   d.Acquire.RequestInterval.String(),
		"acquire.distances":         d.Acquire.Distances,
		"acquire.edgeFractions":     d.Acquire.EdgeFractions,
		"acquire.spiralPoints":      d.Acquire.SpiralPoints,
		"acquire.spiralStart":       d.Acquire.SpiralStart,
		"acquire.spiralGrowth":      d.Acquire.SpiralGrowth,
		"acquire.edgeMargin":        d.Acquire.EdgeMargin,
		"acquire.minDistance":       d.Acquire.MinDistance,
		"acquire.maxFanout":         d.Acquire.MaxFanout,
		"acquire.negativeCacheSize": d.Acquire.NegativeCacheSize,
		"acquire.negativeCacheCell": d.Acquire.NegativeCacheCell,
		"acquire.negativeCacheTTL":  d.Acquire.NegativeCacheTTL.String(),

		"oracle.url":            d.Oracle.URL,
		"oracle.listen":         d.Oracle.Listen,
		"oracle.maxInFlight":    d.Oracle.MaxInFlight,
		"oracle.stagger":        d.Oracle.Stagger.String(),
		"oracle.queueCapacity":  d.Oracle.QueueCapacity,
		"oracle.connectTimeout": d.Oracle.ConnectTimeout.String(),
		"oracle.cellSize":       d.Oracle.CellSize,
		"oracle.latency":        d.Oracle.Latency.String(),

		"world.scenario": d.World.Scenario,
		"world.step":     d.World.Step.String(),

		"logging.sinks":        d.Logging.Sinks,
		"logging.level":        d.Logging.Level,
		"logging.bufferSize":   d.Logging.BufferSize,
		"logging.jsonPath":     d.Logging.JSONPath,
		"logging.jsonFlush":    d.Logging.JSONFlush.String(),
		"logging.consoleExtra": d.Logging.ConsoleExtra,
	}
}
