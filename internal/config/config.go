// Package config loads pathpilot settings from flags, PATHPILOT_ environment
// variables, a YAML file and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"pathpilot/internal/acquire"
	"pathpilot/internal/actuate"
	"pathpilot/internal/bot"
	"pathpilot/internal/oracle"
	"pathpilot/internal/pursuit"
	"pathpilot/internal/stuck"
	"pathpilot/logging"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Bot       BotConfig       `mapstructure:"bot" json:"bot,omitempty" yaml:"bot"`
	Pursuit   PursuitConfig   `mapstructure:"pursuit" json:"pursuit,omitempty" yaml:"pursuit"`
	Stuck     StuckConfig     `mapstructure:"stuck" json:"stuck,omitempty" yaml:"stuck"`
	Actuation ActuationConfig `mapstructure:"actuation" json:"actuation,omitempty" yaml:"actuation"`
	Acquire   AcquireConfig   `mapstructure:"acquire" json:"acquire,omitempty" yaml:"acquire"`
	Oracle    OracleConfig    `mapstructure:"oracle" json:"oracle,omitempty" yaml:"oracle"`
	World     WorldConfig     `mapstructure:"world" json:"world,omitempty" yaml:"world"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging,omitempty" yaml:"logging"`
}

type BotConfig struct {
	TargetZone          string        `mapstructure:"targetZone" json:"targetZone,omitempty" yaml:"targetZone" jsonschema:"description=Case-insensitive substring of the zone name or ID to run in"`
	MaxRuns             int           `mapstructure:"maxRuns" json:"maxRuns,omitempty" yaml:"maxRuns" jsonschema:"description=Stop after this many runs; 0 is unlimited"`
	MaxRuntime          time.Duration `mapstructure:"maxRuntime" json:"maxRuntime,omitempty" yaml:"maxRuntime" jsonschema:"type=string,description=Stop after this long; 0 is unlimited"`
	TickRate            int           `mapstructure:"tickRate" json:"tickRate,omitempty" yaml:"tickRate"`
	OracleRetryInterval time.Duration `mapstructure:"oracleRetryInterval" json:"oracleRetryInterval,omitempty" yaml:"oracleRetryInterval" jsonschema:"type=string"`
	ZoneChangeTimeout   time.Duration `mapstructure:"zoneChangeTimeout" json:"zoneChangeTimeout,omitempty" yaml:"zoneChangeTimeout" jsonschema:"type=string"`
	StatusInterval      time.Duration `mapstructure:"statusInterval" json:"statusInterval,omitempty" yaml:"statusInterval" jsonschema:"type=string,description=How often the status line is logged; 0 disables it"`
	ControlListen       string        `mapstructure:"controlListen" json:"controlListen,omitempty" yaml:"controlListen" jsonschema:"description=Address of the HTTP status and control endpoints; empty disables them"`
}

type PursuitConfig struct {
	Radius           float64   `mapstructure:"radius" json:"radius,omitempty" yaml:"radius"`
	ArrivalTolerance float64   `mapstructure:"arrivalTolerance" json:"arrivalTolerance,omitempty" yaml:"arrivalTolerance"`
	GoalTolerance    float64   `mapstructure:"goalTolerance" json:"goalTolerance,omitempty" yaml:"goalTolerance"`
	LookaheadMin     float64   `mapstructure:"lookaheadMin" json:"lookaheadMin,omitempty" yaml:"lookaheadMin"`
	LookaheadMax     int       `mapstructure:"lookaheadMax" json:"lookaheadMax,omitempty" yaml:"lookaheadMax"`
	ShrinkFactors    []float64 `mapstructure:"shrinkFactors" json:"shrinkFactors,omitempty" yaml:"shrinkFactors"`
	SweepAngles      int       `mapstructure:"sweepAngles" json:"sweepAngles,omitempty" yaml:"sweepAngles"`
	SweepFactor      float64   `mapstructure:"sweepFactor" json:"sweepFactor,omitempty" yaml:"sweepFactor"`
}

type StuckConfig struct {
	Window             int     `mapstructure:"window" json:"window,omitempty" yaml:"window"`
	Precision          float64 `mapstructure:"precision" json:"precision,omitempty" yaml:"precision"`
	AdvanceSteps       int     `mapstructure:"advanceSteps" json:"advanceSteps,omitempty" yaml:"advanceSteps"`
	NearEnd            int     `mapstructure:"nearEnd" json:"nearEnd,omitempty" yaml:"nearEnd"`
	RepeatTolerance    float64 `mapstructure:"repeatTolerance" json:"repeatTolerance,omitempty" yaml:"repeatTolerance"`
	RepeatThreshold    int     `mapstructure:"repeatThreshold" json:"repeatThreshold,omitempty" yaml:"repeatThreshold"`
	RepeatAdvance      int     `mapstructure:"repeatAdvance" json:"repeatAdvance,omitempty" yaml:"repeatAdvance"`
	DuplicateTolerance float64 `mapstructure:"duplicateTolerance" json:"duplicateTolerance,omitempty" yaml:"duplicateTolerance"`
	DuplicateThreshold int     `mapstructure:"duplicateThreshold" json:"duplicateThreshold,omitempty" yaml:"duplicateThreshold"`
}

type ActuationConfig struct {
	MinMoveDelay   time.Duration `mapstructure:"minMoveDelay" json:"minMoveDelay,omitempty" yaml:"minMoveDelay" jsonschema:"type=string"`
	MaxMoveDelay   time.Duration `mapstructure:"maxMoveDelay" json:"maxMoveDelay,omitempty" yaml:"maxMoveDelay" jsonschema:"type=string"`
	DelayDistance  float64       `mapstructure:"delayDistance" json:"delayDistance,omitempty" yaml:"delayDistance"`
	Slack          float64       `mapstructure:"slack" json:"slack,omitempty" yaml:"slack"`
	UseMovementKey bool          `mapstructure:"useMovementKey" json:"useMovementKey,omitempty" yaml:"useMovementKey"`
	MovementKey    string        `mapstructure:"movementKey" json:"movementKey,omitempty" yaml:"movementKey"`
}

type AcquireConfig struct {
	StabilityGrace    time.Duration `mapstructure:"stabilityGrace" json:"stabilityGrace,omitempty" yaml:"stabilityGrace" jsonschema:"type=string"`
	Staleness         time.Duration `mapstructure:"staleness" json:"staleness,omitempty" yaml:"staleness" jsonschema:"type=string"`
	Margin            float64       `mapstructure:"margin" json:"margin,omitempty" yaml:"margin"`
	ShorterRatio      float64       `mapstructure:"shorterRatio" json:"shorterRatio,omitempty" yaml:"shorterRatio"`
	RoundTimeout      time.Duration `mapstructure:"roundTimeout" json:"roundTimeout,omitempty" yaml:"roundTimeout" jsonschema:"type=string"`
	RequestInterval   time.Duration `mapstructure:"requestInterval" json:"requestInterval,omitempty" yaml:"requestInterval" jsonschema:"type=string"`
	Distances         []float64     `mapstructure:"distances" json:"distances,omitempty" yaml:"distances"`
	EdgeFractions     []float64     `mapstructure:"edgeFractions" json:"edgeFractions,omitempty" yaml:"edgeFractions"`
	SpiralPoints      int           `mapstructure:"spiralPoints" json:"spiralPoints,omitempty" yaml:"spiralPoints"`
	SpiralStart       float64       `mapstructure:"spiralStart" json:"spiralStart,omitempty" yaml:"spiralStart"`
	SpiralGrowth      float64       `mapstructure:"spiralGrowth" json:"spiralGrowth,omitempty" yaml:"spiralGrowth"`
	EdgeMargin        float64       `mapstructure:"edgeMargin" json:"edgeMargin,omitempty" yaml:"edgeMargin"`
	MinDistance       float64       `mapstructure:"minDistance" json:"minDistance,omitempty" yaml:"minDistance"`
	MaxFanout         int           `mapstructure:"maxFanout" json:"maxFanout,omitempty" yaml:"maxFanout"`
	NegativeCacheSize int           `mapstructure:"negativeCacheSize" json:"negativeCacheSize,omitempty" yaml:"negativeCacheSize"`
	NegativeCacheCell float64       `mapstructure:"negativeCacheCell" json:"negativeCacheCell,omitempty" yaml:"negativeCacheCell"`
	NegativeCacheTTL  time.Duration `mapstructure:"negativeCacheTTL" json:"negativeCacheTTL,omitempty" yaml:"negativeCacheTTL" jsonschema:"type=string"`
}

type OracleConfig struct {
	// URL selects a remote websocket oracle. Empty runs the grid oracle
	// in-process.
	URL            string        `mapstructure:"url" json:"url,omitempty" yaml:"url" jsonschema:"description=ws:// or wss:// endpoint of a remote oracle; empty uses the in-process grid oracle"`
	Listen         string        `mapstructure:"listen" json:"listen,omitempty" yaml:"listen" jsonschema:"description=Address served by 'pathpilot oracle serve'"`
	MaxInFlight    int           `mapstructure:"maxInFlight" json:"maxInFlight,omitempty" yaml:"maxInFlight"`
	Stagger        time.Duration `mapstructure:"stagger" json:"stagger,omitempty" yaml:"stagger" jsonschema:"type=string"`
	QueueCapacity  int           `mapstructure:"queueCapacity" json:"queueCapacity,omitempty" yaml:"queueCapacity"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout" json:"connectTimeout,omitempty" yaml:"connectTimeout" jsonschema:"type=string"`
	CellSize       float64       `mapstructure:"cellSize" json:"cellSize,omitempty" yaml:"cellSize"`
	Latency        time.Duration `mapstructure:"latency" json:"latency,omitempty" yaml:"latency" jsonschema:"type=string"`
}

type WorldConfig struct {
	// Scenario is a YAML scenario file. Empty uses the built-in scenario.
	Scenario string        `mapstructure:"scenario" json:"scenario,omitempty" yaml:"scenario"`
	Step     time.Duration `mapstructure:"step" json:"step,omitempty" yaml:"step" jsonschema:"type=string"`
}

type LoggingConfig struct {
	Sinks        []string      `mapstructure:"sinks" json:"sinks,omitempty" yaml:"sinks" jsonschema:"enum=zap,enum=console,enum=json"`
	Level        string        `mapstructure:"level" json:"level,omitempty" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	BufferSize   int           `mapstructure:"bufferSize" json:"bufferSize,omitempty" yaml:"bufferSize"`
	JSONPath     string        `mapstructure:"jsonPath" json:"jsonPath,omitempty" yaml:"jsonPath"`
	JSONFlush    time.Duration `mapstructure:"jsonFlush" json:"jsonFlush,omitempty" yaml:"jsonFlush" jsonschema:"type=string"`
	ConsoleExtra bool          `mapstructure:"consoleExtra" json:"consoleExtra,omitempty" yaml:"consoleExtra"`
}

// Default mirrors the defaults of every tuned component.
func Default() Config {
	p := pursuit.DefaultConfig()
	s := stuck.DefaultConfig()
	a := actuate.DefaultConfig()
	q := acquire.DefaultConfig()
	b := bot.DefaultConfig()
	return Config{
		Bot: BotConfig{
			TargetZone:          b.TargetZone,
			MaxRuns:             b.MaxRuns,
			MaxRuntime:          b.MaxRuntime,
			TickRate:            20,
			OracleRetryInterval: b.OracleRetryInterval,
			ZoneChangeTimeout:   b.ZoneChangeTimeout,
			StatusInterval:      5 * time.Second,
		},
		Pursuit: PursuitConfig{
			Radius:           p.Radius,
			ArrivalTolerance: p.ArrivalTolerance,
			GoalTolerance:    p.GoalTolerance,
			LookaheadMin:     p.LookaheadMin,
			LookaheadMax:     p.LookaheadMax,
			ShrinkFactors:    p.ShrinkFactors,
			SweepAngles:      p.SweepAngles,
			SweepFactor:      p.SweepFactor,
		},
		Stuck: StuckConfig{
			Window:             s.Window,
			Precision:          s.Precision,
			AdvanceSteps:       s.AdvanceSteps,
			NearEnd:            s.NearEnd,
			RepeatTolerance:    s.RepeatTolerance,
			RepeatThreshold:    s.RepeatThreshold,
			RepeatAdvance:      s.RepeatAdvance,
			DuplicateTolerance: s.DuplicateTolerance,
			DuplicateThreshold: s.DuplicateThreshold,
		},
		Actuation: ActuationConfig{
			MinMoveDelay:   a.MinDelay,
			MaxMoveDelay:   a.MaxDelay,
			DelayDistance:  a.DelayDistance,
			Slack:          a.Slack,
			UseMovementKey: a.UseMovementKey,
			MovementKey:    a.MovementKey,
		},
		Acquire: AcquireConfig{
			StabilityGrace:    q.Policy.StabilityGrace,
			Staleness:         q.Policy.Staleness,
			Margin:            q.Policy.Margin,
			ShorterRatio:      q.Policy.ShorterRatio,
			RoundTimeout:      q.RoundTimeout,
			RequestInterval:   q.RequestInterval,
			Distances:         q.Candidates.Distances,
			EdgeFractions:     q.Candidates.EdgeFractions,
			SpiralPoints:      q.Candidates.SpiralPoints,
			SpiralStart:       q.Candidates.SpiralStart,
			SpiralGrowth:      q.Candidates.SpiralGrowth,
			EdgeMargin:        q.Candidates.EdgeMargin,
			MinDistance:       q.Candidates.MinDistance,
			MaxFanout:         q.Candidates.MaxFanout,
			NegativeCacheSize: q.NegativeCacheSize,
			NegativeCacheCell: q.NegativeCacheCell,
			NegativeCacheTTL:  q.NegativeCacheTTL,
		},
		Oracle: OracleConfig{
			Listen:         ":8090",
			MaxInFlight:    8,
			Stagger:        25 * time.Millisecond,
			QueueCapacity:  128,
			ConnectTimeout: 5 * time.Second,
			CellSize:       20,
		},
		World: WorldConfig{
			Step: 20 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Sinks:      []string{"zap"},
			Level:      "info",
			BufferSize: 512,
			JSONFlush:  2 * time.Second,
		},
	}
}

// Validate reports every invalid setting at once. The error wraps ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Bot.TickRate > 0, "bot.tickRate must be positive, got %d", c.Bot.TickRate)
	check(c.Bot.MaxRuns >= 0, "bot.maxRuns must not be negative, got %d", c.Bot.MaxRuns)
	check(c.Bot.MaxRuntime >= 0, "bot.maxRuntime must not be negative, got %s", c.Bot.MaxRuntime)

	check(c.Pursuit.Radius > 0, "pursuit.radius must be positive, got %g", c.Pursuit.Radius)
	check(c.Pursuit.ArrivalTolerance > 0, "pursuit.arrivalTolerance must be positive, got %g", c.Pursuit.ArrivalTolerance)
	check(c.Pursuit.GoalTolerance > 0, "pursuit.goalTolerance must be positive, got %g", c.Pursuit.GoalTolerance)
	for _, f := range c.Pursuit.ShrinkFactors {
		check(f > 0 && f < 1, "pursuit.shrinkFactors must lie in (0,1), got %g", f)
	}

	check(c.Stuck.Window >= 2, "stuck.window must be at least 2, got %d", c.Stuck.Window)
	check(c.Stuck.Precision > 0, "stuck.precision must be positive, got %g", c.Stuck.Precision)

	check(c.Actuation.MinMoveDelay >= 0, "actuation.minMoveDelay must not be negative")
	check(c.Actuation.MinMoveDelay <= c.Actuation.MaxMoveDelay,
		"actuation.minMoveDelay %s exceeds maxMoveDelay %s", c.Actuation.MinMoveDelay, c.Actuation.MaxMoveDelay)
	check(!c.Actuation.UseMovementKey || c.Actuation.MovementKey != "",
		"actuation.movementKey is required when useMovementKey is set")

	check(c.Acquire.Margin > 0 && c.Acquire.Margin < 1, "acquire.margin must lie in (0,1), got %g", c.Acquire.Margin)
	check(c.Acquire.ShorterRatio > 0 && c.Acquire.ShorterRatio <= 1, "acquire.shorterRatio must lie in (0,1], got %g", c.Acquire.ShorterRatio)
	check(c.Acquire.MaxFanout >= 1, "acquire.maxFanout must be at least 1, got %d", c.Acquire.MaxFanout)
	check(c.Acquire.StabilityGrace >= 0, "acquire.stabilityGrace must not be negative")

	if c.Oracle.URL != "" {
		u, err := url.Parse(c.Oracle.URL)
		check(err == nil && (u.Scheme == "ws" || u.Scheme == "wss"), "oracle.url must be a ws:// or wss:// URL, got %q", c.Oracle.URL)
	}
	check(c.Oracle.CellSize > 0, "oracle.cellSize must be positive, got %g", c.Oracle.CellSize)

	if _, err := logging.ParseSeverity(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	for _, sink := range c.Logging.Sinks {
		check(sink == "zap" || sink == "console" || sink == "json", "logging.sinks: unknown sink %q", sink)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Tuning is the subset applied to a running bot on reload.
func (c Config) Tuning() bot.Tuning {
	return bot.Tuning{
		Pursuit: pursuit.Config{
			Radius:           c.Pursuit.Radius,
			ArrivalTolerance: c.Pursuit.ArrivalTolerance,
			GoalTolerance:    c.Pursuit.GoalTolerance,
			LookaheadMin:     c.Pursuit.LookaheadMin,
			LookaheadMax:     c.Pursuit.LookaheadMax,
			ShrinkFactors:    c.Pursuit.ShrinkFactors,
			SweepAngles:      c.Pursuit.SweepAngles,
			SweepFactor:      c.Pursuit.SweepFactor,
		},
		Stuck: stuck.Config{
			Window:             c.Stuck.Window,
			Precision:          c.Stuck.Precision,
			AdvanceSteps:       c.Stuck.AdvanceSteps,
			NearEnd:            c.Stuck.NearEnd,
			RepeatTolerance:    c.Stuck.RepeatTolerance,
			RepeatThreshold:    c.Stuck.RepeatThreshold,
			RepeatAdvance:      c.Stuck.RepeatAdvance,
			DuplicateTolerance: c.Stuck.DuplicateTolerance,
			DuplicateThreshold: c.Stuck.DuplicateThreshold,
		},
		Actuation: actuate.Config{
			MinDelay:       c.Actuation.MinMoveDelay,
			MaxDelay:       c.Actuation.MaxMoveDelay,
			DelayDistance:  c.Actuation.DelayDistance,
			Slack:          c.Actuation.Slack,
			UseMovementKey: c.Actuation.UseMovementKey,
			MovementKey:    c.Actuation.MovementKey,
		},
		Acquire: acquire.Config{
			Candidates: acquire.CandidateConfig{
				Distances:     c.Acquire.Distances,
				EdgeFractions: c.Acquire.EdgeFractions,
				SpiralPoints:  c.Acquire.SpiralPoints,
				SpiralStart:   c.Acquire.SpiralStart,
				SpiralGrowth:  c.Acquire.SpiralGrowth,
				EdgeMargin:    c.Acquire.EdgeMargin,
				MinDistance:   c.Acquire.MinDistance,
				MaxFanout:     c.Acquire.MaxFanout,
			},
			Policy: acquire.PolicyConfig{
				StabilityGrace: c.Acquire.StabilityGrace,
				Staleness:      c.Acquire.Staleness,
				Margin:         c.Acquire.Margin,
				ShorterRatio:   c.Acquire.ShorterRatio,
			},
			RoundTimeout:      c.Acquire.RoundTimeout,
			RequestInterval:   c.Acquire.RequestInterval,
			NegativeCacheSize: c.Acquire.NegativeCacheSize,
			NegativeCacheCell: c.Acquire.NegativeCacheCell,
			NegativeCacheTTL:  c.Acquire.NegativeCacheTTL,
		},
	}
}

// BotConfig assembles the state machine configuration.
func (c Config) BotConfig() bot.Config {
	cfg := bot.DefaultConfig()
	cfg.Tuning = c.Tuning()
	cfg.TargetZone = c.Bot.TargetZone
	cfg.MaxRuns = c.Bot.MaxRuns
	cfg.MaxRuntime = c.Bot.MaxRuntime
	cfg.OracleRetryInterval = c.Bot.OracleRetryInterval
	cfg.ZoneChangeTimeout = c.Bot.ZoneChangeTimeout
	return cfg
}

// OracleClient assembles the oracle client configuration.
func (c Config) OracleClient() oracle.ClientConfig {
	return oracle.ClientConfig{
		MaxInFlight:    c.Oracle.MaxInFlight,
		Stagger:        c.Oracle.Stagger,
		QueueCapacity:  c.Oracle.QueueCapacity,
		ConnectTimeout: c.Oracle.ConnectTimeout,
	}
}

// Router assembles the event router configuration.
func (c Config) Router() (logging.Config, error) {
	severity, err := logging.ParseSeverity(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = append([]string(nil), c.Logging.Sinks...)
	cfg.MinimumSeverity = severity
	if c.Logging.BufferSize > 0 {
		cfg.BufferSize = c.Logging.BufferSize
	}
	cfg.JSON.FilePath = c.Logging.JSONPath
	if c.Logging.JSONFlush > 0 {
		cfg.JSON.FlushInterval = c.Logging.JSONFlush
	}
	cfg.Console.ShowExtra = c.Logging.ConsoleExtra
	return cfg, nil
}
