package bot

import (
	"time"

	"pathpilot/internal/acquire"
	"pathpilot/internal/actuate"
	"pathpilot/internal/pursuit"
	"pathpilot/internal/stuck"
)

// Tuning is the subset of configuration that may change while running.
type Tuning struct {
	Pursuit   pursuit.Config
	Stuck     stuck.Config
	Actuation actuate.Config
	Acquire   acquire.Config
}

// DefaultTuning mirrors the values the bot ships with.
func DefaultTuning() Tuning {
	return Tuning{
		Pursuit:   pursuit.DefaultConfig(),
		Stuck:     stuck.DefaultConfig(),
		Actuation: actuate.DefaultConfig(),
		Acquire:   acquire.DefaultConfig(),
	}
}

type Config struct {
	Tuning

	// TargetZone is matched case-insensitively against the zone name and ID.
	TargetZone string
	// MaxRuns stops the bot after this many completed runs. Zero is unlimited.
	MaxRuns int
	// MaxRuntime stops the bot after this much time since Start. Zero is
	// unlimited.
	MaxRuntime time.Duration
	// OracleRetryInterval spaces reconnect attempts while the oracle is
	// unreachable.
	OracleRetryInterval time.Duration
	// ZoneChangeTimeout is how long AtGoal waits for the zone to change before
	// asking for a continuation path.
	ZoneChangeTimeout time.Duration
	ControlCapacity   int
}

// DefaultConfig mirrors the values the bot ships with.
func DefaultConfig() Config {
	return Config{
		Tuning:              DefaultTuning(),
		TargetZone:          "aqueduct",
		OracleRetryInterval: 2 * time.Second,
		ZoneChangeTimeout:   3 * time.Second,
		ControlCapacity:     32,
	}
}
