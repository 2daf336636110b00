// Package stuck watches the agent for lack of progress and prescribes cursor
// recovery.
package stuck

import (
	"gonum.org/v1/gonum/stat"

	"pathpilot/internal/geom"
)

// Action is the recovery the tick should apply.
type Action int

const (
	ActionNone Action = iota
	// ActionAdvance forces the cursor forward by Verdict.Steps.
	ActionAdvance
	// ActionRepath discards the path and requests a new one.
	ActionRepath
)

func (a Action) String() string {
	switch a {
	case ActionAdvance:
		return "advance"
	case ActionRepath:
		return "repath"
	default:
		return "none"
	}
}

// Triggers.
const (
	TriggerPlateau            = "plateau"
	TriggerRepeatedTarget     = "repeated_target"
	TriggerDuplicateActuation = "duplicate_actuation"
)

type Config struct {
	// Window is the number of consecutive motionless samples that count as
	// stuck.
	Window int
	// Precision is the largest deviation from the window centroid still
	// considered motionless.
	Precision    float64
	AdvanceSteps int
	// NearEnd is the remaining-waypoint count at or below which recovery
	// re-paths instead of advancing.
	NearEnd int

	RepeatTolerance float64
	RepeatThreshold int
	RepeatAdvance   int

	DuplicateTolerance float64
	DuplicateThreshold int
}

// DefaultConfig mirrors the values the bot ships with.
func DefaultConfig() Config {
	return Config{
		Window:             5,
		Precision:          10,
		AdvanceSteps:       3,
		NearEnd:            1,
		RepeatTolerance:    2,
		RepeatThreshold:    8,
		RepeatAdvance:      5,
		DuplicateTolerance: 1,
		DuplicateThreshold: 5,
	}
}

// Verdict is the detector's prescription for one observation.
type Verdict struct {
	Action  Action
	Trigger string
	Steps   int
}

// Detector is driven by the tick loop and is not safe for concurrent use.
type Detector struct {
	cfg Config

	window []geom.Point
	xs, ys []float64

	// latched holds a plateau that already produced its recovery.
	latched bool

	lastTarget geom.Point
	hasTarget  bool
	repeats    int

	lastEmit   geom.Point
	hasEmit    bool
	duplicates int
}

func New(cfg Config) *Detector {
	if cfg.Window < 2 {
		cfg.Window = 2
	}
	return &Detector{cfg: cfg}
}

// Configure replaces the tuning and clears all counters.
func (d *Detector) Configure(cfg Config) {
	*d = *New(cfg)
}

// Count reports the number of consecutive motionless samples.
func (d *Detector) Count() int { return len(d.window) }

// Repeats reports consecutive ticks steering at the same target.
func (d *Detector) Repeats() int { return d.repeats }

// Duplicates reports consecutive actuations at the same surface point.
func (d *Detector) Duplicates() int { return d.duplicates }

// ObservePosition records an agent position. A full motionless window yields
// one recovery per plateau. Movement beyond the precision restarts the window
// and re-arms the trigger.
func (d *Detector) ObservePosition(p geom.Point, remaining int) Verdict {
	d.window = append(d.window, p)
	if d.deviation() >= d.cfg.Precision {
		d.window = append(d.window[:0], p)
		d.latched = false
		return Verdict{}
	}
	if len(d.window) < d.cfg.Window {
		return Verdict{}
	}
	if d.latched {
		d.window = append(d.window[:0], d.window[1:]...)
		return Verdict{}
	}
	d.latched = true
	return d.recover(TriggerPlateau, d.cfg.AdvanceSteps, remaining)
}

// Latched reports whether the current plateau has already been recovered.
func (d *Detector) Latched() bool { return d.latched }

// deviation is the largest distance of a window sample from the centroid.
func (d *Detector) deviation() float64 {
	d.xs = d.xs[:0]
	d.ys = d.ys[:0]
	for _, p := range d.window {
		d.xs = append(d.xs, p.X)
		d.ys = append(d.ys, p.Y)
	}
	centroid := geom.Point{X: stat.Mean(d.xs, nil), Y: stat.Mean(d.ys, nil)}
	worst := 0.0
	for _, p := range d.window {
		if dev := geom.Distance(p, centroid); dev > worst {
			worst = dev
		}
	}
	return worst
}

// ObserveTarget records the steering target chosen this tick.
func (d *Detector) ObserveTarget(target geom.Point, remaining int) Verdict {
	if d.hasTarget && geom.Distance(target, d.lastTarget) <= d.cfg.RepeatTolerance {
		d.repeats++
	} else {
		d.repeats = 0
	}
	d.lastTarget = target
	d.hasTarget = true
	if d.cfg.RepeatThreshold <= 0 || d.repeats < d.cfg.RepeatThreshold {
		return Verdict{}
	}
	d.repeats = 0
	return d.recover(TriggerRepeatedTarget, d.cfg.RepeatAdvance, remaining)
}

// ObserveActuation records a surface point that was actually emitted.
func (d *Detector) ObserveActuation(surface geom.Point, remaining int) Verdict {
	if d.hasEmit && geom.Distance(surface, d.lastEmit) <= d.cfg.DuplicateTolerance {
		d.duplicates++
	} else {
		d.duplicates = 0
	}
	d.lastEmit = surface
	d.hasEmit = true
	if d.cfg.DuplicateThreshold <= 0 || d.duplicates < d.cfg.DuplicateThreshold {
		return Verdict{}
	}
	d.duplicates = 0
	return d.recover(TriggerDuplicateActuation, d.cfg.AdvanceSteps, remaining)
}

func (d *Detector) recover(trigger string, steps, remaining int) Verdict {
	if remaining <= d.cfg.NearEnd {
		return Verdict{Action: ActionRepath, Trigger: trigger}
	}
	return Verdict{Action: ActionAdvance, Trigger: trigger, Steps: min(steps, remaining)}
}

// Reset clears every counter, typically when a new path is installed.
func (d *Detector) Reset() {
	d.window = d.window[:0]
	d.latched = false
	d.hasTarget = false
	d.repeats = 0
	d.hasEmit = false
	d.duplicates = 0
}
