// Package pursuit picks the next steering point along a path with a
// pure-pursuit circle and decides when the path cursor moves forward.
package pursuit

import (
	"math"

	"pathpilot/internal/geom"
	"pathpilot/internal/nav"
)

// Target sources.
const (
	SourceIntersection = "intersection"
	SourceDestination  = "destination"
	SourceLookahead    = "lookahead"
	SourceCardinal     = "cardinal"
)

// Advancement causes.
const (
	CauseArrival  = "arrival"
	CauseMidpoint = "midpoint"
)

// Surface reports whether a world point lands inside the actuation viewport.
type Surface interface {
	Visible(p geom.Point) bool
}

// SurfaceFunc adapts a function into a Surface.
type SurfaceFunc func(geom.Point) bool

// Visible implements Surface.
func (f SurfaceFunc) Visible(p geom.Point) bool { return f(p) }

type Config struct {
	Radius           float64
	ArrivalTolerance float64
	// GoalTolerance is the distance to the final waypoint that ends the path.
	GoalTolerance float64
	LookaheadMin  float64
	LookaheadMax  int
	// ShrinkFactors are the radius fractions tried, in order, when the target
	// is off the surface.
	ShrinkFactors []float64
	SweepAngles   int
	SweepFactor   float64
}

// DefaultConfig mirrors the values the bot ships with.
func DefaultConfig() Config {
	return Config{
		Radius:           300,
		ArrivalTolerance: 25,
		GoalTolerance:    15,
		LookaheadMin:     20,
		LookaheadMax:     10,
		ShrinkFactors:    []float64{0.8, 0.7, 0.6, 0.5, 0.4, 0.3},
		SweepAngles:      12,
		SweepFactor:      0.5,
	}
}

// Result is the steering point chosen for a tick.
type Result struct {
	Target       geom.Point
	SegmentIndex int
	Distance     float64
	Source       string
}

// Outcome is everything the tick needs from one navigator step.
type Outcome struct {
	Result Result
	// Found is false when every strategy failed; the tick must skip actuation.
	Found bool
	// Adjusted is set when the visibility search moved the target.
	Adjusted bool
	// Advance is the number of waypoints the cursor should move forward.
	Advance      int
	AdvanceCause string
	// AtGoal is set when the agent reached the final waypoint.
	AtGoal bool
}

type Navigator struct {
	cfg Config
}

func New(cfg Config) *Navigator {
	return &Navigator{cfg: cfg}
}

// Config returns the active configuration.
func (n *Navigator) Config() Config { return n.cfg }

// Configure replaces the active configuration.
func (n *Navigator) Configure(cfg Config) { n.cfg = cfg }

// Steer computes the steering target for the agent and the cursor movement it
// implies. A nil surface treats every point as visible.
func (n *Navigator) Steer(path *nav.Path, cursor int, agent geom.Point, surface Surface) Outcome {
	if path.Len() == 0 || !agent.IsFinite() {
		return Outcome{}
	}
	if surface == nil {
		surface = SurfaceFunc(func(geom.Point) bool { return true })
	}

	res, ok := n.Find(path, cursor, agent, surface)
	if !ok {
		return Outcome{}
	}
	out := Outcome{Result: res, Found: true}
	if !surface.Visible(res.Target) {
		target, ok := n.searchVisible(agent, res.Target, surface)
		if !ok {
			return Outcome{}
		}
		out.Result.Target = target
		out.Result.Distance = geom.Distance(agent, target)
		out.Adjusted = true
	}

	out.Advance, out.AdvanceCause = n.advancement(path, cursor, agent, out.Result.Target)
	last := path.Len() - 1
	if min(cursor+out.Advance, last) == last && geom.Distance(agent, path.End()) <= n.cfg.GoalTolerance {
		out.AtGoal = true
	}
	return out
}

// Find scans segments forward from the cursor for a crossing with the
// pursuit circle and falls back to destination, lookahead and cardinal
// targets in that order.
func (n *Navigator) Find(path *nav.Path, cursor int, agent geom.Point, surface Surface) (Result, bool) {
	r := n.cfg.Radius
	last := path.Len() - 1
	if cursor < 0 {
		cursor = 0
	}
	for i := cursor; i < last; i++ {
		a, b := path.At(i), path.At(i+1)
		// A segment ending inside the circle only has its entry crossing;
		// the exit lies further along the path.
		if geom.Distance(agent, b) < r {
			continue
		}
		t, ok := Intersect(a, b, agent, r)
		if !ok {
			continue
		}
		target := a.Add(b.Sub(a).Normalize().Scale(t))
		return Result{Target: target, SegmentIndex: i, Distance: geom.Distance(agent, target), Source: SourceIntersection}, true
	}

	end := path.End()
	if d := geom.Distance(agent, end); d <= r/2 {
		return Result{Target: end, SegmentIndex: last, Distance: d, Source: SourceDestination}, true
	}

	if res, ok := n.lookahead(path, cursor, agent); ok {
		return res, true
	}
	return n.cardinal(path, cursor, agent, surface)
}

// lookahead picks the furthest of the next waypoints that sits a usable
// distance from the agent.
func (n *Navigator) lookahead(path *nav.Path, cursor int, agent geom.Point) (Result, bool) {
	var best Result
	found := false
	for step := 1; step <= n.cfg.LookaheadMax; step++ {
		i := cursor + step
		if i >= path.Len() {
			break
		}
		wp := path.At(i)
		d := geom.Distance(agent, wp)
		if d < n.cfg.LookaheadMin || d > 2*n.cfg.Radius {
			continue
		}
		best = Result{Target: wp, SegmentIndex: i, Distance: d, Source: SourceLookahead}
		found = true
	}
	return best, found
}

// cardinal steps the pursuit radius along whichever of the eight compass
// directions is closest to the heading toward the cursor waypoint.
func (n *Navigator) cardinal(path *nav.Path, cursor int, agent geom.Point, surface Surface) (Result, bool) {
	heading := path.At(cursor).Sub(agent)
	if heading.Len() == 0 {
		heading = path.End().Sub(agent)
	}
	want := math.Atan2(heading.Y, heading.X)

	type option struct {
		angle float64
		gap   float64
	}
	options := make([]option, 8)
	for i := range options {
		angle := float64(i) * math.Pi / 4
		options[i] = option{angle: angle, gap: angleGap(angle, want)}
	}
	for i := 1; i < len(options); i++ {
		for j := i; j > 0 && options[j].gap < options[j-1].gap; j-- {
			options[j], options[j-1] = options[j-1], options[j]
		}
	}
	for _, o := range options {
		target := geom.Polar(agent, o.angle, n.cfg.Radius)
		if surface.Visible(target) {
			return Result{Target: target, SegmentIndex: cursor, Distance: n.cfg.Radius, Source: SourceCardinal}, true
		}
	}
	return Result{}, false
}

func angleGap(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 2*math.Pi)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}

// searchVisible pulls an off-surface target toward the agent, then sweeps
// around it at a reduced radius.
func (n *Navigator) searchVisible(agent, target geom.Point, surface Surface) (geom.Point, bool) {
	dir := target.Sub(agent).Normalize()
	if dir.Len() == 0 {
		dir = geom.Point{X: 1}
	}
	for _, f := range n.cfg.ShrinkFactors {
		p := agent.Add(dir.Scale(n.cfg.Radius * f))
		if surface.Visible(p) {
			return p, true
		}
	}
	if n.cfg.SweepAngles <= 0 {
		return geom.Point{}, false
	}
	base := math.Atan2(dir.Y, dir.X)
	step := 2 * math.Pi / float64(n.cfg.SweepAngles)
	for i := 0; i < n.cfg.SweepAngles; i++ {
		p := geom.Polar(agent, base+float64(i)*step, n.cfg.Radius*n.cfg.SweepFactor)
		if surface.Visible(p) {
			return p, true
		}
	}
	return geom.Point{}, false
}

// advancement reports how far the cursor should move: when the target is
// within arrival tolerance, or the agent has passed the midpoint of the
// current segment.
func (n *Navigator) advancement(path *nav.Path, cursor int, agent, target geom.Point) (int, string) {
	last := path.Len() - 1
	if cursor >= last {
		return 0, ""
	}
	cause := ""
	if geom.Distance(agent, target) < n.cfg.ArrivalTolerance {
		cause = CauseArrival
	} else {
		a, b := path.At(cursor), path.At(cursor+1)
		seg := b.Sub(a)
		if length := seg.Len(); length == 0 {
			cause = CauseMidpoint
		} else if agent.Sub(a).Dot(seg.Scale(1/length)) > length/2 {
			cause = CauseMidpoint
		}
	}
	if cause == "" {
		return 0, ""
	}
	return TaperedStep(last - cursor), cause
}

// TaperedStep is the cursor step for the given number of remaining
// waypoints. It shrinks toward the end of the path to avoid overshooting.
func TaperedStep(remaining int) int {
	switch {
	case remaining <= 0:
		return 0
	case remaining <= 3:
		return 1
	case remaining <= 6:
		return 2
	case remaining <= 20:
		return 3
	case remaining <= 40:
		return 4
	default:
		return 5
	}
}
