package acquire

import (
	"fmt"
	"math"
	"sort"

	"pathpilot/internal/geom"
	"pathpilot/internal/oracle"
)

// Candidate groups, in descending priority.
const (
	GroupEdge     = "edge"
	GroupCardinal = "cardinal"
	GroupSpiral   = "spiral"
)

var groupBonus = map[string]float64{
	GroupEdge:     0.5,
	GroupCardinal: 0.25,
	GroupSpiral:   0,
}

var compass = [8]string{"east", "southeast", "south", "southwest", "west", "northwest", "north", "northeast"}

// CandidateConfig controls probe generation.
type CandidateConfig struct {
	// Distances are the probe radii for the eight compass directions.
	Distances []float64
	// EdgeFractions place edge probes this far from the agent toward each
	// zone edge.
	EdgeFractions []float64
	SpiralPoints  int
	SpiralStart   float64
	SpiralGrowth  float64
	// EdgeMargin keeps probes this far inside the zone bounds.
	EdgeMargin float64
	// MinDistance drops probes closer than this to the agent.
	MinDistance float64
	MaxFanout   int
}

// DefaultCandidateConfig mirrors the values the bot ships with.
func DefaultCandidateConfig() CandidateConfig {
	return CandidateConfig{
		Distances:     []float64{150, 300, 600},
		EdgeFractions: []float64{0.8, 0.9},
		SpiralPoints:  12,
		SpiralStart:   100,
		SpiralGrowth:  40,
		EdgeMargin:    10,
		MinDistance:   20,
		MaxFanout:     16,
	}
}

// Candidate is a ranked probe goal.
type Candidate struct {
	Target    geom.Point
	Rationale string
	Group     string
	Priority  float64
}

// Request converts the candidate into an oracle request.
func (c Candidate) Request() oracle.CandidateRequest {
	return oracle.CandidateRequest{Target: c.Target, Rationale: c.Rationale}
}

// Probe describes the agent's situation when a round is generated.
type Probe struct {
	Position geom.Point
	// Bounds is the zone rectangle, when known.
	Bounds *geom.Rect
	// Spawn is the first recorded position in the zone, when known.
	Spawn *geom.Point
}

// Suppressor filters targets known to be unreachable.
type Suppressor interface {
	Suppressed(target geom.Point) bool
}

// Generate produces the ranked candidate set for a round and reports how many
// candidates the suppressor removed.
func Generate(cfg CandidateConfig, probe Probe, suppressor Suppressor) ([]Candidate, int) {
	heading, hasHeading := preferredHeading(probe)

	var raw []Candidate
	if probe.Bounds != nil && !probe.Bounds.Empty() {
		raw = append(raw, edgeProbes(cfg, probe.Position, *probe.Bounds)...)
	}
	raw = append(raw, cardinalProbes(cfg, probe.Position)...)
	raw = append(raw, spiralProbes(cfg, probe.Position)...)

	suppressed := 0
	out := make([]Candidate, 0, len(raw))
	for _, c := range raw {
		if probe.Bounds != nil && !probe.Bounds.Empty() {
			inner := probe.Bounds.Inset(cfg.EdgeMargin)
			if inner.Empty() {
				inner = *probe.Bounds
			}
			c.Target = inner.ClampPoint(c.Target)
		}
		if !c.Target.IsFinite() || geom.Distance(c.Target, probe.Position) < cfg.MinDistance {
			continue
		}
		if duplicateOf(out, c.Target) {
			continue
		}
		if suppressor != nil && suppressor.Suppressed(c.Target) {
			suppressed++
			continue
		}
		c.Priority = groupBonus[c.Group]
		if hasHeading {
			c.Priority += 0.5 * c.Target.Sub(probe.Position).Normalize().Dot(heading)
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	if cfg.MaxFanout > 0 && len(out) > cfg.MaxFanout {
		out = out[:cfg.MaxFanout]
	}
	return out, suppressed
}

// preferredHeading points away from spawn when known, otherwise toward the
// zone edge with the most room.
func preferredHeading(probe Probe) (geom.Point, bool) {
	if probe.Spawn != nil {
		away := probe.Position.Sub(*probe.Spawn)
		if away.Len() > 1 {
			return away.Normalize(), true
		}
	}
	if probe.Bounds != nil && !probe.Bounds.Empty() {
		dir, _ := farthestEdge(probe.Position, *probe.Bounds)
		return dir, true
	}
	return geom.Point{}, false
}

type edge struct {
	name string
	dir  geom.Point
	room float64
}

func edges(p geom.Point, b geom.Rect) []edge {
	return []edge{
		{name: "east", dir: geom.Point{X: 1}, room: b.MaxX - p.X},
		{name: "west", dir: geom.Point{X: -1}, room: p.X - b.MinX},
		{name: "south", dir: geom.Point{Y: 1}, room: b.MaxY - p.Y},
		{name: "north", dir: geom.Point{Y: -1}, room: p.Y - b.MinY},
	}
}

func farthestEdge(p geom.Point, b geom.Rect) (geom.Point, float64) {
	best := edges(p, b)[0]
	for _, e := range edges(p, b)[1:] {
		if e.room > best.room {
			best = e
		}
	}
	return best.dir, best.room
}

func edgeProbes(cfg CandidateConfig, p geom.Point, b geom.Rect) []Candidate {
	var out []Candidate
	for _, e := range edges(p, b) {
		if e.room <= 0 {
			continue
		}
		for _, f := range cfg.EdgeFractions {
			out = append(out, Candidate{
				Target:    p.Add(e.dir.Scale(e.room * f)),
				Rationale: fmt.Sprintf("edge %s %.0f%%", e.name, f*100),
				Group:     GroupEdge,
			})
		}
	}
	return out
}

func cardinalProbes(cfg CandidateConfig, p geom.Point) []Candidate {
	var out []Candidate
	for _, d := range cfg.Distances {
		for i, name := range compass {
			angle := float64(i) * math.Pi / 4
			out = append(out, Candidate{
				Target:    geom.Polar(p, angle, d),
				Rationale: fmt.Sprintf("%s %.0f", name, d),
				Group:     GroupCardinal,
			})
		}
	}
	return out
}

// spiralProbes walks an Archimedean spiral, one full turn over SpiralPoints.
func spiralProbes(cfg CandidateConfig, p geom.Point) []Candidate {
	if cfg.SpiralPoints <= 0 {
		return nil
	}
	step := 2 * math.Pi / float64(cfg.SpiralPoints)
	out := make([]Candidate, 0, cfg.SpiralPoints)
	for i := 0; i < cfg.SpiralPoints; i++ {
		radius := cfg.SpiralStart + float64(i)*cfg.SpiralGrowth
		out = append(out, Candidate{
			Target:    geom.Polar(p, float64(i)*step, radius),
			Rationale: fmt.Sprintf("spiral %d", i),
			Group:     GroupSpiral,
		})
	}
	return out
}

func duplicateOf(existing []Candidate, target geom.Point) bool {
	for _, c := range existing {
		if geom.Distance(c.Target, target) < 1 {
			return true
		}
	}
	return false
}
