package acquire

import (
	"math"
	"time"

	"pathpilot/internal/geom"
	"pathpilot/internal/nav"
)

// Decision reasons.
const (
	ReasonNoCurrentPath = "no current path"
	ReasonStale         = "stale replacement"
	ReasonBetterScore   = "better directional score"
	ReasonShorter       = "similar direction, much shorter"
	ReasonGrace         = "within stability grace window"
	ReasonNotBetter     = "does not improve on current path"
	ReasonEmpty         = "empty path"
)

// PolicyConfig tunes the acceptance policy.
type PolicyConfig struct {
	StabilityGrace time.Duration
	Staleness      time.Duration
	Margin         float64
	// ShorterRatio is the length fraction below which a similar-scoring
	// candidate replaces the current path.
	ShorterRatio float64
}

// DefaultPolicyConfig mirrors the values the bot ships with.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		StabilityGrace: 2 * time.Second,
		Staleness:      30 * time.Second,
		Margin:         0.15,
		ShorterRatio:   0.7,
	}
}

// Decision is the outcome of evaluating one candidate path.
type Decision struct {
	Accept bool
	Reason string
	// Scored is set when the directional scores below were computed.
	Scored       bool
	Score        float64
	CurrentScore float64
}

// Policy decides whether a candidate path replaces the current one. It holds
// no state, so evaluating the same candidate twice against the same current
// path always yields the same decision.
type Policy struct {
	cfg PolicyConfig
}

func NewPolicy(cfg PolicyConfig) Policy {
	return Policy{cfg: cfg}
}

// Evaluate applies the acceptance rules in order: empty candidates lose, a
// missing or stale current path is replaced, a young current path is kept
// without scoring, and otherwise the directional scores decide.
func (p Policy) Evaluate(current, candidate *nav.Path, spawn *geom.Point, now time.Time) Decision {
	if candidate.Len() == 0 {
		return Decision{Reason: ReasonEmpty}
	}
	if current == nil {
		return Decision{Accept: true, Reason: ReasonNoCurrentPath}
	}
	age := current.Age(now)
	if p.cfg.Staleness > 0 && age > p.cfg.Staleness {
		return Decision{Accept: true, Reason: ReasonStale}
	}
	if age < p.cfg.StabilityGrace {
		return Decision{Reason: ReasonGrace}
	}

	d := Decision{
		Scored:       true,
		Score:        Score(candidate, spawn),
		CurrentScore: Score(current, spawn),
	}
	switch {
	case d.Score > d.CurrentScore+p.cfg.Margin:
		d.Accept = true
		d.Reason = ReasonBetterScore
	case math.Abs(d.Score-d.CurrentScore) <= p.cfg.Margin &&
		float64(candidate.Len()) < p.cfg.ShorterRatio*float64(current.Len()):
		d.Accept = true
		d.Reason = ReasonShorter
	default:
		d.Reason = ReasonNotBetter
	}
	return d
}

// Score rates how far a path carries the agent away from spawn, with a small
// bonus for length. It is neutral when no spawn is known.
func Score(path *nav.Path, spawn *geom.Point) float64 {
	if spawn == nil || path.Len() == 0 {
		return 0.5
	}
	progress := geom.Distance(*spawn, path.End()) - geom.Distance(*spawn, path.Start())
	bonus := math.Min(float64(path.Len())/500, 0.2)
	return geom.Clamp(0.5+progress/200+bonus, 0, 1)
}
