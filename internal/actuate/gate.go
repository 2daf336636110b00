// Package actuate guards the boundary to the external actuator: it validates
// projected points and spaces commands out in time.
package actuate

import (
	"context"
	"time"

	"pathpilot/internal/geom"
	"pathpilot/internal/telemetry"
)

// Sink performs the physical actuation. Calls are fire-and-forget; errors are
// only logged.
type Sink interface {
	MoveAndClick(ctx context.Context, surface geom.Point) error
	PressKey(ctx context.Context, key string) error
}

// PointerMover is implemented by sinks that can position the pointer without
// clicking. It is used by keyboard movement.
type PointerMover interface {
	MovePointer(ctx context.Context, surface geom.Point) error
}

// Projector maps world points onto the actuation surface.
type Projector interface {
	ProjectToSurface(world geom.Point) (geom.Point, error)
	ViewportBounds() geom.Rect
}

// Decision reasons.
const (
	ReasonEmitted     = "emitted"
	ReasonProjection  = "projection failed"
	ReasonNonFinite   = "non-finite"
	ReasonOutOfBounds = "out of bounds"
	ReasonThrottled   = "throttled"
	ReasonSinkError   = "sink error"
)

const (
	metricEmitted  = "actuation_emitted_total"
	metricRejected = "actuation_rejected_total"
	metricFailed   = "actuation_failed_total"
)

type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// DelayDistance is the target distance at which the delay bottoms out.
	DelayDistance float64
	// Slack widens the viewport, as a fraction of its larger side, before a
	// point is rejected as implausible.
	Slack          float64
	UseMovementKey bool
	MovementKey    string
}

// DefaultConfig mirrors the values the bot ships with.
func DefaultConfig() Config {
	return Config{
		MinDelay:      200 * time.Millisecond,
		MaxDelay:      800 * time.Millisecond,
		DelayDistance: 300,
		Slack:         0.5,
		MovementKey:   "T",
	}
}

// Decision reports what the gate did with a submitted target.
type Decision struct {
	Emitted bool
	Reason  string
	Surface geom.Point
	Delay   time.Duration
	Err     error
}

// Gate is driven by the tick loop and is not safe for concurrent use.
type Gate struct {
	cfg     Config
	sink    Sink
	logger  telemetry.Logger
	metrics telemetry.Metrics

	lastAt      time.Time
	lastSurface geom.Point
	hasLast     bool
}

func NewGate(cfg Config, sink Sink, logger telemetry.Logger, metrics telemetry.Metrics) *Gate {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Gate{cfg: cfg, sink: sink, logger: logger, metrics: metrics}
}

// Configure replaces the tuning without forgetting the last emission.
func (g *Gate) Configure(cfg Config) { g.cfg = cfg }

// Delay is the minimum spacing before the next command for a target at the
// given distance: long hops go out quickly, short corrections wait longer.
func (g *Gate) Delay(distance float64) time.Duration {
	span := g.cfg.MaxDelay - g.cfg.MinDelay
	if span <= 0 || g.cfg.DelayDistance <= 0 {
		return g.cfg.MinDelay
	}
	frac := geom.Clamp(distance/g.cfg.DelayDistance, 0, 1)
	return g.cfg.MaxDelay - time.Duration(float64(span)*frac)
}

// Submit validates the world target and emits it through the sink when the
// delay since the previous command has elapsed.
func (g *Gate) Submit(ctx context.Context, now time.Time, world geom.Point, distance float64, proj Projector) Decision {
	surface, err := proj.ProjectToSurface(world)
	if err != nil {
		g.metrics.Add(metricRejected, 1)
		return Decision{Reason: ReasonProjection, Err: err}
	}
	if !surface.IsFinite() {
		g.metrics.Add(metricRejected, 1)
		return Decision{Reason: ReasonNonFinite, Surface: surface}
	}
	if !g.plausible(surface, proj.ViewportBounds()) {
		g.metrics.Add(metricRejected, 1)
		return Decision{Reason: ReasonOutOfBounds, Surface: surface}
	}

	delay := g.Delay(distance)
	if g.hasLast && now.Sub(g.lastAt) < delay {
		return Decision{Reason: ReasonThrottled, Surface: surface, Delay: delay}
	}

	err = g.emit(ctx, surface)
	g.lastAt = now
	g.lastSurface = surface
	g.hasLast = true
	if err != nil {
		g.metrics.Add(metricFailed, 1)
		g.logger.Printf("[actuate] emit at (%.0f, %.0f) failed: %v", surface.X, surface.Y, err)
		return Decision{Reason: ReasonSinkError, Surface: surface, Delay: delay, Err: err}
	}
	g.metrics.Add(metricEmitted, 1)
	return Decision{Emitted: true, Reason: ReasonEmitted, Surface: surface, Delay: delay}
}

func (g *Gate) plausible(surface geom.Point, viewport geom.Rect) bool {
	if viewport.Empty() {
		return true
	}
	slack := g.cfg.Slack * max(viewport.Width(), viewport.Height())
	return viewport.Inset(-slack).Contains(surface)
}

func (g *Gate) emit(ctx context.Context, surface geom.Point) error {
	if !g.cfg.UseMovementKey || g.cfg.MovementKey == "" {
		return g.sink.MoveAndClick(ctx, surface)
	}
	if mover, ok := g.sink.(PointerMover); ok {
		if err := mover.MovePointer(ctx, surface); err != nil {
			return err
		}
	}
	return g.sink.PressKey(ctx, g.cfg.MovementKey)
}

// Last reports the most recent emission.
func (g *Gate) Last() (geom.Point, time.Time, bool) {
	return g.lastSurface, g.lastAt, g.hasLast
}

// Reset forgets the last emission so the next command goes out immediately.
func (g *Gate) Reset() {
	g.hasLast = false
	g.lastAt = time.Time{}
	g.lastSurface = geom.Point{}
}
