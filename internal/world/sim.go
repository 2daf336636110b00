package world

import (
	"context"
	"sync"
	"time"

	"pathpilot/internal/geom"
)

// Sim is a simulated world. It is both the bot's world-state feed and its
// actuation sink: clicks set a destination that the agent walks toward on
// every Step. Leaving through the exit moves the agent to town; after the
// re-entry delay it reappears at spawn for the next run.
type Sim struct {
	mu       sync.Mutex
	sc       Scenario
	camera   Camera
	pos      geom.Point
	dest     *geom.Point
	pointer  geom.Point
	inZone   bool
	leftAt   time.Time
	exits    int
	clicks   int
	keypress int
}

func NewSim(sc Scenario) *Sim {
	return &Sim{
		sc:     sc,
		camera: Camera{Viewport: sc.Viewport, PixelsPerUnit: sc.PixelsPerUnit},
		pos:    sc.Spawn,
		inZone: true,
	}
}

// Scenario returns the scenario the sim was built from.
func (s *Sim) Scenario() Scenario { return s.sc }

// Position implements Provider.
func (s *Sim) Position() (geom.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

// Zone implements Provider.
func (s *Sim) Zone() Zone {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inZone {
		return s.sc.Zone
	}
	return s.sc.Town
}

// ZoneBounds implements BoundsProvider.
func (s *Sim) ZoneBounds() (geom.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sc.Bounds, s.inZone
}

// ProjectToSurface implements Provider.
func (s *Sim) ProjectToSurface(p geom.Point) (geom.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera.Project(s.pos, p), nil
}

// ViewportBounds implements Provider.
func (s *Sim) ViewportBounds() geom.Rect { return s.sc.Viewport }

// MoveAndClick sets the walk destination to the clicked surface point.
func (s *Sim) MoveAndClick(_ context.Context, surface geom.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointer = surface
	s.clicks++
	s.setDestinationLocked(surface)
	return nil
}

// MovePointer positions the pointer without moving the agent.
func (s *Sim) MovePointer(_ context.Context, surface geom.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointer = surface
	return nil
}

// PressKey walks toward the pointer, as a bound movement key does.
func (s *Sim) PressKey(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keypress++
	s.setDestinationLocked(s.pointer)
	return nil
}

func (s *Sim) setDestinationLocked(surface geom.Point) {
	if !s.inZone {
		return
	}
	dest := s.sc.Bounds.ClampPoint(s.camera.Unproject(s.pos, surface))
	s.dest = &dest
}

// Step advances the simulation by dt.
func (s *Sim) Step(now time.Time, dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inZone {
		if now.Sub(s.leftAt) >= s.sc.ReentryDelay {
			s.inZone = true
			s.pos = s.sc.Spawn
			s.dest = nil
		}
		return
	}
	if s.dest == nil {
		return
	}

	seconds := dt.Seconds()
	remaining := geom.Distance(s.pos, *s.dest)
	if remaining <= s.sc.Speed*seconds {
		seconds = remaining / s.sc.Speed
	}
	next := moveWithObstacles(s.pos, s.dest.Sub(s.pos), seconds, s.sc.Speed, s.sc.Radius, s.sc.Obstacles, s.sc.Bounds)
	if geom.Distance(next, *s.dest) < 0.5 {
		s.dest = nil
	}
	s.pos = next

	if s.sc.Exit.Contains(s.pos) {
		s.inZone = false
		s.leftAt = now
		s.dest = nil
		s.exits++
	}
}

// Run steps the simulation on a fixed cadence until ctx is done.
func (s *Sim) Run(ctx context.Context, step time.Duration) error {
	if step <= 0 {
		step = 20 * time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Step(now, step)
		}
	}
}

// Stats reports how often the agent left the zone and how many actuations
// it received.
func (s *Sim) Stats() (exits, clicks, keypresses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exits, s.clicks, s.keypress
}

// Teleport moves the agent, clearing any destination.
func (s *Sim) Teleport(p geom.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = p
	s.dest = nil
}
