package nav

import (
	"time"

	"pathpilot/internal/geom"
)

// State is the single mutable navigation record. Only the tick loop writes it;
// oracle callbacks never touch it directly.
type State struct {
	path   *Path
	cursor int

	LastAcceptedAt         time.Time
	StuckCounter           int
	DuplicateTargetCounter int
	LastTarget             geom.Point
	HasLastTarget          bool
	LastAdvancementAt      time.Time
	Spawn                  *geom.Point
	VisitedZones           map[string]struct{}
}

// NewState returns an empty navigation state.
func NewState() *State {
	return &State{VisitedZones: make(map[string]struct{})}
}

// Path returns the current path, or nil.
func (s *State) Path() *Path { return s.path }

// Cursor returns the index of the waypoint currently being pursued.
func (s *State) Cursor() int { return s.cursor }

// HasPath reports whether a path is installed.
func (s *State) HasPath() bool { return s.path != nil }

// Remaining reports the number of waypoints after the cursor.
func (s *State) Remaining() int {
	if s.path == nil {
		return 0
	}
	return s.path.Len() - 1 - s.cursor
}

// AtEnd reports whether the cursor sits on the final waypoint.
func (s *State) AtEnd() bool {
	return s.path != nil && s.cursor >= s.path.Len()-1
}

// Replace installs a new path atomically and rewinds the cursor.
func (s *State) Replace(p *Path, now time.Time) {
	if p == nil {
		return
	}
	s.path = p
	s.cursor = 0
	s.LastAcceptedAt = now
	s.LastAdvancementAt = now
	s.StuckCounter = 0
	s.DuplicateTargetCounter = 0
	s.HasLastTarget = false
}

// Advance moves the cursor forward by steps, clamped to the final waypoint. It
// returns the number of waypoints actually advanced.
func (s *State) Advance(steps int, now time.Time) int {
	if s.path == nil || steps <= 0 {
		return 0
	}
	last := s.path.Len() - 1
	next := s.cursor + steps
	if next > last {
		next = last
	}
	moved := next - s.cursor
	if moved > 0 {
		s.cursor = next
		s.LastAdvancementAt = now
	}
	return moved
}

// ClearPath discards the current path while keeping session bookkeeping such
// as the spawn position and visited zones.
func (s *State) ClearPath() {
	s.path = nil
	s.cursor = 0
	s.StuckCounter = 0
	s.DuplicateTargetCounter = 0
	s.HasLastTarget = false
}

// Reset wipes the state for a new session.
func (s *State) Reset() {
	s.ClearPath()
	s.LastAcceptedAt = time.Time{}
	s.LastAdvancementAt = time.Time{}
	s.LastTarget = geom.Point{}
	s.Spawn = nil
	s.VisitedZones = make(map[string]struct{})
}

// RecordSpawn remembers the first position observed inside the target zone.
func (s *State) RecordSpawn(p geom.Point) {
	if s.Spawn != nil {
		return
	}
	spawn := p
	s.Spawn = &spawn
}

// VisitZone records that the agent has been in the named zone.
func (s *State) VisitZone(zone string) {
	if s.VisitedZones == nil {
		s.VisitedZones = make(map[string]struct{})
	}
	s.VisitedZones[zone] = struct{}{}
}
