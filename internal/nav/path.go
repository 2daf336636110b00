// Package nav holds the navigation state owned by the tick loop: the currently
// accepted path, the cursor along it and the bookkeeping used by recovery.
package nav

import (
	"time"

	"pathpilot/internal/geom"
)

// Path is an immutable, non-empty sequence of waypoints accepted at a point in
// time. It is replaced wholesale and never mutated.
type Path struct {
	waypoints  []geom.Waypoint
	acceptedAt time.Time
	source     string
}

// NewPath copies the provided waypoints into a new path. It returns nil for an
// empty sequence.
func NewPath(waypoints []geom.Waypoint, acceptedAt time.Time, source string) *Path {
	if len(waypoints) == 0 {
		return nil
	}
	copied := make([]geom.Waypoint, len(waypoints))
	copy(copied, waypoints)
	return &Path{waypoints: copied, acceptedAt: acceptedAt, source: source}
}

// Len reports the number of waypoints.
func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.waypoints)
}

// At returns the waypoint at index i as a world point. The index is clamped
// into range.
func (p *Path) At(i int) geom.Point {
	if p == nil || len(p.waypoints) == 0 {
		return geom.Point{}
	}
	if i < 0 {
		i = 0
	}
	if i >= len(p.waypoints) {
		i = len(p.waypoints) - 1
	}
	return p.waypoints[i].Point()
}

// Start returns the first waypoint.
func (p *Path) Start() geom.Point { return p.At(0) }

// End returns the final waypoint.
func (p *Path) End() geom.Point { return p.At(p.Len() - 1) }

// AcceptedAt reports when the path was accepted.
func (p *Path) AcceptedAt() time.Time {
	if p == nil {
		return time.Time{}
	}
	return p.acceptedAt
}

// Age reports how long ago the path was accepted.
func (p *Path) Age(now time.Time) time.Duration {
	if p == nil {
		return 0
	}
	return now.Sub(p.acceptedAt)
}

// Source is the rationale of the candidate request that produced the path.
func (p *Path) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Waypoints returns a copy of the underlying waypoints.
func (p *Path) Waypoints() []geom.Waypoint {
	if p == nil {
		return nil
	}
	copied := make([]geom.Waypoint, len(p.waypoints))
	copy(copied, p.waypoints)
	return copied
}
