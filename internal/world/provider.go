// Package world describes the world-state feed the bot consumes and provides
// a simulated world that implements it.
package world

import (
	"errors"
	"strings"

	"pathpilot/internal/geom"
)

// ErrNoPosition reports that the agent's position is temporarily unknown,
// for example during a zone transition. The tick skips rather than faults.
var ErrNoPosition = errors.New("world: position unavailable")

// Zone identifies the area the agent is in.
type Zone struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Matches reports whether the zone's name or ID contains target, ignoring
// case. An empty target matches nothing.
func (z Zone) Matches(target string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return false
	}
	return strings.Contains(strings.ToLower(z.Name), target) ||
		strings.Contains(strings.ToLower(z.ID), target)
}

// Provider is the world-state feed. Positions and path waypoints share the
// same grid coordinate space.
type Provider interface {
	Position() (geom.Point, error)
	Zone() Zone
	ProjectToSurface(world geom.Point) (geom.Point, error)
	ViewportBounds() geom.Rect
}

// BoundsProvider is implemented by providers that know the extent of the
// current zone.
type BoundsProvider interface {
	ZoneBounds() (geom.Rect, bool)
}

// GridToWorld converts grid coordinates to the renderer's world units.
const GridToWorld = 250.0 / 23.0

// Camera projects grid coordinates onto a viewport centred on a focus point.
type Camera struct {
	Viewport geom.Rect
	// PixelsPerUnit scales renderer world units to surface pixels.
	PixelsPerUnit float64
}

// Project maps a grid point to the surface with the camera centred on focus.
func (c Camera) Project(focus, p geom.Point) geom.Point {
	scale := GridToWorld * c.PixelsPerUnit
	return c.Viewport.Center().Add(p.Sub(focus).Scale(scale))
}

// Unproject is the inverse of Project.
func (c Camera) Unproject(focus, surface geom.Point) geom.Point {
	scale := GridToWorld * c.PixelsPerUnit
	if scale == 0 {
		return focus
	}
	return focus.Add(surface.Sub(c.Viewport.Center()).Scale(1 / scale))
}
