// Package geom holds the small amount of planar math shared by the navigation
// components: grid waypoints, world points and axis-aligned rectangles.
package geom

import "math"

// Point is a world or surface coordinate.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Waypoint is an integer grid coordinate as returned by the pathfinding oracle.
type Waypoint struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Point converts the waypoint into world space.
func (w Waypoint) Point() Point {
	return Point{X: float64(w.X), Y: float64(w.Y)}
}

// Round snaps a point onto the waypoint grid.
func Round(p Point) Waypoint {
	return Waypoint{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Scale multiplies both components by s.
func (p Point) Scale(s float64) Point { return Point{X: p.X * s, Y: p.Y * s} }

// Dot returns the dot product of p and q.
func (p Point) Dot(q Point) float64 { return p.X*q.X + p.Y*q.Y }

// Len returns the euclidean length of p.
func (p Point) Len() float64 { return math.Hypot(p.X, p.Y) }

// Normalize returns the unit vector in the direction of p, or the zero vector
// when p has no length.
func (p Point) Normalize() Point {
	l := p.Len()
	if l == 0 {
		return Point{}
	}
	return Point{X: p.X / l, Y: p.Y / l}
}

// IsFinite reports whether neither component is NaN or infinite.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Distance returns the euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Lerp interpolates from a towards b by t.
func Lerp(a, b Point, t float64) Point {
	return Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

// Polar returns the point at the given angle and radius around origin.
func Polar(origin Point, angle, radius float64) Point {
	return Point{X: origin.X + math.Cos(angle)*radius, Y: origin.Y + math.Sin(angle)*radius}
}

// Clamp limits value to the range [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Rect is an axis-aligned rectangle with inclusive bounds.
type Rect struct {
	MinX float64 `json:"minX" yaml:"minX"`
	MinY float64 `json:"minY" yaml:"minY"`
	MaxX float64 `json:"maxX" yaml:"maxX"`
	MaxY float64 `json:"maxY" yaml:"maxY"`
}

// RectXYWH builds a rectangle from an origin and size.
func RectXYWH(x, y, w, h float64) Rect {
	return Rect{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h}
}

// Width reports the horizontal extent.
func (r Rect) Width() float64 { return r.MaxX - r.MinX }

// Height reports the vertical extent.
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Center returns the midpoint of the rectangle.
func (r Rect) Center() Point {
	return Point{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2}
}

// Contains reports whether p lies inside r.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Inset shrinks the rectangle by d on every side. A negative d grows it.
func (r Rect) Inset(d float64) Rect {
	return Rect{MinX: r.MinX + d, MinY: r.MinY + d, MaxX: r.MaxX - d, MaxY: r.MaxY - d}
}

// ClampPoint moves p onto the closest point inside r.
func (r Rect) ClampPoint(p Point) Point {
	return Point{X: Clamp(p.X, r.MinX, r.MaxX), Y: Clamp(p.Y, r.MinY, r.MaxY)}
}
