package world

import (
	"math"

	"pathpilot/internal/geom"
)

// moveWithObstacles advances pos toward dir at speed for dt seconds, stopping
// at obstacle edges one axis at a time and clamping to bounds.
func moveWithObstacles(pos, dir geom.Point, dt, speed, radius float64, obstacles []geom.Rect, bounds geom.Rect) geom.Point {
	dir = dir.Normalize()
	delta := dir.Scale(speed * dt)
	inner := bounds.Inset(radius)

	next := pos
	if delta.X != 0 {
		next.X = resolveAxisX(pos, pos.X+delta.X, delta.X, radius, obstacles)
	}
	next.X = geom.Clamp(next.X, inner.MinX, inner.MaxX)
	if delta.Y != 0 {
		next.Y = resolveAxisY(next, pos.Y+delta.Y, delta.Y, radius, obstacles)
	}
	next.Y = geom.Clamp(next.Y, inner.MinY, inner.MaxY)

	return resolvePenetration(next, radius, obstacles, inner)
}

func resolveAxisX(old geom.Point, proposed, delta, radius float64, obstacles []geom.Rect) float64 {
	x := proposed
	for _, obs := range obstacles {
		if old.Y < obs.MinY-radius || old.Y > obs.MaxY+radius {
			continue
		}
		if delta > 0 {
			boundary := obs.MinX - radius
			if old.X <= boundary && x > boundary {
				x = boundary
			}
		} else {
			boundary := obs.MaxX + radius
			if old.X >= boundary && x < boundary {
				x = boundary
			}
		}
	}
	return x
}

func resolveAxisY(old geom.Point, proposed, delta, radius float64, obstacles []geom.Rect) float64 {
	y := proposed
	for _, obs := range obstacles {
		if old.X < obs.MinX-radius || old.X > obs.MaxX+radius {
			continue
		}
		if delta > 0 {
			boundary := obs.MinY - radius
			if old.Y <= boundary && y > boundary {
				y = boundary
			}
		} else {
			boundary := obs.MaxY + radius
			if old.Y >= boundary && y < boundary {
				y = boundary
			}
		}
	}
	return y
}

// resolvePenetration nudges a point out of any obstacle it overlaps.
func resolvePenetration(p geom.Point, radius float64, obstacles []geom.Rect, inner geom.Rect) geom.Point {
	for _, obs := range obstacles {
		closest := obs.ClampPoint(p)
		offset := p.Sub(closest)
		dist := offset.Len()
		if dist >= radius && !obs.Contains(p) {
			continue
		}
		if dist == 0 {
			left := math.Abs(p.X - obs.MinX)
			right := math.Abs(obs.MaxX - p.X)
			top := math.Abs(p.Y - obs.MinY)
			bottom := math.Abs(obs.MaxY - p.Y)
			switch math.Min(math.Min(left, right), math.Min(top, bottom)) {
			case left:
				p.X = obs.MinX - radius
			case right:
				p.X = obs.MaxX + radius
			case top:
				p.Y = obs.MinY - radius
			default:
				p.Y = obs.MaxY + radius
			}
		} else {
			p = p.Add(offset.Scale((radius - dist) / dist))
		}
		p = inner.ClampPoint(p)
	}
	return p
}
