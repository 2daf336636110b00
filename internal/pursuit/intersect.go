package pursuit

import (
	"math"

	"pathpilot/internal/geom"
)

// Intersect finds where the circle of radius r around center crosses the
// segment a→b. It returns the crossing furthest along the segment, expressed
// as a distance from a, and false when the segment misses the circle or has
// no length.
func Intersect(a, b, center geom.Point, r float64) (float64, bool) {
	seg := b.Sub(a)
	length := seg.Len()
	if length == 0 || r <= 0 {
		return 0, false
	}
	dir := seg.Scale(1 / length)

	// Closest point on the infinite line.
	along := center.Sub(a).Dot(dir)
	closest := a.Add(dir.Scale(along))
	d := geom.Distance(closest, center)
	if d > r {
		return 0, false
	}
	half := math.Sqrt(r*r - d*d)

	for _, t := range [2]float64{along + half, along - half} {
		if t >= 0 && t <= length {
			return t, true
		}
	}
	return 0, false
}
