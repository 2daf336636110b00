package pursuit

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathpilot/internal/geom"
	"pathpilot/internal/nav"
)

func pathOf(points ...[2]int) *nav.Path {
	wps := make([]geom.Waypoint, len(points))
	for i, p := range points {
		wps[i] = geom.Waypoint{X: p[0], Y: p[1]}
	}
	return nav.NewPath(wps, time.Time{}, "test")
}

func navigatorWithRadius(r float64) *Navigator {
	cfg := DefaultConfig()
	cfg.Radius = r
	return New(cfg)
}

func TestIntersect(t *testing.T) {
	cases := []struct {
		name   string
		a, b   geom.Point
		center geom.Point
		r      float64
		want   float64
		ok     bool
	}{
		{name: "forward crossing", a: geom.Point{}, b: geom.Point{X: 100}, center: geom.Point{}, r: 50, want: 50, ok: true},
		{name: "prefers larger parameter", a: geom.Point{}, b: geom.Point{X: 100}, center: geom.Point{X: 50}, r: 20, want: 70, ok: true},
		{name: "only near crossing on segment", a: geom.Point{}, b: geom.Point{X: 60}, center: geom.Point{X: 50}, r: 20, want: 30, ok: true},
		{name: "miss", a: geom.Point{}, b: geom.Point{X: 100}, center: geom.Point{X: 50, Y: 60}, r: 50, ok: false},
		{name: "segment inside circle", a: geom.Point{}, b: geom.Point{X: 10}, center: geom.Point{}, r: 50, ok: false},
		{name: "zero length", a: geom.Point{X: 5}, b: geom.Point{X: 5}, center: geom.Point{}, r: 5, ok: false},
		{name: "tangent", a: geom.Point{Y: 10}, b: geom.Point{X: 100, Y: 10}, center: geom.Point{X: 50}, r: 10, want: 50, ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Intersect(tc.a, tc.b, tc.center, tc.r)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}

func TestFindIntersectionOnFirstSegment(t *testing.T) {
	n := navigatorWithRadius(50)
	path := pathOf([2]int{0, 0}, [2]int{100, 0}, [2]int{200, 0})

	res, ok := n.Find(path, 0, geom.Point{}, nil)
	require.True(t, ok)
	assert.Equal(t, SourceIntersection, res.Source)
	assert.InDelta(t, 50, res.Target.X, 1e-9)
	assert.InDelta(t, 0, res.Target.Y, 1e-9)
	assert.Equal(t, 0, res.SegmentIndex)
	assert.InDelta(t, 50, res.Distance, 1e-9)
}

func TestFindScansForwardFromCursor(t *testing.T) {
	n := navigatorWithRadius(50)
	path := pathOf([2]int{0, 0}, [2]int{100, 0}, [2]int{100, 100}, [2]int{0, 100})

	res, ok := n.Find(path, 2, geom.Point{X: 100, Y: 60}, nil)
	require.True(t, ok)
	assert.Equal(t, 2, res.SegmentIndex)
	assert.InDelta(t, 100-30, res.Target.X, 1e-9, "circle crosses the top segment")
	assert.InDelta(t, 100, res.Target.Y, 1e-9)
}

func TestFindSkipsEntryCrossingBehindAgent(t *testing.T) {
	n := navigatorWithRadius(50)
	path := pathOf([2]int{0, 0}, [2]int{120, 0}, [2]int{120, 200})
	agent := geom.Point{X: 100}

	// The cursor segment ends inside the circle, so its only crossing lies
	// behind the agent.
	back, ok := Intersect(path.At(0), path.At(1), agent, 50)
	require.True(t, ok)
	assert.InDelta(t, 50, back, 1e-9)

	res, ok := n.Find(path, 0, agent, nil)
	require.True(t, ok)
	assert.Equal(t, SourceIntersection, res.Source)
	assert.Equal(t, 1, res.SegmentIndex)
	assert.InDelta(t, 120, res.Target.X, 1e-9)
	assert.InDelta(t, math.Sqrt(50*50-20*20), res.Target.Y, 1e-9)
	assert.Greater(t, res.Target.X, agent.X, "target is not behind the agent")
}

func TestFallbacks(t *testing.T) {
	n := navigatorWithRadius(50)

	t.Run("destination within half radius", func(t *testing.T) {
		path := pathOf([2]int{0, 0}, [2]int{10, 0})
		res, ok := n.Find(path, 0, geom.Point{X: 0, Y: 5}, nil)
		require.True(t, ok)
		assert.Equal(t, SourceDestination, res.Source)
		assert.Equal(t, geom.Point{X: 10}, res.Target)
	})

	t.Run("lookahead picks furthest qualifying waypoint", func(t *testing.T) {
		path := pathOf([2]int{0, 0}, [2]int{0, 1}, [2]int{0, 2}, [2]int{0, 3}, [2]int{0, 400})
		agent := geom.Point{X: 60, Y: 0}
		res, ok := n.Find(path, 0, agent, nil)
		require.True(t, ok)
		assert.Equal(t, SourceLookahead, res.Source)
		assert.Equal(t, 3, res.SegmentIndex)
		assert.Equal(t, geom.Point{X: 0, Y: 3}, res.Target)
	})

	t.Run("path behind agent falls back to cardinal", func(t *testing.T) {
		path := pathOf([2]int{0, 0}, [2]int{10, 0})
		agent := geom.Point{X: 1000, Y: 0}
		res, ok := n.Find(path, 0, agent, nil)
		require.True(t, ok)
		assert.Equal(t, SourceCardinal, res.Source)
		assert.InDelta(t, 950, res.Target.X, 1e-9, "west is closest to the path heading")
		assert.InDelta(t, 0, res.Target.Y, 1e-9)
	})

	t.Run("cardinal skips invisible directions", func(t *testing.T) {
		path := pathOf([2]int{0, 0}, [2]int{10, 0})
		agent := geom.Point{X: 1000, Y: 0}
		onlyNorth := SurfaceFunc(func(p geom.Point) bool { return p.Y < -10 })
		res, ok := n.Find(path, 0, agent, onlyNorth)
		require.True(t, ok)
		assert.Equal(t, SourceCardinal, res.Source)
		assert.Less(t, res.Target.Y, -10.0)
		assert.Less(t, res.Target.X, 1000.0, "northwest beats northeast")
	})

	t.Run("exhausted", func(t *testing.T) {
		path := pathOf([2]int{0, 0}, [2]int{10, 0})
		nothing := SurfaceFunc(func(geom.Point) bool { return false })
		_, ok := n.Find(path, 0, geom.Point{X: 1000}, nothing)
		assert.False(t, ok)
	})
}

func TestSteerShrinksOffSurfaceTarget(t *testing.T) {
	n := navigatorWithRadius(100)
	path := pathOf([2]int{0, 0}, [2]int{1000, 0})
	surface := SurfaceFunc(func(p geom.Point) bool { return p.X <= 65 })

	out := n.Steer(path, 0, geom.Point{}, surface)
	require.True(t, out.Found)
	assert.True(t, out.Adjusted)
	assert.InDelta(t, 60, out.Result.Target.X, 1e-9)
	assert.InDelta(t, 60, out.Result.Distance, 1e-9)
}

func TestSteerSweepsWhenShrinkingFails(t *testing.T) {
	n := navigatorWithRadius(100)
	path := pathOf([2]int{0, 0}, [2]int{1000, 0})
	surface := SurfaceFunc(func(p geom.Point) bool { return p.Y > 10 })

	out := n.Steer(path, 0, geom.Point{}, surface)
	require.True(t, out.Found)
	assert.True(t, out.Adjusted)
	assert.Greater(t, out.Result.Target.Y, 10.0)
	assert.InDelta(t, 50, out.Result.Distance, 1e-9)
}

func TestSteerSkipsWhenNothingVisible(t *testing.T) {
	n := navigatorWithRadius(100)
	path := pathOf([2]int{0, 0}, [2]int{1000, 0})
	out := n.Steer(path, 0, geom.Point{}, SurfaceFunc(func(geom.Point) bool { return false }))
	assert.False(t, out.Found)
	assert.Zero(t, out.Advance)
}

func TestSteerAdvancesPastMidpoint(t *testing.T) {
	n := navigatorWithRadius(50)
	path := pathOf([2]int{0, 0}, [2]int{100, 0}, [2]int{200, 0})

	before := n.Steer(path, 0, geom.Point{X: 40}, nil)
	assert.Zero(t, before.Advance)

	after := n.Steer(path, 0, geom.Point{X: 60}, nil)
	assert.Equal(t, 1, after.Result.SegmentIndex, "entry crossing behind the agent is skipped")
	assert.InDelta(t, 110, after.Result.Target.X, 1e-9)
	assert.Equal(t, 1, after.Advance)
	assert.Equal(t, CauseMidpoint, after.AdvanceCause)
	assert.False(t, after.AtGoal)
}

func TestSteerAdvancesOnArrival(t *testing.T) {
	n := navigatorWithRadius(300)
	path := pathOf([2]int{0, 0}, [2]int{10, 0}, [2]int{0, 20})

	out := n.Steer(path, 0, geom.Point{X: 0, Y: 5}, nil)
	require.True(t, out.Found)
	assert.Equal(t, SourceDestination, out.Result.Source)
	assert.Equal(t, 1, out.Advance)
	assert.Equal(t, CauseArrival, out.AdvanceCause)
}

func TestSteerReportsGoalAtFinalWaypoint(t *testing.T) {
	n := navigatorWithRadius(50)
	path := pathOf([2]int{0, 0}, [2]int{100, 0}, [2]int{200, 0})

	out := n.Steer(path, 2, geom.Point{X: 195}, nil)
	require.True(t, out.Found)
	assert.True(t, out.AtGoal)

	far := n.Steer(path, 2, geom.Point{X: 170}, nil)
	assert.False(t, far.AtGoal)
}

func TestTaperedStep(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 3: 1, 4: 2, 6: 2, 7: 3, 10: 3, 20: 3, 21: 4, 40: 4, 41: 5, 500: 5}
	for remaining, want := range cases {
		assert.Equal(t, want, TaperedStep(remaining), "remaining=%d", remaining)
	}
}
